package models

import "time"

// Level is a sender's permission level as reported by the transport.
// Levels are ordered; a higher level implies every lower one.
type Level int

const (
	LevelAnyone Level = iota
	LevelRegistered
	LevelOperator
	LevelAdmin
)

// String returns the lowercase name of the level
func (l Level) String() string {
	switch l {
	case LevelAnyone:
		return "anyone"
	case LevelRegistered:
		return "registered"
	case LevelOperator:
		return "operator"
	case LevelAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Sender identifies who produced a chat occurrence. Account is empty when
// the transport has not resolved the nickname to a known account.
type Sender struct {
	Nickname string `json:"nickname"`
	Account  string `json:"account,omitempty"`
	Level    Level  `json:"level"`
}

// Occurrence is any externally delivered event a vote session may react to
type Occurrence interface {
	OccurredAt() time.Time
}

// ChatMessage is a line of text spoken in a channel
type ChatMessage struct {
	At      time.Time
	Channel string
	Sender  Sender
	Text    string
}

func (o ChatMessage) OccurredAt() time.Time { return o.At }

// Rename signals that a user changed nickname
type Rename struct {
	At      time.Time
	OldNick string
	NewNick string
}

func (o Rename) OccurredAt() time.Time { return o.At }

// AccountResolved signals that a nickname logged into a known account
type AccountResolved struct {
	At       time.Time
	Nickname string
	Account  string
}

func (o AccountResolved) OccurredAt() time.Time { return o.At }

// Departure signals that a user left a channel (part or quit)
type Departure struct {
	At      time.Time
	Channel string
	Sender  Sender
}

func (o Departure) OccurredAt() time.Time { return o.At }

// Reminder is the payload carried by scheduled reminder fires. Remaining is
// how much poll time is left at the instant the fire was scheduled for.
type Reminder struct {
	Remaining time.Duration
}

// TimerFire is a scheduled wakeup for one session. A nil Reminder means the
// poll deadline (or an early end) and makes the session report immediately.
type TimerFire struct {
	At       time.Time
	Channel  string
	Token    uint64
	Reminder *Reminder
}

func (o TimerFire) OccurredAt() time.Time { return o.At }
