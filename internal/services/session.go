package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/abrezinsky/chanpoll/internal/logger"
	"github.com/abrezinsky/chanpoll/internal/models"
	"github.com/abrezinsky/chanpoll/internal/observability"
)

// occurrenceBuffer sizes each session's delivery queue. Delivery blocks
// once the queue is full, which preserves per-session ordering.
const occurrenceBuffer = 64

// PollFlags are the behavior switches a session is created with
type PollFlags struct {
	OnlyOnlineUsersCount  bool
	OnlyRegisteredMayVote bool
	ForbidPrefixedChoices bool
}

// VoteSession drives one channel's poll from start to report. It owns the
// ballot and voter roll outright; all mutation happens on its goroutine in
// response to delivered occurrences, so neither needs locking.
//
// The session holds no cancellation primitive. On every wakeup it re-reads
// its registry slot before acting: an absent slot means the poll was
// aborted (exit without reporting), an ending-early marker means report now
// with current tallies, and a foreign token means a newer session owns the
// channel (exit without reporting). A session must never assume its token
// is still valid across a suspension.
type VoteSession struct {
	channel  string
	token    uint64
	duration time.Duration
	started  time.Time
	flags    PollFlags

	ballot *Ballot
	roll   *VoterRoll

	registry *Registry
	out      LineSender
	log      logger.Logger
	metrics  *observability.Metrics

	// onExit detaches the session from the dispatcher and the poll
	// service's bookkeeping. Set before the goroutine launches.
	onExit func()

	occ  chan models.Occurrence
	done chan struct{}
}

func newVoteSession(
	channel string,
	token uint64,
	duration time.Duration,
	flags PollFlags,
	ballot *Ballot,
	registry *Registry,
	out LineSender,
	log logger.Logger,
	metrics *observability.Metrics,
) *VoteSession {
	return &VoteSession{
		channel:  channel,
		token:    token,
		duration: duration,
		started:  time.Now(),
		flags:    flags,
		ballot:   ballot,
		roll:     NewVoterRoll(),
		registry: registry,
		out:      out,
		log:      log,
		metrics:  metrics,
		occ:      make(chan models.Occurrence, occurrenceBuffer),
		done:     make(chan struct{}),
	}
}

// Channel returns the channel this session is bound to
func (s *VoteSession) Channel() string { return s.channel }

// Token returns the session's registry token
func (s *VoteSession) Token() uint64 { return s.token }

// StartedAt returns when the session was created
func (s *VoteSession) StartedAt() time.Time { return s.started }

// Deadline returns when the poll naturally times out
func (s *VoteSession) Deadline() time.Time { return s.started.Add(s.duration) }

// Choices returns the ballot's display names in declaration order
func (s *VoteSession) Choices() []string { return s.ballot.Displays() }

// Done is closed once the session has terminated
func (s *VoteSession) Done() <-chan struct{} { return s.done }

// Deliver queues an occurrence for the session. Returns false if the
// session has already terminated; delivery never blocks forever.
func (s *VoteSession) Deliver(o models.Occurrence) bool {
	select {
	case s.occ <- o:
		return true
	case <-s.done:
		return false
	}
}

// run is the session loop. One iteration per wakeup: pull the next
// occurrence (or the deadline fire), re-read the registry slot, then act.
func (s *VoteSession) run() {
	deadline := time.NewTimer(s.duration)
	defer deadline.Stop()

	// done closes before onExit runs, so pending Deliver calls unblock
	// before the session detaches from the dispatcher.
	defer s.onExit()
	defer close(s.done)

	for {
		var o models.Occurrence
		select {
		case <-deadline.C:
			// o stays nil: the deadline itself is the report signal
		case o = <-s.occ:
			// A bare fire with no payload is the report signal, same as
			// the deadline elapsing.
			if tf, isFire := o.(models.TimerFire); isFire && tf.Reminder == nil {
				o = nil
			}
		}

		entry, ok := s.registry.Lookup(s.channel)
		switch {
		case !ok:
			// Aborted: exit silently, nothing to release.
			s.log.Info("poll aborted", "channel", s.channel, "token", s.token)
			s.finish(observability.OutcomeAborted)
			return

		case entry.State == EntryEndingEarly:
			s.report()
			s.registry.Release(s.channel, s.token)
			s.finish(observability.OutcomeEndedEarly)
			return

		case entry.State == EntryActive && entry.Token != s.token:
			// A newer session owns the channel. Do not touch its slot.
			s.log.Info("poll superseded", "channel", s.channel, "token", s.token, "by", entry.Token)
			s.finish(observability.OutcomeSuperseded)
			return

		case entry.State == EntryActive:
			if o == nil {
				s.report()
				s.registry.Release(s.channel, s.token)
				s.finish(observability.OutcomeCompleted)
				return
			}
			if err := s.handle(o); err != nil {
				// Invariant break: abort this session only, never the
				// dispatcher or other sessions.
				s.log.Error("poll session invariant violated", "channel", s.channel, "token", s.token, "error", err)
				s.registry.Release(s.channel, s.token)
				s.finish(observability.OutcomeAborted)
				return
			}

		default:
			s.log.Error("poll registry slot in unknown state", "channel", s.channel, "state", entry.State)
			s.registry.Release(s.channel, s.token)
			s.finish(observability.OutcomeAborted)
			return
		}
	}
}

// handle processes one occurrence while the session's token is confirmed
// live. A non-nil error signals an invariant break.
func (s *VoteSession) handle(o models.Occurrence) error {
	switch occ := o.(type) {
	case models.ChatMessage:
		s.handleChat(occ)

	case models.Rename:
		s.roll.Migrate(occ.OldNick, occ.NewNick)

	case models.AccountResolved:
		s.roll.Migrate(occ.Nickname, occ.Account)

	case models.Departure:
		if s.flags.OnlyOnlineUsersCount {
			key := IdentityKey(occ.Sender)
			if choice, voted := s.roll.Forget(key); voted {
				s.ballot.Uncount(choice)
				s.log.Debug("departed voter uncounted", "channel", s.channel, "identity", key, "choice", choice)
			}
		}

	case models.TimerFire:
		// Payload-less fires were normalized away in run; only reminder
		// fires reach here.
		s.remind(occ.Reminder.Remaining)

	default:
		return fmt.Errorf("unsubscribed occurrence type %T", o)
	}

	return nil
}

// handleChat counts a vote if the message is one, silently ignoring
// anything else: multi-word chatter, unknown choices, revotes, and (when
// configured) unregistered senders.
func (s *VoteSession) handleChat(m models.ChatMessage) {
	text := strings.TrimSpace(m.Text)
	if text == "" || strings.ContainsRune(text, ' ') {
		return
	}
	if s.flags.OnlyRegisteredMayVote && m.Sender.Level < models.LevelRegistered {
		return
	}

	key := IdentityKey(m.Sender)
	if s.roll.HasVoted(key) {
		return
	}

	choiceKey := strings.ToLower(text)
	if !s.ballot.Cast(choiceKey) {
		return
	}

	s.roll.Record(key, choiceKey)
	s.metrics.VotesCast.Inc()
	s.log.Debug("vote recorded", "channel", s.channel, "identity", key, "choice", choiceKey)
}

// remind emits a time-remaining line listing all choices
func (s *VoteSession) remind(remaining time.Duration) {
	line := fmt.Sprintf("%s left in the poll! Cast a vote for one of: %s",
		FormatRemaining(remaining), strings.Join(s.ballot.Displays(), ", "))
	s.out.SendLine(s.channel, line)
	s.metrics.RemindersFired.Inc()
}

// report emits the final results to the channel
func (s *VoteSession) report() {
	for _, line := range s.ballot.ReportLines() {
		s.out.SendLine(s.channel, line)
	}
	s.log.Info("poll reported", "channel", s.channel, "token", s.token,
		"votes", s.ballot.Total(), "voters", s.roll.Count())
}

func (s *VoteSession) finish(outcome string) {
	s.metrics.ActivePolls.Dec()
	s.metrics.PollsFinished.WithLabelValues(outcome).Inc()
}

// Wait terminates only when the session has exited, for tests and
// shutdown paths that need to observe completion.
func (s *VoteSession) Wait(timeout time.Duration) bool {
	select {
	case <-s.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
