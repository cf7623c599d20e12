package services

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/abrezinsky/chanpoll/internal/dispatch"
	"github.com/abrezinsky/chanpoll/internal/errors"
	"github.com/abrezinsky/chanpoll/internal/logger"
	"github.com/abrezinsky/chanpoll/internal/models"
	"github.com/abrezinsky/chanpoll/internal/observability"
)

// SessionDispatcher is the occurrence fan-out the poll service attaches
// sessions to. Satisfied by dispatch.Dispatcher.
type SessionDispatcher interface {
	Register(t dispatch.Target)
	Unregister(t dispatch.Target)
}

// PollService is the command surface for channel polls: start, abort, end
// early, and status snapshots. All outward failures are kinded errors with
// user-facing messages; nothing here panics into the caller.
type PollService struct {
	log      logger.Logger
	registry *Registry
	disp     SessionDispatcher
	out      LineSender
	sched    Scheduler
	flags    PollFlags
	prefix   string
	metrics  *observability.Metrics

	mu       sync.Mutex
	sessions map[string]*VoteSession
}

// NewPollService creates a new PollService
func NewPollService(
	log logger.Logger,
	registry *Registry,
	disp SessionDispatcher,
	out LineSender,
	sched Scheduler,
	flags PollFlags,
	prefix string,
	metrics *observability.Metrics,
) *PollService {
	return &PollService{
		log:      log,
		registry: registry,
		disp:     disp,
		out:      out,
		sched:    sched,
		flags:    flags,
		prefix:   prefix,
		metrics:  metrics,
		sessions: make(map[string]*VoteSession),
	}
}

// ParseDuration parses a poll duration argument. A bare integer is taken
// as seconds; anything else must be Go duration syntax such as "1h30m".
// The result must be positive.
func ParseDuration(arg string) (time.Duration, error) {
	var d time.Duration
	if secs, err := strconv.Atoi(arg); err == nil {
		d = time.Duration(secs) * time.Second
	} else {
		parsed, err := time.ParseDuration(arg)
		if err != nil {
			return 0, errors.Durationf("Cannot make sense of duration %q.", arg)
		}
		d = parsed
	}

	if d <= 0 {
		return 0, errors.Duration("The poll duration must be positive.")
	}
	return d, nil
}

// Start validates and launches a new poll in the channel. On success the
// session goroutine is running, reminders are armed and an acknowledgement
// line has been sent. The returned error is a Usage, Duration or Conflict
// kind; in every error case no session was created.
func (p *PollService) Start(channel, durationArg string, choiceArgs []string) error {
	if durationArg == "" || len(choiceArgs) == 0 {
		return errors.Usage("Usage: <duration> <choice1> <choice2> [choices...]")
	}

	duration, err := ParseDuration(durationArg)
	if err != nil {
		return err
	}

	ballot, err := NewBallot(choiceArgs, p.prefix, p.flags.ForbidPrefixedChoices)
	if err != nil {
		return err
	}

	token, err := p.registry.Start(channel)
	if err != nil {
		return err
	}

	s := newVoteSession(channel, token, duration, p.flags, ballot, p.registry, p.out, p.log, p.metrics)
	s.onExit = func() {
		p.disp.Unregister(s)
		p.forget(channel, s)
	}

	p.mu.Lock()
	p.sessions[channel] = s
	p.mu.Unlock()

	p.disp.Register(s)
	ScheduleReminders(p.sched, duration, channel, token, func(tf models.TimerFire) {
		s.Deliver(tf)
	})

	p.metrics.ActivePolls.Inc()
	go s.run()

	p.log.Info("poll started", "channel", channel, "token", token,
		"duration", duration, "choices", len(choiceArgs))
	p.out.SendLine(channel, fmt.Sprintf("Voting commenced! Ends in %s. Cast a vote for one of: %s",
		FormatRemaining(duration), strings.Join(ballot.Displays(), ", ")))
	return nil
}

// Abort cancels the channel's poll without a report. The registry slot is
// freed immediately; the session goroutine notices on its next wakeup and
// exits silently.
func (p *PollService) Abort(channel string) error {
	// Capture the session before freeing the slot: a new poll may claim
	// the channel the instant the slot is gone, and the wakeup must only
	// ever reach the session being cancelled.
	s := p.lookup(channel)
	if err := p.registry.Abort(channel); err != nil {
		return err
	}
	p.wake(channel, s)
	p.out.SendLine(channel, "The poll was aborted.")
	return nil
}

// End makes the channel's poll report immediately with current tallies.
// The session itself performs the report and cleanup.
func (p *PollService) End(channel string) error {
	s := p.lookup(channel)
	if err := p.registry.EndEarly(channel); err != nil {
		return err
	}
	p.wake(channel, s)
	return nil
}

func (p *PollService) lookup(channel string) *VoteSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[channel]
}

// wake nudges a session with a bare fire so it re-reads its registry slot
// without waiting for the next organic occurrence or timer fire.
func (p *PollService) wake(channel string, s *VoteSession) {
	if s != nil {
		s.Deliver(models.TimerFire{At: time.Now(), Channel: channel, Token: s.Token()})
	}
}

func (p *PollService) forget(channel string, s *VoteSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessions[channel] == s {
		delete(p.sessions, channel)
	}
}

// PollStatus is a point-in-time snapshot of one running poll
type PollStatus struct {
	Channel   string    `json:"channel"`
	Choices   []string  `json:"choices"`
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
}

// Active returns snapshots of all running polls
func (p *PollService) Active() []PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]PollStatus, 0, len(p.sessions))
	for _, s := range p.sessions {
		statuses = append(statuses, PollStatus{
			Channel:   s.Channel(),
			Choices:   s.Choices(),
			StartedAt: s.StartedAt(),
			Deadline:  s.Deadline(),
		})
	}
	return statuses
}
