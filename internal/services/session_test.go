package services_test

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/abrezinsky/chanpoll/internal/dispatch"
	"github.com/abrezinsky/chanpoll/internal/errors"
	"github.com/abrezinsky/chanpoll/internal/logger"
	"github.com/abrezinsky/chanpoll/internal/models"
	"github.com/abrezinsky/chanpoll/internal/observability"
	"github.com/abrezinsky/chanpoll/internal/services"
	"github.com/abrezinsky/chanpoll/internal/testutil"
)

// pollFixture bundles everything an engine test needs
type pollFixture struct {
	polls    *services.PollService
	registry *services.Registry
	disp     *dispatch.Dispatcher
	out      *testutil.LineRecorder
	metrics  *observability.Metrics
	sched    *captureScheduler
}

func newPollFixture(t *testing.T, flags services.PollFlags) *pollFixture {
	t.Helper()

	log := logger.NewWithWriter(io.Discard, slog.LevelError)
	out := testutil.NewLineRecorder()
	registry := services.NewRegistry()
	disp := dispatch.New(log)
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	sched := &captureScheduler{}

	polls := services.NewPollService(log, registry, disp, out, sched, flags, "!", metrics)

	return &pollFixture{
		polls:    polls,
		registry: registry,
		disp:     disp,
		out:      out,
		metrics:  metrics,
		sched:    sched,
	}
}

func (f *pollFixture) chat(channel, nick, text string) {
	f.disp.Dispatch(models.ChatMessage{
		At:      time.Now(),
		Channel: channel,
		Sender:  models.Sender{Nickname: nick, Level: models.LevelRegistered},
		Text:    text,
	})
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

// waitVotes blocks until n votes have been counted. Ending a poll reports
// whatever is tallied at that instant, so tests must not call End while
// the vote they dispatched may still sit unprocessed in the queue.
func (f *pollFixture) waitVotes(t *testing.T, n int) {
	t.Helper()
	waitFor(t, "votes to be counted", func() bool {
		return promtestutil.ToFloat64(f.metrics.VotesCast) >= float64(n)
	})
}

func (f *pollFixture) waitForReport(t *testing.T, channel string) []string {
	t.Helper()
	waitFor(t, "results report", func() bool {
		return containsLine(f.out.Lines(channel), "Voting complete")
	})
	return f.out.Lines(channel)
}

func containsLine(lines []string, substr string) bool {
	for _, line := range lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestPollStart_AcknowledgesAndRegisters(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})

	if err := f.polls.Start("#lobby", "10s", []string{"red", "blue"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	lines := f.out.Lines("#lobby")
	if !containsLine(lines, "Voting commenced") {
		t.Errorf("expected an acknowledgement line, got %v", lines)
	}
	if !containsLine(lines, "red, blue") {
		t.Errorf("acknowledgement should list the choices, got %v", lines)
	}
	if f.disp.Count() != 1 {
		t.Errorf("expected 1 registered session, got %d", f.disp.Count())
	}
}

func TestPollStart_SecondStartRejectedFirstUntouched(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})

	if err := f.polls.Start("#lobby", "10s", []string{"red", "blue"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.chat("#lobby", "alice", "red")
	f.waitVotes(t, 1)

	err := f.polls.Start("#lobby", "30s", []string{"cats", "dogs"})
	if errors.KindOf(err) != errors.ErrConflict {
		t.Fatalf("expected conflict, got %v", err)
	}

	// The first session's tallies survive the rejected start
	if err := f.polls.End("#lobby"); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	lines := f.waitForReport(t, "#lobby")
	if !containsLine(lines, "red : 1 vote (100.0%)") {
		t.Errorf("first poll's tally lost, got %v", lines)
	}
}

func TestPollStart_BadDuration(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})

	for _, arg := range []string{"soon", "-5s", "0"} {
		err := f.polls.Start("#lobby", arg, []string{"red", "blue"})
		if errors.KindOf(err) != errors.ErrDuration {
			t.Errorf("Start with duration %q: expected duration error, got %v", arg, err)
		}
	}

	// No session was created by any failed start
	if _, ok := f.registry.Lookup("#lobby"); ok {
		t.Error("failed starts must not claim the channel")
	}
}

func TestPollStart_MissingArguments(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})

	if err := f.polls.Start("#lobby", "", nil); errors.KindOf(err) != errors.ErrUsage {
		t.Errorf("expected usage error, got %v", err)
	}
	if err := f.polls.Start("#lobby", "10s", nil); errors.KindOf(err) != errors.ErrUsage {
		t.Errorf("expected usage error with no choices, got %v", err)
	}
}

func TestVote_CaseInsensitiveMatching(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})
	f.polls.Start("#lobby", "10s", []string{"red", "blue"})

	f.chat("#lobby", "alice", "RED")
	f.chat("#lobby", "bob", "red")
	f.waitVotes(t, 2)

	f.polls.End("#lobby")
	lines := f.waitForReport(t, "#lobby")
	if !containsLine(lines, "red : 2 votes (100.0%)") {
		t.Errorf("RED and red should hit the same counter, got %v", lines)
	}
}

func TestVote_OneVotePerIdentity(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})
	f.polls.Start("#lobby", "10s", []string{"red", "blue"})

	f.chat("#lobby", "alice", "red")
	f.waitVotes(t, 1)
	f.chat("#lobby", "alice", "blue")
	f.chat("#lobby", "alice", "red")

	f.polls.End("#lobby")
	lines := f.waitForReport(t, "#lobby")
	if !containsLine(lines, "red : 1 vote (100.0%)") {
		t.Errorf("revotes must be ignored, got %v", lines)
	}
	if !containsLine(lines, "blue : 0 votes") {
		t.Errorf("the revote choice must stay at zero, got %v", lines)
	}
}

func TestVote_IgnoresChatterAndUnknownChoices(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})
	f.polls.Start("#lobby", "10s", []string{"red", "blue"})

	f.chat("#lobby", "alice", "i think red is best") // internal spaces: chatter
	f.chat("#lobby", "alice", "   ")                 // empty after trim
	f.chat("#lobby", "alice", "green")               // not a choice

	f.polls.End("#lobby")
	lines := f.waitForReport(t, "#lobby")
	if !containsLine(lines, "no one voted") {
		t.Errorf("nothing should have counted, got %v", lines)
	}
}

func TestVote_RegisteredOnlyGate(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{OnlyRegisteredMayVote: true})
	f.polls.Start("#lobby", "10s", []string{"red", "blue"})

	// Unregistered sender is ignored
	f.disp.Dispatch(models.ChatMessage{
		At:      time.Now(),
		Channel: "#lobby",
		Sender:  models.Sender{Nickname: "drive_by", Level: models.LevelAnyone},
		Text:    "red",
	})
	// Registered sender counts
	f.chat("#lobby", "alice", "blue")
	f.waitVotes(t, 1)

	f.polls.End("#lobby")
	lines := f.waitForReport(t, "#lobby")
	if !containsLine(lines, "red : 0 votes") {
		t.Errorf("unregistered vote should not count, got %v", lines)
	}
	if !containsLine(lines, "blue : 1 vote (100.0%)") {
		t.Errorf("registered vote should count, got %v", lines)
	}
}

func TestRename_KeepsVoteUnderNewIdentity(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})
	f.polls.Start("#lobby", "10s", []string{"red", "blue"})

	f.chat("#lobby", "alice", "red")
	f.waitVotes(t, 1)
	f.disp.Dispatch(models.Rename{At: time.Now(), OldNick: "alice", NewNick: "alicia"})
	// Still one vote: the renamed identity is rejected on revote
	f.chat("#lobby", "alicia", "blue")

	f.polls.End("#lobby")
	lines := f.waitForReport(t, "#lobby")
	if !containsLine(lines, "red : 1 vote (100.0%)") {
		t.Errorf("vote should survive the rename, got %v", lines)
	}
	if !containsLine(lines, "blue : 0 votes") {
		t.Errorf("renamed voter must not vote twice, got %v", lines)
	}
}

func TestAccountResolved_MigratesNicknameEntry(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})
	f.polls.Start("#lobby", "10s", []string{"red", "blue"})

	f.chat("#lobby", "alice", "red")
	f.waitVotes(t, 1)
	f.disp.Dispatch(models.AccountResolved{At: time.Now(), Nickname: "alice", Account: "alice_acct"})

	// Voting again under the account identity is a revote
	f.disp.Dispatch(models.ChatMessage{
		At:      time.Now(),
		Channel: "#lobby",
		Sender:  models.Sender{Nickname: "alice", Account: "alice_acct", Level: models.LevelRegistered},
		Text:    "blue",
	})

	f.polls.End("#lobby")
	lines := f.waitForReport(t, "#lobby")
	if !containsLine(lines, "red : 1 vote (100.0%)") {
		t.Errorf("vote should follow the account login, got %v", lines)
	}
}

func TestDeparture_UncountsWithOnlyOnlineUsers(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{OnlyOnlineUsersCount: true})
	f.polls.Start("#lobby", "10s", []string{"red", "blue"})

	f.chat("#lobby", "bob", "red")
	f.waitVotes(t, 1)
	f.disp.Dispatch(models.Departure{
		At:      time.Now(),
		Channel: "#lobby",
		Sender:  models.Sender{Nickname: "bob"},
	})
	// A later vote by someone else proves the departure was processed
	f.chat("#lobby", "alice", "blue")
	f.waitVotes(t, 2)

	f.polls.End("#lobby")
	lines := f.waitForReport(t, "#lobby")
	if !containsLine(lines, "red : 0 votes") {
		t.Errorf("departed voter's vote should be uncounted, got %v", lines)
	}
	if !containsLine(lines, "blue : 1 vote (100.0%)") {
		t.Errorf("remaining voter's vote should stand, got %v", lines)
	}
}

func TestDeparture_RejoinMayVoteAgain(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{OnlyOnlineUsersCount: true})
	f.polls.Start("#lobby", "10s", []string{"red", "blue"})

	f.chat("#lobby", "bob", "red")
	f.waitVotes(t, 1)
	f.disp.Dispatch(models.Departure{
		At:      time.Now(),
		Channel: "#lobby",
		Sender:  models.Sender{Nickname: "bob"},
	})
	f.chat("#lobby", "bob", "blue")
	f.waitVotes(t, 2)

	f.polls.End("#lobby")
	lines := f.waitForReport(t, "#lobby")
	if !containsLine(lines, "blue : 1 vote (100.0%)") {
		t.Errorf("rejoined voter's fresh vote should count, got %v", lines)
	}
	if !containsLine(lines, "red : 0 votes") {
		t.Errorf("the uncounted first vote should stay uncounted, got %v", lines)
	}
}

func TestDeparture_IgnoredWithoutOnlyOnlineUsers(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})
	f.polls.Start("#lobby", "10s", []string{"red", "blue"})

	f.chat("#lobby", "bob", "red")
	f.waitVotes(t, 1)
	f.disp.Dispatch(models.Departure{
		At:      time.Now(),
		Channel: "#lobby",
		Sender:  models.Sender{Nickname: "bob"},
	})

	f.polls.End("#lobby")
	lines := f.waitForReport(t, "#lobby")
	if !containsLine(lines, "red : 1 vote (100.0%)") {
		t.Errorf("vote should survive departure with the flag off, got %v", lines)
	}
}

func TestEnd_ReportsImmediatelyThenAbortNotFound(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})
	f.polls.Start("#lobby", "1h", []string{"red", "blue"})
	f.chat("#lobby", "alice", "red")
	f.waitVotes(t, 1)

	if err := f.polls.End("#lobby"); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	lines := f.waitForReport(t, "#lobby")
	if !containsLine(lines, "red : 1 vote (100.0%)") {
		t.Errorf("End should report current tallies, got %v", lines)
	}

	waitFor(t, "registry slot release", func() bool {
		_, ok := f.registry.Lookup("#lobby")
		return !ok
	})

	if err := f.polls.Abort("#lobby"); errors.KindOf(err) != errors.ErrNotFound {
		t.Errorf("Abort after End should be not-found, got %v", err)
	}
}

func TestAbort_NoReportAndChannelFreed(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})
	f.polls.Start("#lobby", "1h", []string{"red", "blue"})
	f.chat("#lobby", "alice", "red")
	f.waitVotes(t, 1)

	if err := f.polls.Abort("#lobby"); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	waitFor(t, "aborted session exit", func() bool {
		return f.disp.Count() == 0
	})

	if containsLine(f.out.Lines("#lobby"), "Voting complete") {
		t.Fatalf("abort must not produce a report: %v", f.out.Lines("#lobby"))
	}
	if !containsLine(f.out.Lines("#lobby"), "The poll was aborted.") {
		t.Errorf("expected an abort confirmation, got %v", f.out.Lines("#lobby"))
	}

	// The channel is free again
	if err := f.polls.Start("#lobby", "10s", []string{"cats", "dogs"}); err != nil {
		t.Errorf("Start after Abort failed: %v", err)
	}
}

func TestDeadline_ReportsNaturally(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})
	f.polls.Start("#lobby", "100ms", []string{"red", "blue"})
	f.chat("#lobby", "alice", "blue")
	f.waitVotes(t, 1)

	lines := f.waitForReport(t, "#lobby")
	if !containsLine(lines, "blue : 1 vote (100.0%)") {
		t.Errorf("deadline report missing the vote, got %v", lines)
	}

	waitFor(t, "registry slot release", func() bool {
		_, ok := f.registry.Lookup("#lobby")
		return !ok
	})
}

func TestSupersededSession_ExitsSilently(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})
	f.polls.Start("#lobby", "1h", []string{"red", "blue"})

	// Pull the slot out from under the session without waking it, then
	// let a new poll claim the channel.
	if err := f.registry.Abort("#lobby"); err != nil {
		t.Fatalf("registry abort failed: %v", err)
	}
	if err := f.polls.Start("#lobby", "1h", []string{"cats", "dogs"}); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	// Both sessions receive this; the stale one sees a foreign token and
	// exits without reporting, the fresh one counts it.
	f.chat("#lobby", "alice", "cats")
	f.waitVotes(t, 1)

	waitFor(t, "stale session exit", func() bool {
		return f.disp.Count() == 1
	})

	f.polls.End("#lobby")
	lines := f.waitForReport(t, "#lobby")
	if !containsLine(lines, "cats : 1 vote (100.0%)") {
		t.Errorf("fresh session should own the vote, got %v", lines)
	}

	// Exactly one report: the superseded session stayed silent
	reports := 0
	for _, line := range f.out.Lines("#lobby") {
		if strings.Contains(line, "Voting complete") {
			reports++
		}
	}
	if reports != 1 {
		t.Errorf("expected exactly one report, got %d", reports)
	}
}

func TestSessions_IndependentAcrossChannels(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})
	f.polls.Start("#red-room", "10s", []string{"red", "blue"})
	f.polls.Start("#blue-room", "10s", []string{"red", "blue"})

	f.chat("#red-room", "alice", "red")
	f.chat("#blue-room", "alice", "blue")
	f.waitVotes(t, 2)

	f.polls.End("#red-room")
	redLines := f.waitForReport(t, "#red-room")
	if !containsLine(redLines, "red : 1 vote (100.0%)") {
		t.Errorf("red room tally wrong: %v", redLines)
	}

	// The other channel's poll is still running
	if _, ok := f.registry.Lookup("#blue-room"); !ok {
		t.Error("ending one channel's poll must not touch another's")
	}

	f.polls.End("#blue-room")
	blueLines := f.waitForReport(t, "#blue-room")
	if !containsLine(blueLines, "blue : 1 vote (100.0%)") {
		t.Errorf("blue room tally wrong: %v", blueLines)
	}
}

func TestReminders_EmittedWhileLive(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})

	if err := f.polls.Start("#lobby", "5m", []string{"red", "blue"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(f.sched.fires) != 3 {
		t.Fatalf("expected 3 armed reminders for 5m, got %d", len(f.sched.fires))
	}

	// Fire the 2-minute checkpoint by hand
	f.sched.fires[0].fn()
	waitFor(t, "reminder line", func() bool {
		return containsLine(f.out.Lines("#lobby"), "2 minutes left")
	})
	if !containsLine(f.out.Lines("#lobby"), "red, blue") {
		t.Errorf("reminder should list the choices, got %v", f.out.Lines("#lobby"))
	}

	f.polls.Abort("#lobby")
}

func TestReminders_StaleFireIsNoop(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})

	f.polls.Start("#lobby", "5m", []string{"red", "blue"})
	if err := f.polls.Abort("#lobby"); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}
	waitFor(t, "session exit", func() bool { return f.disp.Count() == 0 })

	before := f.out.Count("#lobby")
	for _, fire := range f.sched.fires {
		fire.fn()
	}

	if f.out.Count("#lobby") != before {
		t.Errorf("stale reminder fires must emit nothing, got %v", f.out.Lines("#lobby"))
	}
}

func TestParseDuration_Forms(t *testing.T) {
	cases := []struct {
		arg  string
		want time.Duration
	}{
		{"10s", 10 * time.Second},
		{"600", 10 * time.Minute}, // bare integers are seconds
		{"1h30m", 90 * time.Minute},
	}
	for _, c := range cases {
		got, err := services.ParseDuration(c.arg)
		if err != nil {
			t.Errorf("ParseDuration(%q) failed: %v", c.arg, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", c.arg, got, c.want)
		}
	}

	for _, bad := range []string{"soon", "", "-10s", "0", "-5"} {
		if _, err := services.ParseDuration(bad); errors.KindOf(err) != errors.ErrDuration {
			t.Errorf("ParseDuration(%q): expected duration error, got %v", bad, err)
		}
	}
}

func TestPollActive_Snapshots(t *testing.T) {
	f := newPollFixture(t, services.PollFlags{})
	f.polls.Start("#lobby", "10m", []string{"red", "blue"})

	active := f.polls.Active()
	if len(active) != 1 {
		t.Fatalf("expected 1 active poll, got %d", len(active))
	}
	if active[0].Channel != "#lobby" {
		t.Errorf("snapshot channel = %q", active[0].Channel)
	}
	if len(active[0].Choices) != 2 {
		t.Errorf("snapshot choices = %v", active[0].Choices)
	}
	if !active[0].Deadline.After(active[0].StartedAt) {
		t.Error("deadline should be after the start time")
	}

	f.polls.End("#lobby")
	f.waitForReport(t, "#lobby")
	waitFor(t, "snapshot removal", func() bool {
		return len(f.polls.Active()) == 0
	})
}
