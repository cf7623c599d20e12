package services

import (
	"fmt"
	"time"

	"github.com/abrezinsky/chanpoll/internal/models"
)

// checkpoints is the descending ladder of remaining-time marks at which a
// poll may emit a reminder. A checkpoint C is only armed for a poll of
// total length D when D >= 2C, so short polls skip the large marks.
var checkpoints = []time.Duration{
	7 * 24 * time.Hour,
	3 * 24 * time.Hour,
	2 * 24 * time.Hour,
	24 * time.Hour,
	12 * time.Hour,
	6 * time.Hour,
	3 * time.Hour,
	time.Hour,
	30 * time.Minute,
	10 * time.Minute,
	5 * time.Minute,
	2 * time.Minute,
	30 * time.Second,
	10 * time.Second,
}

// ReminderPoints returns the checkpoints eligible for a poll of the given
// total length, in descending order.
func ReminderPoints(total time.Duration) []time.Duration {
	var points []time.Duration
	for _, c := range checkpoints {
		if total >= 2*c {
			points = append(points, c)
		}
	}
	return points
}

// ScheduleReminders arms one-shot fires for every eligible checkpoint. Each
// fire is delivered to the session as a TimerFire occurrence carrying a
// reminder payload; staleness is decided at fire time by the session's own
// registry check, never at schedule time, since the timers themselves
// cannot be cancelled.
func ScheduleReminders(sched Scheduler, total time.Duration, channel string, token uint64, deliver func(models.TimerFire)) {
	for _, c := range ReminderPoints(total) {
		remaining := c
		sched.AfterFunc(total-remaining, func() {
			deliver(models.TimerFire{
				At:       time.Now(),
				Channel:  channel,
				Token:    token,
				Reminder: &models.Reminder{Remaining: remaining},
			})
		})
	}
}

// FormatRemaining renders a duration in the coarsest unit that divides it
// evenly: whole days, then hours, then minutes, else raw seconds.
func FormatRemaining(d time.Duration) string {
	secs := int64(d / time.Second)
	switch {
	case secs%86400 == 0:
		n := secs / 86400
		return fmt.Sprintf("%d %s", n, pluralInt64("day", n))
	case secs%3600 == 0:
		n := secs / 3600
		return fmt.Sprintf("%d %s", n, pluralInt64("hour", n))
	case secs%60 == 0:
		n := secs / 60
		return fmt.Sprintf("%d %s", n, pluralInt64("minute", n))
	default:
		return fmt.Sprintf("%d %s", secs, pluralInt64("second", secs))
	}
}

func pluralInt64(word string, n int64) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
