package services

import "time"

// LineSender delivers a plain text line to a channel. Formatting and
// transport are the implementation's concern; the engine only emits text.
type LineSender interface {
	SendLine(channel, line string)
}

// Scheduler schedules a one-shot callback after a delay
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

// TimerScheduler is the production Scheduler backed by time.AfterFunc
type TimerScheduler struct{}

func NewTimerScheduler() TimerScheduler {
	return TimerScheduler{}
}

func (TimerScheduler) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}
