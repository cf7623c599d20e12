package testutil

import (
	"sync"
	"testing"

	"github.com/abrezinsky/chanpoll/internal/repository"
)

// NewTestRepository creates a fresh in-memory account directory for
// testing, with all migrations applied.
func NewTestRepository(t *testing.T) *repository.Repository {
	t.Helper()

	repo, err := repository.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test repository: %v", err)
	}

	t.Cleanup(func() {
		repo.Close()
	})

	return repo
}

// LineRecorder implements services.LineSender by recording every line,
// for asserting on engine output.
type LineRecorder struct {
	mu    sync.Mutex
	lines map[string][]string
}

// NewLineRecorder creates an empty LineRecorder
func NewLineRecorder() *LineRecorder {
	return &LineRecorder{lines: make(map[string][]string)}
}

// SendLine records a line for the channel
func (r *LineRecorder) SendLine(channel, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[channel] = append(r.lines[channel], line)
}

// Lines returns a copy of everything sent to the channel so far
func (r *LineRecorder) Lines(channel string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines[channel]))
	copy(out, r.lines[channel])
	return out
}

// Count returns how many lines were sent to the channel
func (r *LineRecorder) Count(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines[channel])
}
