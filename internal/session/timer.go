// Package session provides timer support for delayed lifecycle actions.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// timerEntry tracks information about a scheduled timer
type timerEntry struct {
	timer       *time.Timer
	scheduledAt time.Time
	expiresAt   time.Time
}

// SimpleTimer schedules one-shot functions with cancellation. The controller
// uses it for the fixed delay between a session reaching the terminal stage
// and the scoring submission.
type SimpleTimer struct {
	timers map[string]*timerEntry
	mu     sync.RWMutex
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	return &SimpleTimer{
		timers: make(map[string]*timerEntry),
	}
}

// ScheduleAfter schedules a function to run after a delay.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	t.mu.Lock()
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)
	t.mu.Unlock()

	now := time.Now()
	timer := time.AfterFunc(delay, func() {
		slog.Debug("SimpleTimer executing scheduled function", "id", id)
		fn()
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
	})

	t.mu.Lock()
	t.timers[id] = &timerEntry{
		timer:       timer,
		scheduledAt: now,
		expiresAt:   now.Add(delay),
	}
	t.mu.Unlock()

	slog.Debug("SimpleTimer ScheduleAfter succeeded", "id", id, "delay", delay)
	return id, nil
}

// Cancel cancels a scheduled function by ID. Cancelling an unknown or
// already-fired timer is not an error.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.timers[id]; exists {
		entry.timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer Cancel succeeded", "id", id)
	}
	return nil
}

// Stop cancels all scheduled timers.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, entry := range t.timers {
		entry.timer.Stop()
		slog.Debug("SimpleTimer stopped timer", "id", id)
	}
	t.timers = make(map[string]*timerEntry)
}

// ActiveCount returns the number of pending timers.
func (t *SimpleTimer) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.timers)
}
