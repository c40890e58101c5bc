package tools

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SleepRegistry tracks at most one outstanding sleep timer per agent.
// Starting a new sleep cancels the prior one. It is a process-wide service
// constructed once and passed by reference.
type SleepRegistry struct {
	mu      sync.Mutex
	entries map[string]*sleepEntry
}

type sleepEntry struct {
	sleepID string
	cancel  chan struct{}
	started time.Time
}

// NewSleepRegistry creates an empty registry.
func NewSleepRegistry() *SleepRegistry {
	return &SleepRegistry{entries: map[string]*sleepEntry{}}
}

// Start arms a sleep timer for the agent. When the duration elapses without
// cancellation, onExpire is called with the sleep id; a cancelled timer
// exits silently. Returns the new sleep id.
func (r *SleepRegistry) Start(agentName string, d time.Duration, onExpire func(sleepID string)) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prior, ok := r.entries[agentName]; ok {
		close(prior.cancel)
	}

	entry := &sleepEntry{
		sleepID: uuid.New().String(),
		cancel:  make(chan struct{}),
		started: time.Now(),
	}
	r.entries[agentName] = entry

	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-entry.cancel:
			return
		case <-timer.C:
		}

		// Remove the entry before notifying so a concurrent Start sees a
		// clean slate.
		r.mu.Lock()
		if cur, ok := r.entries[agentName]; ok && cur.sleepID == entry.sleepID {
			delete(r.entries, agentName)
		}
		r.mu.Unlock()
		onExpire(entry.sleepID)
	}()

	return entry.sleepID
}

// Cancel stops the agent's outstanding sleep, if any. The cancelled timer
// produces no wake notification. Reports whether a sleep was cancelled.
func (r *SleepRegistry) Cancel(agentName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[agentName]
	if !ok {
		return false
	}
	close(entry.cancel)
	delete(r.entries, agentName)
	return true
}

// Active reports whether the agent has an outstanding sleep.
func (r *SleepRegistry) Active(agentName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[agentName]
	return ok
}
