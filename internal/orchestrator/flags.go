package orchestrator

import "sync"

// StopFlags holds cooperative stop requests keyed by task ID.
type StopFlags struct {
	mu    sync.Mutex
	flags map[string]bool
}

// NewStopFlags creates an empty flag set.
func NewStopFlags() *StopFlags {
	return &StopFlags{flags: make(map[string]bool)}
}

// Set requests that the task stop at its next checkpoint.
func (f *StopFlags) Set(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[taskID] = true
}

// Clear removes any pending stop request.
func (f *StopFlags) Clear(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.flags, taskID)
}

// Stopped reports whether a stop was requested.
func (f *StopFlags) Stopped(taskID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flags[taskID]
}
