package sandbox

import "sync"

var (
	defaultMu      sync.Mutex
	defaultManager *Manager
)

// SetDefault installs the process-wide manager. Wiring happens once at
// startup; a second call replaces the instance and is the caller's
// problem to sequence.
func SetDefault(m *Manager) {
	defaultMu.Lock()
	defaultManager = m
	defaultMu.Unlock()
}

// Default returns the process-wide manager, or nil before SetDefault.
// The mutex (rather than a bare package variable) keeps first-use races
// from observing a half-published instance and spawning a second
// reaper.
func Default() *Manager {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultManager
}
