package leaderboard

import "sync/atomic"

// Channel is the signal bus channel snapshots are published on.
const Channel = "leaderboard"

// Latest holds the most recently published snapshot. The zero value is ready
// to use and safe for concurrent access.
type Latest struct {
	p atomic.Pointer[Snapshot]
}

// Set replaces the held snapshot.
func (l *Latest) Set(s Snapshot) {
	l.p.Store(&s)
}

// Get returns the held snapshot and whether one was set.
func (l *Latest) Get() (Snapshot, bool) {
	s := l.p.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}
