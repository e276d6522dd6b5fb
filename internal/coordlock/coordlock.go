// Package coordlock reads the freshness of the lock marker written by the
// FlowChat browser extension. The marker is externally owned: this agent
// only ever stats it, never creates or removes it.
package coordlock

import (
	"os"
	"time"
)

const DefaultMaxAge = 5 * time.Minute

type Checker struct {
	Path   string
	MaxAge time.Duration
}

// NewChecker watches the platform-default marker path.
func NewChecker() *Checker {
	return &Checker{Path: defaultLockPath(), MaxAge: DefaultMaxAge}
}

// PeerActive reports whether the cooperating tool currently holds the
// account: the marker exists and was touched within MaxAge of now. Stat
// errors read as inactive.
func (c *Checker) PeerActive(now time.Time) bool {
	maxAge := c.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	info, err := os.Stat(c.Path)
	if err != nil {
		return false
	}
	return now.Sub(info.ModTime()) < maxAge
}
