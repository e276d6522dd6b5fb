// Package watermark persists the thread -> last-seen-message-id map that
// defines the forwarding cutoff. A missing or corrupt store degrades to an
// empty map: the next cycle re-derives state from Instagram, at the accepted
// cost of re-forwarding recent messages.
package watermark

import (
	"log/slog"

	"github.com/xpanddigital/CrateHQ/internal/fsstore"
)

// Map holds, per thread id, the id of the chronologically newest message
// the agent has processed. Entries only ever advance.
type Map map[string]string

type Store struct {
	path   string
	logger *slog.Logger
}

func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Load never fails the process; unreadable state is logged and replaced by
// an empty map.
func (s *Store) Load() Map {
	m := Map{}
	found, err := fsstore.ReadJSON(s.path, &m)
	if err != nil {
		s.logger.Warn("watermark_load_failed", "path", s.path, "error", err.Error())
		return Map{}
	}
	if !found {
		return Map{}
	}
	if m == nil {
		m = Map{}
	}
	return m
}

func (s *Store) Save(m Map) error {
	if m == nil {
		m = Map{}
	}
	return fsstore.WriteJSONAtomic(s.path, m, fsstore.FileOptions{})
}
