package checkpoint

import "time"

// Saver decides when the orchestrator writes a checkpoint and remembers
// when it last did.
type Saver struct {
	Path     string
	Interval time.Duration

	last time.Time
}

// NewSaver creates a saver that writes at most once per interval. A zero
// interval saves at every batch boundary.
func NewSaver(path string, interval time.Duration) *Saver {
	return &Saver{Path: path, Interval: interval, last: time.Now()}
}

// Due reports whether a periodic save is due at now.
func (s *Saver) Due(now time.Time) bool {
	return s.Path != "" && now.Sub(s.last) >= s.Interval
}

// Save writes st unconditionally.
func (s *Saver) Save(st *State, now time.Time) error {
	if s.Path == "" {
		return nil
	}
	if err := Save(s.Path, st); err != nil {
		return err
	}
	s.last = now
	return nil
}
