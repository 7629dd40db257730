package game

import "sync/atomic"

// IDSource hands out strictly increasing event ids. One instance is owned
// by the engine and shared with whatever constructs events on its behalf
// (setup code, transports building reactions).
type IDSource struct {
	last atomic.Int64
}

func (s *IDSource) Next() int64 { return s.last.Add(1) }

// Last returns the most recently issued id (0 if none yet).
func (s *IDSource) Last() int64 { return s.last.Load() }
