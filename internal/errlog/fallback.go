package errlog

import "sync/atomic"

// FallbackState remembers whether the switch to the fallback directory has
// been announced. One value is shared by every sink in the process.
type FallbackState struct {
	warned atomic.Bool
}

func NewFallbackState() *FallbackState {
	return &FallbackState{}
}

// HasWarned reports whether the fallback was already announced.
func (s *FallbackState) HasWarned() bool {
	return s.warned.Load()
}

// MarkWarned records the announcement. It returns true only for the call
// that changed the state, so exactly one caller announces.
func (s *FallbackState) MarkWarned() bool {
	return s.warned.CompareAndSwap(false, true)
}
