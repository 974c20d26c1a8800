// Package workerpool implements the "at most one worker per registry,
// per job category" scheduling rule from spec §5: storage, sync,
// local-sync, and operate-sql are each single-in-flight.
package workerpool

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Single runs at most one instance of its work function at a time.
// A Trigger call while a run is already in flight is dropped rather
// than queued — the next completed run will naturally pick up
// whatever state change prompted the dropped trigger, matching the
// registries' "re-entry is single-shot guarded by a boolean" rule
// (spec §4.6, §4.8).
type Single struct {
	inFlight atomic.Bool
	group    errgroup.Group
	fn       func(context.Context)
}

func NewSingle(fn func(context.Context)) *Single {
	return &Single{fn: fn}
}

// Trigger starts fn in the background unless a run is already active.
// It returns immediately either way.
func (s *Single) Trigger(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	s.group.Go(func() error {
		defer s.inFlight.Store(false)
		s.fn(ctx)
		return nil
	})
}

// Wait blocks until every run started by Trigger has returned. Callers
// use this during shutdown; it does not prevent further Trigger calls.
func (s *Single) Wait() { s.group.Wait() }

// Busy reports whether a run is currently active.
func (s *Single) Busy() bool { return s.inFlight.Load() }
