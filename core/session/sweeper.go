package session

import (
	"context"
	"time"

	"github.com/wricardo/mcp-training/userdirectory/core/engine"
)

// SweepIdle evicts sessions idle for at least idle. Sessions with a call in
// flight or an attached stream are never swept.
func (r *Registry) SweepIdle(now time.Time, idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	var candidates []*Session
	r.store.Range(func(s *Session) bool {
		if r.shouldSweep(now, idle, s) {
			candidates = append(candidates, s)
		}
		return true
	})

	evicted := 0
	for _, s := range candidates {
		// Re-check: the session may have woken up since the snapshot.
		if !r.shouldSweep(now, idle, s) {
			continue
		}
		if !r.store.CompareAndDelete(s.ID, s) {
			continue
		}
		r.finish(s, engine.ReasonIdleTimeout)
		s.Engine.Close(engine.ReasonIdleTimeout)
		evicted++
	}
	return evicted
}

func (r *Registry) shouldSweep(now time.Time, idle time.Duration, s *Session) bool {
	e := s.Engine
	if e.InFlight() > 0 || e.StreamAttached() {
		return false
	}
	return now.Sub(e.LastActive()) >= idle
}

// RunSweeper calls SweepIdle every interval until ctx is done
func (r *Registry) RunSweeper(ctx context.Context, idle, interval time.Duration) error {
	if idle <= 0 || interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().Dur("idle", idle).Dur("interval", interval).Msg("idle sweeper started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.SweepIdle(r.now(), idle); n > 0 {
				r.logger.Info().Int("evicted", n).Int("remaining", r.Count()).Msg("idle sessions swept")
			}
		}
	}
}
