package session

import (
	"context"
	"time"
)

// Run steps the simulation on a fixed-step accumulator until ctx is done or
// the configured tick count is reached. Elapsed wall time is scaled by the
// governor rate, so a lagging participant steps faster.
func (h *Host) Run(ctx context.Context) error {
	step := h.cfg.TickDuration
	ticker := time.NewTicker(step)
	defer ticker.Stop()

	last := time.Now()
	var acc time.Duration

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			acc += time.Duration(float64(now.Sub(last)) * h.gov.Rate())
			last = now

			n := int(acc / step)
			if n > h.cfg.MaxCatchUp {
				h.logger.Warn("Too many steps in one frame, dropping time",
					"steps", n, "max", h.cfg.MaxCatchUp)
				n = h.cfg.MaxCatchUp
				acc = time.Duration(n) * step
			}

			for range n {
				h.Step()
				acc -= step
				if h.cfg.Ticks > 0 && h.stepped >= h.cfg.Ticks {
					return nil
				}
			}
		}
	}
}
