package embodiment

import (
	"context"
	"time"
)

// Run ticks at the configured rate until ctx is done. Tick errors are
// logged and the loop keeps going; each error only costs that tick.
func (e *Embodiment) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(e.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var failed uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				failed++
				// Log the first failure of a streak, then every 100th.
				if failed == 1 || failed%100 == 0 {
					e.log.Printf("tick failed (%d in a row): %v", failed, err)
				}
				continue
			}
			if failed > 0 {
				e.log.Printf("ticks recovered after %d failures", failed)
				failed = 0
			}
		}
	}
}
