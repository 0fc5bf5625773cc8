package optimizer

import (
	"context"
	"fmt"
	"time"
)

// Start runs the maintenance loop every interval: expired entries are swept
// and the memory guardian is checked. It is the timer-driven alternative to
// checking on every request.
func (o *Optimizer) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("maintenance interval must be positive, got %s", interval)
	}

	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	if o.stopCh != nil {
		return fmt.Errorf("maintenance loop already running")
	}

	o.logger.Info("Starting optimizer maintenance", "interval", interval)

	o.stopCh = make(chan struct{})
	o.wg.Add(1)
	go o.maintenanceLoop(ctx, interval, o.stopCh)
	return nil
}

// Stop stops the maintenance loop and waits for it to exit
func (o *Optimizer) Stop() {
	o.loopMu.Lock()
	stopCh := o.stopCh
	o.stopCh = nil
	o.loopMu.Unlock()

	if stopCh == nil {
		return
	}
	o.logger.Info("Stopping optimizer maintenance")
	close(stopCh)
	o.wg.Wait()
}

func (o *Optimizer) maintenanceLoop(ctx context.Context, interval time.Duration, stopCh <-chan struct{}) {
	defer o.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.loopMu.Lock()
			if o.stopCh == stopCh {
				o.stopCh = nil
			}
			o.loopMu.Unlock()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			o.Maintain(ctx)
		}
	}
}

// Maintain runs one maintenance pass
func (o *Optimizer) Maintain(ctx context.Context) {
	if removed := o.cache.SweepExpired(); removed > 0 {
		o.logger.DebugContext(ctx, "Swept expired cache entries", "removed", removed)
	}
	o.OptimizeMemory(ctx)
}
