package motion

import (
	"context"
	"time"

	"github.com/mlaroche/stripscan/internal/debug"
)

// StartReconciler launches the background position poller. It only reads
// status while the controller is idle and never issues moves. Returns after
// starting the goroutine; the goroutine exits when ctx is done.
func (c *Controller) StartReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.TryReconcile(); err != nil {
					debug.Verbose("reconcile: %v", err)
				}
			}
		}
	}()
}
