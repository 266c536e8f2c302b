package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mlaroche/stripscan/internal/debug"
	"github.com/mlaroche/stripscan/internal/hw/camera"
)

// FocusSupport is the cached result of capability negotiation. Some attached
// devices have no remote focus at all; once a focus attempt answers "not
// supported" the orchestrator stops trying for the rest of the session.
type FocusSupport int

const (
	FocusUnknown FocusSupport = iota
	FocusSupported
	FocusUnsupported
)

// Timeouts bounds the two external invocations of one capture attempt.
type Timeouts struct {
	Focus   time.Duration
	Capture time.Duration
}

// Orchestrator produces at most one confirmed capture per call, despite an
// unreliable external utility. It reports success or failure and never
// touches frame or strip counters; the state machine owns those.
type Orchestrator struct {
	cam      camera.Camera
	timeouts Timeouts

	mu    sync.Mutex
	focus FocusSupport
}

func NewOrchestrator(cam camera.Camera, timeouts Timeouts) *Orchestrator {
	if timeouts.Focus <= 0 {
		timeouts.Focus = 5 * time.Second
	}
	if timeouts.Capture <= 0 {
		timeouts.Capture = 15 * time.Second
	}
	return &Orchestrator{cam: cam, timeouts: timeouts}
}

// Capture runs one full capture sequence. A transient failure (device busy,
// stuck helper) gets exactly one automatic retry after cleanup; everything
// else surfaces immediately. A nil return means the device confirmed the
// exposure and the caller may record a frame.
func (o *Orchestrator) Capture(ctx context.Context) error {
	err := o.attempt(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || !camera.IsTransient(err) {
		return err
	}

	debug.Warn("capture failed (%v), retrying once after cleanup", err)
	return o.attempt(ctx)
}

// TestCapture runs the identical sequence for diagnostics. Callers must not
// record a frame or touch any counter regardless of the outcome.
func (o *Orchestrator) TestCapture(ctx context.Context) error {
	debug.Live("test capture (no frame will be recorded)")
	return o.Capture(ctx)
}

// attempt is one pass of the sequence: pre-clean, best-effort focus, capture.
// Cleanup runs on every exit path, timeouts and cancellation included; a
// helper left holding the device lock poisons every later attempt.
func (o *Orchestrator) attempt(ctx context.Context) error {
	o.cam.Cleanup()
	defer o.cam.Cleanup()

	o.tryFocus(ctx)

	cctx, cancel := context.WithTimeout(ctx, o.timeouts.Capture)
	defer cancel()
	if err := o.cam.Capture(cctx); err != nil {
		return err
	}
	debug.Verbose("capture confirmed by device")
	return nil
}

// tryFocus attempts autofocus unless the device is known not to support it.
// Focus failure is never fatal.
func (o *Orchestrator) tryFocus(ctx context.Context) {
	o.mu.Lock()
	support := o.focus
	o.mu.Unlock()
	if support == FocusUnsupported {
		return
	}

	fctx, cancel := context.WithTimeout(ctx, o.timeouts.Focus)
	defer cancel()

	err := o.cam.Focus(fctx)
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case err == nil:
		o.focus = FocusSupported
	case errors.Is(err, camera.ErrNotSupported):
		o.focus = FocusUnsupported
		debug.Info("device has no remote focus, skipping from now on")
	default:
		debug.Warn("autofocus failed: %v (continuing)", err)
	}
}

// FocusSupport reports the cached capability negotiation result.
func (o *Orchestrator) FocusSupport() FocusSupport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.focus
}
