package motion

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mlaroche/stripscan/internal/debug"
	"github.com/mlaroche/stripscan/internal/hw/transport"
)

var (
	// ErrLinkUnavailable means the serial round-trip failed. The cached
	// position is untouched: no motion is assumed to have happened.
	ErrLinkUnavailable = errors.New("motion: serial link unavailable")
	// ErrInvalidStepCount means an exact move was requested outside
	// (0, max_exact_steps).
	ErrInvalidStepCount = errors.New("motion: invalid step count")
)

// Direction of film travel.
type Direction int

const (
	Forward Direction = iota + 1
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Class selects the magnitude of a move.
type Class struct {
	kind  int
	steps int
}

const (
	kindFine = iota
	kindCoarse
	kindExact
	kindFrame
)

// Fine is the small jog used for frame alignment.
func Fine() Class { return Class{kind: kindFine} }

// Coarse is the large jog used to traverse between frames quickly.
func Coarse() Class { return Class{kind: kindCoarse} }

// Exact moves by exactly n steps.
func Exact(n int) Class { return Class{kind: kindExact, steps: n} }

// Frame moves by the calibrated frame spacing, or the default estimate when
// uncalibrated.
func Frame() Class { return Class{kind: kindFrame} }

// Config tunes the controller.
type Config struct {
	FineStep       int // steps per fine jog
	CoarseStep     int // steps per coarse jog
	BacklashSteps  int // extra steps prepended on direction reversal
	DefaultAdvance int // frame spacing before calibration
	MaxExactSteps  int // exclusive upper bound for exact moves
	Tolerance      int // reconciliation divergence worth logging
}

// Controller owns the authoritative signed position counter and translates
// move requests into firmware commands. Backlash is taken up by prepending
// the compensation steps to a move that reverses direction; the compensation
// is deliberately excluded from the position counter, so the controller
// tracks the last direction separately.
type Controller struct {
	mu sync.Mutex
	tr *transport.Transport

	cfg Config

	position     int
	lastDir      Direction // 0 = no move since last zero
	frameAdvance int       // 0 = uncalibrated

	needsReconcile bool
}

func NewController(tr *transport.Transport, cfg Config) *Controller {
	if cfg.FineStep <= 0 {
		cfg.FineStep = 8
	}
	if cfg.CoarseStep <= 0 {
		cfg.CoarseStep = 192
	}
	if cfg.DefaultAdvance <= 0 {
		cfg.DefaultAdvance = 1200
	}
	if cfg.MaxExactSteps <= 0 {
		cfg.MaxExactSteps = 10000
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 4
	}
	return &Controller{tr: tr, cfg: cfg}
}

// Move issues one move and returns the new position estimate. The estimate is
// updated from the requested magnitude, not from the firmware's reply; the
// reply is only reconciled later, when the controller is idle.
func (c *Controller) Move(dir Direction, class Class) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.move(dir, class)
}

func (c *Controller) move(dir Direction, class Class) (int, error) {
	steps, err := c.magnitude(class)
	if err != nil {
		return c.position, err
	}

	issued := steps
	reversal := c.lastDir != 0 && c.lastDir != dir
	if reversal {
		issued += c.cfg.BacklashSteps
	}

	forward := dir == Forward
	if reversal || class.kind == kindExact || class.kind == kindFrame {
		_, err = c.tr.Exact(forward, issued)
	} else {
		switch class.kind {
		case kindFine:
			_, err = c.tr.Fine(forward)
		case kindCoarse:
			_, err = c.tr.Coarse(forward)
		}
	}
	if err != nil {
		return c.position, wrapLink(err)
	}

	if forward {
		c.position += steps
	} else {
		c.position -= steps
	}
	c.lastDir = dir
	c.needsReconcile = true

	debug.Move(steps, dir.String())
	debug.Position(c.position)
	return c.position, nil
}

// wrapLink classifies a transport failure: protocol-level refusals pass
// through, anything else means the serial round-trip itself failed.
func wrapLink(err error) error {
	if errors.Is(err, transport.ErrLocked) || errors.Is(err, transport.ErrBadResponse) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrLinkUnavailable, err)
}

func (c *Controller) magnitude(class Class) (int, error) {
	switch class.kind {
	case kindFine:
		return c.cfg.FineStep, nil
	case kindCoarse:
		return c.cfg.CoarseStep, nil
	case kindExact:
		if class.steps <= 0 || class.steps >= c.cfg.MaxExactSteps {
			return 0, fmt.Errorf("%w: %d (must be in 1..%d)", ErrInvalidStepCount, class.steps, c.cfg.MaxExactSteps-1)
		}
		return class.steps, nil
	case kindFrame:
		if c.frameAdvance > 0 {
			return c.frameAdvance, nil
		}
		debug.Verbose("uncalibrated, using default advance %d", c.cfg.DefaultAdvance)
		return c.cfg.DefaultAdvance, nil
	}
	return 0, fmt.Errorf("%w: unknown class", ErrInvalidStepCount)
}

// AdvanceFrame moves forward by the calibrated spacing (or the default
// estimate when uncalibrated).
func (c *Controller) AdvanceFrame() (int, error) {
	return c.Move(Forward, Frame())
}

// RetreatFrame moves backward by one frame spacing.
func (c *Controller) RetreatFrame() (int, error) {
	return c.Move(Backward, Frame())
}

// Zero resets both the cached and the firmware counters and clears the
// backlash direction memory.
func (c *Controller) Zero() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.tr.Zero(); err != nil {
		return wrapLink(err)
	}
	c.position = 0
	c.lastDir = 0
	c.needsReconcile = false
	debug.Live("Position zeroed")
	return nil
}

// Position returns the cached position estimate.
func (c *Controller) Position() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

// RestorePosition seeds the cached counter from a resumed session. The
// firmware counter is not touched; the next reconciliation will report the
// divergence if the transport was power-cycled without re-zeroing.
func (c *Controller) RestorePosition(pos int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.position = pos
	c.lastDir = 0
}

// SetFrameAdvance installs the calibrated frame spacing. 0 reverts to the
// default estimate.
func (c *Controller) SetFrameAdvance(steps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frameAdvance = steps
}

// FrameAdvance returns the spacing a frame move would use right now.
func (c *Controller) FrameAdvance() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frameAdvance > 0 {
		return c.frameAdvance
	}
	return c.cfg.DefaultAdvance
}

// Reconcile reads the firmware counter and compares it to the cache. It is a
// no-op unless a move happened since the last reconciliation. Divergence
// beyond the tolerance is logged, never corrected: positional authority stays
// with the last commanded delta unless the operator re-zeros.
//
// TryReconcile is the non-blocking variant for the background poller; it
// skips the read entirely while a command holds the controller.
func (c *Controller) Reconcile() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconcile()
}

func (c *Controller) TryReconcile() (int, error) {
	if !c.mu.TryLock() {
		return 0, nil
	}
	defer c.mu.Unlock()
	return c.reconcile()
}

func (c *Controller) reconcile() (int, error) {
	if !c.needsReconcile {
		return 0, nil
	}
	st, err := c.tr.Status()
	if err != nil {
		return 0, wrapLink(err)
	}
	if !st.HasPos {
		return 0, nil
	}
	c.needsReconcile = false

	diff := st.Position - c.position
	if diff > c.cfg.Tolerance || diff < -c.cfg.Tolerance {
		debug.Warn("position divergence: firmware=%d cached=%d (diff %d)", st.Position, c.position, diff)
	}
	return diff, nil
}
