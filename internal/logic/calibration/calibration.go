package calibration

import (
	"context"
	"errors"
	"fmt"

	"github.com/mlaroche/stripscan/internal/debug"
)

// ErrNonPositiveSpacing means the second confirmed position is not strictly
// ahead of the first: the operator jogged the wrong way. No record is
// produced; the two captured frames stand.
var ErrNonPositiveSpacing = errors.New("calibration: frame spacing must be positive")

// ErrNoFirstMark means MarkSecond was called before MarkFirst succeeded.
var ErrNoFirstMark = errors.New("calibration: first frame not marked yet")

// Record is the derived calibration: physical 35mm frame spacing is uniform
// across a roll, so a single two-point measurement serves for all of it.
type Record struct {
	StepsPerFrame int `json:"steps_per_frame"`
	FirstPos      int `json:"first_pos"`
	SecondPos     int `json:"second_pos"`
}

// Shooter triggers one confirmed physical capture.
type Shooter interface {
	Capture(ctx context.Context) error
}

// Positioner reports the current motor position.
type Positioner interface {
	Position() int
}

// Engine drives the two-shot procedure: the operator aligns frame 1 by hand
// and MarkFirst captures it; the operator jogs to frame 2 and MarkSecond
// captures it and derives steps-per-frame from the two positions.
type Engine struct {
	shoot Shooter
	pos   Positioner

	first    int
	hasFirst bool
}

func NewEngine(shoot Shooter, pos Positioner) *Engine {
	return &Engine{shoot: shoot, pos: pos}
}

// Reset discards any in-progress measurement.
func (e *Engine) Reset() {
	e.hasFirst = false
}

// MarkFirst captures the operator-aligned first frame and records its
// position. The position's absolute value never enters the spacing math; it
// only anchors the measurement.
func (e *Engine) MarkFirst(ctx context.Context) (int, error) {
	if err := e.shoot.Capture(ctx); err != nil {
		return 0, fmt.Errorf("calibration: capture frame 1: %w", err)
	}
	e.first = e.pos.Position()
	e.hasFirst = true
	debug.Live("calibration: frame 1 captured at position %d", e.first)
	return e.first, nil
}

// MarkSecond captures the second frame and derives the spacing. The capture
// happens before validation, so on a NonPositiveSpacing failure both frames
// remain captured while no record is produced.
func (e *Engine) MarkSecond(ctx context.Context) (Record, error) {
	if !e.hasFirst {
		return Record{}, ErrNoFirstMark
	}
	if err := e.shoot.Capture(ctx); err != nil {
		return Record{}, fmt.Errorf("calibration: capture frame 2: %w", err)
	}

	second := e.pos.Position()
	spacing := second - e.first
	debug.Verbose("calibration: pos1=%d pos2=%d spacing=%d", e.first, second, spacing)
	if spacing <= 0 {
		return Record{}, fmt.Errorf("%w: got %d (frame 2 must be ahead of frame 1)", ErrNonPositiveSpacing, spacing)
	}

	rec := Record{StepsPerFrame: spacing, FirstPos: e.first, SecondPos: second}
	e.hasFirst = false
	debug.Info("calibration complete: %d steps per frame", spacing)
	return rec, nil
}
