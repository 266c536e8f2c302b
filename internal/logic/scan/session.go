package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mlaroche/stripscan/internal/debug"
	"github.com/mlaroche/stripscan/internal/logic/calibration"
	"github.com/mlaroche/stripscan/internal/logic/motion"
	"github.com/mlaroche/stripscan/internal/state"
)

// Mode of the active roll. Manual rolls have no calibration record and every
// advance is operator-driven; calibrated rolls auto-advance by the measured
// frame spacing.
type Mode string

const (
	ModeManual     Mode = "manual"
	ModeCalibrated Mode = "calibrated"
)

// Mover is the motion surface the state machine needs.
type Mover interface {
	Move(dir motion.Direction, class motion.Class) (int, error)
	AdvanceFrame() (int, error)
	Zero() error
	Position() int
	RestorePosition(pos int)
	SetFrameAdvance(steps int)
}

// Capturer is the capture surface the state machine needs.
type Capturer interface {
	Capture(ctx context.Context) error
	TestCapture(ctx context.Context) error
}

// Saver persists and restores session snapshots.
type Saver interface {
	Save(*state.Snapshot) error
	Load(name string) (*state.Snapshot, error)
}

// Session is the top-level orchestrator for one roll. It serializes all
// operations: capture and move both touch the shared position counter and
// the frame sequence, so they are never interleaved. At most one roll is
// active per session.
type Session struct {
	mu sync.Mutex

	mover Mover
	capt  Capturer
	calib *calibration.Engine
	store Saver

	framesPerStrip int

	// roll state; zero until OpenRoll
	name          string
	mode          Mode
	autoAdvance   bool
	frames        []state.FrameRecord
	stripCount    int
	framesInStrip int
	record        *state.CalibrationRecord

	calibrating bool
	abandoned   bool
}

// New wires a session. framesPerStrip is the configured physical strip
// length.
func New(mover Mover, capt Capturer, store Saver, framesPerStrip int) *Session {
	if framesPerStrip <= 0 {
		framesPerStrip = 6
	}
	return &Session{
		mover:          mover,
		capt:           capt,
		calib:          calibration.NewEngine(capt, mover),
		store:          store,
		framesPerStrip: framesPerStrip,
	}
}

// OpenResult reports what OpenRoll found.
type OpenResult struct {
	Resumed       bool
	FrameCount    int
	Position      int
	StepsPerFrame int // 0 when uncalibrated
}

// OpenRoll loads the saved session for name, or initializes a fresh roll at
// frame 0, position 0, manual mode. The name doubles as the storage key.
func (s *Session) OpenRoll(name string) (OpenResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateName(name); err != nil {
		return OpenResult{}, err
	}

	snap, err := s.store.Load(name)
	switch {
	case err == nil:
		s.restore(snap)
		res := OpenResult{
			Resumed:    true,
			FrameCount: len(s.frames),
			Position:   snap.Position,
		}
		if s.record != nil {
			res.StepsPerFrame = s.record.StepsPerFrame
		}
		debug.Info("resumed roll %q: %d frames, position %d", name, res.FrameCount, res.Position)
		return res, nil
	case errors.Is(err, state.ErrNotFound):
		s.reset(name)
		if err := s.persist(); err != nil {
			return OpenResult{}, err
		}
		debug.Info("opened fresh roll %q", name)
		return OpenResult{}, nil
	default:
		return OpenResult{}, fmt.Errorf("scan: open roll %q: %w", name, err)
	}
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (s *Session) reset(name string) {
	s.name = name
	s.mode = ModeManual
	s.autoAdvance = true
	s.frames = nil
	s.stripCount = 1
	s.framesInStrip = 0
	s.record = nil
	s.calibrating = false
	s.abandoned = false
	s.mover.SetFrameAdvance(0)
	s.mover.RestorePosition(0)
}

func (s *Session) restore(snap *state.Snapshot) {
	s.name = snap.RollName
	s.mode = Mode(snap.Mode)
	if s.mode != ModeCalibrated {
		s.mode = ModeManual
	}
	s.autoAdvance = snap.AutoAdvance
	s.frames = snap.Frames
	s.stripCount = snap.StripCount
	if s.stripCount < 1 {
		s.stripCount = 1
	}
	s.framesInStrip = snap.FramesInStrip
	if snap.FramesPerStrip > 0 {
		s.framesPerStrip = snap.FramesPerStrip
	}
	s.record = snap.Calibration
	s.calibrating = false
	s.abandoned = false

	s.mover.RestorePosition(snap.Position)
	if s.record != nil {
		s.mover.SetFrameAdvance(s.record.StepsPerFrame)
	} else {
		s.mover.SetFrameAdvance(0)
	}
}

// BeginCalibration starts the two-shot procedure. Valid only before any
// capture in the active strip and only while no record exists; calibration
// itself performs the strip's first two captures.
func (s *Session) BeginCalibration() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.name == "" {
		return ErrNoRoll
	}
	if s.record != nil {
		return ErrAlreadyCalibrated
	}
	return s.beginCalibration()
}

// Recalibrate restarts calibration on an operator's explicit request,
// overwriting any existing record. The active strip must still be empty:
// the procedure captures frames 1 and 2 of the strip it runs on.
func (s *Session) Recalibrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.name == "" {
		return ErrNoRoll
	}
	return s.beginCalibration()
}

func (s *Session) beginCalibration() error {
	if s.framesInStrip > 0 {
		return ErrCalibrationAfterCapture
	}
	s.calib.Reset()
	s.calibrating = true
	debug.Live("calibration started: align frame 1 and mark it")
	return nil
}

// CalibrateFirst captures the operator-aligned frame 1 and records its
// position. The capture counts as a real frame of strip 1.
func (s *Session) CalibrateFirst(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.calibrating {
		return 0, ErrNotCalibrating
	}
	pos, err := s.calib.MarkFirst(ctx)
	if err != nil {
		return 0, err
	}
	s.appendFrame(pos)
	return pos, s.persist()
}

// CalibrateSecond captures frame 2 and completes calibration. On a
// non-positive spacing the frame still counts (the capture happened) but the
// mode stays manual and no record is written.
func (s *Session) CalibrateSecond(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.calibrating {
		return 0, ErrNotCalibrating
	}
	rec, err := s.calib.MarkSecond(ctx)
	if errors.Is(err, calibration.ErrNonPositiveSpacing) {
		s.appendFrame(s.mover.Position())
		if perr := s.persist(); perr != nil {
			return 0, perr
		}
		return 0, err
	}
	if err != nil {
		return 0, err
	}

	s.appendFrame(rec.SecondPos)
	s.record = &state.CalibrationRecord{
		StepsPerFrame: rec.StepsPerFrame,
		FirstPos:      rec.FirstPos,
		SecondPos:     rec.SecondPos,
	}
	s.mode = ModeCalibrated
	s.mover.SetFrameAdvance(rec.StepsPerFrame)
	s.calibrating = false
	debug.Summary(debug.Fmt("Calibrated: %d steps per frame", rec.StepsPerFrame))
	return rec.StepsPerFrame, s.persist()
}

// BeginNewStrip starts the next physically loaded strip. It requires either a
// calibration record or manual mode, and refuses while the current strip has
// frames outstanding unless the operator abandoned it explicitly.
func (s *Session) BeginNewStrip() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.name == "" {
		return ErrNoRoll
	}
	if s.record == nil && s.mode != ModeManual {
		return ErrNeedCalibration
	}
	if s.framesInStrip > 0 && s.framesInStrip < s.framesPerStrip && !s.abandoned {
		return fmt.Errorf("%w: %d of %d frames captured", ErrStripAlreadyActive, s.framesInStrip, s.framesPerStrip)
	}

	s.stripCount++
	s.framesInStrip = 0
	s.abandoned = false
	debug.Live("strip %d started: hand-feed and align frame 1", s.stripCount)
	return s.persist()
}

// AbandonStrip marks the current strip as given up, allowing BeginNewStrip
// before the configured count is reached (torn film, bad exposures).
func (s *Session) AbandonStrip() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.name == "" {
		return ErrNoRoll
	}
	s.abandoned = true
	debug.Live("strip %d abandoned at %d frames", s.stripCount, s.framesInStrip)
	return nil
}

// CaptureResult reports what a capture did.
type CaptureResult struct {
	Frame         state.FrameRecord
	StripComplete bool
	Advanced      bool
}

// CaptureFrame captures the current frame. On success the frame is recorded
// and, in calibrated mode with auto-advance on, the transport advances by the
// frame spacing. If this capture just filled the strip, the advance is
// suppressed and StripComplete is set instead.
func (s *Session) CaptureFrame(ctx context.Context) (CaptureResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.name == "" {
		return CaptureResult{}, ErrNoRoll
	}
	if s.framesInStrip >= s.framesPerStrip {
		return CaptureResult{}, fmt.Errorf("%w: %d frames, begin a new strip first", ErrStripFull, s.framesInStrip)
	}

	if err := s.capt.Capture(ctx); err != nil {
		return CaptureResult{}, fmt.Errorf("scan: capture frame: %w", err)
	}

	frame := s.appendFrame(s.mover.Position())
	debug.Capture(frame.Strip, frame.InStrip, len(s.frames))
	if err := s.persist(); err != nil {
		return CaptureResult{}, err
	}

	res := CaptureResult{Frame: frame}
	if s.framesInStrip >= s.framesPerStrip {
		res.StripComplete = true
		debug.Live("strip %d complete (%d frames), auto-advance suppressed", s.stripCount, s.framesInStrip)
		return res, nil
	}

	if s.mode == ModeCalibrated && s.autoAdvance {
		if _, err := s.mover.AdvanceFrame(); err != nil {
			// The frame is recorded; only the advance failed.
			return res, fmt.Errorf("scan: auto-advance after capture: %w", err)
		}
		res.Advanced = true
		if err := s.persist(); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Session) appendFrame(pos int) state.FrameRecord {
	s.framesInStrip++
	frame := state.FrameRecord{
		Index:    len(s.frames) + 1,
		Strip:    s.stripCount,
		InStrip:  s.framesInStrip,
		Position: pos,
	}
	s.frames = append(s.frames, frame)
	return frame
}

// TestCapture runs the diagnostic capture sequence. No frame is recorded and
// no counter moves, whatever the outcome.
func (s *Session) TestCapture(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capt.TestCapture(ctx)
}

// ManualMove jogs the transport. Always permitted, in any mode; frame and
// strip counters are untouched and nothing is persisted.
func (s *Session) ManualMove(dir motion.Direction, class motion.Class) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mover.Move(dir, class)
}

// Zero re-zeros the position counters.
func (s *Session) Zero() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mover.Zero(); err != nil {
		return err
	}
	if s.name == "" {
		return nil
	}
	return s.persist()
}

// SetAutoAdvance toggles auto-advance.
func (s *Session) SetAutoAdvance(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.name == "" {
		return ErrNoRoll
	}
	s.autoAdvance = on
	return s.persist()
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() state.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() state.Snapshot {
	frames := make([]state.FrameRecord, len(s.frames))
	copy(frames, s.frames)

	var rec *state.CalibrationRecord
	if s.record != nil {
		r := *s.record
		rec = &r
	}
	return state.Snapshot{
		RollName:       s.name,
		FrameCount:     len(s.frames),
		StripCount:     s.stripCount,
		FramesInStrip:  s.framesInStrip,
		FramesPerStrip: s.framesPerStrip,
		Position:       s.mover.Position(),
		Calibration:    rec,
		Frames:         frames,
		Mode:           string(s.mode),
		AutoAdvance:    s.autoAdvance,
	}
}

func (s *Session) persist() error {
	snap := s.snapshot()
	if err := s.store.Save(&snap); err != nil {
		return fmt.Errorf("scan: persist session: %w", err)
	}
	return nil
}

// Close saves the final snapshot and releases the roll.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.name == "" {
		return nil
	}
	err := s.persist()
	s.name = ""
	s.frames = nil
	s.record = nil
	return err
}
