package scan

import "errors"

var (
	// ErrNoRoll means the operation needs an open roll.
	ErrNoRoll = errors.New("scan: no roll open")

	// ErrInvalidName rejects empty or path-hostile roll names (the name
	// doubles as the storage-path key).
	ErrInvalidName = errors.New("scan: invalid roll name")

	// ErrStripFull rejects a capture once the strip has reached its
	// configured frame count; the operator must begin a new strip.
	ErrStripFull = errors.New("scan: strip is full")

	// ErrStripAlreadyActive rejects a new strip while the current one has
	// frames left and has not been explicitly abandoned.
	ErrStripAlreadyActive = errors.New("scan: current strip is still active")

	// ErrAlreadyCalibrated rejects begin-calibration when a record exists;
	// re-calibration is a separate explicit operation.
	ErrAlreadyCalibrated = errors.New("scan: roll is already calibrated")

	// ErrCalibrationAfterCapture rejects calibration once any frame has
	// been captured in the active strip; calibration itself performs the
	// strip's first two captures.
	ErrCalibrationAfterCapture = errors.New("scan: calibration must precede any capture in the strip")

	// ErrNotCalibrating means a calibration step was requested without
	// begin-calibration.
	ErrNotCalibrating = errors.New("scan: calibration not in progress")

	// ErrNeedCalibration means a new strip needs a calibration record (or
	// manual mode).
	ErrNeedCalibration = errors.New("scan: calibrate before starting a new strip")
)
