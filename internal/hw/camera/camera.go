package camera

import (
	"context"
	"errors"
)

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract capture device, regardless of how it's controlled
// (USB capture utility, network protocol, etc.).
type Camera interface {
	// Detect probes for an attached device. The implementation may
	// rate-limit probing and answer from cache.
	Detect(ctx context.Context) (Info, error)
	// Focus triggers autofocus. Not every device supports remote focus;
	// such devices answer ErrNotSupported.
	Focus(ctx context.Context) error
	// Capture triggers one exposure. The image stays on the device's own
	// storage; success is signalled by a nil error.
	Capture(ctx context.Context) error
	// Cleanup kills any stale helper process left holding the device.
	// It never fails and is safe to call at any time.
	Cleanup()
}

// Info describes a detected device.
type Info struct {
	Connected bool
	Model     string
}

// Device error classes. Transient errors are worth one retry after cleanup;
// fatal errors are surfaced immediately.
var (
	// ErrDeviceBusy covers "could not claim device" and similar transient
	// failures, usually caused by a stale helper process.
	ErrDeviceBusy = errors.New("camera: device busy")
	// ErrDeviceNotFound means no camera is attached or it disconnected.
	ErrDeviceNotFound = errors.New("camera: device not found")
	// ErrStorageFull means the device refused the capture for lack of space.
	ErrStorageFull = errors.New("camera: device storage full")
	// ErrNotSupported means the device does not implement the operation.
	ErrNotSupported = errors.New("camera: operation not supported")
)

// IsTransient reports whether err is worth a single retry after cleaning up
// stale processes. Deadline overruns count: a stuck helper holding the device
// is their most common cause.
func IsTransient(err error) bool {
	return errors.Is(err, ErrDeviceBusy) || errors.Is(err, context.DeadlineExceeded)
}
