package camera

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mlaroche/stripscan/internal/debug"
)

// runFunc executes an external command and returns its combined output.
// Swappable for tests.
type runFunc func(ctx context.Context, name string, args ...string) (string, error)

func execRun(ctx context.Context, name string, args ...string) (string, error) {
	debug.Exec(name, args)
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// GPhoto2 drives a USB-attached still camera through the gphoto2 command-line
// utility. gphoto2 spawns helper processes that hold an exclusive device lock
// and may outlive an abnormal exit, so every operation here assumes a stale
// helper might exist.
type GPhoto2 struct {
	binary string
	run    runFunc

	detectEvery time.Duration

	mu         sync.Mutex
	lastDetect time.Time
	cached     Info
}

// NewGPhoto2 creates a gphoto2-backed camera. detectEvery rate-limits
// auto-detect probing; repeated Detect calls inside the window answer from
// cache.
func NewGPhoto2(binary string, detectEvery time.Duration) *GPhoto2 {
	if binary == "" {
		binary = "gphoto2"
	}
	return &GPhoto2{
		binary:      binary,
		run:         execRun,
		detectEvery: detectEvery,
	}
}

// Detect probes for an attached camera with `--auto-detect` and extracts the
// model name from the first data line.
func (g *GPhoto2) Detect(ctx context.Context) (Info, error) {
	g.mu.Lock()
	if time.Since(g.lastDetect) < g.detectEvery {
		info := g.cached
		g.mu.Unlock()
		return info, nil
	}
	g.mu.Unlock()

	out, err := g.run(ctx, g.binary, "--auto-detect")
	info := parseAutoDetect(out, err == nil)

	g.mu.Lock()
	g.lastDetect = time.Now()
	g.cached = info
	g.mu.Unlock()

	if err != nil && !info.Connected {
		return info, fmt.Errorf("%w: %s", ErrDeviceNotFound, firstLine(out))
	}
	return info, nil
}

// parseAutoDetect reads the `--auto-detect` table: two header lines, then one
// line per device ending in a usb: port reference.
func parseAutoDetect(out string, exitOK bool) Info {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if !exitOK || len(lines) <= 2 || !strings.Contains(strings.ToLower(out), "usb:") {
		return Info{}
	}
	model := strings.TrimSpace(strings.Split(lines[2], "usb:")[0])
	if model == "" {
		model = "Camera"
	}
	return Info{Connected: true, Model: model}
}

// Focus triggers autofocus. Many cameras expose it as a config toggle, others
// only focus during a preview capture, so both are attempted.
func (g *GPhoto2) Focus(ctx context.Context) error {
	// The config toggle is best-effort; devices without it answer with a
	// config error and the preview path below still applies.
	_, _ = g.run(ctx, g.binary, "--set-config", "autofocus=1")

	out, err := g.run(ctx, g.binary, "--capture-preview")
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classify(out, err)
	}
	return nil
}

// Capture triggers one exposure. The image stays on the camera card
// (capturetarget is pushed there by SetupRAW); nothing is downloaded.
func (g *GPhoto2) Capture(ctx context.Context) error {
	out, err := g.run(ctx, g.binary, "--capture-image")
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return classify(out, err)
	}
	return nil
}

// SetupRAW pushes the RAW format and on-camera storage configuration.
// Config names differ between vendors, so several are tried and individual
// failures are ignored.
func (g *GPhoto2) SetupRAW(ctx context.Context) {
	for _, kv := range []string{
		"imageformat=RAW",
		"imagequality=RAW",
		"capturetarget=Memory card",
	} {
		_, _ = g.run(ctx, g.binary, "--set-config", kv)
	}
}

// Cleanup kills stale gphoto2 helper processes. A helper that failed to exit
// cleanly keeps the device claimed and breaks every later attempt.
func (g *GPhoto2) Cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = g.run(ctx, "killall", g.binary)
	time.Sleep(200 * time.Millisecond)
}

// classify maps gphoto2's exit error and output onto the device error classes.
func classify(out string, err error) error {
	lower := strings.ToLower(out)
	switch {
	case strings.Contains(lower, "could not claim"),
		strings.Contains(lower, "device busy"),
		strings.Contains(out, "PTP"):
		return fmt.Errorf("%w: %s", ErrDeviceBusy, firstLine(out))
	case strings.Contains(lower, "no camera found"),
		strings.Contains(lower, "not found"),
		strings.Contains(lower, "no such device"):
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, firstLine(out))
	case strings.Contains(lower, "storage"),
		strings.Contains(lower, "no space"),
		strings.Contains(lower, "card full"):
		return fmt.Errorf("%w: %s", ErrStorageFull, firstLine(out))
	case strings.Contains(lower, "not supported"),
		strings.Contains(lower, "unsupported"),
		strings.Contains(lower, "bad parameters"):
		return fmt.Errorf("%w: %s", ErrNotSupported, firstLine(out))
	}
	return fmt.Errorf("camera: command failed: %v (%s)", err, firstLine(out))
}

func firstLine(out string) string {
	out = strings.TrimSpace(out)
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	}
	if len(out) > 120 {
		out = out[:120]
	}
	return out
}
