package web

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/mlaroche/stripscan/internal/hw/transport"
	"github.com/mlaroche/stripscan/internal/logic/calibration"
	"github.com/mlaroche/stripscan/internal/logic/motion"
	"github.com/mlaroche/stripscan/internal/logic/scan"
	"github.com/mlaroche/stripscan/internal/state"
)

// Engine is the session surface the handlers need; *scan.Session satisfies
// it, tests use a fake.
type Engine interface {
	OpenRoll(name string) (scan.OpenResult, error)
	BeginCalibration() error
	Recalibrate() error
	CalibrateFirst(ctx context.Context) (int, error)
	CalibrateSecond(ctx context.Context) (int, error)
	BeginNewStrip() error
	AbandonStrip() error
	CaptureFrame(ctx context.Context) (scan.CaptureResult, error)
	TestCapture(ctx context.Context) error
	ManualMove(dir motion.Direction, class motion.Class) (int, error)
	Zero() error
	SetAutoAdvance(on bool) error
	Snapshot() state.Snapshot
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	engine      Engine
	broadcaster *Broadcaster
	staticFS    fs.FS
}

func NewHandlers(engine Engine, broadcaster *Broadcaster, staticFS fs.FS) *Handlers {
	return &Handlers{
		engine:      engine,
		broadcaster: broadcaster,
		staticFS:    staticFS,
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState returns the current session snapshot.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Snapshot())
}

// HandleOpenRoll opens or resumes a roll.
func (h *Handlers) HandleOpenRoll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	res, err := h.engine.OpenRoll(req.Name)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.stateChanged()
	writeJSON(w, http.StatusOK, res)
}

// HandleCalibration drives the three calibration steps: begin, first, second.
// Begin with force=true restarts calibration over an existing record.
func (h *Handlers) HandleCalibration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Step  string `json:"step"`
		Force bool   `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	switch req.Step {
	case "begin":
		var err error
		if req.Force {
			err = h.engine.Recalibrate()
		} else {
			err = h.engine.BeginCalibration()
		}
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "calibrating"})
	case "first":
		pos, err := h.engine.CalibrateFirst(r.Context())
		if err != nil {
			h.fail(w, err)
			return
		}
		h.stateChanged()
		writeJSON(w, http.StatusOK, map[string]int{"position": pos})
	case "second":
		spacing, err := h.engine.CalibrateSecond(r.Context())
		if err != nil {
			h.fail(w, err)
			return
		}
		h.stateChanged()
		writeJSON(w, http.StatusOK, map[string]int{"steps_per_frame": spacing})
	default:
		http.Error(w, "step must be begin, first or second", http.StatusBadRequest)
	}
}

// HandleStrip begins a new strip, optionally abandoning the current one.
func (h *Handlers) HandleStrip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Abandon bool `json:"abandon"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Abandon {
		if err := h.engine.AbandonStrip(); err != nil {
			h.fail(w, err)
			return
		}
	}
	if err := h.engine.BeginNewStrip(); err != nil {
		h.fail(w, err)
		return
	}
	h.stateChanged()
	writeJSON(w, http.StatusOK, map[string]string{"status": "new strip"})
}

// HandleCapture captures the current frame, or runs the diagnostic test
// sequence when test is set.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Test bool `json:"test"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Test {
		if err := h.engine.TestCapture(r.Context()); err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "test capture ok"})
		return
	}

	res, err := h.engine.CaptureFrame(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.stateChanged()
	writeJSON(w, http.StatusOK, res)
}

// HandleMove jogs the transport manually.
func (h *Handlers) HandleMove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Direction string `json:"direction"` // forward | backward
		Class     string `json:"class"`     // fine | coarse | frame | exact
		Steps     int    `json:"steps"`     // for exact
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	var dir motion.Direction
	switch req.Direction {
	case "forward":
		dir = motion.Forward
	case "backward":
		dir = motion.Backward
	default:
		http.Error(w, "direction must be forward or backward", http.StatusBadRequest)
		return
	}

	var class motion.Class
	switch req.Class {
	case "fine":
		class = motion.Fine()
	case "coarse":
		class = motion.Coarse()
	case "frame":
		class = motion.Frame()
	case "exact":
		class = motion.Exact(req.Steps)
	default:
		http.Error(w, "class must be fine, coarse, frame or exact", http.StatusBadRequest)
		return
	}

	pos, err := h.engine.ManualMove(dir, class)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"position": pos})
}

// HandleZero re-zeros the position counters.
func (h *Handlers) HandleZero(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Zero(); err != nil {
		h.fail(w, err)
		return
	}
	h.stateChanged()
	writeJSON(w, http.StatusOK, map[string]int{"position": 0})
}

// HandleAutoAdvance toggles auto-advance.
func (h *Handlers) HandleAutoAdvance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.engine.SetAutoAdvance(req.Enabled); err != nil {
		h.fail(w, err)
		return
	}
	h.stateChanged()
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

// HandleStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, unsub := h.broadcaster.Subscribe()
	defer unsub()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("data: " + payload + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// stateChanged pushes the fresh snapshot to SSE clients.
func (h *Handlers) stateChanged() {
	snap := h.engine.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	h.broadcaster.State(data)
}

// fail maps an engine error onto an HTTP status.
func (h *Handlers) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, scan.ErrInvalidName),
		errors.Is(err, motion.ErrInvalidStepCount):
		code = http.StatusBadRequest
	case errors.Is(err, scan.ErrNoRoll),
		errors.Is(err, scan.ErrStripFull),
		errors.Is(err, scan.ErrStripAlreadyActive),
		errors.Is(err, scan.ErrAlreadyCalibrated),
		errors.Is(err, scan.ErrCalibrationAfterCapture),
		errors.Is(err, scan.ErrNotCalibrating),
		errors.Is(err, scan.ErrNeedCalibration),
		errors.Is(err, calibration.ErrNonPositiveSpacing),
		errors.Is(err, calibration.ErrNoFirstMark),
		errors.Is(err, transport.ErrLocked):
		code = http.StatusConflict
	case errors.Is(err, motion.ErrLinkUnavailable):
		code = http.StatusBadGateway
	}
	h.broadcaster.Log("error", err.Error())
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
