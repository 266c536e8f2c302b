package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mlaroche/stripscan/internal/debug"
)

// ErrNotFound means no saved session exists for the roll name.
var ErrNotFound = errors.New("state: no saved session")

// FrameRecord is one captured frame: global index, strip placement, and the
// motor position at capture time. Immutable once appended.
type FrameRecord struct {
	Index    int `json:"index"`
	Strip    int `json:"strip"`
	InStrip  int `json:"in_strip"`
	Position int `json:"position"`
}

// CalibrationRecord mirrors the derived frame spacing and its two raw
// positions. Absent (nil) until calibration completes.
type CalibrationRecord struct {
	StepsPerFrame int `json:"steps_per_frame"`
	FirstPos      int `json:"first_pos"`
	SecondPos     int `json:"second_pos"`
}

// Snapshot is the full serializable session state, written after every
// mutating operation and read once at roll-open time. Unknown fields in an
// older document are ignored and missing fields take zero values, so saved
// sessions stay readable across versions.
type Snapshot struct {
	RollName       string             `json:"roll_name"`
	FrameCount     int                `json:"frame_count"`
	StripCount     int                `json:"strip_count"`
	FramesInStrip  int                `json:"frames_in_strip"`
	FramesPerStrip int                `json:"frames_per_strip"`
	Position       int                `json:"position"`
	Calibration    *CalibrationRecord `json:"calibration,omitempty"`
	Frames         []FrameRecord      `json:"frames"`
	Mode           string             `json:"mode"`
	AutoAdvance    bool               `json:"auto_advance"`
	LastUpdated    time.Time          `json:"last_updated"`
}

// Store persists one state document per roll under <dir>/<roll>/state.json.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes the snapshot durably. The substrate gives no atomic-write
// guarantee, so the document goes to a temporary file first and is renamed
// into place; a crash mid-write never leaves a truncated document behind.
func (s *Store) Save(snap *Snapshot) error {
	if snap.RollName == "" {
		return fmt.Errorf("state: snapshot has no roll name")
	}
	snap.LastUpdated = time.Now()

	dir := filepath.Join(s.dir, snap.RollName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("state: create roll dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	path := filepath.Join(dir, "state.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("state: rename into place: %w", err)
	}

	debug.Verbose("state saved: %s (%d frames)", path, snap.FrameCount)
	return nil
}

// Load returns the last saved snapshot for the roll, or ErrNotFound.
func (s *Store) Load(name string) (*Snapshot, error) {
	path := filepath.Join(s.dir, name, "state.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("state: read %s: %w", path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("state: parse %s: %w", path, err)
	}
	if snap.RollName == "" {
		snap.RollName = name
	}
	return &snap, nil
}

// Delete removes the saved session for the roll. Used only by explicit
// operator action (start over).
func (s *Store) Delete(name string) error {
	path := filepath.Join(s.dir, name, "state.json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("state: delete %s: %w", path, err)
	}
	return nil
}
