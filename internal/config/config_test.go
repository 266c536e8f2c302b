package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// ---------- Load ----------

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
serial:
  port: /dev/ttyACM0
  baud_rate: 57600
  mock: true
motor:
  fine_step: 16
  coarse_step: 256
  backlash_steps: 30
  default_advance: 1500
camera:
  binary: gphoto2-custom
  focus_timeout_ms: 3000
scan:
  frames_per_strip: 4
  scans_dir: /tmp/scans
defaults:
  debug_level: 3
  web_port: 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Serial.Port != "/dev/ttyACM0" {
		t.Errorf("port = %q, want /dev/ttyACM0", cfg.Serial.Port)
	}
	if cfg.Serial.BaudRate != 57600 {
		t.Errorf("baud = %d, want 57600", cfg.Serial.BaudRate)
	}
	if !cfg.Serial.Mock {
		t.Error("mock should be true")
	}
	if cfg.Motor.FineStep != 16 || cfg.Motor.CoarseStep != 256 {
		t.Errorf("steps = %d/%d, want 16/256", cfg.Motor.FineStep, cfg.Motor.CoarseStep)
	}
	if cfg.Motor.BacklashSteps != 30 {
		t.Errorf("backlash = %d, want 30", cfg.Motor.BacklashSteps)
	}
	if cfg.Camera.Binary != "gphoto2-custom" {
		t.Errorf("binary = %q, want gphoto2-custom", cfg.Camera.Binary)
	}
	if cfg.Scan.FramesPerStrip != 4 {
		t.Errorf("frames_per_strip = %d, want 4", cfg.Scan.FramesPerStrip)
	}
	if cfg.Defaults.DebugLevel != 3 {
		t.Errorf("debug_level = %d, want 3", cfg.Defaults.DebugLevel)
	}
}

func TestLoad_EmptyFileGetsDefaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("baud = %d, want 115200", cfg.Serial.BaudRate)
	}
	if cfg.Motor.FineStep != 8 {
		t.Errorf("fine_step = %d, want 8", cfg.Motor.FineStep)
	}
	if cfg.Motor.CoarseStep != 192 {
		t.Errorf("coarse_step = %d, want 192", cfg.Motor.CoarseStep)
	}
	if cfg.Motor.BacklashSteps != 20 {
		t.Errorf("backlash_steps = %d, want 20", cfg.Motor.BacklashSteps)
	}
	if cfg.Motor.DefaultAdvance != 1200 {
		t.Errorf("default_advance = %d, want 1200", cfg.Motor.DefaultAdvance)
	}
	if cfg.Camera.Binary != "gphoto2" {
		t.Errorf("binary = %q, want gphoto2", cfg.Camera.Binary)
	}
	if cfg.Scan.FramesPerStrip != 6 {
		t.Errorf("frames_per_strip = %d, want 6", cfg.Scan.FramesPerStrip)
	}
	if cfg.Scan.ScansDir == "" {
		t.Error("scans_dir should default to a home subdirectory")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "serial: [not a mapping")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{"negative_backlash", "motor:\n  backlash_steps: -1\n", "backlash_steps"},
		{"huge_advance", "motor:\n  default_advance: 200000\n", "default_advance"},
		{"strip_too_long", "scan:\n  frames_per_strip: 41\n", "frames_per_strip"},
		{"negative_strip", "scan:\n  frames_per_strip: -2\n", "frames_per_strip"},
		{"debug_out_of_range", "defaults:\n  debug_level: 5\n", "debug_level"},
		{"bad_port", "defaults:\n  web_port: 70000\n", "web_port"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q should mention %q", err, tc.wantSub)
			}
		})
	}
}

// ---------- Default ----------

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Serial.BaudRate != 115200 {
		t.Errorf("baud = %d, want 115200", cfg.Serial.BaudRate)
	}
	if cfg.Scan.FramesPerStrip != 6 {
		t.Errorf("frames_per_strip = %d, want 6", cfg.Scan.FramesPerStrip)
	}
	if cfg.Defaults.WebPort != 0 {
		t.Errorf("web_port = %d, want 0", cfg.Defaults.WebPort)
	}
}

// ---------- Duration accessors ----------

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	cfg.Serial.ReadTimeoutMs = 1500
	cfg.Serial.ResetDelayMs = 2000
	cfg.Camera.FocusTimeoutMs = 4000
	cfg.Camera.CaptureTimeoutMs = 12000
	cfg.Camera.DetectIntervalS = 7

	if got := cfg.ReadTimeout(); got != 1500*time.Millisecond {
		t.Errorf("ReadTimeout = %v", got)
	}
	if got := cfg.ResetDelay(); got != 2*time.Second {
		t.Errorf("ResetDelay = %v", got)
	}
	if got := cfg.FocusTimeout(); got != 4*time.Second {
		t.Errorf("FocusTimeout = %v", got)
	}
	if got := cfg.CaptureTimeout(); got != 12*time.Second {
		t.Errorf("CaptureTimeout = %v", got)
	}
	if got := cfg.DetectInterval(); got != 7*time.Second {
		t.Errorf("DetectInterval = %v", got)
	}
}
