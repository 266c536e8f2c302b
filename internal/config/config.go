package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SerialConfig describes the link to the transport firmware.
type SerialConfig struct {
	Port          string `yaml:"port"`            // e.g. /dev/ttyACM0; empty = auto-probe
	BaudRate      int    `yaml:"baud_rate"`       // firmware default 115200
	ReadTimeoutMs int    `yaml:"read_timeout_ms"` // per response line
	ResetDelayMs  int    `yaml:"reset_delay_ms"`  // board reset time after open
	Mock          bool   `yaml:"mock"`            // use the fake firmware (dev/test)
}

// MotorConfig holds step sizes and motion tuning pushed to the firmware.
type MotorConfig struct {
	FineStep       int `yaml:"fine_step"`       // steps per fine jog
	CoarseStep     int `yaml:"coarse_step"`     // steps per coarse jog
	StepDelayUs    int `yaml:"step_delay_us"`   // microseconds between steps
	BacklashSteps  int `yaml:"backlash_steps"`  // compensation on direction reversal
	DefaultAdvance int `yaml:"default_advance"` // frame spacing estimate before calibration
	MaxExactSteps  int `yaml:"max_exact_steps"` // upper bound for exact moves
}

// CameraConfig describes the external capture utility.
type CameraConfig struct {
	Binary           string `yaml:"binary"`             // capture utility, default "gphoto2"
	FocusTimeoutMs   int    `yaml:"focus_timeout_ms"`   // bound on a focus attempt
	CaptureTimeoutMs int    `yaml:"capture_timeout_ms"` // bound on a capture attempt
	DetectIntervalS  int    `yaml:"detect_interval_s"`  // min seconds between auto-detect probes
}

// ScanConfig holds roll/strip parameters and the state directory.
type ScanConfig struct {
	FramesPerStrip int    `yaml:"frames_per_strip"` // physical strip length, typically 4-8
	ScansDir       string `yaml:"scans_dir"`        // per-roll state documents live here
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	WebPort    int `yaml:"web_port"`    // web shell port, 0 = disabled
}

// Config aggregates all application configuration.
type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Motor    MotorConfig    `yaml:"motor"`
	Camera   CameraConfig   `yaml:"camera"`
	Scan     ScanConfig     `yaml:"scan"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// stepBound is the sanity ceiling for any single configured or requested step count.
const stepBound = 100000

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() error {
	if c.Serial.BaudRate <= 0 {
		c.Serial.BaudRate = 115200
	}
	if c.Serial.ReadTimeoutMs <= 0 {
		c.Serial.ReadTimeoutMs = 3000
	}
	if c.Serial.ResetDelayMs <= 0 {
		c.Serial.ResetDelayMs = 2500 // board resets when the port opens
	}

	if c.Motor.FineStep <= 0 {
		c.Motor.FineStep = 8
	}
	if c.Motor.CoarseStep <= 0 {
		c.Motor.CoarseStep = 192
	}
	if c.Motor.StepDelayUs <= 0 {
		c.Motor.StepDelayUs = 800
	}
	if c.Motor.BacklashSteps < 0 {
		return fmt.Errorf("motor.backlash_steps must be >= 0, got %d", c.Motor.BacklashSteps)
	}
	if c.Motor.BacklashSteps == 0 {
		c.Motor.BacklashSteps = 20
	}
	if c.Motor.DefaultAdvance <= 0 {
		c.Motor.DefaultAdvance = 1200 // reasonable estimate for 35mm
	}
	if c.Motor.MaxExactSteps <= 0 {
		c.Motor.MaxExactSteps = 10000
	}
	for name, v := range map[string]int{
		"motor.fine_step":       c.Motor.FineStep,
		"motor.coarse_step":     c.Motor.CoarseStep,
		"motor.backlash_steps":  c.Motor.BacklashSteps,
		"motor.default_advance": c.Motor.DefaultAdvance,
		"motor.max_exact_steps": c.Motor.MaxExactSteps,
	} {
		if v > stepBound {
			return fmt.Errorf("%s must be <= %d, got %d", name, stepBound, v)
		}
	}

	if c.Camera.Binary == "" {
		c.Camera.Binary = "gphoto2"
	}
	if c.Camera.FocusTimeoutMs <= 0 {
		c.Camera.FocusTimeoutMs = 5000
	}
	if c.Camera.CaptureTimeoutMs <= 0 {
		c.Camera.CaptureTimeoutMs = 15000
	}
	if c.Camera.DetectIntervalS <= 0 {
		c.Camera.DetectIntervalS = 5
	}

	if c.Scan.FramesPerStrip == 0 {
		c.Scan.FramesPerStrip = 6
	}
	if c.Scan.FramesPerStrip < 1 || c.Scan.FramesPerStrip > 40 {
		return fmt.Errorf("scan.frames_per_strip must be between 1 and 40, got %d", c.Scan.FramesPerStrip)
	}
	if c.Scan.ScansDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir for scans_dir: %w", err)
		}
		c.Scan.ScansDir = filepath.Join(home, "scans")
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	if c.Defaults.WebPort < 0 || c.Defaults.WebPort > 65535 {
		return fmt.Errorf("web_port must be between 0 and 65535, got %d", c.Defaults.WebPort)
	}

	return nil
}

// ReadTimeout returns the per-line serial read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Serial.ReadTimeoutMs) * time.Millisecond
}

// ResetDelay returns the wait after opening the serial port.
func (c *Config) ResetDelay() time.Duration {
	return time.Duration(c.Serial.ResetDelayMs) * time.Millisecond
}

// FocusTimeout returns the bound on a single focus attempt.
func (c *Config) FocusTimeout() time.Duration {
	return time.Duration(c.Camera.FocusTimeoutMs) * time.Millisecond
}

// CaptureTimeout returns the bound on a single capture attempt.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Camera.CaptureTimeoutMs) * time.Millisecond
}

// DetectInterval returns the minimum interval between camera auto-detect probes.
func (c *Config) DetectInterval() time.Duration {
	return time.Duration(c.Camera.DetectIntervalS) * time.Second
}
