package debug

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (roll opened, calibration result)
	LevelLive    = 2 // Live info (moves issued, frames captured)
	LevelVerbose = 3 // Verbose (command details, position math)
	LevelTrace   = 4 // Trace (serial wire traffic, very low level)
)

var (
	level  int
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (roll, strip, calibration summaries)
// 2 = live info (moves, captures)
// 3 = verbose (command details, positions, spacing math)
// 4 = trace (serial traffic, subprocess invocations)
func Init(debugLevel int) {
	level = debugLevel
	if level > LevelOff {
		logger = log.New(os.Stdout, "[stripscan] ", log.LstdFlags|log.Lmicroseconds)
	}
}

// SetOutput redirects debug output, e.g. to mirror it into the web status stream.
func SetOutput(w io.Writer) {
	if logger != nil {
		logger.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO] "+format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if level >= LevelOff && logger != nil {
		logger.Printf("═══════════════════════════════════════")
		logger.Printf("  %s", title)
		logger.Printf("═══════════════════════════════════════")
	}
}

// Roll prints important roll progress info (level 1).
func Roll(name string, strip, inStrip, total int) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO] Roll %q: strip %d, frame %d in strip, %d total", name, strip, inStrip, total)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] "+format, args...)
	}
}

// Move prints a motion event (level 2).
func Move(steps int, direction string) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] Moving %d steps (%s)", steps, direction)
	}
}

// Capture prints a capture event (level 2).
func Capture(strip, inStrip, total int) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] Captured: strip %d, frame %d in strip (total %d)", strip, inStrip, total)
	}
}

// Position prints the current motor position (level 2).
func Position(pos int) {
	if level >= LevelLive && logger != nil {
		logger.Printf("[LIVE] Position: %d steps", pos)
	}
}

// Warn prints a warning (level 1+, never fatal).
func Warn(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[WARN] "+format, args...)
	}
}

// --- Level 3 functions (Verbose) ---

// Verbose prints a level 3 message.
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] "+format, args...)
	}
}

// Print prints a level 3 message (alias for Verbose).
func Print(format string, args ...interface{}) {
	Verbose(format, args...)
}

// Printf is an alias for Print for compatibility.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] %s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Printf("  %s", name)
		logger.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose && logger != nil {
		logger.Printf("[VERBOSE] Step %d: %s", num, description)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[INFO]   %s = %v", name, value)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, serial wire).
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[TRACE] "+format, args...)
	}
}

// Serial prints a serial round-trip (level 4).
func Serial(cmd, response string) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[SERIAL] > %s  < %s", cmd, response)
	}
}

// Exec prints an external command invocation (level 4).
func Exec(name string, args []string) {
	if level >= LevelTrace && logger != nil {
		logger.Printf("[EXEC] %s %v", name, args)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo && logger != nil {
		logger.Printf("[ERROR] %v", err)
	}
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if level > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
