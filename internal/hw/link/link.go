package link

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mlaroche/stripscan/internal/debug"
)

// Link defines the abstract interface for talking to the transport firmware.
// The protocol is text line-oriented: one command per line, one status line
// per response (the `?` query answers with a multi-line block).
// This allows plugging in a real serial implementation or a fake firmware
// for development on a machine without the transport attached.
type Link interface {
	// Send writes one command line and returns the first response line.
	Send(cmd string) (string, error)
	// Status sends `?` and returns the full status block.
	Status() ([]string, error)
	Close() error
}

// New creates a link based on the chosen mode. If mock is true, it returns a
// fake in-memory firmware (for dev/test). Otherwise it opens the serial port,
// auto-probing when port is empty.
func New(mock bool, port string, baud int, opts SerialOptions) (Link, error) {
	if mock {
		debug.Info("Using FAKE firmware link (development mode)")
		return NewFake(), nil
	}
	return OpenSerial(port, baud, opts)
}

// Fake is an in-memory implementation of the transport firmware protocol.
// It mirrors the real firmware's semantics closely enough for the motion
// layer and its tests: position accounting per command, lock/unlock,
// motor torque, and configurable step sizes.
type Fake struct {
	mu sync.Mutex

	Pos     int
	Locked  bool
	MotorOn bool

	FineStep   int
	CoarseStep int
	Advance    int
	StepDelay  int
	Backlash   int

	// Sent records every command line in order, for test assertions.
	Sent []string

	// Fail forces every Send to return an error, simulating a dead link.
	Fail error
}

// NewFake creates a fake firmware with the real firmware's defaults.
func NewFake() *Fake {
	return &Fake{
		FineStep:   8,
		CoarseStep: 192,
		Advance:    1200,
		StepDelay:  800,
		Backlash:   20,
	}
}

func (f *Fake) Send(cmd string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Fail != nil {
		return "", f.Fail
	}
	f.Sent = append(f.Sent, cmd)

	resp := f.handle(cmd)
	debug.Serial(cmd, resp)
	return resp, nil
}

func (f *Fake) handle(cmd string) string {
	if cmd == "" {
		return "ERR"
	}

	// Lock gates every motion command, config included.
	if f.Locked && cmd != "U" && cmd != "?" {
		return "LOCKED"
	}

	switch cmd[0] {
	case 'f':
		f.Pos += f.FineStep
		return f.pos()
	case 'b':
		f.Pos -= f.FineStep
		return f.pos()
	case 'F':
		f.Pos += f.CoarseStep
		return f.pos()
	case 'B':
		f.Pos -= f.CoarseStep
		return f.pos()
	case 'H':
		n, err := parseSteps(cmd[1:])
		if err != nil {
			return "ERR"
		}
		f.Pos += n
		return f.pos()
	case 'h':
		n, err := parseSteps(cmd[1:])
		if err != nil {
			return "ERR"
		}
		f.Pos -= n
		return f.pos()
	case 'Z':
		f.Pos = 0
		return "ZEROED"
	case 'U':
		f.Locked = false
		return "UNLOCKED"
	case 'X':
		f.Locked = true
		return "LOCKED"
	case 'E':
		f.MotorOn = true
		return "MOTOR ON"
	case 'M':
		f.MotorOn = false
		return "MOTOR OFF"
	case 'S':
		return f.set(&f.Advance, cmd[1:])
	case 'm':
		return f.set(&f.FineStep, cmd[1:])
	case 'l':
		return f.set(&f.CoarseStep, cmd[1:])
	case 'v':
		return f.set(&f.StepDelay, cmd[1:])
	case 'd':
		return f.set(&f.Backlash, cmd[1:])
	case '?':
		return "READY"
	}
	return "ERR"
}

func (f *Fake) set(field *int, arg string) string {
	n, err := parseSteps(arg)
	if err != nil {
		return "ERR"
	}
	*field = n
	return fmt.Sprintf("%d", n)
}

func (f *Fake) pos() string {
	return fmt.Sprintf("POS:%d", f.Pos)
}

func (f *Fake) Status() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Fail != nil {
		return nil, f.Fail
	}
	f.Sent = append(f.Sent, "?")

	motor := "OFF"
	if f.MotorOn {
		motor = "ON"
	}
	lock := "UNLOCKED"
	if f.Locked {
		lock = "LOCKED"
	}
	return []string{
		"STATUS READY",
		fmt.Sprintf("Position: %d", f.Pos),
		fmt.Sprintf("Motor: %s", motor),
		lock,
	}, nil
}

func (f *Fake) Close() error {
	debug.Trace("link Close (fake)")
	return nil
}

// SentCommands returns a copy of all commands sent so far.
func (f *Fake) SentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Sent))
	copy(out, f.Sent)
	return out
}

func parseSteps(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing step count")
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("bad step count %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
