package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mlaroche/stripscan/internal/hw/link"
)

// Firmware responses that are not position reports.
var (
	// ErrLocked is returned when the firmware refuses a command because
	// motion is locked. No motion has occurred.
	ErrLocked = errors.New("transport: motion is locked")
	// ErrBadResponse is returned when the firmware answers something the
	// protocol does not define for the command sent.
	ErrBadResponse = errors.New("transport: unexpected firmware response")
)

// Transport speaks the text protocol of the film transport firmware over a
// Link. Motion commands answer with `POS:<n>`, the firmware's authoritative
// step counter after the move.
type Transport struct {
	link link.Link
}

func New(l link.Link) *Transport {
	return &Transport{link: l}
}

// Fine jogs by the firmware's configured fine step. Returns the firmware
// position counter.
func (t *Transport) Fine(forward bool) (int, error) {
	if forward {
		return t.move("f")
	}
	return t.move("b")
}

// Coarse jogs by the firmware's configured coarse step.
func (t *Transport) Coarse(forward bool) (int, error) {
	if forward {
		return t.move("F")
	}
	return t.move("B")
}

// Exact moves by exactly n steps in the given direction.
func (t *Transport) Exact(forward bool, n int) (int, error) {
	if forward {
		return t.move(fmt.Sprintf("H%d", n))
	}
	return t.move(fmt.Sprintf("h%d", n))
}

func (t *Transport) move(cmd string) (int, error) {
	resp, err := t.link.Send(cmd)
	if err != nil {
		return 0, err
	}
	return parsePos(resp)
}

// Zero resets the firmware position counter.
func (t *Transport) Zero() error {
	return t.expect("Z", "ZEROED")
}

// Unlock allows motion commands.
func (t *Transport) Unlock() error {
	return t.expect("U", "UNLOCKED")
}

// Lock refuses motion commands until unlocked.
func (t *Transport) Lock() error {
	return t.expect("X", "LOCKED")
}

// MotorOn enables holding torque.
func (t *Transport) MotorOn() error {
	return t.expect("E", "MOTOR ON")
}

// MotorOff disables holding torque so the film can be hand-fed.
func (t *Transport) MotorOff() error {
	return t.expect("M", "MOTOR OFF")
}

// Configuration setters. The firmware echoes the new value.

func (t *Transport) SetFrameAdvance(n int) error { return t.setConfig('S', n) }
func (t *Transport) SetFineStep(n int) error     { return t.setConfig('m', n) }
func (t *Transport) SetCoarseStep(n int) error   { return t.setConfig('l', n) }
func (t *Transport) SetStepDelay(n int) error    { return t.setConfig('v', n) }
func (t *Transport) SetBacklash(n int) error     { return t.setConfig('d', n) }

func (t *Transport) setConfig(flag byte, n int) error {
	resp, err := t.link.Send(fmt.Sprintf("%c%d", flag, n))
	if err != nil {
		return err
	}
	if resp == "LOCKED" {
		return ErrLocked
	}
	if strings.TrimSpace(resp) != strconv.Itoa(n) {
		return fmt.Errorf("%w: set %c=%d answered %q", ErrBadResponse, flag, n, resp)
	}
	return nil
}

// Status holds the parsed firmware status block.
type Status struct {
	Position int
	HasPos   bool
	Raw      []string
}

// Status queries the firmware state. The position line, when present, is
// reported as `Position: <n>` inside the block.
func (t *Transport) Status() (Status, error) {
	lines, err := t.link.Status()
	if err != nil {
		return Status{}, err
	}
	st := Status{Raw: lines}
	for _, line := range lines {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Position:")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil {
			continue
		}
		st.Position = n
		st.HasPos = true
	}
	return st, nil
}

func (t *Transport) expect(cmd, want string) error {
	resp, err := t.link.Send(cmd)
	if err != nil {
		return err
	}
	if resp == "LOCKED" && want != "LOCKED" {
		return ErrLocked
	}
	if resp != want {
		return fmt.Errorf("%w: %q answered %q (want %q)", ErrBadResponse, cmd, resp, want)
	}
	return nil
}

func parsePos(resp string) (int, error) {
	if resp == "LOCKED" {
		return 0, ErrLocked
	}
	rest, ok := strings.CutPrefix(resp, "POS:")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrBadResponse, resp)
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadResponse, resp)
	}
	return n, nil
}
