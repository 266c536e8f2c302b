package transport

import (
	"errors"
	"testing"

	"github.com/mlaroche/stripscan/internal/hw/link"
)

// scriptLink answers each command from a canned map, recording what was sent.
type scriptLink struct {
	replies map[string]string
	status  []string
	err     error
	sent    []string
}

func (s *scriptLink) Send(cmd string) (string, error) {
	s.sent = append(s.sent, cmd)
	if s.err != nil {
		return "", s.err
	}
	if resp, ok := s.replies[cmd]; ok {
		return resp, nil
	}
	return "ERR", nil
}

func (s *scriptLink) Status() ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.status, nil
}

func (s *scriptLink) Close() error { return nil }

func TestMoves_WireCommands(t *testing.T) {
	cases := []struct {
		name    string
		call    func(tr *Transport) (int, error)
		cmd     string
		reply   string
		wantPos int
	}{
		{"fine_forward", func(tr *Transport) (int, error) { return tr.Fine(true) }, "f", "POS:8", 8},
		{"fine_backward", func(tr *Transport) (int, error) { return tr.Fine(false) }, "b", "POS:-8", -8},
		{"coarse_forward", func(tr *Transport) (int, error) { return tr.Coarse(true) }, "F", "POS:192", 192},
		{"coarse_backward", func(tr *Transport) (int, error) { return tr.Coarse(false) }, "B", "POS:-192", -192},
		{"exact_forward", func(tr *Transport) (int, error) { return tr.Exact(true, 1200) }, "H1200", "POS:1200", 1200},
		{"exact_backward", func(tr *Transport) (int, error) { return tr.Exact(false, 40) }, "h40", "POS:-40", -40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lk := &scriptLink{replies: map[string]string{tc.cmd: tc.reply}}
			tr := New(lk)

			pos, err := tc.call(tr)
			if err != nil {
				t.Fatalf("move: %v", err)
			}
			if pos != tc.wantPos {
				t.Errorf("pos = %d, want %d", pos, tc.wantPos)
			}
			if len(lk.sent) != 1 || lk.sent[0] != tc.cmd {
				t.Errorf("sent = %v, want [%s]", lk.sent, tc.cmd)
			}
		})
	}
}

func TestMove_LockedRefusal(t *testing.T) {
	lk := &scriptLink{replies: map[string]string{"f": "LOCKED"}}
	tr := New(lk)

	_, err := tr.Fine(true)
	if !errors.Is(err, ErrLocked) {
		t.Errorf("err = %v, want ErrLocked", err)
	}
}

func TestMove_BadResponse(t *testing.T) {
	lk := &scriptLink{replies: map[string]string{"f": "WAT"}}
	tr := New(lk)

	_, err := tr.Fine(true)
	if !errors.Is(err, ErrBadResponse) {
		t.Errorf("err = %v, want ErrBadResponse", err)
	}
}

func TestMove_LinkError(t *testing.T) {
	boom := errors.New("read: port closed")
	lk := &scriptLink{err: boom}
	tr := New(lk)

	if _, err := tr.Fine(true); !errors.Is(err, boom) {
		t.Errorf("err = %v, want link error passed through", err)
	}
}

func TestStateCommands(t *testing.T) {
	lk := &scriptLink{replies: map[string]string{
		"Z": "ZEROED",
		"U": "UNLOCKED",
		"X": "LOCKED",
		"E": "MOTOR ON",
		"M": "MOTOR OFF",
	}}
	tr := New(lk)

	for name, call := range map[string]func() error{
		"zero":      tr.Zero,
		"unlock":    tr.Unlock,
		"lock":      tr.Lock,
		"motor_on":  tr.MotorOn,
		"motor_off": tr.MotorOff,
	} {
		if err := call(); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestZero_Locked(t *testing.T) {
	lk := &scriptLink{replies: map[string]string{"Z": "LOCKED"}}
	tr := New(lk)

	if err := tr.Zero(); !errors.Is(err, ErrLocked) {
		t.Errorf("err = %v, want ErrLocked", err)
	}
}

func TestConfigSetters(t *testing.T) {
	lk := &scriptLink{replies: map[string]string{
		"S1350": "1350",
		"m16":   "16",
		"l256":  "256",
		"v600":  "600",
		"d25":   "25",
	}}
	tr := New(lk)

	for name, call := range map[string]func() error{
		"frame_advance": func() error { return tr.SetFrameAdvance(1350) },
		"fine_step":     func() error { return tr.SetFineStep(16) },
		"coarse_step":   func() error { return tr.SetCoarseStep(256) },
		"step_delay":    func() error { return tr.SetStepDelay(600) },
		"backlash":      func() error { return tr.SetBacklash(25) },
	} {
		if err := call(); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestConfigSetter_WrongEcho(t *testing.T) {
	lk := &scriptLink{replies: map[string]string{"S1350": "1349"}}
	tr := New(lk)

	if err := tr.SetFrameAdvance(1350); !errors.Is(err, ErrBadResponse) {
		t.Errorf("err = %v, want ErrBadResponse", err)
	}
}

func TestStatus_ParsesPosition(t *testing.T) {
	lk := &scriptLink{status: []string{
		"STATUS READY",
		"Position: -420",
		"Motor: ON",
		"UNLOCKED",
	}}
	tr := New(lk)

	st, err := tr.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.HasPos {
		t.Fatal("HasPos should be true")
	}
	if st.Position != -420 {
		t.Errorf("position = %d, want -420", st.Position)
	}
	if len(st.Raw) != 4 {
		t.Errorf("raw lines = %d, want 4", len(st.Raw))
	}
}

func TestStatus_NoPositionLine(t *testing.T) {
	lk := &scriptLink{status: []string{"STATUS READY", "Motor: OFF"}}
	tr := New(lk)

	st, err := tr.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.HasPos {
		t.Error("HasPos should be false without a position line")
	}
}

func TestTransport_AgainstFakeFirmware(t *testing.T) {
	f := link.NewFake()
	tr := New(f)

	if err := tr.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := tr.MotorOn(); err != nil {
		t.Fatalf("motor on: %v", err)
	}
	pos, err := tr.Exact(true, 1200)
	if err != nil {
		t.Fatalf("exact: %v", err)
	}
	if pos != 1200 {
		t.Errorf("pos = %d, want 1200", pos)
	}
	if err := tr.Lock(); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := tr.Fine(true); !errors.Is(err, ErrLocked) {
		t.Errorf("fine while locked: %v, want ErrLocked", err)
	}
}
