package link

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/mlaroche/stripscan/internal/debug"
)

// SerialOptions tunes the serial link behaviour.
type SerialOptions struct {
	ReadTimeout time.Duration // per response line
	ResetDelay  time.Duration // wait after open while the board resets
}

// SerialLink is the real implementation over a USB serial port.
type SerialLink struct {
	mu   sync.Mutex
	port serial.Port
	opts SerialOptions
}

// OpenSerial opens the transport firmware port. When path is empty the
// candidate ports are probed until one answers the status query with a
// recognizable banner.
func OpenSerial(path string, baud int, opts SerialOptions) (*SerialLink, error) {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 3 * time.Second
	}

	if path != "" {
		return openPort(path, baud, opts)
	}

	for _, candidate := range candidatePorts() {
		l, err := openPort(candidate, baud, opts)
		if err != nil {
			debug.Verbose("probe %s: %v", candidate, err)
			continue
		}
		if l.looksLikeTransport() {
			debug.Info("Transport firmware found on %s", candidate)
			return l, nil
		}
		_ = l.Close()
	}
	return nil, fmt.Errorf("no transport firmware found on any serial port")
}

func openPort(path string, baud int, opts SerialOptions) (*SerialLink, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(opts.ReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
	}

	// The board resets when the port opens; give it time to boot.
	if opts.ResetDelay > 0 {
		time.Sleep(opts.ResetDelay)
	}
	_ = port.ResetInputBuffer()

	return &SerialLink{port: port, opts: opts}, nil
}

// candidatePorts lists ports worth probing: everything the OS enumerates,
// plus the fixed device nodes a Raspberry Pi exposes.
func candidatePorts() []string {
	seen := map[string]bool{}
	var out []string

	if ports, err := serial.GetPortsList(); err == nil {
		for _, p := range ports {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	for _, p := range []string{"/dev/ttyACM0", "/dev/ttyUSB0", "/dev/serial0", "/dev/ttyAMA0"} {
		if seen[p] {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// looksLikeTransport sends a status query and checks for the firmware banner.
func (l *SerialLink) looksLikeTransport() bool {
	lines, err := l.Status()
	if err != nil {
		return false
	}
	joined := strings.Join(lines, "\n")
	for _, word := range []string{"READY", "STATUS", "NEMA", "Position"} {
		if strings.Contains(joined, word) {
			return true
		}
	}
	return false
}

// Send writes one command line and returns the first response line.
func (l *SerialLink) Send(cmd string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.write(cmd); err != nil {
		return "", err
	}
	line, err := l.readLine()
	if err != nil {
		return "", err
	}
	debug.Serial(cmd, line)
	return line, nil
}

// Status sends `?` and collects response lines until the read times out.
func (l *SerialLink) Status() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.write("?"); err != nil {
		return nil, err
	}

	var lines []string
	for {
		line, err := l.readLine()
		if err != nil {
			if len(lines) > 0 {
				break // block finished
			}
			return nil, err
		}
		lines = append(lines, line)
		if len(lines) >= 16 {
			break
		}
	}
	debug.Serial("?", strings.Join(lines, " | "))
	return lines, nil
}

func (l *SerialLink) write(cmd string) error {
	if _, err := l.port.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("serial write %q: %w", cmd, err)
	}
	return nil
}

// readLine reads bytes until newline or the port read timeout.
func (l *SerialLink) readLine() (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := l.port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("serial read: %w", err)
		}
		if n == 0 {
			// read timeout
			if len(line) > 0 {
				return strings.TrimRight(string(line), "\r"), nil
			}
			return "", fmt.Errorf("serial read: timeout waiting for response")
		}
		if buf[0] == '\n' {
			return strings.TrimRight(string(line), "\r"), nil
		}
		line = append(line, buf[0])
	}
}

func (l *SerialLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port.Close()
}
