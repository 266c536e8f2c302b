package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Event is a single SSE payload: either a log line mirrored from the debug
// output, or a session state change.
type Event struct {
	Time  string          `json:"t"`
	Kind  string          `json:"kind"` // "log" or "state"
	Level string          `json:"l,omitempty"`
	Msg   string          `json:"msg,omitempty"`
	State json.RawMessage `json:"state,omitempty"`
}

// Broadcaster distributes events to multiple SSE clients.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast payloads and a cleanup
// function. The caller must call the cleanup when done (e.g. on client
// disconnect).
func (b *Broadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsub
}

// Log broadcasts a log line to all subscribed clients. Slow clients may miss
// events (non-blocking, buffered).
func (b *Broadcaster) Log(level, msg string) {
	b.send(Event{
		Time:  time.Now().Format(time.RFC3339),
		Kind:  "log",
		Level: level,
		Msg:   msg,
	})
}

// State broadcasts a session state change as raw JSON.
func (b *Broadcaster) State(state json.RawMessage) {
	b.send(Event{
		Time:  time.Now().Format(time.RFC3339),
		Kind:  "state",
		State: state,
	})
}

func (b *Broadcaster) send(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// Writer wraps the broadcaster as io.Writer; each Write becomes a log event.
// Used to mirror the debug output into the SSE stream.
func Writer(b *Broadcaster) *logWriter {
	return &logWriter{b: b}
}

type logWriter struct {
	b *Broadcaster
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.Log("info", msg)
	}
	return len(p), nil
}
