package web

import (
	"encoding/json"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan string) Event {
	t.Helper()
	select {
	case msg := <-ch:
		var evt Event
		if err := json.Unmarshal([]byte(msg), &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
		return Event{}
	}
}

func TestBroadcaster_LogEvent(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Log("info", "hello")

	evt := recv(t, ch)
	if evt.Kind != "log" {
		t.Errorf("kind = %q, want log", evt.Kind)
	}
	if evt.Msg != "hello" {
		t.Errorf("msg = %q, want hello", evt.Msg)
	}
	if evt.Level != "info" {
		t.Errorf("level = %q, want info", evt.Level)
	}
}

func TestBroadcaster_StateEvent(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.State(json.RawMessage(`{"position":42}`))

	evt := recv(t, ch)
	if evt.Kind != "state" {
		t.Errorf("kind = %q, want state", evt.Kind)
	}
	var snap struct {
		Position int `json:"position"`
	}
	if err := json.Unmarshal(evt.State, &snap); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if snap.Position != 42 {
		t.Errorf("position = %d, want 42", snap.Position)
	}
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Log("info", "multi")

	for i, ch := range []<-chan string{ch1, ch2} {
		evt := recv(t, ch)
		if evt.Msg != "multi" {
			t.Errorf("subscriber %d: msg = %q, want multi", i, evt.Msg)
		}
	}
}

func TestBroadcaster_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()

	b.Log("info", "after unsub")

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after unsubscribe")
		}
	case <-time.After(50 * time.Millisecond):
		// channel not closed is also acceptable, nothing delivered
	}
}

func TestBroadcaster_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	_, unsub := b.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Log("info", "flood")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on slow subscriber")
	}
}

func TestWriter_ForwardsToLog(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	w := Writer(b)
	if _, err := w.Write([]byte("line from logger\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	evt := recv(t, ch)
	if evt.Msg != "line from logger" {
		t.Errorf("msg = %q, want trimmed log line", evt.Msg)
	}
}
