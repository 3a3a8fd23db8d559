package logging

import (
	"bytes"
	"log/slog"
	"testing"
	"time"
)

func TestRingBufferAddAndGetRecent(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Add(Entry{Message: string(rune('a' + i))})
	}
	recent := rb.GetRecent(3)
	if len(recent) != 3 {
		t.Fatalf("got %d entries, want 3", len(recent))
	}
	if recent[len(recent)-1].Message != "e" {
		t.Fatalf("expected most recent entry last, got %q", recent[len(recent)-1].Message)
	}
}

func TestRingBufferSubscribe(t *testing.T) {
	rb := NewRingBuffer(10)
	ch := rb.Subscribe()
	defer rb.Unsubscribe(ch)

	rb.Add(Entry{Message: "hello"})

	select {
	case e := <-ch:
		if e.Message != "hello" {
			t.Fatalf("got %q, want hello", e.Message)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber never received the entry")
	}
}

func TestStreamHandlerMirrorsToBuffer(t *testing.T) {
	rb := NewRingBuffer(10)
	var out bytes.Buffer
	h := NewStreamHandler(rb, &out, slog.LevelInfo)
	logger := slog.New(h).With("component", "pacing")

	logger.Info("hello world", "key", "value")

	recent := rb.GetRecent(1)
	if len(recent) != 1 {
		t.Fatalf("expected one buffered entry")
	}
	if recent[0].Component != "pacing" {
		t.Fatalf("expected component 'pacing', got %q", recent[0].Component)
	}
	if recent[0].Attrs["key"] != "value" {
		t.Fatalf("expected attr key=value, got %v", recent[0].Attrs)
	}
	if out.Len() == 0 {
		t.Fatalf("expected fallback JSON output to be written")
	}
}
