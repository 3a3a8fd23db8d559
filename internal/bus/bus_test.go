package bus

import (
	"testing"
	"time"
)

func TestFilterPermits(t *testing.T) {
	cases := []struct {
		name   string
		filter Filter
		sock   string
		want   bool
	}{
		{"empty allow permits anything not blocked", Filter{}, "carState", true},
		{"blocked always denied", Filter{Block: map[string]bool{"carState": true}}, "carState", false},
		{"nonempty allow requires membership", Filter{Allow: map[string]bool{"carState": true}}, "controlsState", false},
		{"nonempty allow permits member", Filter{Allow: map[string]bool{"carState": true}}, "carState", true},
		{"block wins over allow", Filter{Allow: map[string]bool{"carState": true}, Block: map[string]bool{"carState": true}}, "carState", false},
		{"empty sock name never permitted", Filter{}, "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.filter.Permits(c.sock); got != c.want {
				t.Fatalf("Permits(%q) = %v, want %v", c.sock, got, c.want)
			}
		})
	}
}

func TestStartPublishSubscribeStop(t *testing.T) {
	b, err := Start(Options{Host: "127.0.0.1", Port: -1}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop()

	received := make(chan []byte, 1)
	sub, err := b.Subscribe("carState", func(payload []byte) { received <- payload })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish("carState", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "hello" {
			t.Fatalf("got %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for published message")
	}
}
