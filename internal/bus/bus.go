// Package bus wraps an embedded NATS server as the replay engine's message
// bus external interface, publishing per-kind subjects gated by an
// allow/block list.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/driveroute/routereplay/internal/model"
)

const subjectPrefix = "replay."

// Filter decides whether a message kind's socket is allowed to publish.
// Block always wins over Allow; an empty Allow set means "everything is
// allowed except what's blocked".
type Filter struct {
	Allow map[string]bool
	Block map[string]bool
}

// Permits reports whether sockName may be published.
func (f Filter) Permits(sockName string) bool {
	if sockName == "" {
		return false
	}
	if f.Block[sockName] {
		return false
	}
	if len(f.Allow) > 0 && !f.Allow[sockName] {
		return false
	}
	return true
}

// Bus embeds a NATS server and exposes a narrow publish surface for the
// pacing loop.
type Bus struct {
	srv  *server.Server
	conn *nats.Conn
	log  *slog.Logger
}

// Options configures the embedded server.
type Options struct {
	Host string
	Port int
}

// Start launches an embedded NATS server and connects a client to it. A
// Port of -1 lets the server choose a free port, the way ephemeral test
// buses are normally started; a zero Port selects the NATS default port.
func Start(opts Options, log *slog.Logger) (*Bus, error) {
	sopts := &server.Options{
		Host:           opts.Host,
		Port:           opts.Port,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 4096,
	}
	srv, err := server.NewServer(sopts)
	if err != nil {
		return nil, fmt.Errorf("start embedded bus: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("start embedded bus: not ready for connections")
	}

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connect to embedded bus: %w", err)
	}

	return &Bus{srv: srv, conn: conn, log: log}, nil
}

// Publish sends payload on the subject for sockName, a no-op if sockName
// is empty.
func (b *Bus) Publish(sockName string, payload []byte) error {
	if sockName == "" {
		return nil
	}
	return b.conn.Publish(subjectPrefix+sockName, payload)
}

// PublishJSON marshals v and publishes it on sockName's subject.
func (b *Bus) PublishJSON(sockName string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal for %s: %w", sockName, err)
	}
	return b.Publish(sockName, raw)
}

// Subscribe registers fn to be called with the raw payload of every
// message published on sockName.
func (b *Bus) Subscribe(sockName string, fn func([]byte)) (*nats.Subscription, error) {
	return b.conn.Subscribe(subjectPrefix+sockName, func(msg *nats.Msg) {
		fn(msg.Data)
	})
}

// ClientURL returns the URL a second client could use to connect to this
// bus, mainly useful for tests and the optional HTTP control surface.
func (b *Bus) ClientURL() string {
	return b.srv.ClientURL()
}

// Stop drains the client connection and shuts the embedded server down.
func (b *Bus) Stop() {
	if b.conn != nil {
		b.conn.Drain()
		b.conn.Close()
	}
	if b.srv != nil {
		b.srv.Shutdown()
		b.srv.WaitForShutdown()
	}
}

// SockNameFor returns the bus socket name for which, a thin wrapper over
// model.SockName.
func SockNameFor(which model.MessageKind) string {
	return model.SockName(which)
}
