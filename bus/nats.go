package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/planengine/imc"
)

// Options configures a NATS-backed Bus. When URL is empty, an embedded
// nats-server is started in-process, mirroring the teacher's dual
// embedded/external connection mode (cmd/semspec/app.go's startNATS).
type Options struct {
	URL              string
	Name             string
	MaxReconnects    int
	ReconnectWait    time.Duration
	ConnectTimeout   time.Duration
	InboxBufferSize  int
}

// DefaultOptions returns sane defaults matching the teacher's connection
// tuning (cmd/semspec/main.go's connectToNATS).
func DefaultOptions() Options {
	return Options{
		MaxReconnects:   10,
		ReconnectWait:   2 * time.Second,
		ConnectTimeout:  10 * time.Second,
		InboxBufferSize: 256,
	}
}

// NATSBus is a Bus backed by github.com/nats-io/nats.go, optionally fronted
// by an embedded github.com/nats-io/nats-server/v2 instance.
type NATSBus struct {
	conn   *nats.Conn
	embed  *server.Server
	subs   []*nats.Subscription
	inbox  chan Envelope
}

// Connect establishes the NATS connection (embedded or external per opts)
// with exponential-backoff retry around the initial dial, matching the
// teacher's connectToNATS/WaitForConnection shape.
func Connect(ctx context.Context, opts Options) (*NATSBus, error) {
	b := &NATSBus{inbox: make(chan Envelope, opts.InboxBufferSize)}

	url := opts.URL
	if url == "" {
		embedded, err := startEmbedded(opts.ConnectTimeout)
		if err != nil {
			return nil, fmt.Errorf("bus: start embedded nats-server: %w", err)
		}
		b.embed = embedded
		url = embedded.ClientURL()
	}

	dial := func() error {
		conn, err := nats.Connect(url,
			nats.Name(opts.Name),
			nats.MaxReconnects(opts.MaxReconnects),
			nats.ReconnectWait(opts.ReconnectWait),
			nats.Timeout(opts.ConnectTimeout),
		)
		if err != nil {
			return err
		}
		b.conn = conn
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	if err := backoff.Retry(dial, backoff.WithContext(bo, ctx)); err != nil {
		if b.embed != nil {
			b.embed.Shutdown()
		}
		return nil, fmt.Errorf("bus: connect to %s: %w", url, err)
	}

	return b, nil
}

func startEmbedded(timeout time.Duration) (*server.Server, error) {
	opts := &server.Options{Port: -1, JetStream: true, NoLog: true, NoSigs: true}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, err
	}
	go ns.Start()
	if !ns.ReadyForConnections(timeout) {
		return nil, fmt.Errorf("bus: embedded nats-server did not become ready within %s", timeout)
	}
	return ns, nil
}

// Bind subscribes to kind's subject and forwards every message to Messages().
func (b *NATSBus) Bind(ctx context.Context, kind imc.Kind) error {
	subject := Subject(kind)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		select {
		case b.inbox <- Envelope{Kind: kind, Payload: msg.Data}:
		default:
			// Inbox full: drop rather than block the NATS delivery goroutine.
			// The dropped message is not redelivered or counted.
		}
	})
	if err != nil {
		return fmt.Errorf("bus: bind %s: %w", subject, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Dispatch publishes msg as JSON on its kind's subject.
func (b *NATSBus) Dispatch(ctx context.Context, msg imc.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: marshal %s: %w", msg.Kind(), err)
	}
	if err := b.conn.Publish(Subject(msg.Kind()), data); err != nil {
		return fmt.Errorf("bus: publish %s: %w", msg.Kind(), err)
	}
	return nil
}

// Messages returns the unified inbound channel.
func (b *NATSBus) Messages() <-chan Envelope { return b.inbox }

// JetStream returns a jetstream.JetStream context over this bus's
// connection, letting callers (e.g. plandb.NewStore) share the single
// NATS connection the bus already holds rather than dialing a second one.
func (b *NATSBus) JetStream() (jetstream.JetStream, error) {
	return jetstream.New(b.conn)
}

// URL returns the address this bus is actually connected to — the dialed
// external URL, or the embedded server's client URL when Options.URL was
// empty. A second bus.Connect sharing this URL lands on the same embedded
// server instead of spinning up a redundant one.
func (b *NATSBus) URL() string {
	return b.conn.ConnectedUrl()
}

// Close drains subscriptions, closes the connection, and (if embedded) stops
// the in-process server.
func (b *NATSBus) Close() error {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	if b.conn != nil {
		_ = b.conn.Drain()
		b.conn.Close()
	}
	if b.embed != nil {
		b.embed.Shutdown()
		b.embed.WaitForShutdown()
	}
	return nil
}
