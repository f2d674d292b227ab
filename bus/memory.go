package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/c360studio/planengine/imc"
)

// MemoryBus is an in-process Bus fixture with no network dependency, used to
// drive engine test scenarios deterministically (SPEC_FULL.md §9).
type MemoryBus struct {
	mu     sync.Mutex
	bound  map[imc.Kind]bool
	inbox  chan Envelope
	sent   []imc.Message
}

// NewMemoryBus returns a MemoryBus with the given inbox buffer size.
func NewMemoryBus(bufferSize int) *MemoryBus {
	return &MemoryBus{
		bound: make(map[imc.Kind]bool),
		inbox: make(chan Envelope, bufferSize),
	}
}

// Bind marks kind as bound; Inject only delivers for bound kinds.
func (b *MemoryBus) Bind(ctx context.Context, kind imc.Kind) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bound[kind] = true
	return nil
}

// Dispatch records msg as sent (retrievable via Sent/LastSent) so tests can
// assert on what the engine published, without a loopback to Messages().
func (b *MemoryBus) Dispatch(ctx context.Context, msg imc.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("bus: dispatch %s: %w", msg.Kind(), err)
	}
	b.mu.Lock()
	b.sent = append(b.sent, msg)
	b.mu.Unlock()
	return nil
}

// Messages returns the channel Inject delivers onto.
func (b *MemoryBus) Messages() <-chan Envelope { return b.inbox }

// Close is a no-op for MemoryBus.
func (b *MemoryBus) Close() error { return nil }

// Inject delivers msg to Messages() as though it arrived over the wire, if
// its kind has been Bind'd. Returns false (and drops the message) otherwise,
// mirroring how a real Bus never forwards an unbound subject.
func (b *MemoryBus) Inject(kind imc.Kind, msg any) (bool, error) {
	b.mu.Lock()
	bound := b.bound[kind]
	b.mu.Unlock()
	if !bound {
		return false, nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("bus: marshal injected %s: %w", kind, err)
	}
	b.inbox <- Envelope{Kind: kind, Payload: data}
	return true, nil
}

// Sent returns every message Dispatch has recorded, in order.
func (b *MemoryBus) Sent() []imc.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]imc.Message, len(b.sent))
	copy(out, b.sent)
	return out
}

// LastSent returns the most recently Dispatch'd message, or nil if none.
func (b *MemoryBus) LastSent() imc.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sent) == 0 {
		return nil
	}
	return b.sent[len(b.sent)-1]
}
