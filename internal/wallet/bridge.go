package wallet

import (
	"context"
	"errors"
	"sync"
)

// ErrNotPending is returned when an address is delivered but no connection was requested.
var ErrNotPending = errors.New("no wallet connection pending")

// Bridge is a Provider whose wallet selection happens elsewhere (a browser
// wallet picker, a relay service). BeginConnection opens the request and the
// out-of-band side reports back through Deliver.
type Bridge struct {
	chain  Chain
	prompt func(context.Context) error

	mu        sync.Mutex
	pending   bool
	address   Address
	nextID    int
	listeners map[int]func(Event)
}

type BridgeOption func(*Bridge)

// WithPrompt runs fn whenever a connection is requested, e.g. to push a
// notification that asks the user to open their wallet.
func WithPrompt(fn func(context.Context) error) BridgeOption {
	return func(b *Bridge) {
		b.prompt = fn
	}
}

func NewBridge(chain Chain, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		chain:     chain,
		listeners: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) Chain() Chain {
	return b.chain
}

func (b *Bridge) BeginConnection(ctx context.Context) error {
	if b.prompt != nil {
		if err := b.prompt(ctx); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.pending = true
	addr := b.address
	listeners := b.snapshotLocked()
	b.mu.Unlock()

	// Already connected: report it again so the requester sees the address.
	if addr != "" {
		notify(listeners, Event{Kind: EventConnected, Address: addr})
	}
	return nil
}

// Deliver reports the address chosen in the wallet picker. A connected bridge
// accepts a new address (account switch); otherwise a request must be pending.
func (b *Bridge) Deliver(raw string) (Address, error) {
	addr, err := ParseAddress(b.chain, raw)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	if !b.pending && b.address == "" {
		b.mu.Unlock()
		return "", ErrNotPending
	}
	b.pending = false
	b.address = addr
	listeners := b.snapshotLocked()
	b.mu.Unlock()

	notify(listeners, Event{Kind: EventConnected, Address: addr})
	return addr, nil
}

func (b *Bridge) CurrentAddress() (Address, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.address, b.address != ""
}

func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.address != ""
}

// IsPending reports whether a connection was requested and not yet delivered.
func (b *Bridge) IsPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending
}

func (b *Bridge) Disconnect() {
	b.mu.Lock()
	had := b.address != ""
	b.address = ""
	b.pending = false
	listeners := b.snapshotLocked()
	b.mu.Unlock()

	if had {
		notify(listeners, Event{Kind: EventDisconnected})
	}
}

func (b *Bridge) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bridge) snapshotLocked() []func(Event) {
	out := make([]func(Event), 0, len(b.listeners))
	for _, fn := range b.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(Event), ev Event) {
	for _, fn := range listeners {
		fn(ev)
	}
}
