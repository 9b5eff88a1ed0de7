package wallet

import "context"

type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Event is a connection-state change. Address is set only for EventConnected.
type Event struct {
	Kind    EventKind
	Address Address
}

// Provider abstracts an external wallet connection.
//
// BeginConnection starts an out-of-band flow for the user to pick a wallet; the
// result arrives through the Subscribe callback rather than as a return value.
// Disconnect must be safe to call when nothing is connected. CurrentAddress and
// IsConnected must not invoke subscriber callbacks.
type Provider interface {
	BeginConnection(ctx context.Context) error
	CurrentAddress() (Address, bool)
	IsConnected() bool
	Disconnect()
	Subscribe(fn func(Event)) (cancel func())
}
