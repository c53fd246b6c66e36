// Package virtual implements an in-process virtual CAN bus: any number of
// Bus instances connected to the same channel name see each other's frames,
// with no real network or broker process required. Grounded on the
// teacher's TCP-broker virtual bus, adapted to an in-process broadcast so it
// is deterministically testable without an external server.
package virtual

import (
	"errors"
	"sync"

	"github.com/canopen-go/canopen/pkg/can"
	"github.com/canopen-go/canopen/pkg/frame"
)

func init() {
	can.RegisterInterface("virtual", New)
	can.RegisterInterface("virtualcan", New)
}

var (
	brokersMu sync.Mutex
	brokers   = make(map[string]*broker)
)

type broker struct {
	mu      sync.Mutex
	members []*Bus
}

func getBroker(channel string) *broker {
	brokersMu.Lock()
	defer brokersMu.Unlock()
	b, ok := brokers[channel]
	if !ok {
		b = &broker{}
		brokers[channel] = b
	}
	return b
}

func (b *broker) join(bus *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members = append(b.members, bus)
}

func (b *broker) leave(bus *Bus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.members {
		if m == bus {
			b.members = append(b.members[:i], b.members[i+1:]...)
			return
		}
	}
}

func (b *broker) broadcast(from *Bus, f frame.Frame) {
	b.mu.Lock()
	members := make([]*Bus, len(b.members))
	copy(members, b.members)
	b.mu.Unlock()

	for _, m := range members {
		if m == from && !m.receiveOwn {
			continue
		}
		if m.recv != nil {
			m.recv(f)
		}
	}
}

// Bus is an in-process virtual CAN bus member.
type Bus struct {
	channel    string
	broker     *broker
	connected  bool
	receiveOwn bool
	recv       can.ReceiveFunc
}

// New constructs a Bus joining channel on Connect.
func New(channel string) (can.Bus, error) {
	return &Bus{channel: channel}, nil
}

// SetReceiveOwn controls whether a Bus observes its own transmitted frames,
// mirroring CiA-301's NMT loopback test mode.
func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.receiveOwn = receiveOwn
}

// Connect joins the named channel's broker.
func (b *Bus) Connect(...any) error {
	if b.connected {
		return nil
	}
	b.broker = getBroker(b.channel)
	b.broker.join(b)
	b.connected = true
	return nil
}

// Disconnect leaves the channel's broker.
func (b *Bus) Disconnect() error {
	if !b.connected {
		return nil
	}
	b.broker.leave(b)
	b.connected = false
	return nil
}

// Send broadcasts f to every other Bus connected to the same channel, and to
// the sender itself only if SetReceiveOwn(true) was called on it.
func (b *Bus) Send(f frame.Frame) error {
	if !b.connected {
		return errors.New("virtual: not connected")
	}
	b.broker.broadcast(b, f)
	return nil
}

// SetReceiveFunc installs the callback invoked for every frame received
// from another member of the channel.
func (b *Bus) SetReceiveFunc(fn can.ReceiveFunc) {
	b.recv = fn
}
