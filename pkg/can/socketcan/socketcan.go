// Package socketcan wraps github.com/brutella/can as a can.Bus. brutella/can
// speaks classical CAN only, so frames sent or received through this driver
// are limited to an 8-byte payload; CAN-FD is only reachable through a
// driver built on a newer socketcan binding.
package socketcan

import (
	sockcan "github.com/brutella/can"
	"github.com/canopen-go/canopen/pkg/can"
	"github.com/canopen-go/canopen/pkg/frame"
)

func init() {
	can.RegisterInterface("socketcan", New)
}

// Bus adapts a brutella/can.Bus to the can.Bus interface.
type Bus struct {
	bus  *sockcan.Bus
	recv can.ReceiveFunc
}

// New opens the named SocketCAN interface (e.g. "can0").
func New(name string) (can.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	b := &Bus{bus: bus}
	bus.Subscribe(b)
	return b, nil
}

// Connect starts brutella/can's receive loop in its own goroutine.
func (b *Bus) Connect(...any) error {
	go b.bus.ConnectAndPublish()
	return nil
}

// Disconnect stops the underlying brutella/can bus.
func (b *Bus) Disconnect() error {
	return b.bus.Disconnect()
}

// Send transmits f, truncating to brutella/can's fixed 8-byte frame.
func (b *Bus) Send(f frame.Frame) error {
	var data [8]byte
	length := uint8(copy(data[:], f.Payload()))
	return b.bus.Publish(sockcan.Frame{
		ID:     f.ID,
		Length: length,
		Flags:  uint8(f.Flags),
		Data:   data,
	})
}

// SetReceiveFunc installs the callback invoked for every frame brutella/can
// delivers.
func (b *Bus) SetReceiveFunc(fn can.ReceiveFunc) {
	b.recv = fn
}

// Handle implements brutella/can's Handler interface.
func (b *Bus) Handle(f sockcan.Frame) {
	if b.recv == nil {
		return
	}
	cf, err := frame.New(f.ID, f.Data[:f.Length])
	if err != nil {
		return
	}
	b.recv(cf)
}
