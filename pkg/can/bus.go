// Package can defines the transport abstraction the network core sits on
// top of: an installable frame.Frame send/receive path, external to the
// protocol stack per spec.md §1 ("the CAN bus driver abstraction... an
// external collaborator").
package can

import (
	"fmt"

	"github.com/canopen-go/canopen/pkg/frame"
)

// CAN controller error-status bits, reported by a driver's error frames and
// fed to emergency.Producer by the host.
const (
	ErrorTxWarning   = 0x0001
	ErrorTxPassive   = 0x0002
	ErrorTxBusOff    = 0x0004
	ErrorTxOverflow  = 0x0008
	ErrorPDOLate     = 0x0080
	ErrorRxWarning   = 0x0100
	ErrorRxPassive   = 0x0200
	ErrorRxOverflow  = 0x0800
	ErrorWarnPassive = 0x0303
)

// ReceiveFunc is invoked by a Bus driver for every frame read off the wire.
// The host wires this to network.Network.Recv.
type ReceiveFunc func(f frame.Frame)

// Bus is the transport a Device's network.Network sits on top of: it reads
// frames off a physical or virtual CAN link and accepts frames to transmit.
// Implementations may use their own goroutines internally — unlike the
// protocol services in pkg/sdo/pkg/pdo/etc., a Bus is outside the
// single-threaded core, and network.Network's internal mutex serializes
// whatever goroutine ends up calling Recv.
type Bus interface {
	Connect(...any) error
	Disconnect() error
	Send(f frame.Frame) error
	SetReceiveFunc(fn ReceiveFunc)
}

// NewInterfaceFunc constructs a Bus for a named interface type, given a
// channel identifier (e.g. "can0", "localhost:18000").
type NewInterfaceFunc func(channel string) (Bus, error)

var interfaceRegistry = make(map[string]NewInterfaceFunc)

// ImplementedInterfaces lists the interface-type names a driver package may
// register under, for CLI flag validation.
var ImplementedInterfaces = []string{"socketcan", "virtual", "virtualcan"}

// RegisterInterface registers a Bus constructor under interfaceType. Driver
// packages call this from an init() function.
func RegisterInterface(interfaceType string, newInterface NewInterfaceFunc) {
	interfaceRegistry[interfaceType] = newInterface
}

// NewBus constructs a Bus for the named interface type and channel.
func NewBus(interfaceType string, channel string) (Bus, error) {
	newInterface, ok := interfaceRegistry[interfaceType]
	if !ok {
		return nil, fmt.Errorf("can: unsupported interface type %q", interfaceType)
	}
	return newInterface(channel)
}
