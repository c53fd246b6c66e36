// Package emergency implements the EMCY producer: an LRU-bounded stack of
// active error codes, each push/pop/clear transmitting a CiA-301 emergency
// frame on the network core.
package emergency

import (
	"encoding/binary"

	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/canopen-go/canopen/pkg/network"
	"github.com/sirupsen/logrus"
)

// Code is the 16-bit error code carried in byte 0-1 of an EMCY frame.
type Code uint16

// Error codes from CiA-301 Table 12, grouped by error class.
const (
	CodeNoError          Code = 0x0000
	CodeGeneric          Code = 0x1000
	CodeCurrent          Code = 0x2000
	CodeVoltage          Code = 0x3000
	CodeTemperature      Code = 0x4000
	CodeHardware         Code = 0x5000
	CodeSoftwareDevice   Code = 0x6000
	CodeSoftwareInternal Code = 0x6100
	CodeSoftwareUser     Code = 0x6200
	CodeDataSet          Code = 0x6300
	CodeMonitoring       Code = 0x8000
	CodeCommunication    Code = 0x8100
	CodeCANOverrun       Code = 0x8110
	CodeCANPassive       Code = 0x8120
	CodeHeartbeat        Code = 0x8130
	CodeBusOffRecovered  Code = 0x8140
	CodeProtocolError    Code = 0x8200
	CodePDOLength        Code = 0x8210
	CodePDOLengthExceeded Code = 0x8220
	CodeSyncDataLength   Code = 0x8240
	CodeRPDOTimeout      Code = 0x8250
	CodeExternalError    Code = 0x9000
	CodeDeviceSpecific   Code = 0xFF00
)

// Register is the error-register bitmask carried in byte 2 of an EMCY
// frame, mirroring object 0x1001.
type Register uint8

const (
	RegisterGeneric       Register = 0x01
	RegisterCurrent       Register = 0x02
	RegisterVoltage       Register = 0x04
	RegisterTemperature   Register = 0x08
	RegisterCommunication Register = 0x10
	RegisterDeviceProfile Register = 0x20
	RegisterManufacturer  Register = 0x80
)

const defaultDepth = 8

type activeError struct {
	code     Code
	register Register
	manufacturer [5]byte
}

// Producer owns one node's EMCY transmit path: a bounded active-error stack
// and the frame encoding for push/pop/clear.
type Producer struct {
	net *network.Network
	log *logrus.Entry

	txCOBID uint32
	depth   int
	stack   []activeError
}

// NewProducer constructs a Producer transmitting on txCOBID. No default is
// derived here; callers pass the EMCY COB-ID (normally 0x80 + node-id).
func NewProducer(net *network.Network, txCOBID uint32) *Producer {
	return &Producer{
		net:     net,
		log:     logrus.WithField("component", "emcy-producer"),
		txCOBID: txCOBID,
		depth:   defaultDepth,
	}
}

// Active reports the currently active error codes, most recent first.
func (p *Producer) Active() []Code {
	out := make([]Code, len(p.stack))
	for i, e := range p.stack {
		out[i] = e.code
	}
	return out
}

func (p *Producer) aggregateRegister() Register {
	var r Register
	for _, e := range p.stack {
		r |= e.register
	}
	return r
}

// Push activates an error condition, evicting the oldest entry if the stack
// is already at capacity, and transmits the EMCY frame.
func (p *Producer) Push(code Code, register Register, manufacturer [5]byte) error {
	entry := activeError{code: code, register: register, manufacturer: manufacturer}
	p.stack = append([]activeError{entry}, p.stack...)
	if len(p.stack) > p.depth {
		p.stack = p.stack[:p.depth]
	}
	p.log.WithFields(logrus.Fields{"code": code, "register": register}).Warn("emergency raised")
	return p.send(code, register, manufacturer)
}

// Pop deactivates a previously pushed error code. If it was active, an
// error-reset frame (code 0x0000) carrying the remaining aggregate register
// is transmitted.
func (p *Producer) Pop(code Code) error {
	for i, e := range p.stack {
		if e.code == code {
			p.stack = append(p.stack[:i], p.stack[i+1:]...)
			p.log.WithField("code", code).Info("emergency resolved")
			return p.send(CodeNoError, p.aggregateRegister(), [5]byte{})
		}
	}
	return nil
}

// Clear empties the active-error stack and transmits a no-error frame.
func (p *Producer) Clear() error {
	p.stack = nil
	return p.send(CodeNoError, 0, [5]byte{})
}

func (p *Producer) send(code Code, register Register, manufacturer [5]byte) error {
	var data [8]byte
	binary.LittleEndian.PutUint16(data[0:2], uint16(code))
	data[2] = byte(register)
	copy(data[3:8], manufacturer[:])

	f, err := frame.New(p.txCOBID, data[:])
	if err != nil {
		return err
	}
	return p.net.Send(f)
}

// Consumer receives EMCY frames from other nodes on the network and
// delivers them to an application callback.
type Consumer struct {
	recv *network.Receiver
}

// IndicationFunc is invoked once per received EMCY frame.
type IndicationFunc func(nodeID uint8, code Code, register Register, manufacturer [5]byte)

// NewConsumer subscribes to every EMCY COB-ID (0x80 + node-id, 1..127).
func NewConsumer(net *network.Network, fn IndicationFunc) *Consumer {
	recv := net.Subscribe(0x080, 0xFFFFFF80, 0, func(f frame.Frame) error {
		if f.Len != 8 {
			return nil
		}
		nodeID := uint8(f.ID & 0x7F)
		code := Code(binary.LittleEndian.Uint16(f.Data[0:2]))
		register := Register(f.Data[2])
		var mfg [5]byte
		copy(mfg[:], f.Data[3:8])
		fn(nodeID, code, register, mfg)
		return nil
	})
	return &Consumer{recv: recv}
}

// Close deregisters the consumer's receiver.
func (c *Consumer) Close() {
	c.recv.Stop()
}
