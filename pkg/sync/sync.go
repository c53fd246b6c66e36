// Package sync implements the SYNC producer and consumer: a periodic
// zero-or-one-byte frame used to phase-align synchronous PDOs.
package sync

import (
	"time"

	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/canopen-go/canopen/pkg/network"
	"github.com/sirupsen/logrus"
)

const defaultCOBID = 0x080

// maxCounter is the highest value the 1-byte counter wraps at before
// restarting from 1, matching object 0x1019's typical range.
const maxCounter = 240

// Producer emits a SYNC frame at a configured period, optionally carrying
// an incrementing 1-byte counter.
type Producer struct {
	net *network.Network
	log *logrus.Entry

	cobID        uint32
	period       time.Duration
	counterOn    bool
	counter      byte

	timer *network.Timer
}

// Options configures a Producer at construction time.
type Options struct {
	COBID        uint32 // default 0x080
	Period       time.Duration
	CounterOn    bool
}

// NewProducer constructs a Producer; call Start to begin transmission.
func NewProducer(net *network.Network, opts Options) *Producer {
	cobID := opts.COBID
	if cobID == 0 {
		cobID = defaultCOBID
	}
	return &Producer{
		net:       net,
		log:       logrus.WithField("component", "sync-producer"),
		cobID:     cobID,
		period:    opts.Period,
		counterOn: opts.CounterOn,
	}
}

// Start arms the periodic timer, sending the first SYNC frame immediately.
func (p *Producer) Start() {
	p.stopTimer()
	if p.period <= 0 {
		return
	}
	p.sendTick()
	p.timer = p.net.SetTimer(p.net.GetTime().Add(p.period), p.period, p.sendTick)
}

// Stop halts periodic transmission.
func (p *Producer) Stop() {
	p.stopTimer()
}

func (p *Producer) stopTimer() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Producer) sendTick() {
	var data []byte
	if p.counterOn {
		p.counter++
		if p.counter > maxCounter {
			p.counter = 1
		}
		data = []byte{p.counter}
	}
	f, err := frame.New(p.cobID, data)
	if err != nil {
		p.log.WithError(err).Error("failed to build SYNC frame")
		return
	}
	if err := p.net.Send(f); err != nil {
		p.log.WithError(err).Warn("failed to send SYNC")
	}
}

// IndicationFunc is invoked on every received SYNC frame. hasCounter
// reports whether the frame carried the optional counter byte.
type IndicationFunc func(counter byte, hasCounter bool)

// Consumer receives SYNC frames and latches the optional counter for
// phase-aligning synchronous PDOs.
type Consumer struct {
	recv    *network.Receiver
	counter byte
}

// NewConsumer subscribes to cobID (default 0x080 when zero) and invokes fn
// on every received SYNC frame.
func NewConsumer(net *network.Network, cobID uint32, fn IndicationFunc) *Consumer {
	if cobID == 0 {
		cobID = defaultCOBID
	}
	c := &Consumer{}
	c.recv = net.Subscribe(cobID, 0x1FFFFFFF, 0, func(f frame.Frame) error {
		hasCounter := f.Len == 1
		if hasCounter {
			c.counter = f.Data[0]
		}
		if fn != nil {
			fn(c.counter, hasCounter)
		}
		return nil
	})
	return c
}

// Counter returns the last latched SYNC counter value.
func (c *Consumer) Counter() byte { return c.counter }

// Close deregisters the consumer's receiver.
func (c *Consumer) Close() { c.recv.Stop() }
