// Package timesync implements the TIME producer and consumer: a
// configurable-schedule time-of-day frame delivering absolute times to the
// application. Named to avoid shadowing the standard library's time
// package, unlike the teacher's pkg/time.
package timesync

import (
	"time"

	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/canopen-go/canopen/pkg/network"
	"github.com/canopen-go/canopen/pkg/od"
	"github.com/sirupsen/logrus"
)

const defaultCOBID = 0x100

// epoch is the CANopen TIME_OF_DAY epoch, 1984-01-01 00:00:00 UTC.
var epoch = time.Date(1984, time.January, 1, 0, 0, 0, 0, time.UTC)

// Encode converts an absolute time into the wire TIME_OF_DAY representation.
func Encode(t time.Time) od.TimeOfDayValue {
	since := t.UTC().Sub(epoch)
	days := since / (24 * time.Hour)
	remainder := since - days*24*time.Hour
	return od.TimeOfDayValue{
		MillisecondsAfterMidnight: uint32(remainder / time.Millisecond),
		DaysSince1984:             uint16(days),
	}
}

// Decode converts a wire TIME_OF_DAY value back into an absolute time.
func Decode(v od.TimeOfDayValue) time.Time {
	return epoch.
		Add(time.Duration(v.DaysSince1984) * 24 * time.Hour).
		Add(time.Duration(v.MillisecondsAfterMidnight) * time.Millisecond)
}

func encodeFrame(v od.TimeOfDayValue) [6]byte {
	raw := uint64(v.MillisecondsAfterMidnight&0x0FFFFFFF) | uint64(v.DaysSince1984)<<32
	var data [6]byte
	for i := range data {
		data[i] = byte(raw >> (8 * i))
	}
	return data
}

func decodeFrame(data []byte) od.TimeOfDayValue {
	var raw uint64
	for i := 0; i < 6 && i < len(data); i++ {
		raw |= uint64(data[i]) << (8 * i)
	}
	return od.TimeOfDayValue{
		MillisecondsAfterMidnight: uint32(raw & 0x0FFFFFFF),
		DaysSince1984:             uint16(raw >> 32),
	}
}

// NowFunc supplies the current wall-clock time for a Producer's tick; tests
// inject a fixed fake rather than relying on the real clock.
type NowFunc func() time.Time

// Producer emits a TIME frame on a configurable schedule.
type Producer struct {
	net *network.Network
	log *logrus.Entry

	cobID  uint32
	period time.Duration
	now    NowFunc

	timer *network.Timer
}

// Options configures a Producer at construction time.
type Options struct {
	COBID  uint32 // default 0x100
	Period time.Duration
	Now    NowFunc // required; with nil, no TIME frame is sent
}

// NewProducer constructs a Producer; call Start to begin transmission.
func NewProducer(net *network.Network, opts Options) *Producer {
	cobID := opts.COBID
	if cobID == 0 {
		cobID = defaultCOBID
	}
	return &Producer{
		net:    net,
		log:    logrus.WithField("component", "time-producer"),
		cobID:  cobID,
		period: opts.Period,
		now:    opts.Now,
	}
}

// Start arms the periodic timer, sending the first TIME frame immediately.
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
	if p.now == nil {
		return
	}
	data := encodeFrame(Encode(p.now()))
	f, err := frame.New(p.cobID, data[:])
	if err != nil {
		p.log.WithError(err).Error("failed to build TIME frame")
		return
	}
	if err := p.net.Send(f); err != nil {
		p.log.WithError(err).Warn("failed to send TIME")
	}
}

// IndicationFunc delivers a parsed absolute time to the application.
type IndicationFunc func(t time.Time)

// Consumer receives TIME frames and delivers parsed absolute times.
type Consumer struct {
	recv *network.Receiver
}

// NewConsumer subscribes to cobID (default 0x100 when zero).
func NewConsumer(net *network.Network, cobID uint32, fn IndicationFunc) *Consumer {
	if cobID == 0 {
		cobID = defaultCOBID
	}
	c := &Consumer{}
	c.recv = net.Subscribe(cobID, 0x1FFFFFFF, 0, func(f frame.Frame) error {
		if f.Len < 6 || fn == nil {
			return nil
		}
		fn(Decode(decodeFrame(f.Data[:6])))
		return nil
	})
	return c
}

// Close deregisters the consumer's receiver.
func (c *Consumer) Close() { c.recv.Stop() }
