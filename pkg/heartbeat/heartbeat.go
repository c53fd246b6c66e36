// Package heartbeat implements heartbeat consumption: per-node deadline
// tracking with OCCURRED/RESOLVED indications, and a minimal ECSS
// bus-redundancy policy object. Heartbeat production is owned by pkg/nmt
// (CiA-301 ties heartbeat transmission to the local NMT state machine); this
// package is the consumer side used to monitor other nodes.
package heartbeat

import (
	"time"

	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/canopen-go/canopen/pkg/network"
	"github.com/sirupsen/logrus"
)

// EventState distinguishes a newly detected timeout from its resolution.
type EventState uint8

const (
	Occurred EventState = iota
	Resolved
)

// Reason names why a heartbeat event fired.
type Reason uint8

const (
	ReasonTimeout Reason = iota // deadline passed with no heartbeat
	ReasonState                 // consumer received an unexpected NMT state
)

// IndicationFunc reports a heartbeat event for one monitored node.
type IndicationFunc func(nodeID uint8, state EventState, reason Reason, nmtState uint8)

// Consumer monitors one remote node's heartbeat, declaring OCCURRED when
// the deadline passes without a frame and RESOLVED on the next heartbeat
// received afterwards.
type Consumer struct {
	net *network.Network
	log *logrus.Entry

	nodeID  uint8
	timeout time.Duration

	recv     *network.Receiver
	deadline *network.Timer
	timedOut bool

	indication IndicationFunc
}

// NewConsumer subscribes to nodeID's heartbeat COB-ID (0x700+nodeID) and
// arms the first deadline. timeout of zero disables deadline tracking
// (frames are still observed, but no OCCURRED/RESOLVED indication fires).
func NewConsumer(net *network.Network, nodeID uint8, timeout time.Duration, fn IndicationFunc) *Consumer {
	c := &Consumer{
		net:        net,
		log:        logrus.WithField("component", "heartbeat-consumer"),
		nodeID:     nodeID,
		timeout:    timeout,
		indication: fn,
	}
	cobID := uint32(0x700) + uint32(nodeID)
	c.recv = net.Subscribe(cobID, 0x1FFFFFFF, 0, c.handle)
	c.armDeadline()
	return c
}

// Close deregisters the consumer's receiver and deadline timer.
func (c *Consumer) Close() {
	c.recv.Stop()
	c.stopDeadline()
}

func (c *Consumer) handle(f frame.Frame) error {
	if f.Len != 1 {
		return nil
	}
	nmtState := f.Data[0]

	if c.timedOut {
		c.timedOut = false
		if c.indication != nil {
			c.indication(c.nodeID, Resolved, ReasonTimeout, nmtState)
		}
	}
	c.armDeadline()
	return nil
}

func (c *Consumer) armDeadline() {
	c.stopDeadline()
	if c.timeout <= 0 {
		return
	}
	c.deadline = c.net.SetTimeout(c.timeout, c.onTimeout)
}

func (c *Consumer) stopDeadline() {
	if c.deadline != nil {
		c.deadline.Stop()
		c.deadline = nil
	}
}

func (c *Consumer) onTimeout() {
	c.deadline = nil
	c.timedOut = true
	c.log.WithField("node", c.nodeID).Warn("heartbeat consumer timeout")
	if c.indication != nil {
		c.indication(c.nodeID, Occurred, ReasonTimeout, 0)
	}
}

// RedundancyReason names why the active bus was switched.
type RedundancyReason uint8

const (
	ReasonNoContact RedundancyReason = iota
	ReasonBusSwitch
)

// RedundancySwitchFunc is invoked whenever Redundancy changes the active
// bus, with the newly active bus id.
type RedundancySwitchFunc func(busID int, reason RedundancyReason)

// Redundancy is the master-side ECSS bus-redundancy policy: it does not own
// any bus itself (transport selection is a host responsibility — one
// network.Network exists per physical bus), it only tracks which bus is
// considered active and notifies the host when a trigger condition fires.
type Redundancy struct {
	activeBus int
	onSwitch  RedundancySwitchFunc
}

// NewRedundancy constructs a Redundancy policy starting on primaryBus.
func NewRedundancy(primaryBus int, onSwitch RedundancySwitchFunc) *Redundancy {
	return &Redundancy{activeBus: primaryBus, onSwitch: onSwitch}
}

// ActiveBus returns the currently selected bus id.
func (r *Redundancy) ActiveBus() int { return r.activeBus }

// Trigger switches the active bus to candidateBus and reports reason,
// e.g. on a consumer OCCURRED indication for the master's own heartbeat, or
// a bus-off condition reported by the host's CAN driver.
func (r *Redundancy) Trigger(reason RedundancyReason, candidateBus int) {
	if candidateBus == r.activeBus {
		return
	}
	r.activeBus = candidateBus
	if r.onSwitch != nil {
		r.onSwitch(candidateBus, reason)
	}
}
