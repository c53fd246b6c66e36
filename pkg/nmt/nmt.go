// Package nmt implements the CiA-301 NMT state machine: the slave side
// (processing commands addressed to this node or broadcast) and the master
// side (issuing commands to the network), driven synchronously by the
// network core.
package nmt

import (
	"time"

	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/canopen-go/canopen/pkg/network"
	"github.com/sirupsen/logrus"
)

// State is one of the four NMT operating states.
type State uint8

const (
	StateInitializing   State = 0
	StateStopped        State = 4
	StateOperational    State = 5
	StatePreOperational State = 127
)

var stateNames = map[State]string{
	StateInitializing:   "INITIALIZING",
	StateStopped:        "STOPPED",
	StateOperational:    "OPERATIONAL",
	StatePreOperational: "PRE-OPERATIONAL",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Command is an NMT service command, broadcast or addressed to one node.
type Command uint8

const (
	CommandEnterOperational    Command = 1
	CommandEnterStopped        Command = 2
	CommandEnterPreOperational Command = 128
	CommandResetNode           Command = 129
	CommandResetCommunication  Command = 130
)

// ResetKind distinguishes the two reset commands for the host to act on;
// the core does not itself reinitialize the device dictionary or comms.
type ResetKind uint8

const (
	ResetNone ResetKind = iota
	ResetApplication
	ResetCommunication
)

// Options configures an NMT instance at construction time.
type Options struct {
	NodeID              uint8
	CommandCOBID        uint32 // default 0x000
	HeartbeatCOBID      uint32 // default 0x700 + NodeID
	HeartbeatProducerMs uint16 // 0 disables periodic production
	StartInOperational  bool
}

// NMT runs the slave-side state machine for one node and offers master-side
// command issuing. Heartbeat is sent on three events: producer timeout
// (cyclic), state change, and startup, matching CiA-301.
type NMT struct {
	net *network.Network
	log *logrus.Entry

	nodeID         uint8
	cmdCOBID       uint32
	hbCOBID        uint32
	hbPeriod       time.Duration
	startupOper    bool

	state      State
	pendReset  ResetKind

	recv      *network.Receiver
	hbTimer   *network.Timer
	callbacks []func(State)
}

// New constructs an NMT instance and subscribes it to the command COB-ID.
// Start must be called once the device's other services are ready.
func New(net *network.Network, opts Options) *NMT {
	cmdCOBID := opts.CommandCOBID
	if cmdCOBID == 0 {
		cmdCOBID = 0x000
	}
	hbCOBID := opts.HeartbeatCOBID
	if hbCOBID == 0 {
		hbCOBID = 0x700 + uint32(opts.NodeID)
	}

	n := &NMT{
		net:         net,
		log:         logrus.WithField("component", "nmt"),
		nodeID:      opts.NodeID,
		cmdCOBID:    cmdCOBID,
		hbCOBID:     hbCOBID,
		hbPeriod:    time.Duration(opts.HeartbeatProducerMs) * time.Millisecond,
		startupOper: opts.StartInOperational,
		state:       StateInitializing,
	}
	n.recv = net.Subscribe(cmdCOBID, 0x1FFFFFFF, 0, n.handle)
	return n
}

// Close deregisters the NMT's receiver and heartbeat timer.
func (n *NMT) Close() {
	n.recv.Stop()
	n.stopHeartbeatTimer()
}

// State returns the current NMT operating state.
func (n *NMT) State() State { return n.state }

// PendingReset returns and clears the reset request raised by the last
// reset-node/reset-communication command, if any.
func (n *NMT) PendingReset() ResetKind {
	r := n.pendReset
	n.pendReset = ResetNone
	return r
}

// AddStateChangeCallback registers fn to be invoked on every state
// transition, returning a function that removes it.
func (n *NMT) AddStateChangeCallback(fn func(State)) (cancel func()) {
	n.callbacks = append(n.callbacks, fn)
	idx := len(n.callbacks) - 1
	return func() {
		n.callbacks[idx] = nil
	}
}

// Start transitions out of INITIALIZING (to OPERATIONAL if configured, else
// PRE-OPERATIONAL) and sends the boot-up heartbeat.
func (n *NMT) Start() {
	if n.state == StateInitializing {
		if n.startupOper {
			n.state = StateOperational
		} else {
			n.state = StatePreOperational
		}
	}
	n.sendHeartbeat()
	n.armHeartbeatTimer()
}

func (n *NMT) handle(f frame.Frame) error {
	if f.Len != 2 {
		return nil
	}
	cmd := Command(f.Data[0])
	target := f.Data[1]
	if target != 0 && target != n.nodeID {
		return nil
	}
	n.processCommand(cmd)
	return nil
}

func (n *NMT) processCommand(cmd Command) {
	next := n.state
	switch cmd {
	case CommandEnterOperational:
		next = StateOperational
	case CommandEnterStopped:
		next = StateStopped
	case CommandEnterPreOperational:
		next = StatePreOperational
	case CommandResetNode:
		n.pendReset = ResetApplication
	case CommandResetCommunication:
		n.pendReset = ResetCommunication
	default:
		n.log.WithField("command", cmd).Warn("unknown NMT command")
		return
	}
	if next != n.state {
		n.setState(next)
	}
}

func (n *NMT) setState(next State) {
	prev := n.state
	n.state = next
	n.log.WithFields(logrus.Fields{"from": prev, "to": next}).Info("NMT state changed")
	n.sendHeartbeat()
	n.armHeartbeatTimer()
	for _, cb := range n.callbacks {
		if cb != nil {
			cb(next)
		}
	}
}

// sendHeartbeat transmits the current state as a heartbeat frame. It is also
// the periodic timer's callback, so it must never touch hbTimer itself: the
// network core already re-arms a periodic timer after every firing, and
// arming a second one from inside the callback of the first would leave the
// old one's re-arm unaccounted for, accumulating timers over time.
func (n *NMT) sendHeartbeat() {
	var data [1]byte
	data[0] = byte(n.state)
	f, err := frame.New(n.hbCOBID, data[:])
	if err != nil {
		n.log.WithError(err).Error("failed to build heartbeat frame")
		return
	}
	if err := n.net.Send(f); err != nil {
		n.log.WithError(err).Warn("failed to send heartbeat")
	}
}

// armHeartbeatTimer (re)schedules the periodic heartbeat timer to fire
// hbPeriod from now, discarding any previously armed one. Called only from
// synchronous entry points (Start, state transitions) that want to reset
// the producer's phase — never from sendHeartbeat itself.
func (n *NMT) armHeartbeatTimer() {
	n.stopHeartbeatTimer()
	if n.hbPeriod > 0 {
		n.hbTimer = n.net.SetTimer(n.net.GetTime().Add(n.hbPeriod), n.hbPeriod, n.sendHeartbeat)
	}
}

func (n *NMT) stopHeartbeatTimer() {
	if n.hbTimer != nil {
		n.hbTimer.Stop()
		n.hbTimer = nil
	}
}

// SendCommand issues an NMT command to the network, applying it locally
// first if it targets this node or is a broadcast (target 0).
func (n *NMT) SendCommand(cmd Command, targetNodeID uint8) error {
	if targetNodeID == 0 || targetNodeID == n.nodeID {
		n.processCommand(cmd)
	}
	var data [2]byte
	data[0] = byte(cmd)
	data[1] = targetNodeID
	f, err := frame.New(n.cmdCOBID, data[:])
	if err != nil {
		return err
	}
	return n.net.Send(f)
}
