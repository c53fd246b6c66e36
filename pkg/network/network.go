// Package network implements the clock-driven, single-threaded CANopen
// network core: frame dispatch to receivers keyed by (id & mask), a timer
// priority queue ordered by absolute expiry, and an installable transmit
// path. See the REDESIGN FLAGS in the repository's design notes: this core
// replaces the teacher's per-node polling goroutines with synchronous
// callbacks driven entirely by SetTime/Recv/Send.
package network

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/sirupsen/logrus"
)

// SendFunc transmits a frame on the underlying bus.
type SendFunc func(f frame.Frame) error

// NextTimerFunc is invoked whenever the earliest armed timer changes. The
// host uses this to know when to next call SetTime. ok is false when no
// timer is armed ("never").
type NextTimerFunc func(expiry time.Time, ok bool)

var (
	errNoSendFunc         = errors.New("network: no send callback installed")
	ErrClockWentBackwards = errors.New("network: SetTime called with time before current clock")
)

// Network is the sole protocol engine: a single logical executor that owns
// the receiver map and timer heap. SetTime, Recv and Send are its only
// state-advancing entry points; none of them spawns a goroutine or blocks.
// A single mutex guards all three so that a host driving a shared Network
// from multiple goroutines (its own CAN-reader goroutine plus its own clock
// goroutine, say) still sees them serialized into one logical executor.
type Network struct {
	mu  sync.Mutex
	log *logrus.Entry

	now time.Time

	receivers map[uint32][]*Receiver
	masks     map[uint32]struct{} // distinct masks in use, for Recv's key scan
	timers    timerHeap

	send     SendFunc
	nextFunc NextTimerFunc
}

// New constructs an empty Network. The clock starts at the zero time;
// callers must call SetTime before any timer semantics are meaningful.
func New() *Network {
	return &Network{
		log:       logrus.WithField("component", "network"),
		receivers: make(map[uint32][]*Receiver),
		masks:     make(map[uint32]struct{}),
	}
}

// SetSendFunc installs the transmit callback, replacing any previous one.
func (n *Network) SetSendFunc(fn SendFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.send = fn
}

// SetNextTimerFunc installs the callback invoked whenever the earliest
// armed timer changes.
func (n *Network) SetNextTimerFunc(fn NextTimerFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextFunc = fn
}

// GetTime returns the network's internal clock.
func (n *Network) GetTime() time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.now
}

// Send invokes the installed transmit callback exactly once and returns its
// result. Send failure is reported to the caller; it does not affect
// protocol state.
func (n *Network) Send(f frame.Frame) error {
	n.mu.Lock()
	send := n.send
	n.mu.Unlock()

	if send == nil {
		return errNoSendFunc
	}
	return send(f)
}

// Recv dispatches a received frame to every matching receiver, in insertion
// order, and returns how many were invoked. Receivers that deregister or
// register during dispatch only affect frames dispatched afterwards.
//
// Receivers are keyed by (id & mask) but different receivers may use
// different masks, so every distinct mask in use is tried against the
// incoming frame's id to find the candidate buckets.
func (n *Network) Recv(f frame.Frame) int {
	n.mu.Lock()
	var matching []*Receiver
	for mask := range n.masks {
		key := f.ID & mask
		matching = append(matching, n.receivers[key]...)
	}
	n.mu.Unlock()

	invoked := 0
	seen := make(map[*Receiver]bool, len(matching))
	for _, r := range matching {
		if seen[r] {
			continue
		}
		seen[r] = true
		// r.state is intentionally not re-checked here: a receiver that
		// stops itself or another receiver mid-dispatch still fires for
		// the frame currently being dispatched, since it was part of the
		// snapshot taken before dispatch began. Stop only removes a
		// receiver from the map consulted by future Recv calls.
		if r.key != f.ID&r.mask {
			continue
		}
		if !recvMatches(r.flags, f) {
			continue
		}
		invoked++
		if err := r.callback(f); err != nil {
			n.log.WithError(err).WithField("id", f.ID).Warn("receiver callback returned error")
		}
	}
	return invoked
}

// Subscribe registers a receiver for frames whose (id & mask) equals
// (subscribed id & mask), additionally filtered by flags (IDE/RTR). The
// returned Receiver must be stopped before the caller releases its last
// reference to it.
func (n *Network) Subscribe(id, mask uint32, flags RecvFlags, cb Callback) *Receiver {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := id & mask
	r := &Receiver{
		net:      n,
		key:      key,
		mask:     mask,
		flags:    flags,
		callback: cb,
		state:    receiverActive,
	}
	n.receivers[key] = append(n.receivers[key], r)
	n.masks[mask] = struct{}{}
	return r
}

func (n *Network) removeReceiver(r *Receiver) {
	n.mu.Lock()
	defer n.mu.Unlock()

	subs := n.receivers[r.key]
	for i, sub := range subs {
		if sub == r {
			n.receivers[r.key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(n.receivers[r.key]) == 0 {
		delete(n.receivers, r.key)
	}
}

// SetTimer arms a timer to fire at start, optionally repeating every
// interval thereafter. interval of zero means one-shot.
func (n *Network) SetTimer(start time.Time, interval time.Duration, cb TimerCallback) *Timer {
	n.mu.Lock()
	defer n.mu.Unlock()

	t := &Timer{
		net:      n,
		expiry:   start,
		interval: interval,
		callback: cb,
		state:    timerArmed,
	}
	heap.Push(&n.timers, t)
	n.notifyNextTimerLocked()
	return t
}

// SetTimeout arms a one-shot timer relative to the network's current time.
func (n *Network) SetTimeout(d time.Duration, cb TimerCallback) *Timer {
	return n.SetTimer(n.GetTime().Add(d), 0, cb)
}

func (n *Network) removeTimer(t *Timer) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if t.index < 0 || t.index >= len(n.timers) || n.timers[t.index] != t {
		return
	}
	heap.Remove(&n.timers, t.index)
	n.notifyNextTimerLocked()
}

// SetTime advances the internal clock to t, which must be >= the previous
// value, and fires every armed timer whose expiry is <= t, in ascending
// order of expiry. A periodic timer re-arms at expiry+interval; if that is
// still <= t, the period is extended by ceil((t-expiry)/interval)*interval
// so the timer never queues up expired periods, firing at most once per
// SetTime call regardless of how many periods elapsed.
//
// SetTime returns ErrClockWentBackwards and leaves the clock and all timers
// untouched if t precedes the current time.
func (n *Network) SetTime(t time.Time) error {
	n.mu.Lock()
	if t.Before(n.now) {
		n.mu.Unlock()
		n.log.WithFields(logrus.Fields{"now": n.now, "t": t}).Warn("SetTime called with time before current clock")
		return ErrClockWentBackwards
	}
	n.now = t

	var due []*Timer
	for len(n.timers) > 0 && !n.timers[0].expiry.After(t) {
		due = append(due, heap.Pop(&n.timers).(*Timer))
	}
	n.mu.Unlock()

	for _, timer := range due {
		timer.callback()

		if timer.state != timerArmed {
			// The callback stopped this timer (itself or, via Stop being
			// idempotent, some other due timer) before we got a chance to
			// re-arm it. removeTimer is a no-op on an already-popped timer
			// (negative heap index), so without this check the timer below
			// would be pushed back onto the heap regardless.
			continue
		}

		if timer.interval <= 0 {
			timer.state = timerIdle
			continue
		}

		next := timer.expiry.Add(timer.interval)
		if next.Before(t) || next.Equal(t) {
			elapsed := t.Sub(timer.expiry)
			periods := int64(elapsed / timer.interval)
			if elapsed%timer.interval != 0 {
				periods++
			}
			next = timer.expiry.Add(time.Duration(periods) * timer.interval)
		}
		timer.expiry = next

		n.mu.Lock()
		heap.Push(&n.timers, timer)
		n.mu.Unlock()
	}

	n.mu.Lock()
	n.notifyNextTimerLocked()
	n.mu.Unlock()
	return nil
}

func (n *Network) notifyNextTimerLocked() {
	if n.nextFunc == nil {
		return
	}
	if len(n.timers) == 0 {
		n.nextFunc(time.Time{}, false)
		return
	}
	n.nextFunc(n.timers[0].expiry, true)
}
