package network

import "time"

// TimerCallback is invoked when a Timer's expiry has been reached. Timer
// callbacks have no failure channel, per the network core's failure model.
type TimerCallback func()

type timerState int

const (
	timerIdle timerState = iota
	timerArmed
)

// Timer fires at or after an absolute expiry, optionally re-arming itself
// periodically. Timers live in the network's priority queue, earliest
// expiry first.
type Timer struct {
	net      *Network
	expiry   time.Time
	interval time.Duration // zero means one-shot
	callback TimerCallback
	state    timerState
	index    int // heap index, maintained by container/heap
}

// Stop deregisters the timer. Idempotent, safe from inside the timer's own
// callback.
func (t *Timer) Stop() {
	if t.state != timerArmed {
		return
	}
	t.net.removeTimer(t)
	t.state = timerIdle
}

// Expiry returns the timer's currently armed absolute expiry.
func (t *Timer) Expiry() time.Time {
	return t.expiry
}

// timerHeap is a container/heap min-heap ordered by expiry.
type timerHeap []*Timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].expiry.Before(h[j].expiry) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
