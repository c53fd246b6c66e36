package network

import (
	"testing"
	"time"

	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func epoch(seconds int) time.Time {
	return time.Unix(int64(seconds), 0)
}

func TestSendInvokesInstalledCallback(t *testing.T) {
	n := New()
	var got frame.Frame
	calls := 0
	n.SetSendFunc(func(f frame.Frame) error {
		calls++
		got = f
		return nil
	})

	f, _ := frame.New(0x123, []byte{1, 2, 3})
	err := n.Send(f)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, f, got)
}

func TestSendWithoutCallbackFails(t *testing.T) {
	n := New()
	f, _ := frame.New(1, nil)
	err := n.Send(f)
	assert.Error(t, err)
}

func TestRecvDispatchesByIDAndMaskExactMatch(t *testing.T) {
	n := New()
	var received []uint32
	r := n.Subscribe(0x200, 0x7FF, 0, func(f frame.Frame) error {
		received = append(received, f.ID)
		return nil
	})
	defer r.Stop()

	match, _ := frame.New(0x200, nil)
	noMatch, _ := frame.New(0x201, nil)

	assert.Equal(t, 1, n.Recv(match))
	assert.Equal(t, 0, n.Recv(noMatch))
	assert.Equal(t, []uint32{0x200}, received)
}

func TestRecvFiltersOnIDEAndRTR(t *testing.T) {
	n := New()
	invoked := 0
	r := n.Subscribe(0x200, 0x7FF, 0, func(f frame.Frame) error {
		invoked++
		return nil
	})
	defer r.Stop()

	rtrFrame := frame.Frame{ID: 0x200, Flags: frame.RTR}
	assert.Equal(t, 0, n.Recv(rtrFrame))
	assert.Equal(t, 0, invoked)
}

func TestRecvInsertionOrder(t *testing.T) {
	n := New()
	var order []int
	r1 := n.Subscribe(0x1, 0x7FF, 0, func(f frame.Frame) error {
		order = append(order, 1)
		return nil
	})
	defer r1.Stop()
	r2 := n.Subscribe(0x1, 0x7FF, 0, func(f frame.Frame) error {
		order = append(order, 2)
		return nil
	})
	defer r2.Stop()

	f, _ := frame.New(0x1, nil)
	n.Recv(f)
	assert.Equal(t, []int{1, 2}, order)
}

func TestReceiverStopDuringDispatchAffectsOnlyLaterFrames(t *testing.T) {
	n := New()
	var r2 *Receiver
	invocations := 0
	r1 := n.Subscribe(0x1, 0x7FF, 0, func(f frame.Frame) error {
		invocations++
		r2.Stop()
		return nil
	})
	defer r1.Stop()
	r2 = n.Subscribe(0x1, 0x7FF, 0, func(f frame.Frame) error {
		invocations++
		return nil
	})

	f, _ := frame.New(0x1, nil)
	count := n.Recv(f)
	assert.Equal(t, 2, count, "both receivers still fire for the frame being dispatched")
	assert.Equal(t, 2, invocations)

	count = n.Recv(f)
	assert.Equal(t, 1, count, "r2 no longer fires for subsequent frames")
}

func TestSetTimeFiresOneShotTimer(t *testing.T) {
	n := New()
	fired := false
	n.SetTimer(epoch(10), 0, func() { fired = true })

	n.SetTime(epoch(5))
	assert.False(t, fired)

	n.SetTime(epoch(10))
	assert.True(t, fired)
}

func TestSetTimeFiresTimersInAscendingExpiryOrder(t *testing.T) {
	n := New()
	var order []int
	n.SetTimer(epoch(20), 0, func() { order = append(order, 20) })
	n.SetTimer(epoch(5), 0, func() { order = append(order, 5) })
	n.SetTimer(epoch(10), 0, func() { order = append(order, 10) })

	n.SetTime(epoch(25))
	assert.Equal(t, []int{5, 10, 20}, order)
}

func TestPeriodicTimerRearms(t *testing.T) {
	n := New()
	fireCount := 0
	n.SetTimer(epoch(10), 10*time.Second, func() { fireCount++ })

	n.SetTime(epoch(10))
	assert.Equal(t, 1, fireCount)
	n.SetTime(epoch(20))
	assert.Equal(t, 2, fireCount)
	n.SetTime(epoch(30))
	assert.Equal(t, 3, fireCount)
}

func TestPeriodicTimerCatchUpFiresOnceAndSkipsMissedPeriods(t *testing.T) {
	n := New()
	fireCount := 0
	timer := n.SetTimer(epoch(10), 10*time.Second, func() { fireCount++ })

	// Jump far past several missed periods in one SetTime call.
	n.SetTime(epoch(55))
	assert.Equal(t, 1, fireCount, "fires once regardless of how many periods elapsed")

	// Next expiry should be re-armed strictly after the jumped-to time,
	// not queued up at 20, 30, 40, 50.
	assert.True(t, timer.Expiry().After(epoch(55)))
}

func TestTimerStopPreventsFiring(t *testing.T) {
	n := New()
	fired := false
	timer := n.SetTimer(epoch(10), 0, func() { fired = true })
	timer.Stop()

	n.SetTime(epoch(10))
	assert.False(t, fired)
}

func TestNextTimerCallbackInvokedOnChange(t *testing.T) {
	n := New()
	var lastExpiry time.Time
	var lastOK bool
	n.SetNextTimerFunc(func(expiry time.Time, ok bool) {
		lastExpiry = expiry
		lastOK = ok
	})

	n.SetTimer(epoch(10), 0, func() {})
	assert.True(t, lastOK)
	assert.True(t, lastExpiry.Equal(epoch(10)))

	n.SetTime(epoch(10))
	assert.False(t, lastOK, "no armed timer left means 'never'")
}
