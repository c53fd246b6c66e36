package network

import "github.com/canopen-go/canopen/pkg/frame"

// RecvFlags filters which frame flag combinations a Receiver accepts,
// mirroring the lely-core can_recv_start "flags" parameter: besides the
// id/mask key, IDE and RTR must also match for a frame to be dispatched.
type RecvFlags uint8

const (
	// RecvIDE requires the frame to carry an extended (29-bit) identifier.
	RecvIDE RecvFlags = 1 << iota
	// RecvRTR requires the frame to be a remote transmission request.
	RecvRTR
)

// Callback is invoked for every frame a Receiver matches. The returned
// error is logged but never halts dispatch to the remaining receivers.
type Callback func(f frame.Frame) error

type receiverState int

const (
	receiverIdle receiverState = iota
	receiverActive
)

// Receiver is a registered interest in frames matching (id & mask), plus an
// IDE/RTR flag filter. Insertion order within a key is preserved for
// dispatch.
type Receiver struct {
	net      *Network
	key      uint32
	mask     uint32
	flags    RecvFlags
	callback Callback
	state    receiverState
}

// Stop deregisters the receiver. It is idempotent and safe to call from
// inside the receiver's own callback; the change takes effect for
// subsequent frames, never the one currently being dispatched.
func (r *Receiver) Stop() {
	if r.state != receiverActive {
		return
	}
	r.net.removeReceiver(r)
	r.state = receiverIdle
}

func recvMatches(flags RecvFlags, f frame.Frame) bool {
	wantIDE := flags&RecvIDE != 0
	wantRTR := flags&RecvRTR != 0
	return f.Extended() == wantIDE && f.IsRTR() == wantRTR
}
