package virtual

import (
	"testing"

	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendDeliversToOtherMemberNotSelf(t *testing.T) {
	channel := "test-channel-1"
	bus1, err := New(channel)
	require.NoError(t, err)
	bus2, err := New(channel)
	require.NoError(t, err)
	require.NoError(t, bus1.Connect())
	require.NoError(t, bus2.Connect())
	defer bus1.Disconnect()
	defer bus2.Disconnect()

	var gotOn1, gotOn2 []frame.Frame
	bus1.SetReceiveFunc(func(f frame.Frame) { gotOn1 = append(gotOn1, f) })
	bus2.SetReceiveFunc(func(f frame.Frame) { gotOn2 = append(gotOn2, f) })

	f, err := frame.New(0x123, []byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, bus1.Send(f))

	assert.Empty(t, gotOn1, "sender should not see its own frame by default")
	require.Len(t, gotOn2, 1)
	assert.Equal(t, uint32(0x123), gotOn2[0].ID)
}

func TestReceiveOwnDeliversToSelf(t *testing.T) {
	channel := "test-channel-2"
	bus1, err := New(channel)
	require.NoError(t, err)
	b := bus1.(*Bus)
	b.SetReceiveOwn(true)
	require.NoError(t, bus1.Connect())
	defer bus1.Disconnect()

	var got []frame.Frame
	bus1.SetReceiveFunc(func(f frame.Frame) { got = append(got, f) })

	f, err := frame.New(0x111, []byte{0, 1})
	require.NoError(t, err)
	require.NoError(t, bus1.Send(f))

	require.Len(t, got, 1)
}

func TestSendWithoutConnectErrors(t *testing.T) {
	bus, err := New("test-channel-3")
	require.NoError(t, err)

	f, err := frame.New(0x1, nil)
	require.NoError(t, err)
	assert.Error(t, bus.Send(f))
}

func TestDisconnectStopsDelivery(t *testing.T) {
	channel := "test-channel-4"
	bus1, err := New(channel)
	require.NoError(t, err)
	bus2, err := New(channel)
	require.NoError(t, err)
	require.NoError(t, bus1.Connect())
	require.NoError(t, bus2.Connect())

	var got []frame.Frame
	bus2.SetReceiveFunc(func(f frame.Frame) { got = append(got, f) })
	require.NoError(t, bus2.Disconnect())

	f, err := frame.New(0x222, nil)
	require.NoError(t, err)
	require.NoError(t, bus1.Send(f))

	assert.Empty(t, got)
	require.NoError(t, bus1.Disconnect())
}
