package emergency

import (
	"testing"

	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/canopen-go/canopen/pkg/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushSendsEmergencyFrame(t *testing.T) {
	net := network.New()
	var sent []frame.Frame
	net.SetSendFunc(func(f frame.Frame) error {
		sent = append(sent, f)
		return nil
	})

	p := NewProducer(net, 0x081)
	require.NoError(t, p.Push(CodeVoltage, RegisterVoltage, [5]byte{1, 2, 3, 4, 5}))

	require.Len(t, sent, 1)
	f := sent[0]
	assert.Equal(t, uint32(0x081), f.ID)
	assert.Equal(t, byte(0x00), f.Data[0])
	assert.Equal(t, byte(0x30), f.Data[1])
	assert.Equal(t, byte(RegisterVoltage), f.Data[2])
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, f.Data[3:8])
	assert.Equal(t, []Code{CodeVoltage}, p.Active())
}

func TestPopSendsResetFrameWithAggregateRegister(t *testing.T) {
	net := network.New()
	var sent []frame.Frame
	net.SetSendFunc(func(f frame.Frame) error {
		sent = append(sent, f)
		return nil
	})

	p := NewProducer(net, 0x081)
	require.NoError(t, p.Push(CodeVoltage, RegisterVoltage, [5]byte{}))
	require.NoError(t, p.Push(CodeCurrent, RegisterCurrent, [5]byte{}))

	require.NoError(t, p.Pop(CodeVoltage))

	last := sent[len(sent)-1]
	gotCode := Code(uint16(last.Data[0]) | uint16(last.Data[1])<<8)
	assert.Equal(t, CodeNoError, gotCode)
	assert.Equal(t, byte(RegisterCurrent), last.Data[2])
	assert.Equal(t, []Code{CodeCurrent}, p.Active())
}

func TestPopUnknownCodeIsNoop(t *testing.T) {
	net := network.New()
	var sent int
	net.SetSendFunc(func(f frame.Frame) error {
		sent++
		return nil
	})

	p := NewProducer(net, 0x081)
	require.NoError(t, p.Pop(CodeVoltage))
	assert.Zero(t, sent)
}

func TestClearEmptiesStackAndSendsNoError(t *testing.T) {
	net := network.New()
	var sent []frame.Frame
	net.SetSendFunc(func(f frame.Frame) error {
		sent = append(sent, f)
		return nil
	})

	p := NewProducer(net, 0x081)
	require.NoError(t, p.Push(CodeVoltage, RegisterVoltage, [5]byte{}))
	require.NoError(t, p.Clear())

	assert.Empty(t, p.Active())
	last := sent[len(sent)-1]
	assert.Equal(t, byte(0), last.Data[2])
}

func TestPushEvictsOldestBeyondDepth(t *testing.T) {
	net := network.New()
	net.SetSendFunc(func(f frame.Frame) error { return nil })

	p := NewProducer(net, 0x081)
	for i := 0; i < defaultDepth+2; i++ {
		require.NoError(t, p.Push(Code(0x1000+Code(i)), RegisterGeneric, [5]byte{}))
	}

	active := p.Active()
	require.Len(t, active, defaultDepth)
	assert.Equal(t, Code(0x1000+Code(defaultDepth+1)), active[0], "most recent push first")
	for _, c := range active {
		assert.NotEqual(t, Code(0x1000), c, "oldest two pushes should have been evicted")
		assert.NotEqual(t, Code(0x1001), c)
	}
}

func TestConsumerDeliversPushedFrames(t *testing.T) {
	net := network.New()
	net.SetSendFunc(func(f frame.Frame) error {
		net.Recv(f)
		return nil
	})

	var gotNode uint8
	var gotCode Code
	var gotRegister Register
	c := NewConsumer(net, func(nodeID uint8, code Code, register Register, mfg [5]byte) {
		gotNode = nodeID
		gotCode = code
		gotRegister = register
	})
	defer c.Close()

	p := NewProducer(net, 0x080+0x05)
	require.NoError(t, p.Push(CodeHardware, RegisterGeneric, [5]byte{}))

	assert.Equal(t, uint8(5), gotNode)
	assert.Equal(t, CodeHardware, gotCode)
	assert.Equal(t, RegisterGeneric, gotRegister)
}
