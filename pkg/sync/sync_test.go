package sync

import (
	"testing"
	"time"

	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/canopen-go/canopen/pkg/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerSendsPeriodicallyWithoutCounter(t *testing.T) {
	net := network.New()
	var sent []frame.Frame
	net.SetSendFunc(func(f frame.Frame) error {
		sent = append(sent, f)
		return nil
	})

	p := NewProducer(net, Options{COBID: 0x080, Period: 10 * time.Millisecond})
	p.Start()
	defer p.Stop()

	require.Len(t, sent, 1)
	assert.Equal(t, uint8(0), sent[0].Len)

	// One SetTime spanning two periods fires the periodic timer once, then
	// re-arms it to the next period after now.
	net.SetTime(net.GetTime().Add(25 * time.Millisecond))
	assert.Len(t, sent, 2)
}

func TestProducerCounterWrapsAtMax(t *testing.T) {
	net := network.New()
	var sent []frame.Frame
	net.SetSendFunc(func(f frame.Frame) error {
		sent = append(sent, f)
		return nil
	})

	p := NewProducer(net, Options{COBID: 0x080, Period: time.Millisecond, CounterOn: true})
	p.Start()
	defer p.Stop()

	require.Len(t, sent, 1)
	assert.Equal(t, uint8(1), sent[0].Len)
	assert.Equal(t, byte(1), sent[0].Data[0])

	for i := 0; i < maxCounter; i++ {
		net.SetTime(net.GetTime().Add(time.Millisecond))
	}
	last := sent[len(sent)-1]
	assert.Equal(t, byte(1), last.Data[0], "counter must wrap back to 1 at maxCounter")
}

func TestConsumerLatchesCounter(t *testing.T) {
	net := network.New()

	var got byte
	var hasCounter bool
	c := NewConsumer(net, 0x080, func(counter byte, has bool) {
		got = counter
		hasCounter = has
	})
	defer c.Close()

	f, err := frame.New(0x080, []byte{42})
	require.NoError(t, err)
	net.Recv(f)

	assert.True(t, hasCounter)
	assert.Equal(t, byte(42), got)
	assert.Equal(t, byte(42), c.Counter())
}

func TestConsumerWithoutCounterByte(t *testing.T) {
	net := network.New()

	var hasCounter bool
	c := NewConsumer(net, 0x080, func(counter byte, has bool) {
		hasCounter = has
	})
	defer c.Close()

	f, err := frame.New(0x080, nil)
	require.NoError(t, err)
	net.Recv(f)

	assert.False(t, hasCounter)
}
