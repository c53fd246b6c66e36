package node

import (
	"testing"
	"time"

	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/canopen-go/canopen/pkg/network"
	"github.com/canopen-go/canopen/pkg/nmt"
	"github.com/canopen-go/canopen/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDict(t *testing.T) *od.ObjectDictionary {
	t.Helper()
	dict := od.New()
	attr := od.AttrSDORW | od.AttrTPDO | od.AttrRPDO
	v := od.NewVariable(0, "u32", od.Unsigned32, attr, make([]byte, 4))
	v.Limits.NoLimit = true
	obj := od.NewObject(0x2000, "u32", od.ObjectVAR)
	obj.AddSub(v)
	dict.AddObject(obj)
	return dict
}

func TestNewRejectsInvalidNodeID(t *testing.T) {
	net := network.New()
	dict := newDict(t)

	_, err := New(net, dict, Config{NodeID: 0})
	assert.Error(t, err)

	_, err = New(net, dict, Config{NodeID: 200})
	assert.Error(t, err)
}

func TestNewUnassignedNodeSkipsServiceWiring(t *testing.T) {
	net := network.New()
	dict := newDict(t)

	d, err := New(net, dict, Config{NodeID: NodeIDUnassigned})
	require.NoError(t, err)
	assert.Nil(t, d.NMT)
	assert.Nil(t, d.SDOServer)
}

func TestNewAssignsDefaultCOBIDsAndStartsNMT(t *testing.T) {
	net := network.New()
	var sent []frame.Frame
	net.SetSendFunc(func(f frame.Frame) error {
		sent = append(sent, f)
		return nil
	})
	dict := newDict(t)

	d, err := New(net, dict, Config{NodeID: 5})
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, nmt.StatePreOperational, d.NMT.State())
	require.NotEmpty(t, sent)
	assert.Equal(t, uint32(0x705), sent[0].ID, "boot-up heartbeat on 0x700+node-id")
}

func TestNewWiresTPDOWithDefaultCOBID(t *testing.T) {
	net := network.New()
	net.SetSendFunc(func(f frame.Frame) error { return nil })
	dict := newDict(t)

	d, err := New(net, dict, Config{
		NodeID: 5,
		TPDOs: []TPDOConfig{
			{Index: 0, TransmissionType: 1, Mapping: []uint32{0x20000020}},
		},
	})
	require.NoError(t, err)
	defer d.Close()

	require.Len(t, d.TPDOs, 1)
}

func TestNewWiresRPDOAndDeliversIntoDictionary(t *testing.T) {
	net := network.New()
	net.SetSendFunc(func(f frame.Frame) error { return nil })
	dict := newDict(t)

	d, err := New(net, dict, Config{
		NodeID: 5,
		RPDOs: []RPDOConfig{
			{Index: 0, Mapping: []uint32{0x20000020}},
		},
	})
	require.NoError(t, err)
	defer d.Close()

	require.Len(t, d.RPDOs, 1)

	wantCOBID := uint32(0x200 + 5)
	f, err := frame.New(wantCOBID, []byte{0x11, 0x22, 0x33, 0x44})
	require.NoError(t, err)
	net.Recv(f)

	v, r := dict.Sub(0x2000, 0)
	require.Equal(t, od.ODROK, r)
	assert.Equal(t, []byte{0x11, 0x22, 0x33, 0x44}, v.Raw())
}

func TestHeartbeatConsumerTimeoutRaisesEmergency(t *testing.T) {
	net := network.New()
	net.SetSendFunc(func(f frame.Frame) error { return nil })
	dict := newDict(t)

	d, err := New(net, dict, Config{
		NodeID:             5,
		HeartbeatConsumers: map[uint8]uint32{7: 100},
	})
	require.NoError(t, err)
	defer d.Close()

	net.SetTime(net.GetTime().Add(150 * time.Millisecond))

	require.NotNil(t, d.EMCY)
	active := d.EMCY.Active()
	require.NotEmpty(t, active)
}

func TestBitRateKbps(t *testing.T) {
	assert.Equal(t, 125, BitRate125k.Kbps())
	assert.Equal(t, 1000, BitRate1M.Kbps())
}

func TestSupportsBitRate(t *testing.T) {
	net := network.New()
	net.SetSendFunc(func(f frame.Frame) error { return nil })
	dict := newDict(t)

	d, err := New(net, dict, Config{
		NodeID:            5,
		SupportedBitRates: map[BitRate]bool{BitRate125k: true, BitRate500k: true},
	})
	require.NoError(t, err)
	defer d.Close()

	assert.True(t, d.SupportsBitRate(BitRate125k))
	assert.False(t, d.SupportsBitRate(BitRate1M))
}
