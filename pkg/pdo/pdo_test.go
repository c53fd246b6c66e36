package pdo

import (
	"testing"
	"time"

	"github.com/canopen-go/canopen/pkg/emergency"
	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/canopen-go/canopen/pkg/network"
	"github.com/canopen-go/canopen/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDict(t *testing.T) *od.ObjectDictionary {
	t.Helper()
	dict := od.New()

	attr := od.AttrSDORW | od.AttrTPDO | od.AttrRPDO

	v32 := od.NewVariable(0, "u32", od.Unsigned32, attr, make([]byte, 4))
	v32.Limits.NoLimit = true
	obj32 := od.NewObject(0x2000, "u32", od.ObjectVAR)
	obj32.AddSub(v32)
	dict.AddObject(obj32)

	v16 := od.NewVariable(0, "u16", od.Unsigned16, attr, make([]byte, 2))
	v16.Limits.NoLimit = true
	obj16 := od.NewObject(0x2001, "u16", od.ObjectVAR)
	obj16.AddSub(v16)
	dict.AddObject(obj16)

	return dict
}

func mapParam(index uint16, sub uint8, bitLen uint8) uint32 {
	return uint32(index)<<16 | uint32(sub)<<8 | uint32(bitLen)
}

func TestTPDOAcyclicSendsOnSyncAfterTrigger(t *testing.T) {
	net := network.New()
	var sent []frame.Frame
	net.SetSendFunc(func(f frame.Frame) error {
		sent = append(sent, f)
		return nil
	})
	dict := newDict(t)

	tp, err := NewTPDO(net, dict, TPDOOptions{
		COBID:            0x180,
		TransmissionType: TransmissionSyncAcyclic,
		Mapping:          []uint32{mapParam(0x2000, 0, 32)},
	})
	require.NoError(t, err)
	defer tp.Close()

	tp.OnSync(0, false)
	assert.Empty(t, sent, "no data pending, acyclic PDO should not send")

	tp.TriggerEvent()
	tp.OnSync(0, false)
	require.Len(t, sent, 1)
	assert.Equal(t, uint32(0x180), sent[0].ID)
}

func TestTPDOCyclicSendsEveryNthSync(t *testing.T) {
	net := network.New()
	var sent []frame.Frame
	net.SetSendFunc(func(f frame.Frame) error {
		sent = append(sent, f)
		return nil
	})
	dict := newDict(t)

	tp, err := NewTPDO(net, dict, TPDOOptions{
		COBID:            0x181,
		TransmissionType: 3,
		Mapping:          []uint32{mapParam(0x2000, 0, 32)},
	})
	require.NoError(t, err)
	defer tp.Close()

	for i := 0; i < 2; i++ {
		tp.OnSync(0, false)
	}
	assert.Empty(t, sent)

	tp.OnSync(0, false)
	assert.Len(t, sent, 1)

	for i := 0; i < 2; i++ {
		tp.OnSync(0, false)
	}
	assert.Len(t, sent, 1)
	tp.OnSync(0, false)
	assert.Len(t, sent, 2)
}

func TestTPDOInhibitTimeDefersSend(t *testing.T) {
	net := network.New()
	var sent []frame.Frame
	net.SetSendFunc(func(f frame.Frame) error {
		sent = append(sent, f)
		return nil
	})
	dict := newDict(t)

	tp, err := NewTPDO(net, dict, TPDOOptions{
		COBID:            0x182,
		TransmissionType: TransmissionEventHi,
		InhibitTime:      100 * time.Millisecond,
		Mapping:          []uint32{mapParam(0x2000, 0, 32)},
	})
	require.NoError(t, err)
	defer tp.Close()

	tp.TriggerEvent()
	require.Len(t, sent, 1)

	tp.TriggerEvent() // within inhibit window, should defer
	assert.Len(t, sent, 1)

	net.SetTime(net.GetTime().Add(150 * time.Millisecond))
	assert.Len(t, sent, 2)
}

func TestTPDORespondsToRTR(t *testing.T) {
	net := network.New()
	var sent []frame.Frame
	net.SetSendFunc(func(f frame.Frame) error {
		sent = append(sent, f)
		return nil
	})
	dict := newDict(t)

	tp, err := NewTPDO(net, dict, TPDOOptions{
		COBID:            0x183,
		TransmissionType: TransmissionAsyncRTR,
		Mapping:          []uint32{mapParam(0x2000, 0, 32)},
	})
	require.NoError(t, err)
	defer tp.Close()

	rtr := frame.Frame{ID: 0x183, Flags: frame.RTR, Len: 4}
	net.Recv(rtr)
	assert.Len(t, sent, 1)
}

func TestNewTPDORejectsMisalignedOrTooShortMapping(t *testing.T) {
	net := network.New()
	dict := newDict(t)

	_, err := NewTPDO(net, dict, TPDOOptions{
		COBID:   0x184,
		Mapping: []uint32{mapParam(0x2000, 0, 33)}, // not byte-aligned
	})
	assert.Error(t, err)

	_, err = NewTPDO(net, dict, TPDOOptions{
		COBID:   0x185,
		Mapping: []uint32{mapParam(0x2000, 0, 16)}, // shorter than the sub-object
	})
	assert.Error(t, err)
}

func TestRPDOWritesMappedSubObjects(t *testing.T) {
	net := network.New()
	dict := newDict(t)

	rp, err := NewRPDO(net, dict, nil, RPDOOptions{
		COBID:   0x200,
		Mapping: []uint32{mapParam(0x2000, 0, 32), mapParam(0x2001, 0, 16)},
	})
	require.NoError(t, err)
	defer rp.Close()

	f, err := frame.New(0x200, []byte{0x01, 0x02, 0x03, 0x04, 0xAA, 0xBB})
	require.NoError(t, err)
	net.Recv(f)

	v, r := dict.Sub(0x2000, 0)
	require.Equal(t, od.ODROK, r)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, v.Raw())

	v2, r := dict.Sub(0x2001, 0)
	require.Equal(t, od.ODROK, r)
	assert.Equal(t, []byte{0xAA, 0xBB}, v2.Raw())
}

func TestRPDOLengthMismatchRaisesEmergency(t *testing.T) {
	net := network.New()
	net.SetSendFunc(func(f frame.Frame) error { return nil })
	dict := newDict(t)

	prod := emergency.NewProducer(net, 0x080)
	rp, err := NewRPDO(net, dict, prod, RPDOOptions{
		COBID:   0x201,
		Mapping: []uint32{mapParam(0x2000, 0, 32)},
	})
	require.NoError(t, err)
	defer rp.Close()

	f, err := frame.New(0x201, []byte{0x01, 0x02})
	require.NoError(t, err)
	net.Recv(f)

	active := prod.Active()
	require.Len(t, active, 1)
	assert.Equal(t, emergency.CodePDOLength, active[0])
}
