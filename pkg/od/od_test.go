package od

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariableReadWriteRoundtrip(t *testing.T) {
	v := NewVariable(0, "test", Unsigned32, AttrSDORW, nil)
	v.Limits.NoLimit = true

	r := v.Write([]byte{0x01, 0x02, 0x03, 0x04})
	require.Equal(t, ODROK, r)

	data, r := v.Read()
	require.Equal(t, ODROK, r)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, data)
	assert.EqualValues(t, 0x04030201, v.GetUint32())
}

func TestReadOnlyRejectsWrite(t *testing.T) {
	v := NewVariable(0, "ro", Unsigned8, AttrSDOR, []byte{5})
	r := v.Write([]byte{9})
	assert.Equal(t, ODRReadOnly, r)
}

func TestWriteOnlyRejectsRead(t *testing.T) {
	v := NewVariable(0, "wo", Unsigned8, AttrSDOW, []byte{5})
	_, r := v.Read()
	assert.Equal(t, ODRWriteOnly, r)
}

func TestDownloadLengthMismatch(t *testing.T) {
	v := NewVariable(0, "u16", Unsigned16, AttrSDORW, nil)
	r := v.Write([]byte{1, 2, 3})
	assert.Equal(t, ODRDataLong, r)

	r = v.Write([]byte{1})
	assert.Equal(t, ODRDataShort, r)
}

func TestStringShortWriteZeroFills(t *testing.T) {
	v := NewVariable(0, "str", VisibleString, AttrSDORW|AttrStr, make([]byte, 8))
	r := v.Write([]byte("hi"))
	require.Equal(t, ODROK, r)
	assert.Equal(t, "hi", v.GetVisibleString())
}

func TestLimitsRejectOutOfRange(t *testing.T) {
	v := NewVariable(0, "bound", Integer16, AttrSDORW, nil)
	v.Limits = Limits{Min: 0, Max: 100}

	r := v.Write([]byte{0xFF, 0xFF}) // -1
	assert.Equal(t, ODRValueLow, r)

	buf := make([]byte, 2)
	buf[0], buf[1] = 200, 0 // 200
	r = v.Write(buf)
	assert.Equal(t, ODRValueHigh, r)
}

func TestOddWidthIntegerSignExtension(t *testing.T) {
	v := NewVariable(0, "i24", Integer24, AttrSDORW, nil)
	v.Limits.NoLimit = true
	// -1 in 24-bit two's complement
	require.Equal(t, ODROK, v.Write([]byte{0xFF, 0xFF, 0xFF}))
	assert.EqualValues(t, -1, v.GetInt64())
}

func TestArraySubObject0TracksHighestSubindex(t *testing.T) {
	obj := NewObject(0x2000, "arr", ObjectARRAY)
	obj.AddSub(NewVariable(0, "count", Unsigned8, AttrSDOR, []byte{0}))
	obj.AddSub(NewVariable(3, "elem3", Unsigned8, AttrSDORW, []byte{0}))
	obj.AddSub(NewVariable(1, "elem1", Unsigned8, AttrSDORW, []byte{0}))
	obj.SyncArrayCount()

	assert.Equal(t, uint8(3), obj.Sub(0).GetUint8())
}

func TestObjectDictionaryLookup(t *testing.T) {
	dict := New()
	obj := NewObject(0x1000, "device type", ObjectVAR)
	obj.AddSub(NewVariable(0, "value", Unsigned32, AttrSDOR, []byte{0, 0, 0, 0}))
	dict.AddObject(obj)

	sub, r := dict.Sub(0x1000, 0)
	require.Equal(t, ODROK, r)
	assert.Equal(t, "value", sub.Name)

	_, r = dict.Sub(0x1001, 0)
	assert.Equal(t, ODRIdxNotExist, r)

	_, r = dict.Sub(0x1000, 5)
	assert.Equal(t, ODRSubNotExist, r)
}

func TestODRAbortCodeMapping(t *testing.T) {
	assert.EqualValues(t, 0x06090030, ODRInvalidValue.AbortCode())
	assert.EqualValues(t, 0x06020000, ODRIdxNotExist.AbortCode())
}

func TestReal32Roundtrip(t *testing.T) {
	v := NewVariable(0, "f", Real32, AttrSDORW, nil)
	v.SetReal32(3.5)
	assert.InDelta(t, 3.5, v.GetReal32(), 0.0001)
}

func TestTimeOfDayRoundtrip(t *testing.T) {
	v := NewVariable(0, "tod", TimeOfDay, AttrSDORW, nil)
	want := TimeOfDayValue{MillisecondsAfterMidnight: 12345, DaysSince1984: 42}
	v.SetTimeOfDay(want)
	assert.Equal(t, want, v.GetTimeOfDay())
}
