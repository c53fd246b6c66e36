package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSetsIDEAboveStandardRange(t *testing.T) {
	f, err := New(0x1FF, []byte{1, 2, 3})
	assert.NoError(t, err)
	assert.False(t, f.Extended())

	f, err = New(0x7FF+1, []byte{1, 2, 3})
	assert.NoError(t, err)
	assert.True(t, f.Extended())
}

func TestValidateRejectsOversizeStandardID(t *testing.T) {
	f := Frame{ID: maxStdID + 1}
	assert.ErrorIs(t, f.Validate(), ErrInvalidID)
}

func TestValidateRejectsOversizeExtendedID(t *testing.T) {
	f := Frame{ID: maxExtID + 1, Flags: IDE}
	assert.ErrorIs(t, f.Validate(), ErrInvalidID)
}

func TestClassicLengthMustBeAtMost8(t *testing.T) {
	f := Frame{Len: 9}
	assert.ErrorIs(t, f.Validate(), ErrInvalidLength)
}

func TestFDLengthMustBeQuantized(t *testing.T) {
	f := Frame{Flags: FDF, Len: 13}
	assert.ErrorIs(t, f.Validate(), ErrInvalidLength)

	f = Frame{Flags: FDF, Len: 48}
	assert.NoError(t, f.Validate())
}

func TestPayloadSlicesByLen(t *testing.T) {
	f, err := New(1, []byte{1, 2, 3})
	assert.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, f.Payload())
}

func TestNewFDSetsFlags(t *testing.T) {
	f, err := NewFD(1, make([]byte, 32), true)
	assert.NoError(t, err)
	assert.True(t, f.IsFD())
	assert.NotZero(t, f.Flags&BRS)
}
