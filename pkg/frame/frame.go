// Package frame defines the wire-level CAN/CAN-FD frame value type shared by
// the network core and every CAN bus driver.
package frame

import (
	"errors"
	"fmt"
)

// Flags is a bitset of frame properties.
type Flags uint8

const (
	// IDE marks a 29-bit extended identifier. Absent, the identifier is
	// 11-bit standard.
	IDE Flags = 1 << iota
	// RTR marks a remote transmission request: no payload bytes are
	// carried, but Len still states the requested length.
	RTR
	// FDF marks a CAN-FD frame, allowing payloads up to 64 bytes from the
	// restricted FD length set.
	FDF
	// BRS requests the bit-rate switch during the data phase (FD only).
	BRS
	// ESI marks the error state indicator (FD only).
	ESI
)

const (
	maxStdID = 0x7FF
	maxExtID = 0x1FFFFFFF
)

var fdLengths = [...]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

var (
	ErrInvalidID     = errors.New("frame: identifier exceeds IDE range")
	ErrInvalidLength = errors.New("frame: invalid data length")
)

// Frame is a CAN or CAN-FD frame. Data is always backed by a fixed 64-byte
// array; only Data[:Len] is meaningful.
type Frame struct {
	ID    uint32
	Flags Flags
	Len   uint8
	Data  [64]byte
}

// New builds a classical CAN data frame, setting IDE automatically when id
// does not fit in 11 bits.
func New(id uint32, data []byte) (Frame, error) {
	var f Frame
	f.ID = id
	if id > maxStdID {
		f.Flags |= IDE
	}
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f, f.Validate()
}

// NewFD builds a CAN-FD data frame, setting IDE automatically when id does
// not fit in 11 bits.
func NewFD(id uint32, data []byte, brs bool) (Frame, error) {
	var f Frame
	f.ID = id
	if id > maxStdID {
		f.Flags |= IDE
	}
	f.Flags |= FDF
	if brs {
		f.Flags |= BRS
	}
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f, f.Validate()
}

// Extended reports whether the identifier is 29-bit.
func (f Frame) Extended() bool { return f.Flags&IDE != 0 }

// IsRTR reports whether this is a remote transmission request.
func (f Frame) IsRTR() bool { return f.Flags&RTR != 0 }

// IsFD reports whether this is a CAN-FD frame.
func (f Frame) IsFD() bool { return f.Flags&FDF != 0 }

// Payload returns the meaningful slice of Data.
func (f *Frame) Payload() []byte { return f.Data[:f.Len] }

// Validate checks the invariants from the data model: identifier range per
// IDE, and length range/quantization per FDF.
func (f Frame) Validate() error {
	if f.Extended() {
		if f.ID > maxExtID {
			return ErrInvalidID
		}
	} else if f.ID > maxStdID {
		return ErrInvalidID
	}
	if !f.IsFD() {
		if f.Len > 8 {
			return ErrInvalidLength
		}
		return nil
	}
	if f.Len > 64 {
		return ErrInvalidLength
	}
	for _, l := range fdLengths {
		if l == f.Len {
			return nil
		}
	}
	return fmt.Errorf("%w: %d is not a valid FD length", ErrInvalidLength, f.Len)
}
