// Package fifo implements the circular scatter/gather byte buffer used by
// the SDO request/response path, including block-transfer's "alt" lookahead
// cursor for CRC-verified commits.
package fifo

import "github.com/canopen-go/canopen/internal/crc"

// Fifo is a circular byte buffer with one reserved empty slot, so full and
// empty states stay distinguishable without a separate counter.
type Fifo struct {
	buffer     []byte
	writePos   int
	readPos    int
	altReadPos int
}

// NewFifo allocates a Fifo with capacity for size-1 usable bytes.
func NewFifo(size uint16) *Fifo {
	return &Fifo{buffer: make([]byte, size)}
}

// Reset empties the buffer.
func (f *Fifo) Reset() {
	f.readPos = 0
	f.writePos = 0
	f.altReadPos = 0
}

// GetSpace returns the number of bytes that can still be written.
func (f *Fifo) GetSpace() int {
	sizeLeft := f.readPos - f.writePos - 1
	if sizeLeft < 0 {
		sizeLeft += len(f.buffer)
	}
	return sizeLeft
}

// GetOccupied returns the number of bytes available to read.
func (f *Fifo) GetOccupied() int {
	sizeOccupied := f.writePos - f.readPos
	if sizeOccupied < 0 {
		sizeOccupied += len(f.buffer)
	}
	return sizeOccupied
}

// Write copies as much of buffer as fits and returns the count written. If
// c is non-nil, every written byte is folded into it.
func (f *Fifo) Write(buffer []byte, c *crc.CRC16) int {
	if buffer == nil {
		return 0
	}
	writeCounter := 0
	for _, element := range buffer {
		writePosNext := f.writePos + 1
		if writePosNext == f.readPos || (writePosNext == len(f.buffer) && f.readPos == 0) {
			break
		}
		f.buffer[f.writePos] = element
		writeCounter++
		if c != nil {
			c.Single(element)
		}
		if writePosNext == len(f.buffer) {
			f.writePos = 0
		} else {
			f.writePos++
		}
	}
	return writeCounter
}

// Read copies available bytes into buffer and returns the count read.
func (f *Fifo) Read(buffer []byte) int {
	if buffer == nil || f.readPos == f.writePos {
		return 0
	}
	readCounter := 0
	for index := range buffer {
		if f.readPos == f.writePos {
			break
		}
		buffer[index] = f.buffer[f.readPos]
		readCounter++
		f.readPos++
		if f.readPos == len(f.buffer) {
			f.readPos = 0
		}
	}
	return readCounter
}

// AltBegin positions the alt cursor offset bytes ahead of readPos, stopping
// early if it runs into writePos, and returns how far it actually moved.
func (f *Fifo) AltBegin(offset int) int {
	var i int
	f.altReadPos = f.readPos
	for i = offset; i > 0; i-- {
		if f.altReadPos == f.writePos {
			break
		}
		f.altReadPos++
		if f.altReadPos == len(f.buffer) {
			f.altReadPos = 0
		}
	}
	return offset - i
}

// AltFinish commits the alt cursor: readPos jumps to altReadPos. If c is
// non-nil, every byte skipped over is folded into it first, in order,
// including any zero-padding the caller wrote to reach a full sub-block.
func (f *Fifo) AltFinish(c *crc.CRC16) {
	if c == nil {
		f.readPos = f.altReadPos
		return
	}
	for f.readPos != f.altReadPos {
		c.Single(f.buffer[f.readPos])
		f.readPos++
		if f.readPos == len(f.buffer) {
			f.readPos = 0
		}
	}
}

// AltRead copies bytes starting at the alt cursor without committing them.
func (f *Fifo) AltRead(buffer []byte) int {
	readCounter := 0
	for index := range buffer {
		if f.altReadPos == f.writePos {
			break
		}
		buffer[index] = f.buffer[f.altReadPos]
		readCounter++
		f.altReadPos++
		if f.altReadPos == len(f.buffer) {
			f.altReadPos = 0
		}
	}
	return readCounter
}

// AltGetOccupied returns the number of bytes between writePos and the alt
// cursor.
func (f *Fifo) AltGetOccupied() int {
	sizeOccupied := f.writePos - f.altReadPos
	if sizeOccupied < 0 {
		sizeOccupied += len(f.buffer)
	}
	return sizeOccupied
}
