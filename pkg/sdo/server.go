package sdo

import (
	"encoding/binary"
	"time"

	"github.com/canopen-go/canopen/internal/crc"
	"github.com/canopen-go/canopen/internal/fifo"
	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/canopen-go/canopen/pkg/network"
	"github.com/canopen-go/canopen/pkg/od"
	"github.com/sirupsen/logrus"
)

// State names the SDO transfer state machine states, shared by Server and
// Client, matching the component design's state list.
type State int

const (
	StateIdle State = iota
	StateDnIni
	StateDnSeg
	StateUpIni
	StateUpSeg
	StateBlkDnIni
	StateBlkDnSub
	StateBlkDnEnd
	StateBlkUpIni
	StateBlkUpSub
	StateBlkUpEnd
)

const maxBlockSize = 127

// Request/response bytes for one transfer pass through a fifo.Fifo rather
// than a hand-grown slice. defaultStreamCapacity is used when the client
// doesn't indicate a size up front; maxStreamCapacity bounds any indicated
// size, since the fifo's backing array is a fixed allocation, not a slice
// that reallocates on append. A transfer that would overflow this bound
// aborts with AbortOutOfMemory instead of silently truncating.
const (
	defaultStreamCapacity = 16 * 1024
	maxStreamCapacity     = 65534
)

func newStreamFifo(indicatedSize uint32, sizeKnown bool) *fifo.Fifo {
	capacity := uint32(defaultStreamCapacity)
	if sizeKnown && indicatedSize > 0 {
		capacity = indicatedSize
	}
	if capacity > maxStreamCapacity {
		capacity = maxStreamCapacity
	}
	return fifo.NewFifo(uint16(capacity + 1))
}

// ServerOptions configures a Server at construction time.
type ServerOptions struct {
	NodeID    uint8
	RxCOBID   uint32        // client -> server
	TxCOBID   uint32        // server -> client
	Timeout   time.Duration // 0 disables the timeout
	BlockSize uint8         // 1..127, 0 selects the default (127)
}

// Server handles one transfer at a time against an object dictionary. It
// registers itself as a network.Receiver for RxCOBID and drives the whole
// exchange synchronously from that callback plus an optional timeout timer,
// per the redesigned concurrency model: no goroutine, channel or mutex of
// its own.
type Server struct {
	net *network.Network
	od  *od.ObjectDictionary
	log *logrus.Entry

	rxCOBID, txCOBID uint32
	timeout          time.Duration
	blockSizeDefault uint8

	recv  *network.Receiver
	timer *network.Timer

	state    State
	index    uint16
	subIndex uint8
	sub      *od.Variable

	buf    *fifo.Fifo // segmented download/upload streaming buffer
	toggle uint8

	blockCRCEnabled bool
	blockCRC        crc.CRC16
	blockSize       uint8
	blockSeqNo      uint8
	blockBuf        *fifo.Fifo // block download/upload streaming buffer
	blockTotal      int        // upload: total payload length, for the end-frame padding count
	blockSentSeq    byte       // upload: sub-blocks transmitted in the current round, for ack matching
}

// NewServer constructs and registers a Server against net and dict.
func NewServer(net *network.Network, dict *od.ObjectDictionary, opts ServerOptions) *Server {
	blockSize := opts.BlockSize
	if blockSize == 0 || blockSize > maxBlockSize {
		blockSize = maxBlockSize
	}
	s := &Server{
		net:              net,
		od:               dict,
		log:              logrus.WithField("component", "sdo-server"),
		rxCOBID:          opts.RxCOBID,
		txCOBID:          opts.TxCOBID,
		timeout:          opts.Timeout,
		blockSizeDefault: blockSize,
		state:            StateIdle,
	}
	s.recv = net.Subscribe(s.rxCOBID, 0x1FFFFFFF, 0, s.handle)
	return s
}

// Close deregisters the server's receiver and any pending timer.
func (s *Server) Close() {
	if s.recv != nil {
		s.recv.Stop()
	}
	s.stopTimer()
}

func (s *Server) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Server) armTimeout() {
	s.stopTimer()
	if s.timeout <= 0 {
		return
	}
	s.timer = s.net.SetTimeout(s.timeout, s.onTimeout)
}

func (s *Server) onTimeout() {
	s.timer = nil
	s.log.WithFields(logrus.Fields{"index": s.index, "sub": s.subIndex}).Warn("SDO server transfer timed out")
	s.sendAbort(AbortTimeout)
	s.reset()
}

func (s *Server) reset() {
	s.state = StateIdle
	s.buf = nil
	s.blockBuf = nil
	s.toggle = 0
	s.blockTotal = 0
	s.blockSentSeq = 0
	s.stopTimer()
}

func (s *Server) send(data [8]byte) {
	f, err := frame.New(s.txCOBID, data[:])
	if err != nil {
		s.log.WithError(err).Error("failed to build SDO response frame")
		return
	}
	if err := s.net.Send(f); err != nil {
		s.log.WithError(err).Warn("failed to send SDO response")
	}
}

func (s *Server) sendAbort(code AbortCode) {
	var data [8]byte
	writeAbort(&data, s.index, s.subIndex, code)
	s.send(data)
}

func (s *Server) handle(f frame.Frame) error {
	if f.Len != 8 {
		return nil
	}
	var data [8]byte
	copy(data[:], f.Payload())

	if data[0] == abortByte {
		s.log.WithField("code", binary.LittleEndian.Uint32(data[4:8])).Warn("client aborted SDO transfer")
		s.reset()
		return nil
	}

	switch s.state {
	case StateIdle:
		s.handleInitiate(data)
	case StateDnSeg:
		s.handleDownloadSegment(data)
	case StateUpSeg:
		s.handleUploadSegment(data)
	case StateBlkDnSub:
		s.handleBlockDownloadSubBlock(data)
	case StateBlkDnEnd:
		s.handleBlockDownloadEnd(data)
	case StateBlkUpIni:
		if data[0] == 0xA3 {
			s.startBlockUpload()
		}
	case StateBlkUpSub:
		s.handleBlockUploadAck(data)
	default:
		s.log.WithField("state", s.state).Warn("unexpected SDO frame in current state")
	}
	return nil
}

func (s *Server) handleInitiate(data [8]byte) {
	cs := commandSpecifier(data[0])
	s.index, s.subIndex = readIndexSubIndex(data)

	switch cs {
	case ccsDownloadInitiate:
		s.handleDownloadInitiate(data)
	case ccsUploadInitiate:
		s.handleUploadInitiate(data)
	case ccsBlockDownload:
		s.handleBlockDownloadInitiate(data)
	case ccsBlockUpload:
		s.handleBlockUploadInitiate(data)
	default:
		s.sendAbort(AbortCommand)
	}
}

func (s *Server) lookupWritable() od.ODR {
	sub, r := s.od.Sub(s.index, s.subIndex)
	if r != od.ODROK {
		return r
	}
	if !sub.Writable() {
		return od.ODRReadOnly
	}
	s.sub = sub
	return od.ODROK
}

func (s *Server) lookupReadable() od.ODR {
	sub, r := s.od.Sub(s.index, s.subIndex)
	if r != od.ODROK {
		return r
	}
	if !sub.Readable() {
		return od.ODRWriteOnly
	}
	s.sub = sub
	return od.ODROK
}

func (s *Server) handleDownloadInitiate(data [8]byte) {
	if r := s.lookupWritable(); r != od.ODROK {
		s.sendAbort(fromODR(r))
		return
	}

	expedited := data[0]&0x02 != 0
	sizeIndicated := data[0]&0x01 != 0

	if expedited {
		n := 4
		if sizeIndicated {
			n -= int((data[0] >> 2) & 0x03)
		}
		r := s.sub.Write(data[4 : 4+n])
		if r != od.ODROK {
			s.sendAbort(fromODR(r))
			return
		}
		s.replyDownloadInitiate()
		s.reset()
		return
	}

	var size uint32
	if sizeIndicated {
		size = binary.LittleEndian.Uint32(data[4:8])
	}
	s.buf = newStreamFifo(size, sizeIndicated)
	s.toggle = 0
	s.state = StateDnSeg
	s.replyDownloadInitiate()
	s.armTimeout()
}

func (s *Server) replyDownloadInitiate() {
	var data [8]byte
	data[0] = scsDownloadInitiate << 5
	binary.LittleEndian.PutUint16(data[1:3], s.index)
	data[3] = s.subIndex
	s.send(data)
}

func (s *Server) handleDownloadSegment(data [8]byte) {
	toggle := (data[0] >> 4) & 0x01
	if toggle != s.toggle {
		s.sendAbort(AbortToggleBit)
		s.reset()
		return
	}
	n := 7 - int((data[0]>>1)&0x07)
	last := data[0]&0x01 != 0

	if written := s.buf.Write(data[1:1+n], nil); written != n {
		s.sendAbort(AbortOutOfMemory)
		s.reset()
		return
	}

	if last {
		value := make([]byte, s.buf.GetOccupied())
		s.buf.Read(value)
		r := s.sub.Write(value)
		if r != od.ODROK {
			s.sendAbort(fromODR(r))
			s.reset()
			return
		}
	}

	var resp [8]byte
	resp[0] = (scsDownloadSegment << 5) | (toggle << 4)
	s.send(resp)
	s.toggle ^= 1

	if last {
		s.reset()
		return
	}
	s.armTimeout()
}

func (s *Server) handleUploadInitiate(data [8]byte) {
	if r := s.lookupReadable(); r != od.ODROK {
		s.sendAbort(fromODR(r))
		return
	}
	value, r := s.sub.Read()
	if r != od.ODROK {
		s.sendAbort(fromODR(r))
		return
	}

	if len(value) <= 4 {
		var resp [8]byte
		n := len(value)
		resp[0] = (scsUploadInitiate << 5) | 0x02 | 0x01 | byte((4-n)<<2)
		binary.LittleEndian.PutUint16(resp[1:3], s.index)
		resp[3] = s.subIndex
		copy(resp[4:4+n], value)
		s.send(resp)
		s.reset()
		return
	}

	if len(value) > maxStreamCapacity {
		s.sendAbort(AbortOutOfMemory)
		return
	}

	s.buf = newStreamFifo(uint32(len(value)), true)
	s.buf.Write(value, nil)
	s.toggle = 0
	s.state = StateUpSeg

	var resp [8]byte
	resp[0] = (scsUploadInitiate << 5) | 0x01
	binary.LittleEndian.PutUint16(resp[1:3], s.index)
	resp[3] = s.subIndex
	binary.LittleEndian.PutUint32(resp[4:8], uint32(len(value)))
	s.send(resp)
	s.armTimeout()
}

func (s *Server) handleUploadSegment(data [8]byte) {
	toggle := (data[0] >> 4) & 0x01
	if toggle != s.toggle {
		s.sendAbort(AbortToggleBit)
		s.reset()
		return
	}

	remaining := s.buf.GetOccupied()
	n := remaining
	if n > 7 {
		n = 7
	}
	last := remaining <= 7

	var resp [8]byte
	resp[0] = (scsUploadSegment << 5) | (toggle << 4)
	if last {
		resp[0] |= 0x01 | byte((7-n)<<1)
	}
	s.buf.Read(resp[1 : 1+n])
	s.send(resp)
	s.toggle ^= 1

	if last {
		s.reset()
		return
	}
	s.armTimeout()
}

// --- Block download ---

func (s *Server) handleBlockDownloadInitiate(data [8]byte) {
	if r := s.lookupWritable(); r != od.ODROK {
		s.sendAbort(fromODR(r))
		return
	}

	s.blockCRCEnabled = data[0]&0x04 != 0
	sizeIndicated := data[0]&0x02 != 0
	var size uint32
	if sizeIndicated {
		size = binary.LittleEndian.Uint32(data[4:8])
	}

	s.blockCRC = crc.CRC16(0)
	// The final sub-block frame carries up to 6 padding bytes beyond the
	// indicated size; handleBlockDownloadEnd strips them again.
	s.blockBuf = newStreamFifo(size+6, sizeIndicated)
	s.blockSize = s.blockSizeDefault
	s.blockSeqNo = 0

	var resp [8]byte
	resp[0] = (scsBlockDownload << 5) | 0x04 // CRC supported, ack sub-command
	binary.LittleEndian.PutUint16(resp[1:3], s.index)
	resp[3] = s.subIndex
	resp[4] = s.blockSize
	s.send(resp)

	s.state = StateBlkDnSub
	s.armTimeout()
}

func (s *Server) handleBlockDownloadSubBlock(data [8]byte) {
	seqNo := data[0] & 0x7F
	last := data[0]&0x80 != 0

	if seqNo == s.blockSeqNo+1 && seqNo <= s.blockSize {
		s.blockSeqNo = seqNo
		if written := s.blockBuf.Write(data[1:8], nil); written != 7 {
			s.sendAbort(AbortOutOfMemory)
			s.reset()
			return
		}
	} else if seqNo != s.blockSeqNo {
		s.log.WithFields(logrus.Fields{"got": seqNo, "expected": s.blockSeqNo + 1}).
			Warn("SDO block download out-of-order sub-block")
	}

	if last {
		s.state = StateBlkDnEnd
		s.replyBlockDownloadAck()
		s.armTimeout()
		return
	}

	if seqNo == s.blockSize {
		s.replyBlockDownloadAck()
		s.blockSeqNo = 0
		s.armTimeout()
	}
}

func (s *Server) replyBlockDownloadAck() {
	var resp [8]byte
	resp[0] = scsBlockDownload << 5
	resp[1] = s.blockSeqNo
	resp[2] = s.blockSizeDefault
	s.blockSize = s.blockSizeDefault
	s.send(resp)
}

func (s *Server) handleBlockDownloadEnd(data [8]byte) {
	n := 7 - int((data[0]>>2)&0x07)
	if n < 0 || n > 7 {
		n = 7
	}

	keep := s.blockBuf.GetOccupied() - (7 - n)
	if keep < 0 {
		keep = 0
	}
	value := make([]byte, keep)
	s.blockBuf.Read(value)

	if s.blockCRCEnabled {
		var c crc.CRC16
		c.Block(value)
		want := binary.LittleEndian.Uint16(data[1:3])
		if c.Value() != want {
			s.sendAbort(AbortCRC)
			s.reset()
			return
		}
	}

	r := s.sub.Write(value)
	if r != od.ODROK {
		s.sendAbort(fromODR(r))
		s.reset()
		return
	}

	var resp [8]byte
	resp[0] = scsBlockDownload<<5 | 0x01
	s.send(resp)
	s.reset()
}

// --- Block upload ---

func (s *Server) handleBlockUploadInitiate(data [8]byte) {
	if r := s.lookupReadable(); r != od.ODROK {
		s.sendAbort(fromODR(r))
		return
	}
	value, r := s.sub.Read()
	if r != od.ODROK {
		s.sendAbort(fromODR(r))
		return
	}

	if len(value) > maxStreamCapacity {
		s.sendAbort(AbortOutOfMemory)
		return
	}

	s.blockCRCEnabled = data[0]&0x04 != 0
	s.blockTotal = len(value)
	s.blockBuf = fifo.NewFifo(uint16(len(value) + 1))
	s.blockBuf.Write(value, nil)
	s.blockCRC = crc.CRC16(0)

	var resp [8]byte
	resp[0] = scsBlockUpload<<5 | 0x02
	if s.blockCRCEnabled {
		resp[0] |= 0x04
	}
	binary.LittleEndian.PutUint16(resp[1:3], s.index)
	resp[3] = s.subIndex
	binary.LittleEndian.PutUint32(resp[4:8], uint32(len(value)))
	s.send(resp)

	s.state = StateBlkUpIni
	s.armTimeout()
}

// startBlockUpload is invoked once the client sends the start-upload
// sub-command (ccs=5, subcommand 3: byte 0 == 0xA3), transmitting the first
// sub-block of up to blockSizeDefault frames.
func (s *Server) startBlockUpload() {
	s.blockSize = s.blockSizeDefault
	s.state = StateBlkUpSub
	if s.blockBuf.GetOccupied() == 0 {
		s.sendBlockUploadEnd()
		return
	}
	s.transmitFrom(0)
}

// transmitFrom sends sub-blocks starting at startSeq (0 for a fresh round,
// a smaller value when the client's ack asked for a partial retransmit),
// reading tentatively from the fifo's alt cursor without committing the
// read cursor — so a retransmit request can simply re-position the alt
// cursor instead of re-deriving the bytes.
func (s *Server) transmitFrom(startSeq byte) {
	s.blockBuf.AltBegin(int(startSeq) * 7)
	seq := startSeq
	for seq < s.blockSize && s.blockBuf.AltGetOccupied() > 0 {
		seq++
		var resp [8]byte
		resp[0] = seq
		s.blockBuf.AltRead(resp[1:8])
		if s.blockBuf.AltGetOccupied() == 0 {
			resp[0] |= 0x80
		}
		s.send(resp)
	}
	s.blockSentSeq = seq
	s.armTimeout()
}

func (s *Server) handleBlockUploadAck(data [8]byte) {
	if data[0] != 0xA2 {
		return
	}
	ackSeq := data[1]
	newBlockSize := data[2]
	if newBlockSize > 0 {
		s.blockSize = newBlockSize
		s.blockSizeDefault = newBlockSize
	}

	if ackSeq >= s.blockSentSeq {
		// The whole sub-block round was received: commit the alt cursor,
		// folding every byte actually read into the running CRC. AltRead
		// never advances past the fifo's write position, so the zero tail
		// of the final frame (beyond blockTotal bytes) is never folded in.
		s.blockBuf.AltFinish(&s.blockCRC)
		if s.blockBuf.GetOccupied() == 0 {
			s.state = StateBlkUpEnd
			s.sendBlockUploadEnd()
			return
		}
		s.transmitFrom(0)
		return
	}

	// Partial ack: the client only received ackSeq sub-blocks of the last
	// round. Rewind and retransmit from there without re-reading anything
	// already committed.
	s.transmitFrom(ackSeq)
}

func (s *Server) sendBlockUploadEnd() {
	lastN := s.blockTotal % 7
	if lastN == 0 {
		lastN = 7
	}
	var resp [8]byte
	resp[0] = scsBlockUpload<<5 | 0x01 | byte((7-lastN)<<2)
	if s.blockCRCEnabled {
		binary.LittleEndian.PutUint16(resp[1:3], s.blockCRC.Value())
	}
	s.send(resp)
	s.state = StateIdle
	s.reset()
}
