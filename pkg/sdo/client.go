package sdo

import (
	"encoding/binary"
	"time"

	"github.com/canopen-go/canopen/internal/crc"
	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/canopen-go/canopen/pkg/network"
	"github.com/sirupsen/logrus"
)

// CompleteFunc is invoked exactly once per request, carrying the request's
// index/subindex, an abort code of AbortNone on success, and (for uploads)
// the transferred payload.
type CompleteFunc func(index uint16, subIndex uint8, abort AbortCode, payload []byte)

type kind int

const (
	kindDownload kind = iota
	kindUpload
)

type request struct {
	kind     kind
	index    uint16
	subIndex uint8
	payload  []byte // download: data to send; upload: accumulates received bytes
	onDone   CompleteFunc
	timeout  time.Duration
	useBlock bool
}

// ClientOptions configures a Client at construction time.
type ClientOptions struct {
	NodeID  uint8
	TxCOBID uint32 // client -> server
	RxCOBID uint32 // server -> client
	Timeout time.Duration
}

// Client drives the client side of an SDO exchange against one server. A
// single request is in flight at a time; further calls to Download/Upload
// queue per the Open Question decision to queue rather than reject or
// supersede concurrent requests.
type Client struct {
	net *network.Network
	log *logrus.Entry

	txCOBID, rxCOBID uint32
	defaultTimeout   time.Duration

	recv  *network.Receiver
	timer *network.Timer

	queue []*request
	cur   *request

	state  State
	toggle uint8
	offset int

	blockCRC       crc.CRC16
	blockSeq       byte
	blockSize      byte
	blockCRCWanted bool
	blockTotalLen  int
}

// NewClient constructs and registers a Client against net.
func NewClient(net *network.Network, opts ClientOptions) *Client {
	c := &Client{
		net:            net,
		log:            logrus.WithField("component", "sdo-client"),
		txCOBID:        opts.TxCOBID,
		rxCOBID:        opts.RxCOBID,
		defaultTimeout: opts.Timeout,
		state:          StateIdle,
	}
	c.recv = net.Subscribe(c.rxCOBID, 0x1FFFFFFF, 0, c.handle)
	return c
}

// Close deregisters the client's receiver and any pending timer.
func (c *Client) Close() {
	if c.recv != nil {
		c.recv.Stop()
	}
	c.stopTimer()
}

// Download queues a download (write) request.
func (c *Client) Download(index uint16, subIndex uint8, data []byte, onDone CompleteFunc) {
	c.enqueue(&request{kind: kindDownload, index: index, subIndex: subIndex, payload: data, onDone: onDone, timeout: c.defaultTimeout})
}

// Upload queues an upload (read) request.
func (c *Client) Upload(index uint16, subIndex uint8, onDone CompleteFunc) {
	c.enqueue(&request{kind: kindUpload, index: index, subIndex: subIndex, onDone: onDone, timeout: c.defaultTimeout})
}

// DownloadBlock queues a block-transfer download request. Block mode is
// used whatever the payload size; the client never falls back to a
// segmented transfer.
func (c *Client) DownloadBlock(index uint16, subIndex uint8, data []byte, onDone CompleteFunc) {
	c.enqueue(&request{kind: kindDownload, index: index, subIndex: subIndex, payload: data, onDone: onDone, timeout: c.defaultTimeout, useBlock: true})
}

// UploadBlock queues a block-transfer upload request.
func (c *Client) UploadBlock(index uint16, subIndex uint8, onDone CompleteFunc) {
	c.enqueue(&request{kind: kindUpload, index: index, subIndex: subIndex, onDone: onDone, timeout: c.defaultTimeout, useBlock: true})
}

// Abort cancels the in-flight request, if any, sending code to the server.
func (c *Client) Abort(code AbortCode) {
	if c.cur == nil {
		return
	}
	var data [8]byte
	writeAbort(&data, c.cur.index, c.cur.subIndex, code)
	c.send(data)
	c.finish(code, nil)
}

func (c *Client) enqueue(r *request) {
	c.queue = append(c.queue, r)
	if c.cur == nil {
		c.startNext()
	}
}

func (c *Client) startNext() {
	if len(c.queue) == 0 {
		c.cur = nil
		return
	}
	c.cur = c.queue[0]
	c.queue = c.queue[1:]
	c.toggle = 0
	c.offset = 0

	switch {
	case c.cur.kind == kindDownload && c.cur.useBlock:
		c.sendBlockDownloadInitiate()
	case c.cur.kind == kindDownload:
		c.sendDownloadInitiate()
	case c.cur.useBlock:
		c.sendBlockUploadInitiate()
	default:
		c.sendUploadInitiate()
	}
}

func (c *Client) finish(code AbortCode, payload []byte) {
	req := c.cur
	c.state = StateIdle
	c.stopTimer()
	c.cur = nil
	if req != nil && req.onDone != nil {
		req.onDone(req.index, req.subIndex, code, payload)
	}
	c.startNext()
}

func (c *Client) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) armTimeout() {
	c.stopTimer()
	if c.cur == nil || c.cur.timeout <= 0 {
		return
	}
	c.timer = c.net.SetTimeout(c.cur.timeout, c.onTimeout)
}

func (c *Client) onTimeout() {
	c.timer = nil
	c.log.Warn("SDO client transfer timed out")
	c.finish(AbortTimeout, nil)
}

func (c *Client) send(data [8]byte) {
	f, err := frame.New(c.txCOBID, data[:])
	if err != nil {
		c.log.WithError(err).Error("failed to build SDO request frame")
		return
	}
	if err := c.net.Send(f); err != nil {
		c.log.WithError(err).Warn("failed to send SDO request")
	}
}

func (c *Client) sendDownloadInitiate() {
	req := c.cur
	var data [8]byte
	if len(req.payload) <= 4 {
		n := len(req.payload)
		data[0] = (ccsDownloadInitiate << 5) | 0x02 | 0x01 | byte((4-n)<<2)
		binary.LittleEndian.PutUint16(data[1:3], req.index)
		data[3] = req.subIndex
		copy(data[4:4+n], req.payload)
		c.send(data)
		c.state = StateDnIni
		c.armTimeout()
		return
	}

	data[0] = (ccsDownloadInitiate << 5) | 0x01
	binary.LittleEndian.PutUint16(data[1:3], req.index)
	data[3] = req.subIndex
	binary.LittleEndian.PutUint32(data[4:8], uint32(len(req.payload)))
	c.send(data)
	c.state = StateDnIni
	c.armTimeout()
}

func (c *Client) sendDownloadSegment() {
	req := c.cur
	remaining := len(req.payload) - c.offset
	n := remaining
	if n > 7 {
		n = 7
	}
	last := remaining <= 7

	var data [8]byte
	data[0] = (c.toggle << 4)
	if last {
		data[0] |= 0x01 | byte((7-n)<<1)
	}
	copy(data[1:1+n], req.payload[c.offset:c.offset+n])
	c.offset += n
	c.send(data)
	c.state = StateDnSeg
	c.armTimeout()
}

func (c *Client) sendUploadInitiate() {
	req := c.cur
	var data [8]byte
	data[0] = ccsUploadInitiate << 5
	binary.LittleEndian.PutUint16(data[1:3], req.index)
	data[3] = req.subIndex
	c.send(data)
	c.state = StateUpIni
	c.armTimeout()
}

func (c *Client) sendUploadSegmentRequest() {
	var data [8]byte
	data[0] = (ccsUploadSegment << 5) | (c.toggle << 4)
	c.send(data)
	c.state = StateUpSeg
	c.armTimeout()
}

func (c *Client) handle(f frame.Frame) error {
	if f.Len != 8 || c.cur == nil {
		return nil
	}
	var data [8]byte
	copy(data[:], f.Payload())

	if data[0] == abortByte {
		code := AbortCode(binary.LittleEndian.Uint32(data[4:8]))
		c.log.WithField("code", code).Warn("server aborted SDO transfer")
		c.finish(code, nil)
		return nil
	}

	switch c.state {
	case StateDnIni:
		c.onDownloadInitiateResponse(data)
	case StateDnSeg:
		c.onDownloadSegmentResponse(data)
	case StateUpIni:
		c.onUploadInitiateResponse(data)
	case StateUpSeg:
		c.onUploadSegmentResponse(data)
	case StateBlkDnIni:
		c.onBlockDownloadInitiateResponse(data)
	case StateBlkDnSub:
		c.onBlockDownloadAck(data)
	case StateBlkDnEnd:
		c.onBlockDownloadEndResponse(data)
	case StateBlkUpIni:
		c.onBlockUploadInitiateResponse(data)
	case StateBlkUpSub:
		c.onBlockUploadSubBlock(data)
	case StateBlkUpEnd:
		c.onBlockUploadEndFrame(data)
	}
	return nil
}

// --- Block download (client initiates, server acks) ---

func (c *Client) sendBlockDownloadInitiate() {
	req := c.cur
	var data [8]byte
	data[0] = (ccsBlockDownload << 5) | 0x04 | 0x02 // CRC requested, size indicated
	binary.LittleEndian.PutUint16(data[1:3], req.index)
	data[3] = req.subIndex
	binary.LittleEndian.PutUint32(data[4:8], uint32(len(req.payload)))
	c.send(data)
	c.state = StateBlkDnIni
	c.blockCRC = crc.CRC16(0)
	c.offset = 0
	c.armTimeout()
}

func (c *Client) onBlockDownloadInitiateResponse(data [8]byte) {
	if commandSpecifier(data[0]) != scsBlockDownload {
		c.finish(AbortCommand, nil)
		return
	}
	c.blockSize = data[4]
	if c.blockSize == 0 {
		c.blockSize = maxBlockSize
	}
	c.state = StateBlkDnSub
	c.blockSeq = 0
	c.sendBlockDownloadSubBlock()
}

func (c *Client) sendBlockDownloadSubBlock() {
	req := c.cur
	for c.blockSeq < c.blockSize && c.offset < len(req.payload) {
		c.blockSeq++
		var data [8]byte
		remaining := len(req.payload) - c.offset
		n := remaining
		if n > 7 {
			n = 7
		}
		copy(data[1:1+n], req.payload[c.offset:c.offset+n])
		c.blockCRC.Block(data[1 : 1+n])
		c.offset += n
		if c.offset >= len(req.payload) {
			data[0] = c.blockSeq | 0x80
			c.send(data)
			break
		}
		data[0] = c.blockSeq
		c.send(data)
	}
	c.armTimeout()
}

func (c *Client) onBlockDownloadAck(data [8]byte) {
	if data[0] != scsBlockDownload<<5 {
		c.finish(AbortCommand, nil)
		return
	}
	newBlockSize := data[2]
	if newBlockSize > 0 {
		c.blockSize = newBlockSize
	}
	c.blockSeq = 0
	if c.offset >= len(c.cur.payload) {
		c.sendBlockDownloadEnd()
		return
	}
	c.sendBlockDownloadSubBlock()
}

func (c *Client) sendBlockDownloadEnd() {
	lastN := len(c.cur.payload) % 7
	if lastN == 0 {
		lastN = 7
	}
	var data [8]byte
	data[0] = (ccsBlockDownload << 5) | 0x01 | byte((7-lastN)<<2)
	binary.LittleEndian.PutUint16(data[1:3], c.blockCRC.Value())
	c.send(data)
	c.state = StateBlkDnEnd
	c.armTimeout()
}

func (c *Client) onBlockDownloadEndResponse(data [8]byte) {
	if commandSpecifier(data[0]) != scsBlockDownload {
		c.finish(AbortCommand, nil)
		return
	}
	c.finish(AbortNone, nil)
}

// --- Block upload (client requests, server streams) ---

func (c *Client) sendBlockUploadInitiate() {
	req := c.cur
	var data [8]byte
	data[0] = (ccsBlockUpload << 5) | 0x04 // CRC requested, initiate-upload subcommand 0
	binary.LittleEndian.PutUint16(data[1:3], req.index)
	data[3] = req.subIndex
	data[4] = maxBlockSize
	c.send(data)
	c.state = StateBlkUpIni
	c.blockCRC = crc.CRC16(0)
	c.blockSeq = 0
	c.armTimeout()
}

func (c *Client) onBlockUploadInitiateResponse(data [8]byte) {
	if commandSpecifier(data[0]) != scsBlockUpload {
		c.finish(AbortCommand, nil)
		return
	}
	c.blockCRCWanted = data[0]&0x04 != 0
	c.blockTotalLen = -1
	if data[0]&0x02 != 0 {
		c.blockTotalLen = int(binary.LittleEndian.Uint32(data[4:8]))
	}
	c.cur.payload = nil
	c.blockSize = maxBlockSize
	c.blockSeq = 0
	c.state = StateBlkUpSub

	var ack [8]byte
	ack[0] = 0xA3 // start upload subcommand
	c.send(ack)
	c.armTimeout()
}

func (c *Client) onBlockUploadSubBlock(data [8]byte) {
	seq := data[0] & 0x7F
	last := data[0]&0x80 != 0
	if seq == c.blockSeq+1 {
		c.blockSeq = seq
		n := 7
		if c.blockTotalLen >= 0 {
			if remaining := c.blockTotalLen - len(c.cur.payload); remaining < n {
				n = remaining
			}
		}
		if n > 0 {
			c.cur.payload = append(c.cur.payload, data[1:1+n]...)
			c.blockCRC.Block(data[1 : 1+n])
		}
	}

	if last {
		c.ackBlockUpload()
		c.state = StateBlkUpEnd
		c.armTimeout()
		return
	}
	if seq == c.blockSize {
		c.ackBlockUpload()
	}
	c.armTimeout()
}

func (c *Client) ackBlockUpload() {
	var data [8]byte
	data[0] = 0xA2
	data[1] = c.blockSeq
	data[2] = maxBlockSize
	c.blockSize = maxBlockSize
	c.blockSeq = 0
	c.send(data)
}

func (c *Client) onBlockUploadEndFrame(data [8]byte) {
	if commandSpecifier(data[0]) != scsBlockUpload {
		c.finish(AbortCommand, nil)
		return
	}
	if c.blockCRCWanted {
		want := binary.LittleEndian.Uint16(data[1:3])
		if want != c.blockCRC.Value() {
			var abort [8]byte
			writeAbort(&abort, c.cur.index, c.cur.subIndex, AbortCRC)
			c.send(abort)
			c.finish(AbortCRC, nil)
			return
		}
	}
	var ack [8]byte
	ack[0] = 0xA1
	c.send(ack)
	c.finish(AbortNone, c.cur.payload)
}

func (c *Client) onDownloadInitiateResponse(data [8]byte) {
	if commandSpecifier(data[0]) != scsDownloadInitiate {
		c.finish(AbortCommand, nil)
		return
	}
	if len(c.cur.payload) <= 4 {
		c.finish(AbortNone, nil)
		return
	}
	c.sendDownloadSegment()
}

func (c *Client) onDownloadSegmentResponse(data [8]byte) {
	toggle := (data[0] >> 4) & 0x01
	if toggle != c.toggle {
		c.finish(AbortToggleBit, nil)
		return
	}
	c.toggle ^= 1
	if c.offset >= len(c.cur.payload) {
		c.finish(AbortNone, nil)
		return
	}
	c.sendDownloadSegment()
}

func (c *Client) onUploadInitiateResponse(data [8]byte) {
	if commandSpecifier(data[0]) != scsUploadInitiate {
		c.finish(AbortCommand, nil)
		return
	}
	expedited := data[0]&0x02 != 0
	if expedited {
		n := 4
		if data[0]&0x01 != 0 {
			n -= int((data[0] >> 2) & 0x03)
		}
		c.finish(AbortNone, append([]byte(nil), data[4:4+n]...))
		return
	}
	c.cur.payload = nil
	c.toggle = 0
	c.sendUploadSegmentRequest()
}

func (c *Client) onUploadSegmentResponse(data [8]byte) {
	toggle := (data[0] >> 4) & 0x01
	if toggle != c.toggle {
		c.finish(AbortToggleBit, nil)
		return
	}
	last := data[0]&0x01 != 0
	n := 7 - int((data[0]>>1)&0x07)
	c.cur.payload = append(c.cur.payload, data[1:1+n]...)
	c.toggle ^= 1

	if last {
		c.finish(AbortNone, c.cur.payload)
		return
	}
	c.sendUploadSegmentRequest()
}
