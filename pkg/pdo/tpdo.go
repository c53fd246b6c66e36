package pdo

import (
	"time"

	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/canopen-go/canopen/pkg/network"
	"github.com/canopen-go/canopen/pkg/od"
	"github.com/sirupsen/logrus"
)

// TPDOOptions configures a TPDO at construction time, mirroring the
// communication/mapping parameter records of objects 1800h-19FFh/1A00h-1BFFh.
type TPDOOptions struct {
	COBID            uint32
	TransmissionType byte
	InhibitTime      time.Duration
	EventTime        time.Duration
	SyncStart        byte
	Mapping          []uint32 // raw (index<<16|subindex<<8|bitlength) records
}

// TPDO transmits a mapped payload on trigger: SYNC (for synchronous
// transmission types), an inhibit/event timer, or RTR.
type TPDO struct {
	net *network.Network
	log *logrus.Entry

	cobID            uint32
	transmissionType byte
	inhibitTime      time.Duration
	eventTime        time.Duration
	syncStart        byte

	entries    []mappingEntry
	dataLength int

	lastSend    time.Time
	hasSent     bool
	pending     bool
	syncCounter byte

	inhibitTimer *network.Timer
	eventTimer   *network.Timer
	rtrRecv      *network.Receiver
}

// NewTPDO constructs a TPDO. An invalid mapping record yields an error and
// a nil TPDO; per CiA-301 the PDO should then be left inactive (COB-ID bit
// 31 set) by the caller.
func NewTPDO(net *network.Network, dict *od.ObjectDictionary, opts TPDOOptions) (*TPDO, error) {
	entries := make([]mappingEntry, 0, len(opts.Mapping))
	for _, raw := range opts.Mapping {
		e, err := decodeMapping(dict, raw, od.AttrTPDO)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	length := totalLength(entries)
	if length > MaxDataLength {
		return nil, errTooLong
	}

	t := &TPDO{
		net:              net,
		log:              logrus.WithField("component", "tpdo"),
		cobID:            opts.COBID,
		transmissionType: opts.TransmissionType,
		inhibitTime:      opts.InhibitTime,
		eventTime:        opts.EventTime,
		syncStart:        opts.SyncStart,
		entries:          entries,
		dataLength:       length,
	}

	if t.transmissionType == TransmissionSyncRTR || t.transmissionType == TransmissionAsyncRTR {
		t.rtrRecv = net.Subscribe(t.cobID, 0x1FFFFFFF, network.RecvRTR, t.onRTR)
	}
	if t.eventTime > 0 && (t.transmissionType == TransmissionEventLo || t.transmissionType == TransmissionEventHi) {
		t.eventTimer = net.SetTimer(net.GetTime().Add(t.eventTime), t.eventTime, t.TriggerEvent)
	}
	return t, nil
}

// Close deregisters every receiver and timer owned by the TPDO.
func (t *TPDO) Close() {
	if t.rtrRecv != nil {
		t.rtrRecv.Stop()
	}
	if t.eventTimer != nil {
		t.eventTimer.Stop()
	}
	if t.inhibitTimer != nil {
		t.inhibitTimer.Stop()
	}
}

// OnSync is invoked by the device's sync.Consumer indication for every
// received SYNC frame, and drives the synchronous transmission types.
func (t *TPDO) OnSync(counter byte, hasCounter bool) {
	switch {
	case t.transmissionType == TransmissionSyncAcyclic:
		if t.pending {
			t.pending = false
			t.send()
		}
	case t.transmissionType >= TransmissionSyncMin && t.transmissionType <= TransmissionSyncMax:
		t.syncCounter++
		if t.syncCounter >= t.transmissionType {
			t.syncCounter = 0
			t.send()
		}
	}
}

// TriggerEvent marks the PDO as having new data to send: for acyclic
// synchronous PDOs this arms a pending flag consumed on the next SYNC; for
// event-driven PDOs it sends (subject to inhibit) immediately.
func (t *TPDO) TriggerEvent() {
	switch t.transmissionType {
	case TransmissionSyncAcyclic:
		t.pending = true
	case TransmissionEventLo, TransmissionEventHi:
		t.send()
	}
}

func (t *TPDO) onRTR(f frame.Frame) error {
	t.send()
	return nil
}

// send reads every mapped sub-object and transmits the concatenated
// payload, deferring to respect inhibit time if necessary.
func (t *TPDO) send() {
	now := t.net.GetTime()
	if t.inhibitTime > 0 && t.hasSent {
		earliest := t.lastSend.Add(t.inhibitTime)
		if now.Before(earliest) {
			t.armInhibitRetry(earliest)
			return
		}
	}
	t.transmit(now)
}

func (t *TPDO) armInhibitRetry(at time.Time) {
	if t.inhibitTimer != nil {
		return // a retry is already scheduled
	}
	t.inhibitTimer = t.net.SetTimer(at, 0, func() {
		t.inhibitTimer = nil
		t.transmit(t.net.GetTime())
	})
}

func (t *TPDO) transmit(now time.Time) {
	data := make([]byte, 0, t.dataLength)
	for _, e := range t.entries {
		if e.variable == nil {
			data = append(data, make([]byte, e.byteLen)...)
			continue
		}
		raw, r := e.variable.Read()
		if r != od.ODROK {
			t.log.WithField("sub", e.subIndex).Warn("TPDO source read failed")
			data = append(data, make([]byte, e.byteLen)...)
			continue
		}
		data = append(data, raw[:e.byteLen]...)
	}

	f, err := frame.New(t.cobID, data)
	if err != nil {
		t.log.WithError(err).Error("failed to build TPDO frame")
		return
	}
	if err := t.net.Send(f); err != nil {
		t.log.WithError(err).Warn("failed to send TPDO")
		return
	}
	t.lastSend = now
	t.hasSent = true
}
