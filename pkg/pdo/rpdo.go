package pdo

import (
	"github.com/canopen-go/canopen/pkg/emergency"
	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/canopen-go/canopen/pkg/network"
	"github.com/canopen-go/canopen/pkg/od"
	"github.com/sirupsen/logrus"
)

// RPDOOptions configures an RPDO at construction time.
type RPDOOptions struct {
	COBID   uint32
	Mapping []uint32 // raw (index<<16|subindex<<8|bitlength) records
}

// RPDO writes a received payload into its mapped sub-objects in mapping
// order, raising EMCY 0x8210 on a frame-length mismatch.
type RPDO struct {
	net  *network.Network
	log  *logrus.Entry
	emcy *emergency.Producer

	cobID      uint32
	entries    []mappingEntry
	dataLength int

	recv *network.Receiver
}

// NewRPDO constructs an RPDO and subscribes it to cobID. emcy may be nil,
// in which case length mismatches are only logged.
func NewRPDO(net *network.Network, dict *od.ObjectDictionary, emcy *emergency.Producer, opts RPDOOptions) (*RPDO, error) {
	entries := make([]mappingEntry, 0, len(opts.Mapping))
	for _, raw := range opts.Mapping {
		e, err := decodeMapping(dict, raw, od.AttrRPDO)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	length := totalLength(entries)
	if length > MaxDataLength {
		return nil, errTooLong
	}

	r := &RPDO{
		net:        net,
		log:        logrus.WithField("component", "rpdo"),
		emcy:       emcy,
		cobID:      opts.COBID,
		entries:    entries,
		dataLength: length,
	}
	r.recv = net.Subscribe(r.cobID, 0x1FFFFFFF, 0, r.handle)
	return r, nil
}

// Close deregisters the RPDO's receiver.
func (r *RPDO) Close() {
	r.recv.Stop()
}

func (r *RPDO) handle(f frame.Frame) error {
	if int(f.Len) != r.dataLength {
		r.log.WithFields(logrus.Fields{"got": f.Len, "want": r.dataLength}).Warn("RPDO length mismatch")
		if r.emcy != nil {
			var mfg [5]byte
			r.emcy.Push(emergency.CodePDOLength, emergency.RegisterCommunication, mfg)
		}
		return nil
	}

	offset := 0
	for _, e := range r.entries {
		chunk := f.Data[offset : offset+e.byteLen]
		offset += e.byteLen
		if e.variable == nil {
			continue // dummy mapping, discard
		}
		if result := e.variable.Write(chunk); result != od.ODROK {
			r.log.WithFields(logrus.Fields{"index": e.index, "sub": e.subIndex, "result": result}).
				Warn("RPDO write to mapped sub-object failed")
		}
	}
	return nil
}
