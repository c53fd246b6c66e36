// Package pdo implements the TPDO/RPDO mapping engine: up to 64 mapped
// entries per PDO, concatenated bit-for-bit (byte-aligned, per CiA-301) into
// a frame payload, driven by SYNC, timers, or RTR depending on transmission
// type.
package pdo

import (
	"github.com/canopen-go/canopen/pkg/od"
)

// MaxMappedEntries bounds a PDO's mapping-parameter record.
const MaxMappedEntries = 64

// MaxDataLength bounds a PDO's concatenated payload, matching a CAN-FD
// frame's maximum data length.
const MaxDataLength = 64

// Transmission types, per CiA-301.
const (
	TransmissionSyncAcyclic byte = 0   // event-driven, sent on the next SYNC
	TransmissionSyncMin     byte = 1   // cyclic, every n-th SYNC, n in 1..240
	TransmissionSyncMax     byte = 240
	TransmissionSyncRTR     byte = 252 // synchronous RTR
	TransmissionAsyncRTR    byte = 253 // asynchronous RTR
	TransmissionEventLo     byte = 254 // event-driven, manufacturer specific
	TransmissionEventHi     byte = 255 // event-driven, device/application profile specific
)

// mappingEntry is one resolved (index, subindex, bit-length) mapping-record
// entry. A dummy entry (index < 0x20, subindex 0) has variable == nil and
// contributes zero bytes on upload, discards bytes on download.
type mappingEntry struct {
	index     uint16
	subIndex  uint8
	byteLen   int
	variable  *od.Variable
}

// decodeMapping splits a CiA-301 mapping-parameter u32
// (index<<16 | subindex<<8 | bitlength) and resolves it against dict.
func decodeMapping(dict *od.ObjectDictionary, mapParam uint32, requireAttr od.Attr) (mappingEntry, error) {
	index := uint16(mapParam >> 16)
	subIndex := uint8(mapParam >> 8)
	bitLen := uint8(mapParam)

	if bitLen&0x07 != 0 {
		return mappingEntry{}, errAlignment
	}
	byteLen := int(bitLen >> 3)

	if index < 0x20 && subIndex == 0 {
		return mappingEntry{index: index, subIndex: subIndex, byteLen: byteLen}, nil
	}

	v, r := dict.Sub(index, subIndex)
	if r != od.ODROK {
		return mappingEntry{}, r
	}
	if v.Attr&requireAttr == 0 {
		return mappingEntry{}, errNoMap
	}
	if len(v.Raw()) != byteLen {
		return mappingEntry{}, errNoMap
	}
	return mappingEntry{index: index, subIndex: subIndex, byteLen: byteLen, variable: v}, nil
}

func totalLength(entries []mappingEntry) int {
	n := 0
	for _, e := range entries {
		n += e.byteLen
	}
	return n
}
