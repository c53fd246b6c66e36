// Package sdo implements the Server-SDO and Client-SDO state machines:
// expedited, segmented and block transfer, driven synchronously by the
// network core's receiver/timer callbacks (see pkg/network).
package sdo

import (
	"encoding/binary"
	"fmt"

	"github.com/canopen-go/canopen/pkg/od"
)

// AbortCode is the 32-bit SDO abort code sent in an abort-transfer frame.
type AbortCode uint32

const (
	AbortNone              AbortCode = 0x00000000
	AbortToggleBit         AbortCode = 0x05030000
	AbortTimeout           AbortCode = 0x05040000
	AbortCommand           AbortCode = 0x05040001
	AbortBlockSize         AbortCode = 0x05040002
	AbortSeqNum            AbortCode = 0x05040003
	AbortCRC               AbortCode = 0x05040004
	AbortOutOfMemory       AbortCode = 0x05040005
	AbortUnsupportedAccess AbortCode = 0x06010000
	AbortWriteOnly         AbortCode = 0x06010001
	AbortReadOnly          AbortCode = 0x06010002
	AbortNotExist          AbortCode = 0x06020000
	AbortNoMap             AbortCode = 0x06040041
	AbortMapLen            AbortCode = 0x06040042
	AbortParamIncompat     AbortCode = 0x06040043
	AbortDeviceIncompat    AbortCode = 0x06040047
	AbortHardware          AbortCode = 0x06060000
	AbortTypeMismatch      AbortCode = 0x06070010
	AbortDataLong          AbortCode = 0x06070012
	AbortDataShort         AbortCode = 0x06070013
	AbortSubNotExist       AbortCode = 0x06090011
	AbortInvalidValue      AbortCode = 0x06090030
	AbortValueHigh         AbortCode = 0x06090031
	AbortValueLow          AbortCode = 0x06090032
	AbortMaxLessMin        AbortCode = 0x06090036
	AbortNoResource        AbortCode = 0x060A0023
	AbortGeneral           AbortCode = 0x08000000
	AbortDataTransfer      AbortCode = 0x08000020
	AbortDataLocalControl  AbortCode = 0x08000021
	AbortDataDeviceState   AbortCode = 0x08000022
	AbortDataOD            AbortCode = 0x08000023
	AbortNoData            AbortCode = 0x08000024
)

func (a AbortCode) Error() string {
	return fmt.Sprintf("SDO abort 0x%08X", uint32(a))
}

// fromODR converts an od.ODR result into the equivalent abort code, via the
// numeric table od.ODR.AbortCode() owns (pkg/od has no dependency on this
// package, so the conversion lives here instead of a shared lookup map).
func fromODR(r od.ODR) AbortCode {
	return AbortCode(r.AbortCode())
}

// Client command specifiers (bits 7-5 of byte 0 on a client->server frame).
const (
	ccsDownloadSegment byte = 0
	ccsDownloadInitiate byte = 1
	ccsUploadInitiate    byte = 2
	ccsUploadSegment     byte = 3
	ccsBlockUpload       byte = 5
	ccsBlockDownload     byte = 6
)

// Server command specifiers (bits 7-5 of byte 0 on a server->client frame).
const (
	scsUploadSegment     byte = 0
	scsDownloadSegment   byte = 1
	scsUploadInitiate    byte = 2
	scsDownloadInitiate  byte = 3
	scsBlockDownload     byte = 5
	scsBlockUpload       byte = 6
)

const abortByte byte = 0x80

// commandSpecifier extracts bits 7-5 of an SDO command byte (ccs on a
// client->server frame, scs on a server->client frame).
func commandSpecifier(b byte) byte { return b >> 5 }

func writeAbort(data *[8]byte, index uint16, subIndex uint8, code AbortCode) {
	data[0] = abortByte
	binary.LittleEndian.PutUint16(data[1:3], index)
	data[3] = subIndex
	binary.LittleEndian.PutUint32(data[4:8], uint32(code))
}

func readIndexSubIndex(data [8]byte) (uint16, uint8) {
	return binary.LittleEndian.Uint16(data[1:3]), data[3]
}
