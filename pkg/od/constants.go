package od

// DataType identifies a CiA-301 value type by its 16-bit object-dictionary
// data type code.
type DataType uint16

const (
	Boolean        DataType = 0x0001
	Integer8       DataType = 0x0002
	Integer16      DataType = 0x0003
	Integer32      DataType = 0x0004
	Unsigned8      DataType = 0x0005
	Unsigned16     DataType = 0x0006
	Unsigned32     DataType = 0x0007
	Real32         DataType = 0x0008
	VisibleString  DataType = 0x0009
	OctetString    DataType = 0x000A
	UnicodeString  DataType = 0x000B
	TimeOfDay      DataType = 0x000C
	TimeDifference DataType = 0x000D
	Domain         DataType = 0x000F
	Integer24      DataType = 0x0010
	Real64         DataType = 0x0011
	Integer40      DataType = 0x0012
	Integer48      DataType = 0x0013
	Integer56      DataType = 0x0014
	Integer64      DataType = 0x0015
	Unsigned24     DataType = 0x0016
	Unsigned40     DataType = 0x0018
	Unsigned48     DataType = 0x0019
	Unsigned56     DataType = 0x001A
	Unsigned64     DataType = 0x001B
)

// wireSize returns the on-the-wire byte length for fixed-size types, or 0
// for variable-length types (strings, octet strings, domain).
func (t DataType) wireSize() int {
	switch t {
	case Boolean, Integer8, Unsigned8:
		return 1
	case Integer16, Unsigned16:
		return 2
	case Integer24, Unsigned24:
		return 3
	case Integer32, Unsigned32, Real32:
		return 4
	case TimeOfDay, TimeDifference:
		return 6
	case Integer40, Unsigned40:
		return 5
	case Integer48, Unsigned48:
		return 6
	case Integer56, Unsigned56:
		return 7
	case Integer64, Unsigned64, Real64:
		return 8
	default:
		return 0
	}
}

// isMultiByte reports whether the type uses 2 or more bytes, matching the
// ODA_MB attribute's scope ("(u)int16_t to (u)int64_t").
func (t DataType) isMultiByte() bool {
	switch t {
	case Boolean, Integer8, Unsigned8, VisibleString, OctetString, Domain:
		return false
	default:
		return true
	}
}

// ObjectCode distinguishes the shape of an Object's sub-object collection.
type ObjectCode uint8

const (
	ObjectVAR ObjectCode = iota
	ObjectARRAY
	ObjectRECORD
	ObjectDEFSTRUCT
	ObjectDEFTYPE
	ObjectDOMAIN
)

// ODR is the object dictionary access result code, mirroring CiA-301's
// OD result codes. The zero value is success.
type ODR int8

const (
	ODRPartial        ODR = -1
	ODROK             ODR = 0
	ODROutOfMemory    ODR = 1
	ODRUnsuppAccess   ODR = 2
	ODRWriteOnly      ODR = 3
	ODRReadOnly       ODR = 4
	ODRIdxNotExist    ODR = 5
	ODRNoMap          ODR = 6
	ODRMapLen         ODR = 7
	ODRParIncompat    ODR = 8
	ODRDevIncompat    ODR = 9
	ODRHardware       ODR = 10
	ODRTypeMismatch   ODR = 11
	ODRDataLong       ODR = 12
	ODRDataShort      ODR = 13
	ODRSubNotExist    ODR = 14
	ODRInvalidValue   ODR = 15
	ODRValueHigh      ODR = 16
	ODRValueLow       ODR = 17
	ODRMaxLessMin     ODR = 18
	ODRNoResource     ODR = 19
	ODRGeneral        ODR = 20
	ODRDataTransf     ODR = 21
	ODRDataLocCtrl    ODR = 22
	ODRDataDevState   ODR = 23
	ODRODMissing      ODR = 24
	ODRNoData         ODR = 25
)

func (r ODR) Error() string {
	return abortExplanation[r.AbortCode()]
}

// AbortCode returns the numeric SDO abort code associated with this result,
// per the abortMap conversion table. Callers that need a typed
// sdo.AbortCode wrap this numeric value themselves, keeping pkg/od free of
// any dependency on pkg/sdo.
func (r ODR) AbortCode() uint32 {
	if code, ok := abortMap[r]; ok {
		return code
	}
	return abortMap[ODRDevIncompat]
}

// Attr is the bitmask of access/mapping attributes for a sub-object.
type Attr uint8

const (
	AttrSDOR   Attr = 0x01 // SDO server may read
	AttrSDOW   Attr = 0x02 // SDO server may write
	AttrSDORW  Attr = AttrSDOR | AttrSDOW
	AttrTPDO   Attr = 0x04 // mappable into a TPDO
	AttrRPDO   Attr = 0x08 // mappable into an RPDO
	AttrTRPDO  Attr = AttrTPDO | AttrRPDO
	AttrMB     Attr = 0x40 // multi-byte value (u)int16..(u)int64
	AttrStr    Attr = 0x80 // short writes zero-fill the remainder (strings)
)

// Mappable reports whether a sub-object with this attribute may appear in a
// PDO mapping parameter record.
func (a Attr) Mappable() bool {
	return a&AttrTRPDO != 0
}
