package od

// Numeric SDO abort codes, kept here (rather than in pkg/sdo) so that ODR's
// conversion table has no import dependency on pkg/sdo; pkg/sdo wraps these
// raw values in its own typed AbortCode.
const (
	abortNone             uint32 = 0x00000000
	abortOutOfMemory      uint32 = 0x05040005
	abortUnsupportedAcces uint32 = 0x06010000
	abortWriteOnly        uint32 = 0x06010001
	abortReadOnly         uint32 = 0x06010002
	abortNotExist         uint32 = 0x06020000
	abortNoMap            uint32 = 0x06040041
	abortMapLen           uint32 = 0x06040042
	abortParamIncompat    uint32 = 0x06040043
	abortDeviceIncompat   uint32 = 0x06040047
	abortHardware         uint32 = 0x06060000
	abortTypeMismatch     uint32 = 0x06070010
	abortDataLong         uint32 = 0x06070012
	abortDataShort        uint32 = 0x06070013
	abortSubUnknown       uint32 = 0x06090011
	abortInvalidValue     uint32 = 0x06090030
	abortValueHigh        uint32 = 0x06090031
	abortValueLow         uint32 = 0x06090032
	abortMaxLessMin       uint32 = 0x06090036
	abortNoResource       uint32 = 0x060A0023
	abortGeneral          uint32 = 0x08000000
	abortDataTransfer     uint32 = 0x08000020
	abortDataLocalControl uint32 = 0x08000021
	abortDataDeviceState  uint32 = 0x08000022
	abortDataOD           uint32 = 0x08000023
	abortNoData           uint32 = 0x08000024
)

var abortMap = map[ODR]uint32{
	ODROK:           abortNone,
	ODROutOfMemory:  abortOutOfMemory,
	ODRUnsuppAccess: abortUnsupportedAcces,
	ODRWriteOnly:    abortWriteOnly,
	ODRReadOnly:     abortReadOnly,
	ODRIdxNotExist:  abortNotExist,
	ODRNoMap:        abortNoMap,
	ODRMapLen:       abortMapLen,
	ODRParIncompat:  abortParamIncompat,
	ODRDevIncompat:  abortDeviceIncompat,
	ODRHardware:     abortHardware,
	ODRTypeMismatch: abortTypeMismatch,
	ODRDataLong:     abortDataLong,
	ODRDataShort:    abortDataShort,
	ODRSubNotExist:  abortSubUnknown,
	ODRInvalidValue: abortInvalidValue,
	ODRValueHigh:    abortValueHigh,
	ODRValueLow:     abortValueLow,
	ODRMaxLessMin:   abortMaxLessMin,
	ODRNoResource:   abortNoResource,
	ODRGeneral:      abortGeneral,
	ODRDataTransf:   abortDataTransfer,
	ODRDataLocCtrl:  abortDataLocalControl,
	ODRDataDevState: abortDataDeviceState,
	ODRODMissing:    abortDataOD,
	ODRNoData:       abortNoData,
}

var abortExplanation = map[uint32]string{
	abortNone:             "no abort",
	abortOutOfMemory:      "out of memory",
	abortUnsupportedAcces: "unsupported access to an object",
	abortWriteOnly:        "attempt to read a write only object",
	abortReadOnly:         "attempt to write a read only object",
	abortNotExist:         "object does not exist in the object dictionary",
	abortNoMap:            "object cannot be mapped to the PDO",
	abortMapLen:           "num and len of object to be mapped exceeds PDO len",
	abortParamIncompat:    "general parameter incompatibility reasons",
	abortDeviceIncompat:   "general internal incompatibility in device",
	abortHardware:         "access failed due to hardware error",
	abortTypeMismatch:     "data type does not match, length does not match",
	abortDataLong:         "data type does not match, length too high",
	abortDataShort:        "data type does not match, length too short",
	abortSubUnknown:       "sub index does not exist",
	abortInvalidValue:     "invalid value for parameter (download only)",
	abortValueHigh:        "value range of parameter written too high",
	abortValueLow:         "value range of parameter written too low",
	abortMaxLessMin:       "maximum value is less than minimum value",
	abortNoResource:       "resource not available: SDO connection",
	abortGeneral:          "general error",
	abortDataTransfer:     "data cannot be transferred or stored to application",
	abortDataLocalControl: "data cannot be transferred because of local control",
	abortDataDeviceState:  "data cannot be transferred because of present device state",
	abortDataOD:           "object dictionary not present or dynamic generation fails",
	abortNoData:           "no data available",
}
