package od

// Limits bounds a numeric sub-object's writable value. The zero value (no
// bounds set) skips the range check entirely, so a freshly constructed
// Variable accepts any value by default; set Min and/or Max to enable the
// check, or NoLimit to turn it off even when Min or Max is set. A range of
// exactly [0, 0] cannot be expressed: it reads as unbounded.
type Limits struct {
	NoLimit bool
	Min     int64
	Max     int64
}

func (l Limits) active() bool {
	return !l.NoLimit && (l.Min != 0 || l.Max != 0)
}

// IndicationFunc is invoked by the SDO server when download/upload bytes
// for a sub-object are ready to be applied or supplied. The default
// indications (DefaultDownload/DefaultUpload) read/write the sub-object's
// value slot directly, honoring Limits.
type IndicationFunc func(v *Variable, data []byte) ([]byte, ODR)

// Variable is a single sub-object: a typed, addressable value slot plus its
// access attributes and optional indication hooks.
type Variable struct {
	SubIndex uint8
	Name     string
	Type     DataType
	Attr     Attr
	Limits   Limits

	data []byte // wire-encoded value, little-endian

	DownloadIndication IndicationFunc
	UploadIndication    IndicationFunc
}

// NewVariable constructs a Variable with a fixed-size wire buffer sized for
// Type (for variable-length types the caller provides the initial buffer
// via value).
func NewVariable(subIndex uint8, name string, t DataType, attr Attr, value []byte) *Variable {
	v := &Variable{SubIndex: subIndex, Name: name, Type: t, Attr: attr}
	size := t.wireSize()
	if size == 0 {
		size = len(value)
	}
	v.data = make([]byte, size)
	copy(v.data, value)
	if t.isMultiByte() {
		v.Attr |= AttrMB
	}
	return v
}

// Raw returns the current wire-encoded bytes of the value slot.
func (v *Variable) Raw() []byte {
	return v.data
}

// Readable reports whether the SDO server may read this sub-object.
func (v *Variable) Readable() bool { return v.Attr&AttrSDOR != 0 }

// Writable reports whether the SDO server may write this sub-object.
func (v *Variable) Writable() bool { return v.Attr&AttrSDOW != 0 }

// Read returns the sub-object's current value bytes, running the custom
// UploadIndication if one is installed, else DefaultUpload.
func (v *Variable) Read() ([]byte, ODR) {
	if v.UploadIndication != nil {
		return v.UploadIndication(v, nil)
	}
	return v.DefaultUpload()
}

// Write stores data into the sub-object, running the custom
// DownloadIndication if one is installed, else DefaultDownload.
func (v *Variable) Write(data []byte) ODR {
	if v.DownloadIndication != nil {
		_, r := v.DownloadIndication(v, data)
		return r
	}
	_, r := v.DefaultDownload(data)
	return r
}

// DefaultUpload is the zero-configuration upload indication: it returns a
// copy of the raw value slot.
func (v *Variable) DefaultUpload() ([]byte, ODR) {
	if !v.Readable() {
		return nil, ODRWriteOnly
	}
	out := make([]byte, len(v.data))
	copy(out, v.data)
	return out, ODROK
}

// DefaultDownload is the zero-configuration download indication: it
// type-checks the length (unless the short-write attribute is set for
// strings, which zero-fills the remainder), range-checks numeric values
// against Limits, and writes into the value slot.
func (v *Variable) DefaultDownload(data []byte) ([]byte, ODR) {
	if !v.Writable() {
		return nil, ODRReadOnly
	}

	if len(data) > len(v.data) {
		return nil, ODRDataLong
	}
	if len(data) < len(v.data) {
		if v.Attr&AttrStr == 0 {
			return nil, ODRDataShort
		}
	}

	if v.Limits.active() && isIntegerType(v.Type) {
		value := decodeSignedOrUnsigned(v.Type, data)
		if value < v.Limits.Min {
			return nil, ODRValueLow
		}
		if value > v.Limits.Max {
			return nil, ODRValueHigh
		}
	}

	copy(v.data, data)
	for i := len(data); i < len(v.data); i++ {
		v.data[i] = 0
	}
	return nil, ODROK
}

func isIntegerType(t DataType) bool {
	switch t {
	case Boolean, VisibleString, OctetString, UnicodeString, Domain, TimeOfDay, TimeDifference, Real32, Real64:
		return false
	default:
		return true
	}
}
