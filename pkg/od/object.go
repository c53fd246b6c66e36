package od

import "github.com/sirupsen/logrus"

// Object is one entry in the dictionary tree: a typed collection of
// sub-objects, uniquely keyed by subindex within the object.
type Object struct {
	Index uint16
	Name  string
	Code  ObjectCode
	subs  map[uint8]*Variable
	order []uint8 // insertion order, for deterministic iteration
}

// NewObject constructs an empty Object.
func NewObject(index uint16, name string, code ObjectCode) *Object {
	return &Object{Index: index, Name: name, Code: code, subs: make(map[uint8]*Variable)}
}

// AddSub inserts a sub-object. For ARRAY objects the caller is responsible
// for keeping sub-object 0 (the "highest sub-index supported" entry) in
// sync; see SyncArrayCount.
func (o *Object) AddSub(v *Variable) {
	if _, exists := o.subs[v.SubIndex]; !exists {
		o.order = append(o.order, v.SubIndex)
	}
	o.subs[v.SubIndex] = v
}

// Sub looks up a sub-object by subindex.
func (o *Object) Sub(subIndex uint8) *Variable {
	return o.subs[subIndex]
}

// SubCount returns the number of sub-objects.
func (o *Object) SubCount() int {
	return len(o.subs)
}

// Subs iterates sub-objects in insertion order.
func (o *Object) Subs() []*Variable {
	out := make([]*Variable, 0, len(o.order))
	for _, idx := range o.order {
		out = append(out, o.subs[idx])
	}
	return out
}

// SyncArrayCount updates sub-object 0 of an ARRAY object to the highest
// populated subindex, per the data model invariant "For ARRAY objects,
// sub-object 0 holds the highest populated subindex as an u8."
func (o *Object) SyncArrayCount() {
	if o.Code != ObjectARRAY {
		return
	}
	var highest uint8
	for _, idx := range o.order {
		if idx > highest {
			highest = idx
		}
	}
	if sub0 := o.subs[0]; sub0 != nil {
		sub0.SetUint8(highest)
	}
}

// ObjectDictionary is the ordered index-keyed tree of Objects making up a
// device's data model. Construction is static: objects are created once at
// device assembly and never relocated, only their sub-object values change.
type ObjectDictionary struct {
	log     *logrus.Entry
	objects map[uint16]*Object
	order   []uint16
}

// New constructs an empty ObjectDictionary.
func New() *ObjectDictionary {
	return &ObjectDictionary{
		log:     logrus.WithField("component", "od"),
		objects: make(map[uint16]*Object),
	}
}

// AddObject inserts an Object, replacing and warning about any previous
// object at the same index.
func (od *ObjectDictionary) AddObject(obj *Object) {
	if _, exists := od.objects[obj.Index]; exists {
		od.log.Warnf("overwriting object at index 0x%04X", obj.Index)
	} else {
		od.order = append(od.order, obj.Index)
	}
	od.objects[obj.Index] = obj
}

// Index looks up an Object by index, or nil if absent.
func (od *ObjectDictionary) Index(index uint16) *Object {
	return od.objects[index]
}

// Sub is a convenience lookup for (index, subindex), returning ODRIdxNotExist
// or ODRSubNotExist as appropriate.
func (od *ObjectDictionary) Sub(index uint16, subIndex uint8) (*Variable, ODR) {
	obj := od.objects[index]
	if obj == nil {
		return nil, ODRIdxNotExist
	}
	sub := obj.Sub(subIndex)
	if sub == nil {
		return nil, ODRSubNotExist
	}
	return sub, ODROK
}

// Objects iterates Objects in insertion order.
func (od *ObjectDictionary) Objects() []*Object {
	out := make([]*Object, 0, len(od.order))
	for _, idx := range od.order {
		out = append(out, od.objects[idx])
	}
	return out
}
