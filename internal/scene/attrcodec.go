package scene

import (
	"github.com/ugorji/go/codec"

	"github.com/originworld/scenesync/internal/vec"
)

// attrHandle is shared by every attribute encode/decode call; codec.Handle
// values are safe for concurrent use once configured, so one package-level
// instance is enough.
var attrHandle = &codec.CborHandle{}

// EncodeAttributeValue serializes an attribute's dynamic value into a
// compact binary form. Transform/RigidBody-carrying attributes (Placeable,
// RigidBody) are never routed through here — those get the dedicated
// quantized bitio encoding the rigid-body wire codec uses; this path covers
// the long tail of component-defined attribute types where a generic, still
// compact encoding is the pragmatic choice.
func EncodeAttributeValue(v interface{}) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, attrHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

// DecodeAttributeValue deserializes bytes produced by EncodeAttributeValue
// into a value shaped by the attribute's declared type.
func DecodeAttributeValue(t AttributeType, data []byte) (interface{}, error) {
	dec := codec.NewDecoderBytes(data, attrHandle)
	switch t {
	case AttrBool:
		var v bool
		err := dec.Decode(&v)
		return v, err
	case AttrInt:
		var v int64
		err := dec.Decode(&v)
		return v, err
	case AttrFloat:
		var v float64
		err := dec.Decode(&v)
		return v, err
	case AttrString, AttrAssetRef:
		var v string
		err := dec.Decode(&v)
		return v, err
	case AttrColor:
		var v [4]float64
		err := dec.Decode(&v)
		return v, err
	case AttrVector3:
		var v [3]float64
		err := dec.Decode(&v)
		return v, err
	case AttrQuaternion:
		var v [4]float64
		err := dec.Decode(&v)
		return v, err
	default:
		var v interface{}
		err := dec.Decode(&v)
		return v, err
	}
}

// DecodeNativeAttributeValue special-cases the Placeable/RigidBody
// attribute slots whose Go-side representation (*Transform, vec.Vec3Float)
// doesn't map onto one of the AttributeType tags DecodeAttributeValue
// switches on. ok is false for anything else, so the caller falls back to
// the generic, type-tagged path.
func DecodeNativeAttributeValue(typeId TypeId, index uint8, data []byte) (value interface{}, ok bool, err error) {
	dec := codec.NewDecoderBytes(data, attrHandle)
	switch {
	case typeId == PlaceableTypeId && index == TransformAttrIndex:
		var t Transform
		err = dec.Decode(&t)
		return &t, true, err
	case typeId == RigidBodyTypeId && (index == LinearVelocityAttrIndex || index == AngularVelocityAttrIndex):
		var v vec.Vec3Float
		err = dec.Decode(&v)
		return v, true, err
	default:
		return nil, false, nil
	}
}
