package wire

import (
	"github.com/originworld/scenesync/internal/bitio"
	"github.com/originworld/scenesync/internal/scene"
	sy "github.com/originworld/scenesync/internal/sync"
	"github.com/originworld/scenesync/internal/vec"
)

// ObserverPosition is the decoded payload of an inbound ObserverPosition
// message: the client's current viewpoint, consumed by the prioritizer.
type ObserverPosition struct {
	Pos scene.Transform
}

func DecodeObserverPosition(payload []byte) (*ObserverPosition, error) {
	r := bitio.NewReader(payload)
	x, err := r.ReadSignedFixedPoint(24, 8)
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgObserverPosition), Err: err}
	}
	y, err := r.ReadSignedFixedPoint(24, 8)
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgObserverPosition), Err: err}
	}
	z, err := r.ReadSignedFixedPoint(24, 8)
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgObserverPosition), Err: err}
	}
	return &ObserverPosition{Pos: scene.Transform{Pos: vec.Vec3Float{X: x, Y: y, Z: z}}}, nil
}

// CreateEntityReply is the server's acknowledgement of a client's
// speculative unacked-range CreateEntity.
type CreateEntityReply struct {
	UnackedEntityId scene.EntityId
	RealEntityId    scene.EntityId
	ComponentIds    []scene.ComponentId
}

func DecodeCreateEntityReply(payload []byte) (*CreateEntityReply, error) {
	r := bitio.NewReader(payload)
	unacked, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateEntityReply), Err: err}
	}
	real, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateEntityReply), Err: err}
	}
	n, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateEntityReply), Err: err}
	}
	ids := make([]scene.ComponentId, 0, n)
	for i := uint32(0); i < n; i++ {
		v, err := r.ReadVLE()
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateEntityReply), Err: err}
		}
		ids = append(ids, scene.ComponentId(v))
	}
	return &CreateEntityReply{
		UnackedEntityId: scene.MakeUnackedEntityId(unacked),
		RealEntityId:    scene.EntityId(real),
		ComponentIds:    ids,
	}, nil
}

// CreateComponentsReply is the component-level counterpart of
// CreateEntityReply, used when components were added to an
// already-acknowledged entity.
type CreateComponentsReply struct {
	EntityId            scene.EntityId
	UnackedComponentIds []scene.ComponentId
	RealComponentIds    []scene.ComponentId
}

func DecodeCreateComponentsReply(payload []byte) (*CreateComponentsReply, error) {
	r := bitio.NewReader(payload)
	entityId, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateComponentsReply), Err: err}
	}
	n, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateComponentsReply), Err: err}
	}
	unacked := make([]scene.ComponentId, 0, n)
	real := make([]scene.ComponentId, 0, n)
	for i := uint32(0); i < n; i++ {
		u, err := r.ReadVLE()
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateComponentsReply), Err: err}
		}
		v, err := r.ReadVLE()
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateComponentsReply), Err: err}
		}
		unacked = append(unacked, scene.MakeUnackedComponentId(u))
		real = append(real, scene.ComponentId(v))
	}
	return &CreateComponentsReply{EntityId: scene.EntityId(entityId), UnackedComponentIds: unacked, RealComponentIds: real}, nil
}

// RegisterComponentType is a placeholder type descriptor an unmodified
// peer announces for a component type it doesn't natively recognize.
type RegisterComponentType struct {
	TypeId     scene.TypeId
	TypeName   string
	Attributes []scene.AttributeDescriptor
}

func DecodeRegisterComponentType(payload []byte) (*RegisterComponentType, error) {
	r := bitio.NewReader(payload)
	typeId, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRegisterComponentType), Err: err}
	}
	nameLen, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRegisterComponentType), Err: err}
	}
	name, err := readRawString(r, int(nameLen))
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRegisterComponentType), Err: err}
	}
	n, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRegisterComponentType), Err: err}
	}
	attrs := make([]scene.AttributeDescriptor, 0, n)
	for i := uint32(0); i < n; i++ {
		idx, err := r.ReadBits(8)
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRegisterComponentType), Err: err}
		}
		typ, err := r.ReadBits(8)
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRegisterComponentType), Err: err}
		}
		attrNameLen, err := r.ReadVLE()
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRegisterComponentType), Err: err}
		}
		attrName, err := readRawString(r, int(attrNameLen))
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRegisterComponentType), Err: err}
		}
		attrs = append(attrs, scene.AttributeDescriptor{
			Index: uint8(idx),
			Type:  scene.AttributeType(typ),
			Name:  attrName,
		})
	}
	return &RegisterComponentType{TypeId: scene.TypeId(typeId), TypeName: name, Attributes: attrs}, nil
}

// ToDescriptor converts a decoded RegisterComponentType into the
// scene.TypeDescriptor shape TypeRegistry.ApplyDescriptor expects.
func (m *RegisterComponentType) ToDescriptor() scene.TypeDescriptor {
	return scene.TypeDescriptor{TypeId: m.TypeId, TypeName: m.TypeName, Attributes: m.Attributes}
}

// EncodeRegisterComponentType packs a type descriptor for announcement to
// a peer (or for cross-node distribution via internal/cluster).
func EncodeRegisterComponentType(desc scene.TypeDescriptor) []byte {
	w := bitio.NewWriter()
	_ = w.WriteVLE(uint32(desc.TypeId))
	_ = w.WriteVLE(uint32(len(desc.TypeName)))
	writeRawBytes(w, []byte(desc.TypeName))
	_ = w.WriteVLE(uint32(len(desc.Attributes)))
	for _, a := range desc.Attributes {
		w.WriteBits(uint32(a.Index), 8)
		w.WriteBits(uint32(a.Type), 8)
		_ = w.WriteVLE(uint32(len(a.Name)))
		writeRawBytes(w, []byte(a.Name))
	}
	return w.Bytes()
}

func readRawString(r *bitio.Reader, n int) (string, error) {
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		v, err := r.ReadBits(8)
		if err != nil {
			return "", err
		}
		buf[i] = byte(v)
	}
	return string(buf), nil
}

// readVLEString reads the String primitive: a VLE length followed by that
// many raw bytes.
func readVLEString(r *bitio.Reader) (string, error) {
	n, err := r.ReadVLE()
	if err != nil {
		return "", err
	}
	return readRawString(r, int(n))
}

// readComponentFull is the decode counterpart of writeComponentFull: id,
// type, display name, then a length-delimited attribute block holding the
// type's static attributes in index order (resolved against registry)
// followed by zero-or-more dynamic-attribute records, read until the block
// is exhausted.
func readComponentFull(r *bitio.Reader, registry *scene.TypeRegistry) (*scene.Component, error) {
	compId, err := r.ReadVLE()
	if err != nil {
		return nil, err
	}
	typeId, err := r.ReadVLE()
	if err != nil {
		return nil, err
	}
	name, err := readVLEString(r)
	if err != nil {
		return nil, err
	}
	blockLen, err := r.ReadVLE()
	if err != nil {
		return nil, err
	}
	blockBytes, err := readRawString(r, int(blockLen))
	if err != nil {
		return nil, err
	}

	comp := &scene.Component{
		Id:     scene.ComponentId(compId),
		TypeId: scene.TypeId(typeId),
		Name:   name,
	}

	block := bitio.NewReader([]byte(blockBytes))
	desc, _ := registry.Describe(comp.TypeId)
	for _, ad := range desc.Attributes {
		a, err := readStaticAttribute(block, comp.TypeId, ad)
		if err != nil {
			return nil, err
		}
		comp.Attributes = append(comp.Attributes, a)
	}
	for block.BitsRemaining() >= 8 {
		a, err := readDynamicAttribute(block)
		if err != nil {
			return nil, err
		}
		comp.Attributes = append(comp.Attributes, a)
	}
	return comp, nil
}

func readStaticAttribute(r *bitio.Reader, typeId scene.TypeId, ad scene.AttributeDescriptor) (*scene.Attribute, error) {
	n, err := r.ReadVLE()
	if err != nil {
		return nil, err
	}
	data, err := readRawString(r, int(n))
	if err != nil {
		return nil, err
	}
	raw := []byte(data)
	var value interface{}
	if v, ok, nerr := scene.DecodeNativeAttributeValue(typeId, ad.Index, raw); ok {
		value, err = v, nerr
	} else {
		value, err = scene.DecodeAttributeValue(ad.Type, raw)
	}
	if err != nil {
		return nil, err
	}
	return &scene.Attribute{Index: ad.Index, Name: ad.Name, Type: ad.Type, Value: value, IsStatic: true}, nil
}

func readDynamicAttribute(r *bitio.Reader) (*scene.Attribute, error) {
	idx, err := r.ReadBits(8)
	if err != nil {
		return nil, err
	}
	typ, err := r.ReadBits(8)
	if err != nil {
		return nil, err
	}
	name, err := readVLEString(r)
	if err != nil {
		return nil, err
	}
	n, err := r.ReadVLE()
	if err != nil {
		return nil, err
	}
	data, err := readRawString(r, int(n))
	if err != nil {
		return nil, err
	}
	value, err := scene.DecodeAttributeValue(scene.AttributeType(typ), []byte(data))
	if err != nil {
		return nil, err
	}
	return &scene.Attribute{Index: uint8(idx), Name: name, Type: scene.AttributeType(typ), Value: value, IsStatic: false}, nil
}

// DecodeCreateEntity is the inbound decode counterpart of Encoder.CreateEntity.
// The wire id is the sender's own handle: a server reading a client's frame
// treats it as an unacked proposal needing a freshly assigned real id; a
// client reading a server's frame treats it as already final.
func DecodeCreateEntity(payload []byte, registry *scene.TypeRegistry) (*sy.InboundCreateEntity, error) {
	payload, err := decompressCreateEntityPayload(payload)
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateEntity), Err: err}
	}
	r := bitio.NewReader(payload)
	wireId, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateEntity), Err: err}
	}
	local, err := r.ReadBool()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateEntity), Err: err}
	}
	n, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateEntity), Err: err}
	}
	comps := make([]*scene.Component, 0, n)
	for i := uint32(0); i < n; i++ {
		c, err := readComponentFull(r, registry)
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateEntity), Err: err}
		}
		comps = append(comps, c)
	}
	return &sy.InboundCreateEntity{WireId: wireId, Local: local, Components: comps}, nil
}

// DecodeCreateComponents is the inbound decode counterpart of Encoder.CreateComponents.
func DecodeCreateComponents(payload []byte, registry *scene.TypeRegistry) (*sy.InboundCreateComponents, error) {
	r := bitio.NewReader(payload)
	entityId, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateComponents), Err: err}
	}
	n, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateComponents), Err: err}
	}
	comps := make([]*scene.Component, 0, n)
	for i := uint32(0); i < n; i++ {
		c, err := readComponentFull(r, registry)
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateComponents), Err: err}
		}
		comps = append(comps, c)
	}
	return &sy.InboundCreateComponents{EntityId: entityId, Components: comps}, nil
}

// DecodeCreateAttributes decodes a dynamic-attribute-creation message: each
// record carries its own index/type/name since the receiver has no prior
// record of it.
func DecodeCreateAttributes(payload []byte) (*sy.InboundCreateAttributes, error) {
	r := bitio.NewReader(payload)
	entityId, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateAttributes), Err: err}
	}
	compId, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateAttributes), Err: err}
	}
	n, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateAttributes), Err: err}
	}
	attrs := make([]*scene.Attribute, 0, n)
	for i := uint32(0); i < n; i++ {
		a, err := readDynamicAttribute(r)
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgCreateAttributes), Err: err}
		}
		attrs = append(attrs, a)
	}
	return &sy.InboundCreateAttributes{EntityId: entityId, ComponentId: compId, Attributes: attrs}, nil
}

// DecodeEditAttributes decodes an edited-attribute-value message, using
// either the explicit index list or the fixed static-attribute bitmask
// depending on the method flag the sender chose.
func DecodeEditAttributes(payload []byte) (*sy.InboundEditAttributes, error) {
	r := bitio.NewReader(payload)
	entityId, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgEditAttributes), Err: err}
	}
	compId, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgEditAttributes), Err: err}
	}
	useBitmask, err := r.ReadBool()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgEditAttributes), Err: err}
	}

	var indices []uint8
	if useBitmask {
		staticCount, err := r.ReadBits(8)
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgEditAttributes), Err: err}
		}
		for i := uint32(0); i < staticCount; i++ {
			dirty, err := r.ReadBool()
			if err != nil {
				return nil, &sy.MalformedFrameError{MessageID: uint8(MsgEditAttributes), Err: err}
			}
			if dirty {
				indices = append(indices, uint8(i))
			}
		}
	} else {
		n, err := r.ReadVLE()
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgEditAttributes), Err: err}
		}
		for i := uint32(0); i < n; i++ {
			idx, err := r.ReadBits(8)
			if err != nil {
				return nil, &sy.MalformedFrameError{MessageID: uint8(MsgEditAttributes), Err: err}
			}
			indices = append(indices, uint8(idx))
		}
	}

	attrs := make([]*sy.InboundAttributeValue, 0, len(indices))
	for _, idx := range indices {
		n, err := r.ReadVLE()
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgEditAttributes), Err: err}
		}
		data, err := readRawString(r, int(n))
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgEditAttributes), Err: err}
		}
		attrs = append(attrs, &sy.InboundAttributeValue{Index: idx, Raw: []byte(data)})
	}
	return &sy.InboundEditAttributes{EntityId: entityId, ComponentId: compId, Values: attrs}, nil
}

// DecodeRemoveAttributes decodes a remove-attribute-indices message.
func DecodeRemoveAttributes(payload []byte) (*sy.InboundRemoveAttributes, error) {
	r := bitio.NewReader(payload)
	entityId, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRemoveAttributes), Err: err}
	}
	compId, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRemoveAttributes), Err: err}
	}
	n, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRemoveAttributes), Err: err}
	}
	indices := make([]uint8, 0, n)
	for i := uint32(0); i < n; i++ {
		idx, err := r.ReadBits(8)
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRemoveAttributes), Err: err}
		}
		indices = append(indices, uint8(idx))
	}
	return &sy.InboundRemoveAttributes{EntityId: entityId, ComponentId: compId, Indices: indices}, nil
}

// DecodeRemoveComponents decodes a remove-components-by-id message.
func DecodeRemoveComponents(payload []byte) (*sy.InboundRemoveComponents, error) {
	r := bitio.NewReader(payload)
	entityId, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRemoveComponents), Err: err}
	}
	n, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRemoveComponents), Err: err}
	}
	ids := make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := r.ReadVLE()
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRemoveComponents), Err: err}
		}
		ids = append(ids, id)
	}
	return &sy.InboundRemoveComponents{EntityId: entityId, ComponentIds: ids}, nil
}

// DecodeRemoveEntity decodes a whole-entity removal message.
func DecodeRemoveEntity(payload []byte) (*sy.InboundRemoveEntity, error) {
	r := bitio.NewReader(payload)
	entityId, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgRemoveEntity), Err: err}
	}
	return &sy.InboundRemoveEntity{EntityId: entityId}, nil
}

// DecodeEditEntityProperties decodes an entity-level property-change
// notification; this engine doesn't model entity properties beyond name/
// description, so the payload carries only the entity id it pertains to.
func DecodeEditEntityProperties(payload []byte) (*sy.InboundEditEntityProperties, error) {
	r := bitio.NewReader(payload)
	entityId, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgEditEntityProperties), Err: err}
	}
	return &sy.InboundEditEntityProperties{EntityId: entityId}, nil
}

// DecodeSetEntityParent decodes a parent-link change. Unlike the other
// generic-delta messages, entity ids here are written in full (including
// their range-selector bits) so a parent still in the sender's unacked
// range stays unambiguous.
func DecodeSetEntityParent(payload []byte) (*sy.InboundSetEntityParent, error) {
	r := bitio.NewReader(payload)
	sceneId, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgSetEntityParent), Err: err}
	}
	id, err := r.ReadBits(32)
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgSetEntityParent), Err: err}
	}
	parentId, err := r.ReadBits(32)
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgSetEntityParent), Err: err}
	}
	return &sy.InboundSetEntityParent{SceneId: sceneId, EntityId: scene.EntityId(id), ParentId: scene.EntityId(parentId)}, nil
}

// DecodeEntityAction decodes an entity-action invocation.
func DecodeEntityAction(payload []byte) (*sy.InboundEntityAction, error) {
	r := bitio.NewReader(payload)
	entityId, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgEntityAction), Err: err}
	}
	name, err := readVLEString(r)
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgEntityAction), Err: err}
	}
	n, err := r.ReadVLE()
	if err != nil {
		return nil, &sy.MalformedFrameError{MessageID: uint8(MsgEntityAction), Err: err}
	}
	params := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		p, err := readVLEString(r)
		if err != nil {
			return nil, &sy.MalformedFrameError{MessageID: uint8(MsgEntityAction), Err: err}
		}
		params = append(params, p)
	}
	return &sy.InboundEntityAction{EntityId: entityId, Name: name, Params: params}, nil
}

// EncodeCreateEntityReply packs the server's id-reconciliation reply to a
// client's speculative CreateEntity.
func EncodeCreateEntityReply(unackedEntityId, realEntityId uint32, compIds []sy.ReconciledId) []byte {
	w := bitio.NewWriter()
	_ = w.WriteVLE(unackedEntityId)
	_ = w.WriteVLE(realEntityId)
	_ = w.WriteVLE(uint32(len(compIds)))
	for _, c := range compIds {
		_ = w.WriteVLE(c.Unacked)
		_ = w.WriteVLE(c.Real)
	}
	return w.Bytes()
}

// EncodeCreateComponentsReply packs the server's id-reconciliation reply to
// a client's speculative CreateComponents.
func EncodeCreateComponentsReply(entityId uint32, compIds []sy.ReconciledId) []byte {
	w := bitio.NewWriter()
	_ = w.WriteVLE(entityId)
	_ = w.WriteVLE(uint32(len(compIds)))
	for _, c := range compIds {
		_ = w.WriteVLE(c.Unacked)
		_ = w.WriteVLE(c.Real)
	}
	return w.Bytes()
}

