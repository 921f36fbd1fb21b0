package wire

import (
	"sort"

	"github.com/originworld/scenesync/internal/bitio"
	"github.com/originworld/scenesync/internal/scene"
	sy "github.com/originworld/scenesync/internal/sync"
)

// Emit is called once per fully encoded outbound message. The transport
// layer decides which channel (reliable/unreliable) to deliver it on based
// on Frame.Reliable.
type Emit func(Frame)

// rigidBodyBatchBitBudget caps how many bits of rigid-body records
// FlushRigidBodyUpdates packs into one RigidBodyUpdate message before
// cutting a new one; 350 bits keeps a batch well under a single
// unreliable-channel datagram even at the most expensive (Full/Full)
// per-record encoding.
const rigidBodyBatchBitBudget = 350

// Encoder adapts internal/sync's flush algorithm onto the wire: every
// MessageSink method builds one bitio-packed payload and hands it to Emit.
// Scene is consulted to resolve current attribute values for
// CreateAttributes/EditAttributes, which the flush algorithm only passes
// indices for.
type Encoder struct {
	Emit Emit
	Scene scene.API

	// SceneId identifies which scene this connection replicates, written
	// ahead of SetEntityParent's full entity ids so a parent id in a
	// client's unacked range is still unambiguous to the receiver.
	SceneId uint32

	pendingRigidBody    []RigidBodyRecord
	pendingRigidBodyBits int
}

func NewEncoder(emit Emit, scn scene.API) *Encoder {
	return &Encoder{Emit: emit, Scene: scn}
}

func (e *Encoder) lookupAttrs(entityId scene.EntityId, compId scene.ComponentId, indices []uint8) []*scene.Attribute {
	out := make([]*scene.Attribute, 0, len(indices))
	entity, ok := e.Scene.Entity(entityId)
	if !ok {
		return out
	}
	comp, ok := entity.Components[compId]
	if !ok {
		return out
	}
	for _, idx := range indices {
		if a := comp.AttributeByIndex(idx); a != nil {
			out = append(out, a)
		}
	}
	return out
}

func (e *Encoder) emit(id MessageID, w *bitio.Writer, reliable bool) {
	e.Emit(Frame{ID: id, Payload: w.Bytes(), Reliable: reliable})
}

// writeRawBytes appends data bit-by-bit rather than via bitio.Writer's
// WriteBytes, which demands byte alignment — every other write in these
// messages is a bit-level field, so alignment can't be assumed here.
func writeRawBytes(w *bitio.Writer, data []byte) {
	for _, b := range data {
		w.WriteBits(uint32(b), 8)
	}
}

func writeComponentIds(w *bitio.Writer, ids []scene.ComponentId) {
	_ = w.WriteVLE(uint32(len(ids)))
	for _, id := range ids {
		_ = w.WriteVLE(id.WireValue())
	}
}

func writeAttrIndices(w *bitio.Writer, idxs []uint8) {
	_ = w.WriteVLE(uint32(len(idxs)))
	for _, i := range idxs {
		w.WriteBits(uint32(i), 8)
	}
}

func writeAttributeValue(w *bitio.Writer, a *scene.Attribute) {
	data, err := scene.EncodeAttributeValue(a.Value)
	if err != nil {
		data = nil
	}
	_ = w.WriteVLE(uint32(len(data)))
	writeRawBytes(w, data)
}

// writeString writes a length-prefixed raw string, the String primitive
// used throughout these message bodies.
func writeString(w *bitio.Writer, s string) {
	_ = w.WriteVLE(uint32(len(s)))
	writeRawBytes(w, []byte(s))
}

// splitStaticAndDynamic separates a component's attributes into its static
// slots, sorted by index (the order a schema-driven decoder expects them
// in), and its dynamic attributes in their existing order.
func splitStaticAndDynamic(attrs []*scene.Attribute) (static, dynamic []*scene.Attribute) {
	for _, a := range attrs {
		if a.IsStatic {
			static = append(static, a)
		} else {
			dynamic = append(dynamic, a)
		}
	}
	sort.Slice(static, func(i, j int) bool { return static[i].Index < static[j].Index })
	return static, dynamic
}

// writeComponentFull packs one component's full state: id, type, display
// name, then a length-delimited attribute block holding its static
// attributes in index order followed by zero-or-more dynamic-attribute
// records, each carrying its own index/type/name since the receiver has
// no schema to fall back on for those.
func writeComponentFull(w *bitio.Writer, c *scene.Component) {
	_ = w.WriteVLE(c.Id.WireValue())
	_ = w.WriteVLE(uint32(c.TypeId))
	writeString(w, c.Name)

	static, dynamic := splitStaticAndDynamic(c.Attributes)
	block := bitio.NewWriter()
	for _, a := range static {
		writeAttributeValue(block, a)
	}
	for _, a := range dynamic {
		block.WriteBits(uint32(a.Index), 8)
		block.WriteBits(uint32(a.Type), 8)
		writeString(block, a.Name)
		writeAttributeValue(block, a)
	}
	blockBytes := block.Bytes()
	_ = w.WriteVLE(uint32(len(blockBytes)))
	writeRawBytes(w, blockBytes)
}

func (e *Encoder) RemoveComponents(entityId scene.EntityId, compIds []scene.ComponentId, reliable bool) {
	w := bitio.NewWriter()
	_ = w.WriteVLE(entityId.WireValue())
	writeComponentIds(w, compIds)
	e.emit(MsgRemoveComponents, w, reliable)
}

func (e *Encoder) CreateComponents(entityId scene.EntityId, comps []*scene.Component, reliable bool) {
	w := bitio.NewWriter()
	_ = w.WriteVLE(entityId.WireValue())
	_ = w.WriteVLE(uint32(len(comps)))
	for _, c := range comps {
		writeComponentFull(w, c)
	}
	e.emit(MsgCreateComponents, w, reliable)
}

func (e *Encoder) RemoveAttributes(entityId scene.EntityId, compId scene.ComponentId, attrIndices []uint8, reliable bool) {
	w := bitio.NewWriter()
	_ = w.WriteVLE(entityId.WireValue())
	_ = w.WriteVLE(compId.WireValue())
	writeAttrIndices(w, attrIndices)
	e.emit(MsgRemoveAttributes, w, reliable)
}

// CreateAttributes carries each new dynamic attribute's name, type and
// initial value, since the peer has no prior record of the index to fall
// back on.
func (e *Encoder) CreateAttributes(entityId scene.EntityId, compId scene.ComponentId, attrIndices []uint8, reliable bool) {
	w := bitio.NewWriter()
	_ = w.WriteVLE(entityId.WireValue())
	_ = w.WriteVLE(compId.WireValue())
	attrs := e.lookupAttrs(entityId, compId, attrIndices)
	_ = w.WriteVLE(uint32(len(attrs)))
	for _, a := range attrs {
		w.WriteBits(uint32(a.Index), 8)
		w.WriteBits(uint32(a.Type), 8)
		writeString(w, a.Name)
		writeAttributeValue(w, a)
	}
	e.emit(MsgCreateAttributes, w, reliable)
}

// EditAttributes carries each edited attribute's current value, using a
// fixed-size dirty bitmask when useBitmaskMethod is set (cheaper for
// components with many static attributes where a large fraction changed)
// or an explicit index list otherwise.
func (e *Encoder) EditAttributes(entityId scene.EntityId, compId scene.ComponentId, attrIndices []uint8, useBitmaskMethod bool, reliable bool) {
	w := bitio.NewWriter()
	_ = w.WriteVLE(entityId.WireValue())
	_ = w.WriteVLE(compId.WireValue())
	w.WriteBool(useBitmaskMethod)

	attrs := e.lookupAttrs(entityId, compId, attrIndices)

	if useBitmaskMethod {
		staticCount := 0
		if entity, ok := e.Scene.Entity(entityId); ok {
			if comp, ok := entity.Components[compId]; ok {
				staticCount = comp.NumStaticAttributes()
			}
		}
		w.WriteBits(uint32(staticCount), 8)
		dirty := make(map[uint8]bool, len(attrIndices))
		for _, idx := range attrIndices {
			dirty[idx] = true
		}
		for i := 0; i < staticCount; i++ {
			w.WriteBool(dirty[uint8(i)])
		}
	} else {
		writeAttrIndices(w, attrIndices)
	}

	for _, a := range attrs {
		writeAttributeValue(w, a)
	}
	e.emit(MsgEditAttributes, w, reliable)
}

func (e *Encoder) CreateEntity(id scene.EntityId, comps []*scene.Component, reliable bool) {
	w := bitio.NewWriter()
	_ = w.WriteVLE(id.WireValue())
	w.WriteBool(id.IsLocal())
	_ = w.WriteVLE(uint32(len(comps)))
	for _, c := range comps {
		writeComponentFull(w, c)
	}
	payload := compressCreateEntityPayload(w.Bytes())
	e.Emit(Frame{ID: MsgCreateEntity, Payload: payload, Reliable: reliable})
}

func (e *Encoder) RemoveEntity(id scene.EntityId, reliable bool) {
	w := bitio.NewWriter()
	_ = w.WriteVLE(id.WireValue())
	e.emit(MsgRemoveEntity, w, reliable)
}

func (e *Encoder) EditEntityProperties(id scene.EntityId, reliable bool) {
	w := bitio.NewWriter()
	_ = w.WriteVLE(id.WireValue())
	e.emit(MsgEditEntityProperties, w, reliable)
}

// SetEntityParent writes full 32-bit entity ids rather than the masked
// WireValue() used elsewhere: a parent can legitimately sit in a client's
// unacked id range, which WireValue's range-selector bits can't express.
// The scene id is prefixed so a receiver juggling more than one scene can
// resolve which one these raw ids belong to.
func (e *Encoder) SetEntityParent(id scene.EntityId, parentId scene.EntityId, reliable bool) {
	w := bitio.NewWriter()
	_ = w.WriteVLE(e.SceneId)
	w.WriteBits(uint32(id), 32)
	w.WriteBits(uint32(parentId), 32)
	e.emit(MsgSetEntityParent, w, reliable)
}

func (e *Encoder) EntityAction(a sy.QueuedAction) {
	w := bitio.NewWriter()
	_ = w.WriteVLE(a.EntityId.WireValue())
	writeString(w, a.Name)
	_ = w.WriteVLE(uint32(len(a.Params)))
	for _, p := range a.Params {
		writeString(w, p)
	}
	e.emit(MsgEntityAction, w, a.Reliable)
}

// RigidBodyUpdate queues a record into the pending batch rather than
// emitting it immediately: a reliable frame (a rest transition) always
// flushes its own solo message first, so it isn't held up behind whatever
// is accumulating; an unreliable frame is appended to the batch, flushing
// first if it wouldn't fit under rigidBodyBatchBitBudget.
func (e *Encoder) RigidBodyUpdate(entityId scene.EntityId, frame *sy.RigidBodyFrame, reliable bool) {
	if reliable {
		e.FlushRigidBodyUpdates()
		payload := EncodeRigidBodyUpdate(entityId, frame)
		e.Emit(Frame{ID: MsgRigidBodyUpdate, Payload: payload, Reliable: true})
		return
	}

	cost := recordBitLen(entityId, frame)
	if len(e.pendingRigidBody) > 0 && e.pendingRigidBodyBits+cost > rigidBodyBatchBitBudget {
		e.FlushRigidBodyUpdates()
	}
	e.pendingRigidBody = append(e.pendingRigidBody, RigidBodyRecord{EntityId: entityId, Frame: frame})
	e.pendingRigidBodyBits += cost
}

// FlushRigidBodyUpdates emits whatever rigid-body records have accumulated
// since the last flush as one batched RigidBodyUpdate message, and is a
// no-op if nothing is pending.
func (e *Encoder) FlushRigidBodyUpdates() {
	if len(e.pendingRigidBody) == 0 {
		return
	}
	payload := EncodeRigidBodyBatch(e.pendingRigidBody)
	e.Emit(Frame{ID: MsgRigidBodyUpdate, Payload: payload, Reliable: false})
	e.pendingRigidBody = nil
	e.pendingRigidBodyBits = 0
}

// RegisterComponentType announces a dynamically-registered placeholder
// component type descriptor to the peer.
func (e *Encoder) RegisterComponentType(desc scene.TypeDescriptor, reliable bool) {
	payload := EncodeRegisterComponentType(desc)
	e.Emit(Frame{ID: MsgRegisterComponentType, Payload: payload, Reliable: reliable})
}
