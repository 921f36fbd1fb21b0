// Package scene defines the entity/component/attribute data model that the
// sync engine replicates, and the narrow SceneAPI boundary through which it
// reads and mutates the scene container (an external collaborator whose
// storage and change-notification implementation is out of scope here).
package scene

import "fmt"

// EntityId is a 32-bit replicated scene object identifier. The top two
// bits select its range (replicated|unacked|local); LastReplicatedID masks
// them off before wire encoding.
type EntityId uint32

// ComponentId is unique within its owning entity, same range scheme as EntityId.
type ComponentId uint32

// TypeId identifies a component's registered type.
type TypeId uint32

const (
	idRangeShift = 30
	idRangeMask  = uint32(0x3) << idRangeShift

	// LastReplicatedID masks off the range-selector bits, leaving the
	// low 30-bit value that actually crosses the wire.
	LastReplicatedID = uint32(1)<<idRangeShift - 1
)

// IdRange enumerates which of the three id spaces a raw id value falls into.
type IdRange int

const (
	RangeReplicated IdRange = iota
	RangeUnacked
	RangeLocal
)

func rangeTag(r IdRange) uint32 {
	return uint32(r) << idRangeShift
}

// MakeUnackedEntityId builds an entity id in the unacked range with the
// given low-30-bit value, as used by client-originated creates before the
// server assigns a final id.
func MakeUnackedEntityId(value uint32) EntityId {
	return EntityId(rangeTag(RangeUnacked) | (value & LastReplicatedID))
}

func MakeLocalEntityId(value uint32) EntityId {
	return EntityId(rangeTag(RangeLocal) | (value & LastReplicatedID))
}

func MakeUnackedComponentId(value uint32) ComponentId {
	return ComponentId(rangeTag(RangeUnacked) | (value & LastReplicatedID))
}

// Range reports which id space id falls in.
func (id EntityId) Range() IdRange {
	return IdRange(uint32(id) >> idRangeShift)
}

func (id ComponentId) Range() IdRange {
	return IdRange(uint32(id) >> idRangeShift)
}

// WireValue returns the low 30 bits of id, the value actually serialized.
func (id EntityId) WireValue() uint32 { return uint32(id) & LastReplicatedID }
func (id ComponentId) WireValue() uint32 { return uint32(id) & LastReplicatedID }

func (id EntityId) IsLocal() bool    { return id.Range() == RangeLocal }
func (id EntityId) IsUnacked() bool  { return id.Range() == RangeUnacked }
func (id ComponentId) IsUnacked() bool { return id.Range() == RangeUnacked }

func (id EntityId) String() string {
	switch id.Range() {
	case RangeUnacked:
		return fmt.Sprintf("unacked:%d", id.WireValue())
	case RangeLocal:
		return fmt.Sprintf("local:%d", id.WireValue())
	default:
		return fmt.Sprintf("%d", id.WireValue())
	}
}

// AttributeType tags the binary representation of an attribute's value.
// Exhaustively matched everywhere a value crosses the wire, rather than
// leaning on per-type template specializations the way the original
// engine's generated serializers did.
type AttributeType int

const (
	AttrBool AttributeType = iota
	AttrInt
	AttrFloat
	AttrString
	AttrVector3
	AttrQuaternion
	AttrColor
	AttrAssetRef
)

// Interpolation controls whether the Interpolator treats an attribute's
// changes as a motion curve (only ever true for Placeable's transform and
// RigidBody's velocity attributes in practice).
type Interpolation int

const (
	InterpolationNone Interpolation = iota
	InterpolationEnabled
)

// AttributeMetadata carries the one replication-relevant field the spec
// names; richer UI/editor metadata is an external collaborator's concern.
type AttributeMetadata struct {
	Interpolation Interpolation
}

// Attribute is a typed, indexed, (de)serializable cell inside a Component.
type Attribute struct {
	Index    uint8
	Name     string
	Type     AttributeType
	Meta     AttributeMetadata
	Value    interface{}
	IsStatic bool // false for dynamic (appended) attributes
}

// ComponentFlags mirrors the {local, replicated, unacked, supports-dynamic}
// flag set an entity's components carry.
type ComponentFlags struct {
	Local                   bool
	Unacked                 bool
	SupportsDynamicAttributes bool
}

// Component is identified by ComponentId, unique within its owning entity.
type Component struct {
	Id         ComponentId
	TypeId     TypeId
	Name       string
	Flags      ComponentFlags
	Attributes []*Attribute // static attributes occupy fixed low indices
}

// AttributeByIndex finds an attribute by its wire index, static or dynamic.
func (c *Component) AttributeByIndex(index uint8) *Attribute {
	for _, a := range c.Attributes {
		if a.Index == index {
			return a
		}
	}
	return nil
}

func (c *Component) NumStaticAttributes() int {
	n := 0
	for _, a := range c.Attributes {
		if a.IsStatic {
			n++
		}
	}
	return n
}

// EntityFlags mirrors the {local, temporary, unacked} flag set.
type EntityFlags struct {
	Local     bool
	Temporary bool
	Unacked   bool
}

// Entity is a replicated scene object: an id, flags, optional parent, and
// an ordered mapping from ComponentId to Component.
type Entity struct {
	Id         EntityId
	Flags      EntityFlags
	ParentId   *EntityId
	Components map[ComponentId]*Component
	// order preserves component insertion order for deterministic full updates.
	order []ComponentId
}

func NewEntity(id EntityId) *Entity {
	return &Entity{Id: id, Components: make(map[ComponentId]*Component)}
}

func (e *Entity) AddComponent(c *Component) {
	if _, exists := e.Components[c.Id]; !exists {
		e.order = append(e.order, c.Id)
	}
	e.Components[c.Id] = c
}

func (e *Entity) RemoveComponent(id ComponentId) {
	if _, ok := e.Components[id]; !ok {
		return
	}
	delete(e.Components, id)
	for i, cid := range e.order {
		if cid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// OrderedComponents returns components in stable insertion order, the
// order the full-update layout and RemoveComponents records are written in.
func (e *Entity) OrderedComponents() []*Component {
	out := make([]*Component, 0, len(e.order))
	for _, id := range e.order {
		if c, ok := e.Components[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (e *Entity) IsReplicable() bool {
	return !e.Flags.Local
}

// ChangeOrigin tags the provenance of a scene mutation so inbound-applied
// changes don't round-trip back out as outbound deltas.
type ChangeOrigin int

const (
	ChangeLocal ChangeOrigin = iota
	ChangeReplicate
	ChangeLocalOnly
	ChangeDisconnected
)

// API is the narrow interface this engine requires of the scene container:
// mutation, attribute storage, and change-notification signals are expected
// to be implemented by whatever concrete scene container is plugged in.
type API interface {
	Entity(id EntityId) (*Entity, bool)
	Entities() []*Entity
	CreateEntity(id EntityId, origin ChangeOrigin) *Entity
	RemoveEntity(id EntityId, origin ChangeOrigin)
	ChangeEntityId(old, new EntityId)
	ChangeComponentId(entity EntityId, old, new ComponentId)
}
