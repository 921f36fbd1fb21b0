package scene

import "github.com/originworld/scenesync/internal/vec"

// Transform is the value carried by a Placeable component's first
// attribute: position, orientation, and scale in world space.
type Transform struct {
	Pos   vec.Vec3Float
	Rot   vec.Quat
	Scale vec.Vec3Float
}

// RigidBody is the value carried by a RigidBody component: linear and
// angular velocity plus mass, used to decide whether an entity is
// "Newtonian" for interpolation/extrapolation purposes.
type RigidBody struct {
	LinearVelocity  vec.Vec3Float
	AngularVelocity vec.Vec3Float
	Mass            float64
}

// IsNewtonian reports whether this body should extrapolate motion between
// updates. Entities with no RigidBody component, or mass <= 0, are not.
func (rb *RigidBody) IsNewtonian() bool {
	return rb != nil && rb.Mass > 0
}

// PlaceableTypeId and RigidBodyTypeId are the well-known native component
// types the RigidBodyReplicator looks for on a dirty entity.
const (
	PlaceableTypeId TypeId = 1
	RigidBodyTypeId TypeId = 2
)

// TransformAttrIndex and velocity attribute indices follow the glossary's
// layout note: RigidBody's linear/angular velocity are attributes 5 and 6,
// occupying bits 5 and 6 of byte 1 of the dirty bitmap.
const (
	TransformAttrIndex       = 0
	LinearVelocityAttrIndex  = 5
	AngularVelocityAttrIndex = 6
	MassAttrIndex            = 7
)

// PlaceableAttributeSchema and RigidBodyAttributeSchema describe the
// static attribute layout of the two native component types this engine
// models, for a full-component-update decoder to reconstruct attribute
// index/type/name without a RegisterComponentType announcement (native
// types never send one — both peers compile the schema in).
var PlaceableAttributeSchema = []AttributeDescriptor{
	{Index: TransformAttrIndex, Type: AttrVector3, Name: "transform"},
}

var RigidBodyAttributeSchema = []AttributeDescriptor{
	{Index: LinearVelocityAttrIndex, Type: AttrVector3, Name: "linearvelocity"},
	{Index: AngularVelocityAttrIndex, Type: AttrVector3, Name: "angularvelocity"},
	{Index: MassAttrIndex, Type: AttrFloat, Name: "mass"},
}

// Placeable returns the entity's Placeable component and its decoded
// Transform, if present.
func (e *Entity) Placeable() (*Component, *Transform) {
	for _, c := range e.Components {
		if c.TypeId == PlaceableTypeId {
			if a := c.AttributeByIndex(TransformAttrIndex); a != nil {
				if t, ok := a.Value.(*Transform); ok {
					return c, t
				}
			}
			return c, nil
		}
	}
	return nil, nil
}

// RigidBody returns the entity's RigidBody component and its decoded
// velocity state, if present.
func (e *Entity) RigidBody() (*Component, *RigidBody) {
	for _, c := range e.Components {
		if c.TypeId == RigidBodyTypeId {
			rb := &RigidBody{}
			if a := c.AttributeByIndex(LinearVelocityAttrIndex); a != nil {
				if v, ok := a.Value.(vec.Vec3Float); ok {
					rb.LinearVelocity = v
				}
			}
			if a := c.AttributeByIndex(AngularVelocityAttrIndex); a != nil {
				if v, ok := a.Value.(vec.Vec3Float); ok {
					rb.AngularVelocity = v
				}
			}
			if a := c.AttributeByIndex(7); a != nil {
				if m, ok := a.Value.(float64); ok {
					rb.Mass = m
				}
			}
			return c, rb
		}
	}
	return nil, nil
}
