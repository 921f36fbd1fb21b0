package sync

import (
	"github.com/originworld/scenesync/internal/scene"
)

// The Inbound* types are the decode results internal/wire produces for the
// ten generic-delta messages a peer may send in either direction (spec §6's
// "both" column); the SyncManager Apply* methods in apply.go consume them to mutate the scene on
// this connection's behalf. They live here rather than in internal/wire
// because internal/wire already imports this package for MessageSink and
// RigidBodyFrame, and a decode result built from these types is what lets
// the apply step stay free of any wire-codec dependency.

// InboundCreateEntity is a decoded CreateEntity frame. WireId is the
// sender's own handle, not yet resolved to a range: a server applying it
// treats it as a client's unacked proposal; a client applying it (e.g. a
// relay) treats it as already final.
type InboundCreateEntity struct {
	WireId     uint32
	Local      bool
	Components []*scene.Component
}

// InboundCreateComponents is a decoded CreateComponents frame, adding new
// components to an entity the receiver already knows about.
type InboundCreateComponents struct {
	EntityId   uint32
	Components []*scene.Component
}

// InboundCreateAttributes is a decoded CreateAttributes frame.
type InboundCreateAttributes struct {
	EntityId    uint32
	ComponentId uint32
	Attributes  []*scene.Attribute
}

// InboundAttributeValue is one attribute's raw encoded value inside an
// EditAttributes frame, paired with its index; the attribute's declared
// type (needed to decode the value) is resolved against the existing
// component once the apply step looks it up, so the wire decoder doesn't
// need a registry for this message.
type InboundAttributeValue struct {
	Index uint8
	Raw   []byte
}

// InboundEditAttributes is a decoded EditAttributes frame.
type InboundEditAttributes struct {
	EntityId    uint32
	ComponentId uint32
	Values      []*InboundAttributeValue
}

// InboundRemoveAttributes is a decoded RemoveAttributes frame.
type InboundRemoveAttributes struct {
	EntityId    uint32
	ComponentId uint32
	Indices     []uint8
}

// InboundRemoveComponents is a decoded RemoveComponents frame.
type InboundRemoveComponents struct {
	EntityId     uint32
	ComponentIds []uint32
}

// InboundRemoveEntity is a decoded RemoveEntity frame.
type InboundRemoveEntity struct {
	EntityId uint32
}

// InboundEditEntityProperties is a decoded EditEntityProperties frame.
type InboundEditEntityProperties struct {
	EntityId uint32
}

// InboundSetEntityParent is a decoded SetEntityParent frame. EntityId and
// ParentId carry their full range-selector bits, unlike the other inbound
// messages, so a parent still in the sender's unacked range is resolvable.
type InboundSetEntityParent struct {
	SceneId  uint32
	EntityId scene.EntityId
	ParentId scene.EntityId
}

// InboundEntityAction is a decoded EntityAction frame.
type InboundEntityAction struct {
	EntityId uint32
	Name     string
	Params   []string
}

// ReconciledId pairs a client's unacked-range id with the real id the
// server assigned it, the payload of CreateEntityReply/CreateComponentsReply.
type ReconciledId struct {
	Unacked uint32
	Real    uint32
}
