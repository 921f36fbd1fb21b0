package sync

import (
	"fmt"

	"github.com/originworld/scenesync/internal/scene"
)

// CreateEntityResult is what the wire layer needs to build a
// CreateEntityReply once ApplyCreateEntity has allocated real ids for a
// client's speculative, non-local create.
type CreateEntityResult struct {
	UnackedEntityId uint32
	RealEntityId    uint32
	Components      []ReconciledId
}

// CreateComponentsResult is the CreateComponentsReply counterpart, for
// components added to an already-acknowledged entity.
type CreateComponentsResult struct {
	EntityId   uint32
	Components []ReconciledId
}

// attachComponents adds comps to entity as-is, used for Local creates that
// never get a wire-reconciliation reply: the ids the client proposed are
// final as soon as they're accepted.
func attachComponents(entity *scene.Entity, comps []*scene.Component) {
	for _, c := range comps {
		entity.AddComponent(c)
	}
}

// attachComponentsReconciled allocates a fresh real id for every component,
// rewriting each *scene.Component in place before attaching it, and returns
// the unacked/real pairs the caller replies with.
func (m *SyncManager) attachComponentsReconciled(entity *scene.Entity, comps []*scene.Component) []ReconciledId {
	out := make([]ReconciledId, 0, len(comps))
	for _, c := range comps {
		unackedWire := c.Id.WireValue()
		c.Id = m.allocComponentId()
		entity.AddComponent(c)
		out = append(out, ReconciledId{Unacked: unackedWire, Real: c.Id.WireValue()})
	}
	return out
}

// ApplyCreateEntity handles an inbound CreateEntity: a Local create is
// accepted under the id the client proposed (removing any colliding
// existing Local entity first, per IdCollisionError's recovery contract);
// any other create always gets a freshly allocated real id, with the
// unacked/real pairing recorded so subsequent messages from this connection
// referencing the unacked id resolve correctly, and a CreateEntityResult
// for the caller to reply with.
func (m *SyncManager) ApplyCreateEntity(connID string, in *InboundCreateEntity) (*CreateEntityResult, error) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return nil, fmt.Errorf("unknown connection %q", connID)
	}

	if in.Local {
		id := scene.MakeLocalEntityId(in.WireId)
		var collisionErr error
		if _, exists := m.scene.Entity(id); exists {
			collisionErr = &IdCollisionError{ID: in.WireId}
			m.scene.RemoveEntity(id, scene.ChangeLocalOnly)
		}
		entity := m.scene.CreateEntity(id, scene.ChangeDisconnected)
		attachComponents(entity, in.Components)
		m.relayExcept(connID, func(s *SceneSyncState) {
			s.MarkEntityNew(id)
			for _, c := range entity.OrderedComponents() {
				s.MarkComponentNew(id, c.Id)
			}
		})
		return nil, collisionErr
	}

	realId := m.allocEntityId()
	entity := m.scene.CreateEntity(realId, scene.ChangeDisconnected)
	compIds := m.attachComponentsReconciled(entity, in.Components)
	conn.State.UnackedIdsToRealIds[scene.MakeUnackedEntityId(in.WireId)] = realId

	m.relayExcept(connID, func(s *SceneSyncState) {
		s.MarkEntityNew(realId)
		for _, c := range entity.OrderedComponents() {
			s.MarkComponentNew(realId, c.Id)
		}
	})

	return &CreateEntityResult{
		UnackedEntityId: in.WireId,
		RealEntityId:    realId.WireValue(),
		Components:      compIds,
	}, nil
}

// ApplyCreateComponents handles an inbound CreateComponents: components
// added to an already-known entity always get freshly allocated real ids,
// replied via CreateComponentsResult.
func (m *SyncManager) ApplyCreateComponents(connID string, in *InboundCreateComponents) (*CreateComponentsResult, error) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return nil, fmt.Errorf("unknown connection %q", connID)
	}

	entityId := conn.resolveWireEntityId(in.EntityId)
	entity, ok := m.scene.Entity(entityId)
	if !ok {
		return nil, &UnknownReferenceError{Kind: "entity", ID: in.EntityId}
	}
	if err := m.checkPolicy(connID, entityId); err != nil {
		return nil, err
	}

	compIds := m.attachComponentsReconciled(entity, in.Components)
	m.relayExcept(connID, func(s *SceneSyncState) {
		for _, c := range entity.OrderedComponents() {
			for _, r := range compIds {
				if c.Id.WireValue() == r.Real {
					s.MarkComponentNew(entityId, c.Id)
				}
			}
		}
	})

	return &CreateComponentsResult{EntityId: entityId.WireValue(), Components: compIds}, nil
}

// ApplyCreateAttributes handles an inbound CreateAttributes, appending each
// new dynamic attribute to the target component.
func (m *SyncManager) ApplyCreateAttributes(connID string, in *InboundCreateAttributes) error {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return fmt.Errorf("unknown connection %q", connID)
	}

	entityId := conn.resolveWireEntityId(in.EntityId)
	entity, ok := m.scene.Entity(entityId)
	if !ok {
		return &UnknownReferenceError{Kind: "entity", ID: in.EntityId}
	}
	if err := m.checkPolicy(connID, entityId); err != nil {
		return err
	}
	comp, ok := entity.Components[scene.ComponentId(in.ComponentId)]
	if !ok {
		return &UnknownReferenceError{Kind: "component", ID: in.ComponentId}
	}

	comp.Attributes = append(comp.Attributes, in.Attributes...)

	m.relayExcept(connID, func(s *SceneSyncState) {
		for _, a := range in.Attributes {
			s.MarkAttributeCreated(entityId, comp.Id, a.Index)
		}
	})
	return nil
}

// ApplyEditAttributes handles an inbound EditAttributes, decoding each raw
// value against the target attribute's existing declared type (native
// Placeable/RigidBody slots are special-cased the same way the wire decoder
// special-cases them) and skipping any index the component doesn't
// recognize rather than discarding the whole frame.
func (m *SyncManager) ApplyEditAttributes(connID string, in *InboundEditAttributes) error {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return fmt.Errorf("unknown connection %q", connID)
	}

	entityId := conn.resolveWireEntityId(in.EntityId)
	entity, ok := m.scene.Entity(entityId)
	if !ok {
		return &UnknownReferenceError{Kind: "entity", ID: in.EntityId}
	}
	if err := m.checkPolicy(connID, entityId); err != nil {
		return err
	}
	comp, ok := entity.Components[scene.ComponentId(in.ComponentId)]
	if !ok {
		return &UnknownReferenceError{Kind: "component", ID: in.ComponentId}
	}

	var firstErr error
	for _, v := range in.Values {
		attr := comp.AttributeByIndex(v.Index)
		if attr == nil {
			if firstErr == nil {
				firstErr = &UnknownReferenceError{Kind: "attribute", ID: uint32(v.Index)}
			}
			continue
		}

		var (
			value interface{}
			err   error
		)
		if nv, handled, nerr := scene.DecodeNativeAttributeValue(comp.TypeId, v.Index, v.Raw); handled {
			value, err = nv, nerr
		} else {
			value, err = scene.DecodeAttributeValue(attr.Type, v.Raw)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		attr.Value = value
		idx := v.Index
		m.relayExcept(connID, func(s *SceneSyncState) {
			s.MarkAttributeDirty(entityId, comp.Id, idx)
		})
	}
	return firstErr
}

// removeAttributeByIndex deletes the attribute at idx from comp's slice, if
// present, reporting whether it found one to remove.
func removeAttributeByIndex(comp *scene.Component, idx uint8) bool {
	for i, a := range comp.Attributes {
		if a.Index == idx {
			comp.Attributes = append(comp.Attributes[:i], comp.Attributes[i+1:]...)
			return true
		}
	}
	return false
}

// ApplyRemoveAttributes handles an inbound RemoveAttributes.
func (m *SyncManager) ApplyRemoveAttributes(connID string, in *InboundRemoveAttributes) error {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return fmt.Errorf("unknown connection %q", connID)
	}

	entityId := conn.resolveWireEntityId(in.EntityId)
	entity, ok := m.scene.Entity(entityId)
	if !ok {
		return &UnknownReferenceError{Kind: "entity", ID: in.EntityId}
	}
	if err := m.checkPolicy(connID, entityId); err != nil {
		return err
	}
	comp, ok := entity.Components[scene.ComponentId(in.ComponentId)]
	if !ok {
		return &UnknownReferenceError{Kind: "component", ID: in.ComponentId}
	}

	var firstErr error
	for _, idx := range in.Indices {
		if !removeAttributeByIndex(comp, idx) {
			if firstErr == nil {
				firstErr = &UnknownReferenceError{Kind: "attribute", ID: uint32(idx)}
			}
			continue
		}
		index := idx
		m.relayExcept(connID, func(s *SceneSyncState) {
			s.MarkAttributeRemoved(entityId, comp.Id, index)
		})
	}
	return firstErr
}

// ApplyRemoveComponents handles an inbound RemoveComponents.
func (m *SyncManager) ApplyRemoveComponents(connID string, in *InboundRemoveComponents) error {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return fmt.Errorf("unknown connection %q", connID)
	}

	entityId := conn.resolveWireEntityId(in.EntityId)
	entity, ok := m.scene.Entity(entityId)
	if !ok {
		return &UnknownReferenceError{Kind: "entity", ID: in.EntityId}
	}
	if err := m.checkPolicy(connID, entityId); err != nil {
		return err
	}

	var firstErr error
	for _, raw := range in.ComponentIds {
		compId := scene.ComponentId(raw)
		if _, ok := entity.Components[compId]; !ok {
			if firstErr == nil {
				firstErr = &UnknownReferenceError{Kind: "component", ID: raw}
			}
			continue
		}
		entity.RemoveComponent(compId)
		m.relayExcept(connID, func(s *SceneSyncState) {
			s.MarkComponentRemoved(entityId, compId)
		})
	}
	return firstErr
}

// ApplyRemoveEntity handles an inbound RemoveEntity.
func (m *SyncManager) ApplyRemoveEntity(connID string, in *InboundRemoveEntity) error {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return fmt.Errorf("unknown connection %q", connID)
	}

	entityId := conn.resolveWireEntityId(in.EntityId)
	if _, ok := m.scene.Entity(entityId); !ok {
		return &UnknownReferenceError{Kind: "entity", ID: in.EntityId}
	}
	if err := m.checkPolicy(connID, entityId); err != nil {
		return err
	}

	m.scene.RemoveEntity(entityId, scene.ChangeDisconnected)
	m.relayExcept(connID, func(s *SceneSyncState) {
		s.MarkEntityRemoved(entityId)
	})
	return nil
}

// ApplyEditEntityProperties handles an inbound EditEntityProperties. This
// engine doesn't model entity properties beyond id, so there is nothing to
// mutate — the notification is simply relayed.
func (m *SyncManager) ApplyEditEntityProperties(connID string, in *InboundEditEntityProperties) error {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return fmt.Errorf("unknown connection %q", connID)
	}

	entityId := conn.resolveWireEntityId(in.EntityId)
	if _, ok := m.scene.Entity(entityId); !ok {
		return &UnknownReferenceError{Kind: "entity", ID: in.EntityId}
	}
	if err := m.checkPolicy(connID, entityId); err != nil {
		return err
	}

	m.relayExcept(connID, func(s *SceneSyncState) {
		s.MarkEntityDirty(entityId, true, false)
	})
	return nil
}

// ApplySetEntityParent handles an inbound SetEntityParent. Unlike the other
// generic-delta messages, EntityId/ParentId already carry their full
// range-selector bits, so a parent still in this connection's unacked
// range resolves without ambiguity.
func (m *SyncManager) ApplySetEntityParent(connID string, in *InboundSetEntityParent) error {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return fmt.Errorf("unknown connection %q", connID)
	}

	entityId := conn.resolveFullEntityId(in.EntityId)
	entity, ok := m.scene.Entity(entityId)
	if !ok {
		return &UnknownReferenceError{Kind: "entity", ID: uint32(in.EntityId)}
	}
	if err := m.checkPolicy(connID, entityId); err != nil {
		return err
	}

	parentId := conn.resolveFullEntityId(in.ParentId)
	if parentId != 0 {
		if _, ok := m.scene.Entity(parentId); !ok {
			return &UnknownReferenceError{Kind: "entity", ID: uint32(in.ParentId)}
		}
		entity.ParentId = &parentId
	} else {
		entity.ParentId = nil
	}

	m.relayExcept(connID, func(s *SceneSyncState) {
		s.MarkEntityDirty(entityId, false, true)
	})
	return nil
}

// ApplyEntityAction handles an inbound EntityAction by queueing it onto
// every other connection's flush, unconditionally bypassing interest
// management per the queued-action contract in flush.go.
func (m *SyncManager) ApplyEntityAction(connID string, in *InboundEntityAction) error {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	conn, ok := m.connections[connID]
	if !ok {
		return fmt.Errorf("unknown connection %q", connID)
	}

	entityId := conn.resolveWireEntityId(in.EntityId)
	action := QueuedAction{EntityId: entityId, Name: in.Name, Params: in.Params, Reliable: true}
	m.relayExcept(connID, func(s *SceneSyncState) {
		s.EnqueueAction(action)
	})
	return nil
}
