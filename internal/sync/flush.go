package sync

import (
	"sort"

	"github.com/originworld/scenesync/internal/scene"
)

// MessageSink receives the ordered stream of wire-level operations the
// flush algorithm decides to emit. internal/wire's connection writer
// implements this against the bitio codecs; tests can implement it against
// a plain recorder.
type MessageSink interface {
	RemoveComponents(entityId scene.EntityId, compIds []scene.ComponentId, reliable bool)
	CreateComponents(entityId scene.EntityId, comps []*scene.Component, reliable bool)
	RemoveAttributes(entityId scene.EntityId, compId scene.ComponentId, attrIndices []uint8, reliable bool)
	CreateAttributes(entityId scene.EntityId, compId scene.ComponentId, attrIndices []uint8, reliable bool)
	EditAttributes(entityId scene.EntityId, compId scene.ComponentId, attrIndices []uint8, useBitmaskMethod bool, reliable bool)
	CreateEntity(id scene.EntityId, comps []*scene.Component, reliable bool)
	RemoveEntity(id scene.EntityId, reliable bool)
	EditEntityProperties(id scene.EntityId, reliable bool)
	SetEntityParent(id scene.EntityId, parentId scene.EntityId, reliable bool)
	EntityAction(a QueuedAction)

	// RigidBodyUpdate carries a rigid-body frame outside the normal
	// dirty-attribute flush, on its own throttled cadence.
	RigidBodyUpdate(entityId scene.EntityId, frame *RigidBodyFrame, reliable bool)

	// FlushRigidBodyUpdates forces out any batched-but-unsent rigid-body
	// records, called once per connection at the end of a tick's
	// detection pass.
	FlushRigidBodyUpdates()

	// RegisterComponentType announces a dynamically-registered placeholder
	// component type to a peer that understands custom components.
	RegisterComponentType(desc scene.TypeDescriptor, reliable bool)
}

// Flush runs process_sync_state for one connection's SceneSyncState against
// the given scene, emitting into sink entity by entity in dirty-queue order.
// A removed entity emits only RemoveEntity and a new entity only
// CreateEntity. Otherwise each dirty component, in the entity's component
// dirty-queue order, emits RemoveComponents if removed, CreateComponents if
// new, or else RemoveAttributes / CreateAttributes / EditAttributes; then
// come entity-level property and parent changes. Messages are emitted per
// component as they are reached; they are not grouped by kind across an
// entity's components, so a creation can precede a later component's
// removal. Queued actions flush last, unconditionally, bypassing interest
// management.
func Flush(state *SceneSyncState, scn scene.API, sink MessageSink, caps CapabilitySet, reliable bool) {
	state.mu.Lock()
	queue := make([]scene.EntityId, len(state.DirtyQueue))
	copy(queue, state.DirtyQueue)
	state.mu.Unlock()

	for _, id := range queue {
		flushEntity(state, scn, sink, caps, id, reliable)
	}

	for _, a := range state.drainActions() {
		sink.EntityAction(a)
	}
}

func flushEntity(state *SceneSyncState, scn scene.API, sink MessageSink, caps CapabilitySet, id scene.EntityId, reliable bool) {
	state.mu.Lock()
	es, ok := state.Entities[id]
	state.mu.Unlock()
	if !ok {
		return
	}

	if es.Removed {
		sink.RemoveEntity(id, true) // entity removal is always reliable
		state.MarkEntityProcessed(id)
		return
	}

	entity, exists := scn.Entity(id)
	if !exists {
		// Entity vanished from the scene without a RemoveEntity signal
		// reaching this state (shouldn't happen in the single-goroutine
		// model, but don't let the queue wedge on it).
		state.MarkEntityProcessed(id)
		return
	}

	if es.IsNew {
		sink.CreateEntity(id, entity.OrderedComponents(), reliable)
		state.MarkEntityProcessed(id)
		return
	}

	components := sortedComponentQueue(es)
	for _, compId := range components {
		flushComponent(state, entity, sink, id, compId, reliable)
	}

	if es.HasPropertyChanges {
		sink.EditEntityProperties(id, reliable)
	}
	if es.HasParentChange && caps.Has(CapHierarchicScene) {
		parentId := scene.EntityId(0)
		if entity.ParentId != nil {
			parentId = *entity.ParentId
		}
		sink.SetEntityParent(id, parentId, reliable)
	}

	state.MarkEntityProcessed(id)
}

func flushComponent(state *SceneSyncState, entity *scene.Entity, sink MessageSink, entityId scene.EntityId, compId scene.ComponentId, reliable bool) {
	state.mu.Lock()
	es := state.Entities[entityId]
	cs, ok := es.Components[compId]
	state.mu.Unlock()
	if !ok {
		return
	}

	if cs.Removed {
		sink.RemoveComponents(entityId, []scene.ComponentId{compId}, reliable)
		state.MarkComponentProcessed(entityId, compId)
		return
	}

	if cs.IsNew {
		comp, exists := entity.Components[compId]
		if exists {
			sink.CreateComponents(entityId, []*scene.Component{comp}, reliable)
		}
		state.MarkComponentProcessed(entityId, compId)
		return
	}

	var removedAttrs, createdAttrs []uint8
	for idx, kind := range cs.NewAndRemovedAttributes {
		if kind == AttrRemoved {
			removedAttrs = append(removedAttrs, idx)
		} else {
			createdAttrs = append(createdAttrs, idx)
		}
	}
	sort.Slice(removedAttrs, func(i, j int) bool { return removedAttrs[i] < removedAttrs[j] })
	sort.Slice(createdAttrs, func(i, j int) bool { return createdAttrs[i] < createdAttrs[j] })

	if len(removedAttrs) > 0 {
		sink.RemoveAttributes(entityId, compId, removedAttrs, reliable)
	}
	if len(createdAttrs) > 0 {
		sink.CreateAttributes(entityId, compId, createdAttrs, reliable)
	}

	var editedAttrs []uint8
	for i, dirty := range cs.DirtyAttributes {
		if !dirty {
			continue
		}
		idx := uint8(i)
		if _, justHandled := cs.NewAndRemovedAttributes[idx]; justHandled {
			continue
		}
		editedAttrs = append(editedAttrs, idx)
	}
	if len(editedAttrs) > 0 {
		staticCount := 0
		if comp, exists := entity.Components[compId]; exists {
			staticCount = comp.NumStaticAttributes()
		}
		// A per-attribute index list costs ~8 bits per edited attribute; a
		// fixed bitmask costs one bit per static attribute regardless of
		// how many changed. Use whichever is cheaper for this edit.
		useBitmask := staticCount > 0 && staticCount < 8*len(editedAttrs)
		sink.EditAttributes(entityId, compId, editedAttrs, useBitmask, reliable)
	}

	state.MarkComponentProcessed(entityId, compId)
}

func sortedComponentQueue(es *EntitySyncState) []scene.ComponentId {
	out := make([]scene.ComponentId, len(es.DirtyQueueOfComponents))
	copy(out, es.DirtyQueueOfComponents)
	return out
}
