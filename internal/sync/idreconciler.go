package sync

import "github.com/originworld/scenesync/internal/scene"

// IdReconciler rewrites a connection's view of unacked entity/component ids
// once the authoritative ids are known. A client creates entities and
// components in its own "unacked" id range optimistically;
// when the server's CreateEntityReply/CreateComponentsReply arrives, every
// subsequent reference to the unacked id must transparently become a
// reference to the real one.
type IdReconciler struct {
	state *SceneSyncState
}

func NewIdReconciler(state *SceneSyncState) *IdReconciler {
	return &IdReconciler{state: state}
}

// ReconcileEntity records that unackedId now maps to realId, rewrites the
// entity's sync state under the new id, and marks every one of its
// components dirty so the next flush re-sends full state rather than
// assuming the peer already has it under the id it just learned about.
func (r *IdReconciler) ReconcileEntity(scn scene.API, unackedId, realId scene.EntityId) {
	r.state.mu.Lock()
	es, ok := r.state.Entities[unackedId]
	if ok {
		delete(r.state.Entities, unackedId)
		es.Id = realId
		r.state.Entities[realId] = es
		r.rewriteQueueLocked(unackedId, realId)
	}
	r.state.UnackedIdsToRealIds[unackedId] = realId
	r.state.mu.Unlock()

	scn.ChangeEntityId(unackedId, realId)

	if es == nil {
		return
	}
	for compId, cs := range es.Components {
		_ = compId
		cs.IsNew = true
		for i := range cs.DirtyAttributes {
			cs.DirtyAttributes[i] = true
		}
	}
	r.state.MarkEntityDirty(realId, true, false)
}

// ReconcileComponent is the component-level counterpart, used when an
// entity id was already real (server-created) but one of its locally
// added components was still pending acknowledgement.
func (r *IdReconciler) ReconcileComponent(scn scene.API, entityId scene.EntityId, unackedCompId, realCompId scene.ComponentId) {
	r.state.mu.Lock()
	es, ok := r.state.Entities[entityId]
	var cs *ComponentSyncState
	if ok {
		if existing, found := es.Components[unackedCompId]; found {
			delete(es.Components, unackedCompId)
			existing.Id = realCompId
			es.Components[realCompId] = existing
			cs = existing
			for i, id := range es.DirtyQueueOfComponents {
				if id == unackedCompId {
					es.DirtyQueueOfComponents[i] = realCompId
				}
			}
		}
	}
	r.state.mu.Unlock()

	scn.ChangeComponentId(entityId, unackedCompId, realCompId)

	if cs == nil {
		return
	}
	cs.IsNew = true
	for i := range cs.DirtyAttributes {
		cs.DirtyAttributes[i] = true
	}
	r.state.MarkComponentDirty(entityId, realCompId)
}

// RewriteOutgoingReference translates an id the peer may still know only
// under its unacked form, for messages queued before the reconciliation
// arrived.
func (r *IdReconciler) RewriteOutgoingReference(id scene.EntityId) scene.EntityId {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	if real, ok := r.state.UnackedIdsToRealIds[id]; ok {
		return real
	}
	return id
}

func (r *IdReconciler) rewriteQueueLocked(oldId, newId scene.EntityId) {
	for i, eid := range r.state.DirtyQueue {
		if eid == oldId {
			r.state.DirtyQueue[i] = newId
			break
		}
	}
}
