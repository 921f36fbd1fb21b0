package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originworld/scenesync/internal/scene"
)

type recordedCall struct {
	kind string
}

type recordingSink struct {
	calls []recordedCall
}

func (s *recordingSink) record(kind string) { s.calls = append(s.calls, recordedCall{kind: kind}) }

func (s *recordingSink) RemoveComponents(entityId scene.EntityId, compIds []scene.ComponentId, reliable bool) {
	s.record("RemoveComponents")
}
func (s *recordingSink) CreateComponents(entityId scene.EntityId, comps []*scene.Component, reliable bool) {
	s.record("CreateComponents")
}
func (s *recordingSink) RemoveAttributes(entityId scene.EntityId, compId scene.ComponentId, attrIndices []uint8, reliable bool) {
	s.record("RemoveAttributes")
}
func (s *recordingSink) CreateAttributes(entityId scene.EntityId, compId scene.ComponentId, attrIndices []uint8, reliable bool) {
	s.record("CreateAttributes")
}
func (s *recordingSink) EditAttributes(entityId scene.EntityId, compId scene.ComponentId, attrIndices []uint8, useBitmaskMethod bool, reliable bool) {
	s.record("EditAttributes")
}
func (s *recordingSink) CreateEntity(id scene.EntityId, comps []*scene.Component, reliable bool) {
	s.record("CreateEntity")
}
func (s *recordingSink) RemoveEntity(id scene.EntityId, reliable bool) { s.record("RemoveEntity") }
func (s *recordingSink) EditEntityProperties(id scene.EntityId, reliable bool) {
	s.record("EditEntityProperties")
}
func (s *recordingSink) SetEntityParent(id scene.EntityId, parentId scene.EntityId, reliable bool) {
	s.record("SetEntityParent")
}
func (s *recordingSink) EntityAction(a QueuedAction) { s.record("EntityAction") }
func (s *recordingSink) RigidBodyUpdate(entityId scene.EntityId, frame *RigidBodyFrame, reliable bool) {
	s.record("RigidBodyUpdate")
}
func (s *recordingSink) FlushRigidBodyUpdates() { s.record("FlushRigidBodyUpdates") }
func (s *recordingSink) RegisterComponentType(desc scene.TypeDescriptor, reliable bool) {
	s.record("RegisterComponentType")
}

func kindsOf(calls []recordedCall) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.kind
	}
	return out
}

func TestFlushNewEntityEmitsCreateEntityOnly(t *testing.T) {
	scn := scene.NewMemoryScene()
	e := scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)
	e.AddComponent(&scene.Component{Id: scene.ComponentId(1), TypeId: scene.PlaceableTypeId})

	state := NewSceneSyncState()
	state.MarkEntityNew(scene.EntityId(1))

	sink := &recordingSink{}
	Flush(state, scn, sink, FullCapabilitySet(), false)

	assert.Equal(t, []string{"CreateEntity"}, kindsOf(sink.calls))
	assert.Empty(t, state.DirtyQueue)
}

func TestFlushRemovedEntityEmitsRemoveEntityOnly(t *testing.T) {
	scn := scene.NewMemoryScene()
	scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)

	state := NewSceneSyncState()
	state.MarkEntityRemoved(scene.EntityId(1))

	sink := &recordingSink{}
	Flush(state, scn, sink, FullCapabilitySet(), false)

	assert.Equal(t, []string{"RemoveEntity"}, kindsOf(sink.calls))
}

func TestFlushComponentOrderingRemoveBeforeCreateBeforeEdit(t *testing.T) {
	scn := scene.NewMemoryScene()
	e := scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)
	e.AddComponent(&scene.Component{Id: scene.ComponentId(1), TypeId: scene.PlaceableTypeId})

	state := NewSceneSyncState()
	// existing entity (not new), one dirty component with a removed
	// attribute, a created attribute, and a plain edited attribute.
	state.MarkEntityDirty(scene.EntityId(1), false, false)
	state.MarkAttributeRemoved(scene.EntityId(1), scene.ComponentId(1), 2)
	state.MarkAttributeCreated(scene.EntityId(1), scene.ComponentId(1), 3)
	state.MarkAttributeDirty(scene.EntityId(1), scene.ComponentId(1), 4)

	sink := &recordingSink{}
	Flush(state, scn, sink, FullCapabilitySet(), false)

	assert.Equal(t, []string{"RemoveAttributes", "CreateAttributes", "EditAttributes"}, kindsOf(sink.calls))
}

func TestFlushNewComponentEmitsCreateComponentsNotEdits(t *testing.T) {
	scn := scene.NewMemoryScene()
	e := scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)
	e.AddComponent(&scene.Component{Id: scene.ComponentId(1), TypeId: scene.PlaceableTypeId})

	state := NewSceneSyncState()
	state.MarkEntityDirty(scene.EntityId(1), false, false)
	state.MarkComponentNew(scene.EntityId(1), scene.ComponentId(1))

	sink := &recordingSink{}
	Flush(state, scn, sink, FullCapabilitySet(), false)

	assert.Equal(t, []string{"CreateComponents"}, kindsOf(sink.calls))
}

func TestFlushRemovedComponentEmitsRemoveComponents(t *testing.T) {
	scn := scene.NewMemoryScene()
	scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)

	state := NewSceneSyncState()
	state.MarkEntityDirty(scene.EntityId(1), false, false)
	state.MarkComponentRemoved(scene.EntityId(1), scene.ComponentId(1))

	sink := &recordingSink{}
	Flush(state, scn, sink, FullCapabilitySet(), false)

	assert.Equal(t, []string{"RemoveComponents"}, kindsOf(sink.calls))
}

func TestFlushPropertyAndParentChangesAfterComponents(t *testing.T) {
	scn := scene.NewMemoryScene()
	scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)

	state := NewSceneSyncState()
	state.MarkEntityDirty(scene.EntityId(1), true, true)

	sink := &recordingSink{}
	Flush(state, scn, sink, FullCapabilitySet(), false)

	assert.Equal(t, []string{"EditEntityProperties", "SetEntityParent"}, kindsOf(sink.calls))
}

func TestFlushParentChangeDroppedWithoutHierarchicSceneCapability(t *testing.T) {
	scn := scene.NewMemoryScene()
	scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)

	state := NewSceneSyncState()
	state.MarkEntityDirty(scene.EntityId(1), true, true)

	sink := &recordingSink{}
	Flush(state, scn, sink, NoCapabilities(), false)

	assert.Equal(t, []string{"EditEntityProperties"}, kindsOf(sink.calls))
}

func TestFlushQueuedActionsFlushAfterDirtyEntities(t *testing.T) {
	scn := scene.NewMemoryScene()
	scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)

	state := NewSceneSyncState()
	state.MarkEntityDirty(scene.EntityId(1), true, false)
	state.EnqueueAction(QueuedAction{EntityId: scene.EntityId(1), Name: "Jump"})

	sink := &recordingSink{}
	Flush(state, scn, sink, FullCapabilitySet(), false)

	require.Len(t, sink.calls, 2)
	assert.Equal(t, "EditEntityProperties", sink.calls[0].kind)
	assert.Equal(t, "EntityAction", sink.calls[1].kind)
}

func TestFlushEntityVanishedFromSceneClearsQueueWithoutEmitting(t *testing.T) {
	scn := scene.NewMemoryScene()
	state := NewSceneSyncState()
	state.MarkEntityDirty(scene.EntityId(404), true, false)

	sink := &recordingSink{}
	Flush(state, scn, sink, FullCapabilitySet(), false)

	assert.Empty(t, sink.calls)
	assert.Empty(t, state.DirtyQueue)
}
