package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/originworld/scenesync/internal/scene"
	"github.com/originworld/scenesync/internal/vec"
)

func TestDefaultPrioritizerDecaysWithDistance(t *testing.T) {
	scn := scene.NewMemoryScene()
	near := scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)
	near.AddComponent(&scene.Component{
		Id: scene.ComponentId(1), TypeId: scene.PlaceableTypeId,
		Attributes: []*scene.Attribute{{Index: scene.TransformAttrIndex, Value: &scene.Transform{Pos: vec.Vec3Float{X: 1, Y: 0, Z: 0}}}},
	})
	far := scn.CreateEntity(scene.EntityId(2), scene.ChangeLocal)
	far.AddComponent(&scene.Component{
		Id: scene.ComponentId(1), TypeId: scene.PlaceableTypeId,
		Attributes: []*scene.Attribute{{Index: scene.TransformAttrIndex, Value: &scene.Transform{Pos: vec.Vec3Float{X: 5000, Y: 0, Z: 0}}}},
	})

	entities := []*EntitySyncState{newEntitySyncState(near.Id), newEntitySyncState(far.Id)}

	p := NewDefaultPrioritizer()
	p.ComputeSyncPriorities(entities, scn, vec.Zero3, vec.Identity)

	assert.Greater(t, entities[0].Priority, entities[1].Priority)
	assert.GreaterOrEqual(t, entities[1].Priority, p.PriorityFloor)
}

func TestDefaultPrioritizerNeverDropsBelowFloor(t *testing.T) {
	scn := scene.NewMemoryScene()
	e := scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)
	e.AddComponent(&scene.Component{
		Id: scene.ComponentId(1), TypeId: scene.PlaceableTypeId,
		Attributes: []*scene.Attribute{{Index: scene.TransformAttrIndex, Value: &scene.Transform{Pos: vec.Vec3Float{X: 1e9, Y: 0, Z: 0}}}},
	})
	entities := []*EntitySyncState{newEntitySyncState(e.Id)}

	p := NewDefaultPrioritizer()
	p.ComputeSyncPriorities(entities, scn, vec.Zero3, vec.Identity)

	assert.Equal(t, p.PriorityFloor, entities[0].Priority)
}

func TestDefaultPrioritizerEntityWithoutPlaceableNeverThrottles(t *testing.T) {
	scn := scene.NewMemoryScene()
	e := scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)
	entities := []*EntitySyncState{newEntitySyncState(e.Id)}

	p := NewDefaultPrioritizer()
	p.ComputeSyncPriorities(entities, scn, vec.Zero3, vec.Identity)

	assert.Equal(t, 1.0, entities[0].Priority)
}

func TestDefaultPrioritizerMissingEntityGetsFloor(t *testing.T) {
	scn := scene.NewMemoryScene()
	entities := []*EntitySyncState{newEntitySyncState(scene.EntityId(999))}

	p := NewDefaultPrioritizer()
	p.ComputeSyncPriorities(entities, scn, vec.Zero3, vec.Identity)

	assert.Equal(t, p.PriorityFloor, entities[0].Priority)
}
