package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originworld/scenesync/internal/eventbus"
	"github.com/originworld/scenesync/internal/scene"
	"github.com/originworld/scenesync/internal/vec"
)

// recordingBus is a minimal eventbus.EventBus that captures every published
// envelope synchronously, so tests can assert on lifecycle events without
// racing a dispatch goroutine.
type recordingBus struct {
	mu   sync.Mutex
	envs []*eventbus.Envelope
}

func (b *recordingBus) Publish(ctx context.Context, ev *eventbus.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envs = append(b.envs, ev)
	return nil
}
func (b *recordingBus) Subscribe(ctx context.Context, f eventbus.Filter, h eventbus.Handler) (eventbus.Subscription, error) {
	return nil, nil
}
func (b *recordingBus) Metrics() eventbus.Stats { return eventbus.Stats{} }

func (b *recordingBus) eventTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.envs))
	for i, e := range b.envs {
		out[i] = e.EventType
	}
	return out
}

func withRecordingBus(t *testing.T) *recordingBus {
	t.Helper()
	bus := &recordingBus{}
	eventbus.Init(bus)
	t.Cleanup(func() { eventbus.Init(nil) })
	return bus
}

func TestSceneAccessorReturnsRegisteredScene(t *testing.T) {
	scn := scene.NewMemoryScene()
	m := NewSyncManager(scn)
	assert.Same(t, scn, m.Scene())

	other := scene.NewMemoryScene()
	m.RegisterScene(other)
	assert.Same(t, other, m.Scene())
}

func TestOnUserConnectedMarksExistingEntitiesNewAndPublishesEvent(t *testing.T) {
	bus := withRecordingBus(t)
	scn := scene.NewMemoryScene()
	e := scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)
	e.AddComponent(&scene.Component{Id: scene.ComponentId(1), TypeId: scene.PlaceableTypeId})

	m := NewSyncManager(scn)
	sink := &recordingSink{}
	conn := m.OnUserConnected("conn-1", sink)

	require.NotNil(t, conn)
	es, ok := conn.State.Entities[scene.EntityId(1)]
	require.True(t, ok)
	assert.True(t, es.IsNew)
	assert.True(t, conn.State.NeedsPlaceholderComponentTypes)

	assert.NotNil(t, m.Reconciler("conn-1"))
	assert.Contains(t, bus.eventTypes(), "connection.established")
}

func TestOnUserDisconnectedDropsStateAndPublishesEvent(t *testing.T) {
	bus := withRecordingBus(t)
	scn := scene.NewMemoryScene()
	m := NewSyncManager(scn)
	m.OnUserConnected("conn-1", &recordingSink{})

	m.OnUserDisconnected("conn-1")

	assert.Nil(t, m.Reconciler("conn-1"))
	assert.Contains(t, bus.eventTypes(), "connection.closed")
}

func TestTickFlushesEachConnectionsDirtyQueue(t *testing.T) {
	scn := scene.NewMemoryScene()
	e := scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)
	e.AddComponent(&scene.Component{Id: scene.ComponentId(1), TypeId: scene.PlaceableTypeId})

	m := NewSyncManager(scn)
	sink := &recordingSink{}
	m.OnUserConnected("conn-1", sink)

	m.Tick(50 * time.Millisecond)

	assert.Contains(t, kindsOf(sink.calls), "CreateEntity")
}

func TestTickRecomputesPriorityOnlyAfterPriorityUpdatePeriod(t *testing.T) {
	scn := scene.NewMemoryScene()
	near := scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)
	near.AddComponent(&scene.Component{
		Id: scene.ComponentId(1), TypeId: scene.PlaceableTypeId,
		Attributes: []*scene.Attribute{{Index: scene.TransformAttrIndex, Value: &scene.Transform{}}},
	})

	m := NewSyncManager(scn)
	m.SetPriorityUpdatePeriod(time.Second)
	conn := m.OnUserConnected("conn-1", &recordingSink{})

	m.Tick(10 * time.Millisecond)
	assert.Equal(t, 0.0, conn.State.Entities[scene.EntityId(1)].Priority, "no recompute yet before the first priority period elapses")

	m.Tick(time.Second)
	assert.NotEqual(t, 0.0, conn.State.Entities[scene.EntityId(1)].Priority)
}

func TestDetectRigidBodiesForwardsFrameToSink(t *testing.T) {
	scn := scene.NewMemoryScene()
	e := scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)
	e.AddComponent(&scene.Component{
		Id: scene.ComponentId(1), TypeId: scene.PlaceableTypeId,
		Attributes: []*scene.Attribute{{Index: scene.TransformAttrIndex, Value: &scene.Transform{}}},
	})
	e.AddComponent(&scene.Component{
		Id: scene.ComponentId(2), TypeId: scene.RigidBodyTypeId,
		Attributes: []*scene.Attribute{
			{Index: scene.LinearVelocityAttrIndex, Value: vec.Vec3Float{X: 5, Y: 0, Z: 0}},
			{Index: 7, Value: 1.0}, // mass
		},
	})

	m := NewSyncManager(scn)
	sink := &recordingSink{}
	conn := m.OnUserConnected("conn-1", sink)
	conn.State.Entities[scene.EntityId(1)] = newEntitySyncState(scene.EntityId(1))

	base := time.Now()
	timeNow = func() time.Time { return base }
	defer func() { timeNow = time.Now }()

	m.detectRigidBodies(conn, base)
	require.Contains(t, kindsOf(sink.calls), "RigidBodyUpdate")
}

func TestDetectRigidBodiesFoldsIntoAttributeEditWithoutWebClientCapability(t *testing.T) {
	scn := scene.NewMemoryScene()
	e := scn.CreateEntity(scene.EntityId(1), scene.ChangeLocal)
	e.AddComponent(&scene.Component{
		Id: scene.ComponentId(1), TypeId: scene.PlaceableTypeId,
		Attributes: []*scene.Attribute{{Index: scene.TransformAttrIndex, Value: &scene.Transform{}}},
	})
	e.AddComponent(&scene.Component{
		Id: scene.ComponentId(2), TypeId: scene.RigidBodyTypeId,
		Attributes: []*scene.Attribute{
			{Index: scene.LinearVelocityAttrIndex, Value: vec.Vec3Float{X: 5, Y: 0, Z: 0}},
			{Index: 7, Value: 1.0}, // mass
		},
	})

	m := NewSyncManager(scn)
	sink := &recordingSink{}
	conn := m.OnUserConnected("conn-1", sink)
	conn.Capabilities = NoCapabilities()
	conn.State.Entities[scene.EntityId(1)] = newEntitySyncState(scene.EntityId(1))

	base := time.Now()
	timeNow = func() time.Time { return base }
	defer func() { timeNow = time.Now }()

	m.detectRigidBodies(conn, base)
	assert.NotContains(t, kindsOf(sink.calls), "RigidBodyUpdate")

	es, ok := conn.State.Entities[scene.EntityId(1)]
	require.True(t, ok)
	cs, ok := es.Components[scene.ComponentId(1)]
	require.True(t, ok)
	assert.True(t, cs.DirtyAttributes[scene.TransformAttrIndex])
}
