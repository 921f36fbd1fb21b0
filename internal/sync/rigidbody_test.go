package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originworld/scenesync/internal/scene"
	"github.com/originworld/scenesync/internal/vec"
)

func TestDetectPosSendTypeSwitchesAtThreshold(t *testing.T) {
	assert.Equal(t, PosSendXYZ, DetectPosSendType(vec.Vec3Float{X: 10, Y: 10, Z: 10}))
	assert.Equal(t, PosSendXYZ32, DetectPosSendType(vec.Vec3Float{X: 2000, Y: 0, Z: 0}))
}

func TestDetectRotSendTypePureYawIsCheapest(t *testing.T) {
	yaw := vec.FromAxisAngle(vec.UnitY, 1.0)
	assert.Equal(t, RotSendYaw, DetectRotSendType(yaw))
}

func TestDetectRotSendTypeGeneralOrientationIsFullTriple(t *testing.T) {
	tumbled := vec.FromAxisAngle(vec.Vec3Float{X: 1, Y: 1, Z: 1}, 1.0)
	got := DetectRotSendType(tumbled)
	assert.NotEqual(t, RotSendYaw, got)
}

func TestRigidBodyReplicatorFirstDetectAlwaysSends(t *testing.T) {
	r := NewRigidBodyReplicator()
	es := newEntitySyncState(scene.EntityId(1))
	transform := scene.Transform{Pos: vec.Vec3Float{X: 1, Y: 2, Z: 3}, Rot: vec.Identity, Scale: vec.Ones3}

	frame := r.Detect(es, transform, nil, 50*time.Millisecond, time.Now())
	require.NotNil(t, frame)
	assert.True(t, es.CachedRigidBody.Valid)
}

func TestRigidBodyReplicatorSkipsBelowThreshold(t *testing.T) {
	r := NewRigidBodyReplicator()
	es := newEntitySyncState(scene.EntityId(1))
	transform := scene.Transform{Pos: vec.Vec3Float{X: 1, Y: 2, Z: 3}, Rot: vec.Identity, Scale: vec.Ones3}
	now := time.Now()

	first := r.Detect(es, transform, nil, 0, now)
	require.NotNil(t, first)

	// advance time well past the throttle interval but move by less than
	// the change-detection threshold.
	second := r.Detect(es, transform, nil, 0, now.Add(time.Second))
	assert.Nil(t, second, "an unchanged transform must not produce a second frame")
}

func TestRigidBodyReplicatorThrottlesByPrioritizedInterval(t *testing.T) {
	r := NewRigidBodyReplicator()
	es := newEntitySyncState(scene.EntityId(1))
	es.Priority = 1.0
	now := time.Now()
	basePeriod := 100 * time.Millisecond

	transform := scene.Transform{Pos: vec.Vec3Float{X: 0, Y: 0, Z: 0}, Rot: vec.Identity, Scale: vec.Ones3}
	first := r.Detect(es, transform, nil, basePeriod, now)
	require.NotNil(t, first)

	moved := scene.Transform{Pos: vec.Vec3Float{X: 10, Y: 0, Z: 0}, Rot: vec.Identity, Scale: vec.Ones3}
	tooSoon := r.Detect(es, moved, nil, basePeriod, now.Add(10*time.Millisecond))
	assert.Nil(t, tooSoon, "a send within the prioritized interval must be throttled even if the body moved")

	later := r.Detect(es, moved, nil, basePeriod, now.Add(basePeriod+time.Millisecond))
	assert.NotNil(t, later)
}

func TestRigidBodyReplicatorRestTransitionForcesReliable(t *testing.T) {
	r := NewRigidBodyReplicator()
	es := newEntitySyncState(scene.EntityId(1))
	now := time.Now()

	moving := &scene.RigidBody{LinearVelocity: vec.Vec3Float{X: 5, Y: 0, Z: 0}, Mass: 1}
	transform := scene.Transform{Pos: vec.Vec3Float{X: 0, Y: 0, Z: 0}, Rot: vec.Identity, Scale: vec.Ones3}
	first := r.Detect(es, transform, moving, 0, now)
	require.NotNil(t, first)
	assert.False(t, first.Reliable)

	atRest := &scene.RigidBody{Mass: 1}
	moved := scene.Transform{Pos: vec.Vec3Float{X: 1, Y: 0, Z: 0}, Rot: vec.Identity, Scale: vec.Ones3}
	second := r.Detect(es, moved, atRest, 0, now.Add(time.Second))
	require.NotNil(t, second)
	assert.True(t, second.Reliable, "the frame that settles a body to rest must be forced reliable")

	third := r.Detect(es, moved, atRest, 0, now.Add(2*time.Second))
	assert.Nil(t, third, "once at rest with no further change, no additional frames are sent")
}

func TestRigidBodyReplicatorNonNewtonianNeverCarriesVelocity(t *testing.T) {
	r := NewRigidBodyReplicator()
	es := newEntitySyncState(scene.EntityId(1))
	transform := scene.Transform{Pos: vec.Vec3Float{X: 0, Y: 0, Z: 0}, Rot: vec.Identity, Scale: vec.Ones3}

	frame := r.Detect(es, transform, nil, 0, time.Now())
	require.NotNil(t, frame)
	assert.Equal(t, VelSendNone, frame.VelType)
	assert.Equal(t, AngVelSendNone, frame.AngVelType)
}
