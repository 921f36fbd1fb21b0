package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originworld/scenesync/internal/scene"
	"github.com/originworld/scenesync/internal/vec"
)

func TestNewStateNonNewtonianZeroesVelocities(t *testing.T) {
	snap := Snapshot{Pos: vec.Vec3Float{X: 1, Y: 2, Z: 3}, LinVel: vec.Vec3Float{X: 5, Y: 0, Z: 0}}
	s := NewState(snap, 1, false)
	assert.Equal(t, vec.Zero3, s.Start.LinVel)
	assert.Equal(t, vec.Zero3, s.End.LinVel)
	assert.False(t, s.Newtonian)
}

func TestPacketIsNewerHandlesWraparound(t *testing.T) {
	assert.True(t, PacketIsNewer(11, 10))
	assert.False(t, PacketIsNewer(10, 11))
	assert.False(t, PacketIsNewer(10, 10))
	// wrap-around: a small id after a near-max one is still "newer"
	assert.True(t, PacketIsNewer(2, ^uint32(0)-1))
}

func TestSampleAtSegmentEndpointsMatchesReceivedSnapshots(t *testing.T) {
	start := Snapshot{Pos: vec.Vec3Float{X: 0, Y: 0, Z: 0}, Rot: vec.Identity, Scale: vec.Ones3}
	end := Snapshot{Pos: vec.Vec3Float{X: 10, Y: 0, Z: 0}, Rot: vec.Identity, Scale: vec.Ones3}
	s := &State{Start: start, End: end, Newtonian: true}

	s.InterpTime = 0
	at0 := s.Sample(0.05, 3)
	assert.InDelta(t, 0, at0.Pos.X, 1e-9)

	s.InterpTime = 1
	at1 := s.Sample(0.05, 3)
	assert.InDelta(t, 10, at1.Pos.X, 1e-9)
}

func TestSampleHermiteIsC1ContinuousAtIngest(t *testing.T) {
	snap := Snapshot{
		Pos:    vec.Vec3Float{X: 0, Y: 0, Z: 0},
		Rot:    vec.Identity,
		Scale:  vec.Ones3,
		LinVel: vec.Vec3Float{X: 1, Y: 0, Z: 0},
	}
	s := NewState(snap, 1, true)

	updatePeriod := 0.05
	s.Advance(updatePeriod, updatePeriod, 3)

	next := Snapshot{
		Pos:    vec.Vec3Float{X: 0.05, Y: 0, Z: 0},
		Rot:    vec.Identity,
		Scale:  vec.Ones3,
		LinVel: vec.Vec3Float{X: 1, Y: 0, Z: 0},
	}
	ok := s.Ingest(updatePeriod, 3, next, 2, true, true)
	require.True(t, ok)

	// the new segment's start should be the sampled point from before ingest,
	// not a snap back to some other value — continuity of position.
	assert.InDelta(t, 0.05, s.Start.Pos.X, 1e-6)
}

func TestIngestRejectsOutOfOrderPackets(t *testing.T) {
	snap := Snapshot{Pos: vec.Vec3Float{X: 0, Y: 0, Z: 0}}
	s := NewState(snap, 10, true)

	ok := s.Ingest(0.05, 3, Snapshot{Pos: vec.Vec3Float{X: 99, Y: 0, Z: 0}}, 5, true, true)
	assert.False(t, ok, "a packet id older than the last received one must be rejected")
	assert.Equal(t, uint32(10), s.LastReceivedPacketID)
}

func TestIngestAcceptsOutOfOrderWhenGuardDisabled(t *testing.T) {
	snap := Snapshot{Pos: vec.Vec3Float{X: 0, Y: 0, Z: 0}}
	s := NewState(snap, 10, true)

	ok := s.Ingest(0.05, 3, Snapshot{Pos: vec.Vec3Float{X: 99, Y: 0, Z: 0}}, 5, true, false)
	assert.True(t, ok)
	assert.Equal(t, uint32(5), s.LastReceivedPacketID)
}

func TestAdvanceReportsCeilingCrossingOnce(t *testing.T) {
	s := &State{Active: true}
	updatePeriod := 0.1
	ceiling := 1.0

	first := s.Advance(0.05, updatePeriod, ceiling)
	assert.False(t, first)

	reached := s.Advance(0.1, updatePeriod, ceiling)
	assert.True(t, reached, "crossing the ceiling this tick must be reported exactly once")

	again := s.Advance(0.1, updatePeriod, ceiling)
	assert.False(t, again, "once already past the ceiling, subsequent ticks must not re-report it")
}

func TestAdvanceInactiveStateNeverReportsCeiling(t *testing.T) {
	s := &State{Active: false}
	assert.False(t, s.Advance(10, 0.1, 1.0))
}

func TestIsMovingThreshold(t *testing.T) {
	still := Snapshot{}
	assert.False(t, still.IsMoving())

	moving := Snapshot{LinVel: vec.Vec3Float{X: 1, Y: 0, Z: 0}}
	assert.True(t, moving.IsMoving())

	spinning := Snapshot{AngVel: vec.Vec3Float{X: 0, Y: 0, Z: 1}}
	assert.True(t, spinning.IsMoving())
}

func TestApplyHandoffPushesVelocitiesWhenEnabledAndMoving(t *testing.T) {
	s := &State{
		Active:    true,
		Newtonian: true,
		End:       Snapshot{LinVel: vec.Vec3Float{X: 2, Y: 0, Z: 0}, AngVel: vec.Vec3Float{X: 0, Y: 1, Z: 0}},
	}
	body := &scene.RigidBody{}
	s.ApplyHandoff(body, false)

	assert.False(t, s.Active)
	assert.Equal(t, vec.Vec3Float{X: 2, Y: 0, Z: 0}, body.LinearVelocity)
	assert.Equal(t, vec.Vec3Float{X: 0, Y: 1, Z: 0}, body.AngularVelocity)
}

func TestApplyHandoffDisabledLeavesBodyUntouched(t *testing.T) {
	s := &State{
		Active:    true,
		Newtonian: true,
		End:       Snapshot{LinVel: vec.Vec3Float{X: 2, Y: 0, Z: 0}},
	}
	body := &scene.RigidBody{}
	s.ApplyHandoff(body, true)

	assert.False(t, s.Active)
	assert.Equal(t, vec.Zero3, body.LinearVelocity)
}

func TestApplyHandoffNonNewtonianNeverPushes(t *testing.T) {
	s := &State{
		Active:    true,
		Newtonian: false,
		End:       Snapshot{LinVel: vec.Vec3Float{X: 2, Y: 0, Z: 0}},
	}
	body := &scene.RigidBody{}
	s.ApplyHandoff(body, false)

	assert.Equal(t, vec.Zero3, body.LinearVelocity)
}
