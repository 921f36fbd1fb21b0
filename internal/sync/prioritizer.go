package sync

import (
	"github.com/originworld/scenesync/internal/scene"
	"github.com/originworld/scenesync/internal/vec"
)

// Prioritizer computes per-entity replication priority from an observer's
// pose. Priority is recomputed only on the priority-update tick, never per
// outbound frame and not on first enqueue, so a newly dirty entity keeps
// priority 0 until the next priority tick (enforced by the caller,
// SyncManager.Tick, not by this interface).
type Prioritizer interface {
	ComputeSyncPriorities(entities []*EntitySyncState, scn scene.API, observerPos vec.Vec3Float, observerRot vec.Quat)
}

// DefaultPrioritizer scales priority inversely with distance to the
// observer: near entities get priority close to 1 (update every tick),
// far ones decay toward a floor so they never stop updating entirely —
// the prioritizer only delays, it never drops.
type DefaultPrioritizer struct {
	// FalloffDistance is the distance at which priority has decayed to
	// roughly 0.5; entities beyond it keep decaying toward PriorityFloor.
	FalloffDistance float64
	PriorityFloor   float64
}

func NewDefaultPrioritizer() *DefaultPrioritizer {
	return &DefaultPrioritizer{FalloffDistance: 50.0, PriorityFloor: 0.1}
}

func (p *DefaultPrioritizer) ComputeSyncPriorities(entities []*EntitySyncState, scn scene.API, observerPos vec.Vec3Float, observerRot vec.Quat) {
	falloff := p.FalloffDistance
	if falloff <= 0 {
		falloff = 50.0
	}
	floor := p.PriorityFloor
	if floor <= 0 {
		floor = 0.1
	}

	for _, es := range entities {
		e, ok := scn.Entity(es.Id)
		if !ok {
			es.Priority = floor
			continue
		}
		_, transform := e.Placeable()
		if transform == nil {
			es.Priority = 1.0 // no spatial info: never throttle
			continue
		}
		dist := transform.Pos.DistanceTo(observerPos)
		priority := falloff / (falloff + dist)
		if priority < floor {
			priority = floor
		}
		es.Priority = priority
	}
}
