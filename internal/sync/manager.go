package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/originworld/scenesync/internal/eventbus"
	"github.com/originworld/scenesync/internal/scene"
	"github.com/originworld/scenesync/internal/vec"
)

const (
	defaultUpdatePeriod         = time.Second / 20
	defaultPriorityUpdatePeriod = time.Second
	minUpdatePeriod             = 10 * time.Millisecond
)

// Connection is one replicated peer: its dirty-tracking state plus the
// sink its flushed messages go out through.
type Connection struct {
	Id    string
	State *SceneSyncState
	Sink  MessageSink

	// Capabilities is the peer's negotiated feature set, defaulting to
	// every capability this server speaks until a handshake says
	// otherwise via SetCapabilities.
	Capabilities CapabilitySet

	observerPos vec.Vec3Float
	observerRot vec.Quat
}

// SetObserverPose updates the connection's viewpoint for priority
// computation; it does not itself trigger a priority recompute (that
// happens on the priority-update tick).
func (c *Connection) SetObserverPose(pos vec.Vec3Float, rot vec.Quat) {
	c.observerPos = pos
	c.observerRot = rot
}

// SetCapabilities records the peer's negotiated capability set, typically
// called once right after a version/capability handshake completes.
func (c *Connection) SetCapabilities(caps CapabilitySet) {
	c.Capabilities = caps
}

// SyncManager owns the per-connection replication state machines and the
// scene-wide tick loop. Tick, OnUserConnected/OnUserDisconnected, the
// Apply* methods and the Reconcile* methods all take applyMu, so they may
// be called from different goroutines (one per connection plus the tick
// loop) and still run one at a time (see the note on state.go's locking).
type SyncManager struct {
	scene scene.API

	connections map[string]*Connection

	prioritizer  Prioritizer
	rigidBody    *RigidBodyReplicator
	reconcilers  map[string]*IdReconciler
	typeRegistry *scene.TypeRegistry

	updatePeriod           time.Duration
	priorityUpdatePeriod   time.Duration
	maxLinExtrapTime       time.Duration
	interestManagement     bool
	noClientPhysicsHandoff bool

	priorityAcc time.Duration
	updateAcc   time.Duration

	idMu            sync.Mutex
	nextEntityId    uint32
	nextComponentId uint32

	// applyMu serializes Tick's flush pass against every ApplyXxx call and
	// against connections-map mutation (OnUserConnected/OnUserDisconnected).
	// flush.go's reads of EntitySyncState/ComponentSyncState fields are not
	// themselves lock-protected past the initial map lookup (see state.go's
	// note on the single-goroutine assumption); holding this for the
	// duration of Tick and of each inbound apply is what keeps that
	// assumption true now that inbound messages mutate state from their own
	// per-connection goroutines instead of funneling through Tick itself.
	applyMu sync.Mutex

	// AllowModifyEntity, if set, gates every inbound mutation that targets
	// an already-existing entity (everything except a fresh CreateEntity).
	// A nil hook allows everything, matching the engine's default of
	// trusting any connected peer.
	AllowModifyEntity func(connId string, entityId scene.EntityId) bool
}

func NewSyncManager(scn scene.API) *SyncManager {
	return &SyncManager{
		scene:                scn,
		connections:          make(map[string]*Connection),
		prioritizer:          NewDefaultPrioritizer(),
		rigidBody:            NewRigidBodyReplicator(),
		reconcilers:          make(map[string]*IdReconciler),
		typeRegistry:         scene.NewTypeRegistry(),
		updatePeriod:         defaultUpdatePeriod,
		priorityUpdatePeriod: defaultPriorityUpdatePeriod,
		maxLinExtrapTime:     3 * time.Second,
		interestManagement:   true,
	}
}

// Scene returns the scene container this manager currently replicates
// against, for callers (the wire encoder, inbound dispatch) that need to
// resolve live entity/attribute state outside of a tick.
func (m *SyncManager) Scene() scene.API {
	return m.scene
}

// RegisterScene swaps the scene this manager replicates against. Existing
// per-connection dirty state is preserved; callers are expected to
// re-mark every entity new if the scene itself changed identity rather
// than just content.
func (m *SyncManager) RegisterScene(scn scene.API) {
	m.scene = scn
}

// OnUserConnected creates a fresh per-connection sync state, marks every
// existing scene entity new against it, and requests a placeholder
// component-type announcement on first flush: a newly connected
// client sees the whole scene as a batch of creates.
func (m *SyncManager) OnUserConnected(connId string, sink MessageSink) *Connection {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	state := NewSceneSyncState()
	state.NeedsPlaceholderComponentTypes = true

	for _, e := range m.scene.Entities() {
		state.MarkEntityNew(e.Id)
		for _, c := range e.OrderedComponents() {
			state.MarkComponentNew(e.Id, c.Id)
		}
	}

	conn := &Connection{Id: connId, State: state, Sink: sink, Capabilities: FullCapabilitySet()}
	m.connections[connId] = conn
	m.reconcilers[connId] = NewIdReconciler(state)

	publishLifecycleEvent("connection.established", connId)
	return conn
}

// OnUserDisconnected drops the connection's sync state entirely.
func (m *SyncManager) OnUserDisconnected(connId string) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	delete(m.connections, connId)
	delete(m.reconcilers, connId)

	publishLifecycleEvent("connection.closed", connId)
}

// publishLifecycleEvent announces a scene/connection lifecycle transition on
// the shared event bus, if one has been installed via eventbus.Init. Admin
// tooling and cross-node audit listeners subscribe to these independently of
// the replication stream itself.
func publishLifecycleEvent(eventType, connId string) {
	_ = eventbus.Publish(context.Background(), &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Source:    "scenesync.sync",
		EventType: eventType,
		Priority:  3,
		Metadata:  map[string]string{"connection_id": connId},
	})
}

// Reconciler returns the id reconciler for a connection, or nil if the
// connection is unknown.
func (m *SyncManager) Reconciler(connId string) *IdReconciler {
	return m.reconcilers[connId]
}

// ReconcileEntity and ReconcileComponent apply an incoming
// CreateEntityReply/CreateComponentsReply through connId's reconciler,
// serialized against Tick's flush pass the same way every ApplyXxx call
// is: IdReconciler mutates SceneSyncState and scene ids directly, which
// flush.go assumes happens only from the tick goroutine.
func (m *SyncManager) ReconcileEntity(connId string, unackedId, realId scene.EntityId) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	if r, ok := m.reconcilers[connId]; ok {
		r.ReconcileEntity(m.scene, unackedId, realId)
	}
}

func (m *SyncManager) ReconcileComponent(connId string, entityId scene.EntityId, unackedCompId, realCompId scene.ComponentId) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	if r, ok := m.reconcilers[connId]; ok {
		r.ReconcileComponent(m.scene, entityId, unackedCompId, realCompId)
	}
}

// Connection returns a connected peer's state, or nil if connId is unknown.
func (m *SyncManager) Connection(connId string) *Connection {
	return m.connections[connId]
}

// allocEntityId and allocComponentId hand out fresh ids in the replicated
// range for server-side id reconciliation: a client's speculative
// unacked-range create always gets a brand-new real id here, regardless of
// what wire value it proposed.
func (m *SyncManager) allocEntityId() scene.EntityId {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	m.nextEntityId++
	return scene.EntityId(m.nextEntityId)
}

func (m *SyncManager) allocComponentId() scene.ComponentId {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	m.nextComponentId++
	return scene.ComponentId(m.nextComponentId)
}

// relayExcept runs fn against every connected peer's sync state other than
// exceptConnID's own, the mechanism by which one peer's inbound delta is
// queued for replication back out to everyone else.
func (m *SyncManager) relayExcept(exceptConnID string, fn func(*SceneSyncState)) {
	for connId, conn := range m.connections {
		if connId == exceptConnID {
			continue
		}
		fn(conn.State)
	}
}

// checkPolicy consults AllowModifyEntity, if installed, returning a
// PolicyViolationError when the connection isn't allowed to mutate
// entityId.
func (m *SyncManager) checkPolicy(connId string, entityId scene.EntityId) error {
	if m.AllowModifyEntity != nil && !m.AllowModifyEntity(connId, entityId) {
		return &PolicyViolationError{Reason: fmt.Sprintf("connection %s may not modify entity %s", connId, entityId)}
	}
	return nil
}

// resolveWireEntityId resolves a generic-delta message's plain wire-value
// entity reference against this connection's unacked-id bookkeeping: if the
// value matches an id this connection itself proposed and has since been
// reconciled, the real id is substituted; otherwise the value is taken to
// already be a real, acknowledged id (see DESIGN.md on why only
// SetEntityParent carries full range-tagged ids on the wire).
func (c *Connection) resolveWireEntityId(raw uint32) scene.EntityId {
	unacked := scene.MakeUnackedEntityId(raw)
	if real, ok := c.State.UnackedIdsToRealIds[unacked]; ok {
		return real
	}
	return scene.EntityId(raw)
}

// resolveFullEntityId resolves a range-tagged entity id (as carried by
// SetEntityParent) against the same bookkeeping, for the case where the id
// itself is still in this connection's unacked range.
func (c *Connection) resolveFullEntityId(id scene.EntityId) scene.EntityId {
	if real, ok := c.State.UnackedIdsToRealIds[id]; ok {
		return real
	}
	return id
}

// TypeRegistry exposes the placeholder component-type registry so the
// wire layer can decide whether an inbound RegisterComponentType needs to
// be echoed to other connections.
func (m *SyncManager) TypeRegistry() *scene.TypeRegistry {
	return m.typeRegistry
}

// SetUpdatePeriod clamps and applies the base replication tick period.
func (m *SyncManager) SetUpdatePeriod(d time.Duration) {
	if d < minUpdatePeriod {
		d = minUpdatePeriod
	}
	m.updatePeriod = d
}

// SetPriorityUpdatePeriod clamps and applies how often priorities are
// recomputed; it is never finer than the current replication period
// since priority is a slow-moving signal relative to position.
func (m *SyncManager) SetPriorityUpdatePeriod(d time.Duration) {
	if d < m.updatePeriod {
		d = m.updatePeriod
	}
	m.priorityUpdatePeriod = d
}

// SetMaxLinExtrapTime bounds how far a client is allowed to extrapolate a
// Newtonian body's position past its last received update before treating
// it as at rest (client-side consumer of this value; stored here so it can
// be advertised to newly connecting peers).
func (m *SyncManager) SetMaxLinExtrapTime(d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.maxLinExtrapTime = d
}

// SetInterestManagement toggles whether ComputePrioritizedUpdateInterval is
// consulted at all; disabling it makes every entity replicate at
// updatePeriod regardless of priority.
func (m *SyncManager) SetInterestManagement(enabled bool) {
	m.interestManagement = enabled
}

// SetClientPhysicsHandoff controls whether extrapolation past the ceiling
// hands control to local physics (enabled) or simply freezes the body.
func (m *SyncManager) SetClientPhysicsHandoff(enabled bool) {
	m.noClientPhysicsHandoff = !enabled
}

// Tick runs one full replication step: optionally recompute priorities,
// detect rigid-body changes, flush every connection's dirty queue, per
// the engine's tick algorithm.
func (m *SyncManager) Tick(frametime time.Duration) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	m.priorityAcc += frametime
	recomputePriority := m.priorityAcc >= m.priorityUpdatePeriod
	if recomputePriority {
		m.priorityAcc = 0
	}

	m.updateAcc += frametime
	doUpdate := m.updateAcc >= m.updatePeriod
	if doUpdate {
		m.updateAcc %= m.updatePeriod
	}

	now := timeNow()

	for _, conn := range m.connections {
		if recomputePriority && m.interestManagement {
			entities := make([]*EntitySyncState, 0, len(conn.State.Entities))
			for _, es := range conn.State.Entities {
				entities = append(entities, es)
			}
			m.prioritizer.ComputeSyncPriorities(entities, m.scene, conn.observerPos, conn.observerRot)
		}

		m.detectRigidBodies(conn, now)
		conn.Sink.FlushRigidBodyUpdates()

		if conn.State.NeedsPlaceholderComponentTypes {
			m.announcePlaceholderTypes(conn)
			conn.State.NeedsPlaceholderComponentTypes = false
		}

		if doUpdate {
			Flush(conn.State, m.scene, conn.Sink, conn.Capabilities, false)
		}
	}
}

// announcePlaceholderTypes sends every known placeholder component-type
// descriptor to a newly connected peer that understands custom components,
// skipping descriptors it has already seen (received from, or previously
// announced to, some other connection) to avoid loops.
func (m *SyncManager) announcePlaceholderTypes(conn *Connection) {
	if !conn.Capabilities.Has(CapCustomComponents) {
		return
	}
	for _, desc := range m.typeRegistry.AllPlaceholders() {
		if !m.typeRegistry.ShouldEchoToPeer(desc.TypeId) {
			continue
		}
		conn.Sink.RegisterComponentType(desc, true)
		m.typeRegistry.MarkAnnounced(desc.TypeId)
	}
}

func (m *SyncManager) detectRigidBodies(conn *Connection, now time.Time) {
	for _, e := range m.scene.Entities() {
		placeableComp, transform := e.Placeable()
		if transform == nil {
			continue
		}
		_, rb := e.RigidBody()

		es, ok := conn.State.Entities[e.Id]
		if !ok {
			continue
		}

		basePeriod := m.updatePeriod
		if !m.interestManagement {
			es.Priority = 1.0
		}

		frame := m.rigidBody.Detect(es, *transform, rb, basePeriod, now)
		if frame == nil {
			continue
		}
		if frame.Reliable {
			publishLifecycleEvent("rigidbody.rest_transition", conn.Id)
		}

		if !conn.Capabilities.Has(CapWebClientRigidBodyMessage) {
			// Peer has no dedicated rigid-body message: fold the
			// transform change into the generic attribute-edit path
			// instead of dropping it.
			if placeableComp != nil {
				conn.State.MarkAttributeDirty(e.Id, placeableComp.Id, scene.TransformAttrIndex)
			}
			continue
		}

		conn.Sink.RigidBodyUpdate(e.Id, frame, frame.Reliable)
	}
}

// timeNow is a seam so tests can supply deterministic timestamps without
// reaching into the manager's internals.
var timeNow = time.Now
