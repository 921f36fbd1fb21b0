package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/originworld/scenesync/internal/scene"
)

func TestEnvelopeRoundTripPreservesNodeIDAndPayload(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0xff, 0x00}
	encoded := encodeEnvelope("node-7", payload)

	nodeID, got, err := decodeEnvelope(encoded)
	require.NoError(t, err)
	assert.Equal(t, "node-7", nodeID)
	assert.Equal(t, payload, got)
}

func TestEnvelopeRoundTripHandlesEmptyPayload(t *testing.T) {
	encoded := encodeEnvelope("solo", nil)

	nodeID, got, err := decodeEnvelope(encoded)
	require.NoError(t, err)
	assert.Equal(t, "solo", nodeID)
	assert.Empty(t, got)
}

func TestEnvelopeRoundTripHandlesEmptyNodeID(t *testing.T) {
	encoded := encodeEnvelope("", []byte{0xaa})

	nodeID, got, err := decodeEnvelope(encoded)
	require.NoError(t, err)
	assert.Equal(t, "", nodeID)
	assert.Equal(t, []byte{0xaa}, got)
}

func newTestBroadcaster(dedupeWindow time.Duration) *Broadcaster {
	return &Broadcaster{
		nodeID:      "test-node",
		config:      &BroadcasterConfig{DedupeWindow: dedupeWindow},
		recentTypes: make(map[scene.TypeId]time.Time),
	}
}

func TestIsDuplicateFalseForUnseenType(t *testing.T) {
	b := newTestBroadcaster(time.Second)
	assert.False(t, b.isDuplicate(scene.TypeId(1)))
}

func TestIsDuplicateTrueWithinDedupeWindow(t *testing.T) {
	b := newTestBroadcaster(time.Minute)
	b.recordType(scene.TypeId(1))
	assert.True(t, b.isDuplicate(scene.TypeId(1)))
}

func TestIsDuplicateFalseAfterDedupeWindowElapses(t *testing.T) {
	b := newTestBroadcaster(time.Millisecond)
	b.recordType(scene.TypeId(1))
	time.Sleep(5 * time.Millisecond)
	assert.False(t, b.isDuplicate(scene.TypeId(1)))
}

func TestCleanupDedupeRemovesExpiredEntriesOnly(t *testing.T) {
	b := newTestBroadcaster(5 * time.Millisecond)
	b.recordType(scene.TypeId(1))
	time.Sleep(10 * time.Millisecond)
	b.recordType(scene.TypeId(2))

	b.cleanupDedupe()

	b.typesMutex.RLock()
	_, hasOld := b.recentTypes[scene.TypeId(1)]
	_, hasNew := b.recentTypes[scene.TypeId(2)]
	b.typesMutex.RUnlock()

	assert.False(t, hasOld)
	assert.True(t, hasNew)
}
