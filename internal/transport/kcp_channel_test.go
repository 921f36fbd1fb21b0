package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtaci/kcp-go/v5"

	"github.com/originworld/scenesync/internal/wire"
)

func TestDefaultChannelConfigDisablesCompressionByDefault(t *testing.T) {
	cfg := DefaultChannelConfig()
	assert.Equal(t, 0, cfg.CompressionLevel)
	assert.Greater(t, cfg.BufferSize, 0)
	assert.Greater(t, cfg.MTU, 0)
}

// dialedPair brings up a real KCP listener and dial on loopback and wraps
// both ends in a KCPChannel, for tests that need an actual framed
// send/receive round trip rather than mocking the wire.
func dialedPair(t *testing.T, config *ChannelConfig) (client, server *KCPChannel) {
	t.Helper()

	listener, err := kcp.ListenWithOptions("127.0.0.1:0", nil, 0, 0)
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	accepted := make(chan *kcp.UDPSession, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		kcpConn, ok := conn.(*kcp.UDPSession)
		if !ok {
			acceptErr <- assert.AnError
			return
		}
		accepted <- kcpConn
	}()

	clientConn, err := kcp.DialWithOptions(listener.Addr().String(), nil, 0, 0)
	require.NoError(t, err)

	var serverConn *kcp.UDPSession
	select {
	case serverConn = <-accepted:
	case err := <-acceptErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for kcp accept")
	}

	client, err = NewKCPChannelFromConn(clientConn, config)
	require.NoError(t, err)
	server, err = NewKCPChannelFromConn(serverConn, config)
	require.NoError(t, err)

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestKCPChannelRoundTripsAFrame(t *testing.T) {
	client, server := dialedPair(t, DefaultChannelConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sent := wire.Frame{ID: wire.MsgCreateEntity, Payload: []byte("entity-payload"), Reliable: true}
	require.NoError(t, client.Send(ctx, sent))

	got, err := server.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, sent.Payload, got.Payload)
	assert.Equal(t, sent.Reliable, got.Reliable)
}

func TestKCPChannelRoundTripsWithCompression(t *testing.T) {
	cfg := DefaultChannelConfig()
	cfg.CompressionLevel = 3
	client, server := dialedPair(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload := make([]byte, 0, 256)
	for i := 0; i < 256; i++ {
		payload = append(payload, byte(i%7)) // repetitive, compresses well
	}
	sent := wire.Frame{ID: wire.MsgRigidBodyUpdate, Payload: payload, Reliable: false}
	require.NoError(t, client.Send(ctx, sent))

	got, err := server.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, sent.Payload, got.Payload)
}

func TestKCPChannelStatsTrackSentAndReceivedBytes(t *testing.T) {
	client, server := dialedPair(t, DefaultChannelConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, client.Send(ctx, wire.Frame{ID: wire.MsgEntityAction, Payload: []byte("x")}))
	_, err := server.Receive(ctx)
	require.NoError(t, err)

	assert.Greater(t, client.Stats().PacketsSent, uint64(0))
	assert.Greater(t, server.Stats().PacketsReceived, uint64(0))
	assert.True(t, client.IsConnected())
	assert.True(t, server.IsConnected())
}

func TestKCPChannelCloseMarksItselfDisconnectedAndFiresHandler(t *testing.T) {
	client, server := dialedPair(t, DefaultChannelConfig())

	disconnected := make(chan struct{}, 1)
	client.OnDisconnect(func(error) { disconnected <- struct{}{} })

	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("closing channel never fired its own disconnect handler")
	}
	_ = server
}
