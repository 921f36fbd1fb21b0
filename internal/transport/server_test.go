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

func TestServerAcceptsConnectionAndInvokesOnConnect(t *testing.T) {
	srv := NewServer("127.0.0.1:0", DefaultChannelConfig())

	connected := make(chan Channel, 1)
	srv.SetHandlers(func(connID string, ch Channel) {
		connected <- ch
	}, nil)

	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	addr := srv.listener.Addr().String()
	clientConn, err := kcp.DialWithOptions(addr, nil, 0, 0)
	require.NoError(t, err)
	client, err := NewKCPChannelFromConn(clientConn, DefaultChannelConfig())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	var serverSide Channel
	select {
	case serverSide = <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("server never invoked onConnect")
	}
	require.NotNil(t, serverSide)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Send(ctx, wire.Frame{ID: wire.MsgObserverPosition, Payload: []byte("pose")}))

	got, err := serverSide.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("pose"), got.Payload)
}

func TestServerStopClosesTrackedClients(t *testing.T) {
	srv := NewServer("127.0.0.1:0", DefaultChannelConfig())
	connected := make(chan Channel, 1)
	srv.SetHandlers(func(connID string, ch Channel) { connected <- ch }, nil)
	require.NoError(t, srv.Start())

	addr := srv.listener.Addr().String()
	clientConn, err := kcp.DialWithOptions(addr, nil, 0, 0)
	require.NoError(t, err)
	client, err := NewKCPChannelFromConn(clientConn, DefaultChannelConfig())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the client")
	}

	srv.clientsMu.RLock()
	numClients := len(srv.clients)
	srv.clientsMu.RUnlock()
	assert.Equal(t, 1, numClients)

	require.NoError(t, srv.Stop())

	srv.clientsMu.RLock()
	numClients = len(srv.clients)
	srv.clientsMu.RUnlock()
	assert.Equal(t, 0, numClients)
}
