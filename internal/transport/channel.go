// Package transport implements the outbound/inbound byte-stream channel
// replication frames travel over: a narrow Channel interface plus a
// KCP-backed implementation with optional zstd compression, carrying
// length-prefixed wire.Frame records instead of a protobuf envelope.
package transport

import (
	"context"
	"time"

	"github.com/originworld/scenesync/internal/wire"
)

// ChannelStats trims connection statistics down to the fields this
// engine's admin surface actually reports.
type ChannelStats struct {
	RTT             time.Duration
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	LastActivity    time.Time
	Connected       bool
	RemoteAddr      string
}

// Channel is the narrow interface the sync/wire layers need of a
// transport: send a frame, receive a frame, report liveness.
type Channel interface {
	Send(ctx context.Context, f wire.Frame) error
	Receive(ctx context.Context) (wire.Frame, error)
	Close() error

	IsConnected() bool
	RemoteAddr() string
	Stats() ChannelStats

	OnDisconnect(handler func(error))
}

// ChannelConfig configures a Channel's buffering, compression and
// keep-alive behavior.
type ChannelConfig struct {
	BufferSize       int
	Timeout          time.Duration
	KeepAlive        time.Duration
	CompressionLevel int // 0 disables compression
	MTU              int
}

func DefaultChannelConfig() *ChannelConfig {
	return &ChannelConfig{
		BufferSize:       1024,
		Timeout:          30 * time.Second,
		KeepAlive:        10 * time.Second,
		CompressionLevel: 0,
		MTU:              1400,
	}
}
