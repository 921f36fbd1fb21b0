package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/xtaci/kcp-go/v5"

	"github.com/originworld/scenesync/internal/logging"
	"github.com/originworld/scenesync/internal/wire"
)

// frameHeader is [reliable:1][msgID:1][payloadLen:4]: a length-prefixed
// framing style trimmed to what a wire.Frame needs instead of a
// protobuf envelope.
const frameHeaderLen = 6

// KCPChannel implements Channel over a reliable-UDP KCP session, with
// optional zstd compression of the frame stream: session tuning,
// send/receive goroutines, stats tracking.
type KCPChannel struct {
	conn   *kcp.UDPSession
	config *ChannelConfig

	stats   ChannelStats
	statsMu sync.RWMutex

	compressor   *zstd.Encoder
	decompressor *zstd.Decoder

	sendBuffer chan wire.Frame
	recvBuffer chan wire.Frame

	onDisconnect func(error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closed atomic.Bool
}

// NewKCPChannelFromConn wraps an already-dialed or already-accepted KCP
// session, tunes it for low-latency small-message traffic, and starts the
// send/receive pumps.
func NewKCPChannelFromConn(conn *kcp.UDPSession, config *ChannelConfig) (*KCPChannel, error) {
	if config == nil {
		config = DefaultChannelConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())

	ch := &KCPChannel{
		conn:       conn,
		config:     config,
		sendBuffer: make(chan wire.Frame, config.BufferSize),
		recvBuffer: make(chan wire.Frame, config.BufferSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	if config.CompressionLevel > 0 {
		var err error
		ch.compressor, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(config.CompressionLevel)))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("transport: zstd writer: %w", err)
		}
		ch.decompressor, err = zstd.NewReader(nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("transport: zstd reader: %w", err)
		}
	}

	conn.SetStreamMode(true)
	conn.SetWriteDelay(false)
	conn.SetNoDelay(1, 20, 2, 1)
	conn.SetWindowSize(512, 512)
	conn.SetMtu(config.MTU)

	ch.statsMu.Lock()
	ch.stats.Connected = true
	ch.stats.RemoteAddr = conn.RemoteAddr().String()
	ch.stats.LastActivity = time.Now()
	ch.statsMu.Unlock()

	ch.wg.Add(2)
	go ch.sendLoop()
	go ch.receiveLoop()

	logging.Info("kcp channel established: addr=%s", conn.RemoteAddr().String())
	return ch, nil
}

func (c *KCPChannel) Send(ctx context.Context, f wire.Frame) error {
	select {
	case c.sendBuffer <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return fmt.Errorf("transport: channel closed")
	}
}

func (c *KCPChannel) Receive(ctx context.Context) (wire.Frame, error) {
	select {
	case f := <-c.recvBuffer:
		return f, nil
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	case <-c.ctx.Done():
		return wire.Frame{}, io.EOF
	}
}

func (c *KCPChannel) sendLoop() {
	defer c.wg.Done()
	for {
		select {
		case f := <-c.sendBuffer:
			if err := c.writeFrame(f); err != nil {
				logging.Warn("kcp send error: %v", err)
				c.fail(err)
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *KCPChannel) writeFrame(f wire.Frame) error {
	payload := f.Payload
	if c.compressor != nil {
		payload = c.compressor.EncodeAll(payload, nil)
	}

	header := make([]byte, frameHeaderLen)
	if f.Reliable {
		header[0] = 1
	}
	header[1] = byte(f.ID)
	binary.BigEndian.PutUint32(header[2:], uint32(len(payload)))

	if _, err := c.conn.Write(header); err != nil {
		return err
	}
	if _, err := c.conn.Write(payload); err != nil {
		return err
	}

	c.statsMu.Lock()
	c.stats.PacketsSent++
	c.stats.BytesSent += uint64(len(header) + len(payload))
	c.stats.LastActivity = time.Now()
	c.statsMu.Unlock()
	return nil
}

func (c *KCPChannel) receiveLoop() {
	defer c.wg.Done()
	header := make([]byte, frameHeaderLen)
	for {
		if _, err := io.ReadFull(c.conn, header); err != nil {
			c.fail(err)
			return
		}
		reliable := header[0] == 1
		msgID := wire.MessageID(header[1])
		length := binary.BigEndian.Uint32(header[2:])

		payload := make([]byte, length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			c.fail(err)
			return
		}
		if c.decompressor != nil {
			decoded, err := c.decompressor.DecodeAll(payload, nil)
			if err != nil {
				logging.Warn("kcp decompress error: %v", err)
				continue
			}
			payload = decoded
		}

		c.statsMu.Lock()
		c.stats.PacketsReceived++
		c.stats.BytesReceived += uint64(len(header) + len(payload))
		c.stats.LastActivity = time.Now()
		c.statsMu.Unlock()

		select {
		case c.recvBuffer <- wire.Frame{ID: msgID, Payload: payload, Reliable: reliable}:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *KCPChannel) fail(err error) {
	if c.closed.CompareAndSwap(false, true) {
		c.cancel()
		c.statsMu.Lock()
		c.stats.Connected = false
		c.statsMu.Unlock()
		if c.onDisconnect != nil {
			c.onDisconnect(err)
		}
	}
}

func (c *KCPChannel) Close() error {
	c.fail(nil)
	c.wg.Wait()
	if c.compressor != nil {
		c.compressor.Close()
	}
	if c.decompressor != nil {
		c.decompressor.Close()
	}
	return c.conn.Close()
}

func (c *KCPChannel) IsConnected() bool {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats.Connected
}

func (c *KCPChannel) RemoteAddr() string {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats.RemoteAddr
}

func (c *KCPChannel) Stats() ChannelStats {
	c.statsMu.RLock()
	defer c.statsMu.RUnlock()
	return c.stats
}

func (c *KCPChannel) OnDisconnect(handler func(error)) {
	c.onDisconnect = handler
}
