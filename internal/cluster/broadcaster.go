// Package cluster distributes placeholder component-type descriptors
// across server nodes over NATS, so a type a client registers dynamically
// against one node becomes known to every other node's TypeRegistry
// without round-tripping through every individual client connection. Uses
// the same reconnect/dedupe/graceful-shutdown shape as a cache-invalidation
// pub/sub, repurposed to component-type descriptor distribution and using
// the engine's own wire codec for the payload instead of JSON.
package cluster

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/originworld/scenesync/internal/logging"
	"github.com/originworld/scenesync/internal/scene"
	"github.com/originworld/scenesync/internal/wire"
)

// DescriptorHandler processes a component-type descriptor received from
// another node.
type DescriptorHandler func(desc scene.TypeDescriptor) error

// BroadcasterConfig mirrors a cache-invalidation-style config field-for-field
// except for the domain-specific subject default.
type BroadcasterConfig struct {
	NATSURL string `yaml:"nats_url" env:"CLUSTER_NATS_URL"`
	Subject string `yaml:"subject" env:"CLUSTER_NATS_SUBJECT"`

	MaxReconnects int           `yaml:"max_reconnects" env:"CLUSTER_NATS_MAX_RECONNECTS"`
	ReconnectWait time.Duration `yaml:"reconnect_wait" env:"CLUSTER_NATS_RECONNECT_WAIT"`

	DedupeWindow time.Duration `yaml:"dedupe_window" env:"CLUSTER_NATS_DEDUPE_WINDOW"`

	PublishTimeout time.Duration `yaml:"publish_timeout" env:"CLUSTER_NATS_PUBLISH_TIMEOUT"`
}

// Broadcaster publishes and subscribes to RegisterComponentType
// descriptors on a shared NATS subject, deduping its own recently
// published types so they don't loop back to the node that announced them.
type Broadcaster struct {
	conn    *nats.Conn
	config  *BroadcasterConfig
	subject string
	nodeID  string

	subscription *nats.Subscription
	handler      DescriptorHandler

	stopCh chan struct{}
	wg     sync.WaitGroup

	recentTypes map[scene.TypeId]time.Time
	typesMutex  sync.RWMutex

	publishedCount int64
	receivedCount  int64
	errorsCount    int64
}

func NewBroadcaster(config *BroadcasterConfig, nodeID string) (*Broadcaster, error) {
	if config.Subject == "" {
		config.Subject = "scenesync.component_types"
	}
	if config.MaxReconnects == 0 {
		config.MaxReconnects = 10
	}
	if config.ReconnectWait == 0 {
		config.ReconnectWait = 2 * time.Second
	}
	if config.DedupeWindow == 0 {
		config.DedupeWindow = 5 * time.Second
	}
	if config.PublishTimeout == 0 {
		config.PublishTimeout = 5 * time.Second
	}

	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("cluster NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("cluster NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("cluster NATS connection closed")
		}),
	}

	conn, err := nats.Connect(config.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("cluster: connect to NATS: %w", err)
	}

	b := &Broadcaster{
		conn:        conn,
		config:      config,
		subject:     config.Subject,
		nodeID:      nodeID,
		stopCh:      make(chan struct{}),
		recentTypes: make(map[scene.TypeId]time.Time),
	}

	b.startDedupeCleanup()

	logging.Info("cluster broadcaster initialized: %s (subject: %s)", config.NATSURL, config.Subject)
	return b, nil
}

// BroadcastType announces a locally-registered placeholder type to every
// other node, unless this node has already announced or recently received
// that same type (dedupe window).
func (b *Broadcaster) BroadcastType(ctx context.Context, desc scene.TypeDescriptor) error {
	if b.isDuplicate(desc.TypeId) {
		logging.Debug("skipping duplicate component-type broadcast: %d", desc.TypeId)
		return nil
	}

	payload := wire.EncodeRegisterComponentType(desc)
	envelope := encodeEnvelope(b.nodeID, payload)

	ctx, cancel := context.WithTimeout(ctx, b.config.PublishTimeout)
	defer cancel()
	_ = ctx

	if err := b.conn.Publish(b.subject, envelope); err != nil {
		atomic.AddInt64(&b.errorsCount, 1)
		logging.Error("failed to publish component-type %d: %v", desc.TypeId, err)
		return fmt.Errorf("cluster: publish: %w", err)
	}

	b.recordType(desc.TypeId)
	atomic.AddInt64(&b.publishedCount, 1)
	logging.Debug("broadcast component-type %d (%s)", desc.TypeId, desc.TypeName)
	return nil
}

// Subscribe starts listening for descriptors announced by other nodes.
func (b *Broadcaster) Subscribe(ctx context.Context, handler DescriptorHandler) error {
	if b.subscription != nil {
		return fmt.Errorf("cluster: already subscribed")
	}
	b.handler = handler

	sub, err := b.conn.Subscribe(b.subject, b.handleMessage)
	if err != nil {
		return fmt.Errorf("cluster: subscribe: %w", err)
	}
	b.subscription = sub

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case <-ctx.Done():
			b.unsubscribe()
		case <-b.stopCh:
			b.unsubscribe()
		}
	}()

	logging.Info("cluster broadcaster subscribed on subject: %s", b.subject)
	return nil
}

func (b *Broadcaster) Close() error {
	close(b.stopCh)
	b.wg.Wait()
	b.unsubscribe()
	b.conn.Close()
	logging.Info("cluster broadcaster closed")
	return nil
}

func (b *Broadcaster) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"published_count": atomic.LoadInt64(&b.publishedCount),
		"received_count":  atomic.LoadInt64(&b.receivedCount),
		"errors_count":    atomic.LoadInt64(&b.errorsCount),
		"connected":       b.conn.IsConnected(),
		"status":          b.conn.Status(),
	}
}

func (b *Broadcaster) handleMessage(msg *nats.Msg) {
	atomic.AddInt64(&b.receivedCount, 1)

	senderID, payload, err := decodeEnvelope(msg.Data)
	if err != nil {
		atomic.AddInt64(&b.errorsCount, 1)
		logging.Error("cluster: malformed envelope: %v", err)
		return
	}
	if senderID == b.nodeID {
		return
	}

	decoded, err := wire.DecodeRegisterComponentType(payload)
	if err != nil {
		atomic.AddInt64(&b.errorsCount, 1)
		logging.Error("cluster: malformed component-type descriptor: %v", err)
		return
	}

	if b.isDuplicate(decoded.TypeId) {
		logging.Debug("ignoring duplicate component-type %d from %s", decoded.TypeId, senderID)
		return
	}
	b.recordType(decoded.TypeId)

	if b.handler == nil {
		return
	}
	if err := b.handler(decoded.ToDescriptor()); err != nil {
		atomic.AddInt64(&b.errorsCount, 1)
		logging.Error("cluster: descriptor handler failed for type %d: %v", decoded.TypeId, err)
	}
}

func (b *Broadcaster) unsubscribe() {
	if b.subscription != nil {
		if err := b.subscription.Unsubscribe(); err != nil {
			logging.Error("cluster: failed to unsubscribe: %v", err)
		}
		b.subscription = nil
	}
}

func (b *Broadcaster) isDuplicate(id scene.TypeId) bool {
	b.typesMutex.RLock()
	defer b.typesMutex.RUnlock()
	lastSeen, ok := b.recentTypes[id]
	if !ok {
		return false
	}
	return time.Since(lastSeen) < b.config.DedupeWindow
}

func (b *Broadcaster) recordType(id scene.TypeId) {
	b.typesMutex.Lock()
	defer b.typesMutex.Unlock()
	b.recentTypes[id] = time.Now()
}

func (b *Broadcaster) startDedupeCleanup() {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.config.DedupeWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.cleanupDedupe()
			case <-b.stopCh:
				return
			}
		}
	}()
}

func (b *Broadcaster) cleanupDedupe() {
	b.typesMutex.Lock()
	defer b.typesMutex.Unlock()
	now := time.Now()
	for id, ts := range b.recentTypes {
		if now.Sub(ts) > b.config.DedupeWindow {
			delete(b.recentTypes, id)
		}
	}
}
