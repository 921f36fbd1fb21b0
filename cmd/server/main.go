package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/originworld/scenesync/internal/cluster"
	"github.com/originworld/scenesync/internal/config"
	"github.com/originworld/scenesync/internal/eventbus"
	"github.com/originworld/scenesync/internal/logging"
	"github.com/originworld/scenesync/internal/middleware"
	"github.com/originworld/scenesync/internal/observability"
	"github.com/originworld/scenesync/internal/scene"
	sy "github.com/originworld/scenesync/internal/sync"
	"github.com/originworld/scenesync/internal/transport"
	"github.com/originworld/scenesync/internal/wire"
)

func main() {
	if err := logging.Init("logs"); err != nil {
		log.Fatalf("❌ failed to init logging: %v", err)
	}
	defer logging.Close()

	logging.Info("🎮 starting scene replication server...")

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("❌ failed to load config: %v", err)
	}

	// === scene + sync manager ===
	scn := scene.NewMemoryScene()
	manager := sy.NewSyncManager(scn)
	manager.SetUpdatePeriod(cfg.Sync.UpdatePeriod())
	manager.SetPriorityUpdatePeriod(cfg.Sync.PriorityUpdatePeriod())
	manager.SetMaxLinExtrapTime(cfg.Sync.MaxLinExtrapTime())
	manager.SetInterestManagement(cfg.Sync.InterestManagementEnabled)
	manager.SetClientPhysicsHandoff(!cfg.Sync.NoClientPhysicsHandoff)

	manager.TypeRegistry().RegisterNative("Placeable", scene.PlaceableTypeId, scene.PlaceableAttributeSchema)
	manager.TypeRegistry().RegisterNative("RigidBody", scene.RigidBodyTypeId, scene.RigidBodyAttributeSchema)

	// === event bus: lifecycle/audit signals, independent of the replication hot path ===
	var bus eventbus.EventBus
	if cfg.Cluster.Enabled {
		jb, err := eventbus.NewJetStreamBus(cfg.Cluster.NATSURL, "SCENESYNC_EVENTS", 24*time.Hour)
		if err != nil {
			logging.Error("failed to start JetStream event bus, falling back to in-memory: %v", err)
			bus = eventbus.NewMemoryBus(1024)
		} else {
			bus = jb
			logging.Info("📨 event bus backed by JetStream on %s", cfg.Cluster.NATSURL)
		}
	} else {
		bus = eventbus.NewMemoryBus(1024)
	}
	eventbus.Init(bus)
	if err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Error("failed to start eventbus logging listener: %v", err)
	}
	metricsExporter := eventbus.NewMetricsExporter(bus)
	metricsExporter.StartHTTP(fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()))
	defer metricsExporter.Stop()

	// === telemetry ===
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.OTLPEndpoint != "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
		}
		shutdown, err := observability.InitTelemetry(ctx, cfg.Telemetry.ServiceName)
		if err != nil {
			logging.Error("failed to init telemetry: %v", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	// === cross-node component-type distribution ===
	var broadcaster *cluster.Broadcaster
	if cfg.Cluster.Enabled {
		nodeID := cfg.Cluster.NodeID
		if nodeID == "" {
			nodeID = fmt.Sprintf("node-%d", time.Now().UnixNano())
		}
		broadcaster, err = cluster.NewBroadcaster(&cluster.BroadcasterConfig{
			NATSURL: cfg.Cluster.NATSURL,
			Subject: cfg.Cluster.Subject,
		}, nodeID)
		if err != nil {
			logging.Error("failed to start cluster broadcaster: %v", err)
		} else {
			if err := broadcaster.Subscribe(ctx, func(desc scene.TypeDescriptor) error {
				manager.TypeRegistry().ApplyDescriptor(desc)
				return nil
			}); err != nil {
				logging.Error("failed to subscribe cluster broadcaster: %v", err)
			}
			defer broadcaster.Close()
		}
	}

	// === admin HTTP surface: health + prometheus ===
	adminRouter := gin.New()
	promMiddleware := middleware.NewPrometheusMiddleware("scenesync")
	adminRouter.Use(promMiddleware.Handler(), middleware.NewRequestLogger().Handler())
	promMiddleware.RegisterMetricsEndpoint(adminRouter)
	adminRouter.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "entities": len(scn.Entities())})
	})
	adminAddr := fmt.Sprintf(":%d", cfg.Server.GetAdminPort())
	go func() {
		if err := adminRouter.Run(adminAddr); err != nil {
			logging.Error("admin HTTP server stopped: %v", err)
		}
	}()
	logging.Info("🌐 admin HTTP surface on %s (health, metrics)", adminAddr)

	// === replication transport ===
	srv := transport.NewServer(cfg.Server.GetListenAddr(), transport.DefaultChannelConfig())
	srv.SetHandlers(
		func(connID string, ch transport.Channel) { onConnect(ctx, manager, broadcaster, connID, ch) },
		func(connID string) { manager.OnUserDisconnected(connID) },
	)
	if err := srv.Start(); err != nil {
		log.Fatalf("❌ failed to start transport server: %v", err)
	}
	logging.Info("📡 replication listener on %s", cfg.Server.GetListenAddr())

	// === tick loop ===
	tickPeriod := cfg.Sync.UpdatePeriod()
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	tickDone := make(chan struct{})
	go func() {
		last := time.Now()
		for {
			select {
			case now := <-ticker.C:
				manager.Tick(now.Sub(last))
				last = now
			case <-tickDone:
				return
			}
		}
	}()

	logging.Info("✅ server ready: replication=%s admin=%s", cfg.Server.GetListenAddr(), adminAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 received signal %v, shutting down...", sig)

	close(tickDone)
	if err := srv.Stop(); err != nil {
		logging.Error("error stopping transport server: %v", err)
	}
	logging.Info("👋 server stopped")
}

// onConnect wires a freshly accepted channel into the sync manager: an
// Encoder-backed MessageSink for outbound traffic, and a receive loop that
// decodes inbound observer-position, id-reconciliation and component-type
// announcements as well as the generic create/edit/remove/action messages.
func onConnect(ctx context.Context, manager *sy.SyncManager, broadcaster *cluster.Broadcaster, connID string, ch transport.Channel) {
	encoder := wire.NewEncoder(func(f wire.Frame) {
		if err := ch.Send(ctx, f); err != nil {
			logging.Warn("send to %s failed: %v", connID, err)
		}
	}, manager.Scene())

	conn := manager.OnUserConnected(connID, encoder)

	go func() {
		for {
			frame, err := ch.Receive(ctx)
			if err != nil {
				return
			}
			dispatchInbound(manager, broadcaster, encoder, conn, connID, frame)
		}
	}()
}

// logApplyError routes an inbound-apply failure to the right log level: a
// policy violation is expected traffic from a peer probing what it can't
// do and stays at debug, an unknown reference is worth a warning but not
// the full hex-dump treatment reserved for malformed frames, and anything
// else is an unexpected condition worth surfacing at error level.
func logApplyError(connID string, err error) {
	switch err.(type) {
	case *sy.PolicyViolationError:
		logging.Debug("connection %s: %v", connID, err)
	case *sy.UnknownReferenceError, *sy.IdCollisionError:
		logging.Warn("connection %s: %v", connID, err)
	default:
		logging.Error("connection %s: %v", connID, err)
	}
}

func dispatchInbound(manager *sy.SyncManager, broadcaster *cluster.Broadcaster, encoder *wire.Encoder, conn *sy.Connection, connID string, frame wire.Frame) {
	switch frame.ID {
	case wire.MsgObserverPosition:
		pos, err := wire.DecodeObserverPosition(frame.Payload)
		if err != nil {
			logging.LogProtocolError(connID, err, frame.Payload)
			return
		}
		conn.SetObserverPose(pos.Pos.Pos, pos.Pos.Rot)

	case wire.MsgCreateEntityReply:
		reply, err := wire.DecodeCreateEntityReply(frame.Payload)
		if err != nil {
			logging.LogProtocolError(connID, err, frame.Payload)
			return
		}
		manager.ReconcileEntity(connID, reply.UnackedEntityId, reply.RealEntityId)

	case wire.MsgCreateComponentsReply:
		reply, err := wire.DecodeCreateComponentsReply(frame.Payload)
		if err != nil {
			logging.LogProtocolError(connID, err, frame.Payload)
			return
		}
		for i := range reply.UnackedComponentIds {
			manager.ReconcileComponent(connID, reply.EntityId, reply.UnackedComponentIds[i], reply.RealComponentIds[i])
		}

	case wire.MsgRegisterComponentType:
		decoded, err := wire.DecodeRegisterComponentType(frame.Payload)
		if err != nil {
			logging.LogProtocolError(connID, err, frame.Payload)
			return
		}
		desc := decoded.ToDescriptor()
		if manager.TypeRegistry().ApplyDescriptor(desc) && broadcaster != nil {
			if err := broadcaster.BroadcastType(context.Background(), desc); err != nil {
				logging.Warn("failed to broadcast component type %d: %v", desc.TypeId, err)
			}
		}

	case wire.MsgCreateEntity:
		in, err := wire.DecodeCreateEntity(frame.Payload, manager.TypeRegistry())
		if err != nil {
			logging.LogProtocolError(connID, err, frame.Payload)
			return
		}
		result, err := manager.ApplyCreateEntity(connID, in)
		if err != nil {
			logApplyError(connID, err)
		}
		if result != nil {
			payload := wire.EncodeCreateEntityReply(result.UnackedEntityId, result.RealEntityId, result.Components)
			encoder.Emit(wire.Frame{ID: wire.MsgCreateEntityReply, Payload: payload, Reliable: true})
		}

	case wire.MsgCreateComponents:
		in, err := wire.DecodeCreateComponents(frame.Payload, manager.TypeRegistry())
		if err != nil {
			logging.LogProtocolError(connID, err, frame.Payload)
			return
		}
		result, err := manager.ApplyCreateComponents(connID, in)
		if err != nil {
			logApplyError(connID, err)
			return
		}
		payload := wire.EncodeCreateComponentsReply(result.EntityId, result.Components)
		encoder.Emit(wire.Frame{ID: wire.MsgCreateComponentsReply, Payload: payload, Reliable: true})

	case wire.MsgCreateAttributes:
		in, err := wire.DecodeCreateAttributes(frame.Payload)
		if err != nil {
			logging.LogProtocolError(connID, err, frame.Payload)
			return
		}
		if err := manager.ApplyCreateAttributes(connID, in); err != nil {
			logApplyError(connID, err)
		}

	case wire.MsgEditAttributes:
		in, err := wire.DecodeEditAttributes(frame.Payload)
		if err != nil {
			logging.LogProtocolError(connID, err, frame.Payload)
			return
		}
		if err := manager.ApplyEditAttributes(connID, in); err != nil {
			logApplyError(connID, err)
		}

	case wire.MsgRemoveAttributes:
		in, err := wire.DecodeRemoveAttributes(frame.Payload)
		if err != nil {
			logging.LogProtocolError(connID, err, frame.Payload)
			return
		}
		if err := manager.ApplyRemoveAttributes(connID, in); err != nil {
			logApplyError(connID, err)
		}

	case wire.MsgRemoveComponents:
		in, err := wire.DecodeRemoveComponents(frame.Payload)
		if err != nil {
			logging.LogProtocolError(connID, err, frame.Payload)
			return
		}
		if err := manager.ApplyRemoveComponents(connID, in); err != nil {
			logApplyError(connID, err)
		}

	case wire.MsgRemoveEntity:
		in, err := wire.DecodeRemoveEntity(frame.Payload)
		if err != nil {
			logging.LogProtocolError(connID, err, frame.Payload)
			return
		}
		if err := manager.ApplyRemoveEntity(connID, in); err != nil {
			logApplyError(connID, err)
		}

	case wire.MsgEditEntityProperties:
		in, err := wire.DecodeEditEntityProperties(frame.Payload)
		if err != nil {
			logging.LogProtocolError(connID, err, frame.Payload)
			return
		}
		if err := manager.ApplyEditEntityProperties(connID, in); err != nil {
			logApplyError(connID, err)
		}

	case wire.MsgSetEntityParent:
		in, err := wire.DecodeSetEntityParent(frame.Payload)
		if err != nil {
			logging.LogProtocolError(connID, err, frame.Payload)
			return
		}
		if err := manager.ApplySetEntityParent(connID, in); err != nil {
			logApplyError(connID, err)
		}

	case wire.MsgEntityAction:
		in, err := wire.DecodeEntityAction(frame.Payload)
		if err != nil {
			logging.LogProtocolError(connID, err, frame.Payload)
			return
		}
		if err := manager.ApplyEntityAction(connID, in); err != nil {
			logApplyError(connID, err)
		}

	default:
		logging.Debug("unhandled inbound message %d from %s", frame.ID, connID)
	}
}
