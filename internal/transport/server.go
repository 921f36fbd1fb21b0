package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/originworld/scenesync/internal/logging"
)

// Server accepts inbound KCP connections and wraps each one in a
// KCPChannel, handing it off to the caller via OnConnect. Grounded on the
// game server's ChannelServer: same accept-loop/handleConnection shape,
// trimmed of the protobuf message-converter layer this engine doesn't need.
type Server struct {
	addr     string
	config   *ChannelConfig
	listener net.Listener

	clients   map[string]*KCPChannel
	clientsMu sync.RWMutex

	onConnect    func(connID string, ch Channel)
	onDisconnect func(connID string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(addr string, config *ChannelConfig) *Server {
	if config == nil {
		config = DefaultChannelConfig()
	}
	return &Server{
		addr:    addr,
		config:  config,
		clients: make(map[string]*KCPChannel),
	}
}

// SetHandlers installs the connect/disconnect callbacks. Must be called
// before Start.
func (s *Server) SetHandlers(onConnect func(string, Channel), onDisconnect func(string)) {
	s.onConnect = onConnect
	s.onDisconnect = onDisconnect
}

func (s *Server) Start() error {
	listener, err := kcp.ListenWithOptions(s.addr, nil, 0, 0)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.acceptLoop()

	logging.Info("transport server listening on %s", s.addr)
	return nil
}

func (s *Server) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()

	s.clientsMu.Lock()
	for id, ch := range s.clients {
		ch.Close()
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()

	logging.Info("transport server stopped: %s", s.addr)
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				logging.Warn("transport accept error: %v", err)
				continue
			}
		}

		kcpConn, ok := conn.(*kcp.UDPSession)
		if !ok {
			logging.Error("transport: accepted non-KCP connection, dropping")
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(kcpConn)
	}
}

func (s *Server) handleConnection(conn *kcp.UDPSession) {
	defer s.wg.Done()

	ch, err := NewKCPChannelFromConn(conn, s.config)
	if err != nil {
		logging.Error("transport: failed to wrap accepted connection: %v", err)
		conn.Close()
		return
	}

	connID := fmt.Sprintf("conn-%s-%d", conn.RemoteAddr(), time.Now().UnixNano())

	s.clientsMu.Lock()
	s.clients[connID] = ch
	s.clientsMu.Unlock()

	ch.OnDisconnect(func(error) {
		s.clientsMu.Lock()
		delete(s.clients, connID)
		s.clientsMu.Unlock()
		if s.onDisconnect != nil {
			s.onDisconnect(connID)
		}
	})

	if s.onConnect != nil {
		s.onConnect(connID, ch)
	}
}
