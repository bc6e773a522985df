package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"lookback/internal/adapter/ipc"
	"lookback/internal/domain"
)

// outboundFrame is what the gateway pushes to a client: either a command
// response or a forwarded event. Exactly one of Response/Event is set.
type outboundFrame struct {
	Type     string           `json:"type"` // "response" or "event"
	Response *domain.Response `json:"response,omitempty"`
	Event    *eventFrame      `json:"event,omitempty"`
}

type eventFrame struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	ws        *websocket.Conn
	sendCh    chan outboundFrame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) shutdown() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// Server is the WebSocket control gateway. It accepts the same commands as
// the native messaging host, dispatches them through the shared handler, and
// forwards recorder events to every connected client.
type Server struct {
	handler   ipc.CommandHandler
	bus       domain.EventBus
	clients   sync.Map // connID (uint64) -> *clientConn
	logger    *slog.Logger
	addr      string
	httpSrv   *http.Server
	boundAddr string
	nextID    atomic.Uint64
	unsubAll  func()
}

// NewServer creates a gateway server bound to addr.
func NewServer(handler ipc.CommandHandler, bus domain.EventBus, addr string, logger *slog.Logger) *Server {
	return &Server{
		handler: handler,
		bus:     bus,
		logger:  logger,
		addr:    addr,
	}
}

// Start begins accepting WebSocket connections. Blocks until the context is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{Handler: mux}

	// Forward all recorder events to connected clients.
	s.unsubAll = s.bus.SubscribeAll(func(event domain.Event) {
		frame := outboundFrame{
			Type: "event",
			Event: &eventFrame{
				Name:      string(event.Type),
				Timestamp: event.Timestamp,
				Payload:   event.Payload,
			},
		}
		s.clients.Range(func(_, value any) bool {
			cc := value.(*clientConn)
			select {
			case cc.sendCh <- frame:
			default:
				s.logger.Warn("gateway: dropped event for slow client")
			}
			return true
		})
	})

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubAll != nil {
		s.unsubAll()
	}

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.shutdown()
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual address the server bound to. Only valid after
// Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The gateway is a loopback control surface.
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		ws:     ws,
		sendCh: make(chan outboundFrame, 64),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)

	s.logger.Info("gateway client connected", "conn_id", connID)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	cc.shutdown()
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var cmd domain.Command
		if err := wsjson.Read(ctx, cc.ws, &cmd); err != nil {
			return // connection closed or malformed stream
		}

		resp := s.handler.Dispatch(ctx, cmd)
		select {
		case cc.sendCh <- outboundFrame{Type: "response", Response: &resp}:
		default:
			s.logger.Warn("gateway: dropped response for slow client", "command", cmd.Name)
		}
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
