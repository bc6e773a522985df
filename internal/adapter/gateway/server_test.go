package gateway

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"lookback/internal/domain"
	"lookback/internal/usecase/eventbus"
)

type recordingHandler struct {
	got chan domain.Command
}

func (h *recordingHandler) Dispatch(_ context.Context, cmd domain.Command) domain.Response {
	h.got <- cmd
	resp := domain.OKResponse(cmd.Name)
	resp.Message = "handled"
	return resp
}

func startTestServer(t *testing.T, handler *recordingHandler, bus *eventbus.Bus) *Server {
	t.Helper()
	srv := NewServer(handler, bus, "127.0.0.1:0", slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() {
		if err := srv.Start(ctx); err != nil {
			// The test may have cancelled the context already.
			_ = err
		}
	}()

	deadline := time.Now().Add(3 * time.Second)
	for srv.BoundAddr() == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if srv.BoundAddr() == "" {
		t.Fatal("server did not start in time")
	}
	return srv
}

func dial(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+srv.BoundAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestGateway_DispatchesCommands(t *testing.T) {
	bus := eventbus.New(slog.Default())
	defer bus.Close()
	handler := &recordingHandler{got: make(chan domain.Command, 1)}
	srv := startTestServer(t, handler, bus)

	conn := dial(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, conn, domain.Command{Name: domain.CmdGetStatus}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case cmd := <-handler.got:
		if cmd.Name != domain.CmdGetStatus {
			t.Errorf("dispatched %q", cmd.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the handler")
	}

	var frame outboundFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Type != "response" || frame.Response == nil {
		t.Fatalf("frame = %+v, want response", frame)
	}
	if !frame.Response.Success || frame.Response.Message != "handled" {
		t.Errorf("response = %+v", frame.Response)
	}
}

func TestGateway_ForwardsBusEvents(t *testing.T) {
	bus := eventbus.New(slog.Default())
	defer bus.Close()
	handler := &recordingHandler{got: make(chan domain.Command, 1)}
	srv := startTestServer(t, handler, bus)

	conn := dial(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Give the server a moment to register the connection before publishing.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(domain.NewEvent(domain.EventRecordingStarted, map[string]any{"interval": 60}))

	var frame outboundFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Type != "event" || frame.Event == nil {
		t.Fatalf("frame = %+v, want event", frame)
	}
	if frame.Event.Name != string(domain.EventRecordingStarted) {
		t.Errorf("event name = %q", frame.Event.Name)
	}
}

func TestGateway_StopClosesClients(t *testing.T) {
	bus := eventbus.New(slog.Default())
	defer bus.Close()
	handler := &recordingHandler{got: make(chan domain.Command, 1)}
	srv := startTestServer(t, handler, bus)

	conn := dial(t, srv)
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var frame outboundFrame
	if err := wsjson.Read(ctx, conn, &frame); err == nil {
		t.Error("read succeeded after server stop")
	}
}
