package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gridplay/tictactoe-backend/internal/protocol"
)

// gameProtocol is the core's event surface: the transport only delivers
// open, message and close events and pushes outbound frames.
type gameProtocol interface {
	HandleOpen(conn protocol.Conn, attrs protocol.Attributes) *protocol.Session
	HandleMessage(ctx context.Context, session *protocol.Session, raw []byte)
	HandleClose(session *protocol.Session)
}

type Server struct {
	logger   *slog.Logger
	handler  gameProtocol
	upgrader websocket.Upgrader
}

func New(logger *slog.Logger, handler gameProtocol) *Server {
	return &Server{
		logger:  logger,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(_ *http.Request) bool { return true },
		},
	}
}

// Start - starts WebSocket server.
func (that *Server) Start(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		that.serveConnection(ctx, w, r)
	})

	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     mux,
		IdleTimeout: 30 * time.Second,
	}

	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// serveConnection - upgrades the connection and runs its read loop. Each
// connection is driven by its own goroutine; there is no timeout model,
// only a close event frees the room slot.
func (that *Server) serveConnection(ctx context.Context, writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "serveConnection")

	wsConn, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}
	defer wsConn.Close()

	log.Info("WebSocket connection established")

	conn := &connection{ws: wsConn}
	session := that.handler.HandleOpen(conn, parseAttributes(req))

	for {
		messageType, raw, err := wsConn.ReadMessage()
		if err != nil {
			log.Info("connection closed", "error", err)
			that.handler.HandleClose(session)
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		that.handler.HandleMessage(ctx, session, raw)
	}
}

// parseAttributes seeds the per-connection attribute bag from the opening
// request's query parameters. No further validation happens here.
func parseAttributes(req *http.Request) protocol.Attributes {
	query := req.URL.Query()

	return protocol.Attributes{
		Action: query.Get("action"),
		RoomID: query.Get("roomId"),
		UserID: query.Get("userId"),
		Coin:   query.Get("coin"),
	}
}

// connection wraps a gorilla conn with a write mutex: room fan-out pushes
// frames from other connections' goroutines and gorilla conns allow only
// one concurrent writer.
type connection struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (that *connection) WriteMessage(data []byte) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if err := that.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	return nil
}
