// Package observer streams crawl events to WebSocket clients (GUIs,
// dashboards, CI harnesses watching a run live).
package observer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/droidcrawl/droidcrawl/internal/bus"
	"github.com/droidcrawl/droidcrawl/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	clientBuffer   = 64
	subscriptionID = "observer-ws"
)

// Server fans bus events out to connected WebSocket clients. Clients
// are read-only; a slow client loses events rather than slowing the
// crawl.
type Server struct {
	addr     string
	eventPub bus.EventPublisher
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}

	httpServer *http.Server
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewServer(addr string, eventPub bus.EventPublisher) *Server {
	return &Server{
		addr:     addr,
		eventPub: eventPub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local observer endpoint; browsers connect from file:// GUIs.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: map[*client]struct{}{},
	}
}

// Start subscribes to the bus and serves until Stop.
func (s *Server) Start() error {
	s.eventPub.Subscribe(subscriptionID, s.broadcast)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}
	slog.Info("observer: listening", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("observer: server stopped", "error", err)
		}
	}()
	return nil
}

// Stop closes all clients and the listener.
func (s *Server) Stop(ctx context.Context) {
	s.eventPub.Unsubscribe(subscriptionID)

	s.mu.Lock()
	for c := range s.clients {
		close(c.send)
		delete(s.clients, c)
	}
	s.mu.Unlock()

	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(ctx)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("observer: upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	slog.Info("observer: client connected", "remote", r.RemoteAddr)

	go s.writePump(c)
	go s.readPump(c)
}

// broadcast renders one bus event as an IPC line and queues it for
// every client. Full queues drop the event for that client.
func (s *Server) broadcast(event bus.Event) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return
	}
	line, err := json.Marshal(protocol.IPCLine{
		Event:   event.Name,
		RunID:   event.RunID,
		Step:    event.Step,
		Payload: payload,
	})
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- line:
		default:
		}
	}
}

func (s *Server) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.drop(c)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump discards client frames and detects disconnects.
func (s *Server) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.drop(c)
			return
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
}
