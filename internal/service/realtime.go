package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"courier/internal/models"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// RealtimeHub pushes lifecycle events to connected websocket clients.
// Connections are grouped per owner; an event only reaches the owner
// it belongs to.
type RealtimeHub struct {
	mu      sync.RWMutex
	clients map[int64]map[*websocket.Conn]struct{}
	logger  *logrus.Logger
	closed  bool
}

func NewRealtimeHub(logger *logrus.Logger) *RealtimeHub {
	return &RealtimeHub{
		clients: make(map[int64]map[*websocket.Conn]struct{}),
		logger:  logger,
	}
}

// Handle upgrades the request and keeps the connection registered
// until the client goes away. Inbound frames are drained and ignored;
// the stream is push-only.
func (h *RealtimeHub) Handle(w http.ResponseWriter, r *http.Request, ownerID int64) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket accept failed")
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	if h.clients[ownerID] == nil {
		h.clients[ownerID] = make(map[*websocket.Conn]struct{})
	}
	h.clients[ownerID][conn] = struct{}{}
	h.mu.Unlock()

	h.logger.WithField("ownerId", ownerID).Debug("Realtime client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients[ownerID], conn)
		if len(h.clients[ownerID]) == 0 {
			delete(h.clients, ownerID)
		}
		h.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		h.logger.WithField("ownerId", ownerID).Debug("Realtime client disconnected")
	}()

	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

// Emit pushes one event to every connection of the owner. Satisfies
// EventEmitter; writes are bounded so a stalled client cannot block
// queue processing.
func (h *RealtimeHub) Emit(ownerID int64, event string, data interface{}) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients[ownerID]))
	for conn := range h.clients[ownerID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	payload := models.WebhookEvent{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC().Format(models.EventTimestampLayout),
	}
	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := wsjson.Write(ctx, conn, payload); err != nil {
			h.logger.WithError(err).Debug("Realtime write failed")
		}
		cancel()
	}
}

// Close disconnects every client. Used during shutdown.
func (h *RealtimeHub) Close() {
	h.mu.Lock()
	h.closed = true
	var conns []*websocket.Conn
	for _, set := range h.clients {
		for conn := range set {
			conns = append(conns, conn)
		}
	}
	h.clients = make(map[int64]map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close(websocket.StatusGoingAway, "shutting down")
	}
}

// MultiEmitter fans events out to several emitters, typically the
// webhook notifier plus the realtime hub.
type MultiEmitter []EventEmitter

func (m MultiEmitter) Emit(ownerID int64, event string, data interface{}) {
	for _, e := range m {
		e.Emit(ownerID, event, data)
	}
}
