package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type sender interface {
	Send(msg []byte)
}

// Hub fans the latest snapshot out to stream subscribers.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]sender

	logger       *zap.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader

	closeCtx context.Context
	closeFn  context.CancelFunc
}

// NewHub builds the stream hub.
func NewHub(writeTimeout time.Duration, logger *zap.Logger) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:      make(map[string]sender),
		logger:       logger,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		closeCtx: ctx,
		closeFn:  cancel,
	}
}

// Shutdown disconnects every subscriber. New upgrades after Shutdown are
// closed immediately.
func (h *Hub) Shutdown() {
	h.closeFn()
}

// Broadcast delivers a message to every connected subscriber.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		client.Send(msg)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(id string, client sender) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[id] = client
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// HandleWS upgrades the request and registers the subscriber.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(h.closeCtx)
	client := newClient(id, conn, h.writeTimeout, h.logger, func(clientID string) {
		h.remove(clientID)
		cancel()
	})
	h.add(id, client)

	go client.Start(ctx)
	h.logger.Info("stream subscriber connected", zap.String("client_id", id))
}
