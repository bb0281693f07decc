package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/peerdrop/peerdrop/internal/common"
	"github.com/peerdrop/peerdrop/internal/logging"
	"github.com/peerdrop/peerdrop/internal/server/models"
	"github.com/peerdrop/peerdrop/internal/server/services"
)

// PresenceTracker is the slice of the presence service sessions drive.
type PresenceTracker interface {
	MarkOnline(ctx context.Context, peerID, displayName, contact string) (*models.PeerPresence, error)
	Heartbeat(ctx context.Context, peerID string) error
	MarkOffline(ctx context.Context, peerID string) error
}

// FileRouter routes a client-originated file frame.
type FileRouter interface {
	Send(ctx context.Context, req *services.SendRequest) (*services.Outcome, error)
}

// Hub owns the peer-id to session registry. It implements the router's
// LiveNetwork and the reconciler's notifier on top of that registry.
type Hub struct {
	presence PresenceTracker
	logger   logging.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*Session
	router   FileRouter
}

func NewHub(presence PresenceTracker, logger logging.Logger) *Hub {
	return &Hub{
		presence: presence,
		logger:   logger.With("module", "transport"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
}

// BindRouter wires the router in after construction; the router itself is
// built on top of the hub, so this breaks the construction cycle.
func (h *Hub) BindRouter(r FileRouter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.router = r
}

func (h *Hub) fileRouter() FileRouter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.router
}

// ServeHTTP upgrades the request and starts the session pumps. Identity is
// established by the hello frame, not the upgrade.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	s := newSession(h, conn, h.logger)
	s.start()
}

// register installs s as the peer's live session. A surviving older session
// for the same peer is closed; last connect wins.
func (h *Hub) register(peerID string, s *Session) {
	h.mu.Lock()
	old := h.sessions[peerID]
	h.sessions[peerID] = s
	h.mu.Unlock()

	if old != nil && old != s {
		old.close()
	}
}

// unregister removes s from the registry and records the disconnect. A crash
// and a goodbye both end offline; only the goodbye got there already via the
// bye frame, which makes this transition idempotent for it. A session that
// was already replaced by a newer connection is torn down silently: the peer
// is still live on the replacement and must stay online.
func (h *Hub) unregister(peerID string, s *Session) {
	h.mu.Lock()
	current := h.sessions[peerID] == s
	if current {
		delete(h.sessions, peerID)
	}
	h.mu.Unlock()

	if !current {
		return
	}
	if err := h.presence.MarkOffline(context.Background(), peerID); err != nil {
		h.logger.Warn(context.Background(), "offline transition on close failed", "peer", peerID, "error", err)
	}
}

// Channel returns the peer's live session, if connected.
func (h *Hub) Channel(peerID string) (services.LiveChannel, bool) {
	h.mu.RLock()
	s, ok := h.sessions[peerID]
	h.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s, true
}

// Dial resolves a channel through the session registry. The registry always
// answers, so an absent peer is a clean unreachable classification rather
// than a connection fault.
func (h *Hub) Dial(ctx context.Context, peerID string) (services.LiveChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch, ok := h.Channel(peerID)
	if !ok {
		return nil, fmt.Errorf("peer %q has no live session: %w", peerID, common.ErrPeerUnreachable)
	}
	return ch, nil
}

// NotifyReady pushes a transfer_ready frame to the receiver. An offline
// receiver is unreachable; the caller retries on a later sweep.
func (h *Hub) NotifyReady(ctx context.Context, t *models.Transfer) error {
	h.mu.RLock()
	s, ok := h.sessions[t.ReceiverID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("receiver %q offline: %w", t.ReceiverID, common.ErrPeerUnreachable)
	}

	frame := &Frame{
		Type:       FrameTransferReady,
		TransferID: t.ID,
		SenderID:   t.SenderID,
		SenderName: t.SenderName,
		FileName:   t.FileName,
		FileSize:   t.FileSize,
		BlobKey:    t.BlobKey,
	}
	if err := s.send(frame); err != nil {
		return fmt.Errorf("notifying receiver %q: %w", t.ReceiverID, err)
	}
	return nil
}
