// Package httpapi exposes the REST surface: presence registration and
// lookup, routed sends, the pending queue and receiver acknowledgments.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/peerdrop/peerdrop/internal/common"
	"github.com/peerdrop/peerdrop/internal/logging"
	"github.com/peerdrop/peerdrop/internal/server/auth"
	sc "github.com/peerdrop/peerdrop/internal/server/config"
	"github.com/peerdrop/peerdrop/internal/server/models"
	"github.com/peerdrop/peerdrop/internal/server/services"
)

const maxUploadBytes = 64 << 20

// PresenceAPI is the slice of the presence service the handlers use.
type PresenceAPI interface {
	MarkOnline(ctx context.Context, peerID, displayName, contact string) (*models.PeerPresence, error)
	Heartbeat(ctx context.Context, peerID string) error
	MarkOffline(ctx context.Context, peerID string) error
	Get(ctx context.Context, peerID string) (*models.PeerPresence, error)
	Reachable(ctx context.Context, peerID string) (bool, *models.PeerPresence, error)
}

// QueueAPI is the slice of the transfer service the handlers use.
type QueueAPI interface {
	ListPending(ctx context.Context, receiverID string) ([]*models.Transfer, error)
	Get(ctx context.Context, transferID string) (*models.Transfer, error)
	MarkDelivered(ctx context.Context, transferID, requestingPeerID string) error
}

// RouterAPI routes one send request.
type RouterAPI interface {
	Send(ctx context.Context, req *services.SendRequest) (*services.Outcome, error)
}

// BlobAPI resolves download URLs for staged blobs.
type BlobAPI interface {
	PresignGetURL(ctx context.Context, key string) (string, error)
}

type Handlers struct {
	presence PresenceAPI
	queue    QueueAPI
	router   RouterAPI
	blobs    BlobAPI
	config   *sc.Config
	logger   logging.Logger
}

func NewHandlers(presence PresenceAPI, queue QueueAPI, router RouterAPI, blobs BlobAPI,
	config *sc.Config, logger logging.Logger) *Handlers {
	return &Handlers{
		presence: presence,
		queue:    queue,
		router:   router,
		blobs:    blobs,
		config:   config,
		logger:   logger.With("module", "httpapi"),
	}
}

// Routes mounts the API on mux. ws, when non-nil, serves the websocket
// session endpoint.
func (h *Handlers) Routes(mux *http.ServeMux, ws http.Handler) {
	mux.HandleFunc("POST /api/presence/online", h.handleOnline)
	mux.Handle("POST /api/presence/heartbeat", h.auth(h.handleHeartbeat))
	mux.Handle("POST /api/presence/offline", h.auth(h.handleOffline))
	mux.HandleFunc("GET /api/presence/{peerID}", h.handlePresenceGet)
	mux.Handle("POST /api/transfers", h.auth(h.handleSend))
	mux.Handle("GET /api/transfers/pending", h.auth(h.handlePending))
	mux.Handle("POST /api/transfers/{id}/delivered", h.auth(h.handleDelivered))
	mux.Handle("GET /api/transfers/{id}/blob", h.auth(h.handleBlob))
	if ws != nil {
		mux.Handle("/ws", ws)
	}
}

type onlineRequest struct {
	PeerID      string `json:"peer_id"`
	DisplayName string `json:"display_name"`
	Contact     string `json:"contact"`
}

type onlineResponse struct {
	Presence *presenceResponse `json:"presence"`
	Token    string            `json:"token"`
}

type presenceResponse struct {
	PeerID      string    `json:"peer_id"`
	DisplayName string    `json:"display_name"`
	Reachable   bool      `json:"reachable"`
	LastSeen    time.Time `json:"last_seen"`
}

func (h *Handlers) handleOnline(w http.ResponseWriter, r *http.Request) {
	var req onlineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, common.ErrorValidation)
		return
	}

	p, err := h.presence.MarkOnline(r.Context(), req.PeerID, req.DisplayName, req.Contact)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	token, err := auth.GenerateToken(p.PeerID, []byte(h.config.SecretKey), h.config.TokenValidityDuration)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, &onlineResponse{
		Presence: &presenceResponse{
			PeerID:      p.PeerID,
			DisplayName: p.DisplayName,
			Reachable:   true,
			LastSeen:    p.LastHeartbeat,
		},
		Token: token,
	})
}

func (h *Handlers) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	peerID := peerIDFromContext(r.Context())
	if err := h.presence.Heartbeat(r.Context(), peerID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w)
}

func (h *Handlers) handleOffline(w http.ResponseWriter, r *http.Request) {
	peerID := peerIDFromContext(r.Context())
	if err := h.presence.MarkOffline(r.Context(), peerID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w)
}

func (h *Handlers) handlePresenceGet(w http.ResponseWriter, r *http.Request) {
	reachable, p, err := h.presence.Reachable(r.Context(), r.PathValue("peerID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, &presenceResponse{
		PeerID:      p.PeerID,
		DisplayName: p.DisplayName,
		Reachable:   reachable,
		LastSeen:    p.LastHeartbeat,
	})
}

type sendResponse struct {
	Outcome      string `json:"outcome"`
	ReceiverName string `json:"receiver_name,omitempty"`
	BlobKey      string `json:"blob_key,omitempty"`
	BlobURL      string `json:"blob_url,omitempty"`
}

func (h *Handlers) handleSend(w http.ResponseWriter, r *http.Request) {
	peerID := peerIDFromContext(r.Context())

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeError(w, r, common.ErrorValidation)
		return
	}
	receiverID := r.FormValue("receiver_id")

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, common.ErrorValidation)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, common.ErrorValidation)
		return
	}

	sender, err := h.presence.Get(r.Context(), peerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out, err := h.router.Send(r.Context(), &services.SendRequest{
		SenderID:   peerID,
		SenderName: sender.DisplayName,
		ReceiverID: receiverID,
		FileName:   header.Filename,
		FileSize:   int64(len(data)),
		Data:       data,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, &sendResponse{
		Outcome:      out.Status,
		ReceiverName: out.ReceiverName,
		BlobKey:      out.BlobKey,
		BlobURL:      out.BlobURL,
	})
}

type transferResponse struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	FileName   string    `json:"file_name"`
	FileSize   int64     `json:"file_size"`
	BlobKey    string    `json:"blob_key"`
	ReadyAt    time.Time `json:"ready_at"`
}

type pendingResponse struct {
	Count     int                 `json:"count"`
	Transfers []*transferResponse `json:"transfers"`
}

func (h *Handlers) handlePending(w http.ResponseWriter, r *http.Request) {
	peerID := peerIDFromContext(r.Context())

	list, err := h.queue.ListPending(r.Context(), peerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := &pendingResponse{Count: len(list), Transfers: make([]*transferResponse, 0, len(list))}
	for _, t := range list {
		resp.Transfers = append(resp.Transfers, &transferResponse{
			ID:         t.ID,
			SenderID:   t.SenderID,
			SenderName: t.SenderName,
			FileName:   t.FileName,
			FileSize:   t.FileSize,
			BlobKey:    t.BlobKey,
			ReadyAt:    t.ReadyAt,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) handleDelivered(w http.ResponseWriter, r *http.Request) {
	peerID := peerIDFromContext(r.Context())
	if err := h.queue.MarkDelivered(r.Context(), r.PathValue("id"), peerID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeOK(w)
}

func (h *Handlers) handleBlob(w http.ResponseWriter, r *http.Request) {
	peerID := peerIDFromContext(r.Context())

	t, err := h.queue.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if t.ReceiverID != peerID {
		h.writeError(w, r, common.ErrorUnauthorized)
		return
	}

	url, err := h.blobs.PresignGetURL(r.Context(), t.BlobKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// ---- response helpers ----

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn(context.Background(), "writing response failed", "error", err)
	}
}

func (h *Handlers) writeOK(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrorValidation):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrorNotFound), errors.Is(err, common.ErrPeerUnknown):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrorUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrTokenExpired):
		status = http.StatusUnauthorized
	case errors.Is(err, common.ErrConnectionFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, &errorResponse{Error: err.Error()})
}
