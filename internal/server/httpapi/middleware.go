package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/peerdrop/peerdrop/internal/server/auth"
)

type contextKey string

const peerIDKey contextKey = "peer_id"

func peerIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(peerIDKey).(string)
	return id
}

// auth validates the bearer token and stores the authenticated peer id in
// the request context.
func (h *Handlers) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			h.writeJSON(w, http.StatusUnauthorized, &errorResponse{Error: "missing bearer token"})
			return
		}

		peerID, err := auth.GetPeerIDFromToken(token, []byte(h.config.SecretKey))
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), peerIDKey, peerID)
		next(w, r.WithContext(ctx))
	})
}
