package presence

import (
	"context"
	"time"

	"github.com/peerdrop/peerdrop/internal/server/models"
)

// Repository defines peer presence storage operations.
type Repository interface {
	// Upsert creates or replaces the presence record for p.PeerID.
	Upsert(ctx context.Context, p *models.PeerPresence) error
	// Touch refreshes last_heartbeat only. Returns common.ErrorNotFound if
	// the peer has never registered presence.
	Touch(ctx context.Context, peerID string, at time.Time) error
	// SetStatus stores a new status and refreshes last_heartbeat. Returns
	// common.ErrorNotFound if the peer has never registered presence.
	SetStatus(ctx context.Context, peerID string, status string, at time.Time) error
	// Get returns the presence record or common.ErrorNotFound.
	Get(ctx context.Context, peerID string) (*models.PeerPresence, error)
}
