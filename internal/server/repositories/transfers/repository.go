package transfers

import (
	"context"
	"time"

	"github.com/peerdrop/peerdrop/internal/server/models"
)

// Repository defines transfer record storage operations.
type Repository interface {
	// Create inserts a new transfer record.
	Create(ctx context.Context, t *models.Transfer) error
	// GetByID returns the record or common.ErrorNotFound.
	GetByID(ctx context.Context, id string) (*models.Transfer, error)
	// ListReady returns the receiver's records in status "ready",
	// newest ready_at first.
	ListReady(ctx context.Context, receiverID string) ([]*models.Transfer, error)
	// MarkDelivered transitions a record from ready to delivered. The update
	// is conditional on the current status, so concurrent duplicate calls
	// apply at most once; it reports whether this call performed the
	// transition.
	MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error)
	// ListUnnotified returns ready records whose ready-notification side
	// effect has not been observably completed.
	ListUnnotified(ctx context.Context, limit int) ([]*models.Transfer, error)
	// MarkNotified records completion of the ready-notification side effect.
	// Conditional on notified_at still being unset; re-marking is a no-op.
	MarkNotified(ctx context.Context, id string, at time.Time) error
}
