package transfers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/peerdrop/peerdrop/internal/common"
	"github.com/peerdrop/peerdrop/internal/dbx"
	"github.com/peerdrop/peerdrop/internal/server/models"
)

// PostgresRepository implements transfer storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the transfer row. The caller guarantees the blob behind
// t.BlobKey is already durably stored.
func (r *PostgresRepository) Create(ctx context.Context, t *models.Transfer) error {
	query := `
		INSERT INTO transfers (id, sender_id, sender_name, receiver_id, blob_key, file_name, file_size, status, created_at, ready_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.SenderID, t.SenderName, t.ReceiverID, t.BlobKey, t.FileName, t.FileSize, t.Status, t.CreatedAt, t.ReadyAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByID returns a single transfer row.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Transfer, error) {
	query := `
		SELECT id, sender_id, sender_name, receiver_id, blob_key, file_name, file_size, status, created_at, ready_at, delivered_at, notified_at FROM transfers
		WHERE id=$1
	`
	t := &models.Transfer{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.SenderID, &t.SenderName, &t.ReceiverID, &t.BlobKey,
		&t.FileName, &t.FileSize, &t.Status, &t.CreatedAt, &t.ReadyAt,
		&t.DeliveredAt, &t.NotifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

// ListReady returns all ready transfers for receiverID, most recently
// staged first.
func (r *PostgresRepository) ListReady(ctx context.Context, receiverID string) ([]*models.Transfer, error) {
	query := `
		SELECT id, sender_id, sender_name, receiver_id, blob_key, file_name, file_size, status, created_at, ready_at, delivered_at, notified_at FROM transfers
		WHERE receiver_id=$1 AND status=$2
		ORDER BY ready_at DESC
	`
	return r.list(ctx, query, receiverID, models.TransferStatusReady)
}

// MarkDelivered performs the conditional ready → delivered transition.
// Zero affected rows means the record is missing or already delivered; the
// caller distinguishes the two with GetByID.
func (r *PostgresRepository) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE transfers SET status=$2, delivered_at=$3 WHERE id=$1 AND status=$4`
	res, err := r.db.ExecContext(ctx, query, id, models.TransferStatusDelivered, at, models.TransferStatusReady)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

// ListUnnotified returns ready transfers not yet surfaced by the reconciler,
// oldest first so stalled notifications drain in order.
func (r *PostgresRepository) ListUnnotified(ctx context.Context, limit int) ([]*models.Transfer, error) {
	query := `
		SELECT id, sender_id, sender_name, receiver_id, blob_key, file_name, file_size, status, created_at, ready_at, delivered_at, notified_at FROM transfers
		WHERE status=$1 AND notified_at IS NULL
		ORDER BY ready_at ASC
		LIMIT $2
	`
	return r.list(ctx, query, models.TransferStatusReady, limit)
}

// MarkNotified stamps notified_at once; repeated calls stay no-ops.
func (r *PostgresRepository) MarkNotified(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE transfers SET notified_at=$2 WHERE id=$1 AND notified_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.Transfer, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select transfers: %w", err)
	}
	defer rows.Close()

	var result []*models.Transfer
	for rows.Next() {
		var item models.Transfer
		if err := rows.Scan(
			&item.ID, &item.SenderID, &item.SenderName, &item.ReceiverID, &item.BlobKey,
			&item.FileName, &item.FileSize, &item.Status, &item.CreatedAt, &item.ReadyAt,
			&item.DeliveredAt, &item.NotifiedAt); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

var _ Repository = (*PostgresRepository)(nil)
