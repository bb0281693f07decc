package presence

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

// PostgresRepository implements presence storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert creates or replaces the presence row keyed by peer_id. Repeated
// calls for the same peer are idempotent by construction.
func (r *PostgresRepository) Upsert(ctx context.Context, p *models.PeerPresence) error {
	query := `
		INSERT INTO peer_presence (peer_id, display_name, contact, status, last_heartbeat)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (peer_id)
		DO UPDATE SET
			display_name = EXCLUDED.display_name,
			contact = EXCLUDED.contact,
			status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat;
	`
	_, err := r.db.ExecContext(ctx, query,
		p.PeerID, p.DisplayName, p.Contact, p.Status, p.LastHeartbeat)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Touch refreshes last_heartbeat for an existing peer. Heartbeats never
// create identity, so zero affected rows maps to ErrorNotFound.
func (r *PostgresRepository) Touch(ctx context.Context, peerID string, at time.Time) error {
	query := `UPDATE peer_presence SET last_heartbeat=$2 WHERE peer_id=$1`
	res, err := r.db.ExecContext(ctx, query, peerID, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// SetStatus stores a status transition and refreshes last_heartbeat.
func (r *PostgresRepository) SetStatus(ctx context.Context, peerID string, status string, at time.Time) error {
	query := `UPDATE peer_presence SET status=$2, last_heartbeat=$3 WHERE peer_id=$1`
	res, err := r.db.ExecContext(ctx, query, peerID, status, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// Get returns the stored presence row for peerID.
func (r *PostgresRepository) Get(ctx context.Context, peerID string) (*models.PeerPresence, error) {
	query := `
		SELECT peer_id, display_name, contact, status, last_heartbeat FROM peer_presence
		WHERE peer_id=$1
	`
	p := &models.PeerPresence{}
	err := r.db.QueryRowContext(ctx, query, peerID).
		Scan(&p.PeerID, &p.DisplayName, &p.Contact, &p.Status, &p.LastHeartbeat)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

var _ Repository = (*PostgresRepository)(nil)
