package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	sc "github.com/peerdrop/peerdrop/internal/server/config"

	"github.com/peerdrop/peerdrop/internal/common"
	"github.com/peerdrop/peerdrop/internal/dbx"
	"github.com/peerdrop/peerdrop/internal/server/models"
	"github.com/peerdrop/peerdrop/internal/server/repositories/repomanager"
)

// TransferService owns the durable delivery queue and its status machine.
// Records move ready → delivered, never backward; the delivered transition
// is receiver-authorized and idempotent.
type TransferService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config

	// now is a seam for tests.
	now func() time.Time
}

func NewTransferService(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config) *TransferService {
	return &TransferService{
		db:          db,
		repomanager: repomanager,
		config:      config,
		now:         time.Now,
	}
}

// Enqueue stages a transfer record for an offline receiver. The blob behind
// blobKey must already be durably stored; enqueue never triggers the upload
// itself. The receiver identity must exist — an unknown receiver yields
// ErrorNotFound, which is distinct from "known but unreachable".
func (s *TransferService) Enqueue(ctx context.Context, senderID, senderName, receiverID, blobKey, fileName string, fileSize int64) (*models.Transfer, error) {
	if senderID == "" || receiverID == "" || blobKey == "" || fileName == "" {
		return nil, fmt.Errorf("%w: sender, receiver, blob key and file name are required", common.ErrorValidation)
	}

	if _, err := s.repomanager.Presence(s.db).Get(ctx, receiverID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("receiver %q: %w", receiverID, common.ErrorNotFound)
		}
		return nil, fmt.Errorf("error resolving receiver: %w", err)
	}

	now := s.now().UTC()
	t := &models.Transfer{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		SenderName: senderName,
		ReceiverID: receiverID,
		BlobKey:    blobKey,
		FileName:   fileName,
		FileSize:   fileSize,
		Status:     models.TransferStatusReady,
		CreatedAt:  now,
		ReadyAt:    now,
	}

	if err := s.repomanager.Transfers(s.db).Create(ctx, t); err != nil {
		return nil, fmt.Errorf("error creating transfer: %w", err)
	}
	return t, nil
}

// ListPending returns the receiver's ready transfers, most recently staged
// first. The result is a finite snapshot recomputed on each call.
func (s *TransferService) ListPending(ctx context.Context, receiverID string) ([]*models.Transfer, error) {
	if receiverID == "" {
		return nil, fmt.Errorf("%w: receiver id is required", common.ErrorValidation)
	}
	return s.repomanager.Transfers(s.db).ListReady(ctx, receiverID)
}

// Get returns a single transfer record.
func (s *TransferService) Get(ctx context.Context, transferID string) (*models.Transfer, error) {
	return s.repomanager.Transfers(s.db).GetByID(ctx, transferID)
}

// MarkDelivered acknowledges receipt of a transfer. Only the record's
// receiver may acknowledge; anyone else gets ErrorUnauthorized and the record
// stays untouched. Re-acknowledgment succeeds without moving delivered_at,
// and the underlying update is conditional on status so concurrent duplicate
// retries can never regress the record.
func (s *TransferService) MarkDelivered(ctx context.Context, transferID, requestingPeerID string) error {
	if transferID == "" || requestingPeerID == "" {
		return fmt.Errorf("%w: transfer id and requesting peer are required", common.ErrorValidation)
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Transfers(tx)

		t, err := repo.GetByID(ctx, transferID)
		if err != nil {
			return err
		}
		if t.ReceiverID != requestingPeerID {
			return common.ErrorUnauthorized
		}
		if t.Status == models.TransferStatusDelivered {
			return nil
		}

		// Losing the conditional update to a concurrent duplicate ack is
		// still a successful acknowledgment.
		if _, err := repo.MarkDelivered(ctx, transferID, s.now().UTC()); err != nil {
			return err
		}
		return nil
	})
}
