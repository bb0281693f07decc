// Package services implements the server's domain logic: the presence
// tracker, the delivery queue, and the transfer router that bridges the live
// channel and the queued fallback.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sc "github.com/peerdrop/peerdrop/internal/server/config"

	"github.com/peerdrop/peerdrop/internal/common"
	"github.com/peerdrop/peerdrop/internal/server/models"
	"github.com/peerdrop/peerdrop/internal/server/repositories/repomanager"
)

// PresenceService owns peer liveness records. Reachability is computed per
// read from the stored status plus heartbeat age; there is no background
// expiry sweep, so a vanished peer flips to unreachable lazily once its last
// heartbeat falls outside the staleness window.
type PresenceService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config

	// now is a seam for tests.
	now func() time.Time
}

func NewPresenceService(db *sql.DB, repomanager repomanager.RepositoryManager, config *sc.Config) *PresenceService {
	return &PresenceService{
		db:          db,
		repomanager: repomanager,
		config:      config,
		now:         time.Now,
	}
}

// MarkOnline registers or refreshes the peer's identity and flips it online.
// The upsert makes repeat calls idempotent; a reconnecting peer never errors.
func (s *PresenceService) MarkOnline(ctx context.Context, peerID, displayName, contact string) (*models.PeerPresence, error) {
	if peerID == "" || displayName == "" {
		return nil, fmt.Errorf("%w: peer id and display name are required", common.ErrorValidation)
	}

	p := &models.PeerPresence{
		PeerID:        peerID,
		DisplayName:   displayName,
		Contact:       contact,
		Status:        models.StatusOnline,
		LastHeartbeat: s.now().UTC(),
	}

	if err := s.repomanager.Presence(s.db).Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("error upserting presence: %w", err)
	}
	return p, nil
}

// Heartbeat refreshes the peer's last-heartbeat timestamp only. Heartbeats
// never create identity, so an unknown peer yields ErrorNotFound.
func (s *PresenceService) Heartbeat(ctx context.Context, peerID string) error {
	if peerID == "" {
		return fmt.Errorf("%w: peer id is required", common.ErrorValidation)
	}
	return s.repomanager.Presence(s.db).Touch(ctx, peerID, s.now().UTC())
}

// MarkOffline stores an explicit offline transition (clean disconnect or
// observed session close). Unknown peers yield ErrorNotFound.
func (s *PresenceService) MarkOffline(ctx context.Context, peerID string) error {
	if peerID == "" {
		return fmt.Errorf("%w: peer id is required", common.ErrorValidation)
	}
	return s.repomanager.Presence(s.db).SetStatus(ctx, peerID, models.StatusOffline, s.now().UTC())
}

// Get returns the stored presence record for peerID.
func (s *PresenceService) Get(ctx context.Context, peerID string) (*models.PeerPresence, error) {
	return s.repomanager.Presence(s.db).Get(ctx, peerID)
}

// Reachable reports computed liveness: stored status online AND a heartbeat
// younger than the staleness window. A crashed peer that never said goodbye
// keeps status "online" in storage but stops counting as reachable here.
func (s *PresenceService) Reachable(ctx context.Context, peerID string) (bool, *models.PeerPresence, error) {
	p, err := s.repomanager.Presence(s.db).Get(ctx, peerID)
	if err != nil {
		return false, nil, err
	}
	return p.ReachableAt(s.now(), s.config.PresenceStalenessWindow), p, nil
}
