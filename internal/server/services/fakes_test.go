package services

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/peerdrop/peerdrop/internal/common"
	"github.com/peerdrop/peerdrop/internal/dbx"
	"github.com/peerdrop/peerdrop/internal/server/models"
	presencerepo "github.com/peerdrop/peerdrop/internal/server/repositories/presence"
	"github.com/peerdrop/peerdrop/internal/server/repositories/repomanager"
	transfersrepo "github.com/peerdrop/peerdrop/internal/server/repositories/transfers"
)

// ---- in-memory repository fakes ----

type fakePresenceRepo struct {
	mu      sync.Mutex
	records map[string]*models.PeerPresence

	upsertErr error
	getErr    error
}

func newFakePresenceRepo() *fakePresenceRepo {
	return &fakePresenceRepo{records: make(map[string]*models.PeerPresence)}
}

func (f *fakePresenceRepo) Upsert(ctx context.Context, p *models.PeerPresence) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.records[p.PeerID] = &cp
	return nil
}

func (f *fakePresenceRepo) Touch(ctx context.Context, peerID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.records[peerID]
	if !ok {
		return common.ErrorNotFound
	}
	p.LastHeartbeat = at
	return nil
}

func (f *fakePresenceRepo) SetStatus(ctx context.Context, peerID string, status string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.records[peerID]
	if !ok {
		return common.ErrorNotFound
	}
	p.Status = status
	p.LastHeartbeat = at
	return nil
}

func (f *fakePresenceRepo) Get(ctx context.Context, peerID string) (*models.PeerPresence, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.records[peerID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *p
	return &cp, nil
}

type fakeTransferRepo struct {
	mu      sync.Mutex
	records map[string]*models.Transfer

	createErr error
	listErr   error

	// loseDeliveredRace makes the next MarkDelivered behave as if a
	// concurrent duplicate ack won the conditional update first: the record
	// flips to delivered with the winner's timestamp and the caller's update
	// matches zero rows.
	loseDeliveredRace bool
	raceDeliveredAt   time.Time
}

func newFakeTransferRepo() *fakeTransferRepo {
	return &fakeTransferRepo{records: make(map[string]*models.Transfer)}
}

func (f *fakeTransferRepo) Create(ctx context.Context, t *models.Transfer) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.records[t.ID] = &cp
	return nil
}

func (f *fakeTransferRepo) GetByID(ctx context.Context, id string) (*models.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.records[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTransferRepo) ListReady(ctx context.Context, receiverID string) ([]*models.Transfer, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Transfer
	for _, t := range f.records {
		if t.ReceiverID == receiverID && t.Status == models.TransferStatusReady {
			cp := *t
			out = append(out, &cp)
		}
	}
	sortByReadyAtDesc(out)
	return out, nil
}

func (f *fakeTransferRepo) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.records[id]
	if !ok || t.Status != models.TransferStatusReady {
		return false, nil
	}
	if f.loseDeliveredRace {
		f.loseDeliveredRace = false
		winnerAt := f.raceDeliveredAt
		t.Status = models.TransferStatusDelivered
		t.DeliveredAt = &winnerAt
		return false, nil
	}
	t.Status = models.TransferStatusDelivered
	t.DeliveredAt = &at
	return true, nil
}

func (f *fakeTransferRepo) ListUnnotified(ctx context.Context, limit int) ([]*models.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Transfer
	for _, t := range f.records {
		if t.Status == models.TransferStatusReady && t.NotifiedAt == nil {
			cp := *t
			out = append(out, &cp)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeTransferRepo) MarkNotified(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.records[id]
	if ok && t.NotifiedAt == nil {
		t.NotifiedAt = &at
	}
	return nil
}

func sortByReadyAtDesc(ts []*models.Transfer) {
	for i := 1; i < len(ts); i++ {
		for j := i; j > 0 && ts[j].ReadyAt.After(ts[j-1].ReadyAt); j-- {
			ts[j], ts[j-1] = ts[j-1], ts[j]
		}
	}
}

type fakeRepoManager struct {
	p *fakePresenceRepo
	t *fakeTransferRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{p: newFakePresenceRepo(), t: newFakeTransferRepo()}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Presence(db dbx.DBTX) presencerepo.Repository { return m.p }
func (m *fakeRepoManager) Transfers(db dbx.DBTX) transfersrepo.Repository {
	return m.t
}

var _ repomanager.RepositoryManager = (*fakeRepoManager)(nil)
