package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryRepo is a Repo held in process memory. Contents are lost on exit.
type MemoryRepo struct {
	mu          sync.RWMutex
	recs        map[common.Hash]*Record
	checkpoints map[uint64]uint64
	now         func() time.Time
}

// NewMemoryRepo returns an empty MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{recs: make(map[common.Hash]*Record), checkpoints: make(map[uint64]uint64), now: time.Now}
}

func (m *MemoryRepo) InsertPackage(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.UID]; ok {
		return ErrConflict
	}
	rec.InsertedAt = m.now().UTC()
	cp := *rec
	m.recs[rec.UID] = &cp
	return nil
}

func (m *MemoryRepo) GetPackage(_ context.Context, uid common.Hash) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[uid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryRepo) ListPackages(_ context.Context, filter Filter, limit int, cursor *Cursor) ([]*Record, *Cursor, error) {
	var (
		after     time.Time
		afterUID  common.Hash
		hasCursor = cursor != nil
	)
	if hasCursor {
		t, err := time.Parse(time.RFC3339Nano, cursor.InsertedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("parse cursor time: %w", err)
		}
		after, afterUID = t, common.HexToHash(cursor.UID)
	}

	m.mu.RLock()
	var items []*Record
	for _, rec := range m.recs {
		if !filter.matches(rec) {
			continue
		}
		if hasCursor && !pastCursor(rec, after, afterUID) {
			continue
		}
		cp := *rec
		items = append(items, &cp)
	}
	m.mu.RUnlock()

	slices.SortFunc(items, func(a, b *Record) int {
		if c := b.InsertedAt.Compare(a.InsertedAt); c != 0 {
			return c
		}
		return b.UID.Cmp(a.UID)
	})

	var next *Cursor
	if len(items) > limit {
		next = cursorFor(items[limit-1])
		items = items[:limit]
	}
	return items, next, nil
}

// pastCursor reports whether rec sorts after the cursor position (t, uid) in
// descending order.
func pastCursor(rec *Record, t time.Time, uid common.Hash) bool {
	if c := rec.InsertedAt.Compare(t); c != 0 {
		return c < 0
	}
	return rec.UID.Cmp(uid) < 0
}

func (m *MemoryRepo) MarkTimestamped(_ context.Context, chainID uint64, uid common.Hash, at time.Time, tx common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[uid]
	if !ok || rec.ChainID != chainID || rec.TimestampedAt != nil {
		return ErrNotFound
	}
	at = at.UTC()
	rec.TimestampedAt, rec.TimestampTx = &at, tx.Hex()
	return nil
}

func (m *MemoryRepo) MarkRevoked(_ context.Context, chainID uint64, revoker common.Address, uid common.Hash, at time.Time, tx common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[uid]
	if !ok || rec.ChainID != chainID || rec.Signer != revoker || rec.RevokedAt != nil {
		return ErrNotFound
	}
	at = at.UTC()
	rec.RevokedAt, rec.RevocationTx = &at, tx.Hex()
	return nil
}

func (m *MemoryRepo) Withdraw(_ context.Context, uid common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[uid]; !ok {
		return ErrNotFound
	}
	delete(m.recs, uid)
	return nil
}

func (m *MemoryRepo) Checkpoint(_ context.Context, chainID uint64) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	block, ok := m.checkpoints[chainID]
	return block, ok, nil
}

func (m *MemoryRepo) SetCheckpoint(_ context.Context, chainID uint64, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[chainID] = block
	return nil
}
