package store

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Cursor represents a pagination cursor for list queries.
type Cursor struct {
	InsertedAt string `json:"c"`
	UID        string `json:"i"`
}

func cursorFor(r *Record) *Cursor {
	return &Cursor{InsertedAt: r.InsertedAt.UTC().Format(time.RFC3339Nano), UID: r.UID.Hex()}
}

// Repo defines the storage interface for attestation packages.
type Repo interface {
	// InsertPackage stores a verified package. Returns ErrConflict if the uid
	// is already stored.
	InsertPackage(ctx context.Context, rec *Record) error

	// GetPackage retrieves a single package by uid.
	GetPackage(ctx context.Context, uid common.Hash) (*Record, error)

	// ListPackages returns packages matching filter with cursor-based
	// pagination. Results are ordered by inserted_at DESC, uid DESC.
	ListPackages(ctx context.Context, filter Filter, limit int, cursor *Cursor) (items []*Record, next *Cursor, err error)

	// MarkTimestamped records an onchain timestamp of uid. Returns
	// ErrNotFound when no untimestamped package on chainID has that uid.
	MarkTimestamped(ctx context.Context, chainID uint64, uid common.Hash, at time.Time, tx common.Hash) error

	// MarkRevoked records an offchain revocation of uid by revoker. Only the
	// package's own signer can revoke it; other revokers yield ErrNotFound.
	MarkRevoked(ctx context.Context, chainID uint64, revoker common.Address, uid common.Hash, at time.Time, tx common.Hash) error

	// Withdraw deletes the package with uid.
	Withdraw(ctx context.Context, uid common.Hash) error

	// Checkpoint returns the last block on chainID whose logs have all been
	// applied. ok is false until SetCheckpoint is first called.
	Checkpoint(ctx context.Context, chainID uint64) (block uint64, ok bool, err error)

	// SetCheckpoint records block as fully applied on chainID.
	SetCheckpoint(ctx context.Context, chainID uint64, block uint64) error
}
