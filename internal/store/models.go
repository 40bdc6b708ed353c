package store

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AgentMesh-Net/attest-go/internal/core/pkgcodec"
)

// Record is one stored package together with the onchain facts the chain
// watcher has learned about it.
type Record struct {
	UID      common.Hash
	ChainID  uint64
	Contract common.Address
	Version  uint16
	Schema   common.Hash
	Signer   common.Address
	// Recipient is the zero address for attestations without one.
	Recipient common.Address
	Encoded   string
	Package   pkgcodec.Package

	TimestampedAt *time.Time
	TimestampTx   string
	RevokedAt     *time.Time
	RevocationTx  string
	InsertedAt    time.Time
}

// NewRecord indexes pkg. The package must already be verified.
func NewRecord(pkg *pkgcodec.Package) (*Record, error) {
	encoded, err := pkgcodec.Serialize(pkg)
	if err != nil {
		return nil, fmt.Errorf("serialize package: %w", err)
	}
	sig := &pkg.Sig
	if sig.Domain.ChainID == nil || !sig.Domain.ChainID.IsUint64() {
		return nil, fmt.Errorf("chain id %v out of range", sig.Domain.ChainID)
	}
	return &Record{
		UID:       sig.UID,
		ChainID:   sig.Domain.ChainID.Uint64(),
		Contract:  sig.Domain.VerifyingContract,
		Version:   sig.Message.Version,
		Schema:    sig.Message.Schema,
		Signer:    pkg.Signer,
		Recipient: sig.Message.Recipient,
		Encoded:   encoded,
		Package:   *pkg,
	}, nil
}

// Filter narrows ListPackages. Zero fields match everything.
type Filter struct {
	Signer    *common.Address
	Schema    *common.Hash
	Recipient *common.Address
	ChainID   uint64
}

func (f Filter) matches(r *Record) bool {
	if f.Signer != nil && *f.Signer != r.Signer {
		return false
	}
	if f.Schema != nil && *f.Schema != r.Schema {
		return false
	}
	if f.Recipient != nil && *f.Recipient != r.Recipient {
		return false
	}
	return f.ChainID == 0 || f.ChainID == r.ChainID
}
