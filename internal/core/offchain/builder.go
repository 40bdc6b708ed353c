package offchain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AgentMesh-Net/attest-go/internal/core/eip712"
	"github.com/AgentMesh-Net/attest-go/internal/ethutil"
)

// Params are the caller-chosen fields of a new attestation. Recipient and
// RefUID may be left zero.
type Params struct {
	Schema         common.Hash
	Recipient      common.Address
	Time           uint64
	ExpirationTime uint64
	Revocable      bool
	RefUID         common.Hash
	Data           []byte
	Nonce          uint64
}

// Attester signs offchain attestations bound to one contract deployment.
type Attester struct {
	domain eip712.Domain
}

// NewAttester returns an Attester for domain.
func NewAttester(domain eip712.Domain) (*Attester, error) {
	if err := domain.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return &Attester{domain: domain}, nil
}

// Domain is the deployment the attester signs for.
func (a *Attester) Domain() eip712.Domain { return a.domain }

// Create signs p at CurrentVersion.
func (a *Attester) Create(p Params, signer ethutil.Signer) (*SignedAttestation, error) {
	return a.CreateVersion(CurrentVersion, p, signer)
}

// CreateVersion signs p at the given protocol version.
func (a *Attester) CreateVersion(version uint16, p Params, signer ethutil.Signer) (*SignedAttestation, error) {
	if version > CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrValidation, version)
	}
	msg := Message{
		Version:        version,
		Schema:         p.Schema,
		Recipient:      p.Recipient,
		Time:           p.Time,
		ExpirationTime: p.ExpirationTime,
		Revocable:      p.Revocable,
		RefUID:         p.RefUID,
		Data:           append([]byte{}, p.Data...),
		Nonce:          p.Nonce,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	schema := eip712.TypeSchemaFor(version)
	sig, err := eip712.Sign(a.domain, schema, msg.TypedData(schema), signer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	return &SignedAttestation{
		Domain:      a.domain,
		PrimaryType: schema.PrimaryType,
		Types:       schema.Types(),
		Signature:   sig,
		UID:         msg.UID(),
		Message:     msg,
	}, nil
}
