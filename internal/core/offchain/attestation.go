// Package offchain builds and verifies signed offchain attestations.
package offchain

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/AgentMesh-Net/attest-go/internal/core/eip712"
	"github.com/AgentMesh-Net/attest-go/internal/core/uid"
)

// CurrentVersion is the protocol version new attestations are signed at.
const CurrentVersion uint16 = 1

var (
	// ErrValidation is returned for malformed attestation input.
	ErrValidation = errors.New("validation error")
	// ErrIntegrity is returned when an attestation's uid or signature does
	// not check out. Callers making trust decisions must not ignore it.
	ErrIntegrity = errors.New("integrity error")
)

// Message is the attested payload.
type Message struct {
	// Version is the protocol generation; 0 is the legacy format.
	Version        uint16         `json:"version"`
	Schema         common.Hash    `json:"schema"`
	Recipient      common.Address `json:"recipient"`
	Time           uint64         `json:"time"`
	ExpirationTime uint64         `json:"expirationTime"`
	Revocable      bool           `json:"revocable"`
	RefUID         common.Hash    `json:"refUID"`
	Data           hexutil.Bytes  `json:"data"`
	// Nonce travels with the package but is neither signed nor part of the
	// uid. Anyone can change it without failing Verify, so do not base trust
	// decisions on it.
	Nonce          uint64         `json:"nonce"`
}

// UID recomputes the offchain identifier of m.
func (m *Message) UID() common.Hash {
	return uid.OffchainUID(m.Version, m.Schema, m.Recipient, m.Time, m.ExpirationTime, m.Revocable, m.RefUID, m.Data)
}

// Validate checks timing consistency.
func (m *Message) Validate() error {
	if m.ExpirationTime != 0 && m.ExpirationTime <= m.Time {
		return fmt.Errorf("%w: expirationTime %d must be 0 or after time %d", ErrValidation, m.ExpirationTime, m.Time)
	}
	return nil
}

// Expired reports whether m carries an expiry that lies before now.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpirationTime != 0 && uint64(now.Unix()) >= m.ExpirationTime
}

// TypedData renders m as the field map schema declares. Fields the schema
// does not name, such as nonce, are not signed.
func (m *Message) TypedData(schema eip712.TypeSchema) eip712.Message {
	out := make(eip712.Message, len(schema.Fields))
	for _, f := range schema.Fields {
		switch f.Name {
		case "version":
			out[f.Name] = new(big.Int).SetUint64(uint64(m.Version))
		case "schema":
			out[f.Name] = m.Schema.Hex()
		case "recipient":
			out[f.Name] = m.Recipient.Hex()
		case "time":
			out[f.Name] = new(big.Int).SetUint64(m.Time)
		case "expirationTime":
			out[f.Name] = new(big.Int).SetUint64(m.ExpirationTime)
		case "revocable":
			out[f.Name] = m.Revocable
		case "refUID":
			out[f.Name] = m.RefUID.Hex()
		case "data":
			out[f.Name] = append([]byte{}, m.Data...)
		case "nonce":
			out[f.Name] = new(big.Int).SetUint64(m.Nonce)
		}
	}
	return out
}

// SignedAttestation is a Message together with its EIP712 envelope and
// signature.
type SignedAttestation struct {
	Domain      eip712.Domain    `json:"domain"`
	PrimaryType string           `json:"primaryType"`
	Types       apitypes.Types   `json:"types"`
	Signature   eip712.Signature `json:"signature"`
	UID         common.Hash      `json:"uid"`
	Message     Message          `json:"message"`
}

// TypeSchema extracts the schema the attestation claims to be signed under.
func (a *SignedAttestation) TypeSchema() (eip712.TypeSchema, error) {
	s, err := eip712.SchemaFromTypes(a.PrimaryType, a.Types)
	if err != nil {
		return eip712.TypeSchema{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return s, nil
}

// CheckUID recomputes the identifier from the message and compares it with
// the claimed one.
func (a *SignedAttestation) CheckUID() error {
	if got := a.Message.UID(); got != a.UID {
		return fmt.Errorf("%w: uid mismatch: claimed=%s computed=%s", ErrIntegrity, a.UID.Hex(), got.Hex())
	}
	return nil
}

// ValidateBasic checks that every structural field is present.
func (a *SignedAttestation) ValidateBasic() error {
	if err := a.Domain.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	s, err := a.TypeSchema()
	if err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return a.Message.Validate()
}
