// Package pkgcodec turns signed offchain attestations into compact,
// compressed strings that fit in a URL fragment or QR code, and back.
package pkgcodec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AgentMesh-Net/attest-go/internal/core/eip712"
	"github.com/AgentMesh-Net/attest-go/internal/core/offchain"
)

// ErrDecode is returned for any serialized package that cannot be decoded:
// bad base64, a corrupt or truncated zlib stream, malformed JSON, or a tuple
// of the wrong shape.
var ErrDecode = errors.New("decode error")

// Package is the unit that gets shared: a signed attestation and the
// address that is expected to have signed it.
type Package struct {
	Sig    offchain.SignedAttestation `json:"sig"`
	Signer common.Address             `json:"signer"`
}

// Verify authenticates the package against its own signer.
func (p *Package) Verify() error {
	return offchain.Verify(&p.Sig, p.Signer)
}

// SigShape tells which JSON layout a signed attestation arrived in.
type SigShape int

const (
	// ShapeCurrent nests the signature: {"signature":{"v","r","s"}}.
	ShapeCurrent SigShape = iota
	// ShapeLegacyFlat carries v, r and s at the top level.
	ShapeLegacyFlat
)

func (s SigShape) String() string {
	if s == ShapeLegacyFlat {
		return "legacy_flat"
	}
	return "current"
}

// HasFlatSignatureFields reports whether raw is a signed attestation object
// in the legacy layout, i.e. it has top-level v, r and s members.
func HasFlatSignatureFields(raw json.RawMessage) bool {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return false
	}
	_, v := members["v"]
	_, r := members["r"]
	_, s := members["s"]
	return v && r && s
}

// ParseSignedAttestationJSON decodes either layout of a signed attestation
// into the current one. An object carrying both layouts is rejected.
func ParseSignedAttestationJSON(raw json.RawMessage) (*offchain.SignedAttestation, SigShape, error) {
	if !HasFlatSignatureFields(raw) {
		var att offchain.SignedAttestation
		if err := json.Unmarshal(raw, &att); err != nil {
			return nil, ShapeCurrent, fmt.Errorf("%w: signed attestation: %v", ErrDecode, err)
		}
		return &att, ShapeCurrent, nil
	}

	var flat struct {
		offchain.SignedAttestation
		Nested json.RawMessage `json:"signature"`
		V      uint8           `json:"v"`
		R      common.Hash     `json:"r"`
		S      common.Hash     `json:"s"`
	}
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, ShapeLegacyFlat, fmt.Errorf("%w: legacy signed attestation: %v", ErrDecode, err)
	}
	if len(flat.Nested) > 0 && string(flat.Nested) != "null" {
		return nil, ShapeLegacyFlat, fmt.Errorf("%w: signed attestation has both nested and flat signature fields", ErrDecode)
	}
	att := flat.SignedAttestation
	att.Signature = eip712.Signature{V: flat.V, R: flat.R, S: flat.S}
	return &att, ShapeLegacyFlat, nil
}

// ParsePackageJSON decodes the object form {"sig":...,"signer":...} of a
// package, accepting either signature layout.
func ParsePackageJSON(data []byte) (*Package, SigShape, error) {
	var outer struct {
		Sig    json.RawMessage `json:"sig"`
		Signer common.Address  `json:"signer"`
	}
	if err := json.Unmarshal(data, &outer); err != nil {
		return nil, ShapeCurrent, fmt.Errorf("%w: package: %v", ErrDecode, err)
	}
	if len(outer.Sig) == 0 {
		return nil, ShapeCurrent, fmt.Errorf("%w: package: sig is required", ErrDecode)
	}
	att, shape, err := ParseSignedAttestationJSON(outer.Sig)
	if err != nil {
		return nil, shape, err
	}
	return &Package{Sig: *att, Signer: outer.Signer}, shape, nil
}
