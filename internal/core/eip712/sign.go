package eip712

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/AgentMesh-Net/attest-go/internal/ethutil"
)

// Message holds field values keyed by field name, in the forms
// go-ethereum's typed-data encoder accepts (*big.Int, bool, hex strings,
// []byte).
type Message = apitypes.TypedDataMessage

// Signature is a secp256k1 signature split into its components. V is 27/28.
type Signature struct {
	V uint8       `json:"v"`
	R common.Hash `json:"r"`
	S common.Hash `json:"s"`
}

// SignatureFromBytes splits a 65-byte [R||S||V] signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != ethutil.SignatureLength {
		return Signature{}, fmt.Errorf("%w: expected %d bytes, got %d", ethutil.ErrInvalidSignature, ethutil.SignatureLength, len(b))
	}
	v := b[64]
	if v < 27 {
		v += 27
	}
	return Signature{V: v, R: common.BytesToHash(b[:32]), S: common.BytesToHash(b[32:64])}, nil
}

// Bytes joins the components back into [R||S||V].
func (s Signature) Bytes() []byte {
	out := make([]byte, 0, ethutil.SignatureLength)
	out = append(out, s.R[:]...)
	out = append(out, s.S[:]...)
	return append(out, s.V)
}

// Hash returns the EIP712 digest keccak256("\x19\x01" ‖ domainSeparator ‖ hashStruct(message)).
func Hash(domain Domain, schema TypeSchema, msg Message) ([]byte, error) {
	if err := domain.Validate(); err != nil {
		return nil, err
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain":     domainFields,
			schema.PrimaryType: schema.Fields,
		},
		PrimaryType: schema.PrimaryType,
		Domain:      domain.typed(),
		Message:     msg,
	}
	digest, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTypedData, err)
	}
	return digest, nil
}

// Sign signs msg under domain and schema with signer.
func Sign(domain Domain, schema TypeSchema, msg Message, signer ethutil.Signer) (Signature, error) {
	digest, err := Hash(domain, schema, msg)
	if err != nil {
		return Signature{}, err
	}
	raw, err := signer.SignHash(digest)
	if err != nil {
		return Signature{}, fmt.Errorf("sign typed data: %w", err)
	}
	return SignatureFromBytes(raw)
}

// Recover returns the address that produced sig over msg.
func Recover(domain Domain, schema TypeSchema, msg Message, sig Signature) (common.Address, error) {
	digest, err := Hash(domain, schema, msg)
	if err != nil {
		return common.Address{}, err
	}
	return ethutil.RecoverHash(digest, sig.Bytes())
}

// Verify reports whether claimed produced sig over msg. A signature that
// does not recover, or recovers to another address, yields false with a nil
// error; only malformed typed data is an error.
func Verify(domain Domain, schema TypeSchema, msg Message, sig Signature, claimed common.Address) (bool, error) {
	digest, err := Hash(domain, schema, msg)
	if err != nil {
		return false, err
	}
	recovered, err := ethutil.RecoverHash(digest, sig.Bytes())
	if err != nil {
		return false, nil
	}
	return recovered == claimed, nil
}
