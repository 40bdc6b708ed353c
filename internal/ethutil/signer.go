package ethutil

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of an [R||S||V] secp256k1 signature.
const SignatureLength = crypto.SignatureLength

// Signer is the signing capability handed to operations that need to produce
// a signature. Implementations hold the key; callers never see it.
type Signer interface {
	// Address is the Ethereum address controlled by the signer.
	Address() common.Address
	// SignHash signs a 32-byte digest and returns [R||S||V] with V=27/28.
	SignHash(hash []byte) ([]byte, error)
}

// KeySigner is a Signer backed by an in-memory secp256k1 private key.
type KeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewKeySigner wraps key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// KeySignerFromHex parses a hex private key (with or without 0x).
func KeySignerFromHex(s string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(trim0x(s))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewKeySigner(key), nil
}

func (k *KeySigner) Address() common.Address { return k.addr }

func (k *KeySigner) SignHash(hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, k.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverHash recovers the address that produced sig over hash. V may be
// 0/1 or 27/28.
func RecoverHash(hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, SignatureLength, len(sig))
	}

	// crypto.SigToPub expects V=0/1.
	sig = append([]byte(nil), sig...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: bad recovery id %d", ErrInvalidSignature, sig[64])
	}

	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
