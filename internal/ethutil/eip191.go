// Package ethutil provides Ethereum hashing, signing and signature recovery
// utilities.
package ethutil

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"
)

// ErrInvalidSignature is returned when signature format is wrong.
var ErrInvalidSignature = errors.New("invalid signature")

// ErrSignerMismatch is returned when recovered address != expected.
var ErrSignerMismatch = errors.New("signer mismatch")

// Keccak256 computes the Ethereum/legacy keccak256 hash of the concatenation
// of data.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}

// Keccak256Hash is Keccak256 returned as a common.Hash.
func Keccak256Hash(data ...[]byte) common.Hash {
	return common.BytesToHash(Keccak256(data...))
}

// Keccak256Hex returns a 0x-prefixed hex keccak256 hash of data.
func Keccak256Hex(data []byte) string {
	return hexutil.Encode(Keccak256(data))
}

// PersonalSignHash wraps msgHash with the Ethereum personal_sign prefix:
//
//	"\x19Ethereum Signed Message:\n32" + msgHash
//
// This matches MetaMask/ethers personal_sign behaviour.
func PersonalSignHash(msgHash []byte) []byte {
	return Keccak256([]byte("\x19Ethereum Signed Message:\n32"), msgHash)
}

// RecoverPersonalSign recovers the signer address from an EIP-191
// personal_sign signature over msgHash (the pre-computed message hash,
// i.e. keccak256(message)).
//
// sig must be 0x-prefixed hex of the 65-byte [R||S||V] signature as
// produced by MetaMask/ethers signMessage.
func RecoverPersonalSign(msgHash []byte, sig string) (common.Address, error) {
	sigBytes, err := hexutil.Decode(sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return RecoverHash(PersonalSignHash(msgHash), sigBytes)
}

// VerifyPersonalSign verifies that signature was produced by the owner of
// expected over keccak256(message).
//
// message is the raw message bytes (NOT pre-hashed).
// sig is 0x-prefixed 65-byte hex signature.
func VerifyPersonalSign(message []byte, sig string, expected common.Address) error {
	recovered, err := RecoverPersonalSign(Keccak256(message), sig)
	if err != nil {
		return err
	}
	if recovered != expected {
		return fmt.Errorf("%w: recovered=%s expected=%s", ErrSignerMismatch, recovered.Hex(), expected.Hex())
	}
	return nil
}

// SignPersonal produces an EIP-191 personal_sign signature over
// keccak256(message) with V=27/28, hex encoded.
func SignPersonal(signer Signer, message []byte) (string, error) {
	sig, err := signer.SignHash(PersonalSignHash(Keccak256(message)))
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}
