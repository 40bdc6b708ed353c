// Package wire decodes the textual field encodings used by serialized
// attestation packages: 0x-prefixed hex for addresses, hashes and byte
// strings, and base64 for the package body.
package wire

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// DecodeAddress decodes a 0x-prefixed 20-byte hex address. Checksum casing
// is not enforced.
func DecodeAddress(s string) (common.Address, error) {
	b, err := decodeFixed(s, common.AddressLength)
	if err != nil {
		return common.Address{}, fmt.Errorf("address: %w", err)
	}
	return common.BytesToAddress(b), nil
}

// DecodeHash decodes a 0x-prefixed 32-byte hex value.
func DecodeHash(s string) (common.Hash, error) {
	b, err := decodeFixed(s, common.HashLength)
	if err != nil {
		return common.Hash{}, fmt.Errorf("bytes32: %w", err)
	}
	return common.BytesToHash(b), nil
}

// DecodeBytes decodes a 0x-prefixed hex byte string of any even length.
// "0x" is the empty byte string.
func DecodeBytes(s string) ([]byte, error) {
	if !has0x(s) {
		return nil, fmt.Errorf("bytes: missing 0x prefix")
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, fmt.Errorf("bytes: %w", err)
	}
	return b, nil
}

// DecodeBase64 decodes standard base64 with or without '=' padding. The
// URL-safe alphabet is also accepted, since shared links are sometimes
// rewritten by the channel carrying them.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("invalid base64: empty input")
	}
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	s = strings.TrimRight(s, "=")
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return b, nil
}

// EncodeBase64 is standard padded base64.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decodeFixed(s string, size int) ([]byte, error) {
	if !has0x(s) {
		return nil, fmt.Errorf("missing 0x prefix")
	}
	if len(s)-2 != size*2 {
		return nil, fmt.Errorf("expected %d bytes, got %d hex chars", size, len(s)-2)
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, err
	}
	return b, nil
}

func has0x(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
