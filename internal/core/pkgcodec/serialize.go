package pkgcodec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/klauspost/compress/zlib"

	"github.com/AgentMesh-Net/attest-go/internal/core/canonicaljson"
	"github.com/AgentMesh-Net/attest-go/internal/core/wire"
)

// MaxInflatedSize caps the decompressed size of a serialized package.
const MaxInflatedSize = 1 << 20

// URLPrefix is the path and fragment key shareable links are built from.
const URLPrefix = "/offchain/url/#attestation="

const fragmentKey = "attestation="

// Serialize encodes pkg as compact tuple → canonical JSON → zlib at best
// compression → standard base64.
func Serialize(pkg *Package) (string, error) {
	jsoned, err := canonicaljson.Marshal(Compact(pkg))
	if err != nil {
		return "", err
	}
	zipped, err := deflate(jsoned)
	if err != nil {
		return "", err
	}
	return wire.EncodeBase64(zipped), nil
}

// Deserialize reverses Serialize. Every failure wraps ErrDecode.
func Deserialize(s string) (*Package, error) {
	zipped, err := wire.DecodeBase64(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	jsoned, err := inflate(zipped)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	var c CompactPackage
	if err := json.Unmarshal(jsoned, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Uncompact(c)
}

// ShareableURL returns URLPrefix followed by the percent-encoded serialized
// package.
func ShareableURL(pkg *Package) (string, error) {
	s, err := Serialize(pkg)
	if err != nil {
		return "", err
	}
	return URLFor(s), nil
}

// URLFor builds the shareable link of an already serialized package.
func URLFor(encoded string) string {
	return URLPrefix + url.QueryEscape(encoded)
}

// ParseShareableURL extracts and deserializes the package carried in the
// "attestation" fragment parameter of a shareable link, absolute or not.
func ParseShareableURL(link string) (*Package, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return nil, fmt.Errorf("%w: url: %v", ErrDecode, err)
	}
	for _, part := range strings.Split(u.EscapedFragment(), "&") {
		if encoded, ok := strings.CutPrefix(part, fragmentKey); ok {
			s, err := url.PathUnescape(encoded)
			if err != nil {
				return nil, fmt.Errorf("%w: url fragment: %v", ErrDecode, err)
			}
			return Deserialize(s)
		}
	}
	return nil, fmt.Errorf("%w: url has no attestation fragment", ErrDecode)
}

func deflate(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	return buf.Bytes(), nil
}

func inflate(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, MaxInflatedSize+1))
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	if len(out) > MaxInflatedSize {
		return nil, fmt.Errorf("inflate: payload exceeds %d bytes", MaxInflatedSize)
	}
	return out, nil
}
