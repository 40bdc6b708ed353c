// Package canonicaljson implements RFC 8785 (JCS) JSON canonicalization.
// For arrays of strings, booleans and safe integers the output is identical
// to ECMAScript JSON.stringify, which is what shared packages are built from.
package canonicaljson

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// Marshal encodes v to JSON and returns its RFC 8785 canonical form.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonicaljson: marshal: %w", err)
	}
	return Transform(bytes.TrimRight(buf.Bytes(), "\n"))
}

// Transform takes raw JSON bytes and returns RFC 8785 canonical form.
func Transform(raw []byte) ([]byte, error) {
	out, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicaljson: transform: %w", err)
	}
	return out, nil
}
