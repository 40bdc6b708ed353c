package eip712

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Field is one member of a typed-data struct.
type Field = apitypes.Type

// Variant selects one of the fixed attestation type schemas.
type Variant uint8

const (
	// VariantLegacy is the version-0 "Attestation" struct.
	VariantLegacy Variant = iota
	// VariantLegacyAttest is the version-0 struct published under the
	// "Attest" name by some releases. Only used as a verification fallback.
	VariantLegacyAttest
	// VariantVersioned is the "Attest" struct led by a uint16 version.
	VariantVersioned
)

const (
	primaryLegacy = "Attestation"
	primaryAttest = "Attest"
)

var attestFields = []Field{
	{Name: "schema", Type: "bytes32"},
	{Name: "recipient", Type: "address"},
	{Name: "time", Type: "uint64"},
	{Name: "expirationTime", Type: "uint64"},
	{Name: "revocable", Type: "bool"},
	{Name: "refUID", Type: "bytes32"},
	{Name: "data", Type: "bytes"},
}

var versionField = Field{Name: "version", Type: "uint16"}

// TypeSchema is the struct definition a message is canonicalised under.
type TypeSchema struct {
	PrimaryType string
	Fields      []Field
}

// SchemaFor returns a fresh copy of the schema for v.
func SchemaFor(v Variant) TypeSchema {
	switch v {
	case VariantVersioned:
		return TypeSchema{PrimaryType: primaryAttest, Fields: append([]Field{versionField}, attestFields...)}
	case VariantLegacyAttest:
		return TypeSchema{PrimaryType: primaryAttest, Fields: slices.Clone(attestFields)}
	default:
		return TypeSchema{PrimaryType: primaryLegacy, Fields: slices.Clone(attestFields)}
	}
}

// VariantFor maps an attestation protocol version to its schema variant.
func VariantFor(version uint16) Variant {
	if version == 0 {
		return VariantLegacy
	}
	return VariantVersioned
}

// TypeSchemaFor returns the schema messages of the given protocol version
// are signed under.
func TypeSchemaFor(version uint16) TypeSchema {
	return SchemaFor(VariantFor(version))
}

// SchemaFromTypes picks primaryType out of a types map. Legacy packages name
// their primary type "Attestation" but store the struct under "Attest"; that
// pairing resolves to VariantLegacy.
func SchemaFromTypes(primaryType string, types apitypes.Types) (TypeSchema, error) {
	fields, ok := types[primaryType]
	if !ok && primaryType == primaryLegacy && slices.Equal(types[primaryAttest], attestFields) {
		return SchemaFor(VariantLegacy), nil
	}
	if !ok {
		return TypeSchema{}, fmt.Errorf("%w: primary type %q not defined", ErrInvalidTypedData, primaryType)
	}
	return TypeSchema{PrimaryType: primaryType, Fields: slices.Clone(fields)}, nil
}

// Types is the schema as a types map, without EIP712Domain.
func (s TypeSchema) Types() apitypes.Types {
	return apitypes.Types{s.PrimaryType: slices.Clone(s.Fields)}
}

// HasField reports whether the schema declares name.
func (s TypeSchema) HasField(name string) bool {
	return slices.ContainsFunc(s.Fields, func(f Field) bool { return f.Name == name })
}

// Validate rejects empty or malformed schemas.
func (s TypeSchema) Validate() error {
	if s.PrimaryType == "" {
		return fmt.Errorf("%w: primary type is required", ErrInvalidTypedData)
	}
	if s.PrimaryType == "EIP712Domain" {
		return fmt.Errorf("%w: primary type cannot be EIP712Domain", ErrInvalidTypedData)
	}
	if len(s.Fields) == 0 {
		return fmt.Errorf("%w: type %s has no fields", ErrInvalidTypedData, s.PrimaryType)
	}
	for i, f := range s.Fields {
		if f.Name == "" || f.Type == "" {
			return fmt.Errorf("%w: field %d of %s is incomplete", ErrInvalidTypedData, i, s.PrimaryType)
		}
	}
	return nil
}
