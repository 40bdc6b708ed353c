package offchain

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AgentMesh-Net/attest-go/internal/core/eip712"
)

// Verify checks that att's uid matches its message and that expected signed
// it. A failed check wraps ErrIntegrity; malformed input wraps ErrValidation.
func Verify(att *SignedAttestation, expected common.Address) error {
	if err := att.CheckUID(); err != nil {
		return err
	}
	schema, err := att.TypeSchema()
	if err != nil {
		return err
	}

	// The version is folded into the uid but only signed when the schema
	// carries it, so the two have to agree.
	if schema.HasField("version") != (att.Message.Version > 0) {
		return fmt.Errorf("%w: %s type does not match message version %d", ErrIntegrity, schema.PrimaryType, att.Message.Version)
	}

	for _, candidate := range candidateSchemas(schema, att.Message.Version) {
		ok, err := eip712.Verify(att.Domain, candidate, att.Message.TypedData(candidate), att.Signature, expected)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: signature was not produced by %s", ErrIntegrity, expected.Hex())
}

// Valid is Verify as a predicate.
func Valid(att *SignedAttestation, expected common.Address) bool {
	return Verify(att, expected) == nil
}

// candidateSchemas lists the schemas a signature is checked against. Legacy
// attestations circulated under two struct names with identical fields.
func candidateSchemas(claimed eip712.TypeSchema, version uint16) []eip712.TypeSchema {
	out := []eip712.TypeSchema{claimed}
	if version != 0 {
		return out
	}
	legacy := eip712.SchemaFor(eip712.VariantLegacy)
	alt := eip712.SchemaFor(eip712.VariantLegacyAttest)
	switch {
	case sameSchema(claimed, legacy):
		out = append(out, alt)
	case sameSchema(claimed, alt):
		out = append(out, legacy)
	}
	return out
}

func sameSchema(a, b eip712.TypeSchema) bool {
	return a.PrimaryType == b.PrimaryType && slices.Equal(a.Fields, b.Fields)
}
