package eip712

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/AgentMesh-Net/attest-go/internal/ethutil"
)

var testContract = common.HexToAddress("0xC2679fBD37d54388Ce493F1DB75320D236e1815e")

func testDomain() Domain {
	return BuildDomain(DomainName, "1.2.0", big.NewInt(11155111), testContract)
}

func newSigner(t *testing.T) *ethutil.KeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return ethutil.NewKeySigner(key)
}

func legacyMessage() Message {
	return Message{
		"schema":         "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"recipient":      "0x0000000000000000000000000000000000000000",
		"time":           big.NewInt(1000),
		"expirationTime": big.NewInt(0),
		"revocable":      true,
		"refUID":         "0x0000000000000000000000000000000000000000000000000000000000000000",
		"data":           []byte{0xbe, 0xef},
	}
}

func versionedMessage() Message {
	m := legacyMessage()
	m["version"] = big.NewInt(1)
	return m
}

func TestTypeSchemaFor(t *testing.T) {
	legacy := TypeSchemaFor(0)
	require.Equal(t, "Attestation", legacy.PrimaryType)
	require.Len(t, legacy.Fields, 7)
	require.False(t, legacy.HasField("version"))

	v1 := TypeSchemaFor(1)
	require.Equal(t, "Attest", v1.PrimaryType)
	require.Len(t, v1.Fields, 8)
	require.Equal(t, Field{Name: "version", Type: "uint16"}, v1.Fields[0])
	require.Equal(t, legacy.Fields, v1.Fields[1:])

	alt := SchemaFor(VariantLegacyAttest)
	require.Equal(t, "Attest", alt.PrimaryType)
	require.Equal(t, legacy.Fields, alt.Fields)
}

func TestSchemaFor_ReturnsCopies(t *testing.T) {
	a := TypeSchemaFor(1)
	a.Fields[0].Name = "mutated"
	require.Equal(t, "version", TypeSchemaFor(1).Fields[0].Name)
}

func TestSchemaFromTypes(t *testing.T) {
	s := TypeSchemaFor(1)
	got, err := SchemaFromTypes("Attest", s.Types())
	require.NoError(t, err)
	require.Equal(t, s, got)

	_, err = SchemaFromTypes("Attestation", s.Types())
	require.ErrorIs(t, err, ErrInvalidTypedData)
}

func TestSchemaFromTypes_LegacyNameUnderAttestKey(t *testing.T) {
	got, err := SchemaFromTypes("Attestation", SchemaFor(VariantLegacyAttest).Types())
	require.NoError(t, err)
	require.Equal(t, SchemaFor(VariantLegacy), got)

	// Only the exact legacy field list is accepted under the other key.
	odd := SchemaFor(VariantLegacyAttest)
	odd.Fields = odd.Fields[1:]
	_, err = SchemaFromTypes("Attestation", odd.Types())
	require.ErrorIs(t, err, ErrInvalidTypedData)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	signer := newSigner(t)
	for _, version := range []uint16{0, 1} {
		schema := TypeSchemaFor(version)
		msg := legacyMessage()
		if version > 0 {
			msg = versionedMessage()
		}

		sig, err := Sign(testDomain(), schema, msg, signer)
		require.NoError(t, err)
		require.Contains(t, []uint8{27, 28}, sig.V)

		ok, err := Verify(testDomain(), schema, msg, sig, signer.Address())
		require.NoError(t, err)
		require.True(t, ok, "version %d", version)

		got, err := Recover(testDomain(), schema, msg, sig)
		require.NoError(t, err)
		require.Equal(t, signer.Address(), got)
	}
}

func TestVerify_WrongSignerIsFalse(t *testing.T) {
	signer := newSigner(t)
	schema := TypeSchemaFor(1)
	sig, err := Sign(testDomain(), schema, versionedMessage(), signer)
	require.NoError(t, err)

	ok, err := Verify(testDomain(), schema, versionedMessage(), sig, newSigner(t).Address())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerify_GarbageSignatureIsFalse(t *testing.T) {
	ok, err := Verify(testDomain(), TypeSchemaFor(1), versionedMessage(), Signature{V: 27}, common.Address{})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerify_DomainSeparation(t *testing.T) {
	signer := newSigner(t)
	schema := TypeSchemaFor(1)
	sig, err := Sign(testDomain(), schema, versionedMessage(), signer)
	require.NoError(t, err)

	others := []Domain{
		BuildDomain(DomainName, "1.3.0", big.NewInt(11155111), testContract),
		BuildDomain(DomainName, "1.2.0", big.NewInt(1), testContract),
		BuildDomain(DomainName, "1.2.0", big.NewInt(11155111), common.HexToAddress("0x01")),
		BuildDomain("Other", "1.2.0", big.NewInt(11155111), testContract),
	}
	for _, d := range others {
		ok, err := Verify(d, schema, versionedMessage(), sig, signer.Address())
		require.NoError(t, err)
		require.False(t, ok, "domain %+v must not verify", d)
	}
}

func TestVerify_SchemaVariantMatters(t *testing.T) {
	signer := newSigner(t)
	sig, err := Sign(testDomain(), SchemaFor(VariantLegacy), legacyMessage(), signer)
	require.NoError(t, err)

	ok, err := Verify(testDomain(), SchemaFor(VariantLegacyAttest), legacyMessage(), sig, signer.Address())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerify_TamperedMessage(t *testing.T) {
	signer := newSigner(t)
	schema := TypeSchemaFor(1)
	sig, err := Sign(testDomain(), schema, versionedMessage(), signer)
	require.NoError(t, err)

	msg := versionedMessage()
	msg["data"] = []byte{0xbe, 0xee}
	ok, err := Verify(testDomain(), schema, msg, sig, signer.Address())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHash_MalformedInput(t *testing.T) {
	d := testDomain()
	d.Version = ""
	_, err := Hash(d, TypeSchemaFor(1), versionedMessage())
	require.ErrorIs(t, err, ErrInvalidTypedData)

	d = testDomain()
	d.ChainID = nil
	_, err = Verify(d, TypeSchemaFor(1), versionedMessage(), Signature{}, common.Address{})
	require.ErrorIs(t, err, ErrInvalidTypedData)

	_, err = Hash(testDomain(), TypeSchema{}, versionedMessage())
	require.ErrorIs(t, err, ErrInvalidTypedData)

	// A legacy schema cannot canonicalise a message that carries extra fields.
	_, err = Hash(testDomain(), TypeSchemaFor(0), versionedMessage())
	require.ErrorIs(t, err, ErrInvalidTypedData)

	msg := versionedMessage()
	delete(msg, "refUID")
	_, err = Sign(testDomain(), TypeSchemaFor(1), msg, newSigner(t))
	require.ErrorIs(t, err, ErrInvalidTypedData)
}

func TestSignature_Bytes(t *testing.T) {
	raw := make([]byte, 65)
	raw[0], raw[32], raw[64] = 0x01, 0x02, 1
	sig, err := SignatureFromBytes(raw)
	require.NoError(t, err)
	require.Equal(t, uint8(28), sig.V)
	require.Equal(t, byte(0x01), sig.R[0])
	require.Equal(t, byte(0x02), sig.S[0])

	back := sig.Bytes()
	require.Equal(t, byte(28), back[64])
	require.Equal(t, raw[:64], back[:64])

	_, err = SignatureFromBytes(raw[:64])
	require.ErrorIs(t, err, ethutil.ErrInvalidSignature)
}

func TestDomain_Equal(t *testing.T) {
	require.True(t, testDomain().Equal(testDomain()))
	other := testDomain()
	other.ChainID = big.NewInt(1)
	require.False(t, testDomain().Equal(other))
	other.ChainID = nil
	require.False(t, testDomain().Equal(other))
}
