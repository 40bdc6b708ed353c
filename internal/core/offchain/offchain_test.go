package offchain

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/AgentMesh-Net/attest-go/internal/core/eip712"
	"github.com/AgentMesh-Net/attest-go/internal/core/uid"
	"github.com/AgentMesh-Net/attest-go/internal/ethutil"
)

var (
	testContract = common.HexToAddress("0xC2679fBD37d54388Ce493F1DB75320D236e1815e")
	testSchema   = common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
)

func testAttester(t *testing.T) *Attester {
	t.Helper()
	a, err := NewAttester(eip712.BuildDomain(eip712.DomainName, "1.2.0", big.NewInt(11155111), testContract))
	require.NoError(t, err)
	return a
}

func testSigner(t *testing.T) *ethutil.KeySigner {
	t.Helper()
	s, err := ethutil.KeySignerFromHex("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)
	return s
}

func exampleParams() Params {
	return Params{
		Schema:    testSchema,
		Time:      1000,
		Revocable: true,
		Data:      []byte{0xbe, 0xef},
	}
}

func TestCreate_Example(t *testing.T) {
	signer := testSigner(t)
	att, err := testAttester(t).Create(exampleParams(), signer)
	require.NoError(t, err)

	require.Equal(t, CurrentVersion, att.Message.Version)
	require.Equal(t, "Attest", att.PrimaryType)
	require.Contains(t, att.Types, "Attest")
	require.Equal(t, uid.ZeroAddress, att.Message.Recipient)
	require.Equal(t, uid.ZeroUID, att.Message.RefUID)
	require.Equal(t, "0x7d62a0b9ddd9e27d12801a94e9f1a70da0b600b9f6285c1bafb53976394c7ad6", att.UID.Hex())

	require.NoError(t, att.ValidateBasic())
	require.NoError(t, Verify(att, signer.Address()))
	require.True(t, Valid(att, signer.Address()))
}

func TestCreateVersion_Legacy(t *testing.T) {
	signer := testSigner(t)
	att, err := testAttester(t).CreateVersion(0, exampleParams(), signer)
	require.NoError(t, err)

	require.Equal(t, "Attestation", att.PrimaryType)
	require.Equal(t, "0x96afd69b1cc11069c87a5310bb4a28912209f74270e2fd68ff4e377323d41144", att.UID.Hex())
	require.NoError(t, Verify(att, signer.Address()))
}

func TestCreate_Deterministic(t *testing.T) {
	a, err := testAttester(t).Create(exampleParams(), testSigner(t))
	require.NoError(t, err)
	b, err := testAttester(t).Create(exampleParams(), testSigner(t))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCreate_Validation(t *testing.T) {
	p := exampleParams()
	p.ExpirationTime = 999
	_, err := testAttester(t).Create(p, testSigner(t))
	require.ErrorIs(t, err, ErrValidation)

	p.ExpirationTime = 1000
	_, err = testAttester(t).Create(p, testSigner(t))
	require.ErrorIs(t, err, ErrValidation)

	p.ExpirationTime = 1001
	_, err = testAttester(t).Create(p, testSigner(t))
	require.NoError(t, err)

	_, err = testAttester(t).CreateVersion(CurrentVersion+1, exampleParams(), testSigner(t))
	require.ErrorIs(t, err, ErrValidation)
}

func TestNewAttester_IncompleteDomain(t *testing.T) {
	_, err := NewAttester(eip712.Domain{Name: eip712.DomainName, ChainID: big.NewInt(1)})
	require.ErrorIs(t, err, ErrValidation)
	require.ErrorIs(t, err, eip712.ErrInvalidTypedData)
}

func TestVerify_WrongSigner(t *testing.T) {
	att, err := testAttester(t).Create(exampleParams(), testSigner(t))
	require.NoError(t, err)

	err = Verify(att, common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"))
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestVerify_TamperedMessage(t *testing.T) {
	signer := testSigner(t)
	tampers := map[string]func(m *Message){
		"schema":         func(m *Message) { m.Schema[31] ^= 1 },
		"recipient":      func(m *Message) { m.Recipient[0] = 1 },
		"time":           func(m *Message) { m.Time++ },
		"expirationTime": func(m *Message) { m.ExpirationTime = 5000 },
		"revocable":      func(m *Message) { m.Revocable = !m.Revocable },
		"refUID":         func(m *Message) { m.RefUID[0] = 1 },
		"data":           func(m *Message) { m.Data[1] ^= 0xff },
		"version":        func(m *Message) { m.Version = 0 },
	}
	for name, tamper := range tampers {
		t.Run(name, func(t *testing.T) {
			att, err := testAttester(t).Create(exampleParams(), signer)
			require.NoError(t, err)

			tamper(&att.Message)
			require.ErrorIs(t, Verify(att, signer.Address()), ErrIntegrity)

			// Even with the uid patched up the signature no longer matches.
			att.UID = att.Message.UID()
			require.ErrorIs(t, Verify(att, signer.Address()), ErrIntegrity)
		})
	}
}

func TestVerify_NonceIsNotSigned(t *testing.T) {
	signer := testSigner(t)
	att, err := testAttester(t).Create(exampleParams(), signer)
	require.NoError(t, err)

	att.Message.Nonce = 42
	require.Equal(t, att.UID, att.Message.UID())
	require.NoError(t, Verify(att, signer.Address()))
}

func TestVerify_UIDMismatch(t *testing.T) {
	signer := testSigner(t)
	att, err := testAttester(t).Create(exampleParams(), signer)
	require.NoError(t, err)

	att.UID[0] ^= 0xff
	require.ErrorIs(t, att.CheckUID(), ErrIntegrity)
	require.ErrorIs(t, Verify(att, signer.Address()), ErrIntegrity)
}

func TestVerify_SchemaMustMatchVersion(t *testing.T) {
	signer := testSigner(t)
	att, err := testAttester(t).CreateVersion(0, exampleParams(), signer)
	require.NoError(t, err)

	// Relabel a legacy attestation as version 1 without touching its types.
	att.Message.Version = 1
	att.UID = att.Message.UID()
	require.ErrorIs(t, Verify(att, signer.Address()), ErrIntegrity)
}

func TestVerify_LegacyAlternateTypeName(t *testing.T) {
	signer := testSigner(t)
	a := testAttester(t)

	msg := Message{Schema: testSchema, Time: 1000, Revocable: true, Data: []byte{0xbe, 0xef}}
	alt := eip712.SchemaFor(eip712.VariantLegacyAttest)
	sig, err := eip712.Sign(a.Domain(), alt, msg.TypedData(alt), signer)
	require.NoError(t, err)

	// Labelled with the canonical legacy schema, as a decoder would.
	legacy := eip712.TypeSchemaFor(0)
	att := &SignedAttestation{
		Domain:      a.Domain(),
		PrimaryType: legacy.PrimaryType,
		Types:       legacy.Types(),
		Signature:   sig,
		UID:         msg.UID(),
		Message:     msg,
	}
	require.NoError(t, Verify(att, signer.Address()))
}

func TestVerify_MissingPrimaryType(t *testing.T) {
	signer := testSigner(t)
	att, err := testAttester(t).Create(exampleParams(), signer)
	require.NoError(t, err)

	att.PrimaryType = "Nope"
	require.ErrorIs(t, Verify(att, signer.Address()), ErrValidation)
	require.ErrorIs(t, att.ValidateBasic(), ErrValidation)
}

func TestMessage_Expired(t *testing.T) {
	m := Message{Time: 1000}
	require.False(t, m.Expired(time.Unix(1<<40, 0)))

	m.ExpirationTime = 2000
	require.False(t, m.Expired(time.Unix(1999, 0)))
	require.True(t, m.Expired(time.Unix(2000, 0)))
}

func TestSignedAttestation_JSONShape(t *testing.T) {
	att, err := testAttester(t).Create(exampleParams(), testSigner(t))
	require.NoError(t, err)

	raw, err := json.Marshal(att)
	require.NoError(t, err)

	var generic map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &generic))
	for _, k := range []string{"domain", "primaryType", "types", "signature", "uid", "message"} {
		require.Contains(t, generic, k)
	}
	require.JSONEq(t, `{"name":"EAS Attestation","version":"1.2.0","chainId":11155111,"verifyingContract":"0xc2679fbd37d54388ce493f1db75320d236e1815e"}`,
		string(generic["domain"]))

	var back SignedAttestation
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, att.UID, back.UID)
	require.NoError(t, Verify(&back, testSigner(t).Address()))
}
