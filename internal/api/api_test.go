package api

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/AgentMesh-Net/attest-go/internal/config"
	"github.com/AgentMesh-Net/attest-go/internal/core/eip712"
	"github.com/AgentMesh-Net/attest-go/internal/core/offchain"
	"github.com/AgentMesh-Net/attest-go/internal/core/pkgcodec"
	"github.com/AgentMesh-Net/attest-go/internal/ethutil"
	"github.com/AgentMesh-Net/attest-go/internal/store"
)

const (
	aliceKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	bobKey   = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var (
	testContract = common.HexToAddress("0xC2679fBD37d54388Ce493F1DB75320D236e1815e")
	testSchema   = common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	testDomain   = eip712.BuildDomain(eip712.DomainName, "1.2.0", big.NewInt(11155111), testContract)
)

type testEnv struct {
	router http.Handler
	repo   *store.MemoryRepo
	alice  *ethutil.KeySigner
	bob    *ethutil.KeySigner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	alice, err := ethutil.KeySignerFromHex(aliceKey)
	require.NoError(t, err)
	bob, err := ethutil.KeySignerFromHex(bobKey)
	require.NoError(t, err)

	repo := store.NewMemoryRepo()
	cfg := config.Config{
		MaxBodyBytes: 64 * 1024,
		Chains: []config.ChainConfig{{
			ChainID:          11155111,
			EASAddress:       testContract.Hex(),
			RPCURL:           "https://rpc.example.org",
			MinConfirmations: 3,
		}},
	}
	return &testEnv{
		router: NewRouter(repo, cfg, []eip712.Domain{testDomain}, nil),
		repo:   repo,
		alice:  alice,
		bob:    bob,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func errorCodeOf(t *testing.T, out map[string]any) string {
	t.Helper()
	e, ok := out["error"].(map[string]any)
	require.True(t, ok, "no error envelope in %v", out)
	return e["code"].(string)
}

func signPackage(t *testing.T, domain eip712.Domain, signer *ethutil.KeySigner, p offchain.Params) *pkgcodec.Package {
	t.Helper()
	a, err := offchain.NewAttester(domain)
	require.NoError(t, err)
	att, err := a.Create(p, signer)
	require.NoError(t, err)
	return &pkgcodec.Package{Sig: *att, Signer: signer.Address()}
}

func exampleParams() offchain.Params {
	return offchain.Params{Schema: testSchema, Time: 1000, Revocable: true, Data: []byte{0xbe, 0xef}}
}

func encode(t *testing.T, pkg *pkgcodec.Package) string {
	t.Helper()
	s, err := pkgcodec.Serialize(pkg)
	require.NoError(t, err)
	return s
}

func TestHealthAndInfo(t *testing.T) {
	e := newTestEnv(t)

	rec, out := e.do(t, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", out["status"])

	rec, out = e.do(t, http.MethodGet, "/v1/info", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	caps := out["capabilities"].(map[string]any)
	require.Equal(t, pkgcodec.URLPrefix, caps["url_prefix"])
	require.EqualValues(t, offchain.CurrentVersion, caps["protocol_version"])
	chains := out["chains"].([]any)
	require.Len(t, chains, 1)
	require.EqualValues(t, 11155111, chains[0].(map[string]any)["chain_id"])
	require.Equal(t, testContract.Hex(), chains[0].(map[string]any)["contract"])
	require.EqualValues(t, 3, chains[0].(map[string]any)["min_confirmations"])
	require.Equal(t, true, chains[0].(map[string]any)["watching"])
}

func TestUIDEndpoints(t *testing.T) {
	e := newTestEnv(t)

	rec, out := e.do(t, http.MethodPost, "/v1/uids/schema", map[string]any{
		"schema": "uint256 score, string comment", "revocable": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0xe35fe21da6beee05fb7ba78d00e37f7c789c4254d69c45c0f27150d8052ac151", out["uid"])

	rec, out = e.do(t, http.MethodPost, "/v1/uids/onchain", map[string]any{
		"schema":    testSchema.Hex(),
		"recipient": "0x1111111111111111111111111111111111111111",
		"attester":  "0x2222222222222222222222222222222222222222",
		"time":      1000,
		"revocable": true,
		"data":      "0xbeef",
		"bump":      1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0xc472d282d12fb6495c4a1adf6f921bad7492582a451bd655cc654f14183d43e7", out["uid"])

	rec, out = e.do(t, http.MethodPost, "/v1/uids/offchain", map[string]any{
		"version": 1, "schema": testSchema.Hex(), "time": 1000, "revocable": true, "data": "0xbeef",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0x7d62a0b9ddd9e27d12801a94e9f1a70da0b600b9f6285c1bafb53976394c7ad6", out["uid"])

	// No version field: legacy uid. Integers may arrive as strings.
	rec, out = e.do(t, http.MethodPost, "/v1/uids/offchain", map[string]any{
		"schema": testSchema.Hex(), "time": "1000", "revocable": true, "data": "0xbeef",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0x96afd69b1cc11069c87a5310bb4a28912209f74270e2fd68ff4e377323d41144", out["uid"])

	rec, out = e.do(t, http.MethodPost, "/v1/uids/schema", map[string]any{"schema": ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", errorCodeOf(t, out))

	rec, out = e.do(t, http.MethodPost, "/v1/uids/onchain", `{"schema": "0x12"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", errorCodeOf(t, out))
}

func TestVerifyPackage(t *testing.T) {
	e := newTestEnv(t)
	pkg := signPackage(t, testDomain, e.alice, exampleParams())
	encoded := encode(t, pkg)

	for name, body := range map[string]any{
		"encoded": map[string]any{"encoded": encoded},
		"url":     map[string]any{"url": "https://sepolia.easscan.org" + pkgcodec.URLFor(encoded)},
		"package": map[string]any{"package": pkg},
	} {
		t.Run(name, func(t *testing.T) {
			rec, out := e.do(t, http.MethodPost, "/v1/packages/verify", body)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			require.Equal(t, true, out["valid"])
			require.Equal(t, pkg.Sig.UID.Hex(), out["uid"])
			require.EqualValues(t, 1, out["version"])
			require.Equal(t, "current", out["shape"])
			require.Equal(t, e.alice.Address().Hex(), out["signer"])
		})
	}

	t.Run("wrong signer", func(t *testing.T) {
		forged := *pkg
		forged.Signer = e.bob.Address()
		rec, out := e.do(t, http.MethodPost, "/v1/packages/verify", map[string]any{"package": forged})
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, false, out["valid"])
		require.Equal(t, "integrity_error", errorCodeOf(t, out))
	})

	t.Run("undecodable", func(t *testing.T) {
		rec, out := e.do(t, http.MethodPost, "/v1/packages/verify", map[string]any{"encoded": "bm90IHpsaWI="})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "decode_error", errorCodeOf(t, out))
	})

	t.Run("ambiguous", func(t *testing.T) {
		rec, out := e.do(t, http.MethodPost, "/v1/packages/verify", map[string]any{"encoded": encoded, "url": "x"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "invalid_request", errorCodeOf(t, out))

		rec, out = e.do(t, http.MethodPost, "/v1/packages/verify", map[string]any{})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "invalid_request", errorCodeOf(t, out))
	})
}

func TestPackageLifecycle(t *testing.T) {
	e := newTestEnv(t)
	pkg := signPackage(t, testDomain, e.alice, exampleParams())
	encoded := encode(t, pkg)
	id := pkg.Sig.UID.Hex()

	rec, out := e.do(t, http.MethodPost, "/v1/packages", map[string]any{"encoded": encoded})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, id, out["uid"])
	require.Equal(t, encoded, out["encoded"])

	rec, out = e.do(t, http.MethodPost, "/v1/packages", map[string]any{"package": pkg})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "conflict", errorCodeOf(t, out))

	rec, out = e.do(t, http.MethodGet, "/v1/packages/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, pkgcodec.URLFor(encoded), out["url"])
	require.Equal(t, e.alice.Address().Hex(), out["signer"])
	require.Equal(t, false, out["expired"])

	rec, out = e.do(t, http.MethodGet, "/v1/packages?signer="+e.alice.Address().Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out["items"], 1)

	rec, out = e.do(t, http.MethodGet, "/v1/packages?signer="+e.bob.Address().Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, out["items"])

	// Only the signer may withdraw.
	bobSig, err := ethutil.SignPersonal(e.bob, []byte(id))
	require.NoError(t, err)
	rec, out = e.do(t, http.MethodDelete, "/v1/packages/"+id, map[string]any{"signature": bobSig})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", errorCodeOf(t, out))

	rec, out = e.do(t, http.MethodDelete, "/v1/packages/"+id, map[string]any{})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", errorCodeOf(t, out))

	aliceSig, err := ethutil.SignPersonal(e.alice, []byte(id))
	require.NoError(t, err)
	rec, out = e.do(t, http.MethodDelete, "/v1/packages/"+id, map[string]any{"signature": aliceSig})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, true, out["withdrawn"])

	rec, out = e.do(t, http.MethodGet, "/v1/packages/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", errorCodeOf(t, out))
}

func TestPostPackage_Rejections(t *testing.T) {
	e := newTestEnv(t)

	other := eip712.BuildDomain(eip712.DomainName, "1.2.0", big.NewInt(1), testContract)
	pkg := signPackage(t, other, e.alice, exampleParams())
	rec, out := e.do(t, http.MethodPost, "/v1/packages", map[string]any{"package": pkg})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "validation_error", errorCodeOf(t, out))

	pkg = signPackage(t, testDomain, e.alice, exampleParams())
	pkg.Sig.Message.Data = []byte{0x00}
	rec, out = e.do(t, http.MethodPost, "/v1/packages", map[string]any{"package": pkg})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "integrity_error", errorCodeOf(t, out))

	rec, out = e.do(t, http.MethodPost, "/v1/packages", `{"encoded": `)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", errorCodeOf(t, out))

	huge := `{"encoded": "` + strings.Repeat("A", 70*1024) + `"}`
	rec, out = e.do(t, http.MethodPost, "/v1/packages", huge)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, "invalid_request", errorCodeOf(t, out))

	rec, out = e.do(t, http.MethodGet, "/v1/packages/not-a-uid", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", errorCodeOf(t, out))

	rec, out = e.do(t, http.MethodGet, "/v1/packages?chain_id=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_request", errorCodeOf(t, out))
}

func TestListPackages_Pagination(t *testing.T) {
	e := newTestEnv(t)
	for i := 0; i < 3; i++ {
		p := exampleParams()
		p.Time = uint64(1000 + i)
		pkg := signPackage(t, testDomain, e.alice, p)
		rec, _ := e.do(t, http.MethodPost, "/v1/packages", map[string]any{"encoded": encode(t, pkg)})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	seen := map[string]bool{}
	path := "/v1/packages?limit=2&chain_id=11155111&schema=" + testSchema.Hex()
	rec, out := e.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out["items"], 2)
	for _, it := range out["items"].([]any) {
		seen[it.(map[string]any)["uid"].(string)] = true
	}
	cursor, ok := out["next_cursor"].(string)
	require.True(t, ok)

	rec, out = e.do(t, http.MethodGet, path+"&cursor="+cursor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, out["items"], 1)
	seen[out["items"].([]any)[0].(map[string]any)["uid"].(string)] = true
	require.NotContains(t, out, "next_cursor")
	require.Len(t, seen, 3)
}
