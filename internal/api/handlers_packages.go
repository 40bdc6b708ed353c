package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"github.com/AgentMesh-Net/attest-go/internal/core/offchain"
	"github.com/AgentMesh-Net/attest-go/internal/core/pkgcodec"
	"github.com/AgentMesh-Net/attest-go/internal/core/wire"
	"github.com/AgentMesh-Net/attest-go/internal/ethutil"
	"github.com/AgentMesh-Net/attest-go/internal/store"
	"github.com/AgentMesh-Net/attest-go/internal/util"
)

// packageReq carries a package in exactly one of its three forms.
type packageReq struct {
	Encoded string          `json:"encoded"`
	URL     string          `json:"url"`
	Package json.RawMessage `json:"package"`
}

type withdrawReq struct {
	// Signature is an EIP-191 personal_sign by the package signer over the
	// lowercase 0x-hex uid.
	Signature string `json:"signature"`
}

func (req *packageReq) decode() (*pkgcodec.Package, pkgcodec.SigShape, error) {
	forms := 0
	for _, set := range []bool{req.Encoded != "", req.URL != "", len(req.Package) > 0} {
		if set {
			forms++
		}
	}
	if forms != 1 {
		return nil, pkgcodec.ShapeCurrent, fmt.Errorf("%w: exactly one of encoded, url or package is required", errInvalidRequest)
	}

	switch {
	case req.Encoded != "":
		pkg, err := pkgcodec.Deserialize(req.Encoded)
		return pkg, pkgcodec.ShapeCurrent, err
	case req.URL != "":
		pkg, err := pkgcodec.ParseShareableURL(req.URL)
		return pkg, pkgcodec.ShapeCurrent, err
	default:
		return pkgcodec.ParsePackageJSON(req.Package)
	}
}

// check runs every structural and cryptographic check on pkg.
func check(pkg *pkgcodec.Package) error {
	if err := pkg.Sig.ValidateBasic(); err != nil {
		return err
	}
	return pkg.Verify()
}

// VerifyPackage handles POST /v1/packages/verify. Undecodable input is an
// error; a decodable package that fails verification is reported with
// valid=false.
func (h *handlers) VerifyPackage(w http.ResponseWriter, r *http.Request) {
	var req packageReq
	if err := h.decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	pkg, shape, err := req.decode()
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := map[string]any{
		"valid":   true,
		"uid":     pkg.Sig.UID.Hex(),
		"version": pkg.Sig.Message.Version,
		"shape":   shape.String(),
		"signer":  pkg.Signer.Hex(),
		"expired": pkg.Sig.Message.Expired(h.now()),
		"package": pkg,
	}
	if err := check(pkg); err != nil {
		_, code := errorStatus(err)
		resp["valid"] = false
		resp["error"] = map[string]any{"code": code, "message": err.Error()}
	}
	util.WriteJSON(w, http.StatusOK, resp)
}

// PostPackage handles POST /v1/packages.
func (h *handlers) PostPackage(w http.ResponseWriter, r *http.Request) {
	var req packageReq
	if err := h.decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	pkg, _, err := req.decode()
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := check(pkg); err != nil {
		h.writeError(w, err)
		return
	}
	if !h.servesDomain(pkg.Sig.Domain) {
		d := pkg.Sig.Domain
		h.writeError(w, fmt.Errorf("%w: deployment %s version %s on chain %s is not served",
			offchain.ErrValidation, d.VerifyingContract.Hex(), d.Version, d.ChainID))
		return
	}

	rec, err := store.NewRecord(pkg)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.repo.InsertPackage(r.Context(), rec); err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("package stored", "uid", rec.UID.Hex(), "chain", rec.ChainID, "signer", rec.Signer.Hex())
	util.WriteJSON(w, http.StatusCreated, h.recordToMap(rec))
}

// GetPackage handles GET /v1/packages/{uid}.
func (h *handlers) GetPackage(w http.ResponseWriter, r *http.Request) {
	id, err := uidParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	rec, err := h.repo.GetPackage(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	util.WriteJSON(w, http.StatusOK, h.recordToMap(rec))
}

// ListPackages handles GET /v1/packages.
func (h *handlers) ListPackages(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	limit := util.ParseLimit(r, 50, 200)
	cursor := util.ParseCursor(r)

	recs, next, err := h.repo.ListPackages(r.Context(), filter, limit, cursor)
	if err != nil {
		h.writeError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		items = append(items, h.recordToMap(rec))
	}
	resp := map[string]any{"items": items}
	if next != nil {
		resp["next_cursor"] = util.EncodeCursor(next)
	}
	util.WriteJSON(w, http.StatusOK, resp)
}

// WithdrawPackage handles DELETE /v1/packages/{uid}.
func (h *handlers) WithdrawPackage(w http.ResponseWriter, r *http.Request) {
	id, err := uidParam(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req withdrawReq
	if err := h.decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Signature == "" {
		util.WriteError(w, http.StatusUnauthorized, "unauthorized", "signature is required")
		return
	}

	rec, err := h.repo.GetPackage(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := ethutil.VerifyPersonalSign([]byte(rec.UID.Hex()), req.Signature, rec.Signer); err != nil {
		if errors.Is(err, ethutil.ErrSignerMismatch) || errors.Is(err, ethutil.ErrInvalidSignature) {
			util.WriteError(w, http.StatusUnauthorized, "unauthorized",
				"signature verification failed: signer does not match package signer")
			return
		}
		h.writeError(w, err)
		return
	}

	if err := h.repo.Withdraw(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.log.Info("package withdrawn", "uid", id.Hex())
	util.WriteJSON(w, http.StatusOK, map[string]any{"uid": id.Hex(), "withdrawn": true})
}

func uidParam(r *http.Request) (common.Hash, error) {
	id, err := wire.DecodeHash(chi.URLParam(r, "uid"))
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: uid: %v", errInvalidRequest, err)
	}
	return id, nil
}

func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	var f store.Filter
	if s := q.Get("signer"); s != "" {
		a, err := wire.DecodeAddress(s)
		if err != nil {
			return f, fmt.Errorf("%w: signer: %v", errInvalidRequest, err)
		}
		f.Signer = &a
	}
	if s := q.Get("recipient"); s != "" {
		a, err := wire.DecodeAddress(s)
		if err != nil {
			return f, fmt.Errorf("%w: recipient: %v", errInvalidRequest, err)
		}
		f.Recipient = &a
	}
	if s := q.Get("schema"); s != "" {
		h, err := wire.DecodeHash(s)
		if err != nil {
			return f, fmt.Errorf("%w: schema: %v", errInvalidRequest, err)
		}
		f.Schema = &h
	}
	if s := q.Get("chain_id"); s != "" {
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return f, fmt.Errorf("%w: chain_id: %v", errInvalidRequest, err)
		}
		f.ChainID = n
	}
	return f, nil
}

func (h *handlers) recordToMap(rec *store.Record) map[string]any {
	m := map[string]any{
		"uid":         rec.UID.Hex(),
		"chain_id":    rec.ChainID,
		"contract":    rec.Contract.Hex(),
		"version":     rec.Version,
		"schema":      rec.Schema.Hex(),
		"signer":      rec.Signer.Hex(),
		"recipient":   rec.Recipient.Hex(),
		"encoded":     rec.Encoded,
		"url":         pkgcodec.URLFor(rec.Encoded),
		"package":     rec.Package,
		"expired":     rec.Package.Sig.Message.Expired(h.now()),
		"inserted_at": rec.InsertedAt,
	}
	if rec.TimestampedAt != nil {
		m["timestamped_at"] = rec.TimestampedAt
		m["timestamp_tx"] = rec.TimestampTx
	}
	if rec.RevokedAt != nil {
		m["revoked_at"] = rec.RevokedAt
		m["revocation_tx"] = rec.RevocationTx
	}
	return m
}
