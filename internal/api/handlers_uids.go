package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AgentMesh-Net/attest-go/internal/core/offchain"
	"github.com/AgentMesh-Net/attest-go/internal/core/uid"
	"github.com/AgentMesh-Net/attest-go/internal/util"
)

type schemaUIDReq struct {
	Schema    string         `json:"schema"`
	Resolver  common.Address `json:"resolver"`
	Revocable bool           `json:"revocable"`
}

type onchainUIDReq struct {
	Schema         common.Hash    `json:"schema"`
	Recipient      common.Address `json:"recipient"`
	Attester       common.Address `json:"attester"`
	Time           uint64         `json:"time"`
	ExpirationTime uint64         `json:"expirationTime"`
	Revocable      bool           `json:"revocable"`
	RefUID         common.Hash    `json:"refUID"`
	Data           hexutil.Bytes  `json:"data"`
	Bump           uint32         `json:"bump"`
}

// decodeJSON reads the request body into v.
func (h *handlers) decodeJSON(r *http.Request, v any) error {
	body, err := util.ReadBody(r, h.maxBody)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", errInvalidRequest, err)
	}
	return nil
}

func writeUID(w http.ResponseWriter, id common.Hash) {
	util.WriteJSON(w, http.StatusOK, map[string]any{"uid": id.Hex()})
}

// PostSchemaUID handles POST /v1/uids/schema.
func (h *handlers) PostSchemaUID(w http.ResponseWriter, r *http.Request) {
	var req schemaUIDReq
	if err := h.decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Schema == "" {
		h.writeError(w, fmt.Errorf("%w: schema is required", errInvalidRequest))
		return
	}
	writeUID(w, uid.SchemaUID(req.Schema, req.Resolver, req.Revocable))
}

// PostOnchainUID handles POST /v1/uids/onchain.
func (h *handlers) PostOnchainUID(w http.ResponseWriter, r *http.Request) {
	var req onchainUIDReq
	if err := h.decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	writeUID(w, uid.OnchainUID(req.Schema, req.Recipient, req.Attester, req.Time, req.ExpirationTime,
		req.Revocable, req.RefUID, req.Data, req.Bump))
}

// PostOffchainUID handles POST /v1/uids/offchain. The body is an
// attestation message; a missing version means the legacy version 0.
func (h *handlers) PostOffchainUID(w http.ResponseWriter, r *http.Request) {
	var msg offchain.Message
	if err := h.decodeJSON(r, &msg); err != nil {
		h.writeError(w, err)
		return
	}
	if msg.Version > offchain.CurrentVersion {
		h.writeError(w, fmt.Errorf("%w: unsupported version %d", errInvalidRequest, msg.Version))
		return
	}
	writeUID(w, msg.UID())
}
