package api

import (
	"net/http"
	"slices"
	"time"

	"github.com/AgentMesh-Net/attest-go/internal/core/eip712"
	"github.com/AgentMesh-Net/attest-go/internal/core/offchain"
	"github.com/AgentMesh-Net/attest-go/internal/core/pkgcodec"
	"github.com/AgentMesh-Net/attest-go/internal/util"
)

func (h *handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *handlers) GetInfo(w http.ResponseWriter, r *http.Request) {
	domains := slices.Clone(h.domains)
	slices.SortFunc(domains, func(a, b eip712.Domain) int { return a.ChainID.Cmp(b.ChainID) })

	chains := make([]map[string]any, 0, len(domains))
	for _, d := range domains {
		entry := map[string]any{
			"chain_id":         d.ChainID,
			"contract":         d.VerifyingContract.Hex(),
			"contract_version": d.Version,
			"domain_name":      d.Name,
			"watching":         false,
		}
		if ch, ok := h.cfg.Chain(d.ChainID.Uint64()); ok {
			entry["min_confirmations"] = ch.MinConfirmations
			entry["watching"] = ch.RPCURL != ""
		}
		chains = append(chains, entry)
	}

	resp := map[string]any{
		"name":         "attestd",
		"service_time": h.now().UTC().Format(time.RFC3339),
		"capabilities": map[string]any{
			"protocol_version":   offchain.CurrentVersion,
			"supported_versions": []uint16{0, offchain.CurrentVersion},
			"canonical_json":     "RFC8785-JCS",
			"compression":        "zlib",
			"url_prefix":         pkgcodec.URLPrefix,
		},
		"chains": chains,
	}
	util.WriteJSON(w, http.StatusOK, resp)
}
