package api

import (
	"errors"
	"net/http"

	"github.com/AgentMesh-Net/attest-go/internal/core/eip712"
	"github.com/AgentMesh-Net/attest-go/internal/core/offchain"
	"github.com/AgentMesh-Net/attest-go/internal/core/pkgcodec"
	"github.com/AgentMesh-Net/attest-go/internal/ethutil"
	"github.com/AgentMesh-Net/attest-go/internal/store"
	"github.com/AgentMesh-Net/attest-go/internal/util"
)

// errInvalidRequest marks malformed request bodies and parameters.
var errInvalidRequest = errors.New("invalid request")

// errorStatus maps an error to its HTTP status and envelope code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, util.ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge, "invalid_request"
	case errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, pkgcodec.ErrDecode):
		return http.StatusBadRequest, "decode_error"
	case errors.Is(err, offchain.ErrIntegrity):
		return http.StatusUnprocessableEntity, "integrity_error"
	case errors.Is(err, offchain.ErrValidation), errors.Is(err, eip712.ErrInvalidTypedData):
		return http.StatusUnprocessableEntity, "validation_error"
	case errors.Is(err, ethutil.ErrInvalidSignature), errors.Is(err, ethutil.ErrSignerMismatch):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "error", err)
		msg = "internal error"
	}
	util.WriteError(w, status, code, msg)
}
