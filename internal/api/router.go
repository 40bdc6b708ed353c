// Package api serves the attestation toolkit over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/AgentMesh-Net/attest-go/internal/config"
	"github.com/AgentMesh-Net/attest-go/internal/core/eip712"
	"github.com/AgentMesh-Net/attest-go/internal/store"
)

// NewRouter creates the HTTP router with all v1 endpoints. Packages are
// only accepted for the deployments listed in domains.
func NewRouter(repo store.Repo, cfg config.Config, domains []eip712.Domain, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Timeout(30 * time.Second))

	h := &handlers{
		repo:    repo,
		cfg:     cfg,
		maxBody: cfg.MaxBodyBytes,
		domains: slices.Clone(domains),
		log:     logger,
		now:     time.Now,
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.GetHealth)
		r.Get("/info", h.GetInfo)

		r.Post("/uids/schema", h.PostSchemaUID)
		r.Post("/uids/onchain", h.PostOnchainUID)
		r.Post("/uids/offchain", h.PostOffchainUID)

		r.Post("/packages/verify", h.VerifyPackage)
		r.Post("/packages", h.PostPackage)
		r.Get("/packages", h.ListPackages)
		r.Get("/packages/{uid}", h.GetPackage)
		r.Delete("/packages/{uid}", h.WithdrawPackage)
	})

	return r
}

type handlers struct {
	repo    store.Repo
	cfg     config.Config
	maxBody int64
	domains []eip712.Domain
	log     *slog.Logger
	now     func() time.Time
}

// servesDomain reports whether packages signed for d are accepted.
func (h *handlers) servesDomain(d eip712.Domain) bool {
	return slices.ContainsFunc(h.domains, d.Equal)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
