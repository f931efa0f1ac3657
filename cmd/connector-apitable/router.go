package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bturcanu/openclause-apitable/pkg/audit"
	"github.com/bturcanu/openclause-apitable/pkg/auth"
	"github.com/bturcanu/openclause-apitable/pkg/connectors/sdk"
	"github.com/bturcanu/openclause-apitable/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const requestTimeout = 40 * time.Second

type auditReader interface {
	Ping(ctx context.Context) error
	GetRecord(ctx context.Context, eventID string) (*audit.Record, error)
	VerifyTenant(ctx context.Context, tenantID string) (int, error)
}

type routerConfig struct {
	log           *slog.Logger
	connector     sdk.Executor
	internalToken string
	keys          *auth.KeyStore
	// audit is nil when the audit trail is disabled.
	audit auditReader
}

func newRouter(cfg routerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	if cfg.keys != nil && cfg.keys.Len() > 0 {
		r.Use(auth.APIKeyAuth(cfg.keys))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.audit != nil {
			if err := cfg.audit.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("NOT READY"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Post("/exec", sdk.Handler(cfg.connector, sdk.Config{
		Tool:          "apitable",
		InternalToken: cfg.internalToken,
		Logger:        cfg.log,
		Timeout:       apitableExecTimeout,
	}))

	h := &auditHandlers{log: cfg.log, store: cfg.audit}
	r.Get("/v1/audit/verify", h.verify)
	r.Get("/v1/audit/{event_id}", h.get)
	return r
}

// ──────────────────────────────────────────────────────────────────────────────
// Audit endpoints
// ──────────────────────────────────────────────────────────────────────────────

type auditHandlers struct {
	log   *slog.Logger
	store auditReader
}

// get is GET /v1/audit/{event_id}
func (h *auditHandlers) get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		types.ErrUnavailable("audit trail is disabled").WriteJSON(w)
		return
	}
	eventID := chi.URLParam(r, "event_id")
	if _, err := uuid.Parse(eventID); err != nil {
		types.ErrBadRequest("invalid event_id format").WriteJSON(w)
		return
	}

	rec, err := h.store.GetRecord(r.Context(), eventID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "get audit record failed", "event_id", eventID, "error", err)
		types.ErrInternal("failed to retrieve audit record").WriteJSON(w)
		return
	}
	if rec == nil {
		types.ErrNotFound("audit record not found").WriteJSON(w)
		return
	}
	if t := auth.TenantFromContext(r.Context()); t != "" && rec.TenantID != t {
		types.ErrNotFound("audit record not found").WriteJSON(w)
		return
	}
	writeJSON(h.log, w, r, rec)
}

// verify is GET /v1/audit/verify?tenant_id=...
func (h *auditHandlers) verify(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		types.ErrUnavailable("audit trail is disabled").WriteJSON(w)
		return
	}
	tenantID := auth.TenantFromContext(r.Context())
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant_id")
	}
	if tenantID == "" {
		types.ErrValidation(&types.ValidationError{Field: "tenant_id", Reason: "required"}).WriteJSON(w)
		return
	}

	n, err := h.store.VerifyTenant(r.Context(), tenantID)
	if err != nil && !errors.Is(err, audit.ErrChainBroken) {
		h.log.ErrorContext(r.Context(), "audit chain load failed", "tenant_id", tenantID, "error", err)
		types.ErrInternal("failed to verify audit chain").WriteJSON(w)
		return
	}
	if err != nil {
		h.log.WarnContext(r.Context(), "audit chain verification failed", "tenant_id", tenantID, "error", err)
	}
	writeJSON(h.log, w, r, audit.NewChainStatus(tenantID, n, err))
}

func writeJSON(log *slog.Logger, w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.ErrorContext(r.Context(), "response encode failed", "error", err)
	}
}
