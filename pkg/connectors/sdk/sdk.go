// Package sdk serves a Connector over HTTP.
package sdk

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bturcanu/openclause-apitable/pkg/auth"
	"github.com/bturcanu/openclause-apitable/pkg/connectors"
	"github.com/bturcanu/openclause-apitable/pkg/types"
	"github.com/google/uuid"
)

const defaultExecTimeout = 35 * time.Second

type Executor interface {
	Exec(context.Context, connectors.ExecRequest) connectors.ExecResponse
}

type Config struct {
	// Tool is the only tool name accepted besides an empty one.
	Tool          string
	InternalToken string
	Logger        *slog.Logger
	// Timeout bounds a single Exec call; zero means 35s.
	Timeout time.Duration
}

// Handler decodes an ExecRequest, runs it and writes the ExecResponse.
func Handler(executor Executor, cfg Config) http.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.InternalToken != "" &&
			subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Internal-Token")), []byte(cfg.InternalToken)) != 1 {
			types.ErrUnauthorized("invalid internal token").WriteJSON(w)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, types.MaxBodyBytes)
		var req connectors.ExecRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			types.ErrBadRequest("invalid JSON body").WriteJSON(w)
			return
		}
		if err := req.Validate(cfg.Tool); err != nil {
			types.ErrValidation(err).WriteJSON(w)
			return
		}

		// Override tenant from auth context
		if t := auth.TenantFromContext(r.Context()); t != "" {
			req.TenantID = t
		}
		if req.EventID == "" {
			req.EventID = uuid.NewString()
		} else if _, err := uuid.Parse(req.EventID); err != nil {
			types.ErrBadRequest("invalid event_id format").WriteJSON(w)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		resp := executor.Exec(ctx, req)
		if resp.EventID == "" {
			resp.EventID = req.EventID
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.ErrorContext(ctx, "encode response failed", "event_id", req.EventID, "error", err)
		}
	}
}
