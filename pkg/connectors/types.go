// Package connectors defines the request and response envelope exchanged with
// tool connectors.
package connectors

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bturcanu/openclause-apitable/pkg/types"
)

// Connector executes a tool action on an external system.
type Connector interface {
	// Exec executes the given request and returns a result.
	Exec(ctx context.Context, req ExecRequest) ExecResponse
}

// ExecRequest is the payload a host sends to a connector.
type ExecRequest struct {
	EventID  string `json:"event_id,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	AgentID  string `json:"agent_id,omitempty"`
	Tool     string `json:"tool,omitempty"`
	Action   string `json:"action"`
	// Params is the invocation parameter mapping.
	Params json.RawMessage `json:"params,omitempty"`
	// Credentials replace the connector's configured defaults when set.
	Credentials map[string]string `json:"credentials,omitempty"`
}

// Status values reported in ExecResponse.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ExecResponse is what the connector returns.
type ExecResponse struct {
	EventID    string   `json:"event_id,omitempty"`
	Status     string   `json:"status"`
	Message    *Message `json:"message,omitempty"`
	Error      string   `json:"error,omitempty"`
	ErrorCode  string   `json:"error_code,omitempty"`
	HTTPStatus int      `json:"http_status,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

// Validate checks the envelope before it reaches a connector.
func (r *ExecRequest) Validate(tool string) error {
	if r.Tool != "" && r.Tool != tool {
		return &types.ValidationError{Field: "tool", Reason: fmt.Sprintf("must be %q", tool)}
	}
	if len(r.Params) > types.MaxParamsBytes {
		return &types.ValidationError{Field: "params", Reason: fmt.Sprintf("exceeds %d bytes", types.MaxParamsBytes)}
	}
	if r.Action == "" && len(r.Params) == 0 {
		return &types.ValidationError{Field: "action", Reason: "required"}
	}
	return nil
}

// ParamMap decodes Params into a mapping and fills "action" from the
// envelope when present.
func (r *ExecRequest) ParamMap() (map[string]any, error) {
	m := map[string]any{}
	if len(r.Params) > 0 && string(r.Params) != "null" {
		if err := json.Unmarshal(r.Params, &m); err != nil {
			return nil, &types.ValidationError{Field: "params", Reason: "must be a JSON object"}
		}
		if m == nil {
			m = map[string]any{}
		}
	}
	if r.Action != "" {
		m["action"] = r.Action
	}
	return m, nil
}
