// Package client is a Go client for hosts calling connector-apitable.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bturcanu/openclause-apitable/pkg/audit"
	"github.com/bturcanu/openclause-apitable/pkg/connectors"
	"github.com/bturcanu/openclause-apitable/pkg/types"
	"github.com/google/uuid"
)

type Client struct {
	baseURL       string
	internalToken string
	apiKey        string
	httpClient    *http.Client
}

// New creates a client. apiKey may be empty when the connector runs without
// API keys.
func New(baseURL, internalToken, apiKey string) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		internalToken: internalToken,
		apiKey:        apiKey,
		httpClient:    &http.Client{Timeout: 40 * time.Second},
	}
}

// Exec sends req to /exec. A taxonomy failure is not an error here: it comes
// back as an ExecResponse with status "error".
func (c *Client) Exec(ctx context.Context, req connectors.ExecRequest) (*connectors.ExecResponse, error) {
	if req.EventID == "" {
		req.EventID = uuid.NewString()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/exec", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp connectors.ExecResponse
	if err := c.doJSON(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Invoke runs one action with the given parameters and the connector's
// default credentials.
func (c *Client) Invoke(ctx context.Context, action string, params map[string]any) (*connectors.ExecResponse, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return c.Exec(ctx, connectors.ExecRequest{Tool: "apitable", Action: action, Params: raw})
}

// AuditRecord fetches the audit record of a past call.
func (c *Client) AuditRecord(ctx context.Context, eventID string) (*audit.Record, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/audit/"+url.PathEscape(eventID), http.NoBody)
	if err != nil {
		return nil, err
	}
	var rec audit.Record
	if err := c.doJSON(httpReq, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// VerifyAudit asks the connector to verify a tenant's audit chain. With API
// keys the tenant is taken from the key and tenantID is ignored.
func (c *Client) VerifyAudit(ctx context.Context, tenantID string) (*audit.ChainStatus, error) {
	u := c.baseURL + "/v1/audit/verify?" + url.Values{"tenant_id": {tenantID}}.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, err
	}
	var st audit.ChainStatus
	if err := c.doJSON(httpReq, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	if c.internalToken != "" {
		req.Header.Set("X-Internal-Token", c.internalToken)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr types.APIError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Message != "" {
			apiErr.HTTPCode = resp.StatusCode
			return &apiErr
		}
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
