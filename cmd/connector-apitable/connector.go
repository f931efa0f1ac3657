package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bturcanu/openclause-apitable/pkg/apitable"
	"github.com/bturcanu/openclause-apitable/pkg/audit"
	"github.com/bturcanu/openclause-apitable/pkg/connectors"
)

type auditRecorder interface {
	Record(context.Context, *audit.Record) error
}

// APITableConnector serves apitable invocations for the host.
type APITableConnector struct {
	log        *slog.Logger
	mock       bool
	defaults   map[string]string
	dispatcher *apitable.Dispatcher
	audit      auditRecorder
}

// NewAPITableConnector builds a connector. defaults are used for any request
// that carries no credentials. In mock mode no request leaves the process.
func NewAPITableConnector(log *slog.Logger, mock bool, defaults map[string]string, rec auditRecorder) *APITableConnector {
	d := apitable.NewDispatcher(log)
	if mock {
		d.SetHTTPClient(&http.Client{Transport: mockTransport{}, Timeout: apitable.DefaultTimeout})
	}
	return &APITableConnector{
		log:        log,
		mock:       mock,
		defaults:   defaults,
		dispatcher: d,
		audit:      rec,
	}
}

// Exec implements connectors.Connector.
func (c *APITableConnector) Exec(ctx context.Context, req connectors.ExecRequest) connectors.ExecResponse {
	start := time.Now()
	call, err := c.dispatch(ctx, req)

	msg := call.Message
	resp := connectors.ExecResponse{
		EventID:    req.EventID,
		Status:     connectors.StatusSuccess,
		Message:    &msg,
		HTTPStatus: call.StatusCode,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		resp.Status = connectors.StatusError
		resp.Error = err.Error()
		resp.ErrorCode = apitable.ErrorCode(err)
	}

	if c.audit != nil {
		// Failures are logged by the recorder; the call itself already happened.
		_ = c.audit.Record(ctx, auditRecord(req, call, resp))
	}
	return resp
}

func (c *APITableConnector) dispatch(ctx context.Context, req connectors.ExecRequest) (apitable.Call, error) {
	m, err := req.ParamMap()
	if err != nil {
		return invalidParams(string(req.Params), err)
	}
	p, err := apitable.ParamsFromMap(m)
	if err != nil {
		return invalidParams(string(req.Params), err)
	}

	creds := req.Credentials
	if len(creds) == 0 {
		creds = c.defaults
	}
	if c.mock {
		ctx = context.WithValue(ctx, mockActionKey{}, p.Action)
	}
	return c.dispatcher.Dispatch(ctx, p, apitable.CredentialsFromMap(creds))
}

func invalidParams(raw string, err error) (apitable.Call, error) {
	err = &apitable.InvalidPayloadError{Raw: raw, Err: err}
	return apitable.Call{Message: apitable.ErrorMessage(err)}, err
}

func auditRecord(req connectors.ExecRequest, call apitable.Call, resp connectors.ExecResponse) *audit.Record {
	rec := &audit.Record{
		EventID:  req.EventID,
		TenantID: req.TenantID,
		AgentID:  req.AgentID,
		Action:   string(call.Request.Action),
		Method:   call.Request.Method,
		Path:     call.Request.Path,
		Result: audit.Result{
			Status:     resp.Status,
			ErrorCode:  resp.ErrorCode,
			HTTPStatus: resp.HTTPStatus,
			DurationMS: resp.DurationMS,
		},
	}
	if rec.Action == "" {
		rec.Action = strings.TrimSpace(req.Action)
	}
	if len(req.Params) > 0 && json.Valid(req.Params) {
		rec.Params = req.Params
	}
	if resp.Message != nil {
		rec.Result.MessageKind = string(resp.Message.Kind)
		rec.Result.MessageSHA256 = audit.HashBytes([]byte(resp.Message.String()))
	}
	return rec
}

// ──────────────────────────────────────────────────────────────────────────────
// Mock transport
// ──────────────────────────────────────────────────────────────────────────────

type mockActionKey struct{}

// mockTransport answers every request locally, echoing what would have been
// sent.
type mockTransport struct{}

func (mockTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Body != nil {
		_ = r.Body.Close()
	}
	action, _ := r.Context().Value(mockActionKey{}).(string)
	body, err := json.Marshal(map[string]any{
		"mock":   true,
		"action": action,
		"method": r.Method,
		"url":    r.URL.String(),
	})
	if err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"application/json"}},
		Body:          io.NopCloser(strings.NewReader(string(body))),
		ContentLength: int64(len(body)),
		Request:       r,
	}, nil
}
