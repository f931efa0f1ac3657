package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bturcanu/openclause-apitable/pkg/audit"
	"github.com/bturcanu/openclause-apitable/pkg/auth"
	"github.com/bturcanu/openclause-apitable/pkg/connectors"
)

const testEventID = "0b8e4f3e-51f4-4a57-a1a4-2f0a6c1b2d3e"

type fakeAuditReader struct {
	pingErr   error
	records   map[string]*audit.Record
	verifyN   int
	verifyErr error
}

func (f *fakeAuditReader) Ping(context.Context) error { return f.pingErr }

func (f *fakeAuditReader) GetRecord(_ context.Context, eventID string) (*audit.Record, error) {
	return f.records[eventID], nil
}

func (f *fakeAuditReader) VerifyTenant(context.Context, string) (int, error) {
	return f.verifyN, f.verifyErr
}

func mockRouter(t *testing.T, keys *auth.KeyStore, reader auditReader) http.Handler {
	t.Helper()
	return newRouter(routerConfig{
		log:           testLogger(),
		connector:     NewAPITableConnector(testLogger(), true, map[string]string{"api_token": "x"}, nil),
		internalToken: "secret",
		keys:          keys,
		audit:         reader,
	})
}

func postExec(t *testing.T, h http.Handler, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/exec", bytes.NewReader(b))
	req.Header.Set("X-Internal-Token", token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_ExecMock(t *testing.T) {
	h := mockRouter(t, nil, nil)
	rec := postExec(t, h, "secret", connectors.ExecRequest{
		Tool:   "apitable",
		Action: "list_records",
		Params: json.RawMessage(`{"datasheet_id":"dst1"}`),
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp connectors.ExecResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != connectors.StatusSuccess || resp.EventID == "" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Message == nil || !resp.Message.IsJSON() {
		t.Fatalf("expected JSON message, got %+v", resp.Message)
	}
}

func TestRouter_ExecRejectsBadToken(t *testing.T) {
	h := mockRouter(t, nil, nil)
	rec := postExec(t, h, "wrong", connectors.ExecRequest{Action: "list_records"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRouter_ExecRejectsOtherTool(t *testing.T) {
	h := mockRouter(t, nil, nil)
	rec := postExec(t, h, "secret", connectors.ExecRequest{Tool: "jira", Action: "list_records"}, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestRouter_APIKeys(t *testing.T) {
	h := mockRouter(t, auth.NewKeyStore("tenant-a:key-a"), nil)

	rec := postExec(t, h, "secret", connectors.ExecRequest{Action: "list_records"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without API key, got %d", rec.Code)
	}

	rec = postExec(t, h, "secret", connectors.ExecRequest{
		Action: "list_records",
		Params: json.RawMessage(`{"datasheet_id":"dst1"}`),
	}, map[string]string{"X-API-Key": "key-a"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with API key, got %d: %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("healthz should skip auth, got %d", rr.Code)
	}
}

func TestRouter_Readyz(t *testing.T) {
	tests := []struct {
		name   string
		reader auditReader
		want   int
	}{
		{"audit disabled", nil, http.StatusOK},
		{"audit healthy", &fakeAuditReader{}, http.StatusOK},
		{"audit down", &fakeAuditReader{pingErr: errors.New("down")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := mockRouter(t, nil, tt.reader)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestRouter_GetAuditRecord(t *testing.T) {
	reader := &fakeAuditReader{records: map[string]*audit.Record{
		testEventID: {EventID: testEventID, TenantID: "tenant-a", Action: "list_records", Hash: "abc"},
	}}
	h := mockRouter(t, auth.NewKeyStore("tenant-a:key-a,tenant-b:key-b"), reader)

	get := func(path, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-API-Key", key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := get("/v1/audit/"+testEventID, "key-a")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got audit.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Hash != "abc" {
		t.Errorf("unexpected record %+v", got)
	}

	if rec := get("/v1/audit/"+testEventID, "key-b"); rec.Code != http.StatusNotFound {
		t.Errorf("other tenant should get 404, got %d", rec.Code)
	}
	if rec := get("/v1/audit/not-a-uuid", "key-a"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", rec.Code)
	}
	if rec := get("/v1/audit/5c1b0e8e-0000-4000-8000-000000000000", "key-a"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", rec.Code)
	}
}

func TestRouter_AuditDisabled(t *testing.T) {
	h := mockRouter(t, nil, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/"+testEventID, nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRouter_VerifyAuditChain(t *testing.T) {
	tests := []struct {
		name      string
		reader    *fakeAuditReader
		wantCode  int
		wantValid bool
	}{
		{"valid", &fakeAuditReader{verifyN: 3}, http.StatusOK, true},
		{"broken", &fakeAuditReader{verifyN: 3, verifyErr: fmt.Errorf("%w at index 1", audit.ErrChainBroken)}, http.StatusOK, false},
		{"store error", &fakeAuditReader{verifyErr: errors.New("db down")}, http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := mockRouter(t, nil, tt.reader)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/verify?tenant_id=tenant-a", nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var resp audit.ChainStatus
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Valid != tt.wantValid || resp.Events != 3 || resp.TenantID != "tenant-a" {
				t.Errorf("unexpected verify response %+v", resp)
			}
		})
	}
}

func TestRouter_VerifyRequiresTenant(t *testing.T) {
	h := mockRouter(t, nil, &fakeAuditReader{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/verify", nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestDefaultCredentials(t *testing.T) {
	t.Setenv("APITABLE_API_TOKEN", "tok")
	t.Setenv("APITABLE_BASE_URL", "https://apitable.example.com/fusion/v1")
	t.Setenv("APITABLE_READ_ONLY", "true")

	creds := defaultCredentials()
	if creds["api_token"] != "tok" || creds["api_base_url"] != "https://apitable.example.com/fusion/v1" || creds["read_only"] != "yes" {
		t.Errorf("unexpected defaults %v", creds)
	}
}
