package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is one audited connector invocation. Credentials are never part of
// a record.
type Record struct {
	EventID  string `json:"event_id"`
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id,omitempty"`
	Action   string `json:"action"`
	Method   string `json:"method,omitempty"`
	Path     string `json:"path,omitempty"`
	// Params is the invocation parameter mapping as received.
	Params json.RawMessage `json:"params,omitempty"`
	Result Result          `json:"result"`

	RecordedAt time.Time `json:"recorded_at"`
	Hash       string    `json:"hash"`
	PrevHash   string    `json:"prev_hash"`
}

// Result summarizes the outcome of an invocation.
type Result struct {
	Status      string `json:"status"`
	ErrorCode   string `json:"error_code,omitempty"`
	HTTPStatus  int    `json:"http_status,omitempty"`
	MessageKind string `json:"message_kind"`
	// MessageSHA256 fingerprints the returned message without storing it.
	MessageSHA256 string `json:"message_sha256"`
	DurationMS    int64  `json:"duration_ms"`
}

// callFields is the hashed view of the request side of a record.
type callFields struct {
	EventID  string          `json:"event_id"`
	TenantID string          `json:"tenant_id"`
	AgentID  string          `json:"agent_id"`
	Action   string          `json:"action"`
	Method   string          `json:"method"`
	Path     string          `json:"path"`
	Params   json.RawMessage `json:"params,omitempty"`
}

// Canonical returns the canonical forms of the call and its result.
func (r *Record) Canonical() (call, result []byte, err error) {
	call, err = CanonicalJSON(callFields{
		EventID:  r.EventID,
		TenantID: r.TenantID,
		AgentID:  r.AgentID,
		Action:   r.Action,
		Method:   r.Method,
		Path:     r.Path,
		Params:   r.Params,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("audit canonical call: %w", err)
	}
	result, err = CanonicalJSON(r.Result)
	if err != nil {
		return nil, nil, fmt.Errorf("audit canonical result: %w", err)
	}
	return call, result, nil
}

// Seal computes the record hash on top of prevHash.
func (r *Record) Seal(prevHash string) (ChainEvent, error) {
	call, result, err := r.Canonical()
	if err != nil {
		return ChainEvent{}, err
	}
	r.PrevHash = prevHash
	r.Hash = ChainHash(prevHash, call, result)
	return ChainEvent{
		EventID:     r.EventID,
		Hash:        r.Hash,
		PrevHash:    prevHash,
		CanonCall:   call,
		CanonResult: result,
	}, nil
}
