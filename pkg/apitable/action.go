package apitable

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Action names one of the supported operations.
type Action string

const (
	ActionListRecords   Action = "list_records"
	ActionCreateRecords Action = "create_records"
	ActionUpdateRecords Action = "update_records"
	ActionDeleteRecords Action = "delete_records"
	ActionCustomAPICall Action = "custom_api_call"
)

// Actions returns every supported action in table order.
func Actions() []Action {
	return []Action{
		ActionListRecords,
		ActionCreateRecords,
		ActionUpdateRecords,
		ActionDeleteRecords,
		ActionCustomAPICall,
	}
}

// ParseAction matches name exactly against the supported actions.
func ParseAction(name string) (Action, error) {
	for _, a := range Actions() {
		if string(a) == name {
			return a, nil
		}
	}
	return "", &UnknownActionError{Action: name}
}

// recordMethods maps the datasheet record actions to their HTTP method.
var recordMethods = map[Action]string{
	ActionListRecords:   http.MethodGet,
	ActionCreateRecords: http.MethodPost,
	ActionUpdateRecords: http.MethodPatch,
	ActionDeleteRecords: http.MethodDelete,
}

// Request is the HTTP call an invocation resolves to.
type Request struct {
	Action Action
	Method string
	// Path always starts with "/" and is relative to the API base URL.
	Path string
	// QueryPayload is a JSON object flattened into the query string.
	QueryPayload json.RawMessage
	// Body is sent verbatim as the JSON request body.
	Body json.RawMessage
	// RecordIDs are set only for delete_records when the payload is an array
	// of record id strings. They go out as repeated recordIds query
	// parameters with no body, which is how the APITable delete endpoint
	// takes ids. Any other delete payload is sent as Body.
	RecordIDs []string
}

// Resolve validates p and builds the request it describes. Fields are
// trimmed and the custom method upper-cased first, so every entry point sees
// the same gates. It performs no I/O and does not apply the read-only gate.
func Resolve(p Params) (Request, error) {
	p.normalize()
	payload, err := parsePayload(p.Payload)
	if err != nil {
		return Request{}, err
	}
	action, err := ParseAction(p.Action)
	if err != nil {
		return Request{}, err
	}

	req := Request{Action: action}
	switch action {
	case ActionListRecords, ActionCreateRecords, ActionUpdateRecords, ActionDeleteRecords:
		if p.DatasheetID == "" {
			return Request{}, &MissingFieldError{Action: action, Field: "datasheet_id"}
		}
		req.Method = recordMethods[action]
		req.Path = "/datasheets/" + url.PathEscape(p.DatasheetID) + "/records"
		switch action {
		case ActionListRecords:
			req.QueryPayload = payload
		case ActionDeleteRecords:
			if ids, ok := recordIDList(payload); ok {
				req.RecordIDs = ids
			} else {
				req.Body = payload
			}
		default:
			req.Body = payload
		}

	case ActionCustomAPICall:
		if p.CustomEndpoint == "" {
			return Request{}, &MissingFieldError{Action: action, Field: "custom_endpoint"}
		}
		req.Method = p.CustomMethod
		if req.Method == "" {
			req.Method = http.MethodGet
		}
		req.Path = p.CustomEndpoint
		if req.Method == http.MethodGet || req.Method == http.MethodDelete {
			req.QueryPayload = payload
		} else {
			req.Body = payload
		}
	}

	if !strings.HasPrefix(req.Path, "/") {
		req.Path = "/" + req.Path
	}
	if isEmptyJSON(req.QueryPayload) {
		req.QueryPayload = nil
	}
	if isEmptyJSON(req.Body) {
		req.Body = nil
	}
	return req, nil
}

// URL joins the request path onto base.
func (r Request) URL(base string) string {
	return strings.TrimRight(base, "/") + r.Path
}

// Query builds the query string values for the request.
func (r Request) Query() (url.Values, error) {
	values, err := EncodeQuery(r.QueryPayload)
	if err != nil {
		return nil, err
	}
	if len(r.RecordIDs) > 0 {
		if values == nil {
			values = url.Values{}
		}
		for _, id := range r.RecordIDs {
			values.Add("recordIds", id)
		}
	}
	return values, nil
}

// parsePayload returns the payload as raw JSON; blank means an empty object.
func parsePayload(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return json.RawMessage(`{}`), nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, &InvalidPayloadError{Raw: raw, Err: err}
	}
	return json.RawMessage(raw), nil
}

// recordIDList reports whether payload is a non-empty array of strings.
func recordIDList(payload json.RawMessage) ([]string, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal(trimmed, &ids); err != nil || len(ids) == 0 {
		return nil, false
	}
	return ids, true
}

// isEmptyJSON reports whether raw decodes to a falsy value: null, false, 0,
// "", {} or []. Such payloads are not sent at all.
func isEmptyJSON(raw json.RawMessage) bool {
	if len(bytes.TrimSpace(raw)) == 0 {
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case float64:
		return t == 0
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}
