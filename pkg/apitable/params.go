// Package apitable dispatches tool invocations to the APITable REST API.
//
// An invocation names an action (list, create, update or delete records, or a
// custom call), resolves it to one HTTP request, and normalizes the response
// into a single Message. Every failure is reported as a text Message.
package apitable

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// DefaultBaseURL is used when credentials carry no base URL override.
const DefaultBaseURL = "https://api.apitable.com/fusion/v1"

// Params are the invocation parameters supplied by the host.
type Params struct {
	Action         string `mapstructure:"action" json:"action"`
	DatasheetID    string `mapstructure:"datasheet_id" json:"datasheet_id,omitempty"`
	Payload        string `mapstructure:"payload" json:"payload,omitempty"`
	CustomMethod   string `mapstructure:"custom_method" json:"custom_method,omitempty"`
	CustomEndpoint string `mapstructure:"custom_endpoint" json:"custom_endpoint,omitempty"`
}

// ParamsFromMap decodes a host parameter mapping. Scalars are converted
// loosely; an object or array payload is re-encoded to its JSON text.
func ParamsFromMap(m map[string]any) (Params, error) {
	var p Params
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.DecodeHookFuncType(structuredToJSONHook),
		WeaklyTypedInput: true,
		Result:           &p,
	})
	if err != nil {
		return Params{}, fmt.Errorf("apitable.ParamsFromMap decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return Params{}, fmt.Errorf("apitable.ParamsFromMap: %w", err)
	}
	p.normalize()
	return p, nil
}

func (p *Params) normalize() {
	p.Action = strings.TrimSpace(p.Action)
	p.DatasheetID = strings.TrimSpace(p.DatasheetID)
	p.Payload = strings.TrimSpace(p.Payload)
	p.CustomMethod = strings.ToUpper(strings.TrimSpace(p.CustomMethod))
	p.CustomEndpoint = strings.TrimSpace(p.CustomEndpoint)
}

// structuredToJSONHook lets hosts pass an already-decoded payload.
func structuredToJSONHook(from, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	switch from.Kind() {
	case reflect.Map, reflect.Slice:
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return data, nil
}

// Credentials are supplied by the host for each invocation.
type Credentials struct {
	APIToken string
	BaseURL  string
	ReadOnly bool
}

// CredentialsFromMap reads api_token, api_base_url and read_only. Only the
// exact value "yes" enables read-only mode.
func CredentialsFromMap(m map[string]string) Credentials {
	return Credentials{
		APIToken: m["api_token"],
		BaseURL:  m["api_base_url"],
		ReadOnly: m["read_only"] == "yes",
	}
}

// baseURL returns the API root without trailing slashes.
func (c Credentials) baseURL() string {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return strings.TrimRight(base, "/")
}
