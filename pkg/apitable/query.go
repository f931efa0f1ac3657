package apitable

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// EncodeQuery flattens a JSON object into query parameters.
//
// Strings are used as-is and booleans become "true" or "false". Numbers are
// written in plain decimal form, so 1e2 is sent as "100" and 1.50 as "1.5".
// Nested objects and arrays are re-encoded as compact JSON text. Null values
// are dropped. An empty payload yields nil values.
func EncodeQuery(payload json.RawMessage) (url.Values, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("query parameters must be a JSON object, got %s", jsonKind(payload))
	}
	if fields == nil {
		return nil, nil
	}

	values := make(url.Values, len(fields))
	for key, raw := range fields {
		v, keep, err := queryValue(raw)
		if err != nil {
			return nil, fmt.Errorf("query parameter %q: %w", key, err)
		}
		if keep {
			values.Set(key, v)
		}
	}
	return values, nil
}

// queryValue renders one JSON value; keep is false for null.
func queryValue(raw json.RawMessage) (string, bool, error) {
	raw = bytes.TrimSpace(raw)
	switch raw[0] {
	case 'n':
		return "", false, nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false, err
		}
		return s, true, nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", false, err
		}
		return buf.String(), true, nil
	case 't', 'f':
		return string(raw), true, nil
	default:
		return formatNumber(string(raw))
	}
}

// formatNumber renders a JSON number without exponent or trailing zeros.
// Integer literals are kept digit for digit, whatever their size.
func formatNumber(lit string) (string, bool, error) {
	if !strings.ContainsAny(lit, ".eE") {
		if _, err := strconv.ParseFloat(lit, 64); err != nil {
			return "", false, fmt.Errorf("invalid number %s", lit)
		}
		return lit, true, nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return "", false, fmt.Errorf("invalid number %s", lit)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10), true, nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true, nil
}

func jsonKind(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "nothing"
	}
	switch raw[0] {
	case '[':
		return "array"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	case '{':
		return "invalid object"
	default:
		return "number"
	}
}
