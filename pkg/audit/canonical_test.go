package audit

import (
	"encoding/json"
	"testing"
)

func TestCanonicalJSON_StableKeyOrder(t *testing.T) {
	a := map[string]any{"z": 1, "a": 2, "m": 3}
	b := map[string]any{"a": 2, "m": 3, "z": 1}

	ca, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("canonical a: %v", err)
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("canonical b: %v", err)
	}
	if string(ca) != string(cb) {
		t.Errorf("canonical mismatch:\n  a=%s\n  b=%s", ca, cb)
	}
	if expected := `{"a":2,"m":3,"z":1}`; string(ca) != expected {
		t.Errorf("expected %s, got %s", expected, ca)
	}
}

func TestCanonicalJSON_RawParams(t *testing.T) {
	raw := json.RawMessage(`{ "payload": "{\"b\":1}", "datasheet_id": "dst1", "filter": {"y": 2, "x": 1.50} }`)
	canon, err := CanonicalJSON(raw)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	expected := `{"datasheet_id":"dst1","filter":{"x":1.50,"y":2},"payload":"{\"b\":1}"}`
	if string(canon) != expected {
		t.Errorf("expected %s, got %s", expected, canon)
	}
}

func TestCanonicalJSON_NoHTMLEscaping(t *testing.T) {
	canon, err := CanonicalJSON(map[string]string{"formula": "{Age} > 3 && {Age} < 9"})
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	if expected := `{"formula":"{Age} > 3 && {Age} < 9"}`; string(canon) != expected {
		t.Errorf("expected %s, got %s", expected, canon)
	}
}

func TestHashBytes(t *testing.T) {
	h := HashBytes([]byte(`{"success":true}`))
	if len(h) != 64 {
		t.Errorf("expected SHA-256 hex length 64, got %d", len(h))
	}
	if h != HashBytes([]byte(`{"success":true}`)) {
		t.Error("hash should be deterministic")
	}
}
