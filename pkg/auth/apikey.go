package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
)

// KeyStore resolves API keys to the tenant that owns them. Only SHA-256
// digests of the keys are held in memory. A KeyStore is read-only after
// construction and safe for concurrent use.
type KeyStore struct {
	tenants map[string]string // hex(SHA-256(key)) → tenant
}

// NewKeyStore parses API_KEYS, a comma-separated list of "tenant:key" pairs
// such as "acme:sk-abc,globex:sk-def". Malformed pairs are skipped. A key
// listed for two different tenants is dropped entirely so it can never
// resolve to the wrong tenant.
func NewKeyStore(raw string) *KeyStore {
	ks := &KeyStore{tenants: map[string]string{}}
	conflicted := map[string]bool{}

	for _, pair := range strings.Split(raw, ",") {
		tenant, key, ok := strings.Cut(strings.TrimSpace(pair), ":")
		tenant, key = strings.TrimSpace(tenant), strings.TrimSpace(key)
		if !ok || tenant == "" || key == "" {
			continue
		}
		digest := hashKey(key)
		if conflicted[digest] {
			continue
		}
		if prev, seen := ks.tenants[digest]; seen && prev != tenant {
			slog.Warn("api key configured for several tenants, ignoring it", "tenants", []string{prev, tenant})
			delete(ks.tenants, digest)
			conflicted[digest] = true
			continue
		}
		ks.tenants[digest] = tenant
	}
	return ks
}

// Lookup returns the tenant owning apiKey.
func (ks *KeyStore) Lookup(apiKey string) (string, bool) {
	if ks == nil || apiKey == "" {
		return "", false
	}
	tenant, ok := ks.tenants[hashKey(apiKey)]
	return tenant, ok
}

// Len reports how many keys are configured.
func (ks *KeyStore) Len() int {
	if ks == nil {
		return 0
	}
	return len(ks.tenants)
}

// Tenants lists the distinct tenants that own at least one key, sorted.
func (ks *KeyStore) Tenants() []string {
	if ks == nil {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, t := range ks.tenants {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
