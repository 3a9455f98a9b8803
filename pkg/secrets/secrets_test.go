package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/richxcame/store-loyalty/pkg/config"
)

// ============== Reference Tests ==============

func TestParseReference(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Reference
	}{
		{"plain path", "loyalty/db", Reference{Path: "loyalty/db"}},
		{"trims slashes", "  /loyalty/db/ ", Reference{Path: "loyalty/db"}},
		{"backend prefix", "vault://loyalty/db", Reference{Backend: BackendVault, Path: "loyalty/db"}},
		{"key selector", "aws://prod/loyalty#password", Reference{Backend: BackendAWS, Path: "prod/loyalty", Key: "password"}},
		{"version and key", "gcp://jwt-secret@3#value", Reference{Backend: BackendGCP, Path: "jwt-secret", Version: "3", Key: "value"}},
		{"mount override", "vault://kv::loyalty/redis@2#password", Reference{Backend: BackendVault, Mount: "kv", Path: "loyalty/redis", Version: "2", Key: "password"}},
		{"full gcp resource", "gcp://projects/p/secrets/s/versions/1", Reference{Backend: BackendGCP, Path: "projects/p/secrets/s/versions/1"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseReference(tc.raw)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestParseReference_Invalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "vault://", "vault:///#key", "kv::/@1"} {
		if _, err := ParseReference(raw); !errors.Is(err, ErrInvalidReference) {
			t.Errorf("%q: expected ErrInvalidReference, got %v", raw, err)
		}
	}
}

// ============== Payload Tests ==============

func TestPayloadPick(t *testing.T) {
	single := Payload{Values: map[string]string{"password": "s3cret"}}
	multi := Payload{Values: map[string]string{"username": "loyalty", "password": "s3cret"}}
	plain := Payload{Values: map[string]string{"value": "raw", "other": "x"}}

	if v, err := single.pick(""); err != nil || v != "s3cret" {
		t.Errorf("single value: got %q, %v", v, err)
	}
	if v, err := multi.pick("username"); err != nil || v != "loyalty" {
		t.Errorf("keyed value: got %q, %v", v, err)
	}
	if _, err := multi.pick(""); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("ambiguous payload: expected ErrKeyNotFound, got %v", err)
	}
	if v, err := plain.pick(""); err != nil || v != "raw" {
		t.Errorf("value fallback: got %q, %v", v, err)
	}
	if _, err := single.pick("missing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("missing key: expected ErrKeyNotFound, got %v", err)
	}
}

func TestDecodeValues(t *testing.T) {
	obj := decodeValues([]byte(`{"password":"p","user":"u"}`))
	if obj["password"] != "p" || obj["user"] != "u" || len(obj) != 2 {
		t.Errorf("unexpected object decode: %v", obj)
	}

	plain := decodeValues([]byte("just-a-token"))
	if plain["value"] != "just-a-token" || len(plain) != 1 {
		t.Errorf("unexpected plain decode: %v", plain)
	}

	// a JSON object with non-string values is not a key/value secret
	nested := decodeValues([]byte(`{"port":5432}`))
	if nested["value"] != `{"port":5432}` {
		t.Errorf("unexpected nested decode: %v", nested)
	}
}

// ============== Store Tests ==============

type countingFetcher struct {
	mu      sync.Mutex
	calls   int
	payload Payload
	err     error
	closed  bool
}

func (f *countingFetcher) Fetch(_ context.Context, _ Reference) (Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.payload, f.err
}

func (f *countingFetcher) Close() error {
	f.closed = true
	return nil
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestStoreLookup_CachesUntilTTL(t *testing.T) {
	f := &countingFetcher{payload: Payload{Values: map[string]string{"password": "p1"}}}
	s := newStore(BackendVault, time.Minute, map[Backend]fetcher{BackendVault: f})
	current := time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		v, err := s.Lookup(context.Background(), "loyalty/db#password")
		if err != nil || v != "p1" {
			t.Fatalf("lookup %d: got %q, %v", i, v, err)
		}
	}
	if f.count() != 1 {
		t.Fatalf("expected 1 fetch, got %d", f.count())
	}

	current = current.Add(time.Minute)
	if _, err := s.Lookup(context.Background(), "loyalty/db#password"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.count() != 2 {
		t.Errorf("expected refetch after ttl, got %d fetches", f.count())
	}

	s.Invalidate()
	if _, err := s.Lookup(context.Background(), "loyalty/db#password"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.count() != 3 {
		t.Errorf("expected refetch after invalidate, got %d fetches", f.count())
	}
}

func TestStoreLookup_ZeroTTLDisablesCache(t *testing.T) {
	f := &countingFetcher{payload: Payload{Values: map[string]string{"value": "x"}}}
	s := newStore(BackendVault, 0, map[Backend]fetcher{BackendVault: f})

	for i := 0; i < 2; i++ {
		if _, err := s.Lookup(context.Background(), "jwt"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if f.count() != 2 {
		t.Errorf("expected 2 fetches, got %d", f.count())
	}
}

func TestStoreLookup_KeysShareOnePayload(t *testing.T) {
	f := &countingFetcher{payload: Payload{Values: map[string]string{"user": "u", "password": "p"}}}
	s := newStore(BackendAWS, time.Minute, map[Backend]fetcher{BackendAWS: f})

	user, err := s.Lookup(context.Background(), "prod/db#user")
	if err != nil || user != "u" {
		t.Fatalf("got %q, %v", user, err)
	}
	password, err := s.Lookup(context.Background(), "aws://prod/db#password")
	if err != nil || password != "p" {
		t.Fatalf("got %q, %v", password, err)
	}
	if f.count() != 1 {
		t.Errorf("expected 1 fetch, got %d", f.count())
	}
}

func TestStoreLookup_Errors(t *testing.T) {
	f := &countingFetcher{payload: Payload{Values: map[string]string{"a": "1", "b": "2"}}}
	s := newStore(BackendVault, time.Minute, map[Backend]fetcher{BackendVault: f})

	if _, err := s.Lookup(context.Background(), ""); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("expected ErrInvalidReference, got %v", err)
	}
	if _, err := s.Lookup(context.Background(), "gcp://jwt"); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
	if _, err := s.Lookup(context.Background(), "loyalty/db"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}

	failing := &countingFetcher{err: errors.New("permission denied")}
	s = newStore(BackendVault, time.Minute, map[Backend]fetcher{BackendVault: failing})
	if _, err := s.Lookup(context.Background(), "loyalty/db"); err == nil {
		t.Fatal("expected fetch error")
	}
	if _, err := s.Lookup(context.Background(), "loyalty/db"); err == nil {
		t.Fatal("expected fetch error")
	}
	if failing.count() != 2 {
		t.Errorf("errors must not be cached, got %d fetches", failing.count())
	}
}

func TestStoreClose(t *testing.T) {
	f := &countingFetcher{}
	s := newStore(BackendVault, 0, map[Backend]fetcher{BackendVault: f})
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.closed {
		t.Error("expected fetcher to be closed")
	}
}

func TestOpen_UnknownProvider(t *testing.T) {
	if _, err := Open(context.Background(), config.SecretsConfig{Provider: "etcd"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestOpen_BackendRequirements(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.SecretsConfig
	}{
		{"vault without token", config.SecretsConfig{Provider: "vault", VaultAddress: "http://127.0.0.1:8200"}},
		{"aws without region", config.SecretsConfig{Provider: "aws"}},
		{"gcp without project", config.SecretsConfig{Provider: "gcp"}},
		{"missing mount", config.SecretsConfig{Provider: "kubernetes", KubernetesBasePath: filepath.Join(t.TempDir(), "absent")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Open(context.Background(), tc.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

// ============== File Backend Tests ==============

func writeSecret(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestFileBackend(t *testing.T) {
	base := t.TempDir()
	writeSecret(t, filepath.Join(base, "postgres"), "password", "pg-pass\n")
	writeSecret(t, filepath.Join(base, "postgres"), "username", "loyalty")
	writeSecret(t, base, "jwt-secret", "  signing-key  ")

	s, err := Open(context.Background(), config.SecretsConfig{Provider: "kubernetes", KubernetesBasePath: base, CacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	if v, err := s.Lookup(context.Background(), "postgres#password"); err != nil || v != "pg-pass" {
		t.Errorf("directory secret: got %q, %v", v, err)
	}
	if v, err := s.Lookup(context.Background(), "kubernetes://jwt-secret"); err != nil || v != "signing-key" {
		t.Errorf("file secret: got %q, %v", v, err)
	}
	if _, err := s.Lookup(context.Background(), "absent"); err == nil {
		t.Error("expected error for missing secret")
	}
}

func TestFileBackend_StaysInsideMount(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "mount")
	writeSecret(t, root, "outside", "leak")
	writeSecret(t, base, "inside", "ok")

	f, err := newFileFetcher(base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.Fetch(context.Background(), Reference{Path: "../outside"}); err == nil {
		t.Error("expected traversal outside the mount to fail")
	}
}

// ============== Apply Tests ==============

type mapLookuper map[string]string

func (m mapLookuper) Lookup(_ context.Context, raw string) (string, error) {
	v, ok := m[raw]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func TestApply(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Password = "plain"
	cfg.Redis.Password = "keep-me"
	cfg.Secrets.DatabasePasswordRef = "vault://loyalty/db#password"
	cfg.Secrets.JWTSecretRef = "vault://loyalty/jwt"
	cfg.Secrets.SentryDSNRef = "vault://loyalty/sentry"

	l := mapLookuper{
		"vault://loyalty/db#password": "from-vault",
		"vault://loyalty/jwt":         "jwt-key",
		"vault://loyalty/sentry":      "https://key@sentry.example/1",
	}
	if err := Apply(context.Background(), l, cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Password != "from-vault" {
		t.Errorf("database password not resolved: %q", cfg.Database.Password)
	}
	if cfg.JWT.Secret != "jwt-key" {
		t.Errorf("jwt secret not resolved: %q", cfg.JWT.Secret)
	}
	if cfg.Sentry.DSN != "https://key@sentry.example/1" {
		t.Errorf("sentry dsn not resolved: %q", cfg.Sentry.DSN)
	}
	if cfg.Redis.Password != "keep-me" {
		t.Errorf("redis password without reference must be unchanged: %q", cfg.Redis.Password)
	}
}

func TestApply_FailureNamesSetting(t *testing.T) {
	cfg := &config.Config{}
	cfg.Secrets.RedisPasswordRef = "vault://missing"

	err := Apply(context.Background(), mapLookuper{}, cfg)
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if got := err.Error(); got != "failed to resolve redis.password: secrets: key not found" {
		t.Errorf("unexpected message: %s", got)
	}
}
