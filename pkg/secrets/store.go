package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/richxcame/store-loyalty/pkg/config"
)

type fetcher interface {
	Fetch(ctx context.Context, ref Reference) (Payload, error)
	Close() error
}

type cachedPayload struct {
	payload   Payload
	expiresAt time.Time
}

// Store resolves references against the configured backend and caches payloads
type Store struct {
	backend  Backend
	fetchers map[Backend]fetcher
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPayload
}

// Open connects to the backend selected by cfg.Provider
func Open(ctx context.Context, cfg config.SecretsConfig) (*Store, error) {
	backend := Backend(cfg.Provider)

	var (
		f   fetcher
		err error
	)
	switch backend {
	case BackendVault:
		f, err = newVaultFetcher(VaultConfig{
			Address:   cfg.VaultAddress,
			Token:     cfg.VaultToken,
			Namespace: cfg.VaultNamespace,
			Mount:     cfg.VaultMount,
		})
	case BackendAWS:
		f, err = newAWSFetcher(ctx, AWSConfig{
			Region:   cfg.AWSRegion,
			Profile:  cfg.AWSProfile,
			Endpoint: cfg.AWSEndpoint,
		})
	case BackendGCP:
		f, err = newGCPFetcher(ctx, GCPConfig{
			ProjectID:       cfg.GCPProject,
			CredentialsFile: cfg.GCPCredentialsFile,
		})
	case BackendFiles:
		f, err = newFileFetcher(cfg.KubernetesBasePath)
	default:
		return nil, fmt.Errorf("secrets: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return newStore(backend, cfg.CacheTTL, map[Backend]fetcher{backend: f}), nil
}

func newStore(backend Backend, ttl time.Duration, fetchers map[Backend]fetcher) *Store {
	return &Store{
		backend:  backend,
		fetchers: fetchers,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[string]cachedPayload),
	}
}

// Lookup resolves a raw reference to a single value
func (s *Store) Lookup(ctx context.Context, raw string) (string, error) {
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}

	backend := ref.Backend
	if backend == "" {
		backend = s.backend
	}
	f, ok := s.fetchers[backend]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrBackendUnavailable, backend)
	}

	key := ref.cacheKey(backend)
	payload, hit := s.cached(key)
	if !hit {
		payload, err = f.Fetch(ctx, ref)
		if err != nil {
			return "", err
		}
		if payload.FetchedAt.IsZero() {
			payload.FetchedAt = s.now()
		}
		s.store(key, payload)
	}

	value, err := payload.pick(ref.Key)
	if err != nil {
		return "", fmt.Errorf("%w: %s#%s", err, ref.Path, ref.Key)
	}
	return value, nil
}

// Invalidate drops every cached payload
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]cachedPayload)
	s.mu.Unlock()
}

// Close releases backend clients
func (s *Store) Close() error {
	var errs []error
	for _, f := range s.fetchers {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) cached(key string) (Payload, bool) {
	if s.ttl <= 0 {
		return Payload{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[key]
	if !ok || !s.now().Before(entry.expiresAt) {
		return Payload{}, false
	}
	return entry.payload, true
}

func (s *Store) store(key string, payload Payload) {
	if s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.cache[key] = cachedPayload{payload: payload, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
}
