package secrets

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Backend names a secret store
type Backend string

const (
	BackendVault Backend = "vault"
	BackendAWS   Backend = "aws"
	BackendGCP   Backend = "gcp"
	BackendFiles Backend = "kubernetes"
)

var (
	// ErrInvalidReference is returned for an empty or malformed reference
	ErrInvalidReference = errors.New("secrets: invalid reference")
	// ErrBackendUnavailable is returned when a reference names a backend that is not configured
	ErrBackendUnavailable = errors.New("secrets: backend not configured")
	// ErrKeyNotFound is returned when the secret has no value for the requested key
	ErrKeyNotFound = errors.New("secrets: key not found")
)

// Reference locates a single secret value.
// Syntax: [backend://][mount::]path[@version][#key]
type Reference struct {
	Backend Backend
	Mount   string
	Path    string
	Version string
	Key     string
}

// ParseReference parses raw into a Reference
func ParseReference(raw string) (Reference, error) {
	var ref Reference
	rest := strings.TrimSpace(raw)

	if scheme, tail, ok := strings.Cut(rest, "://"); ok && scheme != "" {
		ref.Backend = Backend(scheme)
		rest = tail
	}
	if head, key, ok := strings.Cut(rest, "#"); ok {
		ref.Key = strings.TrimSpace(key)
		rest = head
	}
	if head, version, ok := strings.Cut(rest, "@"); ok {
		ref.Version = strings.TrimSpace(version)
		rest = head
	}
	if mount, path, ok := strings.Cut(rest, "::"); ok {
		ref.Mount = strings.Trim(strings.TrimSpace(mount), "/")
		rest = path
	}

	ref.Path = strings.Trim(strings.TrimSpace(rest), "/")
	if ref.Path == "" {
		return ref, ErrInvalidReference
	}
	return ref, nil
}

func (r Reference) cacheKey(backend Backend) string {
	var sb strings.Builder
	sb.WriteString(string(backend))
	sb.WriteString("|")
	sb.WriteString(r.Mount)
	sb.WriteString("|")
	sb.WriteString(r.Path)
	sb.WriteString("@")
	sb.WriteString(r.Version)
	return sb.String()
}

// Payload is the set of values stored under one secret path
type Payload struct {
	Values    map[string]string
	Version   string
	FetchedAt time.Time
}

// pick returns the value for key, or the only value when key is empty
func (p Payload) pick(key string) (string, error) {
	if key != "" {
		v, ok := p.Values[key]
		if !ok {
			return "", ErrKeyNotFound
		}
		return v, nil
	}
	if len(p.Values) == 1 {
		for _, v := range p.Values {
			return v, nil
		}
	}
	if v, ok := p.Values["value"]; ok {
		return v, nil
	}
	return "", ErrKeyNotFound
}

// decodeValues treats a JSON object as a key/value map and anything else as a single "value"
func decodeValues(raw []byte) map[string]string {
	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err == nil && len(asMap) > 0 {
		return asMap
	}
	return map[string]string{"value": string(raw)}
}
