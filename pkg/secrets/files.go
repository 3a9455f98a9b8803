package secrets

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fileFetcher reads secrets mounted as files, the way Kubernetes projects a Secret volume.
// A directory becomes one value per file; a single file becomes one value named after it.
type fileFetcher struct {
	base string
}

func newFileFetcher(base string) (*fileFetcher, error) {
	if base == "" {
		base = "/var/run/secrets"
	}
	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("secrets: mount %s not accessible: %w", base, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("secrets: mount %s is not a directory", base)
	}
	return &fileFetcher{base: base}, nil
}

func (f *fileFetcher) Close() error { return nil }

func (f *fileFetcher) Fetch(_ context.Context, ref Reference) (Payload, error) {
	target := filepath.Join(f.base, filepath.Clean("/"+ref.Path))
	info, err := os.Stat(target)
	if err != nil {
		return Payload{}, fmt.Errorf("secrets: %s not found: %w", ref.Path, err)
	}

	values := make(map[string]string)
	if !info.IsDir() {
		content, err := os.ReadFile(target)
		if err != nil {
			return Payload{}, err
		}
		values[filepath.Base(target)] = strings.TrimSpace(string(content))
		return Payload{Values: values, Version: info.ModTime().UTC().String()}, nil
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return Payload{}, err
	}
	for _, e := range entries {
		// projected volumes keep the real files under ..data; the top-level names are symlinks
		if e.IsDir() || strings.HasPrefix(e.Name(), "..") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(target, e.Name()))
		if err != nil {
			return Payload{}, err
		}
		values[e.Name()] = strings.TrimSpace(string(content))
	}
	return Payload{Values: values}, nil
}
