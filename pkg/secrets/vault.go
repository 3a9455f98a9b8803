package secrets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig configures the Vault KV v2 backend
type VaultConfig struct {
	Address   string
	Token     string
	Namespace string
	Mount     string
}

type vaultFetcher struct {
	client *vault.Client
	mount  string
}

func newVaultFetcher(cfg VaultConfig) (*vaultFetcher, error) {
	if cfg.Address == "" || cfg.Token == "" {
		return nil, errors.New("secrets: vault requires VAULT_ADDR and VAULT_TOKEN")
	}

	clientCfg := vault.DefaultConfig()
	clientCfg.Address = cfg.Address
	client, err := vault.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = "secret"
	}
	return &vaultFetcher{client: client, mount: mount}, nil
}

func (v *vaultFetcher) Close() error { return nil }

func (v *vaultFetcher) Fetch(ctx context.Context, ref Reference) (Payload, error) {
	mount := v.mount
	if ref.Mount != "" {
		mount = ref.Mount
	}
	// accept paths copied from the HTTP API
	path := strings.TrimPrefix(ref.Path, "data/")

	kv := v.client.KVv2(mount)
	var (
		secret *vault.KVSecret
		err    error
	)
	if ref.Version != "" {
		version, convErr := strconv.Atoi(ref.Version)
		if convErr != nil {
			return Payload{}, fmt.Errorf("%w: vault version %q", ErrInvalidReference, ref.Version)
		}
		secret, err = kv.GetVersion(ctx, path, version)
	} else {
		secret, err = kv.Get(ctx, path)
	}
	if err != nil {
		var respErr *vault.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return Payload{}, fmt.Errorf("secrets: vault path %s/%s not found", mount, path)
		}
		return Payload{}, fmt.Errorf("secrets: vault read %s/%s failed: %w", mount, path, err)
	}

	values := make(map[string]string, len(secret.Data))
	for k, raw := range secret.Data {
		values[k] = fmt.Sprint(raw)
	}
	payload := Payload{Values: values}
	if secret.VersionMetadata != nil {
		payload.Version = strconv.Itoa(secret.VersionMetadata.Version)
	}
	return payload, nil
}
