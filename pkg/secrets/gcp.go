package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"google.golang.org/api/option"
)

// GCPConfig configures the Google Secret Manager backend
type GCPConfig struct {
	ProjectID       string
	CredentialsFile string
}

type gcpFetcher struct {
	client  *secretmanager.Client
	project string
}

func newGCPFetcher(ctx context.Context, cfg GCPConfig) (*gcpFetcher, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("secrets: gcp requires GCP_PROJECT_ID")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to create gcp secret manager client: %w", err)
	}
	return &gcpFetcher{client: client, project: cfg.ProjectID}, nil
}

func (g *gcpFetcher) Close() error { return g.client.Close() }

func (g *gcpFetcher) Fetch(ctx context.Context, ref Reference) (Payload, error) {
	name := g.versionName(ref)
	resp, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return Payload{}, fmt.Errorf("secrets: gcp fetch %s failed: %w", name, err)
	}

	payload := Payload{Version: resp.GetName(), Values: map[string]string{}}
	if data := resp.GetPayload().GetData(); data != nil {
		payload.Values = decodeValues(data)
	}
	return payload, nil
}

// versionName expands a short secret id into its full resource name
func (g *gcpFetcher) versionName(ref Reference) string {
	if strings.HasPrefix(ref.Path, "projects/") {
		return ref.Path
	}
	version := ref.Version
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", g.project, ref.Path, version)
}
