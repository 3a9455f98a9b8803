package secrets

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSConfig configures the AWS Secrets Manager backend. Credentials come from the
// default chain (env, shared profile, instance role).
type AWSConfig struct {
	Region   string
	Profile  string
	Endpoint string
}

type awsFetcher struct {
	client *secretsmanager.Client
}

func newAWSFetcher(ctx context.Context, cfg AWSConfig) (*awsFetcher, error) {
	if cfg.Region == "" {
		return nil, errors.New("secrets: aws requires AWS_REGION")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to load aws config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &awsFetcher{client: client}, nil
}

func (a *awsFetcher) Close() error { return nil }

func (a *awsFetcher) Fetch(ctx context.Context, ref Reference) (Payload, error) {
	input := &secretsmanager.GetSecretValueInput{SecretId: aws.String(ref.Path)}
	if ref.Version != "" {
		input.VersionId = aws.String(ref.Version)
	}

	out, err := a.client.GetSecretValue(ctx, input)
	if err != nil {
		return Payload{}, fmt.Errorf("secrets: aws fetch %s failed: %w", ref.Path, err)
	}

	var payload Payload
	switch {
	case out.SecretString != nil:
		payload.Values = decodeValues([]byte(*out.SecretString))
	case out.SecretBinary != nil:
		payload.Values = decodeValues(out.SecretBinary)
	default:
		payload.Values = map[string]string{}
	}
	payload.Version = aws.ToString(out.VersionId)
	return payload, nil
}
