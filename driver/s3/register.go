package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	storage "github.com/zoctipus/StorageHandler"
)

func init() {
	storage.RegisterDriver(storage.SchemeS3, func(ctx context.Context, uri *storage.URI, cfg *storage.Config) (storage.Driver, error) {
		client, err := newClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create s3 client: %w", err)
		}
		return New(client, uri.Authority), nil
	})
}

// newClient builds an S3 client from the default credential chain, with
// explicit static credentials and endpoint overrides when configured.
func newClient(ctx context.Context, cfg *storage.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
	)
	if err != nil {
		return nil, err
	}

	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKeyID,
			cfg.S3SecretAccessKey,
			cfg.S3SessionToken,
		)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		if cfg.S3ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}
