package gcs

import (
	"context"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	storage "github.com/zoctipus/StorageHandler"
)

func init() {
	storage.RegisterDriver(storage.SchemeGCS, func(ctx context.Context, uri *storage.URI, cfg *storage.Config) (storage.Driver, error) {
		var opts []option.ClientOption
		if cfg.GCSCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
		}

		// Falls back to application default credentials when no
		// credentials file is configured.
		client, err := gcstorage.NewClient(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return New(client, uri.Authority), nil
	})
}
