package local

import (
	"context"

	storage "github.com/zoctipus/StorageHandler"
)

func init() {
	storage.RegisterDriver(storage.SchemeFile, func(_ context.Context, uri *storage.URI, _ *storage.Config) (storage.Driver, error) {
		return New(uri.BasePath)
	})
}
