package sftp

import (
	"context"
	"fmt"
	"os"

	storage "github.com/zoctipus/StorageHandler"
)

func init() {
	storage.RegisterDriver(storage.SchemeSFTP, func(_ context.Context, uri *storage.URI, cfg *storage.Config) (storage.Driver, error) {
		c := Config{
			Addr:     uri.Authority,
			Username: uri.Username,
			Password: cfg.SFTPPassword,
		}
		if c.Username == "" {
			c.Username = cfg.SFTPUsername
		}
		if cfg.SFTPPrivateKey != "" {
			key, err := os.ReadFile(cfg.SFTPPrivateKey)
			if err != nil {
				return nil, fmt.Errorf("%w: read private key: %v", storage.ErrAuth, err)
			}
			c.PrivateKey = key
		}
		return New(c)
	})
}
