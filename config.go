package storagehandler

import (
	"github.com/gobeaver/beaver-kit/config"
)

// Config is the backend-specific configuration bag. Fields are loaded
// from the environment by GetConfig; zero values defer to each backend's
// default credential chain (IAM roles, application default credentials,
// ssh-agent).
type Config struct {
	// S3 configuration
	S3Region          string `env:"STORAGE_S3_REGION,default:us-east-1"`
	S3Endpoint        string `env:"STORAGE_S3_ENDPOINT"`
	S3AccessKeyID     string `env:"STORAGE_S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"STORAGE_S3_SECRET_ACCESS_KEY"`
	S3SessionToken    string `env:"STORAGE_S3_SESSION_TOKEN"`
	S3ForcePathStyle  bool   `env:"STORAGE_S3_FORCE_PATH_STYLE,default:false"`

	// GCS (Google Cloud Storage) configuration
	GCSProjectID       string `env:"STORAGE_GCS_PROJECT_ID"`
	GCSCredentialsFile string `env:"STORAGE_GCS_CREDENTIALS_FILE"` // Path to service account JSON

	// SFTP configuration. Host and port come from the root URI; these
	// supply credentials.
	SFTPUsername   string `env:"STORAGE_SFTP_USERNAME"`
	SFTPPassword   string `env:"STORAGE_SFTP_PASSWORD"`
	SFTPPrivateKey string `env:"STORAGE_SFTP_PRIVATE_KEY"` // Path to private key file

	// Transfer tuning
	ChunkSize  int   `env:"STORAGE_CHUNK_SIZE,default:1048576"` // 1MB default
	MaxRetries int   `env:"STORAGE_MAX_RETRIES,default:3"`
	TimeoutSec int64 `env:"STORAGE_TIMEOUT_SECONDS,default:0"` // 0 disables per-call timeouts
}

// GetConfig returns config loaded from environment
func GetConfig() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
