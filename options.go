package storagehandler

import (
	"log/slog"
	"time"
)

// HandlerOption configures a Handler at construction time.
type HandlerOption func(*handlerOptions)

type handlerOptions struct {
	cfg       *Config
	logger    *slog.Logger
	chunkSize int
	retries   int
	timeout   time.Duration
	codec     Codec
}

func defaultHandlerOptions() *handlerOptions {
	return &handlerOptions{
		retries: -1, // resolve from config later
	}
}

// WithConfig supplies the backend configuration bag (credentials,
// region, endpoints). Without it, each backend's default credential
// chain applies.
func WithConfig(cfg *Config) HandlerOption {
	return func(o *handlerOptions) {
		o.cfg = cfg
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(o *handlerOptions) {
		o.logger = logger
	}
}

// WithChunkSize sets the chunk size for streaming transfers.
func WithChunkSize(size int) HandlerOption {
	return func(o *handlerOptions) {
		o.chunkSize = size
	}
}

// WithMaxRetries bounds reconnection attempts for transient failures.
func WithMaxRetries(n int) HandlerOption {
	return func(o *handlerOptions) {
		o.retries = n
	}
}

// WithTimeout applies a per-call timeout to non-streaming operations.
// Zero disables timeouts.
func WithTimeout(d time.Duration) HandlerOption {
	return func(o *handlerOptions) {
		o.timeout = d
	}
}

// WithCodec replaces the compression codec used by CompressAndUpload and
// DownloadAndDecompress. Defaults to gzip.
func WithCodec(c Codec) HandlerOption {
	return func(o *handlerOptions) {
		o.codec = c
	}
}
