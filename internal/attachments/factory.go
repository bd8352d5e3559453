package attachments

import (
	"context"
	"fmt"
	"net/http"
)

// Config selects and configures a backend.
type Config struct {
	Driver    Driver
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool

	// HTTPClient overrides the S3 transport.
	HTTPClient *http.Client
}

// Open returns the backend named by cfg.Driver; empty means memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverS3:
		return NewS3Store(ctx, cfg)
	case DriverMinIO:
		return NewMinIOStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown attachment driver %q", cfg.Driver)
	}
}
