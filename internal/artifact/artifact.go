// Package artifact persists raw documents downloaded during a crawl.
package artifact

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-crawler/internal/config"
)

// Store writes documents under a flat key such as "HRB182742_AD.pdf".
// Concurrent writes to the same key are allowed; the last one wins.
type Store interface {
	// Put stores data under key and returns a location for logging.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.ArtifactConfig) (Store, error) {
	switch cfg.Backend {
	case "local", "":
		return NewLocal(cfg.Dir), nil
	case "minio":
		client, err := NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return NewMinio(ctx, client, cfg.Minio.Bucket)
	case "none":
		return Noop{}, nil
	default:
		return nil, eris.Errorf("artifact: unknown backend %q", cfg.Backend)
	}
}

// Noop discards everything.
type Noop struct{}

// Put implements Store.
func (Noop) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	return "none:" + key, nil
}
