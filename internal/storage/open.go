package storage

import (
	"fmt"

	"peopleapi/internal/config"
)

const (
	BackendLocal = "local"
	BackendMinIO = "minio"
)

// Open builds the backend selected by cfg.Storage.Backend.
func Open(cfg *config.AppConfig) (Storage, error) {
	switch cfg.Storage.Backend {
	case BackendLocal, "":
		return NewLocal(cfg.Storage)
	case BackendMinIO:
		return NewMinIO(cfg.MinIO)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
