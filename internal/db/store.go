// Package db persists captures and responses. Two backends implement Store:
// SurrealDB (the default document database) and an embedded SQLite file.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/observer/internal/config"
	"github.com/raphaelgruber/observer/internal/metrics"
	"github.com/raphaelgruber/observer/internal/models"
)

// DefaultListLimit caps listings when the caller passes a non-positive limit.
const DefaultListLimit = 10

// CaptureFile is an image loaded from a file rather than the capture device.
type CaptureFile struct {
	Name     string
	Data     []byte
	FileType string
}

// CountFilter narrows a count. Nil fields do not filter.
// Since is inclusive and Until exclusive.
type CountFilter struct {
	Since    *time.Time
	Until    *time.Time
	Archived *bool
}

// Store is the record store for captures and responses.
// Every identifier argument must be a UUID; anything else fails with
// ErrInvalidID before the backend is touched.
type Store interface {
	SaveCapture(ctx context.Context, data []byte, fileType string) (string, error)
	SaveCaptureFile(ctx context.Context, f CaptureFile) (string, error)
	GetCapture(ctx context.Context, id string) (*models.Capture, error)
	ListRecentCaptures(ctx context.Context, limit int) ([]models.Capture, error)
	ListArchivedCaptures(ctx context.Context) ([]models.Capture, error)
	ArchiveCapture(ctx context.Context, id string) (bool, error)
	UnarchiveCapture(ctx context.Context, id string) (bool, error)
	DeleteCapture(ctx context.Context, id string) (bool, error)

	SaveResponse(ctx context.Context, in models.ResponseInput) (string, error)
	GetResponse(ctx context.Context, id string) (*models.Response, error)
	ListRecentResponses(ctx context.Context, limit int) ([]models.Response, error)
	DeleteResponse(ctx context.Context, id string) (bool, error)

	CountCaptures(ctx context.Context, f CountFilter) (int, error)
	CountResponses(ctx context.Context, f CountFilter) (int, error)
	StorageUsage(ctx context.Context) (models.StorageUsage, error)

	Close(ctx context.Context) error
}

// NewStore opens the backend selected by cfg.DBType and ensures its schema.
func NewStore(ctx context.Context, cfg config.Config, log *slog.Logger, mc *metrics.Collector) (Store, error) {
	if log == nil {
		log = slog.Default()
	}

	switch cfg.DBType {
	case config.DBTypeSurrealDB:
		client, err := NewClient(ctx, SurrealConfig{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, log, mc)
		if err != nil {
			return nil, fmt.Errorf("connect surrealdb: %w", err)
		}
		if err := client.InitSchema(ctx); err != nil {
			_ = client.Close(ctx)
			return nil, err
		}
		return client, nil

	case config.DBTypeSQLite:
		store, err := NewSQLiteStore(ctx, cfg.SQLitePath, log, mc)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

func captureFileType(fileType string) string {
	if fileType == "" {
		return models.DefaultFileType
	}
	return fileType
}
