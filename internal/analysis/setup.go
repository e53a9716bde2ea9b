package analysis

import (
	"context"
	"path/filepath"

	"github.com/watchme/sed-go/internal/conf"
	"github.com/watchme/sed-go/internal/datastore"
	"github.com/watchme/sed-go/internal/fetch"
	"github.com/watchme/sed-go/internal/observability"
	"github.com/watchme/sed-go/internal/persist"
	"github.com/watchme/sed-go/internal/yamnet"
)

// BuildRunner assembles a Runner from the settings: model loader, object
// store fetcher and uploader, result store and writer. Components without
// configuration are left out. The returned cleanup closes whatever was
// opened and is safe to call once.
func BuildRunner(ctx context.Context, settings *conf.Settings, metrics *observability.Metrics) (*Runner, func(), error) {
	loader := yamnet.NewLoader(settings.Model, metrics)

	var fetcher fetch.Fetcher
	if settings.Fetch.Bucket != "" {
		s3Fetcher, err := fetch.NewS3Fetcher(ctx, settings.Fetch)
		if err != nil {
			return nil, nil, err
		}
		fetcher = s3Fetcher
	}

	var uploader fetch.Uploader
	if settings.Upload.Enabled {
		s3Uploader, err := fetch.NewS3Uploader(ctx, settings.Fetch, settings.Upload)
		if err != nil {
			return nil, nil, err
		}
		uploader = s3Uploader
	}

	var store datastore.Interface
	if settings.Output.SQLite.Enabled {
		sqliteStore := datastore.NewSQLiteStore(settings.Output.SQLite.Path)
		if err := sqliteStore.Open(); err != nil {
			return nil, nil, err
		}
		store = sqliteStore
	}

	outDir := settings.Output.File.Path
	if outDir == "" {
		outDir = filepath.Join(".", "output")
	}
	writer := persist.NewWriter(outDir, uploader, store)

	runner := NewRunner(settings, loader, fetcher, writer, metrics)
	cleanup := func() {
		loader.Invalidate()
		if store != nil {
			if err := store.Close(); err != nil {
				runner.log.Warn("Failed to close datastore", "error", err)
			}
		}
	}
	return runner, cleanup, nil
}
