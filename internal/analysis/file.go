package analysis

import (
	"context"
	"os"
	"time"

	"github.com/watchme/sed-go/internal/detection"
	"github.com/watchme/sed-go/internal/errors"
)

// AnalyzeFile runs the pipeline over one local WAV file, for the
// command-line single-file path.
func (r *Runner) AnalyzeFile(ctx context.Context, path string, opts Options) (*detection.Result, error) {
	start := time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(err).
				Component("analysis").
				Category(errors.CategoryNotFound).
				Context("path", path).
				Build()
		}
		return nil, errors.New(err).
			Component("analysis").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}

	result, err := r.AnalyzeBytes(ctx, data, opts)
	if err != nil {
		return nil, err
	}

	r.log.Info("File analyzed",
		"path", path,
		"events", len(result.Timeline.Events),
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}
