// Package analysis orchestrates the detection pipeline: it turns raw
// recordings into shaped results, one at a time for ad-hoc requests and
// sequentially over a day's recording grid for batch runs.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/watchme/sed-go/internal/conf"
	"github.com/watchme/sed-go/internal/detection"
	"github.com/watchme/sed-go/internal/errors"
	"github.com/watchme/sed-go/internal/fetch"
	"github.com/watchme/sed-go/internal/logging"
	"github.com/watchme/sed-go/internal/myaudio"
	"github.com/watchme/sed-go/internal/observability"
	"github.com/watchme/sed-go/internal/persist"
	"github.com/watchme/sed-go/internal/yamnet"
)

// Unit identifies one half-hour recording in the store.
type Unit struct {
	DeviceID string `json:"device_id"`
	Date     string `json:"date"` // YYYY-MM-DD
	Slot     string `json:"slot"` // HH-MM
	Key      string `json:"key"`  // object store key relative to the fetch prefix
}

// Options are the per-request shaping parameters. Zero values fall back to
// the configured detection defaults. Threshold is a pointer because an
// explicit zero is meaningful: it reports every label for every frame.
type Options struct {
	Threshold      *float64
	SegmentSeconds float64
	TopN           int
}

// ModelProvider hands out the shared classifier and replaces it when the
// model cache turns out to be corrupt. Satisfied by *yamnet.Loader.
type ModelProvider interface {
	Acquire(ctx context.Context) (yamnet.Classifier, error)
	Recover(ctx context.Context, stale yamnet.Classifier) (yamnet.Classifier, error)
}

// Runner wires the pipeline stages together. One Runner serves both the
// batch path and the HTTP API; the loader keeps a single model instance
// shared across all of them.
type Runner struct {
	settings *conf.Settings
	loader   ModelProvider
	fetcher  fetch.Fetcher
	writer   *persist.Writer
	metrics  *observability.Metrics
	log      *slog.Logger
}

// NewRunner creates a Runner. The fetcher and writer may be nil for
// configurations that only analyze local files.
func NewRunner(settings *conf.Settings, loader ModelProvider, fetcher fetch.Fetcher, writer *persist.Writer, metrics *observability.Metrics) *Runner {
	return &Runner{
		settings: settings,
		loader:   loader,
		fetcher:  fetcher,
		writer:   writer,
		metrics:  metrics,
		log:      logging.ForService("analysis"),
	}
}

// SlotGrid returns the 48 half-hour slot names of one recording day,
// "00-00" through "23-30".
func SlotGrid() []string {
	slots := make([]string, 0, 48)
	for hour := 0; hour < 24; hour++ {
		for _, minute := range []string{"00", "30"} {
			slots = append(slots, fmt.Sprintf("%02d-%s", hour, minute))
		}
	}
	return slots
}

// UnitsForDay expands one device and date into its full slot grid.
func UnitsForDay(deviceID, date string) []Unit {
	grid := SlotGrid()
	units := make([]Unit, 0, len(grid))
	for _, slot := range grid {
		units = append(units, Unit{
			DeviceID: deviceID,
			Date:     date,
			Slot:     slot,
			Key:      path.Join(deviceID, date, "raw", slot+".wav"),
		})
	}
	return units
}

// normalize resolves unset options to the configured defaults. An explicit
// threshold is honored even at zero.
func (r *Runner) normalize(opts Options) (threshold, segmentSeconds float64, topN int) {
	threshold = r.settings.Detection.Threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}
	segmentSeconds = opts.SegmentSeconds
	if segmentSeconds <= 0 {
		segmentSeconds = r.settings.Detection.SegmentSeconds
	}
	topN = opts.TopN
	if topN <= 0 {
		topN = r.settings.Detection.TopN
	}
	return threshold, segmentSeconds, topN
}

// analyzeWaveform runs inference and shaping over a decoded waveform. A
// cache corruption signature from the model triggers one recovery and
// retry; a second failure propagates.
func (r *Runner) analyzeWaveform(ctx context.Context, w *myaudio.Waveform, opts Options) (*detection.Result, error) {
	model, err := r.loader.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	matrix, err := yamnet.Analyze(ctx, model, w)
	if err != nil && errors.IsCacheCorruption(err) {
		r.log.Warn("Inference hit cache corruption, recovering model", "error", err)
		if r.metrics != nil {
			r.metrics.ModelRecoveries.Inc()
		}

		model, err = r.loader.Recover(ctx, model)
		if err != nil {
			return nil, err
		}
		matrix, err = yamnet.Analyze(ctx, model, w)
	}
	if err != nil {
		return nil, err
	}

	threshold, segmentSeconds, topN := r.normalize(opts)
	return detection.Shape(matrix, threshold, segmentSeconds, topN), nil
}

// AnalyzeBytes decodes and analyzes one in-memory recording.
func (r *Runner) AnalyzeBytes(ctx context.Context, data []byte, opts Options) (*detection.Result, error) {
	w, err := myaudio.DecodeWaveform(data)
	if err != nil {
		return nil, err
	}
	if w.Truncated {
		r.log.Warn("Recording exceeded maximum clip length, truncated",
			"max_seconds", conf.MaxClipSeconds)
	}
	return r.analyzeWaveform(ctx, w, opts)
}
