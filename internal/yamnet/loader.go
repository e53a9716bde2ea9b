package yamnet

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/watchme/sed-go/internal/conf"
	"github.com/watchme/sed-go/internal/errors"
	"github.com/watchme/sed-go/internal/logging"
	"github.com/watchme/sed-go/internal/observability"
)

// Cache artifact names. A cache directory is structurally complete when
// both files exist and are non-empty.
const (
	ModelFileName    = "yamnet.tflite"
	ClassMapFileName = "yamnet_class_map.csv"
)

// loadState tracks the loader's acquisition state machine.
type loadState int

const (
	stateUnloaded loadState = iota
	stateValidating
	stateLoaded
	stateRecovering
)

// Loader lazily acquires the classifier, validates the on-disk model cache
// and self-heals corruption by clearing the cache and re-downloading. The
// model distribution mechanism is known to leave partially written caches
// behind under disk pressure or interrupted downloads, so unattended
// operation depends on this recovery path.
//
// All state transitions happen under the loader mutex: concurrent Acquire
// calls share one load, and only one recovery proceeds at a time.
type Loader struct {
	cfg        conf.ModelConfig
	httpClient *http.Client
	log        *slog.Logger
	metrics    *observability.Metrics

	// loadFn builds a Classifier from the cached artifacts. Tests replace
	// it to exercise the acquisition protocol without a tflite runtime.
	loadFn func(modelPath, classMapPath string, threads int) (Classifier, error)

	mu    sync.Mutex
	state loadState
	model Classifier
}

// NewLoader creates a Loader for the given model configuration. metrics may
// be nil when load attempts need no instrumentation.
func NewLoader(cfg conf.ModelConfig, metrics *observability.Metrics) *Loader {
	return &Loader{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.Timeout * float64(time.Second))},
		log:        logging.ForService("yamnet"),
		metrics:    metrics,
		loadFn:     loadFromCache,
	}
}

// loadFromCache is the production loadFn: it reads the cached model file and
// class map and builds a tflite-backed Model.
func loadFromCache(modelPath, classMapPath string, threads int) (Classifier, error) {
	modelData, err := os.ReadFile(modelPath)
	if err != nil {
		return nil, errors.New(err).
			Component("yamnet").
			Category(errors.CategoryModelLoad).
			Context("path_kind", "model").
			Build()
	}

	classMapFile, err := os.Open(classMapPath)
	if err != nil {
		return nil, errors.New(err).
			Component("yamnet").
			Category(errors.CategoryLabelLoad).
			Context("path_kind", "class_map").
			Build()
	}
	defer func() {
		if err := classMapFile.Close(); err != nil {
			logging.ForService("yamnet").Warn("Failed to close class map file", "error", err)
		}
	}()

	labels, err := parseClassMap(classMapFile)
	if err != nil {
		return nil, err
	}

	return newModel(modelData, labels, threads)
}

// Acquire returns the cached classifier, loading it first if needed. It is
// idempotent: once loaded, the same handle is returned until it is
// invalidated through the recovery path.
func (l *Loader) Acquire(ctx context.Context) (Classifier, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == stateLoaded && l.model != nil {
		return l.model, nil
	}
	return l.acquireLocked(ctx)
}

// acquireLocked runs the acquisition protocol: validate cache, clear and
// re-download when corrupt, load, with a bounded number of attempts and a
// short delay between them. Caller must hold l.mu.
func (l *Loader) acquireLocked(ctx context.Context) (Classifier, error) {
	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= l.cfg.LoadAttempts; attempt++ {
		if l.metrics != nil {
			l.metrics.ModelLoadAttempts.Inc()
		}
		if attempt > 1 {
			if err := l.waitRetryDelay(ctx); err != nil {
				l.state = stateUnloaded
				return nil, err
			}
		}

		l.state = stateValidating
		if !l.validateCache() {
			l.log.Warn("Model cache incomplete, clearing",
				"cache_dir", l.cfg.CacheDir,
				"attempt", attempt)
			if err := l.clearCache(); err != nil {
				lastErr = err
				continue
			}
			if err := l.download(ctx); err != nil {
				lastErr = err
				l.log.Warn("Model download failed",
					"attempt", attempt,
					"attempts_total", l.cfg.LoadAttempts,
					"error", err)
				continue
			}
		}

		model, err := l.loadFn(
			filepath.Join(l.cfg.CacheDir, ModelFileName),
			filepath.Join(l.cfg.CacheDir, ClassMapFileName),
			l.cfg.Threads,
		)
		if err != nil {
			lastErr = err
			l.log.Warn("Model load failed, clearing cache for retry",
				"attempt", attempt,
				"error", err)
			if clearErr := l.clearCache(); clearErr != nil {
				l.log.Warn("Cache clear failed", "error", clearErr)
			}
			continue
		}

		l.model = model
		l.state = stateLoaded
		l.log.Info("Model loaded",
			"labels", len(model.Labels()),
			"attempt", attempt,
			"duration_ms", time.Since(start).Milliseconds())
		return model, nil
	}

	l.state = stateUnloaded
	return nil, errors.New(fmt.Errorf("model unavailable after %d attempts: %w", l.cfg.LoadAttempts, lastErr)).
		Component("yamnet").
		Category(errors.CategoryModelUnavailable).
		Context("attempts", l.cfg.LoadAttempts).
		Timing("model-acquire", time.Since(start)).
		Build()
}

// Recover handles an inference-time cache corruption signature: it discards
// the stale handle, clears the cache and reacquires. Recovery is serialized
// by the loader mutex; when several in-flight inferences hit the same
// corruption, the first one recovers and the rest receive the fresh handle
// without triggering another reload.
func (l *Loader) Recover(ctx context.Context, stale Classifier) (Classifier, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == stateLoaded && l.model != nil && l.model != stale {
		return l.model, nil
	}

	l.state = stateRecovering
	l.log.Warn("Model cache corruption detected, recovering", "cache_dir", l.cfg.CacheDir)

	if l.model != nil {
		l.model.Close()
		l.model = nil
	}
	if err := l.clearCache(); err != nil {
		l.state = stateUnloaded
		return nil, err
	}

	return l.acquireLocked(ctx)
}

// Invalidate discards the cached handle so the next Acquire reloads.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.model != nil {
		l.model.Close()
		l.model = nil
	}
	l.state = stateUnloaded
}

// validateCache checks the cache directory for structural completeness:
// model file and class map both present and non-empty.
func (l *Loader) validateCache() bool {
	for _, name := range []string{ModelFileName, ClassMapFileName} {
		info, err := os.Stat(filepath.Join(l.cfg.CacheDir, name))
		if err != nil || info.IsDir() || info.Size() == 0 {
			return false
		}
	}
	return true
}

// clearCache deletes the cache directory entirely.
func (l *Loader) clearCache() error {
	if err := os.RemoveAll(l.cfg.CacheDir); err != nil {
		return errors.New(err).
			Component("yamnet").
			Category(errors.CategoryFileIO).
			Context("cache_dir", l.cfg.CacheDir).
			Build()
	}
	return nil
}

// download fetches the model file and class map into the cache directory.
func (l *Loader) download(ctx context.Context) error {
	if err := os.MkdirAll(l.cfg.CacheDir, 0o755); err != nil {
		return errors.New(err).
			Component("yamnet").
			Category(errors.CategoryFileIO).
			Context("cache_dir", l.cfg.CacheDir).
			Build()
	}

	downloads := []struct {
		url  string
		dest string
	}{
		{l.cfg.ModelURL, filepath.Join(l.cfg.CacheDir, ModelFileName)},
		{l.cfg.ClassMapURL, filepath.Join(l.cfg.CacheDir, ClassMapFileName)},
	}

	for _, d := range downloads {
		if err := l.downloadFile(ctx, d.url, d.dest); err != nil {
			return err
		}
	}
	return nil
}

// downloadFile streams one URL to a temp file and renames it into place, so
// an interrupted download never leaves a plausible-looking artifact behind.
func (l *Loader) downloadFile(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return errors.New(err).
			Component("yamnet").
			Category(errors.CategoryNetwork).
			Build()
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return errors.New(err).
			Component("yamnet").
			Category(errors.CategoryNetwork).
			Build()
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			l.log.Warn("Failed to close download body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("model download returned status %d", resp.StatusCode).
			Component("yamnet").
			Category(errors.CategoryNetwork).
			Context("status", resp.StatusCode).
			Build()
	}

	tmp, err := os.CreateTemp(l.cfg.CacheDir, filepath.Base(dest)+".*.partial")
	if err != nil {
		return errors.New(err).
			Component("yamnet").
			Category(errors.CategoryFileIO).
			Build()
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.New(err).
			Component("yamnet").
			Category(errors.CategoryNetwork).
			Context("dest", filepath.Base(dest)).
			Build()
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.New(err).
			Component("yamnet").
			Category(errors.CategoryFileIO).
			Build()
	}

	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return errors.New(err).
			Component("yamnet").
			Category(errors.CategoryFileIO).
			Build()
	}

	l.log.Debug("Downloaded model artifact", "dest", filepath.Base(dest))
	return nil
}

// waitRetryDelay sleeps between load attempts, aborting early when the
// context expires.
func (l *Loader) waitRetryDelay(ctx context.Context) error {
	delay := time.Duration(l.cfg.RetryDelay * float64(time.Second))
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component("yamnet").
			Category(errors.CategoryTimeout).
			Build()
	case <-timer.C:
		return nil
	}
}
