package yamnet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchme/sed-go/internal/conf"
	"github.com/watchme/sed-go/internal/errors"
	"github.com/watchme/sed-go/internal/observability"
)

// newTestServer serves fake model artifacts and counts requests.
func newTestServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch filepath.Base(r.URL.Path) {
		case ModelFileName:
			_, _ = w.Write([]byte("tflite-model-bytes"))
		case ClassMapFileName:
			_, _ = w.Write([]byte(sampleClassMap))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestLoader(t *testing.T, srv *httptest.Server) *Loader {
	t.Helper()
	cfg := conf.ModelConfig{
		CacheDir:     filepath.Join(t.TempDir(), "model-cache"),
		ModelURL:     srv.URL + "/" + ModelFileName,
		ClassMapURL:  srv.URL + "/" + ClassMapFileName,
		LoadAttempts: 3,
		RetryDelay:   0,
		Timeout:      5,
	}
	l := NewLoader(cfg, nil)
	l.loadFn = func(modelPath, classMapPath string, threads int) (Classifier, error) {
		if _, err := os.Stat(modelPath); err != nil {
			return nil, errors.New(err).Component("yamnet").Category(errors.CategoryModelLoad).Build()
		}
		return &fakeClassifier{labels: []string{"Speech"}}, nil
	}
	return l
}

func TestAcquireDownloadsIntoEmptyCache(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	l := newTestLoader(t, srv)

	model, err := l.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, model)
	assert.Equal(t, int32(2), hits.Load(), "one request per artifact")

	// Both artifacts materialized on disk
	for _, name := range []string{ModelFileName, ClassMapFileName} {
		info, err := os.Stat(filepath.Join(l.cfg.CacheDir, name))
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestAcquireIsIdempotent(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	l := newTestLoader(t, srv)

	first, err := l.Acquire(context.Background())
	require.NoError(t, err)
	second, err := l.Acquire(context.Background())
	require.NoError(t, err)

	assert.Same(t, first.(*fakeClassifier), second.(*fakeClassifier))
	assert.Equal(t, int32(2), hits.Load(), "second acquire must not touch the network")
}

func TestAcquireSkipsDownloadWhenCacheComplete(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	l := newTestLoader(t, srv)

	require.NoError(t, os.MkdirAll(l.cfg.CacheDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(l.cfg.CacheDir, ModelFileName), []byte("cached"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(l.cfg.CacheDir, ClassMapFileName), []byte(sampleClassMap), 0o644))

	_, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.Zero(t, hits.Load())
}

func TestAcquireClearsIncompleteCache(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	l := newTestLoader(t, srv)

	// Zero-byte model file is the classic interrupted-download residue
	require.NoError(t, os.MkdirAll(l.cfg.CacheDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(l.cfg.CacheDir, ModelFileName), nil, 0o644))

	_, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load(), "incomplete cache must be re-downloaded")

	info, err := os.Stat(filepath.Join(l.cfg.CacheDir, ModelFileName))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestAcquireExhaustsAttempts(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	l := newTestLoader(t, srv)

	var loadCalls int
	l.loadFn = func(modelPath, classMapPath string, threads int) (Classifier, error) {
		loadCalls++
		return nil, errors.Newf("broken flatbuffer").
			Component("yamnet").
			Category(errors.CategoryModelLoad).
			Build()
	}

	_, err := l.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelUnavailable))
	assert.Equal(t, 3, loadCalls)
}

func TestAcquireCountsLoadAttempts(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	l := newTestLoader(t, srv)
	metrics := observability.NewMetrics()
	l.metrics = metrics

	l.loadFn = func(modelPath, classMapPath string, threads int) (Classifier, error) {
		return nil, errors.Newf("broken flatbuffer").
			Component("yamnet").
			Category(errors.CategoryModelLoad).
			Build()
	}

	_, err := l.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.ModelLoadAttempts),
		"one increment per load attempt")
}

func TestAcquireRecoversOnLaterAttempt(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	l := newTestLoader(t, srv)

	var loadCalls int
	l.loadFn = func(modelPath, classMapPath string, threads int) (Classifier, error) {
		loadCalls++
		if loadCalls < 3 {
			return nil, errors.Newf("broken flatbuffer").
				Component("yamnet").
				Category(errors.CategoryModelLoad).
				Build()
		}
		return &fakeClassifier{labels: []string{"Speech"}}, nil
	}

	model, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, model)
	assert.Equal(t, 3, loadCalls)
}

func TestAcquireDownloadFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	l := newTestLoader(t, srv)

	_, err := l.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryModelUnavailable))
}

func TestRecoverReplacesStaleHandle(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	l := newTestLoader(t, srv)

	stale, err := l.Acquire(context.Background())
	require.NoError(t, err)

	// Simulate mid-run cache corruption
	require.NoError(t, os.WriteFile(filepath.Join(l.cfg.CacheDir, ModelFileName), nil, 0o644))

	fresh, err := l.Recover(context.Background(), stale)
	require.NoError(t, err)
	assert.NotSame(t, stale.(*fakeClassifier), fresh.(*fakeClassifier))
	assert.True(t, stale.(*fakeClassifier).closed, "stale handle must be closed")
	assert.Equal(t, int32(4), hits.Load(), "recovery re-downloads both artifacts")
}

func TestRecoverSkipsWhenAlreadyReplaced(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	l := newTestLoader(t, srv)

	stale, err := l.Acquire(context.Background())
	require.NoError(t, err)

	fresh, err := l.Recover(context.Background(), stale)
	require.NoError(t, err)

	// A second caller holding the same stale handle gets the fresh one
	// without another reload.
	again, err := l.Recover(context.Background(), stale)
	require.NoError(t, err)
	assert.Same(t, fresh.(*fakeClassifier), again.(*fakeClassifier))
	assert.Equal(t, int32(4), hits.Load())
}

func TestInvalidateForcesReload(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newTestServer(t, &hits)
	l := newTestLoader(t, srv)

	first, err := l.Acquire(context.Background())
	require.NoError(t, err)

	l.Invalidate()
	assert.True(t, first.(*fakeClassifier).closed)

	second, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, first.(*fakeClassifier), second.(*fakeClassifier))
}

func TestDetermineThreadCount(t *testing.T) {
	t.Parallel()

	assert.Positive(t, determineThreadCount(0))
	assert.Equal(t, 1, determineThreadCount(1))
	assert.Positive(t, determineThreadCount(1 << 20))
}
