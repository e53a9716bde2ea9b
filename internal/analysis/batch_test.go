package analysis

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchme/sed-go/internal/conf"
	"github.com/watchme/sed-go/internal/errors"
	"github.com/watchme/sed-go/internal/persist"
	"github.com/watchme/sed-go/internal/yamnet"
)

type fakeClassifier struct {
	labels       []string
	failsLeft    int
	predictCalls int
}

func (f *fakeClassifier) Predict(frame []float32) ([]float32, error) {
	f.predictCalls++
	if f.failsLeft != 0 {
		if f.failsLeft > 0 {
			f.failsLeft--
		}
		return nil, errors.Newf("tensor invoke failed").
			Component("yamnet").
			Category(errors.CategoryCacheCorruption).
			Build()
	}
	scores := make([]float32, len(f.labels))
	for i := range scores {
		scores[i] = 0.5
	}
	return scores, nil
}

func (f *fakeClassifier) Labels() []string { return f.labels }
func (f *fakeClassifier) Close()           {}

type fakeProvider struct {
	model      yamnet.Classifier
	fresh      func() yamnet.Classifier
	recoveries int
}

func (p *fakeProvider) Acquire(context.Context) (yamnet.Classifier, error) {
	return p.model, nil
}

func (p *fakeProvider) Recover(_ context.Context, stale yamnet.Classifier) (yamnet.Classifier, error) {
	p.recoveries++
	p.model = p.fresh()
	return p.model, nil
}

type fakeFetcher struct {
	objects map[string][]byte
	fetched []string
	hook    func(key string)
}

func (f *fakeFetcher) Fetch(_ context.Context, key string) ([]byte, error) {
	f.fetched = append(f.fetched, key)
	if f.hook != nil {
		f.hook(key)
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.Newf("no such object: %s", key).
			Component("fetch").
			Category(errors.CategoryNotFound).
			Build()
	}
	return data, nil
}

// wavBytes encodes n samples of 16 kHz mono 16-bit PCM.
func wavBytes(t *testing.T, n int) []byte {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "*.wav")
	require.NoError(t, err)

	enc := wav.NewEncoder(f, conf.SampleRate, 16, conf.NumChannels, 1)
	data := make([]int, n)
	for i := range data {
		data[i] = 1000
	}
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{NumChannels: 1, SampleRate: conf.SampleRate},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	b, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return b
}

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Detection = conf.DetectionConfig{Threshold: 0.2, SegmentSeconds: 3.0, TopN: 5}
	return s
}

func newTestRunner(t *testing.T, provider ModelProvider, fetcher *fakeFetcher, outDir string) *Runner {
	t.Helper()
	return NewRunner(testSettings(), provider, fetcher, persist.NewWriter(outDir, nil, nil), nil)
}

func unit(slot string) Unit {
	return Unit{
		DeviceID: "dev-1",
		Date:     "2026-01-15",
		Slot:     slot,
		Key:      "dev-1/2026-01-15/raw/" + slot + ".wav",
	}
}

func f64(v float64) *float64 { return &v }

func TestAnalyzeBytesHonorsExplicitZeroThreshold(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.Detection = conf.DetectionConfig{Threshold: 0.9, SegmentSeconds: 3.0, TopN: 5}
	provider := &fakeProvider{model: &fakeClassifier{labels: []string{"Speech"}}} // scores 0.5
	r := NewRunner(settings, provider, nil, nil, nil)
	clip := wavBytes(t, conf.SampleRate)

	byDefault, err := r.AnalyzeBytes(context.Background(), clip, Options{})
	require.NoError(t, err)
	assert.Empty(t, byDefault.Timeline.Events, "0.5 scores fall under the 0.9 default")

	explicit, err := r.AnalyzeBytes(context.Background(), clip, Options{Threshold: f64(0)})
	require.NoError(t, err)
	assert.NotEmpty(t, explicit.Timeline.Events, "explicit zero reports every label")
}

func TestRunClassifiesUnits(t *testing.T) {
	t.Parallel()

	clip := wavBytes(t, conf.SampleRate) // 1s
	fetcher := &fakeFetcher{objects: map[string][]byte{
		unit("08-00").Key: clip,
		unit("09-00").Key: []byte("definitely not a wav"),
	}}
	provider := &fakeProvider{model: &fakeClassifier{labels: []string{"Speech", "Dog"}}}
	outDir := t.TempDir()
	r := newTestRunner(t, provider, fetcher, outDir)

	units := []Unit{unit("08-00"), unit("08-30"), unit("09-00")}
	report, err := r.Run(context.Background(), units, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, []Unit{unit("08-00")}, report.Processed)
	assert.Equal(t, []Unit{unit("08-30")}, report.Skipped)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, unit("09-00"), report.Errors[0].Unit)
	assert.NotEmpty(t, report.RunID)

	// Partition covers every unit
	assert.Equal(t, report.Total, len(report.Processed)+len(report.Skipped)+len(report.Errors))

	// Processed unit left a local artifact
	_, err = os.Stat(filepath.Join(outDir, "dev-1", "2026-01-15", "sed", "08-00.json"))
	assert.NoError(t, err)
}

func TestRunSelfHealsCacheCorruption(t *testing.T) {
	t.Parallel()

	clip := wavBytes(t, conf.SampleRate)
	fetcher := &fakeFetcher{objects: map[string][]byte{
		unit("08-00").Key: clip,
		unit("08-30").Key: clip,
	}}
	provider := &fakeProvider{
		model: &fakeClassifier{labels: []string{"Speech"}, failsLeft: -1}, // broken until replaced
		fresh: func() yamnet.Classifier { return &fakeClassifier{labels: []string{"Speech"}} },
	}
	r := newTestRunner(t, provider, fetcher, t.TempDir())

	report, err := r.Run(context.Background(), []Unit{unit("08-00"), unit("08-30")}, Options{})
	require.NoError(t, err)

	assert.Len(t, report.Processed, 2, "both units succeed after one recovery")
	assert.Empty(t, report.Errors)
	assert.Equal(t, 1, provider.recoveries)
}

func TestRunPersistentCorruptionFailsUnit(t *testing.T) {
	t.Parallel()

	clip := wavBytes(t, conf.SampleRate)
	fetcher := &fakeFetcher{objects: map[string][]byte{unit("08-00").Key: clip}}
	provider := &fakeProvider{
		model: &fakeClassifier{labels: []string{"Speech"}, failsLeft: -1},
		fresh: func() yamnet.Classifier {
			return &fakeClassifier{labels: []string{"Speech"}, failsLeft: -1}
		},
	}
	r := newTestRunner(t, provider, fetcher, t.TempDir())

	report, err := r.Run(context.Background(), []Unit{unit("08-00")}, Options{})
	require.NoError(t, err)

	require.Len(t, report.Errors, 1, "one recovery retry, then the unit fails")
	assert.Equal(t, 1, provider.recoveries)
}

func TestRunDeadlineReturnsPartialReport(t *testing.T) {
	t.Parallel()

	clip := wavBytes(t, conf.SampleRate)
	units := []Unit{unit("08-00"), unit("08-30"), unit("09-00"), unit("09-30")}
	objects := map[string][]byte{}
	for _, u := range units {
		objects[u.Key] = clip
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &fakeFetcher{objects: objects}
	fetcher.hook = func(key string) {
		if key == units[1].Key {
			cancel()
		}
	}
	provider := &fakeProvider{model: &fakeClassifier{labels: []string{"Speech"}}}
	r := newTestRunner(t, provider, fetcher, t.TempDir())

	report, err := r.Run(ctx, units, Options{})
	require.NoError(t, err, "deadline yields a partial report, not an error")

	assert.Equal(t, []Unit{units[0]}, report.Processed)
	assert.Empty(t, report.Skipped)
	assert.Len(t, report.Errors, 3, "interrupted unit plus the unattempted remainder")
	assert.Equal(t, report.Total, len(report.Processed)+len(report.Skipped)+len(report.Errors))

	// Units after the cancellation point were never fetched
	assert.Equal(t, []string{units[0].Key, units[1].Key}, fetcher.fetched)
}

func TestRunIsIdempotent(t *testing.T) {
	t.Parallel()

	clip := wavBytes(t, conf.SampleRate)
	fetcher := &fakeFetcher{objects: map[string][]byte{unit("08-00").Key: clip}}
	provider := &fakeProvider{model: &fakeClassifier{labels: []string{"Speech"}}}
	r := newTestRunner(t, provider, fetcher, t.TempDir())

	units := []Unit{unit("08-00"), unit("08-30")}
	first, err := r.Run(context.Background(), units, Options{})
	require.NoError(t, err)
	second, err := r.Run(context.Background(), units, Options{})
	require.NoError(t, err)

	assert.Equal(t, first.Processed, second.Processed)
	assert.Equal(t, first.Skipped, second.Skipped)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestRunEmptyUnitList(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{model: &fakeClassifier{labels: []string{"Speech"}}}
	r := newTestRunner(t, provider, &fakeFetcher{}, t.TempDir())

	report, err := r.Run(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.NotNil(t, report.Processed)
	assert.NotNil(t, report.Skipped)
	assert.NotNil(t, report.Errors)
}

func TestSlotGrid(t *testing.T) {
	t.Parallel()

	grid := SlotGrid()
	require.Len(t, grid, 48)
	assert.Equal(t, "00-00", grid[0])
	assert.Equal(t, "00-30", grid[1])
	assert.Equal(t, "23-30", grid[47])
}

func TestUnitsForDay(t *testing.T) {
	t.Parallel()

	units := UnitsForDay("dev-9", "2026-02-01")
	require.Len(t, units, 48)
	assert.Equal(t, "dev-9/2026-02-01/raw/00-00.wav", units[0].Key)
	assert.Equal(t, "dev-9", units[0].DeviceID)
	assert.Equal(t, "23-30", units[47].Slot)
}
