package yamnet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchme/sed-go/internal/errors"
	"github.com/watchme/sed-go/internal/myaudio"
)

type fakeClassifier struct {
	labels      []string
	predictErr  error
	invocations int
	closed      bool
}

func (f *fakeClassifier) Predict(frame []float32) ([]float32, error) {
	f.invocations++
	if f.predictErr != nil {
		return nil, f.predictErr
	}
	scores := make([]float32, len(f.labels))
	for i := range scores {
		scores[i] = 0.5
	}
	return scores, nil
}

func (f *fakeClassifier) Labels() []string { return f.labels }
func (f *fakeClassifier) Close()           { f.closed = true }

func TestFramesCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples int
		want    int
	}{
		{"empty", 0, 0},
		{"single sample", 1, 1},
		{"exactly one frame", FrameSamples, 3}, // ceil(15600/7680)
		{"one hop", HopSamples, 1},
		{"one hop plus one", HopSamples + 1, 2},
		{"sixty seconds", 60 * 16000, 125},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			frames := Frames(make([]float32, tt.samples))
			assert.Len(t, frames, tt.want)
		})
	}
}

func TestFramesZeroPadsFinalWindow(t *testing.T) {
	t.Parallel()

	samples := make([]float32, HopSamples+10)
	for i := range samples {
		samples[i] = 1.0
	}

	frames := Frames(samples)
	require.Len(t, frames, 2)
	for _, frame := range frames {
		assert.Len(t, frame, FrameSamples)
	}
	// Everything past the real samples in the last frame is zero
	last := frames[1]
	assert.Equal(t, float32(1.0), last[9])
	assert.Equal(t, float32(0.0), last[10])
}

func TestAnalyzeProducesOneScoreRowPerFrame(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{labels: []string{"Speech", "Dog"}}
	w := &myaudio.Waveform{Samples: make([]float32, 3*HopSamples), SourceRate: 16000}

	matrix, err := Analyze(context.Background(), c, w)
	require.NoError(t, err)
	assert.Equal(t, 3, matrix.NumFrames())
	assert.Equal(t, 3, c.invocations)
	assert.Equal(t, c.labels, matrix.Labels)
	assert.InDelta(t, FrameStride, matrix.Stride, 1e-9)
}

func TestAnalyzeEmptyWaveform(t *testing.T) {
	t.Parallel()

	c := &fakeClassifier{labels: []string{"Speech"}}

	_, err := Analyze(context.Background(), c, &myaudio.Waveform{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryInference))
	assert.Zero(t, c.invocations)

	_, err = Analyze(context.Background(), c, nil)
	require.Error(t, err)
}

func TestAnalyzePropagatesPredictError(t *testing.T) {
	t.Parallel()

	predictErr := errors.Newf("tensor invoke failed").
		Component("yamnet").
		Category(errors.CategoryCacheCorruption).
		Build()
	c := &fakeClassifier{labels: []string{"Speech"}, predictErr: predictErr}
	w := &myaudio.Waveform{Samples: make([]float32, HopSamples), SourceRate: 16000}

	_, err := Analyze(context.Background(), c, w)
	require.Error(t, err)
	assert.True(t, errors.IsCacheCorruption(err))
}

func TestAnalyzeHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &fakeClassifier{labels: []string{"Speech"}}
	w := &myaudio.Waveform{Samples: make([]float32, 10*HopSamples), SourceRate: 16000}

	_, err := Analyze(ctx, c, w)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryTimeout))
	assert.Zero(t, c.invocations)
}
