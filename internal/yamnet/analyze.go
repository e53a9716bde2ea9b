package yamnet

import (
	"context"

	"github.com/watchme/sed-go/internal/detection"
	"github.com/watchme/sed-go/internal/errors"
	"github.com/watchme/sed-go/internal/myaudio"
)

// Frames splits samples into FrameSamples-long windows advanced by
// HopSamples. The final partial window is zero-padded. The frame count is
// deterministic for a given sample count: ceil(len/hop).
func Frames(samples []float32) [][]float32 {
	if len(samples) == 0 {
		return nil
	}

	var frames [][]float32
	for start := 0; start < len(samples); start += HopSamples {
		frame := make([]float32, FrameSamples)
		copy(frame, samples[start:min(start+FrameSamples, len(samples))])
		frames = append(frames, frame)
	}
	return frames
}

// Analyze runs the classifier over a normalized waveform and returns the
// framewise probability matrix. The waveform must be non-empty. One call
// does not affect the result of a concurrent or subsequent call; the only
// shared state is the interpreter, which the classifier serializes.
func Analyze(ctx context.Context, c Classifier, w *myaudio.Waveform) (*detection.ScoreMatrix, error) {
	if w == nil || len(w.Samples) == 0 {
		return nil, errors.Newf("cannot analyze empty waveform").
			Component("yamnet").
			Category(errors.CategoryInference).
			Build()
	}

	frames := Frames(w.Samples)
	matrix := &detection.ScoreMatrix{
		Labels: c.Labels(),
		Stride: FrameStride,
		Frames: make([][]float32, 0, len(frames)),
	}

	for _, frame := range frames {
		if err := ctx.Err(); err != nil {
			return nil, errors.New(err).
				Component("yamnet").
				Category(errors.CategoryTimeout).
				Context("frames_done", len(matrix.Frames)).
				Build()
		}

		scores, err := c.Predict(frame)
		if err != nil {
			return nil, err
		}
		matrix.Frames = append(matrix.Frames, scores)
	}

	return matrix, nil
}
