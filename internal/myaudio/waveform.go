// Package myaudio converts raw recording bytes into the fixed waveform
// format the classifier expects: mono, 16 kHz, amplitude within [-1, 1].
package myaudio

import (
	"bytes"
	"fmt"

	"github.com/go-audio/wav"

	"github.com/watchme/sed-go/internal/conf"
	"github.com/watchme/sed-go/internal/errors"
)

// Waveform is a normalized audio signal ready for inference.
type Waveform struct {
	Samples    []float32 // mono samples at conf.SampleRate, amplitude in [-1, 1]
	SourceRate int       // sample rate of the source recording
	Truncated  bool      // true if the source exceeded MaxClipSeconds and was cut
}

// Duration returns the waveform length in seconds.
func (w *Waveform) Duration() float64 {
	return float64(len(w.Samples)) / float64(conf.SampleRate)
}

// getAudioDivisor returns the divisor for converting integer PCM samples of
// the given bit depth to float32 in [-1, 1].
func getAudioDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported audio file bit depth: %d", bitDepth)
	}
}

// DecodeWaveform decodes WAV bytes and normalizes them into a Waveform.
// Container problems yield a decode error, a decodable but empty signal
// yields a format error. Sources longer than conf.MaxClipSeconds are
// truncated from the start rather than rejected.
func DecodeWaveform(data []byte) (*Waveform, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.Newf("input is not a valid WAV audio file").
			Component("myaudio").
			Category(errors.CategoryDecode).
			Context("size_bytes", len(data)).
			Build()
	}

	divisor, err := getAudioDivisor(int(decoder.BitDepth))
	if err != nil {
		return nil, errors.New(err).
			Component("myaudio").
			Category(errors.CategoryDecode).
			Context("bit_depth", decoder.BitDepth).
			Build()
	}

	numChans := int(decoder.NumChans)
	if numChans < 1 {
		return nil, errors.Newf("invalid channel count: %d", numChans).
			Component("myaudio").
			Category(errors.CategoryDecode).
			Build()
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to read PCM data: %w", err)).
			Component("myaudio").
			Category(errors.CategoryDecode).
			Context("size_bytes", len(data)).
			Build()
	}

	sourceRate := int(decoder.SampleRate)
	samples := mixdownToMono(buf.Data, numChans, divisor)
	if len(samples) == 0 {
		return nil, errors.Newf("audio contains no samples").
			Component("myaudio").
			Category(errors.CategoryFormat).
			Context("sample_rate", sourceRate).
			Build()
	}

	if sourceRate != conf.SampleRate {
		samples, err = ResampleAudio(samples, sourceRate, conf.SampleRate)
		if err != nil {
			return nil, errors.New(fmt.Errorf("error resampling audio: %w", err)).
				Component("myaudio").
				Category(errors.CategoryFormat).
				Context("source_rate", sourceRate).
				Build()
		}
	}

	// Peak normalization: scale down only when the signal exceeds the valid
	// range, so in-range dynamics are left untouched.
	normalizePeak(samples)

	w := &Waveform{Samples: samples, SourceRate: sourceRate}

	maxSamples := conf.MaxClipSeconds * conf.SampleRate
	if len(w.Samples) > maxSamples {
		w.Samples = w.Samples[:maxSamples]
		w.Truncated = true
	}

	return w, nil
}

// mixdownToMono converts interleaved integer PCM samples to mono float32,
// averaging channels when there is more than one.
func mixdownToMono(data []int, numChans int, divisor float32) []float32 {
	if numChans == 1 {
		samples := make([]float32, len(data))
		for i, sample := range data {
			samples[i] = float32(sample) / divisor
		}
		return samples
	}

	frames := len(data) / numChans
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < numChans; c++ {
			sum += float32(data[i*numChans+c]) / divisor
		}
		samples[i] = sum / float32(numChans)
	}
	return samples
}

// normalizePeak scales samples into [-1, 1] in place when the peak exceeds
// the range. Cubic resampling can overshoot slightly, and float WAV sources
// are not guaranteed to be in range.
func normalizePeak(samples []float32) {
	var peak float32
	for _, s := range samples {
		if s > peak {
			peak = s
		} else if -s > peak {
			peak = -s
		}
	}
	if peak <= 1.0 {
		return
	}
	for i := range samples {
		samples[i] /= peak
	}
}
