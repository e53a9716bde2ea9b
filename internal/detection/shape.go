package detection

import (
	"math"
	"sort"
)

// round2 trims a probability or timestamp to two decimals, the precision the
// dashboard consumes.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// TopN ranks labels by their mean probability across all frames and returns
// the first n. The mean (rather than the max) is used so sustained events
// outrank momentary spikes. Ties keep the original label order.
func TopN(m *ScoreMatrix, n int) []Event {
	if m.NumFrames() == 0 || len(m.Labels) == 0 {
		return []Event{}
	}

	means := make([]float64, len(m.Labels))
	for _, frame := range m.Frames {
		for i, p := range frame {
			means[i] += float64(p)
		}
	}
	for i := range means {
		means[i] /= float64(m.NumFrames())
	}

	order := make([]int, len(m.Labels))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return means[order[a]] > means[order[b]]
	})

	if n > len(order) {
		n = len(order)
	}
	ranked := make([]Event, 0, n)
	for _, idx := range order[:n] {
		ranked = append(ranked, Event{Label: m.Labels[idx], Probability: means[idx]})
	}
	return ranked
}

// Timeline emits one TimelineEvent per (frame, label) pair whose probability
// meets the threshold (inclusive), in ascending time order, together with
// the per-frame slot listing. The result is a pure function of the matrix,
// so repeated calls over the same matrix are identical.
func Timeline(m *ScoreMatrix, threshold float64) *TimelineResult {
	result := &TimelineResult{
		Events: []TimelineEvent{},
		Slots:  make([]FrameEvents, 0, m.NumFrames()),
	}

	for idx, frame := range m.Frames {
		start := float64(idx) * m.Stride
		end := start + m.Stride

		slot := FrameEvents{Time: round2(start), Events: []Event{}}
		for i, p := range frame {
			prob := float64(p)
			if prob < threshold {
				continue
			}
			result.Events = append(result.Events, TimelineEvent{
				Start:       round2(start),
				End:         round2(end),
				Label:       m.Labels[i],
				Probability: round2(prob),
			})
			slot.Events = append(slot.Events, Event{Label: m.Labels[i], Probability: round2(prob)})
		}
		result.Slots = append(result.Slots, slot)
	}

	return result
}

// SegmentSummary partitions the matrix into fixed-length windows and reports,
// per window, the deduplicated labels that met the threshold at least once.
// Windows cover the full duration with no gaps; the final window may be
// shorter. Windows with no qualifying labels are kept with an empty list.
func SegmentSummary(m *ScoreMatrix, threshold, segmentSeconds float64) []Segment {
	segments := []Segment{}
	if m.NumFrames() == 0 || segmentSeconds <= 0 {
		return segments
	}

	framesPerSegment := int(segmentSeconds / m.Stride)
	if framesPerSegment < 1 {
		framesPerSegment = 1
	}

	for startFrame := 0; startFrame < m.NumFrames(); startFrame += framesPerSegment {
		endFrame := startFrame + framesPerSegment
		if endFrame > m.NumFrames() {
			endFrame = m.NumFrames()
		}

		seen := make(map[string]struct{})
		labels := []string{}
		for f := startFrame; f < endFrame; f++ {
			for i, p := range m.Frames[f] {
				if float64(p) < threshold {
					continue
				}
				if _, ok := seen[m.Labels[i]]; ok {
					continue
				}
				seen[m.Labels[i]] = struct{}{}
				labels = append(labels, m.Labels[i])
			}
		}

		segments = append(segments, Segment{
			Start:  round2(float64(startFrame) * m.Stride),
			End:    round2(float64(endFrame) * m.Stride),
			Labels: labels,
		})
	}

	return segments
}

// Shape derives every result variant at once, the form the persistence
// adapter writes per processed unit.
func Shape(m *ScoreMatrix, threshold, segmentSeconds float64, topN int) *Result {
	return &Result{
		TopN:     TopN(m, topN),
		Timeline: Timeline(m, threshold),
		Summary:  SegmentSummary(m, threshold, segmentSeconds),
	}
}
