// Package detection derives the public result shapes from the raw framewise
// probability matrix produced by the classifier.
package detection

// ScoreMatrix is the framewise inference output for one recording. Frames
// are ordered by time; every frame holds one probability per label. The
// label set is fixed for the process lifetime.
type ScoreMatrix struct {
	Labels []string    // class labels, index-aligned with every frame
	Stride float64     // seconds between consecutive frame starts
	Frames [][]float32 // per-frame class probabilities
}

// NumFrames returns the number of frames in the matrix.
func (m *ScoreMatrix) NumFrames() int {
	return len(m.Frames)
}

// Duration returns the time span covered by the matrix in seconds.
func (m *ScoreMatrix) Duration() float64 {
	return float64(len(m.Frames)) * m.Stride
}

// Event is one detected acoustic event: a label with its probability.
type Event struct {
	Label       string  `json:"label"`
	Probability float64 `json:"prob"`
}

// TimelineEvent is an Event placed on the recording's time axis.
type TimelineEvent struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Label       string  `json:"label"`
	Probability float64 `json:"prob"`
}

// FrameEvents lists the qualifying events of a single frame, keyed by the
// frame's start time. Frames without qualifying events are still present
// with an empty event list so dashboard slots render evenly.
type FrameEvents struct {
	Time   float64 `json:"time"`
	Events []Event `json:"events"`
}

// TimelineResult combines the flat event timeline with the per-frame slot
// listing used for dashboard rendering.
type TimelineResult struct {
	Events []TimelineEvent `json:"timeline"`
	Slots  []FrameEvents   `json:"slot_timeline"`
}

// Segment summarizes one fixed-length window: the deduplicated labels that
// met the threshold at least once within it, in order of first appearance.
type Segment struct {
	Start  float64  `json:"start"`
	End    float64  `json:"end"`
	Labels []string `json:"labels"`
}

// Result bundles every shape derived for one recording.
type Result struct {
	TopN     []Event         `json:"sed,omitempty"`
	Timeline *TimelineResult `json:"timeline,omitempty"`
	Summary  []Segment       `json:"summary,omitempty"`
}
