// Package persist writes analysis results to their sinks: a local JSON
// artifact per recording unit, an optional object store copy, and the
// processing status flag in the database. The status flag is the primary
// sink: downstream consumers poll it, so a unit only counts as processed
// once the flag write has been attempted.
package persist

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/watchme/sed-go/internal/datastore"
	"github.com/watchme/sed-go/internal/detection"
	"github.com/watchme/sed-go/internal/errors"
	"github.com/watchme/sed-go/internal/fetch"
	"github.com/watchme/sed-go/internal/logging"
)

// Outcome reports which sinks accepted the result.
type Outcome struct {
	LocalSaved    bool
	RemoteSaved   bool
	StatusUpdated bool
}

// Writer fans one unit's result out to the configured sinks. The uploader
// and store are optional; a nil sink is skipped.
type Writer struct {
	outDir   string
	uploader fetch.Uploader
	store    datastore.Interface
	log      *slog.Logger
}

// NewWriter creates a Writer. outDir is the root for local artifacts.
func NewWriter(outDir string, uploader fetch.Uploader, store datastore.Interface) *Writer {
	return &Writer{
		outDir:   outDir,
		uploader: uploader,
		store:    store,
		log:      logging.ForService("persist"),
	}
}

// ArtifactKey returns the relative artifact path for one unit, used both
// under the local output root and as the object store key.
func ArtifactKey(deviceID, date, slot string) string {
	return path.Join(deviceID, date, "sed", slot+".json")
}

// Persist writes the result to every configured sink. Local artifact and
// database failures abort and return an error; a remote upload failure is
// logged and reflected in the Outcome but does not fail the unit, since the
// artifact still exists locally and the status flag is authoritative.
func (w *Writer) Persist(ctx context.Context, deviceID, date, slot string, result *detection.Result) (Outcome, error) {
	var outcome Outcome

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return outcome, errors.New(err).
			Component("persist").
			Category(errors.CategoryPersistence).
			Context("device_id", deviceID).
			Context("slot", slot).
			Build()
	}

	key := ArtifactKey(deviceID, date, slot)

	if err := w.saveLocal(key, data); err != nil {
		return outcome, err
	}
	outcome.LocalSaved = true

	if w.uploader != nil {
		if err := w.uploader.Upload(ctx, key, data); err != nil {
			w.log.Warn("Artifact upload failed, local copy retained",
				"key", key,
				"error", err)
		} else {
			outcome.RemoteSaved = true
		}
	}

	if w.store != nil {
		if err := w.store.SaveDetections(deviceID, date, slot, toDetections(result)); err != nil {
			return outcome, err
		}

		matched, err := w.store.MarkProcessed(deviceID, date, slot)
		if err != nil {
			return outcome, err
		}
		if !matched {
			w.log.Warn("No recording row to flag as processed",
				"device_id", deviceID,
				"date", date,
				"slot", slot)
		}
		outcome.StatusUpdated = matched
	}

	return outcome, nil
}

// SaveRunSummary writes a batch run report next to the day's slot
// artifacts.
func (w *Writer) SaveRunSummary(deviceID, date, runID string, report any) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return errors.New(err).
			Component("persist").
			Category(errors.CategoryPersistence).
			Context("run_id", runID).
			Build()
	}
	return w.saveLocal(path.Join(deviceID, date, "sed", "run-"+runID+".json"), data)
}

// saveLocal writes the artifact under the output root, via a temp file so a
// crash never leaves a truncated artifact in place.
func (w *Writer) saveLocal(key string, data []byte) error {
	dest := filepath.Join(w.outDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.New(err).
			Component("persist").
			Category(errors.CategoryFileIO).
			Context("dir", filepath.Dir(dest)).
			Build()
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return errors.New(err).
			Component("persist").
			Category(errors.CategoryFileIO).
			Build()
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.New(err).
			Component("persist").
			Category(errors.CategoryFileIO).
			Context("dest", dest).
			Build()
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.New(err).
			Component("persist").
			Category(errors.CategoryFileIO).
			Build()
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return errors.New(err).
			Component("persist").
			Category(errors.CategoryFileIO).
			Context("dest", dest).
			Build()
	}

	w.log.Debug("Saved local artifact", "path", dest, "size_bytes", len(data))
	return nil
}

// toDetections flattens the timeline events into database rows.
func toDetections(result *detection.Result) []datastore.Detection {
	if result == nil || result.Timeline == nil {
		return nil
	}
	detections := make([]datastore.Detection, 0, len(result.Timeline.Events))
	for _, ev := range result.Timeline.Events {
		detections = append(detections, datastore.Detection{
			Label:       ev.Label,
			Probability: ev.Probability,
			StartTime:   ev.Start,
			EndTime:     ev.End,
		})
	}
	return detections
}
