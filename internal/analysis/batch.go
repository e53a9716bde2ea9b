package analysis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/watchme/sed-go/internal/errors"
	"github.com/watchme/sed-go/internal/observability"
)

// UnitError records why one unit failed without aborting the run.
type UnitError struct {
	Unit  Unit   `json:"unit"`
	Error string `json:"error"`
}

// BatchReport is the outcome of one batch run. Every requested unit lands
// in exactly one of Processed, Skipped or Errors, so the three always sum
// to Total even when a deadline cuts the run short.
type BatchReport struct {
	RunID     string      `json:"run_id"`
	Total     int         `json:"total"`
	Processed []Unit      `json:"processed"`
	Skipped   []Unit      `json:"skipped"`
	Errors    []UnitError `json:"errors"`
	Duration  float64     `json:"duration_seconds"`
}

// Run processes units sequentially. A missing recording is skipped, any
// other per-unit failure is recorded and the run continues. When the
// context expires mid-run, the remaining units are recorded as errors with
// the cancellation cause and the partial report is returned.
func (r *Runner) Run(ctx context.Context, units []Unit, opts Options) (*BatchReport, error) {
	start := time.Now()
	report := &BatchReport{
		RunID:     uuid.New().String(),
		Total:     len(units),
		Processed: []Unit{},
		Skipped:   []Unit{},
		Errors:    []UnitError{},
	}

	r.log.Info("Batch run starting",
		"run_id", report.RunID,
		"units", len(units))

	// One total model failure aborts the run; per-unit failures never do.
	if len(units) > 0 {
		if _, err := r.loader.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			r.log.Warn("Batch run cut short",
				"run_id", report.RunID,
				"units_remaining", len(units)-i,
				"cause", err)
			for _, rest := range units[i:] {
				report.Errors = append(report.Errors, UnitError{
					Unit:  rest,
					Error: "run deadline exceeded before unit was attempted: " + err.Error(),
				})
				r.countUnit(observability.OutcomeError)
			}
			break
		}

		switch err := r.processUnit(ctx, unit, opts); {
		case err == nil:
			report.Processed = append(report.Processed, unit)
			r.countUnit(observability.OutcomeProcessed)
		case errors.IsNotFound(err):
			r.log.Debug("Recording absent, skipping",
				"device_id", unit.DeviceID,
				"slot", unit.Slot)
			report.Skipped = append(report.Skipped, unit)
			r.countUnit(observability.OutcomeSkipped)
		default:
			r.log.Error("Unit failed",
				"device_id", unit.DeviceID,
				"date", unit.Date,
				"slot", unit.Slot,
				"error", err)
			report.Errors = append(report.Errors, UnitError{Unit: unit, Error: err.Error()})
			r.countUnit(observability.OutcomeError)
		}
	}

	report.Duration = time.Since(start).Seconds()
	if r.metrics != nil {
		r.metrics.BatchDuration.Observe(report.Duration)
	}

	r.log.Info("Batch run finished",
		"run_id", report.RunID,
		"processed", len(report.Processed),
		"skipped", len(report.Skipped),
		"errors", len(report.Errors),
		"duration_s", report.Duration)
	return report, nil
}

// RunDay processes the full half-hour slot grid for one device and date,
// leaving the run report next to the slot artifacts.
func (r *Runner) RunDay(ctx context.Context, deviceID, date string, opts Options) (*BatchReport, error) {
	report, err := r.Run(ctx, UnitsForDay(deviceID, date), opts)
	if err != nil {
		return nil, err
	}

	if r.writer != nil {
		if err := r.writer.SaveRunSummary(deviceID, date, report.RunID, report); err != nil {
			r.log.Warn("Failed to save run summary artifact",
				"run_id", report.RunID,
				"error", err)
		}
	}
	return report, nil
}

// processUnit runs the full pipeline for one unit: fetch, decode, analyze,
// persist.
func (r *Runner) processUnit(ctx context.Context, unit Unit, opts Options) error {
	start := time.Now()

	data, err := r.fetcher.Fetch(ctx, unit.Key)
	if err != nil {
		return err
	}

	result, err := r.AnalyzeBytes(ctx, data, opts)
	if err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.InferenceDuration.Observe(time.Since(start).Seconds())
	}

	if r.writer != nil {
		if _, err := r.writer.Persist(ctx, unit.DeviceID, unit.Date, unit.Slot, result); err != nil {
			return err
		}
	}

	r.log.Debug("Unit processed",
		"device_id", unit.DeviceID,
		"slot", unit.Slot,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (r *Runner) countUnit(outcome string) {
	if r.metrics != nil {
		r.metrics.UnitsTotal.WithLabelValues(outcome).Inc()
	}
}
