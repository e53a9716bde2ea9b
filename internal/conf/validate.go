package conf

import (
	"errors"
	"fmt"
)

// ValidateSettings checks settings for values that would break the pipeline
// at runtime. It returns a joined error listing every problem found.
func ValidateSettings(settings *Settings) error {
	var errs []error

	if settings.Detection.Threshold < 0 {
		errs = append(errs, fmt.Errorf("detection.threshold must not be negative, got %f", settings.Detection.Threshold))
	}
	if settings.Detection.SegmentSeconds <= 0 {
		errs = append(errs, fmt.Errorf("detection.segmentseconds must be positive, got %f", settings.Detection.SegmentSeconds))
	}
	if settings.Detection.TopN <= 0 {
		errs = append(errs, fmt.Errorf("detection.topn must be positive, got %d", settings.Detection.TopN))
	}
	if settings.Model.LoadAttempts <= 0 {
		errs = append(errs, fmt.Errorf("model.loadattempts must be positive, got %d", settings.Model.LoadAttempts))
	}
	if settings.Model.CacheDir == "" {
		errs = append(errs, errors.New("model.cachedir must not be empty"))
	}
	if settings.Model.Threads < 0 {
		errs = append(errs, fmt.Errorf("model.threads must not be negative, got %d", settings.Model.Threads))
	}
	if settings.Fetch.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch.timeout must be positive, got %f", settings.Fetch.Timeout))
	}
	if settings.Upload.Enabled && settings.Upload.Bucket == "" {
		errs = append(errs, errors.New("upload.bucket must be set when upload is enabled"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
