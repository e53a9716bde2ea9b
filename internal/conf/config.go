// Package conf holds the application settings, loaded from a YAML config
// file and environment variables through viper.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// Audio constants required by the classifier. The model operates on 16 kHz
// mono input; recordings longer than MaxClipSeconds are truncated.
const (
	SampleRate     = 16000
	NumChannels    = 1
	MaxClipSeconds = 60
)

// LogConfig holds file logging configuration.
type LogConfig struct {
	Enabled bool   // true to log to a file in addition to stdout/stderr
	Path    string // path to the log file
}

// ModelConfig holds classifier model acquisition settings.
type ModelConfig struct {
	CacheDir     string  // directory for the on-disk model cache
	ModelURL     string  // download URL for the tflite model
	ClassMapURL  string  // download URL for the class map CSV
	Threads      int     // interpreter threads, 0 = all CPUs
	LoadAttempts int     // total model load attempts before giving up
	RetryDelay   float64 // seconds to wait between load attempts
	Timeout      float64 // seconds allowed per download request
}

// DetectionConfig holds result shaping defaults.
type DetectionConfig struct {
	Threshold      float64 // minimum probability for a reported event
	SegmentSeconds float64 // summary window length in seconds
	TopN           int     // ranked result count for whole-file summaries
}

// FetchConfig holds the object store settings for pulling recordings.
type FetchConfig struct {
	Bucket   string  // S3 bucket holding raw recordings
	Prefix   string  // key prefix prepended to unit keys
	Region   string  // AWS region
	Endpoint string  // custom endpoint for S3-compatible stores, empty for AWS
	Timeout  float64 // seconds allowed per fetch
}

// UploadConfig holds the remote artifact upload settings.
type UploadConfig struct {
	Enabled bool    // true to upload slot artifacts to the object store
	Bucket  string  // destination bucket
	Prefix  string  // key prefix for uploaded artifacts
	Timeout float64 // seconds allowed per upload
}

// Settings holds the full application configuration.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version string `yaml:"-"` // Version from build

	Main struct {
		Name string    // node name, identifies this instance in logs
		Log  LogConfig // logging configuration
	}

	Model ModelConfig // classifier model configuration

	Detection DetectionConfig // result shaping configuration

	Input struct {
		Path string `yaml:"-"` // input path for single file analysis
	}

	Output struct {
		File struct {
			Path string // directory for local slot artifacts
		}
		SQLite struct {
			Enabled bool   // true to enable the sqlite status/results store
			Path    string // path to sqlite database
		}
	}

	Fetch  FetchConfig  // object store fetch configuration
	Upload UploadConfig // artifact upload configuration

	WebServer struct {
		Debug   bool   // true to enable debug mode
		Enabled bool   // true to enable web server
		Port    string // port for web server
	}
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a new
// Settings instance and stores it as the process-wide settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// Setting returns the current settings instance, loading it if needed.
func Setting() *Settings {
	settingsMutex.RLock()
	if settingsInstance != nil {
		defer settingsMutex.RUnlock()
		return settingsInstance
	}
	settingsMutex.RUnlock()

	settings, err := Load()
	if err != nil {
		return nil
	}
	return settings
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("SED")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config file is fine, defaults plus env cover everything
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPaths returns the ordered list of directories searched for
// the config file: working directory first, then the user config directory.
func GetDefaultConfigPaths() ([]string, error) {
	paths := []string{"."}

	configDir, err := os.UserConfigDir()
	if err == nil {
		paths = append(paths, filepath.Join(configDir, "sed-go"))
	}

	home, err := os.UserHomeDir()
	if err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sed-go"))
	}

	return paths, nil
}
