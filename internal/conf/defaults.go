// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// YamNet model distribution. The class map carries the 521 AudioSet labels.
const (
	DefaultModelURL    = "https://storage.googleapis.com/tfhub-lite-models/google/lite-model/yamnet/tflite/1.tflite"
	DefaultClassMapURL = "https://raw.githubusercontent.com/tensorflow/models/master/research/audioset/yamnet/yamnet_class_map.csv"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "sed-go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "sed.log")

	viper.SetDefault("model.cachedir", "model-cache/")
	viper.SetDefault("model.modelurl", DefaultModelURL)
	viper.SetDefault("model.classmapurl", DefaultClassMapURL)
	viper.SetDefault("model.threads", 0)
	viper.SetDefault("model.loadattempts", 3)
	viper.SetDefault("model.retrydelay", 5.0)
	viper.SetDefault("model.timeout", 60.0)

	viper.SetDefault("detection.threshold", 0.2)
	viper.SetDefault("detection.segmentseconds", 3.0)
	viper.SetDefault("detection.topn", 20)

	viper.SetDefault("output.file.path", "output/")
	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "sed.db")

	viper.SetDefault("fetch.bucket", "")
	viper.SetDefault("fetch.prefix", "")
	viper.SetDefault("fetch.region", "us-east-1")
	viper.SetDefault("fetch.endpoint", "")
	viper.SetDefault("fetch.timeout", 30.0)

	viper.SetDefault("upload.enabled", false)
	viper.SetDefault("upload.bucket", "")
	viper.SetDefault("upload.prefix", "analysis/sed")
	viper.SetDefault("upload.timeout", 30.0)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8004")
	viper.SetDefault("webserver.debug", false)
}
