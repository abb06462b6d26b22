// defaults.go: default configuration values applied before reading the config file.
package conf

import (
	"github.com/spf13/viper"
)

// setDefaultConfig sets viper defaults for all settings.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("loglevel", "info")

	// HTTP server
	viper.SetDefault("http.host", "127.0.0.1")
	viper.SetDefault("http.port", 5000)

	// Storage
	viper.SetDefault("storage.basedir", "images")
	viper.SetDefault("storage.originalsdir", "originals")
	viper.SetDefault("storage.thumbsdir", "thumbs")
	viper.SetDefault("storage.sqlitepath", "images.db")

	// Remote sources
	viper.SetDefault("sources.pixabay.apikey", "")
	viper.SetDefault("sources.pixabay.endpoint", "")
	viper.SetDefault("sources.pixabay.perpage", 200)
	viper.SetDefault("sources.pexels.apikey", "")
	viper.SetDefault("sources.pexels.endpoint", "")
	viper.SetDefault("sources.pexels.perpage", 80)
	viper.SetDefault("sources.unsplash.apikey", "")
	viper.SetDefault("sources.unsplash.endpoint", "")
	viper.SetDefault("sources.unsplash.perpage", 30)

	// Fetch pipeline
	viper.SetDefault("fetch.maxconcurrent", 60)
	viper.SetDefault("fetch.thumbnailbytes", 3*1024*1024)
	viper.SetDefault("fetch.thumbnailsize", 300)
	viper.SetDefault("fetch.thumbnailquality", 85)
	viper.SetDefault("fetch.thumbnailtimeout", 30)
	viper.SetDefault("fetch.downloadtimeout", 60)
	viper.SetDefault("fetch.searchtimeout", 15)
	viper.SetDefault("fetch.batchtimeout", 600)

	// Vision workers
	viper.SetDefault("vision.workercommand", []string{"python", "vision_worker.py"})
	viper.SetDefault("vision.autoload", true)
	viper.SetDefault("vision.autounload", false)
	viper.SetDefault("vision.strategy", "auto")
	viper.SetDefault("vision.allowcpu", false)
	viper.SetDefault("vision.cpuinstances", 1)
	viper.SetDefault("vision.maxpergpu", 4)
	viper.SetDefault("vision.maxtotal", 8)
	viper.SetDefault("vision.reservedvramgb", 0.5)
	viper.SetDefault("vision.instancevramgb", 2.0)
	viper.SetDefault("vision.minfreevramgb", 2.5)
	viper.SetDefault("vision.analysistimeout", 60)
	viper.SetDefault("vision.loadtimeout", 60)
}
