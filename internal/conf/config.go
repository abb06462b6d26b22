// config.go: settings struct and functions to load and validate the application configuration.
package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// HTTPSettings contains settings for the HTTP API server.
type HTTPSettings struct {
	Host string // interface to bind, e.g. 127.0.0.1
	Port int    // port to listen on
}

// StorageSettings contains filesystem and database locations.
type StorageSettings struct {
	BaseDir      string // base directory for all stored assets
	OriginalsDir string // directory for full-resolution originals, relative to base
	ThumbsDir    string // directory for thumbnails, relative to base
	SQLitePath   string // path to the sqlite database, relative to base
}

// SourceSettings contains settings for one remote image source.
type SourceSettings struct {
	APIKey   string // API key, empty disables the source
	Endpoint string // endpoint override, empty uses the public API
	PerPage  int    // results requested per page
}

// SourcesSettings groups the remote source configurations.
type SourcesSettings struct {
	Pixabay  SourceSettings
	Pexels   SourceSettings
	Unsplash SourceSettings
}

// FetchSettings tunes the download pipeline.
type FetchSettings struct {
	MaxConcurrent    int   // bounded concurrency gate for batch fetches
	ThumbnailBytes   int64 // max bytes read for a thumbnail probe
	ThumbnailSize    int   // bounding box for thumbnails, pixels
	ThumbnailQuality int   // JPEG quality for thumbnails
	ThumbnailTimeout int   // thumbnail probe timeout, seconds
	DownloadTimeout  int   // full download timeout, seconds
	SearchTimeout    int   // per source search timeout, seconds
	BatchTimeout     int   // whole batch timeout, seconds
}

// VisionSettings configures the inference worker fleet.
type VisionSettings struct {
	WorkerCommand   []string       // command line used to spawn one worker process
	AutoLoad        bool           // load workers on first analysis request
	AutoUnload      bool           // unload workers after combo pipelines
	Strategy        string         // cpu_only, specific, all_gpus, single_best or auto
	GPUEnabled      map[string]int // per GPU index: 1 enabled, 0 disabled (specific strategy)
	GPUInstances    map[string]int // per GPU index instance count (specific strategy)
	AllowCPU        bool           // permit CPU fallback when no GPU qualifies
	CPUInstances    int            // instances in cpu_only mode
	MaxPerGPU       int            // cap per GPU
	MaxTotal        int            // global instance cap
	ReservedVRAMGB  float64        // VRAM margin left free per GPU
	InstanceVRAMGB  float64        // assumed VRAM cost per instance
	MinFreeVRAMGB   float64        // minimum free VRAM for a GPU to qualify
	AnalysisTimeout int            // single analysis timeout, seconds
	LoadTimeout     int            // per instance load timeout, seconds
}

// Settings contains all application settings.
type Settings struct {
	Debug    bool   // true to enable debug logging
	LogLevel string // trace, debug, info, warn, error

	HTTP    HTTPSettings
	Storage StorageSettings
	Sources SourcesSettings
	Fetch   FetchSettings
	Vision  VisionSettings
}

// Load reads the configuration file and returns validated settings.
func Load() (*Settings, error) {
	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	return settings, nil
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

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if ok := asConfigFileNotFound(err, &notFound); ok {
			// No config file is fine, defaults apply
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func asConfigFileNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user home directory: %w", err)
	}
	return []string{
		".",
		filepath.Join(homeDir, ".config", "pictora"),
	}, nil
}

// OriginalsPath returns the absolute directory for full-resolution originals.
func (s *StorageSettings) OriginalsPath() string {
	return filepath.Join(s.BaseDir, s.OriginalsDir)
}

// ThumbsPath returns the absolute directory for thumbnails.
func (s *StorageSettings) ThumbsPath() string {
	return filepath.Join(s.BaseDir, s.ThumbsDir)
}

// DatabasePath returns the absolute path of the sqlite database file.
func (s *StorageSettings) DatabasePath() string {
	return filepath.Join(s.BaseDir, s.SQLitePath)
}

// EnsureDirectories creates the storage directory tree if missing.
func (s *StorageSettings) EnsureDirectories() error {
	for _, dir := range []string{s.BaseDir, s.OriginalsPath(), s.ThumbsPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating directory %s: %w", dir, err)
		}
	}
	return nil
}
