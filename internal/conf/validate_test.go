package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() *Settings {
	return &Settings{
		LogLevel: "info",
		HTTP:     HTTPSettings{Host: "127.0.0.1", Port: 5000},
		Storage: StorageSettings{
			BaseDir:      "images",
			OriginalsDir: "originals",
			ThumbsDir:    "thumbs",
			SQLitePath:   "images.db",
		},
		Fetch: FetchSettings{
			MaxConcurrent:    60,
			ThumbnailBytes:   3 * 1024 * 1024,
			ThumbnailSize:    300,
			ThumbnailQuality: 85,
			ThumbnailTimeout: 30,
			DownloadTimeout:  60,
			SearchTimeout:    15,
			BatchTimeout:     600,
		},
		Vision: VisionSettings{
			WorkerCommand:  []string{"python", "vision_worker.py"},
			Strategy:       "auto",
			CPUInstances:   1,
			MaxPerGPU:      4,
			MaxTotal:       8,
			ReservedVRAMGB: 0.5,
			InstanceVRAMGB: 2.0,
			MinFreeVRAMGB:  2.5,
		},
	}
}

func TestValidateSettingsAcceptsDefaults(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsRejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{"bad port", func(s *Settings) { s.HTTP.Port = 0 }, "http.port"},
		{"empty basedir", func(s *Settings) { s.Storage.BaseDir = "" }, "storage.basedir"},
		{"zero concurrency", func(s *Settings) { s.Fetch.MaxConcurrent = 0 }, "fetch.maxconcurrent"},
		{"tiny byte budget", func(s *Settings) { s.Fetch.ThumbnailBytes = 1024 }, "fetch.thumbnailbytes"},
		{"bad quality", func(s *Settings) { s.Fetch.ThumbnailQuality = 0 }, "fetch.thumbnailquality"},
		{"unknown strategy", func(s *Settings) { s.Vision.Strategy = "fastest" }, "vision.strategy"},
		{"no worker command", func(s *Settings) { s.Vision.WorkerCommand = nil }, "vision.workercommand"},
		{"zero instance cost", func(s *Settings) { s.Vision.InstanceVRAMGB = 0 }, "vision.instancevramgb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStoragePaths(t *testing.T) {
	t.Parallel()

	s := validSettings().Storage
	assert.Equal(t, "images/originals", s.OriginalsPath())
	assert.Equal(t, "images/thumbs", s.ThumbsPath())
	assert.Equal(t, "images/images.db", s.DatabasePath())
}
