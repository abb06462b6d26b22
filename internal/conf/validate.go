// validate.go: validation of loaded settings.
package conf

import (
	"fmt"
	"strings"
)

var validStrategies = map[string]bool{
	"cpu_only":    true,
	"specific":    true,
	"all_gpus":    true,
	"single_best": true,
	"auto":        true,
}

// ValidateSettings checks the loaded settings for consistency.
func ValidateSettings(settings *Settings) error {
	var errs []string

	if settings.HTTP.Port < 1 || settings.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be between 1 and 65535, got %d", settings.HTTP.Port))
	}
	if settings.Storage.BaseDir == "" {
		errs = append(errs, "storage.basedir must not be empty")
	}
	if settings.Fetch.MaxConcurrent < 1 {
		errs = append(errs, fmt.Sprintf("fetch.maxconcurrent must be at least 1, got %d", settings.Fetch.MaxConcurrent))
	}
	if settings.Fetch.ThumbnailBytes < 64*1024 {
		errs = append(errs, fmt.Sprintf("fetch.thumbnailbytes must be at least 65536, got %d", settings.Fetch.ThumbnailBytes))
	}
	if settings.Fetch.ThumbnailSize < 16 {
		errs = append(errs, fmt.Sprintf("fetch.thumbnailsize must be at least 16, got %d", settings.Fetch.ThumbnailSize))
	}
	if settings.Fetch.ThumbnailQuality < 1 || settings.Fetch.ThumbnailQuality > 100 {
		errs = append(errs, fmt.Sprintf("fetch.thumbnailquality must be between 1 and 100, got %d", settings.Fetch.ThumbnailQuality))
	}
	if !validStrategies[settings.Vision.Strategy] {
		errs = append(errs, fmt.Sprintf("vision.strategy %q is not one of cpu_only, specific, all_gpus, single_best, auto", settings.Vision.Strategy))
	}
	if len(settings.Vision.WorkerCommand) == 0 {
		errs = append(errs, "vision.workercommand must not be empty")
	}
	if settings.Vision.MaxPerGPU < 1 {
		errs = append(errs, fmt.Sprintf("vision.maxpergpu must be at least 1, got %d", settings.Vision.MaxPerGPU))
	}
	if settings.Vision.MaxTotal < 1 {
		errs = append(errs, fmt.Sprintf("vision.maxtotal must be at least 1, got %d", settings.Vision.MaxTotal))
	}
	if settings.Vision.InstanceVRAMGB <= 0 {
		errs = append(errs, fmt.Sprintf("vision.instancevramgb must be positive, got %g", settings.Vision.InstanceVRAMGB))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
