// Package sources implements the remote image source clients used by the
// fetch pipeline. Each source exposes a paged search; sources fail
// independently and a missing API key simply disables the source.
package sources

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pictora/pictora-go/internal/conf"
	"github.com/pictora/pictora-go/internal/logging"
)

var (
	sourcesLogger     *slog.Logger
	sourcesLoggerOnce sync.Once
)

func getLogger() *slog.Logger {
	sourcesLoggerOnce.Do(func() {
		sourcesLogger = logging.ForService("sources")
		if sourcesLogger == nil {
			sourcesLogger = slog.Default().With("service", "sources")
		}
	})
	return sourcesLogger
}

// Candidate is one search hit offered for download.
type Candidate struct {
	URL    string   `json:"url"`
	Tags   []string `json:"tags"`
	Source string   `json:"source"`
	Query  string   `json:"query"`
	Alt    string   `json:"alt"`
}

// Source is a remote image catalog with paged search.
type Source interface {
	Name() string
	Enabled() bool
	Search(ctx context.Context, query string, page int) ([]Candidate, error)
}

// All builds the configured source set. Disabled sources are included;
// they return no results so callers can treat the set uniformly.
func All(settings *conf.SourcesSettings, timeout time.Duration) []Source {
	client := &http.Client{Timeout: timeout}
	return []Source{
		NewPixabay(&settings.Pixabay, client),
		NewPexels(&settings.Pexels, client),
		NewUnsplash(&settings.Unsplash, client),
	}
}

// ByName finds a source in a set, nil when absent.
func ByName(set []Source, name string) Source {
	for _, s := range set {
		if s.Name() == name {
			return s
		}
	}
	return nil
}
