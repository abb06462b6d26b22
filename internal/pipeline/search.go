// search.go: concurrent multi-source search with dedup filtering.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/pictora/pictora-go/internal/sources"
)

// Search fans out one goroutine per (source, page) pair and merges results.
// pages maps source name to the number of pages to request; missing or
// non-positive entries skip the source. Failed pages contribute nothing,
// the rest of the fan-out is unaffected. Candidates whose URL is already
// known are filtered out before being offered to the caller.
func (p *Pipeline) Search(ctx context.Context, query string, pages map[string]int) []sources.Candidate {
	timeout := time.Duration(p.settings.Fetch.SearchTimeout) * time.Second

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		combined []sources.Candidate
	)

	for _, src := range p.srcs {
		if !src.Enabled() {
			continue
		}
		pageCount := pages[src.Name()]
		for page := 1; page <= pageCount; page++ {
			wg.Add(1)
			go func(src sources.Source, page int) {
				defer wg.Done()

				pageCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				candidates, err := src.Search(pageCtx, query, page)
				if err != nil {
					getLogger().Warn("source search failed",
						"source", src.Name(), "query", query, "page", page, "error", err)
					return
				}

				var fresh []sources.Candidate
				for _, c := range candidates {
					if !p.IsURLKnown(c.URL) {
						fresh = append(fresh, c)
					}
				}
				if len(fresh) == 0 {
					return
				}

				mu.Lock()
				combined = append(combined, fresh...)
				mu.Unlock()
			}(src, page)
		}
	}

	wg.Wait()
	return combined
}
