package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pictora/pictora-go/internal/conf"
	"github.com/pictora/pictora-go/internal/errors"
)

const pixabayBaseURL = "https://pixabay.com/api/"

// PixabayResponse represents the structure of the Pixabay API response
type PixabayResponse struct {
	Hits []struct {
		LargeImageURL string `json:"largeImageURL"`
		Tags          string `json:"tags"`
	} `json:"hits"`
}

// Pixabay searches the Pixabay photo catalog.
type Pixabay struct {
	settings *conf.SourceSettings
	client   *http.Client
}

// NewPixabay creates a Pixabay source client.
func NewPixabay(settings *conf.SourceSettings, client *http.Client) *Pixabay {
	return &Pixabay{settings: settings, client: client}
}

func (p *Pixabay) Name() string { return "pixabay" }

func (p *Pixabay) Enabled() bool { return p.settings.APIKey != "" }

// Search returns one page of candidates. Tags come from Pixabay's
// comma-separated tag string.
func (p *Pixabay) Search(ctx context.Context, query string, page int) ([]Candidate, error) {
	if !p.Enabled() {
		return nil, nil
	}

	endpoint := p.settings.Endpoint
	if endpoint == "" {
		endpoint = pixabayBaseURL
	}

	params := url.Values{}
	params.Set("key", p.settings.APIKey)
	params.Set("q", query)
	params.Set("per_page", strconv.Itoa(p.settings.PerPage))
	params.Set("page", strconv.Itoa(page))
	params.Set("image_type", "photo")
	params.Set("safesearch", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, searchError(err, p.Name(), query, page)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, searchError(err, p.Name(), query, page)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, searchError(fmt.Errorf("unexpected status %d", resp.StatusCode), p.Name(), query, page)
	}

	var data PixabayResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, searchError(err, p.Name(), query, page)
	}

	candidates := make([]Candidate, 0, len(data.Hits))
	for i := range data.Hits {
		hit := &data.Hits[i]
		if hit.LargeImageURL == "" {
			continue
		}
		var tags []string
		for _, tag := range strings.Split(hit.Tags, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
		candidates = append(candidates, Candidate{
			URL:    hit.LargeImageURL,
			Tags:   tags,
			Source: "Pixabay",
			Query:  query,
		})
	}
	return candidates, nil
}

// searchError wraps a source failure with consistent metadata.
func searchError(err error, source, query string, page int) error {
	return errors.New(err).
		Component("sources").
		Category(errors.CategoryImageSearch).
		Context("source", source).
		Context("query", query).
		Context("page", page).
		Build()
}
