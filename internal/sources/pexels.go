package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pictora/pictora-go/internal/conf"
)

const pexelsBaseURL = "https://api.pexels.com/v1/search"

// PexelsResponse represents the structure of the Pexels search response
type PexelsResponse struct {
	Photos []struct {
		Alt string `json:"alt"`
		Src struct {
			Large2x string `json:"large2x"`
		} `json:"src"`
	} `json:"photos"`
}

// Pexels searches the Pexels photo catalog.
type Pexels struct {
	settings *conf.SourceSettings
	client   *http.Client
}

// NewPexels creates a Pexels source client.
func NewPexels(settings *conf.SourceSettings, client *http.Client) *Pexels {
	return &Pexels{settings: settings, client: client}
}

func (p *Pexels) Name() string { return "pexels" }

func (p *Pexels) Enabled() bool { return p.settings.APIKey != "" }

// Search returns one page of candidates. Pexels has no tag metadata, so
// the query itself becomes the single tag.
func (p *Pexels) Search(ctx context.Context, query string, page int) ([]Candidate, error) {
	if !p.Enabled() {
		return nil, nil
	}

	endpoint := p.settings.Endpoint
	if endpoint == "" {
		endpoint = pexelsBaseURL
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", strconv.Itoa(p.settings.PerPage))
	params.Set("page", strconv.Itoa(page))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, searchError(err, p.Name(), query, page)
	}
	req.Header.Set("Authorization", p.settings.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, searchError(err, p.Name(), query, page)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, searchError(fmt.Errorf("unexpected status %d", resp.StatusCode), p.Name(), query, page)
	}

	var data PexelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, searchError(err, p.Name(), query, page)
	}

	candidates := make([]Candidate, 0, len(data.Photos))
	for i := range data.Photos {
		photo := &data.Photos[i]
		if photo.Src.Large2x == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			URL:    photo.Src.Large2x,
			Tags:   []string{query},
			Source: "Pexels",
			Query:  query,
			Alt:    photo.Alt,
		})
	}
	return candidates, nil
}
