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

const unsplashBaseURL = "https://api.unsplash.com"

// UnsplashSearchResponse represents the structure of the search response
type UnsplashSearchResponse struct {
	Results []struct {
		ID   string `json:"id"`
		URLs struct {
			Full string `json:"full"`
		} `json:"urls"`
	} `json:"results"`
}

// UnsplashPhoto represents the per-photo detail response carrying tags.
type UnsplashPhoto struct {
	AltDescription string `json:"alt_description"`
	Description    string `json:"description"`
	Tags           []struct {
		Title string `json:"title"`
	} `json:"tags"`
}

// Unsplash searches the Unsplash photo catalog. Tag metadata requires a
// second per-photo round trip; a failing detail fetch drops only that photo.
type Unsplash struct {
	settings *conf.SourceSettings
	client   *http.Client
}

// NewUnsplash creates an Unsplash source client.
func NewUnsplash(settings *conf.SourceSettings, client *http.Client) *Unsplash {
	return &Unsplash{settings: settings, client: client}
}

func (u *Unsplash) Name() string { return "unsplash" }

func (u *Unsplash) Enabled() bool { return u.settings.APIKey != "" }

func (u *Unsplash) baseURL() string {
	if u.settings.Endpoint != "" {
		return u.settings.Endpoint
	}
	return unsplashBaseURL
}

// Search returns one page of candidates with tags and alt text resolved
// through the photo detail endpoint.
func (u *Unsplash) Search(ctx context.Context, query string, page int) ([]Candidate, error) {
	if !u.Enabled() {
		return nil, nil
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", strconv.Itoa(u.settings.PerPage))
	params.Set("page", strconv.Itoa(page))

	var data UnsplashSearchResponse
	if err := u.getJSON(ctx, u.baseURL()+"/search/photos?"+params.Encode(), &data); err != nil {
		return nil, searchError(err, u.Name(), query, page)
	}

	candidates := make([]Candidate, 0, len(data.Results))
	for i := range data.Results {
		result := &data.Results[i]
		if result.URLs.Full == "" {
			continue
		}

		candidate := Candidate{
			URL:    result.URLs.Full,
			Source: "Unsplash",
			Query:  query,
		}

		var photo UnsplashPhoto
		if err := u.getJSON(ctx, u.baseURL()+"/photos/"+result.ID, &photo); err != nil {
			getLogger().Debug("unsplash photo detail fetch failed",
				"photo_id", result.ID, "error", err)
		} else {
			for _, tag := range photo.Tags {
				if tag.Title != "" {
					candidate.Tags = append(candidate.Tags, tag.Title)
				}
			}
			candidate.Alt = photo.AltDescription
			if candidate.Alt == "" {
				candidate.Alt = photo.Description
			}
		}

		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

func (u *Unsplash) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Client-ID "+u.settings.APIKey)

	resp, err := u.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
