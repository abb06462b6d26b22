package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pictora/pictora-go/internal/conf"
	"github.com/pictora/pictora-go/internal/datastore"
	"github.com/pictora/pictora-go/internal/sources"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{}
	settings.Storage = conf.StorageSettings{
		BaseDir:      t.TempDir(),
		OriginalsDir: "originals",
		ThumbsDir:    "thumbs",
		SQLitePath:   "pictora.db",
	}
	settings.Fetch = conf.FetchSettings{
		MaxConcurrent:    4,
		ThumbnailBytes:   3 * 1024 * 1024,
		ThumbnailSize:    300,
		ThumbnailQuality: 85,
		ThumbnailTimeout: 5,
		DownloadTimeout:  5,
		SearchTimeout:    5,
		BatchTimeout:     30,
	}
	require.NoError(t, settings.Storage.EnsureDirectories())
	return settings
}

func testStore(t *testing.T, settings *conf.Settings) datastore.Interface {
	t.Helper()
	store := datastore.New(settings.Storage.DatabasePath())
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testPipeline(t *testing.T) (*Pipeline, datastore.Interface) {
	t.Helper()
	settings := testSettings(t)
	store := testStore(t, settings)

	p, err := New(settings, store, nil)
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)

	client := &http.Client{Timeout: 5 * time.Second}
	httpmock.ActivateNonDefault(client)
	t.Cleanup(httpmock.DeactivateAndReset)
	p.SetHTTPClient(client)

	return p, store
}

// jpegBytes encodes a solid-color JPEG of the given size.
func jpegBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestFetchThumbnail(t *testing.T) {
	p, _ := testPipeline(t)

	httpmock.RegisterResponder("GET", "https://img.example.com/photo.jpg",
		httpmock.NewBytesResponder(200, jpegBytes(t, 800, 600)))

	info, err := p.FetchThumbnail(context.Background(), "https://img.example.com/photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, 800, info.Width)
	assert.Equal(t, 600, info.Height)

	full := filepath.Join(p.settings.Storage.BaseDir, info.ThumbPath)
	f, err := os.Open(full)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	thumb, _, err := image.Decode(f)
	require.NoError(t, err)
	assert.LessOrEqual(t, thumb.Bounds().Dx(), 300)
	assert.LessOrEqual(t, thumb.Bounds().Dy(), 300)
}

func TestFetchThumbnailSmallImageKeepsSize(t *testing.T) {
	p, _ := testPipeline(t)

	httpmock.RegisterResponder("GET", "https://img.example.com/small.jpg",
		httpmock.NewBytesResponder(200, jpegBytes(t, 120, 90)))

	info, err := p.FetchThumbnail(context.Background(), "https://img.example.com/small.jpg")
	require.NoError(t, err)
	assert.Equal(t, 120, info.Width)
	assert.Equal(t, 90, info.Height)
}

func TestFetchThumbnailErrorStatus(t *testing.T) {
	p, _ := testPipeline(t)

	httpmock.RegisterResponder("GET", "https://img.example.com/gone.jpg",
		httpmock.NewStringResponder(404, "not found"))

	_, err := p.FetchThumbnail(context.Background(), "https://img.example.com/gone.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchAndPersist(t *testing.T) {
	p, store := testPipeline(t)

	httpmock.RegisterResponder("GET", "https://img.example.com/sunset.jpg",
		httpmock.NewBytesResponder(200, jpegBytes(t, 640, 480)))

	record, err := p.FetchAndPersist(context.Background(), &DownloadRequest{
		URL:    "https://img.example.com/sunset.jpg",
		Tags:   []string{"sunset", "sea"},
		Source: "Pixabay",
		Query:  "sunset",
	})
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.Regexp(t, regexp.MustCompile(`^sunset_sea_640x480_[0-9a-f]{8}\.jpg$`), record.Filename)
	assert.Equal(t, 640, record.Width)
	assert.Equal(t, 480, record.Height)
	assert.False(t, record.PreviewOnly)

	_, err = os.Stat(filepath.Join(p.settings.Storage.BaseDir, record.Path))
	require.NoError(t, err, "original must be on disk")
	_, err = os.Stat(filepath.Join(p.settings.Storage.BaseDir, record.ThumbPath))
	require.NoError(t, err, "thumbnail must be on disk")

	saved, err := store.GetByURL("https://img.example.com/sunset.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"sunset", "sea"}, saved.TagList())
}

func TestFetchAndPersistDuplicate(t *testing.T) {
	p, _ := testPipeline(t)

	httpmock.RegisterResponder("GET", "https://img.example.com/dup.jpg",
		httpmock.NewBytesResponder(200, jpegBytes(t, 400, 300)))

	req := &DownloadRequest{URL: "https://img.example.com/dup.jpg", Source: "Pexels", Query: "dup"}
	_, err := p.FetchAndPersist(context.Background(), req)
	require.NoError(t, err)

	callsAfterFirst := httpmock.GetTotalCallCount()

	_, err = p.FetchAndPersist(context.Background(), req)
	assert.ErrorIs(t, err, ErrDuplicateURL)
	assert.Equal(t, callsAfterFirst, httpmock.GetTotalCallCount(),
		"duplicate must be rejected before any network traffic")
}

func TestFetchAndPersistPreviewOnly(t *testing.T) {
	p, _ := testPipeline(t)

	httpmock.RegisterResponder("GET", "https://img.example.com/preview.jpg",
		httpmock.NewBytesResponder(200, jpegBytes(t, 400, 300)))

	record, err := p.FetchAndPersist(context.Background(), &DownloadRequest{
		URL:         "https://img.example.com/preview.jpg",
		Source:      "Unsplash",
		Query:       "preview",
		PreviewOnly: true,
	})
	require.NoError(t, err)
	assert.True(t, record.PreviewOnly)
	assert.Empty(t, record.Path, "preview-only records store no original")
	assert.NotEmpty(t, record.ThumbPath)
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "preview-only needs one request")
}

func TestFetchAndPersistDeletedURLStaysBlocked(t *testing.T) {
	p, store := testPipeline(t)

	httpmock.RegisterResponder("GET", "https://img.example.com/blocked.jpg",
		httpmock.NewBytesResponder(200, jpegBytes(t, 400, 300)))

	record, err := p.FetchAndPersist(context.Background(), &DownloadRequest{
		URL: "https://img.example.com/blocked.jpg", Source: "Pixabay", Query: "x",
	})
	require.NoError(t, err)

	removed, err := store.Delete(record.ID)
	require.NoError(t, err)
	p.RemoveAssets(&removed)

	_, err = p.FetchAndPersist(context.Background(), &DownloadRequest{
		URL: "https://img.example.com/blocked.jpg", Source: "Pixabay", Query: "x",
	})
	assert.ErrorIs(t, err, ErrDuplicateURL, "tombstoned URLs are never re-fetched")
}

func TestShutdownRejectsNewWork(t *testing.T) {
	p, _ := testPipeline(t)
	p.Shutdown()

	_, err := p.FetchAndPersist(context.Background(), &DownloadRequest{URL: "https://x/y.jpg"})
	assert.ErrorIs(t, err, ErrShuttingDown)
	_, err = p.FetchThumbnail(context.Background(), "https://x/y.jpg")
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestShutdownMidFetchLeavesNoRecord(t *testing.T) {
	p, store := testPipeline(t)

	// The first request serves the thumbnail probe; the second is the
	// original download and flips shutdown under the in-flight item.
	calls := 0
	httpmock.RegisterResponder("GET", "https://img.example.com/mid.jpg",
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls == 2 {
				p.shutdown.Store(true)
			}
			return httpmock.NewBytesResponse(200, jpegBytes(t, 400, 300)), nil
		})

	_, err := p.FetchAndPersist(context.Background(), &DownloadRequest{
		URL:    "https://img.example.com/mid.jpg",
		Tags:   []string{"mid"},
		Source: "Pixabay",
		Query:  "mid",
	})
	assert.ErrorIs(t, err, ErrShuttingDown)

	count, err := store.CountRecords()
	require.NoError(t, err)
	assert.Zero(t, count, "the in-flight item must not be persisted")

	for _, dir := range []string{p.settings.Storage.OriginalsPath(), p.settings.Storage.ThumbsPath()} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "no orphaned files after a mid-fetch shutdown")
	}
}

// stubSource is a canned search source for fan-out tests.
type stubSource struct {
	name       string
	candidates []sources.Candidate
	err        error
}

func (s *stubSource) Name() string  { return s.name }
func (s *stubSource) Enabled() bool { return true }
func (s *stubSource) Search(_ context.Context, _ string, _ int) ([]sources.Candidate, error) {
	return s.candidates, s.err
}

func TestSearchFiltersKnownURLs(t *testing.T) {
	settings := testSettings(t)
	store := testStore(t, settings)

	srcs := []sources.Source{
		&stubSource{name: "alpha", candidates: []sources.Candidate{
			{URL: "https://img/a.jpg", Source: "Alpha"},
			{URL: "https://img/known.jpg", Source: "Alpha"},
		}},
		&stubSource{name: "beta", err: assert.AnError},
		&stubSource{name: "gamma", candidates: []sources.Candidate{
			{URL: "https://img/b.jpg", Source: "Gamma"},
		}},
	}

	p, err := New(settings, store, srcs)
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)
	p.MarkKnown("https://img/known.jpg")

	results := p.Search(context.Background(), "anything", map[string]int{
		"alpha": 1, "beta": 1, "gamma": 1,
	})
	require.Len(t, results, 2, "known URLs and failed sources contribute nothing")

	urls := []string{results[0].URL, results[1].URL}
	assert.ElementsMatch(t, []string{"https://img/a.jpg", "https://img/b.jpg"}, urls)
}

func TestSearchSkipsSourcesWithoutPages(t *testing.T) {
	settings := testSettings(t)
	store := testStore(t, settings)

	src := &stubSource{name: "alpha", candidates: []sources.Candidate{{URL: "https://img/a.jpg"}}}
	p, err := New(settings, store, []sources.Source{src})
	require.NoError(t, err)
	t.Cleanup(p.Shutdown)

	results := p.Search(context.Background(), "anything", map[string]int{})
	assert.Empty(t, results)
}

func TestGenerateFilename(t *testing.T) {
	name := GenerateFilename([]string{"Blue Sky", "a-very-long-tag-that-keeps-going", "sea", "extra"}, 640, 480, ".jpg")
	assert.Regexp(t, `^blue_sky_a-very-long-tag_sea_640x480_[0-9a-f]{8}\.jpg$`, name)

	name = GenerateFilename(nil, 0, 0, ".png")
	assert.Regexp(t, `^image_[0-9a-f]{8}\.png$`, name)
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".png", extensionFor("image/png", "https://x/file"))
	assert.Equal(t, ".jpg", extensionFor("image/jpeg; charset=binary", "https://x/file.png"))
	assert.Equal(t, ".webp", extensionFor("", "https://x/file.webp?sig=abc"))
	assert.Equal(t, ".jpg", extensionFor("", "https://x/file.JPEG"))
	assert.Equal(t, ".jpg", extensionFor("text/html", "https://x/file"))
}
