// thumbnail.go: bounded thumbnail probe. Only a capped prefix of the remote
// file is read; that is enough to decode most JPEGs for a small preview
// without paying for the full download.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/image/draw"

	"github.com/pictora/pictora-go/internal/errors"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ThumbnailInfo describes a generated thumbnail and the natural dimensions
// of the source image.
type ThumbnailInfo struct {
	ThumbPath string `json:"thumb_path"` // relative to the storage base directory
	Width     int    `json:"width"`      // natural width of the source image
	Height    int    `json:"height"`     // natural height of the source image
}

// FetchThumbnail downloads at most the configured byte budget of an image,
// decodes it and writes a bounded JPEG thumbnail. A body cut off at the
// budget that then fails to decode is a quiet miss, not an error, since only
// a prefix was requested in the first place.
func (p *Pipeline) FetchThumbnail(ctx context.Context, url string) (*ThumbnailInfo, error) {
	if p.shutdown.Load() {
		return nil, ErrShuttingDown
	}

	timeout := time.Duration(p.settings.Fetch.ThumbnailTimeout) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fetchError(err, url)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fetchError(err, url)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fetchError(fmt.Errorf("unexpected status %d", resp.StatusCode), url)
	}

	data, truncated, err := readLimited(resp.Body, p.settings.Fetch.ThumbnailBytes)
	if err != nil {
		return nil, fetchError(err, url)
	}
	if p.shutdown.Load() {
		return nil, ErrShuttingDown
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if truncated {
			getLogger().Debug("thumbnail prefix did not decode", "url", url, "bytes", len(data))
		} else {
			getLogger().Error("thumbnail decode failed", "url", url, "error", err)
		}
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryImageDecode).
			Context("url", url).
			Context("truncated", truncated).
			Build()
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	thumb := scaleToFit(img, p.settings.Fetch.ThumbnailSize)
	name := "thumb_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12] + ".jpg"
	fullPath := filepath.Join(p.settings.Storage.ThumbsPath(), name)

	out, err := os.Create(fullPath)
	if err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			Context("path", fullPath).
			Build()
	}
	encodeErr := jpeg.Encode(out, thumb, &jpeg.Options{Quality: p.settings.Fetch.ThumbnailQuality})
	closeErr := out.Close()
	if encodeErr != nil || closeErr != nil {
		_ = os.Remove(fullPath)
		err := encodeErr
		if err == nil {
			err = closeErr
		}
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryFileIO).
			Context("path", fullPath).
			Build()
	}

	return &ThumbnailInfo{
		ThumbPath: filepath.Join(p.settings.Storage.ThumbsDir, name),
		Width:     width,
		Height:    height,
	}, nil
}

// scaleToFit shrinks img to fit inside a size x size box, preserving aspect
// ratio. Images already inside the box are returned as-is.
func scaleToFit(img image.Image, size int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= size && h <= size {
		return img
	}

	scale := float64(size) / float64(w)
	if h > w {
		scale = float64(size) / float64(h)
	}
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
