package raster

import (
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/menta2k/sketch-scorer/pkg/types"
)

// maxDownload caps the size of images fetched over HTTP
const maxDownload = 32 << 20

// LoadSource reads an image source from a file path or an http(s) URL. The
// kind (markup or bitmap) is detected from the content.
func LoadSource(source string) (types.Source, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return LoadSourceFromURL(source)
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return types.Source{}, fmt.Errorf("failed to read image file: %w", err)
	}
	return types.Detect(data), nil
}

// LoadSourceFromURL downloads an image source
func LoadSourceFromURL(imageURL string) (types.Source, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return types.Source{}, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return types.Source{}, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	req, err := http.NewRequest("GET", imageURL, nil)
	if err != nil {
		return types.Source{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "sketch-scorer/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return types.Source{}, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.Source{}, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return types.Source{}, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return types.Source{}, fmt.Errorf("failed to read image data: %w", err)
	}

	if strings.HasPrefix(contentType, "image/svg") {
		return types.Markup(string(data)), nil
	}
	return types.Bitmap(data), nil
}

// SourceImage returns src as an image: bitmaps are decoded at their own
// size, markup is rendered into a size×size frame
func SourceImage(src types.Source, size int) (image.Image, error) {
	if src.Kind != types.KindMarkup {
		return Decode(src.Data)
	}
	g := New().Rasterize(src, size)
	if g.Blank() {
		return nil, errors.New("markup could not be rendered")
	}
	return g.Image(), nil
}
