// Package imageio loads the image a prompt refers to, from an HTTP(S) URL or
// a local file, into a decoded image.Image.
package imageio

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrImageLoad anchors errors.Is checks for every image loading failure.
var ErrImageLoad = errors.New("image_load")

// LoadError reports a failure to fetch or decode an image source.
type LoadError struct {
	Source string
	Reason error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load image %q: %v", e.Source, e.Reason)
}

func (e *LoadError) Unwrap() error { return ErrImageLoad }

func newLoadError(source string, format string, args ...any) error {
	return &LoadError{Source: source, Reason: fmt.Errorf(format, args...)}
}

// Load fetches and decodes an image. A source starting with http:// or
// https:// is fetched over the network with the provided context; anything
// else is treated as a filesystem path. There are no retries: the first
// failure is returned as a LoadError.
func Load(ctx context.Context, source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return loadURL(ctx, source)
	}

	info, err := os.Stat(source)
	if err == nil && !info.IsDir() {
		return loadFile(source)
	}
	return nil, newLoadError(source, "not a valid URL or existing file")
}

func loadURL(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, newLoadError(url, "build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, newLoadError(url, "fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newLoadError(url, "unexpected status %s", resp.Status)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, newLoadError(url, "decode: %w", err)
	}
	return img, nil
}

func loadFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newLoadError(path, "open: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, newLoadError(path, "decode: %w", err)
	}
	return img, nil
}
