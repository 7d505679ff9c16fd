package image

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmorgan81/fluxlab/internal/log"
)

// MaxSize bounds downloads; FLUX samples and reference images are well
// under it.
const MaxSize = 32 << 20

var ErrTooLarge = errors.New("image exceeds maximum size")

type Fetcher interface {
	Fetch(context.Context, string) ([]byte, error)
}

type HTTPFetcher struct {
	Client *http.Client
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("image").With("url", rawURL)
	log.Info("fetching image")

	if !IsURL(rawURL) {
		return nil, fmt.Errorf("unsupported image url %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("fetching image: http %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxSize {
		return nil, ErrTooLarge
	}

	log.Info("fetched image", "bytes", len(data), "content-type", http.DetectContentType(data))
	return data, nil
}

// IsURL reports whether s is an absolute http(s) URL.
func IsURL(s string) bool {
	u, err := url.ParseRequestURI(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// ContentType maps an output format onto a MIME type and file extension.
func ContentType(format string) (string, string) {
	if strings.EqualFold(format, "png") {
		return "image/png", ".png"
	}
	return "image/jpeg", ".jpg"
}
