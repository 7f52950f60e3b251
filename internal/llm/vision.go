package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// MaxImageBytes gates how large a fetched image may be before we refuse to
// inline it.
const MaxImageBytes = 20 * 1024 * 1024

// FetchImages probes each URL with a lightweight existence check, then fetches
// and inlines the ones that validate. Invalid URLs are skipped, not errors: a
// prompt with zero valid images falls back to the text-only path.
func FetchImages(ctx context.Context, client *http.Client, urls []string, logger *slog.Logger) []Image {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	var images []Image
	for _, u := range urls {
		mt, ok := probeImage(ctx, client, u)
		if !ok {
			logger.Warn("llm.vision.probe_failed", "url", u)
			continue
		}
		img, err := fetchImage(ctx, client, u, mt)
		if err != nil {
			logger.Warn("llm.vision.fetch_failed", "url", u, "error", err)
			continue
		}
		images = append(images, img)
	}
	return images
}

// probeImage checks the URL resolves to an image content type without pulling
// the body.
func probeImage(ctx context.Context, client *http.Client, url string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return "", false
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return "", false
	}
	mt := resp.Header.Get("Content-Type")
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = mt[:i]
	}
	mt = strings.TrimSpace(mt)
	if !strings.HasPrefix(mt, "image/") {
		return "", false
	}
	return mt, true
}

func fetchImage(ctx context.Context, client *http.Client, url, mediaType string) (Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Image{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Image{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return Image{}, fmt.Errorf("image fetch status %d", resp.StatusCode)
	}

	// size gate
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return Image{}, err
	}
	if len(data) > MaxImageBytes {
		return Image{}, fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
	}
	return Image{MediaType: mediaType, Data: data}, nil
}
