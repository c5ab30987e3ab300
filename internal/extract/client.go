// Package extract talks to the external text-extraction service.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/DeafMist/ecolex-harvester/internal/logger"
)

// Client posts file bodies to the extraction endpoint and reads {contents}.
type Client struct {
	url  string
	http *http.Client
	log  *slog.Logger
}

// New builds a client for endpoint with the given request timeout.
func New(endpoint string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{url: endpoint, http: &http.Client{Timeout: timeout}, log: log}
}

type response struct {
	Contents string `json:"contents"`
}

// Extract returns the plain text of body. name is the source file name, used as a hint.
func (c *Client) Extract(ctx context.Context, name string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	if base := path.Base(name); base != "" && base != "." && base != "/" {
		req.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", base))
	}

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", fmt.Errorf("extract %s failed: %s: %s", name, res.Status, strings.TrimSpace(string(data)))
	}

	var parsed response
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode extract response: %w", err)
	}
	c.log.Debug("extracted text", slog.String("file", name), slog.Int("chars", len(parsed.Contents)))
	return strings.TrimSpace(parsed.Contents), nil
}
