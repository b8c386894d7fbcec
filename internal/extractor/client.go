package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"presence/internal/recognition"
)

// Client calls the external feature-extraction microservice. The service is
// an opaque vector producer: an image in, zero or more fixed-length feature
// vectors out.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set the client returns a canned vector
// without calling the service, for dev environments without the extractor.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// Extract requests probe vectors for raw image bytes.
func (c *Client) Extract(ctx context.Context, image []byte) ([]recognition.Vector, error) {
	if c.Skip {
		return []recognition.Vector{{0.1, 0.2, 0.3}}, nil
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("image required")
	}
	return c.post(ctx, map[string]string{
		"image_b64": base64.StdEncoding.EncodeToString(image),
	})
}

// ExtractURL requests probe vectors for an image the extractor fetches by URL.
func (c *Client) ExtractURL(ctx context.Context, imageURL string) ([]recognition.Vector, error) {
	if c.Skip {
		return []recognition.Vector{{0.1, 0.2, 0.3}}, nil
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image url required")
	}
	return c.post(ctx, map[string]string{"image_url": imageURL})
}

func (c *Client) post(ctx context.Context, payload map[string]string) ([]recognition.Vector, error) {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extractor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("extractor error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		Vectors []recognition.Vector `json:"vectors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode extractor response: %w", err)
	}
	return out.Vectors, nil
}

// Health checks extractor reachability.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("extractor unhealthy: %s", resp.Status)
	}
	return nil
}
