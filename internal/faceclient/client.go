package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoMatch is returned when no enrolled face is similar enough.
var ErrNoMatch = errors.New("face service: no match")

// ErrDisabled is returned by lookups while the client runs in skip mode.
var ErrDisabled = errors.New("face service: disabled")

// FaceQuality contains face quality metrics.
type FaceQuality struct {
	Score     float64 `json:"score"`
	Blur      float64 `json:"blur"`
	IsFrontal bool    `json:"is_frontal"`
}

// SearchMatch represents a face match from gallery search.
type SearchMatch struct {
	FaceID     string  `json:"user_id"`
	Similarity float64 `json:"similarity"`
	Name       string  `json:"name,omitempty"`
}

// Match is the identity resolved for an image.
type Match struct {
	FaceID     string
	Similarity float64
	Quality    *FaceQuality
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL   string
	HTTP      *http.Client
	Skip      bool
	Threshold float64
}

// New creates a client with configurable match threshold.
func New(baseURL string, skip bool, threshold float64) *Client {
	return &Client{
		BaseURL:   baseURL,
		Skip:      skip,
		Threshold: threshold,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// Identify runs a 1:N search and returns the best match above the threshold.
func (c *Client) Identify(ctx context.Context, imageURL string) (*Match, error) {
	if c.Skip {
		return nil, ErrDisabled
	}
	if imageURL == "" {
		return nil, fmt.Errorf("image url required")
	}

	payload := map[string]any{"image_url": imageURL, "top_k": 1}
	if c.Threshold > 0 {
		payload["threshold"] = c.Threshold
	}
	var out struct {
		Matches       []SearchMatch `json:"matches"`
		FacesDetected int           `json:"faces_detected"`
		Quality       *FaceQuality  `json:"quality"`
	}
	if err := c.post(ctx, "/search", payload, &out); err != nil {
		return nil, err
	}
	if out.FacesDetected == 0 || len(out.Matches) == 0 {
		return nil, ErrNoMatch
	}
	best := out.Matches[0]
	if c.Threshold > 0 && best.Similarity < c.Threshold {
		return nil, ErrNoMatch
	}
	return &Match{FaceID: best.FaceID, Similarity: best.Similarity, Quality: out.Quality}, nil
}

// Verify performs 1:1 verification of an image against an enrolled face.
func (c *Client) Verify(ctx context.Context, faceID, imageURL string) (bool, error) {
	if c.Skip {
		return true, nil
	}
	var out struct {
		Verified bool `json:"verified"`
	}
	if err := c.post(ctx, "/verify", map[string]string{"user_id": faceID, "image_url": imageURL}, &out); err != nil {
		return false, err
	}
	return out.Verified, nil
}

// Health checks if the face service is available.
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
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
