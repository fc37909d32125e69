// Package vimeo implements the Vimeo API metadata client.
package vimeo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kasper/vidmeta/internal/provider"
)

const defaultBaseURL = "https://api.vimeo.com"

// Config holds the client settings.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

// Client fetches video metadata from the Vimeo API.
type Client struct {
	http *resty.Client
}

// New creates a Vimeo client.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	http := resty.New()
	http.SetBaseURL(baseURL)
	http.SetTimeout(timeout)
	http.SetHeader("Authorization", "Bearer "+cfg.AccessToken)

	return &Client{http: http}
}

type videoResponse struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Duration    int64     `json:"duration"` // seconds
	ReleaseTime time.Time `json:"release_time"`
}

// FetchMetadata retrieves metadata for one video id. Vimeo reports duration
// in whole seconds; it is normalized to milliseconds here.
func (c *Client) FetchMetadata(ctx context.Context, externalID string) (*provider.Metadata, error) {
	var out videoResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		// Decode even when the response omits the JSON content type.
		ForceContentType("application/json").
		Get("/videos/" + externalID)
	if err != nil {
		return nil, &provider.TransientError{Err: fmt.Errorf("vimeo request failed: %w", err)}
	}

	status := resp.StatusCode()
	switch {
	case status == 404:
		return nil, fmt.Errorf("vimeo video %s: %w", externalID, provider.ErrNotFound)
	case status == 429 || status >= 500:
		return nil, &provider.TransientError{Status: status, Err: fmt.Errorf("vimeo returned HTTP %d", status)}
	case status < 200 || status >= 300:
		return nil, fmt.Errorf("vimeo returned HTTP %d", status)
	}

	return &provider.Metadata{
		Title:          out.Name,
		Description:    out.Description,
		DurationMillis: out.Duration * 1000,
		PublishedAt:    out.ReleaseTime,
	}, nil
}
