// Package youtube implements the YouTube Data API v3 metadata client.
package youtube

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kasper/vidmeta/internal/provider"
)

const defaultBaseURL = "https://www.googleapis.com/youtube/v3"

// Config holds the client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client fetches video metadata and resolves playlists via the Data API.
type Client struct {
	http   *resty.Client
	apiKey string
}

// New creates a YouTube client.
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

	return &Client{http: http, apiKey: cfg.APIKey}
}

type videoListResponse struct {
	Items []struct {
		Snippet struct {
			Title       string    `json:"title"`
			Description string    `json:"description"`
			PublishedAt time.Time `json:"publishedAt"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// FetchMetadata retrieves snippet and contentDetails for one video id.
func (c *Client) FetchMetadata(ctx context.Context, externalID string) (*provider.Metadata, error) {
	var out videoListResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"part": "snippet,contentDetails",
			"id":   externalID,
			"key":  c.apiKey,
		}).
		SetResult(&out).
		// Decode even when the response omits the JSON content type;
		// a 200 with an unlabeled body must not read as an empty item list.
		ForceContentType("application/json").
		Get("/videos")
	if err != nil {
		return nil, &provider.TransientError{Err: fmt.Errorf("youtube request failed: %w", err)}
	}
	if err := classifyStatus(resp.StatusCode()); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("youtube video %s: %w", externalID, provider.ErrNotFound)
	}

	item := out.Items[0]
	durMillis, err := ParseISODuration(item.ContentDetails.Duration)
	if err != nil {
		return nil, fmt.Errorf("youtube video %s: %w", externalID, err)
	}

	return &provider.Metadata{
		Title:          item.Snippet.Title,
		Description:    item.Snippet.Description,
		DurationMillis: durMillis,
		PublishedAt:    item.Snippet.PublishedAt,
	}, nil
}

type playlistItemsResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		ContentDetails struct {
			VideoID string `json:"videoId"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// ResolvePlaylist pages through playlistItems and returns every video id in
// playlist order.
func (c *Client) ResolvePlaylist(ctx context.Context, playlistID string) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		var out playlistItemsResponse
		req := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"part":       "contentDetails",
				"playlistId": playlistID,
				"maxResults": "50",
				"key":        c.apiKey,
			}).
			SetResult(&out).
			ForceContentType("application/json")
		if pageToken != "" {
			req.SetQueryParam("pageToken", pageToken)
		}
		resp, err := req.Get("/playlistItems")
		if err != nil {
			return nil, &provider.TransientError{Err: fmt.Errorf("youtube playlist request failed: %w", err)}
		}
		if resp.StatusCode() == 404 {
			return nil, fmt.Errorf("youtube playlist %s: %w", playlistID, provider.ErrNotFound)
		}
		if err := classifyStatus(resp.StatusCode()); err != nil {
			return nil, err
		}

		for _, item := range out.Items {
			if item.ContentDetails.VideoID != "" {
				ids = append(ids, item.ContentDetails.VideoID)
			}
		}
		if out.NextPageToken == "" {
			return ids, nil
		}
		pageToken = out.NextPageToken
	}
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == 429 || status >= 500:
		return &provider.TransientError{Status: status, Err: fmt.Errorf("youtube returned HTTP %d", status)}
	case status == 404:
		return provider.ErrNotFound
	default:
		return fmt.Errorf("youtube returned HTTP %d", status)
	}
}

// iso8601Duration matches the PT#H#M#S form YouTube emits. Date components
// (years, weeks, days) never appear in video durations.
var iso8601Duration = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseISODuration converts an ISO-8601 time duration (e.g. "PT1H2M3S")
// into milliseconds. "PT" alone means zero.
func ParseISODuration(s string) (int64, error) {
	m := iso8601Duration.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("unparseable ISO-8601 duration %q", s)
	}
	var total int64
	units := []int64{3600, 60, 1}
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("unparseable ISO-8601 duration %q", s)
		}
		total += n * unit
	}
	return total * 1000, nil
}
