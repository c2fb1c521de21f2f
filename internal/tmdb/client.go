// Package tmdb looks up movie metadata on The Movie Database. A lookup that
// reaches the catalog but matches nothing returns ErrNoMatch; transport and
// HTTP failures map onto the upstream taxonomy so callers can tell "the movie
// doesn't exist" apart from "the catalog is unreachable".
package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/MikeSquared-Agency/marquee/internal/upstream"
)

const (
	defaultBaseURL = "https://api.themoviedb.org/3"
	posterBaseURL  = "https://image.tmdb.org/t/p/w500"
)

// ErrNoMatch means the catalog answered but holds no entry for the query.
var ErrNoMatch = errors.New("no metadata match")

// Record is the enrichment payload for one title.
type Record struct {
	TMDBID    int
	Title     string
	Year      int
	PosterURL string
	Synopsis  string
}

type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewClient(apiKey, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		// TMDB allows roughly 40 requests per 10 second window per key.
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 40),
		logger:  logger,
	}
}

// SetTestTransport points the client at a test server.
func (c *Client) SetTestTransport(url string) {
	c.baseURL = url
}

// SetTimeout overrides the bounded call duration.
func (c *Client) SetTimeout(d time.Duration) {
	c.client.Timeout = d
}

type searchResponse struct {
	Results []struct {
		ID          int    `json:"id"`
		Title       string `json:"title"`
		ReleaseDate string `json:"release_date"`
		Overview    string `json:"overview"`
		PosterPath  string `json:"poster_path"`
	} `json:"results"`
	TotalResults int `json:"total_results"`
}

type statusResponse struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}

// Lookup searches the catalog for a title. A year of 0 searches without a
// year filter. Returns the best (first) match.
func (c *Client) Lookup(ctx context.Context, title string, year int) (*Record, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %v: %w", err, upstream.ErrUnavailable)
	}

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("query", title)
	if year > 0 {
		params.Set("year", strconv.Itoa(year))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search/movie?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search call: %v: %w", err, upstream.ErrUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %v: %w", err, upstream.ErrUnavailable)
	}

	if resp.StatusCode != http.StatusOK {
		kind := upstream.ErrRejected
		if resp.StatusCode >= 500 {
			kind = upstream.ErrUnavailable
		}
		var status statusResponse
		if json.Unmarshal(respBody, &status) == nil && status.StatusMessage != "" {
			return nil, fmt.Errorf("tmdb error %d: %s: %w", resp.StatusCode, status.StatusMessage, kind)
		}
		return nil, fmt.Errorf("tmdb error %d: %w", resp.StatusCode, kind)
	}

	var search searchResponse
	if err := json.Unmarshal(respBody, &search); err != nil {
		return nil, fmt.Errorf("unmarshal response: %v: %w", err, upstream.ErrMalformed)
	}

	if len(search.Results) == 0 {
		return nil, fmt.Errorf("%q: %w", title, ErrNoMatch)
	}

	best := search.Results[0]
	rec := &Record{
		TMDBID:   best.ID,
		Title:    best.Title,
		Synopsis: best.Overview,
	}
	if best.PosterPath != "" {
		rec.PosterURL = posterBaseURL + best.PosterPath
	}
	if len(best.ReleaseDate) >= 4 {
		if y, err := strconv.Atoi(best.ReleaseDate[:4]); err == nil {
			rec.Year = y
		}
	}

	c.logger.Debug("metadata lookup", "query", title, "tmdb_id", rec.TMDBID, "year", rec.Year)
	return rec, nil
}
