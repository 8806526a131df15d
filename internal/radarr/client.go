// Package radarr is a minimal client for the Radarr v3 REST API.
package radarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ChrisB0-2/radarr-prune/internal/core"
)

// ErrUnauthorized is wrapped by APIError when Radarr rejects the API key.
var ErrUnauthorized = errors.New("radarr: unauthorized")

// APIError is returned for any non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("radarr %s %s: status %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Config configures a Client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client talks to a single Radarr instance. It implements core.Library.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
}

// New creates a client. The URL may include a base path (e.g. http://host/radarr).
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse radarr url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("radarr url %q must include scheme and host", cfg.URL)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		base:   u,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: timeout},
	}, nil
}

type movieResource struct {
	ID        int      `json:"id"`
	Title     string   `json:"title"`
	SortTitle string   `json:"sortTitle"`
	Year      int      `json:"year"`
	Path      string   `json:"path"`
	Tags      []int    `json:"tags"`
	Genres    []string `json:"genres"`
	HasFile   bool     `json:"hasFile"`
}

type tagResource struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
}

type rootFolderResource struct {
	ID        int    `json:"id"`
	Path      string `json:"path"`
	FreeSpace int64  `json:"freeSpace"`
}

type statusResource struct {
	Version string `json:"version"`
	AppName string `json:"appName"`
}

// Ping checks connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	var st statusResource
	if err := c.get(ctx, "/api/v3/system/status", &st); err != nil {
		return fmt.Errorf("%w: %w", core.ErrBackendUnavailable, err)
	}
	return nil
}

// Movies returns every movie in the library.
func (c *Client) Movies(ctx context.Context) ([]core.Movie, error) {
	var res []movieResource
	if err := c.get(ctx, "/api/v3/movie", &res); err != nil {
		return nil, err
	}

	movies := make([]core.Movie, 0, len(res))
	for _, m := range res {
		movies = append(movies, core.Movie{
			ID:        m.ID,
			Title:     m.Title,
			SortTitle: m.SortTitle,
			Year:      m.Year,
			Path:      m.Path,
			TagIDs:    m.Tags,
			Genres:    m.Genres,
			HasFile:   m.HasFile,
		})
	}
	return movies, nil
}

// Tags returns a label to ID map of all tags.
func (c *Client) Tags(ctx context.Context) (map[string]int, error) {
	var res []tagResource
	if err := c.get(ctx, "/api/v3/tag", &res); err != nil {
		return nil, err
	}

	tags := make(map[string]int, len(res))
	for _, t := range res {
		tags[t.Label] = t.ID
	}
	return tags, nil
}

// RootFolders returns the configured root folder paths in Radarr order.
func (c *Client) RootFolders(ctx context.Context) ([]string, error) {
	var res []rootFolderResource
	if err := c.get(ctx, "/api/v3/rootfolder", &res); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(res))
	for _, rf := range res {
		paths = append(paths, rf.Path)
	}
	return paths, nil
}

// DeleteMovie removes a movie from the library.
func (c *Client) DeleteMovie(ctx context.Context, id int, deleteFiles, addImportExclusion bool) error {
	q := url.Values{}
	q.Set("deleteFiles", strconv.FormatBool(deleteFiles))
	q.Set("addImportExclusion", strconv.FormatBool(addImportExclusion))

	return c.do(ctx, http.MethodDelete, "/api/v3/movie/"+strconv.Itoa(id), q, nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "radarr-prune/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("radarr %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

var _ core.Library = (*Client)(nil)
