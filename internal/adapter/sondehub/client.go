// Package sondehub polls the public SondeHub v2 API for the latest telemetry
// of radiosondes near a point.
package sondehub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/sonde-alert/internal/domain"
)

// SourceName labels events and metrics from this adapter.
const SourceName = "sondehub"

// DefaultBaseURL is the public SondeHub v2 API.
const DefaultBaseURL = "https://api.v2.sondehub.org"

// Client queries the SondeHub /sondes endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a SondeHub API client.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Query selects sondes heard recently within a radius of a point.
type Query struct {
	Center   domain.Point
	RadiusKM float64
	// Last is how far back SondeHub should look for frames.
	Last time.Duration
}

// Latest returns the most recent frame of every sonde matching q, as raw
// events ordered by serial. Each event's Value is the frame exactly as
// SondeHub returned it.
func (c *Client) Latest(ctx context.Context, q Query) ([]domain.RawEvent, error) {
	params := url.Values{
		"lat":      {strconv.FormatFloat(q.Center.Lat, 'f', 5, 64)},
		"lon":      {strconv.FormatFloat(q.Center.Lon, 'f', 5, 64)},
		"distance": {strconv.FormatFloat(q.RadiusKM*1000, 'f', 0, 64)},
		"last":     {strconv.Itoa(int(q.Last.Seconds()))},
	}
	fullURL := c.baseURL + "/sondes?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sondehub request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sondehub API error: status %d: %s", resp.StatusCode, body)
	}

	var frames map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	received := time.Now()
	serials := make([]string, 0, len(frames))
	for serial := range frames {
		serials = append(serials, serial)
	}
	sort.Strings(serials)

	events := make([]domain.RawEvent, 0, len(serials))
	for _, serial := range serials {
		events = append(events, domain.RawEvent{
			Key:       []byte(serial),
			Value:     frames[serial],
			Source:    SourceName,
			Timestamp: received,
		})
	}
	c.logger.Debug("sondehub poll", "sondes", len(events))
	return events, nil
}
