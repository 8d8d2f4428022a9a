package sondehub

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/sonde-alert/internal/domain"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

const twoSondes = `{
  "T1234567": {"serial":"T1234567","lat":40.70,"lon":-74.00,"alt":274.32,"vel_v":-6.1,"datetime":"2024-05-01T12:00:00.000000Z","type":"RS41","subtype":"RS41-SGP"},
  "S7654321": {"serial":"S7654321","lat":41.10,"lon":-73.50,"alt":15000,"vel_v":5.0,"datetime":"2024-05-01T12:00:01.000000Z","type":"RS41"}
}`

func testClient(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    baseURL,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestClient_Latest_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sondes", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "40.71280", q.Get("lat"))
		assert.Equal(t, "-74.00600", q.Get("lon"))
		assert.Equal(t, "80000", q.Get("distance"))
		assert.Equal(t, "180", q.Get("last"))

		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(twoSondes))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	events, err := c.Latest(context.Background(), Query{
		Center:   domain.Point{Lat: 40.7128, Lon: -74.0060},
		RadiusKM: 80,
		Last:     3 * time.Minute,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Ordered by serial.
	assert.Equal(t, "S7654321", string(events[0].Key))
	assert.Equal(t, "T1234567", string(events[1].Key))
	assert.Equal(t, SourceName, events[1].Source)

	parsed, err := domain.ParseRawEvent(events[1])
	require.NoError(t, err)
	assert.Equal(t, "T1234567", parsed.ObjectID)
	assert.InDelta(t, 900, parsed.AltitudeFt, 0.01)
	require.NotNil(t, parsed.ClimbRate)
	assert.Equal(t, -6.1, *parsed.ClimbRate)
	assert.Equal(t, "RS41-SGP", parsed.Subtype)
}

func TestClient_Latest_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	events, err := testClient(srv.URL).Latest(context.Background(), Query{RadiusKM: 10, Last: time.Minute})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestClient_Latest_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Latest(context.Background(), Query{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestClient_Latest_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[not json`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Latest(context.Background(), Query{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestClient_Latest_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testClient(srv.URL).Latest(ctx, Query{})
	require.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Equal(t, DefaultBaseURL, c.baseURL)

	c = NewClient("http://localhost:8000/", time.Second, nil)
	assert.Equal(t, "http://localhost:8000", c.baseURL)
}
