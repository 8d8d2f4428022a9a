package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/sonde-alert/internal/domain"
)

// SourceName labels events pushed through the HTTP endpoint.
const SourceName = "http"

// maxIngestBody caps one telemetry POST.
const maxIngestBody = 1 << 20

// Ingester accepts raw telemetry without blocking.
type Ingester interface {
	Push(ctx context.Context, raw domain.RawEvent) error
}

type ingestResponse struct {
	Accepted int    `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// handleIngest accepts one SondeHub-shaped frame or a JSON array of them.
// Frames are queued as-is; malformed frames are rejected later by the
// pipeline, not here. Every frame in one request is stamped with the same
// receive time.
func handleIngest(ingest Ingester, clock clockwork.Clock, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIngestBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, ingestResponse{Error: "request body too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, ingestResponse{Error: "read body: " + err.Error()})
			return
		}

		frames, err := splitFrames(body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ingestResponse{Error: err.Error()})
			return
		}

		now := clock.Now().UTC()
		accepted := 0
		for _, f := range frames {
			raw := domain.RawEvent{Value: f, Source: SourceName, Timestamp: now}
			if err := ingest.Push(r.Context(), raw); err != nil {
				logger.Warn("telemetry push rejected", "error", err, "accepted", accepted, "total", len(frames))
				writeJSON(w, http.StatusServiceUnavailable, ingestResponse{Accepted: accepted, Error: err.Error()})
				return
			}
			accepted++
		}
		writeJSON(w, http.StatusAccepted, ingestResponse{Accepted: accepted})
	}
}

// splitFrames returns the JSON objects in body, which holds either one
// object or an array of objects.
func splitFrames(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}

	var frames []json.RawMessage
	switch trimmed[0] {
	case '{':
		if !json.Valid(trimmed) {
			return nil, errors.New("invalid JSON object")
		}
		frames = []json.RawMessage{trimmed}
	case '[':
		if err := json.Unmarshal(trimmed, &frames); err != nil {
			return nil, errors.New("invalid JSON array")
		}
	default:
		return nil, errors.New("body must be a JSON object or array of objects")
	}

	for _, f := range frames {
		if t := bytes.TrimSpace(f); len(t) == 0 || t[0] != '{' {
			return nil, errors.New("array elements must be JSON objects")
		}
	}
	return frames, nil
}
