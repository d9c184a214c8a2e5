// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Imvault Contributors

package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/imvault/imvault/internal/pipeline"
	vaulterr "github.com/imvault/imvault/pkg/errors"
)

// feedBuffer is the per-subscriber queue length. Results published while a
// subscriber's queue is full are dropped for that subscriber.
const feedBuffer = 32

// SSEEventType names a server-sent event.
type SSEEventType string

// SSEEvent represents a single server-sent event.
type SSEEvent struct {
	Event SSEEventType `json:"event"`
	Data  string       `json:"data"`
}

// OperationEvent is the data of one streamed operation result.
type OperationEvent struct {
	Operation string `json:"operation"`
	Protocol  string `json:"protocol"`
	Username  string `json:"username"`
	RequestID string `json:"request_id,omitempty"`
	Matches   int    `json:"matches"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Feed fans finished pipeline operations out to stream subscribers. Observe
// never blocks, so it is safe to call on the event loop.
type Feed struct {
	mu     sync.Mutex
	subs   map[chan SSEEvent]struct{}
	closed bool
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[chan SSEEvent]struct{})}
}

// Observe publishes one result. Pass it to pipeline.WithObserver.
func (f *Feed) Observe(res pipeline.Result) {
	ev := OperationEvent{
		Operation: string(res.Op),
		Protocol:  res.Identity.ProtocolID,
		Username:  res.Identity.Username,
		RequestID: res.RequestID,
		Matches:   res.Matches,
	}
	if res.Err != nil {
		ev.Code = string(vaulterr.CodeOf(res.Err))
		ev.Error = res.Err.Error()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("encoding operation event", "error", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- SSEEvent{Event: SSEEventType(res.Op), Data: string(data)}:
		default:
			slog.Debug("operation stream subscriber is behind, dropping event", "operation", res.Op)
		}
	}
}

// Subscribe registers a subscriber. The channel is closed by cancel or by
// Close.
func (f *Feed) Subscribe() (<-chan SSEEvent, func()) {
	ch := make(chan SSEEvent, feedBuffer)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch, func() {}
	}
	f.subs[ch] = struct{}{}
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[ch]; ok {
			delete(f.subs, ch)
			close(ch)
		}
	}
}

// Subscribers returns the number of open subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close ends every subscription and rejects new ones.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}

// RegisterFeed sets the feed streamed by the operations endpoint.
func (s *Server) RegisterFeed(f *Feed) {
	s.feed = f
}

func (s *Server) registerSSERoute() {
	s.router.Get("/api/v1/operations/stream", s.handleOperationStream)

	// The stream needs raw http.ResponseWriter access, so the route is
	// served by chi and only documented through huma.
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "operation-stream",
		Method:      http.MethodGet,
		Path:        "/api/v1/operations/stream",
		Summary:     "Stream finished password operations via SSE",
		Description: "Each finished store, load or delete is sent as one event named after the operation.",
		Tags:        []string{"operations"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Server-sent event stream",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {
						Schema: &huma.Schema{
							Type:        "string",
							Description: "Server-sent event stream",
						},
					},
				},
			},
			"503": {Description: "Operation feed not configured"},
		},
	})
}

func (s *Server) handleOperationStream(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		http.Error(w, `{"error":"operation feed not configured"}`, http.StatusServiceUnavailable)
		return
	}

	events, cancel := s.feed.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				slog.Debug("operation stream closed", "error", err)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// validateEventType rejects names that would break SSE framing.
func validateEventType(t SSEEventType) bool {
	return !strings.ContainsAny(string(t), "\r\n")
}

func writeSSE(w http.ResponseWriter, ev SSEEvent) error {
	if !validateEventType(ev.Event) {
		return vaulterr.Errorf(vaulterr.CodeServerRequestInvalid, "invalid event type %q", ev.Event)
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, ev.Data)
	return err
}
