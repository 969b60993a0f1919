package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"levelkit/core"
)

// Sink posts domain events to configured HTTP endpoints so that collaborators
// can announce awards and reclaims in the event's log channel.
// It is synchronous for determinism; register it on an async bus when
// endpoints may be slow.
type Sink struct {
	client    *http.Client
	endpoints []string
	types     map[core.EventType]struct{}
	logger    *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithEventTypes restricts delivery to the given event types.
func WithEventTypes(types ...core.EventType) Option {
	return func(s *Sink) {
		s.types = make(map[core.EventType]struct{}, len(types))
		for _, t := range types {
			s.types[t] = struct{}{}
		}
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{Timeout: 2 * time.Second},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// OnEvent has the event bus handler signature. Delivery errors are logged.
func (s *Sink) OnEvent(ctx context.Context, e core.Event) {
	if err := s.Deliver(ctx, e); err != nil {
		s.logger.Warn("webhook delivery failed", "event", e.Type, "community", e.Community, "error", err)
	}
}

// Deliver posts the event JSON to every endpoint and joins the failures.
func (s *Sink) Deliver(ctx context.Context, e core.Event) error {
	if len(s.endpoints) == 0 {
		return nil
	}
	if s.types != nil {
		if _, ok := s.types[e.Type]; !ok {
			return nil
		}
	}
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var errs []error
	for _, ep := range s.endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep, bytes.NewReader(body))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Levelkit-Event", string(e.Type))
		resp, err := s.client.Do(req)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 {
			errs = append(errs, fmt.Errorf("%s responded %d", ep, resp.StatusCode))
		}
	}
	return errors.Join(errs...)
}
