package utils

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluent/fluent-logger-golang/fluent"
)

// FluentConfig holds the connection settings for Fluent Bit.
type FluentConfig struct {
	Host      string
	Port      int
	TagPrefix string
	Level     string
}

// NewFluentClient connects to Fluent Bit. There is no ping: a bad address only
// shows up on the first post.
func NewFluentClient(cfg FluentConfig) (*fluent.Fluent, error) {
	if cfg.TagPrefix == "" {
		return nil, fmt.Errorf("fluent: tag prefix is required")
	}
	client, err := fluent.New(fluent.Config{
		FluentHost: cfg.Host,
		FluentPort: cfg.Port,
		TagPrefix:  cfg.TagPrefix,
		Async:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("fluent: connect: %w", err)
	}
	return client, nil
}

// poster is the part of *fluent.Fluent the handler uses.
type poster interface {
	Post(tag string, message interface{}) error
}

// FluentHandler is a slog.Handler that posts each record to Fluent Bit, tagged
// by level.
type FluentHandler struct {
	client poster
	level  slog.Level
	attrs  map[string]any
}

// NewFluentHandler wraps a fluent client as a slog.Handler.
func NewFluentHandler(client poster, level string) *FluentHandler {
	return &FluentHandler{client: client, level: ParseLevel(level), attrs: map[string]any{}}
}

func (h *FluentHandler) Enabled(_ context.Context, l slog.Level) bool { return l >= h.level }

func (h *FluentHandler) Handle(_ context.Context, r slog.Record) error {
	data := make(map[string]any, len(h.attrs)+r.NumAttrs()+3)
	for k, v := range h.attrs {
		data[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	data["level"] = r.Level.String()
	data["message"] = r.Message
	data["timestamp"] = r.Time.UTC().Format(time.RFC3339Nano)

	// A down collector must never break the pipeline.
	_ = h.client.Post(r.Level.String(), data)
	return nil
}

func (h *FluentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make(map[string]any, len(h.attrs)+len(attrs))
	for k, v := range h.attrs {
		merged[k] = v
	}
	for _, a := range attrs {
		merged[a.Key] = a.Value.Any()
	}
	return &FluentHandler{client: h.client, level: h.level, attrs: merged}
}

// WithGroup flattens groups; Fluent records are a single flat map.
func (h *FluentHandler) WithGroup(string) slog.Handler { return h }

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
