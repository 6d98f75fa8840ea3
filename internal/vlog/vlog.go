// Package vlog provides per-vehicle structured logging. Instead of one file
// handle per license plate, a single slog JSON handler is shared and child
// loggers are routed by a "plate" attribute, cached per plate.
package vlog

import (
	"io"
	"log/slog"
	"sync"
)

// Router hands out plate-scoped loggers backed by one shared handler.
type Router struct {
	base *slog.Logger

	mu      sync.Mutex
	loggers map[string]*slog.Logger
}

// New creates a Router writing JSON records to w.
func New(w io.Writer, level slog.Level) *Router {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &Router{
		base:    slog.New(handler).With(slog.String("service", "telemetryd")),
		loggers: make(map[string]*slog.Logger),
	}
}

// For returns the logger for a license plate. An empty plate gets the base
// logger. Loggers are cached so repeated messages for the same vehicle reuse
// one child.
func (r *Router) For(plate string) *slog.Logger {
	if plate == "" {
		return r.base
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.loggers[plate]; ok {
		return l
	}
	l := r.base.With(slog.String("plate", plate))
	r.loggers[plate] = l
	return l
}
