// Package tracing times the stages of long operations such as a content
// reload. Spans nest through the context and are logged as one tree when the
// root ends.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bgde/vocab-platform/pkg/logger"
	"github.com/google/uuid"
)

type spanKey struct{}

type Span struct {
	Name     string
	TraceID  string
	Start    time.Time
	Duration time.Duration
	Err      error

	mu       sync.Mutex
	attrs    []any
	children []*Span
	parent   *Span
	now      func() time.Time
}

// Start opens a span under the one in ctx, or a new root span. A root span
// takes the request ID from ctx as its trace ID when there is one.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{Name: name, now: time.Now}
	if parent := FromContext(ctx); parent != nil {
		s.parent, s.TraceID, s.now = parent, parent.TraceID, parent.now
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	} else if s.TraceID = logger.RequestID(ctx); s.TraceID == "" {
		s.TraceID = uuid.NewString()
	}
	s.Start = s.now()
	return context.WithValue(ctx, spanKey{}, s), s
}

func FromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

func (s *Span) Set(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// End stops the clock. Ending a root span logs the whole tree at debug
// level, or at warn when any span failed.
func (s *Span) End(err error) {
	s.Duration = s.now().Sub(s.Start)
	s.Err = err
	if s.parent == nil {
		s.log(slog.Default(), s.failed())
	}
}

func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

func (s *Span) failed() bool {
	if s.Err != nil {
		return true
	}
	for _, c := range s.Children() {
		if c.failed() {
			return true
		}
	}
	return false
}

func (s *Span) log(l *slog.Logger, failed bool) {
	level := slog.LevelDebug
	if failed {
		level = slog.LevelWarn
	}
	s.mu.Lock()
	attrs := append([]any{"trace_id", s.TraceID, "span", s.Name, "duration_ms", s.Duration.Milliseconds()}, s.attrs...)
	s.mu.Unlock()
	if s.Err != nil {
		attrs = append(attrs, "error", s.Err)
	}
	l.Log(context.Background(), level, "span", attrs...)
	for _, c := range s.Children() {
		c.log(l.With("parent", s.Name), failed)
	}
}
