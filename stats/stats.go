package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Stage string

const (
	StageRead    Stage = "read"
	StageFilter  Stage = "filter"
	StageAnalyze Stage = "analyze"
)

type EventType string

const (
	EventTypeScanned    EventType = "scanned"
	EventTypeFiltered   EventType = "filtered"
	EventTypeMatched    EventType = "matched"
	EventTypeGated      EventType = "gated"
	EventTypeEmpty      EventType = "empty"
	EventTypePartFailed EventType = "part_failed"
	EventTypeError      EventType = "error"
)

// Event reports what happened to one email. Rows is set for matched emails.
type Event struct {
	Stage   Stage
	Type    EventType
	EmailID string
	Rows    int
	Err     error
	Detail  string
}

type Summary struct {
	Scanned    int
	Filtered   int
	Matched    int
	Rows       int
	Gated      int
	Empty      int
	PartErrors int
	Errors     int
	LastError  error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"filtered", s.Filtered,
		"matched", s.Matched,
		"rows", s.Rows,
		"gated", s.Gated,
		"empty", s.Empty,
		"partErrors", s.PartErrors,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

// Run applies events until the channel is closed or ctx is done.
func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeMatched:
		c.summary.Matched++
		c.summary.Rows += evt.Rows
	case EventTypeGated:
		c.summary.Gated++
	case EventTypeEmpty:
		c.summary.Empty++
	case EventTypePartFailed:
		c.summary.PartErrors++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

// Reporter logs a summary line once the event stream is closed.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("scan summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
