package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/ico-scan/analyzer"
	"github.com/dhcgn/ico-scan/config"
	"github.com/dhcgn/ico-scan/filter"
	"github.com/dhcgn/ico-scan/model"
	"github.com/dhcgn/ico-scan/stats"
)

// eventBuffer is the per-subscriber channel capacity.
const eventBuffer = 128

// Source yields the emails of one input. Each must call fn sequentially, in
// the order emails should appear in the result, and stop at the first error
// fn returns.
type Source interface {
	Name() string
	Count(ctx context.Context) (int, error)
	Each(ctx context.Context, fn func(model.Envelope) error) error
}

// Analyzer is satisfied by *analyzer.Analyzer.
type Analyzer interface {
	Analyze(raw []byte) (analyzer.Result, error)
}

type Runner struct {
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	analyzer Analyzer
	filter   *filter.Filter

	subscribers []chan stats.Event
	statsWG     sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeEventsOnce sync.Once
	since           time.Time
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		analyzer: analyzer.New(analyzer.Options{
			Exclusions: cfg.Exclusions,
			Encodings:  cfg.Encodings,
		}, logger),
		filter: f,
	}, nil
}

// SubscribeStats starts fn on its own copy of the event stream. It must be
// called before Run.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	events := make(chan stats.Event, eventBuffer)
	r.subscribers = append(r.subscribers, events)

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, events); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

// EmitEvent delivers evt to every subscriber.
func (r *Runner) EmitEvent(evt stats.Event) {
	for _, events := range r.subscribers {
		select {
		case <-r.ctx.Done():
			return
		case events <- evt:
		}
	}
}

// Run analyses every email of src and returns the rows in source order.
// Failures of single emails are logged and skipped; the returned error is
// set only when the source itself fails.
func (r *Runner) Run(src Source) ([]model.Row, error) {
	r.since = time.Now()
	r.logger.Info("scan started", "source", src.Name())

	var rows []model.Row
	err := src.Each(r.ctx, func(env model.Envelope) error {
		rows = append(rows, r.process(env)...)
		return nil
	})
	if err != nil {
		r.fail(fmt.Errorf("%s: %w", src.Name(), err))
	}

	r.closeEvents()
	r.statsWG.Wait()
	r.cancel()

	duration := time.Since(r.since)
	if err := r.failure(); err != nil {
		r.logger.Error("scan failed", "duration", duration, "err", err)
		return nil, err
	}

	r.logger.Info("scan completed", "duration", duration, "rows", len(rows))
	return rows, nil
}

func (r *Runner) process(env model.Envelope) []model.Row {
	email := env.Email
	r.EmitEvent(stats.Event{Stage: stats.StageRead, Type: stats.EventTypeScanned, EmailID: email.ID})

	if env.Err != nil {
		r.logger.Error("email could not be read", "id", email.ID, "err", env.Err)
		r.EmitEvent(stats.Event{Stage: stats.StageRead, Type: stats.EventTypeError, EmailID: email.ID, Err: env.Err})
		return nil
	}

	if !r.filter.AllowsEmail(email) {
		r.logger.Debug("email filtered", "id", email.ID)
		r.EmitEvent(stats.Event{Stage: stats.StageFilter, Type: stats.EventTypeFiltered, EmailID: email.ID})
		return nil
	}

	res, err := r.analyze(email)
	if err != nil {
		r.logger.Error("email analysis failed", "id", email.ID, "err", err)
		r.EmitEvent(stats.Event{Stage: stats.StageAnalyze, Type: stats.EventTypeError, EmailID: email.ID, Err: err})
		return nil
	}

	for _, defect := range res.Defects {
		level := slog.LevelDebug
		if errors.Is(defect.Err, analyzer.ErrMissingBoundary) {
			level = slog.LevelWarn
		}
		r.logger.Log(r.ctx, level, "mime defect tolerated", "id", email.ID, "part", defect.Path, "err", defect.Err)
	}

	for _, partErr := range res.PartErrors {
		r.logger.Error("part skipped",
			"id", email.ID,
			"part", partErr.Path,
			"contentType", partErr.ContentType,
			"filename", partErr.Filename,
			"err", partErr.Err,
		)
		r.EmitEvent(stats.Event{
			Stage:   stats.StageAnalyze,
			Type:    stats.EventTypePartFailed,
			EmailID: email.ID,
			Err:     partErr,
			Detail:  partErr.Path,
		})
	}

	switch {
	case len(res.ICOs) > 0:
		rows := make([]model.Row, 0, len(res.ICOs))
		for _, number := range res.ICOs {
			rows = append(rows, model.Row{ID: email.ID, ICO: number})
		}
		r.logger.Debug("email matched", "id", email.ID, "icos", res.ICOs)
		r.EmitEvent(stats.Event{Stage: stats.StageAnalyze, Type: stats.EventTypeMatched, EmailID: email.ID, Rows: len(rows)})
		return rows
	case res.Candidates > 0:
		r.logger.Debug("numbers found without declaration", "id", email.ID, "candidates", res.Candidates)
		r.EmitEvent(stats.Event{Stage: stats.StageAnalyze, Type: stats.EventTypeGated, EmailID: email.ID})
	default:
		r.EmitEvent(stats.Event{Stage: stats.StageAnalyze, Type: stats.EventTypeEmpty, EmailID: email.ID})
	}
	return nil
}

// analyze turns an analyzer panic into an error for this email only.
func (r *Runner) analyze(email model.Email) (res analyzer.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = analyzer.Result{}
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return r.analyzer.Analyze(email.Raw)
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		for _, events := range r.subscribers {
			close(events)
		}
	})
}

func (r *Runner) failure() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
