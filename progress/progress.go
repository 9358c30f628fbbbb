package progress

import (
	"context"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/ico-scan/stats"
)

// maxTitleID is the longest email id shown in the bar title.
const maxTitleID = 40

// Bar shows scan progress on the terminal.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar for total emails. The bar is only drawn at the
// info log level, since debug output would interleave with it.
func New(total int, logLevel string, disabled bool) *Bar {
	bar := &Bar{
		total:   total,
		enabled: !disabled && logLevel == "info" && total > 0,
	}

	if bar.enabled {
		pterm.Info.Printf("Emails to scan: %d\n", total)
		pterm.Println()

		pb, err := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Scanning emails").
			Start()
		if err != nil {
			bar.enabled = false
			return bar
		}
		bar.pb = pb
	}

	return bar
}

// Update advances the bar for scanned emails and prints failures above it.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.pb.Increment()
		if evt.EmailID != "" {
			b.pb.UpdateTitle("Scanning: " + shorten(evt.EmailID))
		}
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("%s: %v\n", evt.EmailID, evt.Err)
		}
	case stats.EventTypePartFailed:
		if evt.Err != nil {
			pterm.Warning.Printf("%s: %v\n", evt.EmailID, evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
}

// Subscriber feeds the bar from an event stream and stops it when the stream
// ends.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

func shorten(id string) string {
	runes := []rune(id)
	if len(runes) <= maxTitleID {
		return id
	}
	return string(runes[:maxTitleID-3]) + "..."
}

// Reporter prints a summary section once the event stream ends.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	started   time.Time
	done      chan struct{}
}

// NewReporter subscribes the bar and a summary collector to stream. It
// returns nil when the bar is disabled; Print and Summary accept a nil
// receiver.
func NewReporter(stream stats.EventStream, bar *Bar) *Reporter {
	if bar == nil || !bar.enabled {
		return nil
	}

	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		started:   time.Now(),
		done:      make(chan struct{}),
	}
	stream.SubscribeStats("progress-bar", bar.Subscriber)
	stream.SubscribeStats("progress-stats", reporter.collectStats)
	return reporter
}

func (r *Reporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	defer close(r.done)
	r.collector.Run(ctx, events)
	return nil
}

// Print waits for the event stream to end and prints the summary.
func (r *Reporter) Print(outputPath string) {
	if r == nil {
		return
	}
	<-r.done

	summary := r.collector.Snapshot()
	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	pterm.Info.Printf("Duration: %v\n", time.Since(r.started).Round(time.Millisecond))
	pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
	if summary.Filtered > 0 {
		pterm.Info.Printf("Filtered: %d\n", summary.Filtered)
	}
	pterm.Info.Printf("With declaration and IČO: %d\n", summary.Matched)
	pterm.Info.Printf("IČO without declaration: %d\n", summary.Gated)
	pterm.Info.Printf("Skipped parts: %d\n", summary.PartErrors)
	pterm.Info.Printf("Failed emails: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
	pterm.Success.Printf("%d rows written to %s\n", summary.Rows, outputPath)
}

func (r *Reporter) Summary() stats.Summary {
	if r == nil {
		return stats.Summary{}
	}
	return r.collector.Snapshot()
}
