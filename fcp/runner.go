package fcp

import (
	"context"
	"fmt"
	"time"

	"github.com/fcp-performance/fcp-performance/log"
	"github.com/fcp-performance/fcp-performance/trace"
)

// Runner measures the first contentful paint of URLs one at a time, on a
// single page.
type Runner struct {
	page   Page
	logger *log.Logger
	tracer *trace.Tracer
	now    func() time.Time

	navigationTimeout  time.Duration
	observationTimeout time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithNavigationTimeout sets how long a navigation may take.
func WithNavigationTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.navigationTimeout = d }
}

// WithObservationTimeout sets how long to wait for the first contentful
// paint after navigating.
func WithObservationTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.observationTimeout = d }
}

// WithTracer traces the batch and each measurement with t.
func WithTracer(t *trace.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = t }
}

// WithClock makes the runner read the time from now.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner returns a Runner driving page.
func NewRunner(page Page, logger *log.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		page:               page,
		logger:             logger,
		tracer:             trace.NewNoopTracer(),
		now:                time.Now,
		navigationTimeout:  DefaultNavigationTimeout,
		observationTimeout: DefaultObservationTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RunBatch measures urls in order and returns one measurement per URL.
// It never fails: a URL that couldn't be measured gets an Unmeasurable
// latency, and measuring carries on with the next one. Once ctx is done,
// the remaining URLs are all Unmeasurable.
func (r *Runner) RunBatch(ctx context.Context, urls []string) []Measurement {
	ctx, span := r.tracer.TraceRun(ctx, len(urls))
	defer span.End()

	ms := make([]Measurement, 0, len(urls))
	var failed int
	for i, u := range urls {
		m := r.measure(ctx, u)
		if !m.FCP.Measured() {
			failed++
		}
		r.logger.Infof("Runner:RunBatch", "[%d/%d] url:%q fcp:%s", i+1, len(urls), u, m.FCP)
		ms = append(ms, m)
	}
	r.logger.Debugf("Runner:RunBatch", "measured %d urls, %d unmeasurable", len(urls), failed)

	return ms
}

func (r *Runner) measure(ctx context.Context, url string) (m Measurement) {
	m = Measurement{
		URL:      url,
		FCP:      Unmeasurable(),
		Datetime: FormatTimestamp(r.now()),
	}

	ctx, span := r.tracer.TraceMeasurement(ctx, url)
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("recovered from panic measuring %q: %v", url, rec)
			r.logger.Errorf("Runner:measure", "%v", err)
			trace.RecordFailure(span, err)
			m.FCP = Unmeasurable()
		}
	}()

	fcp, err := r.measureFCP(ctx, url)
	if err != nil {
		r.logger.Warnf("Runner:measure", "url:%q err:%v", url, err)
		trace.RecordFailure(span, err)
		return m
	}
	m.FCP = fcp

	return m
}

func (r *Runner) measureFCP(ctx context.Context, url string) (Latency, error) {
	if err := ctx.Err(); err != nil {
		return Unmeasurable(), fmt.Errorf("skipped: %w", err)
	}
	if err := Navigate(ctx, r.page, url, r.navigationTimeout); err != nil {
		return Unmeasurable(), err
	}

	return ObserveFirstContentfulPaint(ctx, r.page, r.observationTimeout)
}
