package tokenproxy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/abdhe/inferoxy-hub/pkg/metrics"
	"github.com/abdhe/inferoxy-hub/pkg/provider"
)

const (
	defaultReportTimeout = 5 * time.Second
	defaultQueueSize     = 64
)

// Reporter delivers outcome reports to the proxy off the user-visible
// path. Report never blocks the caller and never fails the user
// operation: delivery errors are logged and swallowed. Reports are not
// dropped outright either — on queue overflow the report is sent on a
// detached goroutine, and Close drains the queue under a deadline before
// shutdown.
type Reporter struct {
	client  *Client
	queue   chan reportJob
	timeout time.Duration
	logger  *slog.Logger

	wg sync.WaitGroup

	// mu orders enqueues against Close: a send on the queue and closing
	// the queue must never interleave.
	mu     sync.Mutex
	closed bool
}

type reportJob struct {
	handle  string
	outcome provider.Outcome
	meta    ReportMetadata
}

// ReporterConfig tunes the report queue.
type ReporterConfig struct {
	QueueSize int           // buffered jobs before overflow handling kicks in
	Timeout   time.Duration // per-report delivery deadline
	Logger    *slog.Logger
}

// NewReporter starts the background delivery worker.
func NewReporter(client *Client, cfg ReporterConfig) *Reporter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultReportTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reporter{
		client:  client,
		queue:   make(chan reportJob, cfg.QueueSize),
		timeout: cfg.Timeout,
		logger:  logger.With("component", "reporter"),
	}

	r.wg.Add(1)
	go r.run()
	return r
}

// Report enqueues one outcome report for the given credential handle.
// Exactly one report is expected per terminal call attempt.
func (r *Reporter) Report(cred Credential, outcome provider.Outcome, meta ReportMetadata) {
	job := reportJob{handle: cred.ID, outcome: outcome, meta: meta}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		// Shutdown race: deliver inline so the report is still attempted.
		r.deliver(job)
		return
	}

	select {
	case r.queue <- job:
		r.mu.Unlock()
		return
	default:
	}

	// Queue full. Deliver on a detached goroutine rather than drop. The
	// Add happens under mu, before Close can start waiting.
	r.wg.Add(1)
	r.mu.Unlock()
	r.logger.Warn("report queue full, sending inline", "token_id", job.handle)
	go func() {
		defer r.wg.Done()
		r.deliver(job)
	}()
}

func (r *Reporter) run() {
	defer r.wg.Done()
	for job := range r.queue {
		r.deliver(job)
	}
}

func (r *Reporter) deliver(job reportJob) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.client.SendReport(ctx, job.handle, job.outcome, job.meta); err != nil {
		// Best-effort: the proxy's bookkeeping degrades, the user call
		// does not.
		metrics.ReportsTotal.WithLabelValues("error").Inc()
		r.logger.Warn("outcome report failed", "token_id", job.handle, "outcome", string(job.outcome), "error", err)
		return
	}
	metrics.ReportsTotal.WithLabelValues("delivered").Inc()
}

// Close stops accepting new reports and drains the queue. It returns when
// all pending reports were attempted or ctx expires.
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
