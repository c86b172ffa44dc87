package imagestore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"aoi/internal/logging"
)

// JobKind selects what the writer does with a Job.
type JobKind int

const (
	JobSave JobKind = iota
	JobCount
)

// Job is one unit of disk work.
type Job struct {
	Kind  JobKind
	Image Image

	// Serial and Date select the session for JobCount.
	Serial string
	Date   string
}

// Result reports a finished Job.
type Result struct {
	Job   Job
	Path  string
	Count int
	Err   error
	Took  time.Duration
}

// Handler observes each Result on the writer goroutine. Jobs it returns run
// next, ahead of anything still queued.
type Handler func(Result) []Job

var ErrWriterClosed = errors.New("image writer closed")

// Writer serializes all disk access on one goroutine so socket readers never
// block on I/O beyond the bounded queue, and completion counts never overlap.
type Writer struct {
	store   *Store
	handler Handler
	logger  *slog.Logger

	jobs chan Job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewWriter returns a writer with room for depth queued jobs.
func NewWriter(store *Store, depth int, handler Handler, logger *slog.Logger) *Writer {
	if depth <= 0 {
		depth = 1
	}
	if handler == nil {
		handler = func(Result) []Job { return nil }
	}
	return &Writer{
		store:   store,
		handler: handler,
		logger:  logging.NewComponentLogger(logger, "image-writer"),
		jobs:    make(chan Job, depth),
	}
}

// Start launches the writer goroutine.
func (w *Writer) Start() {
	w.wg.Add(1)
	go w.run()
}

// Enqueue schedules job, waiting for queue space until ctx is done.
func (w *Writer) Enqueue(ctx context.Context, job Job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}
	select {
	case w.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, finishes everything already queued, and waits
// for the goroutine to exit.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Writer) run() {
	defer w.wg.Done()
	ctx := context.Background()
	for job := range w.jobs {
		pending := []Job{job}
		for len(pending) > 0 {
			next := pending[0]
			pending = pending[1:]
			follow := w.handler(w.execute(ctx, next))
			pending = append(follow, pending...)
		}
	}
}

func (w *Writer) execute(ctx context.Context, job Job) (res Result) {
	res.Job = job
	start := time.Now()
	defer func() { res.Took = time.Since(start) }()
	switch job.Kind {
	case JobSave:
		res.Path, res.Err = w.store.Save(ctx, job.Image)
		if res.Err == nil {
			w.logger.Debug("image written",
				logging.String("path", res.Path),
				logging.Int("bytes", len(job.Image.Data)),
			)
		}
	case JobCount:
		res.Count, res.Err = w.store.Count(job.Serial, job.Date)
		if res.Err == nil {
			w.logger.Debug("session files counted",
				logging.String(logging.FieldSerial, job.Serial),
				logging.Int("count", res.Count),
			)
		}
	}
	return res
}
