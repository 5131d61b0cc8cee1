package imaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/tinybatch/tinybatch/internal/logger"
)

// Dispatcher runs one batch: it enumerates the source directory,
// classifies entries, fans each eligible file out to a transform task
// over a bounded worker pool and joins all tasks before returning.
type Dispatcher interface {
	// Run processes sourceDir under op and returns the aggregate
	// Summary. Per-file failures are captured in the Summary; the error
	// return is reserved for batch-level problems such as an unreadable
	// source directory.
	Run(ctx context.Context, sourceDir string, op OperationConfig) (Summary, error)
}

// Summary aggregates one batch's outcomes.
type Summary struct {
	// Eligible counts entries dispatched to transform tasks.
	Eligible int
	// Skipped counts entries excluded by classification.
	Skipped int
	// Succeeded and Failed partition the eligible entries.
	Succeeded int
	Failed    int
	// BytesIn and BytesOut total the successful transforms.
	BytesIn  int64
	BytesOut int64
	// Outcomes holds one entry per eligible file, in completion order.
	Outcomes []Outcome
}

// ProgressEvent reports one settled transform to an optional observer.
type ProgressEvent struct {
	// Current is the number of outcomes settled so far.
	Current int
	// Total is the number of eligible files in the batch.
	Total int
	// File is the source entry name.
	File string
	// Success reports whether the file's transform completed.
	Success bool
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// MaxConcurrent bounds in-flight transforms (minimum 1).
	MaxConcurrent int
	// Preserver, when non-nil, copies metadata onto compress-mode
	// output after a successful write. Preservation failures degrade to
	// a warning, never a transform failure.
	Preserver MetadataPreserver
	// Progress, when non-nil, receives one event per settled outcome.
	// Sends are non-blocking; a full channel drops events.
	Progress chan<- ProgressEvent
}

// dispatcher implements the Dispatcher interface.
type dispatcher struct {
	service    TransformService
	resolver   Resolver
	extensions Extensions
	opts       DispatcherOptions
}

// NewDispatcher creates a Dispatcher transforming files through service.
func NewDispatcher(service TransformService, resolver Resolver, opts DispatcherOptions) Dispatcher {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &dispatcher{
		service:    service,
		resolver:   resolver,
		extensions: NewExtensions(),
		opts:       opts,
	}
}

// Run processes sourceDir under op and returns the aggregate Summary.
func (d *dispatcher) Run(ctx context.Context, sourceDir string, op OperationConfig) (Summary, error) {
	log := logger.With("batch", uuid.NewString(), "mode", op.Mode.String())

	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read source directory: %w", err)
	}

	var summary Summary
	var tasks []*task
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !d.extensions.IsEligible(name) {
			log.Info("Skipping entry", "file", name)
			summary.Skipped++
			continue
		}

		destPath, err := d.resolver.Resolve(name, op)
		if err != nil {
			// Resolution failure is per-file: record it and move on.
			summary.Outcomes = append(summary.Outcomes, Outcome{Source: name, Mode: op.Mode, Err: err})
			continue
		}

		tasks = append(tasks, &task{
			sourceName: name,
			sourcePath: filepath.Join(sourceDir, name),
			destPath:   destPath,
			op:         op,
			service:    d.service,
		})
	}

	summary.Eligible = len(tasks) + len(summary.Outcomes)
	if len(tasks) > 0 {
		log.Info("Dispatching batch", "eligible", summary.Eligible, "skipped", summary.Skipped, "concurrency", d.opts.MaxConcurrent)
		d.runTasks(ctx, log, tasks, &summary)
	}

	for _, o := range summary.Outcomes {
		if o.Success() {
			summary.Succeeded++
			summary.BytesIn += o.BytesIn
			summary.BytesOut += o.BytesOut
		} else {
			summary.Failed++
		}
	}

	log.Info("Batch complete",
		"eligible", summary.Eligible,
		"skipped", summary.Skipped,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"bytes_in", summary.BytesIn,
		"bytes_out", summary.BytesOut)
	return summary, nil
}

// runTasks fans tasks out over the worker pool and appends every
// outcome to the summary. It returns only after all tasks have settled.
func (d *dispatcher) runTasks(ctx context.Context, log *slog.Logger, tasks []*task, summary *Summary) {
	numWorkers := d.opts.MaxConcurrent
	if numWorkers > len(tasks) {
		numWorkers = len(tasks)
	}

	jobs := make(chan *task, len(tasks))
	results := make(chan Outcome, len(tasks))
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go d.worker(ctx, jobs, results, &wg)
	}

	for _, t := range tasks {
		jobs <- t
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	total := len(tasks)
	settled := 0
	for outcome := range results {
		settled++
		if outcome.Success() {
			log.Info("Transformed file", "file", outcome.Source, "dest", outcome.Dest, "bytes_in", outcome.BytesIn, "bytes_out", outcome.BytesOut)
		} else {
			log.Error("Transform failed", "file", outcome.Source, "error", outcome.Err)
		}

		if d.opts.Progress != nil {
			select {
			case d.opts.Progress <- ProgressEvent{Current: settled, Total: total, File: outcome.Source, Success: outcome.Success()}:
			default:
				log.Debug("Progress event dropped (channel full)", "file", outcome.Source)
			}
		}

		summary.Outcomes = append(summary.Outcomes, outcome)
	}
}

// worker drains the jobs channel, running one transform at a time.
func (d *dispatcher) worker(ctx context.Context, jobs <-chan *task, results chan<- Outcome, wg *sync.WaitGroup) {
	defer wg.Done()
	for t := range jobs {
		outcome := t.run(ctx)

		if outcome.Success() && t.op.Mode == ModeCompress && d.opts.Preserver != nil {
			if err := d.opts.Preserver.Preserve(t.sourcePath, t.destPath); err != nil {
				logger.Warn("Failed to preserve metadata", "file", t.sourceName, "error", err)
			}
		}

		results <- outcome
	}
}
