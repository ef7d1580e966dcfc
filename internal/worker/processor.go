// Package worker contiene el pool que ejecuta operaciones del bridge encoladas por el servidor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sourcegraph/conc"

	"github.com/adcondev/printer-bridge/internal/bridge"
	bridgeerrors "github.com/adcondev/printer-bridge/internal/bridge/errors"
	"github.com/adcondev/printer-bridge/internal/printer"
	"github.com/adcondev/printer-bridge/internal/server"
)

// Config holds worker configuration
type Config struct {
	Workers int // Number of jobs executed concurrently
}

// Executor runs one bridge operation.
type Executor interface {
	Execute(ctx context.Context, rec printer.Record, op bridge.Operation, params bridge.Params) (*bridge.Outcome, error)
}

// Resolver maps printer ids to registry records.
type Resolver interface {
	Lookup(id string) (printer.Record, error)
}

// ClientNotifier interface for sending results back to clients
type ClientNotifier interface {
	NotifyClient(conn *websocket.Conn, response server.Response) error
}

// Worker consumes bridge jobs from the queue with a fixed number of goroutines
type Worker struct {
	jobQueue      <-chan *server.Job
	notifier      ClientNotifier
	executor      Executor
	resolver      Resolver
	config        Config
	ctx           context.Context
	cancel        context.CancelFunc
	wg            conc.WaitGroup
	notifyWg      sync.WaitGroup
	mu            sync.Mutex
	isRunning     bool
	active        int
	jobsProcessed int64
	jobsFailed    int64
	lastJobTime   time.Time
}

// NewWorker creates a new worker pool
func NewWorker(jobQueue <-chan *server.Job, notifier ClientNotifier, executor Executor, resolver Resolver, config Config) *Worker {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Worker{
		jobQueue: jobQueue,
		notifier: notifier,
		executor: executor,
		resolver: resolver,
		config:   config,
	}
}

// Start begins the worker goroutines
func (w *Worker) Start() {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	for i := 0; i < w.config.Workers; i++ {
		w.wg.Go(w.run)
	}

	log.Printf("[WORKER] ✅ Worker pool started (%d workers)", w.config.Workers)
}

// Stop cancels in-flight operations and waits for every worker to exit
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return
	}
	w.isRunning = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	w.notifyWg.Wait()

	stats := w.Stats()
	log.Printf("[WORKER] 🛑 Worker pool stopped (processed: %d, failed: %d)", stats.JobsProcessed, stats.JobsFailed)
}

// run is the loop of one worker goroutine
func (w *Worker) run() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case job, ok := <-w.jobQueue:
			if !ok {
				log.Println("[WORKER] 📴 Job channel closed, exiting")
				return
			}
			w.processJob(job)
		}
	}
}

// processJob handles a single bridge job
func (w *Worker) processJob(job *server.Job) {
	startTime := time.Now()
	log.Printf("[WORKER] 🔄 Processing job: %s (%s -> %s)", job.ID, job.Operation, job.PrinterID)

	w.mu.Lock()
	w.active++
	w.mu.Unlock()

	outcome, err := w.execute(job)
	duration := time.Since(startTime)

	w.mu.Lock()
	w.active--
	w.lastJobTime = time.Now()
	if err != nil {
		w.jobsFailed++
	} else {
		w.jobsProcessed++
	}
	w.mu.Unlock()

	var response server.Response
	if err != nil {
		log.Printf("[WORKER] ❌ Job %s FAILED after %v: %v", job.ID, duration, err)
		response = failureResponse(job.ID, err)
	} else {
		log.Printf("[WORKER] ✅ Job %s completed in %v", job.ID, duration)
		response = server.Response{
			Tipo:    "result",
			ID:      job.ID,
			Status:  "success",
			Mensaje: fmt.Sprintf("%s completed in %v", job.Operation, duration.Round(time.Millisecond)),
			Datos:   outcome,
		}
	}

	// Notify client (async to not block worker loop)
	if job.ClientConn != nil && w.notifier != nil {
		w.notifyWg.Add(1)
		go func() {
			defer w.notifyWg.Done()
			if err := w.notifier.NotifyClient(job.ClientConn, response); err != nil {
				log.Printf("[WORKER] ⚠️ Failed to notify client for job %s: %v", job.ID, err)
			}
		}()
	}
}

// execute resolves the printer and runs the operation
func (w *Worker) execute(job *server.Job) (outcome *bridge.Outcome, err error) {
	// Capturar panics y convertirlos en errores
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered in execute: %v", r)
			log.Printf("[WORKER] 💥 Panic in job %s: %v\nStack: %s", job.ID, r, debug.Stack())
		}
	}()

	if w.resolver == nil || w.executor == nil {
		return nil, errors.New("worker not wired to a bridge")
	}

	rec, err := w.resolver.Lookup(job.PrinterID)
	if err != nil {
		return nil, err
	}

	return w.executor.Execute(w.ctx, rec, job.Operation, job.Params)
}

// failureResponse carries the bridge error kind next to the user message
func failureResponse(jobID string, err error) server.Response {
	response := server.Response{
		Tipo:    "result",
		ID:      jobID,
		Status:  "error",
		Mensaje: bridgeerrors.UserMessage(err),
	}

	var be *bridgeerrors.Error
	if errors.As(err, &be) {
		response.Kind = string(be.Kind)
		response.Datos = be
	}
	return response
}

// Stats returns current worker statistics
func (w *Worker) Stats() Statistics {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Statistics{
		IsRunning:     w.isRunning,
		Workers:       w.config.Workers,
		Active:        w.active,
		JobsProcessed: w.jobsProcessed,
		JobsFailed:    w.jobsFailed,
		LastJobTime:   w.lastJobTime,
	}
}

// Statistics holds worker runtime statistics
type Statistics struct {
	IsRunning     bool      `json:"is_running"`
	Workers       int       `json:"workers"`
	Active        int       `json:"active"`
	JobsProcessed int64     `json:"jobs_processed"`
	JobsFailed    int64     `json:"jobs_failed"`
	LastJobTime   time.Time `json:"last_job_time,omitempty"`
}
