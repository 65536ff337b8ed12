// Package dispatch runs fire-and-forget work on a bounded pool of background workers.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"notification-service/internal/common/logger"
	"notification-service/internal/common/metrics"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

var (
	ErrQueueFull         = errors.New("dispatch queue full")
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

type Config struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// Task is one unit of background work. Fields are attached to the failure log.
type Task struct {
	Name   string
	Fields map[string]interface{}
	Run    func(ctx context.Context) error
}

type Dispatcher struct {
	cfg    Config
	logger logger.Logger
	tasks  chan Task
	quit   chan struct{}

	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
	wg       conc.WaitGroup
}

func New(cfg Config, log logger.Logger) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}

	d := &Dispatcher{
		cfg:    cfg,
		logger: logger.ForComponent(log, "dispatcher"),
		tasks:  make(chan Task, cfg.QueueSize),
		quit:   make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Go(d.work)
	}

	d.logger.Info("dispatcher started", map[string]interface{}{
		"workers":   cfg.Workers,
		"queueSize": cfg.QueueSize,
	})
	return d
}

// Submit enqueues t. It blocks while the queue is full and gives up with ErrQueueFull
// when ctx is done, or ErrDispatcherStopped once Stop has been called.
func (d *Dispatcher) Submit(ctx context.Context, t Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		metrics.DispatchTasks.WithLabelValues("rejected").Inc()
		return ErrDispatcherStopped
	}

	select {
	case d.tasks <- t:
		metrics.DispatchQueueDepth.Set(float64(len(d.tasks)))
		return nil
	case <-ctx.Done():
		metrics.DispatchTasks.WithLabelValues("rejected").Inc()
		return ErrQueueFull
	case <-d.quit:
		metrics.DispatchTasks.WithLabelValues("rejected").Inc()
		return ErrDispatcherStopped
	}
}

// Stop refuses new tasks, lets the workers drain what is queued and waits for them
// until ctx is done.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		close(d.quit)

		d.mu.Lock()
		d.stopped = true
		close(d.tasks)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped", nil)
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher stop timed out", map[string]interface{}{"pending": len(d.tasks)})
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	for t := range d.tasks {
		metrics.DispatchQueueDepth.Set(float64(len(d.tasks)))
		d.run(t)
	}
}

func (d *Dispatcher) run(t Task) {
	ctx := context.Background()
	if d.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.TaskTimeout)
		defer cancel()
	}

	var (
		pc  panics.Catcher
		err error
	)
	pc.Try(func() { err = t.Run(ctx) })

	outcome := "succeeded"
	if r := pc.Recovered(); r != nil {
		outcome = "panicked"
		err = r.AsError()
	} else if err != nil {
		outcome = "failed"
	}
	metrics.DispatchTasks.WithLabelValues(outcome).Inc()

	if err != nil {
		fields := map[string]interface{}{
			"task":    t.Name,
			"outcome": outcome,
			"error":   err,
		}
		for k, v := range t.Fields {
			fields[k] = v
		}
		d.logger.Error("background task failed", fields)
	}
}
