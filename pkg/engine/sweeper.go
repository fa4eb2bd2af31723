package engine

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/velkov/planflow/pkg/models"
)

// DelaySweeper resumes delay suspensions whose wake-at time has passed. The
// persisted wake-at is the source of truth: the sweeper holds no timers, so
// it picks up suspensions created before a restart. Losing the resume
// compare-and-set to another sweeper instance is normal and ignored.
type DelaySweeper struct {
	service  *Service
	logger   Logger
	interval time.Duration
	workers  int
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewDelaySweeper(service *Service, logger Logger, interval time.Duration, workers int) *DelaySweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if workers <= 0 {
		workers = 4
	}
	return &DelaySweeper{service: service, logger: logger, interval: interval, workers: workers}
}

// Start launches the polling loop. Due executions are fanned out to a small
// worker pool so one slow downstream action does not stall the sweep.
func (d *DelaySweeper) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	due := make(chan models.WorkflowExecution)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for exec := range due {
				d.resume(ctx, exec)
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(due)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.sweep(ctx, due)
			}
		}
	}()
}

// Stop halts the sweep and waits for in-flight resumes to finish.
func (d *DelaySweeper) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *DelaySweeper) sweep(ctx context.Context, due chan<- models.WorkflowExecution) {
	execs, err := d.service.store.ListDueDelays(d.service.now())
	if err != nil {
		d.logger.Errorf("Delay sweep failed: %v", err)
		return
	}
	for _, exec := range execs {
		select {
		case due <- exec:
		case <-ctx.Done():
			return
		}
	}
}

func (d *DelaySweeper) resume(ctx context.Context, exec models.WorkflowExecution) {
	_, err := d.service.ResumeExecution(ctx, exec.ID, exec.CurrentNodeID, map[string]interface{}{
		"delay_elapsed": true,
	})
	if err == nil {
		d.logger.Infof("Resumed delayed execution %s past node %s", exec.ID, exec.CurrentNodeID)
		return
	}
	var conflict *models.ConflictError
	var notFound *models.NotFoundError
	if errors.As(err, &conflict) || errors.As(err, &notFound) {
		// another worker or an explicit resume call got there first
		return
	}
	d.logger.Errorf("Failed to resume delayed execution %s: %v", exec.ID, err)
}
