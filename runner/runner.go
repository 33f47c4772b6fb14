package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dhcgn/docparse/model"
	"github.com/dhcgn/docparse/stats"
)

type StageFunc func(context.Context) error

type stage struct {
	name string
	fn   StageFunc
}

type subscriber struct {
	name   string
	fn     func(context.Context, <-chan stats.Event) error
	events chan stats.Event
}

// Runner wires producer, sink and stats stages around a record channel.
// Stages and subscribers are registered before Start and run concurrently
// once it is called. Every subscriber receives every event.
type Runner struct {
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	records chan model.Record

	stages      []stage
	subscribers []*subscriber

	// stageCtx is set by Start and cancelled when the first stage fails.
	stageCtx context.Context

	closeRecordsOnce sync.Once
	closeEventsOnce  sync.Once
	startOnce        sync.Once
}

func New(ctx context.Context, logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		records:  make(chan model.Record, 32),
		stageCtx: ctx,
	}
}

func (r *Runner) RecordWriter() chan<- model.Record {
	return r.records
}

func (r *Runner) Records() <-chan model.Record {
	return r.records
}

// CloseRecords closes the record channel. It is safe to call more than once.
func (r *Runner) CloseRecords() {
	r.closeRecordsOnce.Do(func() {
		close(r.records)
	})
}

// EmitEvent hands evt to every subscriber. It gives up when the pipeline is
// cancelled.
func (r *Runner) EmitEvent(evt stats.Event) {
	for _, sub := range r.subscribers {
		select {
		case <-r.stageCtx.Done():
			return
		case sub.events <- evt:
		}
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.subscribers = append(r.subscribers, &subscriber{
		name:   name,
		fn:     fn,
		events: make(chan stats.Event, 128),
	})
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.stages = append(r.stages, stage{name: name, fn: fn})
}

// Start runs every stage and subscriber and blocks until all of them return.
// The first stage error cancels the remaining stages and is returned.
func (r *Runner) Start() error {
	err := errors.New("runner already started")
	r.startOnce.Do(func() {
		err = r.run()
	})
	return err
}

func (r *Runner) run() error {
	defer r.cancel()
	since := time.Now()

	var statsGroup errgroup.Group
	for _, sub := range r.subscribers {
		statsGroup.Go(func() error {
			if err := sub.fn(r.ctx, sub.events); err != nil && !errors.Is(err, context.Canceled) {
				r.cancel()
				return fmt.Errorf("%s stats: %w", sub.name, err)
			}
			return nil
		})
	}

	stageGroup, stageCtx := errgroup.WithContext(r.ctx)
	r.stageCtx = stageCtx
	for _, st := range r.stages {
		stageGroup.Go(func() error {
			if err := st.fn(stageCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s stage: %w", st.name, err)
			}
			return nil
		})
	}

	err := stageGroup.Wait()
	r.closeEvents()
	if statsErr := statsGroup.Wait(); err == nil {
		err = statsErr
	}

	duration := time.Since(since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}
	if cause := r.ctx.Err(); cause != nil {
		r.logger.Warn("pipeline interrupted", "duration", duration, "err", cause)
		return cause
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		for _, sub := range r.subscribers {
			close(sub.events)
		}
	})
}
