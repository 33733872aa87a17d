// Package scheduler fires workflow runs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-indexer/internal/indexer"
	"github.com/JakeFAU/sitemap-indexer/internal/store"
)

// Launcher starts a run.
type Launcher interface {
	Launch(ctx context.Context, trigger string) (store.Run, error)
}

// Scheduler launches a run on every tick of a standard five-field cron spec.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	launcher Launcher
	logger   *zap.Logger

	mu  sync.Mutex
	ctx context.Context
}

// New parses spec and registers the launch job.
func New(spec string, launcher Launcher, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	cronLogger := zapCronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		schedule: schedule,
		launcher: launcher,
		logger:   logger,
		ctx:      context.Background(),
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.fire))
	return s, nil
}

// Start begins firing in the background until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Time("next_run", s.Next(time.Now())))
	go func() {
		<-ctx.Done()
		<-s.cron.Stop().Done()
	}()
}

// Next reports the first tick after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	run, err := s.launcher.Launch(ctx, indexer.TriggerSchedule)
	if err != nil {
		s.logger.Error("scheduled run not started", zap.Error(err))
		return
	}
	s.logger.Info("scheduled run queued", zap.String("run_id", run.ID))
}

// zapCronLogger adapts zap to cron.Logger. Cron's info output is per tick, so
// it is logged at debug.
type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
