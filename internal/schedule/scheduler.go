package schedule

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Job is a maintenance task run on a cron spec.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler interface {
	AddJob(job Job, spec string) error
	Start(ctx context.Context)
	Stop()
}

type CronScheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	base    atomic.Pointer[context.Context]
}

func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
	}
}

// AddJob schedules job with a five field cron spec or a descriptor such as
// "@daily". An empty spec leaves the job disabled. Adding a job under a name
// that is already scheduled replaces the earlier entry.
func (c *CronScheduler) AddJob(job Job, spec string) error {
	spec = strings.TrimSpace(spec)
	logger := logutil.GetLogger(context.Background()).With(zap.String("job", job.Name()), zap.String("spec", spec))
	if spec == "" {
		logger.Info("job disabled")
		return nil
	}
	id, err := c.cron.AddJob(spec, &guardedJob{job: job, spec: spec, ctx: c.context})
	if err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return err
	}
	if old, ok := c.entries[job.Name()]; ok {
		c.cron.Remove(old)
	}
	c.entries[job.Name()] = id
	logger.Info("job scheduled")
	return nil
}

func (c *CronScheduler) Scheduled(name string) bool {
	_, ok := c.entries[name]
	return ok
}

// Next reports when the named job fires next. It is zero before Start.
func (c *CronScheduler) Next(name string) (time.Time, bool) {
	id, ok := c.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return c.cron.Entry(id).Next, true
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.base.Store(&ctx)
	c.cron.Start()
}

func (c *CronScheduler) Stop() {
	<-c.cron.Stop().Done()
}

func (c *CronScheduler) context() context.Context {
	if p := c.base.Load(); p != nil {
		return *p
	}
	return context.Background()
}

// guardedJob drops a tick while the previous run of the same job is still
// in flight.
type guardedJob struct {
	job     Job
	spec    string
	ctx     func() context.Context
	running atomic.Bool
}

func (g *guardedJob) Run() {
	ctx := g.ctx()
	logger := logutil.GetLogger(ctx).With(zap.String("job", g.job.Name()), zap.String("spec", g.spec))
	if !g.running.CompareAndSwap(false, true) {
		logger.Info("job skipped: still running")
		return
	}
	defer g.running.Store(false)

	start := time.Now()
	logger.Info("job started")
	if err := g.job.Run(ctx); err != nil {
		logger.Error("job finished", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	logger.Info("job finished", zap.Duration("duration", time.Since(start)))
}
