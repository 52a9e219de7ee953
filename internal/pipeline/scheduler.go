package pipeline

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
)

// SchedulerJob runs the feature pipeline and inference on their cron
// schedules until the context is cancelled. It replaces an external cron
// setup for long-lived deployments.
type SchedulerJob struct {
	cfg       *config.Config
	pipeline  *FeaturePipelineJob
	inference *InferenceJob
}

// NewSchedulerJob wires the scheduler around the two recurring jobs.
func NewSchedulerJob(cfg *config.Config, pipeline *FeaturePipelineJob, inference *InferenceJob) *SchedulerJob {
	return &SchedulerJob{cfg: cfg, pipeline: pipeline, inference: inference}
}

// Name implements Job.
func (j *SchedulerJob) Name() string { return "scheduler" }

// Run implements Job. It blocks until the context is cancelled, then waits
// for any in-flight job to finish.
func (j *SchedulerJob) Run(ctx context.Context) error {
	loc, err := time.LoadLocation(j.cfg.MLFS.Scheduler.Timezone)
	if err != nil {
		return exception.NewPipelineError("scheduler", "invalid scheduler timezone '"+j.cfg.MLFS.Scheduler.Timezone+"'", err, false, false)
	}

	c := cron.New(cron.WithLocation(loc))

	if _, err := c.AddFunc(j.cfg.MLFS.Scheduler.FeaturePipelineCron, func() {
		j.runJob(ctx, j.pipeline)
	}); err != nil {
		return exception.NewPipelineError("scheduler", "invalid feature pipeline cron expression", err, false, false)
	}
	if _, err := c.AddFunc(j.cfg.MLFS.Scheduler.InferenceCron, func() {
		j.runJob(ctx, j.inference)
	}); err != nil {
		return exception.NewPipelineError("scheduler", "invalid inference cron expression", err, false, false)
	}

	logger.Infof("scheduler: feature pipeline at '%s', inference at '%s' (%s)",
		j.cfg.MLFS.Scheduler.FeaturePipelineCron, j.cfg.MLFS.Scheduler.InferenceCron, loc)

	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	logger.Infof("scheduler stopped")
	return nil
}

// runJob executes one scheduled job, logging instead of propagating its
// error so a failed run does not kill the schedule.
func (j *SchedulerJob) runJob(ctx context.Context, job Job) {
	logger.Infof("scheduler: starting job '%s'", job.Name())
	start := time.Now()
	if err := job.Run(ctx); err != nil {
		logger.Errorf("scheduler: job '%s' failed after %s: %v", job.Name(), time.Since(start).Round(time.Second), err)
		return
	}
	logger.Infof("scheduler: job '%s' finished in %s", job.Name(), time.Since(start).Round(time.Second))
}
