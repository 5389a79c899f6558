// Package scheduler drives the time-based workshop sweeps: the automatic
// submission to assessment switch and the scheduled allocations.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-workshop-api/internal/allocation"
	"github.com/noah-isme/gema-workshop-api/internal/phase"
)

// Job names.
const (
	JobAutoSwitch          = "phase_auto_switch"
	JobScheduledAllocation = "scheduled_allocation"
)

// AutoSwitcher sweeps workshops that are due for the automatic phase switch.
type AutoSwitcher interface {
	Sweep(ctx context.Context) (phase.SweepReport, error)
}

// ScheduledAllocator sweeps enabled scheduled allocations.
type ScheduledAllocator interface {
	SweepScheduled(ctx context.Context) (allocation.SweepReport, error)
}

// Config holds the cron specs and the lease duration.
type Config struct {
	AutoSwitchSpec          string
	ScheduledAllocationSpec string
	LeaseTTL                time.Duration
	LeasePrefix             string
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

// Scheduler runs the sweeps on a cron schedule. When Redis is configured a
// lease makes sure only one node runs a given job per tick.
type Scheduler struct {
	cron   *cron.Cron
	lease  *Lease
	jobs   []job
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a scheduler. redisClient may be nil.
func New(switcher AutoSwitcher, allocator ScheduledAllocator, redisClient *redis.Client, cfg Config, logger zerolog.Logger) *Scheduler {
	log := logger.With().Str("component", "scheduler").Logger()
	s := &Scheduler{
		logger: log,
		cron: cron.New(
			cron.WithLogger(cronLogger{logger: log}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: log})),
		),
	}
	if redisClient != nil {
		s.lease = NewLease(redisClient, cfg.LeasePrefix, cfg.LeaseTTL)
	}

	s.jobs = []job{
		{
			name: JobAutoSwitch,
			spec: cfg.AutoSwitchSpec,
			run: func(ctx context.Context) error {
				_, err := switcher.Sweep(ctx)
				return err
			},
		},
		{
			name: JobScheduledAllocation,
			spec: cfg.ScheduledAllocationSpec,
			run: func(ctx context.Context) error {
				_, err := allocator.SweepScheduled(ctx)
				return err
			},
		},
	}
	return s
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		j := j
		if j.spec == "" {
			s.logger.Info().Str("job", j.name).Msg("job disabled")
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, func() { s.execute(s.ctx, j) }); err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
		s.logger.Info().Str("job", j.name).Str("spec", j.spec).Msg("job scheduled")
	}
	s.cron.Start()
	return nil
}

// Stop waits for running jobs to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cancel != nil {
		defer s.cancel()
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("scheduler stop timed out")
	}
}

// RunOnce executes every job immediately, ignoring the lease.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, j := range s.jobs {
		if err := s.run(ctx, j); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errors.Join(errs...)
}

// execute is the cron entry point: it takes the lease, runs the job and only
// logs failures.
func (s *Scheduler) execute(ctx context.Context, j job) {
	if s.lease != nil {
		acquired, err := s.lease.Acquire(ctx, j.name)
		if err != nil {
			s.logger.Warn().Err(err).Str("job", j.name).Msg("lease unavailable, running without it")
		} else if !acquired {
			s.logger.Debug().Str("job", j.name).Msg("job held by another node")
			return
		}
	}
	if err := s.run(ctx, j); err != nil {
		s.logger.Error().Err(err).Str("job", j.name).Msg("scheduled job failed")
	}
}

func (s *Scheduler) run(ctx context.Context, j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return j.run(ctx)
}

// Lease is a Redis SET NX PX lock keyed per job.
type Lease struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	nodeID string
}

// NewLease constructs a lease helper.
func NewLease(client *redis.Client, prefix string, ttl time.Duration) *Lease {
	if prefix == "" {
		prefix = "gema:workshop:lease"
	}
	if ttl <= 0 {
		ttl = 50 * time.Second
	}
	return &Lease{client: client, prefix: prefix, ttl: ttl, nodeID: uuid.NewString()}
}

// Acquire reports whether this node now holds the lease for the job.
func (l *Lease) Acquire(ctx context.Context, name string) (bool, error) {
	return l.client.SetNX(ctx, l.key(name), l.nodeID, l.ttl).Result()
}

// Holder returns the node currently holding the lease, or "" when free.
func (l *Lease) Holder(ctx context.Context, name string) (string, error) {
	holder, err := l.client.Get(ctx, l.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return holder, err
}

func (l *Lease) key(name string) string {
	return l.prefix + ":" + name
}

type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
