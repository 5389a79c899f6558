// Package app assembles the workshop services so the API server and the
// operator CLI share one wiring.
package app

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-workshop-api/internal/allocation"
	"github.com/noah-isme/gema-workshop-api/internal/config"
	"github.com/noah-isme/gema-workshop-api/internal/database"
	"github.com/noah-isme/gema-workshop-api/internal/evaluation"
	"github.com/noah-isme/gema-workshop-api/internal/events"
	"github.com/noah-isme/gema-workshop-api/internal/handler"
	"github.com/noah-isme/gema-workshop-api/internal/phase"
	"github.com/noah-isme/gema-workshop-api/internal/repository"
	"github.com/noah-isme/gema-workshop-api/internal/router"
	"github.com/noah-isme/gema-workshop-api/internal/scheduler"
	"github.com/noah-isme/gema-workshop-api/internal/service"
)

// Options carries the infrastructure the container is built on. Redis, NATS
// and Storage are optional.
type Options struct {
	Config  config.Config
	DB      *gorm.DB
	Redis   *redis.Client
	NATS    *nats.Conn
	Storage service.FileStorage
	Logger  zerolog.Logger
}

// Container holds the wired workshop components.
type Container struct {
	Bus       *events.Bus
	Broker    *events.BrokerPublisher
	Machine   *phase.Machine
	Allocator *allocation.Allocator
	Evaluator *evaluation.Evaluator
	Scheduler *scheduler.Scheduler

	Workshops     service.WorkshopService
	Submissions   service.SubmissionService
	Assessments   service.AssessmentService
	Allocations   service.AllocationService
	Notifications service.NotificationService
	Activity      service.ActivityService

	logger    zerolog.Logger
	probes    map[string]handler.HealthProbe
	rateLimit int
}

// New builds the container and registers the event subscribers.
func New(opts Options) *Container {
	cfg := opts.Config
	logger := opts.Logger
	validate := validator.New(validator.WithRequiredStructEnabled())

	store := repository.NewStore(opts.DB)
	bus := events.NewBus(logger)
	participants := repository.NewParticipantRepository(opts.DB)
	caps := service.NewCapabilities(participants)

	c := &Container{
		Bus:       bus,
		Machine:   phase.NewMachine(store, bus, logger),
		Allocator: allocation.NewAllocator(store, bus, validate, logger, allocation.WithSeed(cfg.AllocationSeed)),
		Evaluator: evaluation.NewEvaluator(store, bus, validate, logger),
		logger:    logger,
		probes:    healthProbes(opts),
		rateLimit: cfg.WriteRateLimit,
	}
	c.Activity = service.NewActivityService(repository.NewActivityLogRepository(opts.DB), logger)
	c.Notifications = service.NewNotificationService(repository.NewNotificationRepository(opts.DB), participants, logger)

	var uploader service.AttachmentUploader
	if opts.Storage != nil {
		uploader = service.NewAttachmentUploader(opts.Storage, cfg.UploadMaxMB, logger)
	}

	c.Workshops = service.NewWorkshopService(store, caps, c.Machine, c.Allocator, c.Evaluator, c.Activity, validate, logger)
	c.Submissions = service.NewSubmissionService(store, caps, uploader, c.Evaluator, bus, validate, logger)
	c.Assessments = service.NewAssessmentService(store, caps, c.Evaluator, bus, validate, logger)
	c.Allocations = service.NewAllocationService(c.Allocator, caps, validate, logger)

	bus.Subscribe(events.PhaseSwitched, "allocator", c.Allocator.HandlePhaseSwitched)
	if cfg.EvaluateOnEnter {
		bus.Subscribe(events.PhaseSwitched, "evaluator", c.Evaluator.HandlePhaseSwitched)
	}
	bus.Subscribe(events.AllocationScheduledExecuted, "notifications", c.Notifications.DeliverAllocationReport)
	bus.Subscribe(events.All, "activity", c.Activity.HandleEvent)

	if opts.Redis != nil || opts.NATS != nil {
		c.Broker = events.NewBrokerPublisher(opts.Redis, opts.NATS, cfg.EventsChannel, logger)
		bus.Subscribe(events.All, "broker", c.Broker.Forward())
	}

	c.Scheduler = scheduler.New(c.Machine, c.Allocator, opts.Redis, scheduler.Config{
		AutoSwitchSpec:          cfg.AutoSwitchSpec,
		ScheduledAllocationSpec: cfg.ScheduledAllocationSpec,
		LeaseTTL:                cfg.CronLeaseTTL,
		LeasePrefix:             cfg.EventsChannel + ":lease",
	}, logger)

	return c
}

// RouterDependencies returns the HTTP handlers for the router.
func (c *Container) RouterDependencies() router.Dependencies {
	return router.Dependencies{
		WorkshopHandler:     handler.NewWorkshopHandler(c.Workshops, c.logger),
		AllocationHandler:   handler.NewAllocationHandler(c.Allocations, c.logger),
		SubmissionHandler:   handler.NewSubmissionHandler(c.Submissions, c.logger),
		AssessmentHandler:   handler.NewAssessmentHandler(c.Assessments, c.logger),
		NotificationHandler: handler.NewNotificationHandler(c.Notifications, c.logger),
		HealthProbes:        c.probes,
		RateLimit:           c.rateLimit,
	}
}

func healthProbes(opts Options) map[string]handler.HealthProbe {
	probes := map[string]handler.HealthProbe{
		"database": func(ctx context.Context) error { return database.Ping(ctx, opts.DB) },
	}
	if opts.Redis != nil {
		probes["redis"] = func(ctx context.Context) error { return opts.Redis.Ping(ctx).Err() }
	}
	if opts.NATS != nil {
		probes["nats"] = func(context.Context) error {
			if !opts.NATS.IsConnected() {
				return errors.New(opts.NATS.Status().String())
			}
			return nil
		}
	}
	return probes
}
