package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-workshop-api/internal/app"
	"github.com/noah-isme/gema-workshop-api/internal/config"
	"github.com/noah-isme/gema-workshop-api/internal/database"
	"github.com/noah-isme/gema-workshop-api/internal/middleware"
	"github.com/noah-isme/gema-workshop-api/internal/router"
	"github.com/noah-isme/gema-workshop-api/internal/service"
	cloud "github.com/noah-isme/gema-workshop-api/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("app", cfg.AppName).Logger()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis disabled: cron lease and event fan-out are local only")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.AppName))
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
	}

	var storage service.FileStorage
	if cfg.CloudinaryEnabled() {
		attachments, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			log.Fatalf("failed to create cloudinary client: %v", err)
		}
		storage = attachments
	} else {
		logger.Warn().Msg("cloudinary disabled: submission attachments will be rejected")
	}

	container := app.New(app.Options{
		Config:  cfg,
		DB:      db,
		Redis:   redisClient,
		NATS:    natsConn,
		Storage: storage,
		Logger:  logger,
	})

	server := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    int(cfg.UploadLimitBytes()) + 1024*1024,
	})

	middleware.Register(server, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSAllowOrigins})
	deps := container.RouterDependencies()
	deps.JWTMiddleware = middleware.JWTProtected(cfg.JWTSecret)
	router.Register(server, cfg, deps)

	if err := container.Scheduler.Start(context.Background()); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	go func() {
		if err := server.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(server, container)
}

func waitForShutdown(server *fiber.App, container *app.Container) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	container.Scheduler.Stop(ctx)

	if err := server.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
