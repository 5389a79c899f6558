package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the workshop service.
type Config struct {
	AppName                 string
	AppEnv                  string
	AppPort                 string
	DatabaseURL             string
	RedisURL                string
	NATSURL                 string
	EventsChannel           string
	JWTSecret               string
	CloudinaryCloudName     string
	CloudinaryAPIKey        string
	CloudinaryAPISecret     string
	CloudinaryUploadFolder  string
	UploadMaxMB             int
	AutoSwitchSpec          string
	ScheduledAllocationSpec string
	CronLeaseTTL            time.Duration
	AllocationSeed          int64
	EvaluateOnEnter         bool
	CORSAllowOrigins        string
	WriteRateLimit          int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// UploadLimitBytes converts the configured attachment limit to bytes.
func (c Config) UploadLimitBytes() int64 {
	return int64(c.UploadMaxMB) * 1024 * 1024
}

// CloudinaryEnabled reports whether attachment storage credentials are present.
func (c Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return FromViper(v)
}

// FromViper builds the configuration from an already prepared viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	v.SetDefault("app.name", "GEMA Workshop API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.channel", "gema:workshop")
	v.SetDefault("cloudinary.folder", "gema/workshop")
	v.SetDefault("upload.max_mb", 10)
	v.SetDefault("cron.autoswitch", "@every 1m")
	v.SetDefault("cron.scheduled_allocation", "@every 5m")
	v.SetDefault("cron.lease_ttl", "50s")
	v.SetDefault("allocation.seed", 0)
	v.SetDefault("evaluation.auto_on_enter", true)
	v.SetDefault("http.cors_origins", "*")
	v.SetDefault("http.write_rate_limit", 60)

	leaseString := v.GetString("cron.lease_ttl")
	if leaseString == "" {
		leaseString = "50s"
	}

	leaseTTL, err := time.ParseDuration(leaseString)
	if err != nil {
		return Config{}, fmt.Errorf("invalid cron lease ttl: %w", err)
	}

	cfg := Config{
		AppName:                 v.GetString("app.name"),
		AppEnv:                  v.GetString("app.env"),
		AppPort:                 v.GetString("app.port"),
		DatabaseURL:             v.GetString("database.url"),
		RedisURL:                v.GetString("redis.url"),
		NATSURL:                 v.GetString("nats.url"),
		EventsChannel:           v.GetString("events.channel"),
		JWTSecret:               v.GetString("jwt.secret"),
		CloudinaryCloudName:     v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:        v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:     v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder:  v.GetString("cloudinary.folder"),
		UploadMaxMB:             v.GetInt("upload.max_mb"),
		AutoSwitchSpec:          v.GetString("cron.autoswitch"),
		ScheduledAllocationSpec: v.GetString("cron.scheduled_allocation"),
		CronLeaseTTL:            leaseTTL,
		AllocationSeed:          v.GetInt64("allocation.seed"),
		EvaluateOnEnter:         v.GetBool("evaluation.auto_on_enter"),
		CORSAllowOrigins:        v.GetString("http.cors_origins"),
		WriteRateLimit:          v.GetInt("http.write_rate_limit"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.UploadMaxMB <= 0 {
		cfg.UploadMaxMB = 10
	}

	return cfg, nil
}
