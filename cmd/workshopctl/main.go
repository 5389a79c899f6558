// Command workshopctl runs workshop maintenance tasks outside the API server:
// migrations, one-off sweeps, allocations and grade aggregation.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-workshop-api/internal/allocation"
	"github.com/noah-isme/gema-workshop-api/internal/app"
	"github.com/noah-isme/gema-workshop-api/internal/config"
	"github.com/noah-isme/gema-workshop-api/internal/database"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "workshopctl",
		Short:        "Maintenance commands for the peer assessment workshop service",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("database-url", "", "database url (defaults to GEMA_DATABASE_URL)")
	root.PersistentFlags().Bool("quiet", false, "suppress structured logs")

	root.AddCommand(migrateCmd(), sweepCmd(), allocateCmd(), aggregateCmd())
	return root
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the workshop schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := connect(cfg)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info().Msg("schema migrated")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the automatic phase switch and scheduled allocation sweeps once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, err := build(cmd)
			if err != nil {
				return err
			}
			return container.Scheduler.RunOnce(cmd.Context())
		},
	}
}

func allocateCmd() *cobra.Command {
	settings := allocation.DefaultRandomSettings()
	var workshopID uint
	var seed int64

	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Run the random allocator for a workshop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("seed") {
				viper.Set("allocation.seed", seed)
			}
			container, err := build(cmd)
			if err != nil {
				return err
			}
			result, err := container.Allocator.ExecuteRandom(cmd.Context(), workshopID, settings, 0)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	f := cmd.Flags()
	f.UintVar(&workshopID, "workshop", 0, "workshop id")
	f.IntVar(&settings.NumOfReviews, "reviews", settings.NumOfReviews, "number of reviews")
	f.StringVar(&settings.NumPer, "per", settings.NumPer, "count reviews per submission or per reviewer")
	f.BoolVar(&settings.ExcludeSameGroup, "exclude-same-group", false, "never pair members of the same group")
	f.BoolVar(&settings.RemoveCurrent, "remove-current", false, "drop ungraded allocations first")
	f.BoolVar(&settings.AssessWithoutSubmission, "without-submission", false, "let authors without a submission review")
	f.BoolVar(&settings.AddSelfAssessment, "self", false, "add self-assessments")
	f.Int64Var(&seed, "seed", 0, "random seed for reproducible runs")
	_ = cmd.MarkFlagRequired("workshop")

	return cmd
}

func aggregateCmd() *cobra.Command {
	var workshopID uint
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Recompute submission grades and grading grades for a workshop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, err := build(cmd)
			if err != nil {
				return err
			}
			report, err := container.Evaluator.Run(cmd.Context(), workshopID, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().UintVar(&workshopID, "workshop", 0, "workshop id")
	_ = cmd.MarkFlagRequired("workshop")
	return cmd
}

// loadConfig reads the GEMA_* environment like the API server. The JWT
// secret is not needed offline.
func loadConfig(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	_ = godotenv.Load()

	v := viper.GetViper()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetDefault("jwt.secret", "workshopctl")
	if err := v.BindPFlag("database.url", cmd.Flags().Lookup("database-url")); err != nil {
		return config.Config{}, zerolog.Logger{}, err
	}

	cfg, err := config.FromViper(v)
	if err != nil {
		return config.Config{}, zerolog.Logger{}, err
	}

	var out io.Writer = cmd.ErrOrStderr()
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		out = io.Discard
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	return cfg, logger, nil
}

func connect(cfg config.Config) (*gorm.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database url must be provided")
	}
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}

func build(cmd *cobra.Command) (*app.Container, error) {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	db, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	// offline runs skip redis and nats
	return app.New(app.Options{Config: cfg, DB: db, Logger: logger}), nil
}

func printJSON(out io.Writer, value interface{}) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
