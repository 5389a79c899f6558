package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestFromViperAppliesDefaults(t *testing.T) {
	v := viper.New()
	v.Set("jwt.secret", "secret")

	cfg, err := FromViper(v)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, "gema:workshop", cfg.EventsChannel)
	require.Equal(t, "@every 1m", cfg.AutoSwitchSpec)
	require.Equal(t, "@every 5m", cfg.ScheduledAllocationSpec)
	require.Equal(t, 50*time.Second, cfg.CronLeaseTTL)
	require.True(t, cfg.EvaluateOnEnter)
	require.Equal(t, int64(10*1024*1024), cfg.UploadLimitBytes())
	require.False(t, cfg.CloudinaryEnabled())
	require.Equal(t, "*", cfg.CORSAllowOrigins)
	require.Equal(t, 60, cfg.WriteRateLimit)
}

func TestFromViperRequiresJWTSecret(t *testing.T) {
	_, err := FromViper(viper.New())
	require.ErrorContains(t, err, "jwt secret")
}

func TestFromViperRejectsBadLeaseTTL(t *testing.T) {
	v := viper.New()
	v.Set("jwt.secret", "secret")
	v.Set("cron.lease_ttl", "soon")

	_, err := FromViper(v)
	require.ErrorContains(t, err, "lease ttl")
}

func TestFromViperReadsOverrides(t *testing.T) {
	v := viper.New()
	v.Set("jwt.secret", "secret")
	v.Set("app.port", ":9000")
	v.Set("allocation.seed", 42)
	v.Set("evaluation.auto_on_enter", false)
	v.Set("cron.autoswitch", "")
	v.Set("http.write_rate_limit", 5)

	cfg, err := FromViper(v)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.HTTPAddress())
	require.Equal(t, int64(42), cfg.AllocationSeed)
	require.False(t, cfg.EvaluateOnEnter)
	require.Empty(t, cfg.AutoSwitchSpec)
	require.Equal(t, 5, cfg.WriteRateLimit)
}
