package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorsLiveOnServiceRegistry(t *testing.T) {
	before := testutil.ToFloat64(PhaseSwitches().WithLabelValues("manual", "assessment"))
	PhaseSwitches().WithLabelValues("manual", "assessment").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(PhaseSwitches().WithLabelValues("manual", "assessment")))

	count, err := testutil.GatherAndCount(Registry(), "workshop_phase_switches_total")
	require.NoError(t, err)
	require.GreaterOrEqual(t, count, 1)
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	EventsEmitted().WithLabelValues("submission_created").Inc()

	app := fiber.New()
	app.Get("/metrics", MetricsHandler())

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	require.True(t, strings.Contains(text, `workshop_events_emitted_total{event="submission_created"}`))
	require.Contains(t, text, "go_goroutines")
}
