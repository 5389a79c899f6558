package phase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-workshop-api/internal/events"
	"github.com/noah-isme/gema-workshop-api/internal/models"
	"github.com/noah-isme/gema-workshop-api/internal/repository"
)

func newTestStore(t *testing.T) (repository.Store, *gorm.DB) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return repository.NewStore(db), db
}

func createWorkshop(t *testing.T, store repository.Store, workshop models.Workshop) models.Workshop {
	t.Helper()
	if workshop.Name == "" {
		workshop.Name = "Peer review"
	}
	if workshop.CourseID == 0 {
		workshop.CourseID = 1
	}
	require.NoError(t, store.Workshops().Create(context.Background(), &workshop))
	return workshop
}

func TestSweepSwitchesExactlyOnce(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now().UTC()
	deadline := now.Add(-time.Second)
	workshop := createWorkshop(t, store, models.Workshop{
		Phase:                 models.PhaseSubmission,
		PhaseSwitchAssessment: true,
		SubmissionEnd:         &deadline,
	})

	recorder := &events.Recorder{}
	machine := NewMachine(store, recorder, zerolog.New(io.Discard)).WithClock(func() time.Time { return now })

	first, err := machine.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, SweepReport{Checked: 1, Switched: 1}, first)

	second, err := machine.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, SweepReport{}, second)

	stored, err := store.Workshops().GetByID(context.Background(), workshop.ID)
	require.NoError(t, err)
	require.Equal(t, models.PhaseAssessment, stored.Phase)
	require.False(t, stored.PhaseSwitchAssessment)

	require.Equal(t, 1, recorder.Count(events.PhaseAutomaticallySwitched))
	require.Equal(t, []string{events.PhaseAutomaticallySwitched, events.PhaseSwitched}, recorder.Names())

	auto := recorder.Events()[0]
	previous, _ := auto.Uint("previous_phase")
	target, _ := auto.Uint("target_phase")
	require.Equal(t, uint(models.PhaseSubmission), previous)
	require.Equal(t, uint(models.PhaseAssessment), target)
}

func TestSweepLeavesIneligibleWorkshopsAlone(t *testing.T) {
	store, _ := newTestStore(t)
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []models.Workshop{
		{Name: "flag off", Phase: models.PhaseSubmission, SubmissionEnd: &past},
		{Name: "future deadline", Phase: models.PhaseSubmission, PhaseSwitchAssessment: true, SubmissionEnd: &future},
		{Name: "no deadline", Phase: models.PhaseSubmission, PhaseSwitchAssessment: true},
		{Name: "wrong phase", Phase: models.PhaseSetup, PhaseSwitchAssessment: true, SubmissionEnd: &past},
	}
	for i := range cases {
		cases[i] = createWorkshop(t, store, cases[i])
	}

	recorder := &events.Recorder{}
	machine := NewMachine(store, recorder, zerolog.New(io.Discard)).WithClock(func() time.Time { return now })

	report, err := machine.Sweep(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Switched)
	require.Empty(t, recorder.Events())

	for _, original := range cases {
		stored, err := store.Workshops().GetByID(context.Background(), original.ID)
		require.NoError(t, err)
		require.Equal(t, original.Phase, stored.Phase, original.Name)
		require.Equal(t, original.PhaseSwitchAssessment, stored.PhaseSwitchAssessment, original.Name)
	}
}

func TestSwitchAllowsAnyDirection(t *testing.T) {
	store, _ := newTestStore(t)
	workshop := createWorkshop(t, store, models.Workshop{Phase: models.PhaseEvaluation})
	recorder := &events.Recorder{}
	machine := NewMachine(store, recorder, zerolog.New(io.Discard))

	transition, err := machine.Switch(context.Background(), workshop.ID, models.PhaseSubmission, 9)
	require.NoError(t, err)
	require.True(t, transition.Changed)
	require.Equal(t, models.PhaseEvaluation, transition.Previous)

	emitted := recorder.Events()
	require.Len(t, emitted, 1)
	require.Equal(t, uint(9), emitted[0].ActorID)
	target, _ := emitted[0].Uint("target_phase")
	require.Equal(t, uint(models.PhaseSubmission), target)
}

func TestSwitchToCurrentPhaseIsNoop(t *testing.T) {
	store, _ := newTestStore(t)
	workshop := createWorkshop(t, store, models.Workshop{Phase: models.PhaseAssessment})
	recorder := &events.Recorder{}
	machine := NewMachine(store, recorder, zerolog.New(io.Discard))

	transition, err := machine.Switch(context.Background(), workshop.ID, models.PhaseAssessment, 1)
	require.NoError(t, err)
	require.False(t, transition.Changed)
	require.Empty(t, recorder.Events())
}

func TestSwitchRejectsUnknownPhaseAndWorkshop(t *testing.T) {
	store, _ := newTestStore(t)
	machine := NewMachine(store, nil, zerolog.New(io.Discard))

	_, err := machine.Switch(context.Background(), 1, models.Phase(35), 1)
	require.ErrorIs(t, err, ErrInvalidPhase)

	_, err = machine.Switch(context.Background(), 404, models.PhaseClosed, 1)
	require.ErrorIs(t, err, repository.ErrWorkshopNotFound)
}

func TestNotificationFailureKeepsPhaseChange(t *testing.T) {
	store, _ := newTestStore(t)
	workshop := createWorkshop(t, store, models.Workshop{Phase: models.PhaseSetup})
	failing := failingSink{err: errors.New("broker down")}
	machine := NewMachine(store, failing, zerolog.New(io.Discard))

	transition, err := machine.Switch(context.Background(), workshop.ID, models.PhaseSubmission, 1)
	require.NoError(t, err)
	require.True(t, transition.Changed)

	stored, err := store.Workshops().GetByID(context.Background(), workshop.ID)
	require.NoError(t, err)
	require.Equal(t, models.PhaseSubmission, stored.Phase)
}

func TestParsePhase(t *testing.T) {
	phase, err := ParsePhase("30")
	require.NoError(t, err)
	require.Equal(t, models.PhaseAssessment, phase)

	phase, err = ParsePhase("closed")
	require.NoError(t, err)
	require.Equal(t, models.PhaseClosed, phase)

	_, err = ParsePhase("15")
	require.ErrorIs(t, err, ErrInvalidPhase)
	_, err = ParsePhase("grading")
	require.ErrorIs(t, err, ErrInvalidPhase)
}

type failingSink struct{ err error }

func (f failingSink) Emit(context.Context, events.Event) error { return f.err }
