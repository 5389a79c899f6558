package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBusDispatchesInSubscriptionOrder(t *testing.T) {
	bus := NewBus(zerolog.New(io.Discard))
	var seen []string

	bus.Subscribe(PhaseSwitched, "first", func(ctx context.Context, event Event) error {
		seen = append(seen, "first:"+event.Name)
		return nil
	})
	bus.Subscribe(All, "audit", func(ctx context.Context, event Event) error {
		seen = append(seen, "audit:"+event.Name)
		return nil
	})
	bus.Subscribe(AssessmentEvaluated, "other", func(ctx context.Context, event Event) error {
		seen = append(seen, "other")
		return nil
	})

	require.NoError(t, bus.Emit(context.Background(), Event{Name: PhaseSwitched, WorkshopID: 1}))
	require.Equal(t, []string{"first:phase_switched", "audit:phase_switched"}, seen)
}

func TestBusIsolatesFailingSubscribers(t *testing.T) {
	bus := NewBus(zerolog.New(io.Discard))
	boom := errors.New("boom")
	reached := false

	bus.Subscribe(PhaseSwitched, "panics", func(ctx context.Context, event Event) error {
		panic("unexpected")
	})
	bus.Subscribe(PhaseSwitched, "fails", func(ctx context.Context, event Event) error {
		return boom
	})
	bus.Subscribe(PhaseSwitched, "healthy", func(ctx context.Context, event Event) error {
		reached = true
		require.NotEmpty(t, event.ID)
		require.False(t, event.OccurredAt.IsZero())
		return nil
	})

	err := bus.Emit(context.Background(), Event{Name: PhaseSwitched})
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	require.True(t, reached)
}

func TestFanoutContinuesPastFailures(t *testing.T) {
	recorder := &Recorder{}
	failing := sinkFunc(func(context.Context, Event) error { return errors.New("down") })

	err := Fanout{failing, nil, recorder}.Emit(context.Background(), Event{Name: GradesAggregated})
	require.Error(t, err)
	require.Equal(t, []string{GradesAggregated}, recorder.Names())
	require.Equal(t, 1, recorder.Count(GradesAggregated))

	recorder.Reset()
	require.Empty(t, recorder.Events())
}

func TestEventUintAcceptsDecodedNumbers(t *testing.T) {
	event := Event{Data: map[string]interface{}{"target": 30}}
	value, ok := event.Uint("target")
	require.True(t, ok)
	require.Equal(t, uint(30), value)

	var decoded Event
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &decoded))
	value, ok = decoded.Uint("target")
	require.True(t, ok)
	require.Equal(t, uint(30), value)

	_, ok = decoded.Uint("missing")
	require.False(t, ok)
}

func TestBrokerPublisherPublishesToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	publisher := NewBrokerPublisher(client, nil, "gema:workshop", zerolog.New(io.Discard))
	require.Equal(t, "gema:workshop:events", publisher.RedisChannel())
	require.Equal(t, "gema.workshop.events", publisher.NATSSubject())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, publisher.RedisChannel())
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, publisher.Emit(ctx, Event{ID: "evt-1", Name: PhaseSwitched, WorkshopID: 4}))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var received Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &received))
	require.Equal(t, "evt-1", received.ID)
	require.Equal(t, uint(4), received.WorkshopID)
}

type sinkFunc func(context.Context, Event) error

func (f sinkFunc) Emit(ctx context.Context, event Event) error { return f(ctx, event) }
