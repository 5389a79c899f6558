package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-workshop-api/internal/allocation"
	"github.com/noah-isme/gema-workshop-api/internal/phase"
)

type fakeSwitcher struct {
	calls int
	err   error
	panic bool
}

func (f *fakeSwitcher) Sweep(context.Context) (phase.SweepReport, error) {
	f.calls++
	if f.panic {
		panic("boom")
	}
	return phase.SweepReport{}, f.err
}

type fakeAllocator struct {
	calls int
	err   error
}

func (f *fakeAllocator) SweepScheduled(context.Context) (allocation.SweepReport, error) {
	f.calls++
	return allocation.SweepReport{}, f.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRunOnceRunsEveryJobAndJoinsErrors(t *testing.T) {
	switcher := &fakeSwitcher{err: errors.New("db down")}
	allocator := &fakeAllocator{}
	s := New(switcher, allocator, nil, Config{}, zerolog.Nop())

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), JobAutoSwitch)
	require.Equal(t, 1, switcher.calls)
	require.Equal(t, 1, allocator.calls)
}

func TestRunOnceRecoversPanics(t *testing.T) {
	switcher := &fakeSwitcher{panic: true}
	allocator := &fakeAllocator{}
	s := New(switcher, allocator, nil, Config{}, zerolog.Nop())

	err := s.RunOnce(context.Background())
	require.ErrorContains(t, err, "job panic")
	require.Equal(t, 1, allocator.calls)
}

func TestLeaseIsExclusiveUntilExpiry(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	first := NewLease(client, "test:lease", 10*time.Second)
	second := NewLease(client, "test:lease", 10*time.Second)

	ok, err := first.Acquire(ctx, JobScheduledAllocation)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.Acquire(ctx, JobScheduledAllocation)
	require.NoError(t, err)
	require.False(t, ok)

	holder, err := second.Holder(ctx, JobScheduledAllocation)
	require.NoError(t, err)
	require.Equal(t, first.nodeID, holder)

	mr.FastForward(11 * time.Second)

	ok, err = second.Acquire(ctx, JobScheduledAllocation)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestExecuteSkipsJobHeldByAnotherNode(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	switcher := &fakeSwitcher{}
	allocator := &fakeAllocator{}
	cfg := Config{LeasePrefix: "test:lease", LeaseTTL: time.Minute}
	s := New(switcher, allocator, client, cfg, zerolog.Nop())

	other := NewLease(client, "test:lease", time.Minute)
	ok, err := other.Acquire(ctx, JobAutoSwitch)
	require.NoError(t, err)
	require.True(t, ok)

	for _, j := range s.jobs {
		s.execute(ctx, j)
	}
	require.Equal(t, 0, switcher.calls)
	require.Equal(t, 1, allocator.calls)
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	s := New(&fakeSwitcher{}, &fakeAllocator{}, nil, Config{AutoSwitchSpec: "not a spec"}, zerolog.Nop())
	err := s.Start(context.Background())
	require.ErrorContains(t, err, JobAutoSwitch)
	s.Stop(context.Background())
}

func TestStartAndStopWithDisabledJobs(t *testing.T) {
	s := New(&fakeSwitcher{}, &fakeAllocator{}, nil, Config{AutoSwitchSpec: "@every 1h"}, zerolog.Nop())
	require.NoError(t, s.Start(context.Background()))
	require.Len(t, s.cron.Entries(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
