package libroutine_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/medstay/inbox/libroutine"
	"github.com/stretchr/testify/require"
)

func TestUnit_Group_Singleton(t *testing.T) {
	require.Same(t, libroutine.GetGroup(), libroutine.GetGroup())
}

func TestUnit_Group_StartLoopOncePerKey(t *testing.T) {
	group := libroutine.NewGroup()
	var calls atomic.Int32
	cfg := func() *libroutine.LoopConfig {
		return &libroutine.LoopConfig{
			Key:          "presence:nurse.ana",
			Threshold:    1,
			ResetTimeout: time.Second,
			Interval:     time.Hour,
			Operation: func(ctx context.Context) error {
				calls.Add(1)
				return nil
			},
		}
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			group.StartLoop(t.Context(), cfg())
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 1, calls.Load())
	require.True(t, group.IsLoopActive("presence:nurse.ana"))
}

func TestUnit_Group_KeepsFirstParameters(t *testing.T) {
	group := libroutine.NewGroup()
	group.StartLoop(t.Context(), &libroutine.LoopConfig{
		Key: "k", Threshold: 2, ResetTimeout: 100 * time.Millisecond, Interval: time.Hour, Operation: passing,
	})
	group.StartLoop(t.Context(), &libroutine.LoopConfig{
		Key: "k", Threshold: 5, ResetTimeout: time.Second, Interval: time.Hour, Operation: passing,
	})

	rm := group.GetManager("k")
	require.NotNil(t, rm)
	require.Equal(t, 2, rm.GetThreshold())
	require.Equal(t, 100*time.Millisecond, rm.GetResetTimeout())
	require.Nil(t, group.GetManager("unknown"))
}

func TestUnit_Group_CancelStopsLoop(t *testing.T) {
	group := libroutine.NewGroup()
	ctx, cancel := context.WithCancel(context.Background())
	group.StartLoop(ctx, &libroutine.LoopConfig{
		Key: "k", Threshold: 1, ResetTimeout: time.Second, Interval: 10 * time.Millisecond, Operation: passing,
	})
	require.True(t, group.IsLoopActive("k"))

	cancel()
	require.Eventually(t, func() bool { return !group.IsLoopActive("k") }, time.Second, 5*time.Millisecond)
	group.ForceUpdate("k")
}

func TestUnit_Group_ForceUpdateRunsProbe(t *testing.T) {
	group := libroutine.NewGroup()
	var calls atomic.Int32
	errs := make(chan error, 8)
	group.StartLoop(t.Context(), &libroutine.LoopConfig{
		Key:          "k",
		Threshold:    1,
		ResetTimeout: 30 * time.Millisecond,
		Interval:     time.Hour,
		Operation: func(ctx context.Context) error {
			if calls.Add(1) == 1 {
				return errBoom
			}
			return nil
		},
		ErrHandler: func(err error) { errs <- err },
	})

	require.ErrorIs(t, <-errs, errBoom)
	rm := group.GetManager("k")
	require.Equal(t, libroutine.Open, rm.GetState())

	require.Eventually(t, func() bool { return rm.GetState() == libroutine.HalfOpen }, time.Second, 5*time.Millisecond)
	group.ForceUpdate("k")
	require.Eventually(t, func() bool { return rm.GetState() == libroutine.Closed }, time.Second, 5*time.Millisecond)
}
