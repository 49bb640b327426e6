package reactor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/arzzra/sip_trial/pkg/admission"
	"github.com/arzzra/sip_trial/pkg/cmdqueue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startReactor(t *testing.T, max int) (*Reactor, context.CancelFunc, <-chan error) {
	t.Helper()
	r := New(cmdqueue.NewRunner(), admission.New(max, nil), WithTick(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return r, cancel, done
}

func TestReactorRunsNotificationsOnWake(t *testing.T) {
	r, cancel, done := startReactor(t, 1)

	var order []int
	var mu sync.Mutex
	for i := range 5 {
		require.True(t, r.Do(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}

	// тик час: выполнение возможно только по пробуждению
	require.NoError(t, r.Wait(context.Background(), func() {}))

	mu.Lock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
	assert.False(t, r.Do(func() {}), "после остановки уведомления не принимаются")
	assert.ErrorIs(t, r.Wait(context.Background(), func() {}), cmdqueue.ErrNotReady)
}

func TestReactorPumpsAdmission(t *testing.T) {
	r, cancel, done := startReactor(t, 1)
	defer func() {
		cancel()
		<-done
	}()

	var started atomic.Int32
	var slot *admission.Slot
	call := func() bool {
		s, ok := r.Admission().TryAdmit()
		if !ok {
			return false
		}
		if slot == nil {
			slot = s
		}
		started.Add(1)
		return true
	}

	require.NoError(t, r.Wait(context.Background(), func() {
		r.Admission().Queue().Push(cmdqueue.LPCommand{Run: call})
		r.Admission().Queue().Push(cmdqueue.LPCommand{Run: call})
	}))
	require.NoError(t, r.Wait(context.Background(), func() {}))
	assert.Equal(t, int32(1), started.Load())

	require.NoError(t, r.Wait(context.Background(), func() { slot.Release() }))
	require.NoError(t, r.Wait(context.Background(), func() {}))
	assert.Equal(t, int32(2), started.Load())
	assert.Equal(t, 1, r.Admission().Pending())
}

func TestReactorTick(t *testing.T) {
	r := New(cmdqueue.NewRunner(), admission.New(1, nil), WithTick(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	var ran atomic.Bool
	require.Eventually(t, func() bool {
		r.Admission().Queue().Push(cmdqueue.LPCommand{Run: func() bool {
			ran.Store(true)
			return true
		}})
		return ran.Load()
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestWaitContextCancelled(t *testing.T) {
	r := New(cmdqueue.NewRunner(), admission.New(1, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// реактор не крутится: выполнения не будет
	assert.ErrorIs(t, r.Wait(ctx, func() {}), context.Canceled)
}

func TestWaitRightAfterRunStarts(t *testing.T) {
	for range 50 {
		r := New(cmdqueue.NewRunner(), admission.New(1, nil), WithTick(time.Hour))
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- r.Run(ctx) }()

		ran := false
		require.NoError(t, r.Wait(context.Background(), func() { ran = true }))
		assert.True(t, ran)

		cancel()
		require.NoError(t, <-done)
	}
}

func TestNotifyBeforeRunIsKept(t *testing.T) {
	r := New(cmdqueue.NewRunner(), admission.New(1, nil), WithTick(time.Hour))
	require.True(t, r.Runner().Ready())

	var ran atomic.Bool
	require.True(t, r.Do(func() { ran.Store(true) }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, ran.Load, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
