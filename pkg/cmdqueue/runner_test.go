package cmdqueue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerDrainFIFO(t *testing.T) {
	r := NewRunner()
	r.Start()

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, r.Notify(func() { got = append(got, i) }))
	}

	assert.Equal(t, 10, r.Pending())
	assert.Equal(t, 10, r.Drain())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	assert.Equal(t, 0, r.Pending())
	assert.Equal(t, 0, r.Drain())
}

func TestRunnerDropsWhenNotReady(t *testing.T) {
	r := NewRunner()

	called := false
	assert.False(t, r.Notify(func() { called = true }), "до Start уведомления отбрасываются")
	assert.Equal(t, 0, r.Drain())
	assert.False(t, called)

	r.Start()
	require.True(t, r.Notify(func() { called = true }))
	r.Stop()

	assert.False(t, r.Ready())
	assert.Equal(t, 0, r.Drain(), "после Stop очередь пуста")
	assert.False(t, called)
	assert.False(t, r.Notify(func() { called = true }))
}

func TestRunnerNotifyDuringDrainRunsNextTick(t *testing.T) {
	r := NewRunner()
	r.Start()

	var order []string
	r.Notify(func() {
		order = append(order, "first")
		r.Notify(func() { order = append(order, "nested") })
	})

	assert.Equal(t, 1, r.Drain())
	assert.Equal(t, []string{"first"}, order)
	assert.Equal(t, 1, r.Drain())
	assert.Equal(t, []string{"first", "nested"}, order)
}

func TestRunnerDrainConsumesWake(t *testing.T) {
	r := NewRunner()
	r.Start()

	r.Notify(func() {})
	r.Notify(func() {})
	assert.Len(t, r.Wake(), 1, "сигналы схлопываются")

	assert.Equal(t, 2, r.Drain())
	assert.Empty(t, r.Wake(), "после Drain сигнал не остаётся")

	// уведомление, поставленное во время Drain, оставляет сигнал
	r.Notify(func() { r.Notify(func() {}) })
	assert.Equal(t, 1, r.Drain())
	assert.Len(t, r.Wake(), 1)
	assert.Equal(t, 1, r.Drain())
	assert.Empty(t, r.Wake())
}

func TestRunnerStopDuringDrainCompletesBatch(t *testing.T) {
	r := NewRunner()
	r.Start()

	ran := 0
	r.Notify(func() { ran++; r.Stop() })
	r.Notify(func() { ran++ })

	assert.Equal(t, 2, r.Drain(), "забранная пачка выполняется полностью")
	assert.Equal(t, 2, ran)
	assert.False(t, r.Notify(func() { ran++ }))
}

func TestRunnerRecoversPanic(t *testing.T) {
	r := NewRunner()
	r.Start()

	after := false
	r.Notify(func() { panic("boom") })
	r.Notify(func() { after = true })

	assert.NotPanics(t, func() { r.Drain() })
	assert.True(t, after)
}

func TestRunnerConcurrentProducers(t *testing.T) {
	r := NewRunner()
	r.Start()

	const producers, perProducer = 8, 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				r.Notify(func() {})
			}
		}()
	}
	wg.Wait()

	select {
	case <-r.Wake():
	default:
		t.Fatal("ожидался сигнал пробуждения")
	}
	assert.Equal(t, producers*perProducer, r.Drain())
}
