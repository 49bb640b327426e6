package admission

import (
	"math/rand/v2"
	"testing"

	"github.com/arzzra/sip_trial/pkg/cmdqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAdmitRespectsMax(t *testing.T) {
	c := New(2, nil)

	s1, ok := c.TryAdmit()
	require.True(t, ok)
	s2, ok := c.TryAdmit()
	require.True(t, ok)
	_, ok = c.TryAdmit()
	assert.False(t, ok, "третий слот сверх лимита")
	assert.Equal(t, 2, c.Pending())

	assert.True(t, s1.Release())
	assert.False(t, s1.Release(), "повторное освобождение не меняет счётчик")
	assert.Equal(t, 1, c.Pending())

	assert.True(t, s2.Release())
	assert.Equal(t, 0, c.Pending())
	assert.False(t, (*Slot)(nil).Release())
}

func TestPendingInvariantRandomized(t *testing.T) {
	const max = 5
	c := New(max, nil)
	rng := rand.New(rand.NewPCG(1, 2))

	var slots []*Slot
	for i := 0; i < 10000; i++ {
		switch rng.IntN(3) {
		case 0, 1:
			if s, ok := c.TryAdmit(); ok {
				slots = append(slots, s)
			}
		case 2:
			if len(slots) == 0 {
				continue
			}
			idx := rng.IntN(len(slots))
			slots[idx].Release()
			// иногда освобождаем дважды
			if rng.IntN(2) == 0 {
				slots[idx].Release()
			}
			slots = append(slots[:idx], slots[idx+1:]...)
		}

		p := c.Pending()
		require.GreaterOrEqual(t, p, 0)
		require.LessOrEqual(t, p, max)
		require.Equal(t, len(slots), p)
	}
}

func TestPumpWaitsForCapacity(t *testing.T) {
	q := cmdqueue.NewLowPriorityQueue()
	c := New(1, q)

	var started []string
	var slots []*Slot
	start := func(name string) cmdqueue.Command {
		return func() bool {
			s, ok := c.TryAdmit()
			if !ok {
				return false
			}
			slots = append(slots, s)
			started = append(started, name)
			return true
		}
	}

	q.Push(cmdqueue.LPCommand{Run: start("alice")})
	q.Push(cmdqueue.LPCommand{Run: start("bob")})

	assert.Equal(t, 1, c.Pump())
	assert.Equal(t, []string{"alice"}, started)
	assert.Equal(t, 1, q.Len(), "bob ждёт, а не отклоняется")

	assert.Equal(t, 0, c.Pump(), "при полном лимите ничего не запускается")

	slots[0].Release()
	assert.Equal(t, 1, c.Pump())
	assert.Equal(t, []string{"alice", "bob"}, started)
	assert.Equal(t, 1, c.Pending())
}

func TestPumpRetriesCommandAtHead(t *testing.T) {
	q := cmdqueue.NewLowPriorityQueue()
	c := New(3, q)

	attempts := 0
	q.Push(cmdqueue.LPCommand{Interface: 1, Run: func() bool {
		attempts++
		return attempts > 1
	}})
	q.Push(cmdqueue.LPCommand{Interface: 2, Run: func() bool { return true }})

	assert.Equal(t, 0, c.Pump())
	require.Equal(t, 2, q.Len())
	h, _ := q.Pop()
	assert.Equal(t, 1, h.Command().Interface, "повторяемая команда осталась первой")
	q.PushFront(h)

	assert.Equal(t, 2, c.Pump())
	assert.Equal(t, 0, q.Len())
}

func TestAbortQueuedDoesNotTouchCounter(t *testing.T) {
	q := cmdqueue.NewLowPriorityQueue()
	c := New(1, q)

	held, ok := c.TryAdmit()
	require.True(t, ok)

	ran := false
	h := q.Push(cmdqueue.LPCommand{Run: func() bool { ran = true; return true }})
	assert.Equal(t, 0, c.Pump())

	assert.True(t, q.Cancel(h))
	assert.Equal(t, 1, c.Pending())

	held.Release()
	assert.Equal(t, 0, c.Pump())
	assert.False(t, ran)
	assert.Equal(t, 0, c.Pending())
}

func TestResetInvalidatesSlots(t *testing.T) {
	c := New(2, nil)
	s, _ := c.TryAdmit()
	c.Reset()
	assert.Equal(t, 0, c.Pending())
	assert.False(t, s.Held())
	assert.False(t, s.Release())
	assert.Equal(t, 0, c.Pending())

	s2, ok := c.TryAdmit()
	require.True(t, ok)
	assert.True(t, s2.Held())
}

func TestPumpRecoversPanickingCommand(t *testing.T) {
	q := cmdqueue.NewLowPriorityQueue()
	c := New(2, q)
	q.Push(cmdqueue.LPCommand{Run: func() bool { panic("boom") }})
	q.Push(cmdqueue.LPCommand{Run: func() bool { return true }})

	assert.NotPanics(t, func() { assert.Equal(t, 2, c.Pump()) })
}

func TestSetMaxNotBelowPending(t *testing.T) {
	c := New(3, nil)
	slots := make([]*Slot, 0, 3)
	for range 3 {
		s, ok := c.TryAdmit()
		require.True(t, ok)
		slots = append(slots, s)
	}

	require.ErrorIs(t, c.SetMax(1), ErrMaxBelowPending)
	assert.Equal(t, 3, c.Max(), "лимит не изменился")
	assert.LessOrEqual(t, c.Pending(), c.Max())

	slots[0].Release()
	slots[1].Release()
	require.NoError(t, c.SetMax(1))
	assert.Equal(t, 1, c.Max())
	_, ok := c.TryAdmit()
	assert.False(t, ok)

	require.NoError(t, c.SetMax(0), "0 трактуется как 1")
	assert.Equal(t, 1, c.Max())
	require.NoError(t, c.SetMax(5))
	_, ok = c.TryAdmit()
	assert.True(t, ok)
	assert.Equal(t, 2, c.Pending())
}
