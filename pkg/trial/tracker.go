package trial

import (
	"context"
	"sync"
	"time"

	"github.com/arzzra/sip_trial/pkg/ua"
)

// Tracker считает события агентов и будит ожидающих
type Tracker struct {
	mu     sync.Mutex
	counts map[ua.StatusNotification]int
	last   map[int]ua.StatusNotification
	wake   chan struct{}
}

var _ ua.StatusDelegate = (*Tracker)(nil)

// NewTracker создаёт пустой Tracker
func NewTracker() *Tracker {
	return &Tracker{
		counts: make(map[ua.StatusNotification]int),
		last:   make(map[int]ua.StatusNotification),
		wake:   make(chan struct{}, 1),
	}
}

// OnStatus реализует ua.StatusDelegate
func (t *Tracker) OnStatus(index int, status ua.StatusNotification, _ time.Duration) {
	t.mu.Lock()
	t.counts[status]++
	t.last[index] = status
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Count суммарное число событий из statuses
func (t *Tracker) Count(statuses ...ua.StatusNotification) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range statuses {
		n += t.counts[s]
	}
	return n
}

// Last последнее событие агента
func (t *Tracker) Last(index int) (ua.StatusNotification, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.last[index]
	return s, ok
}

// Counts копия счётчиков
func (t *Tracker) Counts() map[ua.StatusNotification]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[ua.StatusNotification]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

// WaitCount ждёт, пока суммарное число событий из statuses не достигнет n
func (t *Tracker) WaitCount(ctx context.Context, n int, statuses ...ua.StatusNotification) error {
	for {
		if t.Count(statuses...) >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.wake:
		}
	}
}
