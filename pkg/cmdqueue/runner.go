package cmdqueue

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrNotReady уведомление не принято: Runner остановлен
var ErrNotReady = errors.New("notification runner not ready")

// Notification одноразовое уведомление, перенесённое из потока движка
// в поток реактора.
type Notification func()

// runnerState состояние Runner
type runnerState int

const (
	runnerStopped runnerState = iota
	runnerReady
)

// Runner собирает уведомления, пришедшие из callback-горутин SIP движка,
// и воспроизводит их позже в горутине реактора.
//
// Notify безопасен для вызова из любой горутины и никогда не блокирует
// вызывающего дольше, чем занимает захват мьютекса очереди.
// Drain вызывается только владельцем (реактором).
type Runner struct {
	mu      sync.Mutex
	state   runnerState
	pending []Notification

	// spare переиспользуемый буфер для следующей пачки
	spare []Notification

	wake   chan struct{}
	logger *slog.Logger
}

// RunnerOption настраивает Runner
type RunnerOption func(*Runner)

// WithLogger задаёт логгер
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner создаёт Runner в остановленном состоянии
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		wake:   make(chan struct{}, 1),
		logger: slog.Default().With(slog.String("component", "cmdqueue")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start переводит Runner в состояние готовности
func (r *Runner) Start() {
	r.mu.Lock()
	r.state = runnerReady
	r.mu.Unlock()
}

// Stop прекращает приём новых уведомлений. Уже забранная Drain пачка
// выполняется до конца, оставшиеся в очереди уведомления отбрасываются.
func (r *Runner) Stop() {
	r.mu.Lock()
	dropped := len(r.pending)
	r.state = runnerStopped
	r.pending = nil
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.Debug("runner stopped, notifications dropped", slog.Int("dropped", dropped))
	}
}

// Ready сообщает, принимает ли Runner уведомления
func (r *Runner) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == runnerReady
}

// Notify ставит уведомление в очередь. Если Runner не готов, уведомление
// молча отбрасывается и возвращается false.
func (r *Runner) Notify(fn Notification) bool {
	if fn == nil {
		return false
	}

	r.mu.Lock()
	if r.state != runnerReady {
		r.mu.Unlock()
		return false
	}
	r.pending = append(r.pending, fn)
	r.mu.Unlock()

	// Сигнал реактору, повторные сигналы схлопываются
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// Wake возвращает канал, в который приходит сигнал о новых уведомлениях
func (r *Runner) Wake() <-chan struct{} {
	return r.wake
}

// Pending возвращает число ожидающих уведомлений
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Drain выполняет все накопленные уведомления в порядке постановки (FIFO)
// и возвращает их количество. Уведомления, поставленные во время Drain,
// выполнятся при следующем вызове. Сигнал Wake, относящийся к забираемой
// пачке, снимается.
func (r *Runner) Drain() int {
	select {
	case <-r.wake:
	default:
	}

	r.mu.Lock()
	batch := r.pending
	r.pending = r.spare[:0]
	r.spare = nil
	r.mu.Unlock()

	for i, fn := range batch {
		r.run(fn)
		batch[i] = nil
	}

	r.mu.Lock()
	if r.spare == nil {
		r.spare = batch[:0]
	}
	r.mu.Unlock()

	return len(batch)
}

// run выполняет уведомление, паника внутри не должна остановить реактор
func (r *Runner) run(fn Notification) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("notification panicked", slog.Any("panic", rec))
		}
	}()
	fn()
}
