// Package admission ограничивает число одновременно висящих (без финального
// ответа) исходящих INVITE по всем агентам.
package admission

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arzzra/sip_trial/pkg/cmdqueue"
)

// ErrMaxBelowPending новый лимит меньше числа уже занятых мест
var ErrMaxBelowPending = errors.New("admission: max below pending")

// Controller счётчик ожидающих каналов и насос низкоприоритетной очереди.
//
// Controller принадлежит реактору: TryAdmit, Release и Pump вызываются
// из его горутины. Мьютекс защищает только чтение статистики снаружи.
type Controller struct {
	mu      sync.Mutex
	max     int
	pending int
	// epoch увеличивается при Reset, слоты прошлых эпох не уменьшают счётчик
	epoch uint64

	queue  *cmdqueue.LowPriorityQueue
	logger *slog.Logger
}

// Slot занятое место ожидающего канала. Каждая попытка вызова хранит свой
// слот, поэтому счётчик уменьшается не более одного раза на попытку.
type Slot struct {
	c     *Controller
	epoch uint64
	held  bool
}

// Option настраивает Controller
type Option func(*Controller)

// WithLogger задаёт логгер
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New создаёт Controller с лимитом max поверх очереди queue.
// max <= 0 трактуется как 1.
func New(max int, queue *cmdqueue.LowPriorityQueue, opts ...Option) *Controller {
	if max <= 0 {
		max = 1
	}
	if queue == nil {
		queue = cmdqueue.NewLowPriorityQueue()
	}
	c := &Controller{
		max:    max,
		queue:  queue,
		logger: slog.Default().With(slog.String("component", "admission")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Queue возвращает низкоприоритетную очередь контроллера
func (c *Controller) Queue() *cmdqueue.LowPriorityQueue {
	return c.queue
}

// TryAdmit занимает место, если pending < max
func (c *Controller) TryAdmit() (*Slot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending >= c.max {
		return nil, false
	}
	c.pending++
	return &Slot{c: c, epoch: c.epoch, held: true}, true
}

// Release освобождает место. Повторный вызов ничего не делает.
func (s *Slot) Release() bool {
	if s == nil || s.c == nil {
		return false
	}
	return s.c.release(s)
}

// Held сообщает, удерживается ли место
func (s *Slot) Held() bool {
	if s == nil || s.c == nil {
		return false
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return s.held && s.epoch == s.c.epoch
}

func (c *Controller) release(s *Slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !s.held {
		return false
	}
	s.held = false
	if s.epoch != c.epoch {
		return false
	}
	if c.pending == 0 {
		// не должно случаться: каждый слот уменьшает счётчик не более раза
		c.logger.Error("pending counter underflow prevented")
		return false
	}
	c.pending--
	return true
}

// Pending возвращает текущее число ожидающих каналов
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Max возвращает лимит
func (c *Controller) Max() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.max
}

// SetMax меняет лимит. Лимит ниже текущего числа занятых мест не
// применяется, лимит остаётся прежним.
func (c *Controller) SetMax(max int) error {
	if max <= 0 {
		max = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if max < c.pending {
		return fmt.Errorf("%w: max %d, pending %d", ErrMaxBelowPending, max, c.pending)
	}
	c.max = max
	return nil
}

// HasCapacity сообщает, есть ли свободное место
func (c *Controller) HasCapacity() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending < c.max
}

// Reset обнуляет счётчик на границе итераций теста.
// Слоты, выданные до Reset, больше не влияют на счётчик.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.pending = 0
	c.epoch++
	c.mu.Unlock()
}

// Pump выполняет команды из очереди, пока есть свободные места.
// Команда, вернувшая false, возвращается в начало очереди, и насос
// останавливается до следующего тика. Возвращает число выполненных команд.
func (c *Controller) Pump() int {
	executed := 0
	for c.HasCapacity() {
		h, ok := c.queue.Pop()
		if !ok {
			break
		}

		cmd := h.Command()
		if cmd.Run == nil || c.run(cmd) {
			c.queue.Finish(h)
			executed++
			continue
		}

		c.queue.PushFront(h)
		break
	}
	return executed
}

func (c *Controller) run(cmd cmdqueue.LPCommand) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("low priority command panicked",
				slog.Int("port", cmd.Port),
				slog.Int("interface", cmd.Interface),
				slog.Any("panic", rec))
			ok = true
		}
	}()
	return cmd.Run()
}
