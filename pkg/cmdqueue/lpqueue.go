package cmdqueue

import (
	"container/list"
	"slices"
	"sync"
)

// Command отложенная низкоприоритетная команда. Возвращает false, если
// выполнить её сейчас нельзя и её нужно повторить позже.
type Command func() bool

// LPCommand низкоприоритетная команда с маршрутной информацией.
// Port и Interface используются для выборочной очистки очереди при
// отключении интерфейса.
type LPCommand struct {
	Port      int
	Interface int
	Run       Command
}

// Handle ссылка на команду в очереди
type Handle struct {
	cmd  LPCommand
	elem *list.Element
	// done выставляется, когда команда покинула очередь навсегда
	done bool
}

// Command возвращает команду
func (h *Handle) Command() LPCommand {
	return h.cmd
}

// LowPriorityQueue очередь низкоприоритетных команд.
// Производители (в том числе горутины движка) защищены мьютексом очереди,
// потребитель один: реактор.
type LowPriorityQueue struct {
	mu    sync.Mutex
	items *list.List
}

// NewLowPriorityQueue создаёт пустую очередь
func NewLowPriorityQueue() *LowPriorityQueue {
	return &LowPriorityQueue{items: list.New()}
}

// Push добавляет команду в конец очереди
func (q *LowPriorityQueue) Push(cmd LPCommand) *Handle {
	h := &Handle{cmd: cmd}
	q.mu.Lock()
	h.elem = q.items.PushBack(h)
	q.mu.Unlock()
	return h
}

// PushFront возвращает извлечённую команду в начало очереди (повтор)
func (q *LowPriorityQueue) PushFront(h *Handle) {
	if h == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if h.elem != nil || h.done {
		return
	}
	h.elem = q.items.PushFront(h)
}

// Pop извлекает команду из начала очереди
func (q *LowPriorityQueue) Pop() (*Handle, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.items.Front()
	if front == nil {
		return nil, false
	}
	h := q.items.Remove(front).(*Handle)
	h.elem = nil
	return h, true
}

// Finish помечает извлечённую команду как выполненную окончательно
func (q *LowPriorityQueue) Finish(h *Handle) {
	if h == nil {
		return
	}
	q.mu.Lock()
	h.done = true
	q.mu.Unlock()
}

// Cancel удаляет команду из очереди, не выполняя её.
// Возвращает false, если команды в очереди уже нет.
func (q *LowPriorityQueue) Cancel(h *Handle) bool {
	if h == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if h.elem == nil {
		return false
	}
	q.items.Remove(h.elem)
	h.elem = nil
	h.done = true
	return true
}

// Queued сообщает, стоит ли команда в очереди
func (q *LowPriorityQueue) Queued(h *Handle) bool {
	if h == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return h.elem != nil
}

// Purge удаляет без выполнения все команды, у которых совпадает порт и
// индекс интерфейса входит в disabled. Возвращает число удалённых команд.
//
// Индексы интерфейсов считаются уникальными в пределах порта.
func (q *LowPriorityQueue) Purge(port int, disabled []int) int {
	if len(disabled) == 0 {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	purged := 0
	for e := q.items.Front(); e != nil; {
		next := e.Next()
		h := e.Value.(*Handle)
		if h.cmd.Port == port && slices.Contains(disabled, h.cmd.Interface) {
			q.items.Remove(e)
			h.elem = nil
			h.done = true
			purged++
		}
		e = next
	}
	return purged
}

// Len возвращает длину очереди
func (q *LowPriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Clear очищает очередь без выполнения команд
func (q *LowPriorityQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Len()
	for e := q.items.Front(); e != nil; e = e.Next() {
		h := e.Value.(*Handle)
		h.elem = nil
		h.done = true
	}
	q.items.Init()
	return n
}
