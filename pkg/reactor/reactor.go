// Package reactor владеет единственной горутиной, на которой меняется
// состояние агентов и счётчик допуска.
package reactor

import (
	"context"
	"log/slog"
	"time"

	"github.com/arzzra/sip_trial/pkg/admission"
	"github.com/arzzra/sip_trial/pkg/cmdqueue"
)

const defaultTick = 10 * time.Millisecond

// Reactor на каждом тике или пробуждении выполняет накопленные
// уведомления, затем запускает насос допуска
type Reactor struct {
	runner    *cmdqueue.Runner
	admission *admission.Controller
	tick      time.Duration
	logger    *slog.Logger
}

// Option опция реактора
type Option func(*Reactor)

// WithTick задаёт период тика
func WithTick(d time.Duration) Option {
	return func(r *Reactor) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithLogger задаёт логгер
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reactor) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New создаёт реактор и переводит Runner в готовность: уведомления,
// поставленные до запуска Run, выполнятся на первом шаге цикла.
func New(runner *cmdqueue.Runner, adm *admission.Controller, opts ...Option) *Reactor {
	r := &Reactor{
		runner:    runner,
		admission: adm,
		tick:      defaultTick,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "reactor"))
	r.runner.Start()
	return r
}

// Runner очередь уведомлений реактора
func (r *Reactor) Runner() *cmdqueue.Runner { return r.runner }

// Admission контроллер допуска реактора
func (r *Reactor) Admission() *admission.Controller { return r.admission }

// Do выполняет fn на горутине реактора. false, если реактор не запущен.
func (r *Reactor) Do(fn func()) bool {
	return r.runner.Notify(fn)
}

// Wait выполняет fn на горутине реактора и ждёт завершения
func (r *Reactor) Wait(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !r.runner.Notify(func() {
		defer close(done)
		fn()
	}) {
		return cmdqueue.ErrNotReady
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Step один шаг реактора
func (r *Reactor) Step() {
	r.runner.Drain()
	r.admission.Pump()
}

// Run крутит цикл до отмены ctx. При выходе Runner останавливается:
// уведомления, поступившие после отмены, отбрасываются, уже взятая пачка
// дорабатывается. Повторный Run снова открывает приём.
func (r *Reactor) Run(ctx context.Context) error {
	r.runner.Start()
	defer r.runner.Stop()

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	r.logger.Debug("reactor started", slog.Duration("tick", r.tick))
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("reactor stopped")
			return nil
		case <-ticker.C:
		case <-r.runner.Wake():
		}
		r.Step()
	}
}
