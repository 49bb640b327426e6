// Package trial прогоняет сценарий нагрузочного теста на топологии:
// регистрация, вызовы парами, удержание, отбой и дерегистрация.
package trial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/arzzra/sip_trial/pkg/topology"
	"github.com/arzzra/sip_trial/pkg/ua"
)

// ErrPhaseTimeout фаза итерации не завершилась вовремя
var ErrPhaseTimeout = errors.New("phase timed out")

// Driver исполнитель сценария. Реактор топологии должен быть запущен.
type Driver struct {
	topo    *topology.Topology
	tracker *Tracker
	logger  *slog.Logger

	phaseTimeout time.Duration
}

// Option опция Driver
type Option func(*Driver)

// WithLogger задаёт логгер
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithPhaseTimeout ограничивает ожидание итогов одной фазы
func WithPhaseTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		if timeout > 0 {
			d.phaseTimeout = timeout
		}
	}
}

// New создаёт Driver. tracker должен быть подключён к агентам топологии
// как StatusDelegate.
func New(topo *topology.Topology, tracker *Tracker, opts ...Option) *Driver {
	d := &Driver{
		topo:         topo,
		tracker:      tracker,
		logger:       slog.Default(),
		phaseTimeout: 40 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("component", "trial"))
	return d
}

// Summary итог прогона
type Summary struct {
	Iterations int
	Counts     map[ua.StatusNotification]int
}

// Answered число отвеченных вызовов
func (s Summary) Answered() int { return s.Counts[ua.StatusInviteAnswered] }

// Run выполняет заданное в топологии число итераций
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	iterations := d.topo.Config().Iterations
	var sum Summary
	for i := 0; i < iterations; i++ {
		d.logger.Info("iteration started", slog.Int("iteration", i))
		if err := d.iteration(ctx); err != nil {
			sum.Counts = d.tracker.Counts()
			return sum, fmt.Errorf("iteration %d: %w", i, err)
		}
		sum.Iterations++
	}
	sum.Counts = d.tracker.Counts()
	return sum, nil
}

func (d *Driver) iteration(ctx context.Context) error {
	defer func() {
		// сброс выполняется даже при ошибке фазы
		resetCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = d.topo.Reactor().Wait(resetCtx, d.topo.ResetAll)
	}()

	registering, err := d.register(ctx)
	if err != nil {
		return err
	}

	callers, err := d.call(ctx)
	if err != nil {
		return err
	}

	if callers > 0 {
		d.logger.Debug("holding calls", slog.Duration("hold", d.topo.Config().HoldTime))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.topo.Config().HoldTime):
		}
		if err := d.hangup(ctx); err != nil {
			return err
		}
	}

	if registering > 0 {
		return d.unregister(ctx)
	}
	return nil
}

// onReactor выполняет fn на горутине реактора
func (d *Driver) onReactor(ctx context.Context, fn func()) error {
	return d.topo.Reactor().Wait(ctx, fn)
}

func (d *Driver) waitPhase(ctx context.Context, phase string, n int, statuses ...ua.StatusNotification) error {
	ctx, cancel := context.WithTimeout(ctx, d.phaseTimeout)
	defer cancel()
	if err := d.tracker.WaitCount(ctx, n, statuses...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", phase, ErrPhaseTimeout)
		}
		return err
	}
	return nil
}

func (d *Driver) register(ctx context.Context) (int, error) {
	terminal := []ua.StatusNotification{ua.StatusRegistrationSucceeded, ua.StatusRegistrationFailed}
	base := d.tracker.Count(terminal...)

	started := 0
	err := d.onReactor(ctx, func() {
		for _, u := range d.topo.Agents() {
			if u.Config().Registrar == "" {
				continue
			}
			if err := u.Register(); err != nil {
				d.logger.Warn("register failed", slog.String("error", err.Error()))
				continue
			}
			started++
		}
	})
	if err != nil || started == 0 {
		return 0, err
	}
	d.logger.Info("registration started", slog.Int("agents", started))
	return started, d.waitPhase(ctx, "register", base+started, terminal...)
}

// call ставит вызовы парами: агент 2k звонит агенту 2k+1
func (d *Driver) call(ctx context.Context) (int, error) {
	terminal := []ua.StatusNotification{
		ua.StatusInviteAnswered, ua.StatusInviteFailed,
		ua.StatusNegotiationFailed, ua.StatusCallAborted,
	}
	base := d.tracker.Count(terminal...)

	started := 0
	err := d.onReactor(ctx, func() {
		agents := d.topo.Agents()
		for i := 0; i+1 < len(agents); i += 2 {
			caller, callee := agents[i], agents[i+1]
			cfg := callee.Config()
			if err := caller.CallAddr(cfg.User, cfg.SIPAddr()); err != nil {
				d.logger.Warn("call failed", slog.String("error", err.Error()))
				continue
			}
			started++
		}
	})
	if err != nil || started == 0 {
		return 0, err
	}
	d.logger.Info("calls queued", slog.Int("calls", started))
	return started, d.waitPhase(ctx, "call", base+started, terminal...)
}

func (d *Driver) hangup(ctx context.Context) error {
	terminal := []ua.StatusNotification{ua.StatusByeCompleted, ua.StatusByeReceived, ua.StatusCallAborted}
	base := d.tracker.Count(terminal...)

	active := 0
	err := d.onReactor(ctx, func() {
		for _, u := range d.topo.Agents() {
			switch u.CallState() {
			case ua.CallAnswered, ua.CallConnected:
				u.AbortCall(true)
				active++
			}
		}
	})
	if err != nil || active == 0 {
		return err
	}
	d.logger.Info("hanging up", slog.Int("calls", active))
	return d.waitPhase(ctx, "hangup", base+active, terminal...)
}

func (d *Driver) unregister(ctx context.Context) error {
	terminal := []ua.StatusNotification{ua.StatusUnregistrationSucceeded, ua.StatusUnregistrationFailed}
	base := d.tracker.Count(terminal...)

	started := 0
	err := d.onReactor(ctx, func() {
		for _, u := range d.topo.Agents() {
			if !u.Registered() {
				continue
			}
			if err := u.Unregister(); err != nil {
				d.logger.Warn("unregister failed", slog.String("error", err.Error()))
				continue
			}
			started++
		}
	})
	if err != nil || started == 0 {
		return err
	}
	return d.waitPhase(ctx, "unregister", base+started, terminal...)
}
