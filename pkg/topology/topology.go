// Package topology собирает агентов теста из конфигурации и владеет общими
// для них очередями, контроллером допуска и реактором.
package topology

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/arzzra/sip_trial/pkg/admission"
	"github.com/arzzra/sip_trial/pkg/cmdqueue"
	"github.com/arzzra/sip_trial/pkg/config"
	"github.com/arzzra/sip_trial/pkg/engine"
	"github.com/arzzra/sip_trial/pkg/media"
	"github.com/arzzra/sip_trial/pkg/reactor"
	"github.com/arzzra/sip_trial/pkg/ua"
)

// ErrUnknownAgent агент с таким индексом или именем не найден
var ErrUnknownAgent = errors.New("unknown agent")

// MediaFactory создаёт медиа канал агента
type MediaFactory func(index int, cfg config.Agent) (media.Channel, error)

// Topology набор агентов на общем реакторе
type Topology struct {
	cfg      config.Topology
	logger   *slog.Logger
	media    MediaFactory
	delegate ua.StatusDelegate
	now      func() time.Time

	runner    *cmdqueue.Runner
	queue     *cmdqueue.LowPriorityQueue
	admission *admission.Controller
	reactor   *reactor.Reactor

	agents []*ua.UserAgent
	byName map[string]*ua.UserAgent
	// byPort агенты, слушающие на SIP порту
	byPort map[int][]*ua.UserAgent
}

// Option опция Topology
type Option func(*Topology)

// WithLogger задаёт логгер
func WithLogger(logger *slog.Logger) Option {
	return func(t *Topology) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithMediaFactory заменяет RTP каналы по умолчанию
func WithMediaFactory(f MediaFactory) Option {
	return func(t *Topology) {
		if f != nil {
			t.media = f
		}
	}
}

// WithDelegate задаёт получателя событий всех агентов
func WithDelegate(d ua.StatusDelegate) Option {
	return func(t *Topology) {
		t.delegate = d
	}
}

// WithClock задаёт источник времени агентов
func WithClock(now func() time.Time) Option {
	return func(t *Topology) {
		if now != nil {
			t.now = now
		}
	}
}

// New создаёт агентов по конфигурации. Каналы движка берутся из factory.
// При ошибке уже созданные агенты закрываются.
func New(cfg config.Topology, factory engine.Factory, opts ...Option) (*Topology, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	if factory == nil {
		return nil, errors.New("topology: engine factory is required")
	}

	t := &Topology{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
		byName: make(map[string]*ua.UserAgent),
		byPort: make(map[int][]*ua.UserAgent),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.media == nil {
		t.media = t.rtpMedia
	}

	t.runner = cmdqueue.NewRunner(cmdqueue.WithLogger(t.logger))
	t.queue = cmdqueue.NewLowPriorityQueue()
	t.admission = admission.New(cfg.MaxPending, t.queue,
		admission.WithLogger(t.logger.With(slog.String("component", "admission"))))
	t.reactor = reactor.New(t.runner, t.admission,
		reactor.WithTick(cfg.Tick), reactor.WithLogger(t.logger))

	for i, agentCfg := range cfg.Agents() {
		if err := t.add(i, agentCfg, factory); err != nil {
			_ = t.Close()
			return nil, err
		}
	}

	t.logger.Info("topology created",
		slog.Int("agents", len(t.agents)),
		slog.Int("max_pending", cfg.MaxPending))
	return t, nil
}

func (t *Topology) rtpMedia(index int, _ config.Agent) (media.Channel, error) {
	return media.NewRTPChannel(media.WithLogger(t.logger.With(slog.Int("index", index)))), nil
}

func (t *Topology) add(index int, cfg config.Agent, factory engine.Factory) error {
	if _, dup := t.byName[cfg.Name]; dup {
		return fmt.Errorf("topology: duplicate agent name %q", cfg.Name)
	}

	eng, err := factory.NewChannel(index)
	if err != nil {
		return fmt.Errorf("topology: engine channel %d: %w", index, err)
	}
	med, err := t.media(index, cfg)
	if err != nil {
		_ = eng.Release()
		return fmt.Errorf("topology: media channel %d: %w", index, err)
	}

	u, err := ua.New(index, cfg, eng, med, t.runner, t.admission,
		ua.WithDelegate(t.delegate), ua.WithLogger(t.logger), ua.WithClock(t.now))
	if err != nil {
		_ = eng.Release()
		_ = med.Close()
		return err
	}

	t.agents = append(t.agents, u)
	t.byName[cfg.Name] = u
	t.byPort[u.Port()] = append(t.byPort[u.Port()], u)
	return nil
}

// Config конфигурация топологии
func (t *Topology) Config() config.Topology { return t.cfg }

// Reactor реактор топологии
func (t *Topology) Reactor() *reactor.Reactor { return t.reactor }

// Admission контроллер допуска
func (t *Topology) Admission() *admission.Controller { return t.admission }

// Run крутит реактор до отмены ctx
func (t *Topology) Run(ctx context.Context) error {
	return t.reactor.Run(ctx)
}

// Agents все агенты в порядке индексов
func (t *Topology) Agents() []*ua.UserAgent {
	return slices.Clone(t.agents)
}

// Len число агентов
func (t *Topology) Len() int { return len(t.agents) }

// Agent агент по индексу
func (t *Topology) Agent(index int) (*ua.UserAgent, error) {
	if index < 0 || index >= len(t.agents) {
		return nil, fmt.Errorf("%w: index %d", ErrUnknownAgent, index)
	}
	return t.agents[index], nil
}

// AgentByName агент по имени
func (t *Topology) AgentByName(name string) (*ua.UserAgent, error) {
	u, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, name)
	}
	return u, nil
}

// DisableInterface выключает агентов на порту port с интерфейсами из
// ifaces и удаляет их команды из низкоприоритетной очереди. Вызывается на
// горутине реактора. Возвращает число удалённых команд.
func (t *Topology) DisableInterface(port int, ifaces ...int) int {
	purged := t.queue.Purge(port, ifaces)
	disabled := 0
	for _, u := range t.byPort[port] {
		if slices.Contains(ifaces, u.Interface()) && u.Enabled() {
			u.Disable()
			disabled++
		}
	}
	t.logger.Info("interface disabled",
		slog.Int("port", port),
		slog.Any("interfaces", ifaces),
		slog.Int("purged", purged),
		slog.Int("agents", disabled))
	return purged
}

// EnableInterface включает агентов обратно
func (t *Topology) EnableInterface(port int, ifaces ...int) {
	for _, u := range t.byPort[port] {
		if slices.Contains(ifaces, u.Interface()) {
			u.Enable()
		}
	}
}

// ResetAll сбрасывает всех агентов и счётчик допуска перед новой итерацией.
// Вызывается на горутине реактора.
func (t *Topology) ResetAll() {
	for _, u := range t.agents {
		u.Reset()
	}
	cleared := t.queue.Clear()
	t.admission.Reset()
	t.logger.Debug("topology reset", slog.Int("cleared", cleared))
}

// Close закрывает всех агентов. Реактор к этому моменту должен быть
// остановлен или Close вызывается на его горутине.
func (t *Topology) Close() error {
	var errs []error
	for _, u := range t.agents {
		if err := u.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	t.queue.Clear()
	return errors.Join(errs...)
}
