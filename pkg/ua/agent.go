// Package ua реализует модель состояний агента: регистрацию, исходящие
// вызовы под контролем допуска и согласование медиа по ответу.
//
// Все методы UserAgent вызываются на горутине реактора. Обратные вызовы
// движка попадают в агент только через cmdqueue.Runner.
package ua

import (
	"errors"
	"log/slog"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arzzra/sip_trial/pkg/admission"
	"github.com/arzzra/sip_trial/pkg/cmdqueue"
	"github.com/arzzra/sip_trial/pkg/config"
	"github.com/arzzra/sip_trial/pkg/engine"
	"github.com/arzzra/sip_trial/pkg/media"
	"github.com/arzzra/sip_trial/pkg/media_sdp"
	"github.com/looplab/fsm"
)

// UserAgent конечная точка теста. Владеет каналом движка и медиа каналом.
type UserAgent struct {
	index int
	cfg   config.Agent

	eng       engine.Channel
	media     media.Channel
	runner    *cmdqueue.Runner
	admission *admission.Controller
	delegate  StatusDelegate
	logger    *slog.Logger
	now       func() time.Time

	regFSM  *fsm.FSM
	callFSM *fsm.FSM

	enabled    bool
	closed     bool
	registered bool

	regRetries    int
	regStart      time.Time
	regGen        uint64
	retryTimer    *time.Timer
	extraContacts []string

	attempt     *dialogAttempt
	callRetries int
	mediaActive bool

	nonInvite map[string][]time.Time

	// localSDP последний offer, читается движком из своих горутин
	localSDP atomic.Pointer[[]byte]

	closeOnce sync.Once
	closeErr  error
}

// Option опция UserAgent
type Option func(*UserAgent)

// WithDelegate задаёт получателя событий
func WithDelegate(d StatusDelegate) Option {
	return func(u *UserAgent) {
		u.delegate = d
	}
}

// WithLogger задаёт логгер агента
func WithLogger(logger *slog.Logger) Option {
	return func(u *UserAgent) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithClock задаёт источник времени для отметок начала операций
func WithClock(now func() time.Time) Option {
	return func(u *UserAgent) {
		if now != nil {
			u.now = now
		}
	}
}

// New создаёт агента и настраивает канал движка. Конфигурация копируется.
func New(index int, cfg config.Agent, eng engine.Channel, med media.Channel,
	runner *cmdqueue.Runner, adm *admission.Controller, opts ...Option) (*UserAgent, error) {
	if eng == nil || med == nil || runner == nil || adm == nil {
		return nil, errors.New("ua: engine, media, runner and admission are required")
	}

	u := &UserAgent{
		index:     index,
		cfg:       cfg,
		eng:       eng,
		media:     med,
		runner:    runner,
		admission: adm,
		logger:    slog.Default(),
		now:       time.Now,
		enabled:   true,
		nonInvite: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.logger = u.logger.With(
		slog.String("component", "ua"),
		slog.Int("index", index),
		slog.String("name", cfg.Name))

	u.regFSM = newRegFSM(u.logger)
	u.callFSM = newCallFSM(u.logger)

	if err := u.configureEngine(); err != nil {
		return nil, u.opError("configure", err)
	}
	return u, nil
}

func (u *UserAgent) configureEngine() error {
	local := engine.Local{
		User:        u.cfg.User,
		DisplayName: u.cfg.DisplayName,
		Domain:      u.cfg.Domain,
		Addr:        u.cfg.SIPAddr(),
		Transport:   engine.Transport(strings.ToLower(u.cfg.Transport)),
		UserAgent:   u.cfg.UserAgent,
	}
	if err := u.eng.SetLocal(local); err != nil {
		return err
	}

	if u.cfg.Registrar != "" {
		registrar, err := netip.ParseAddrPort(u.cfg.Registrar)
		if err != nil {
			return err
		}
		reg := engine.Registration{
			Registrar: registrar,
			Domain:    u.cfg.Domain,
			Username:  u.cfg.User,
			Password:  u.cfg.Password,
			Expires:   u.cfg.RegExpires,
			IMSI:      u.cfg.IMSI,
		}
		if err := u.eng.SetRegistration(reg); err != nil {
			return err
		}
	}

	u.eng.SetNotifier(&notifier{u: u})
	u.eng.SetMediaInterface(u)
	return nil
}

// Index порядковый номер агента в топологии
func (u *UserAgent) Index() int { return u.index }

// Name имя агента
func (u *UserAgent) Name() string { return u.cfg.Name }

// Config копия конфигурации
func (u *UserAgent) Config() config.Agent { return u.cfg }

// Port SIP порт агента
func (u *UserAgent) Port() int { return int(u.cfg.SIPAddr().Port()) }

// Interface индекс сетевого интерфейса
func (u *UserAgent) Interface() int { return u.cfg.Interface }

// RegState текущее состояние регистрации
func (u *UserAgent) RegState() RegState { return RegState(u.regFSM.Current()) }

// CallState текущее состояние вызова
func (u *UserAgent) CallState() CallState { return CallState(u.callFSM.Current()) }

// Registered зарегистрирован ли агент
func (u *UserAgent) Registered() bool { return u.registered }

// Enabled разрешены ли операции агента
func (u *UserAgent) Enabled() bool { return u.enabled }

// Queued ожидает ли вызов допуска в очереди
func (u *UserAgent) Queued() bool {
	return u.attempt != nil && u.attempt.handle != nil && u.admission.Queue().Queued(u.attempt.handle)
}

// HasCall есть ли вызов в любой фазе, включая очередь
func (u *UserAgent) HasCall() bool { return u.attempt != nil }

// MediaStats статистика медиа канала
func (u *UserAgent) MediaStats() media.Stats { return u.media.Stats() }

// LocalSDP последний отправленный offer, реализует engine.MediaInterface
func (u *UserAgent) LocalSDP() ([]byte, string) {
	p := u.localSDP.Load()
	if p == nil {
		return nil, ""
	}
	return slices.Clone(*p), media_sdp.ContentTypeSDP
}

// Enable разрешает операции агента
func (u *UserAgent) Enable() {
	if u.closed {
		return
	}
	u.enabled = true
}

// Disable запрещает операции и сбрасывает вызов и регистрацию.
// События движка для отключённого агента игнорируются.
func (u *UserAgent) Disable() {
	if !u.enabled {
		return
	}
	u.Reset()
	u.enabled = false
	u.logger.Info("agent disabled")
}

// Reset завершает вызов без сигнализации, останавливает регистрацию и
// медиа. Используется между итерациями теста.
func (u *UserAgent) Reset() {
	u.cancelRegistrationRetry()
	u.regRetries = 0

	if u.attempt != nil {
		u.AbortCall(false)
	}

	if u.RegState() != RegUnregistered {
		if err := u.eng.StopRegistration(); err != nil {
			u.logger.Warn("stop registration failed", slog.String("error", err.Error()))
		}
		u.fireReg(evRegReset)
	}
	u.registered = false
	u.stopMedia()
	clear(u.nonInvite)
}

// Close освобождает канал движка ровно один раз. Перед освобождением
// у канала снимаются notifier и источник SDP.
func (u *UserAgent) Close() error {
	u.closeOnce.Do(func() {
		u.Reset()
		u.closed = true
		u.enabled = false

		u.eng.SetNotifier(nil)
		u.eng.SetMediaInterface(nil)

		var errs []error
		if err := u.eng.Release(); err != nil {
			errs = append(errs, err)
		}
		if err := u.media.Close(); err != nil {
			errs = append(errs, err)
		}
		u.closeErr = errors.Join(errs...)
		u.logger.Debug("agent closed")
	})
	return u.closeErr
}

// emit сообщает событие наблюдателю. elapsed считается от отметки start,
// захваченной в начале попытки.
func (u *UserAgent) emit(status StatusNotification, start, at time.Time) {
	var elapsed time.Duration
	if !start.IsZero() && at.After(start) {
		elapsed = at.Sub(start)
	}
	u.logger.Debug("status",
		slog.String("status", status.String()),
		slog.Duration("elapsed", elapsed))
	if u.delegate != nil {
		u.delegate.OnStatus(u.index, status, elapsed)
	}
}

func (u *UserAgent) eventTime(at time.Time) time.Time {
	if at.IsZero() {
		return u.now()
	}
	return at
}

// accepting принимает ли агент события движка
func (u *UserAgent) accepting() bool {
	return u.enabled && !u.closed
}

func (u *UserAgent) fireReg(event string) {
	if err := fire(u.regFSM, event); err != nil {
		u.logger.Error("registration transition rejected",
			slog.String("event", event),
			slog.String("state", u.regFSM.Current()),
			slog.String("error", err.Error()))
	}
}

func (u *UserAgent) fireCall(event string) {
	if err := fire(u.callFSM, event); err != nil {
		u.logger.Error("call transition rejected",
			slog.String("event", event),
			slog.String("state", u.callFSM.Current()),
			slog.String("error", err.Error()))
	}
}
