// Package sipgoengine реализует engine.Channel поверх стека sipgo.
//
// Каждый канал поднимает собственные sipgo UserAgent, Client и Server на
// локальном адресе агента. Обмен идёт в горутинах канала, результаты
// отдаются через engine.CallStateNotifier.
package sipgoengine

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/sip_trial/pkg/engine"
)

// Options таймауты канала
type Options struct {
	// InviteTimeout ограничивает ожидание финального ответа на INVITE
	InviteTimeout time.Duration
	// RequestTimeout ограничивает REGISTER, BYE и запросы вне диалога
	RequestTimeout time.Duration
	// AutoAnswer отвечать 200 OK на входящие INVITE
	AutoAnswer bool
}

// DefaultOptions возвращает таймауты по умолчанию
func DefaultOptions() Options {
	return Options{
		InviteTimeout:  32 * time.Second,
		RequestTimeout: 32 * time.Second,
		AutoAnswer:     true,
	}
}

// Factory создаёт каналы sipgo
type Factory struct {
	opts   Options
	logger *slog.Logger
}

// NewFactory создаёт фабрику каналов
func NewFactory(opts Options, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{opts: opts, logger: logger}
}

// NewChannel реализует engine.Factory
func (f *Factory) NewChannel(index int) (engine.Channel, error) {
	return New(index, f.opts, f.logger), nil
}

// Channel канал движка одного агента
type Channel struct {
	index  int
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	local    engine.Local
	remote   engine.Remote
	reg      engine.Registration
	notifier engine.CallStateNotifier
	media    engine.MediaInterface
	released bool

	ua       *sipgo.UserAgent
	client   *sipgo.Client
	server   *sipgo.Server
	listener interface{ Close() error }

	session engine.SessionID
	call    *callSession
	inbound map[string]struct{}

	regCallID string
	regCSeq   uint32
	regCancel context.CancelFunc
}

var _ engine.Channel = (*Channel)(nil)

// New создаёт канал. Сокет открывается в SetLocal.
func New(index int, opts Options, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.InviteTimeout <= 0 {
		opts.InviteTimeout = DefaultOptions().InviteTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultOptions().RequestTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		index:   index,
		opts:    opts,
		logger:  logger.With(slog.String("component", "sip"), slog.Int("index", index)),
		ctx:     ctx,
		cancel:  cancel,
		inbound: make(map[string]struct{}),
	}
}

// SetLocal поднимает стек sipgo на адресе local.Addr
func (c *Channel) SetLocal(local engine.Local) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return engine.ErrReleased
	}
	if c.ua != nil {
		if c.local.Addr == local.Addr && c.local.Transport == local.Transport {
			c.local = local
			return nil
		}
		return errtrace.Wrap(engine.ErrSessionActive)
	}
	if !local.Addr.IsValid() {
		return errtrace.Errorf("%w: invalid local address", engine.ErrNotConfigured)
	}
	if local.Transport == "" {
		local.Transport = engine.TransportUDP
	}

	host := local.Addr.Addr().String()
	uaOpts := []sipgo.UserAgentOption{sipgo.WithUserAgentHostname(host)}
	if local.UserAgent != "" {
		uaOpts = append(uaOpts, sipgo.WithUserAgent(local.UserAgent))
	}
	ua, err := sipgo.NewUA(uaOpts...)
	if err != nil {
		return errtrace.Wrap(err)
	}
	client, err := sipgo.NewClient(ua,
		sipgo.WithClientHostname(host),
		sipgo.WithClientPort(int(local.Addr.Port())))
	if err != nil {
		_ = ua.Close()
		return errtrace.Wrap(err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		_ = ua.Close()
		return errtrace.Wrap(err)
	}

	if err := c.listen(server, local); err != nil {
		_ = ua.Close()
		return err
	}

	c.ua, c.client, c.server = ua, client, server
	c.local = local
	c.regCallID = newCallID()
	c.handleRequests(server)

	c.logger.Debug("sip stack started",
		slog.String("addr", local.Addr.String()),
		slog.String("transport", string(local.Transport)))
	return nil
}

// listen открывает сокет синхронно, чтобы канал был готов к приёму
// сразу после SetLocal
func (c *Channel) listen(server *sipgo.Server, local engine.Local) error {
	addr := local.Addr.String()
	switch local.Transport {
	case engine.TransportUDP:
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return errtrace.Wrap(err)
		}
		c.listener = conn
		c.serve(func() error { return server.ServeUDP(conn) })
	case engine.TransportTCP:
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return errtrace.Wrap(err)
		}
		c.listener = l
		c.serve(func() error { return server.ServeTCP(l) })
	default:
		return errtrace.Errorf("%w: %s", engine.ErrUnsupportedTran, local.Transport)
	}
	return nil
}

func (c *Channel) serve(fn func() error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := fn(); err != nil && c.ctx.Err() == nil {
			c.logger.Warn("sip listener stopped", slog.String("error", err.Error()))
		}
	}()
}

func (c *Channel) SetRemote(remote engine.Remote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return engine.ErrReleased
	}
	if _, err := parseURI(remote.URI); err != nil {
		return err
	}
	c.remote = remote
	return nil
}

func (c *Channel) SetRegistration(reg engine.Registration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return engine.ErrReleased
	}
	c.reg = reg
	return nil
}

func (c *Channel) SetNotifier(n engine.CallStateNotifier) {
	c.mu.Lock()
	c.notifier = n
	c.mu.Unlock()
}

func (c *Channel) SetMediaInterface(m engine.MediaInterface) {
	c.mu.Lock()
	c.media = m
	c.mu.Unlock()
}

// Release останавливает обмен и стек. Повторный вызов возвращает ErrReleased.
func (c *Channel) Release() error {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return engine.ErrReleased
	}
	c.released = true
	c.notifier = nil
	c.media = nil
	c.call = nil
	ua, listener := c.ua, c.listener
	c.mu.Unlock()

	c.cancel()
	var err error
	if listener != nil {
		err = listener.Close()
	}
	c.wg.Wait()
	if ua != nil {
		if cerr := ua.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	c.logger.Debug("sip channel released")
	return errtrace.Wrap(err)
}

// notify возвращает текущий notifier. Вызывается без удержания мьютекса
// при обращении к самому notifier.
func (c *Channel) notify() engine.CallStateNotifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifier
}

// goroutine запускает обмен, привязанный к времени жизни канала
func (c *Channel) goroutine(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Channel) transport() string {
	return strings.ToUpper(string(c.local.Transport))
}

// eventNow источник времени событий
var eventNow = time.Now

func event(session engine.SessionID, res *sip.Response, err error) engine.Event {
	ev := engine.Event{Session: session, At: eventNow(), Err: err}
	if res != nil {
		ev.StatusCode = res.StatusCode
		ev.Reason = res.Reason
	}
	return ev
}
