// Package enginetest предоставляет управляемый из теста канал движка.
package enginetest

import (
	"sync"
	"time"

	"github.com/arzzra/sip_trial/pkg/engine"
)

// Call запись вызова метода канала
type Call struct {
	Method string
	Args   []any
}

// Channel фейковый engine.Channel. Методы только записывают вызовы,
// события движка тест генерирует через Emit*.
type Channel struct {
	mu       sync.Mutex
	index    int
	calls    []Call
	notifier engine.CallStateNotifier
	media    engine.MediaInterface
	local    engine.Local
	remote   engine.Remote
	reg      engine.Registration
	session  engine.SessionID
	active   bool
	released int
	offers   []engine.Offer

	// ConnectErr возвращается из ConnectSession, если задан
	ConnectErr error
	// RegisterErr возвращается из StartRegistration, если задан
	RegisterErr error

	// Now источник времени событий
	Now func() time.Time
}

var _ engine.Channel = (*Channel)(nil)

// New создаёт фейковый канал
func New(index int) *Channel {
	return &Channel{index: index, Now: time.Now}
}

// Factory фабрика, сохраняющая созданные каналы
type Factory struct {
	mu       sync.Mutex
	channels map[int]*Channel
}

// NewFactory создаёт фабрику фейковых каналов
func NewFactory() *Factory {
	return &Factory{channels: make(map[int]*Channel)}
}

// NewChannel реализует engine.Factory
func (f *Factory) NewChannel(index int) (engine.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := New(index)
	f.channels[index] = ch
	return ch, nil
}

// Channel возвращает канал агента с индексом index
func (f *Factory) Channel(index int) *Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[index]
}

func (c *Channel) record(method string, args ...any) {
	c.calls = append(c.calls, Call{Method: method, Args: args})
}

func (c *Channel) SetLocal(local engine.Local) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("SetLocal", local)
	c.local = local
	return nil
}

func (c *Channel) SetRemote(remote engine.Remote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("SetRemote", remote)
	c.remote = remote
	return nil
}

func (c *Channel) SetRegistration(reg engine.Registration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("SetRegistration", reg)
	c.reg = reg
	return nil
}

func (c *Channel) StartRegistration(extraContacts []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("StartRegistration", extraContacts)
	return c.RegisterErr
}

func (c *Channel) StartDeregistration() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("StartDeregistration")
	return nil
}

func (c *Channel) StopRegistration() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("StopRegistration")
	return nil
}

func (c *Channel) ConnectSession(offer engine.Offer) (engine.SessionID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("ConnectSession", offer)
	if c.ConnectErr != nil {
		return 0, c.ConnectErr
	}
	c.session++
	c.active = true
	c.offers = append(c.offers, offer)
	return c.session, nil
}

func (c *Channel) StopCallSession(graceful bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("StopCallSession", graceful)
	c.active = false
	return nil
}

func (c *Channel) SendRequest(method string, body []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("SendRequest", method, body, contentType)
	return nil
}

func (c *Channel) SetNotifier(n engine.CallStateNotifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("SetNotifier", n != nil)
	c.notifier = n
}

func (c *Channel) SetMediaInterface(m engine.MediaInterface) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("SetMediaInterface", m != nil)
	c.media = m
}

func (c *Channel) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("Release")
	c.released++
	if c.released > 1 {
		return engine.ErrReleased
	}
	return nil
}

// Calls возвращает копию журнала вызовов
func (c *Channel) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Count число вызовов метода
func (c *Channel) Count(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.Method == method {
			n++
		}
	}
	return n
}

// Methods последовательность имён вызванных методов
func (c *Channel) Methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	for i, call := range c.calls {
		out[i] = call.Method
	}
	return out
}

// Released число вызовов Release
func (c *Channel) Released() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

// Session идентификатор последней сессии
func (c *Channel) Session() engine.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Active есть ли незавершённая сессия
func (c *Channel) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Remote последний адресат
func (c *Channel) Remote() engine.Remote {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Local последние локальные параметры
func (c *Channel) Local() engine.Local {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// Registration последние параметры регистрации
func (c *Channel) Registration() engine.Registration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg
}

// LastOffer тело последнего INVITE
func (c *Channel) LastOffer() engine.Offer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.offers) == 0 {
		return engine.Offer{}
	}
	return c.offers[len(c.offers)-1]
}

// Notifier текущий установленный notifier
func (c *Channel) Notifier() engine.CallStateNotifier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifier
}

// MediaInterface текущий установленный источник локального SDP
func (c *Channel) MediaInterface() engine.MediaInterface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.media
}

func (c *Channel) event(code int) engine.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return engine.Event{Session: c.session, At: c.Now(), StatusCode: code}
}

// EmitRegSuccess генерирует успешную регистрацию
func (c *Channel) EmitRegSuccess(deregistration bool) {
	if n := c.Notifier(); n != nil {
		n.RegSuccess(engine.RegEvent{Event: c.event(200), Deregistration: deregistration})
	}
}

// EmitRegFailure генерирует неудачную регистрацию с кодом code
func (c *Channel) EmitRegFailure(code int, deregistration bool) {
	if n := c.Notifier(); n != nil {
		n.RegFailure(engine.RegEvent{Event: c.event(code), Deregistration: deregistration})
	}
}

// EmitProvisional генерирует предварительный ответ
func (c *Channel) EmitProvisional(code int, body []byte, contentType string) {
	if n := c.Notifier(); n != nil {
		n.ResponseReceived(engine.ResponseEvent{Event: c.event(code), Body: body, ContentType: contentType})
	}
}

// EmitInviteFailure генерирует финальный не-2xx ответ
func (c *Channel) EmitInviteFailure(code int) {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	if n := c.Notifier(); n != nil {
		n.InviteCompleted(engine.ResponseEvent{Event: c.event(code)})
	}
}

// EmitAnswered генерирует 2xx с телом body
func (c *Channel) EmitAnswered(body []byte, contentType string) {
	if n := c.Notifier(); n != nil {
		n.CallAnswered(engine.ResponseEvent{Event: c.event(200), Body: body, ContentType: contentType})
	}
}

// EmitAckSent генерирует отправку ACK
func (c *Channel) EmitAckSent() {
	if n := c.Notifier(); n != nil {
		n.CallCompleted(c.event(0))
	}
}

// EmitByeSent генерирует отправку BYE
func (c *Channel) EmitByeSent() {
	if n := c.Notifier(); n != nil {
		n.ByeSent(c.event(0))
	}
}

// EmitByeCompleted генерирует ответ на BYE
func (c *Channel) EmitByeCompleted(code int) {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	if n := c.Notifier(); n != nil {
		n.ByeCompleted(c.event(code))
	}
}

// EmitByeReceived генерирует BYE от удалённой стороны
func (c *Channel) EmitByeReceived() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	if n := c.Notifier(); n != nil {
		n.ByeReceived(c.event(0))
	}
}

// EmitNonInvite генерирует ответ на запрос вне диалога
func (c *Channel) EmitNonInvite(method string, code int) {
	if n := c.Notifier(); n != nil {
		n.NonInviteCompleted(engine.RequestEvent{Event: c.event(code), Method: method})
	}
}

// EmitStale генерирует ответ с идентификатором прошлой сессии
func (c *Channel) EmitStale(session engine.SessionID, code int) {
	if n := c.Notifier(); n != nil {
		ev := c.event(code)
		ev.Session = session
		n.CallAnswered(engine.ResponseEvent{Event: ev})
	}
}
