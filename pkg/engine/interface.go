// Package engine описывает границу с SIP движком: непрозрачный канал
// движка, которым владеет UserAgent, и интерфейсы обратного вызова,
// через которые движок сообщает о ходе диалогов.
//
// Движок выполняет обмен асинхронно и вызывает CallStateNotifier из своих
// горутин. Реализация CallStateNotifier обязана только ставить уведомление
// в очередь и не трогать состояние агента напрямую.
package engine

import (
	"errors"
	"net/netip"
	"time"
)

// Ошибки движка
var (
	ErrReleased        = errors.New("engine channel released")
	ErrNoSession       = errors.New("no call session")
	ErrSessionActive   = errors.New("call session already active")
	ErrNotConfigured   = errors.New("engine channel not configured")
	ErrUnsupportedTran = errors.New("unsupported transport")
)

// Transport транспорт сигнализации
type Transport string

const (
	TransportUDP Transport = "udp"
	TransportTCP Transport = "tcp"
	TransportTLS Transport = "tls"
)

// SessionID идентификатор сессии вызова внутри канала движка.
// События старых сессий отфильтровываются по нему.
type SessionID uint64

// Local локальные параметры канала
type Local struct {
	User        string
	DisplayName string
	Domain      string
	Addr        netip.AddrPort
	Transport   Transport
	UserAgent   string
}

// Remote адресат исходящего вызова
type Remote struct {
	// URI удалённой стороны (sip: или tel:)
	URI string
	// Addr транспортный адрес назначения, нулевой: по URI
	Addr netip.AddrPort
	// ViaProxy запрос направляется через исходящий прокси
	ViaProxy bool
	Proxy    netip.AddrPort
}

// Registration параметры регистрации
type Registration struct {
	Registrar netip.AddrPort
	Domain    string
	Username  string
	Password  string
	Expires   time.Duration
	// IMSI для мобильных вариантов (подставляется в Authorization username)
	IMSI string
}

// Offer тело исходящего INVITE
type Offer struct {
	Body        []byte
	ContentType string
}

// Channel непрозрачный канал движка. Единственный владелец: UserAgent.
// Методы Start*/Connect*/Stop* только инициируют обмен, результат
// приходит через CallStateNotifier.
type Channel interface {
	SetLocal(local Local) error
	SetRemote(remote Remote) error
	SetRegistration(reg Registration) error

	StartRegistration(extraContacts []string) error
	StartDeregistration() error
	StopRegistration() error

	// ConnectSession отправляет INVITE и возвращает идентификатор сессии
	ConnectSession(offer Offer) (SessionID, error)
	// StopCallSession завершает сессию: CANCEL/BYE при graceful,
	// иначе немедленно без сигнализации
	StopCallSession(graceful bool) error

	// SendRequest отправляет запрос вне INVITE диалога (OPTIONS, MESSAGE)
	SendRequest(method string, body []byte, contentType string) error

	// SetNotifier и SetMediaInterface принимают nil, чтобы отключить
	// обратные вызовы перед Release
	SetNotifier(n CallStateNotifier)
	SetMediaInterface(m MediaInterface)

	// Release освобождает канал. Повторный вызов возвращает ErrReleased.
	Release() error
}

// Factory создаёт каналы движка
type Factory interface {
	NewChannel(index int) (Channel, error)
}

// FactoryFunc адаптер функции к Factory
type FactoryFunc func(index int) (Channel, error)

// NewChannel реализует Factory
func (f FactoryFunc) NewChannel(index int) (Channel, error) {
	return f(index)
}

// MediaInterface движок запрашивает через него локальное SDP, например
// при повторном INVITE от удалённой стороны.
type MediaInterface interface {
	LocalSDP() (body []byte, contentType string)
}
