package engine

import (
	"fmt"
	"time"
)

// MessageClass класс ответа SIP (1xx-6xx)
type MessageClass int

const (
	ClassNone MessageClass = iota
	ClassProvisional
	ClassSuccess
	ClassRedirect
	ClassClientError
	ClassServerError
	ClassGlobalError
)

// ClassOf возвращает класс для кода ответа
func ClassOf(code int) MessageClass {
	if code < 100 || code > 699 {
		return ClassNone
	}
	return MessageClass(code / 100)
}

func (c MessageClass) String() string {
	if c == ClassNone {
		return "none"
	}
	return fmt.Sprintf("%dxx", int(c))
}

// Event общий контекст события движка
type Event struct {
	Session SessionID
	// At момент, когда движок наблюдал событие
	At time.Time
	// StatusCode код ответа, 0: ответа не было (ошибка транспорта, таймаут)
	StatusCode int
	Reason     string
	Err        error
}

// Class класс ответа события
func (e Event) Class() MessageClass {
	return ClassOf(e.StatusCode)
}

// RegEvent результат регистрации или дерегистрации
type RegEvent struct {
	Event
	Deregistration bool
	Expires        time.Duration
}

// ResponseEvent ответ на INVITE
type ResponseEvent struct {
	Event
	Body        []byte
	ContentType string
}

// RequestEvent результат запроса вне диалога
type RequestEvent struct {
	Event
	Method string
}

// CallStateNotifier обратные вызовы движка. Вызываются из горутин движка.
type CallStateNotifier interface {
	RegSuccess(ev RegEvent)
	RegFailure(ev RegEvent)

	// ResponseReceived предварительный ответ (1xx) на INVITE
	ResponseReceived(ev ResponseEvent)
	// InviteCompleted финальный не-2xx ответ, ошибка транспорта или таймаут
	InviteCompleted(ev ResponseEvent)
	// CallAnswered получен 2xx на INVITE
	CallAnswered(ev ResponseEvent)
	// CallCompleted ACK на 2xx отправлен
	CallCompleted(ev Event)

	ByeSent(ev Event)
	// ByeCompleted получен ответ на BYE (или истёк таймаут)
	ByeCompleted(ev Event)
	ByeReceived(ev Event)

	NonInviteCompleted(ev RequestEvent)
}
