package ua

import (
	"time"
)

// StatusNotification событие жизненного цикла агента для внешнего
// наблюдателя (метрики, тестовый стенд)
type StatusNotification int

const (
	StatusRegistrationSucceeded StatusNotification = iota + 1
	StatusRegistrationRetry
	StatusRegistrationFailed
	StatusUnregistrationSucceeded
	StatusUnregistrationFailed

	// StatusInviteProvisional первый предварительный ответ (кроме 100)
	StatusInviteProvisional
	StatusInviteAnswered
	StatusInviteFailed
	StatusInviteRetrying
	// StatusNegotiationFailed ответ не прошёл согласование SDP (415)
	StatusNegotiationFailed
	StatusAckSent

	StatusByeSent
	StatusByeCompleted
	StatusByeReceived
	StatusCallAborted

	StatusNonInviteSucceeded
	StatusNonInviteFailed
)

var statusNames = map[StatusNotification]string{
	StatusRegistrationSucceeded:   "registration_succeeded",
	StatusRegistrationRetry:       "registration_retry",
	StatusRegistrationFailed:      "registration_failed",
	StatusUnregistrationSucceeded: "unregistration_succeeded",
	StatusUnregistrationFailed:    "unregistration_failed",
	StatusInviteProvisional:       "invite_provisional",
	StatusInviteAnswered:          "invite_answered",
	StatusInviteFailed:            "invite_failed",
	StatusInviteRetrying:          "invite_retrying",
	StatusNegotiationFailed:       "negotiation_failed",
	StatusAckSent:                 "ack_sent",
	StatusByeSent:                 "bye_sent",
	StatusByeCompleted:            "bye_completed",
	StatusByeReceived:             "bye_received",
	StatusCallAborted:             "call_aborted",
	StatusNonInviteSucceeded:      "non_invite_succeeded",
	StatusNonInviteFailed:         "non_invite_failed",
}

func (s StatusNotification) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// AllStatuses все значения StatusNotification
func AllStatuses() []StatusNotification {
	out := make([]StatusNotification, 0, len(statusNames))
	for s := StatusRegistrationSucceeded; s <= StatusNonInviteFailed; s++ {
		out = append(out, s)
	}
	return out
}

// Terminal завершает ли событие операцию (регистрацию, вызов, запрос)
func (s StatusNotification) Terminal() bool {
	switch s {
	case StatusRegistrationRetry, StatusInviteProvisional, StatusInviteRetrying,
		StatusInviteAnswered, StatusByeSent:
		return false
	default:
		return true
	}
}

// StatusDelegate получает события агентов. Вызывается на горутине реактора.
type StatusDelegate interface {
	OnStatus(index int, status StatusNotification, elapsed time.Duration)
}

// StatusDelegateFunc адаптер функции к StatusDelegate
type StatusDelegateFunc func(index int, status StatusNotification, elapsed time.Duration)

// OnStatus реализует StatusDelegate
func (f StatusDelegateFunc) OnStatus(index int, status StatusNotification, elapsed time.Duration) {
	f(index, status, elapsed)
}

// MultiDelegate рассылает событие нескольким получателям по порядку
type MultiDelegate []StatusDelegate

// OnStatus реализует StatusDelegate
func (m MultiDelegate) OnStatus(index int, status StatusNotification, elapsed time.Duration) {
	for _, d := range m {
		if d != nil {
			d.OnStatus(index, status, elapsed)
		}
	}
}
