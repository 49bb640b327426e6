package ua

import (
	"strings"

	"github.com/arzzra/sip_trial/pkg/engine"
)

// SendRequest отправляет запрос вне INVITE диалога (OPTIONS, MESSAGE, INFO).
// Итог приходит статусом StatusNonInviteSucceeded или StatusNonInviteFailed.
func (u *UserAgent) SendRequest(method string, body []byte, contentType string) error {
	switch {
	case u.closed:
		return u.opError("request", ErrClosed)
	case !u.enabled:
		return u.opError("request", ErrDisabled)
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	switch method {
	case "", "INVITE", "ACK", "BYE", "CANCEL", "REGISTER":
		return u.opError("request", ErrUnsupportedMethod)
	}

	u.nonInvite[method] = append(u.nonInvite[method], u.now())
	if err := u.eng.SendRequest(method, body, contentType); err != nil {
		starts := u.nonInvite[method]
		u.nonInvite[method] = starts[:len(starts)-1]
		return u.opError("request", err)
	}
	return nil
}

func (u *UserAgent) onNonInviteCompleted(ev engine.RequestEvent) {
	if !u.accepting() {
		return
	}
	method := strings.ToUpper(ev.Method)
	starts := u.nonInvite[method]
	if len(starts) == 0 {
		u.logger.Debug("unexpected non-invite result ignored")
		return
	}
	start := starts[0]
	u.nonInvite[method] = starts[1:]

	status := StatusNonInviteFailed
	if ev.Class() == engine.ClassSuccess {
		status = StatusNonInviteSucceeded
	}
	u.emit(status, start, u.eventTime(ev.At))
}
