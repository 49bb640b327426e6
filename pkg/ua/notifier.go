package ua

import (
	"log/slog"

	"github.com/arzzra/sip_trial/pkg/engine"
)

// notifier переносит обратные вызовы движка на горутину реактора.
// Сам он состояние агента не читает и не меняет.
type notifier struct {
	u *UserAgent
}

var _ engine.CallStateNotifier = (*notifier)(nil)

func (n *notifier) post(kind string, fn func()) {
	if !n.u.runner.Notify(fn) {
		n.u.logger.Debug("engine notification dropped", slog.String("kind", kind))
	}
}

func (n *notifier) RegSuccess(ev engine.RegEvent) {
	n.post("reg_success", func() { n.u.onRegSuccess(ev) })
}

func (n *notifier) RegFailure(ev engine.RegEvent) {
	n.post("reg_failure", func() { n.u.onRegFailure(ev) })
}

func (n *notifier) ResponseReceived(ev engine.ResponseEvent) {
	n.post("provisional", func() { n.u.onProvisional(ev) })
}

func (n *notifier) InviteCompleted(ev engine.ResponseEvent) {
	n.post("invite_completed", func() { n.u.onInviteCompleted(ev) })
}

func (n *notifier) CallAnswered(ev engine.ResponseEvent) {
	n.post("answered", func() { n.u.onAnswered(ev) })
}

func (n *notifier) CallCompleted(ev engine.Event) {
	n.post("ack_sent", func() { n.u.onAckSent(ev) })
}

func (n *notifier) ByeSent(ev engine.Event) {
	n.post("bye_sent", func() { n.u.onByeSent(ev) })
}

func (n *notifier) ByeCompleted(ev engine.Event) {
	n.post("bye_completed", func() { n.u.onByeCompleted(ev) })
}

func (n *notifier) ByeReceived(ev engine.Event) {
	n.post("bye_received", func() { n.u.onByeReceived(ev) })
}

func (n *notifier) NonInviteCompleted(ev engine.RequestEvent) {
	n.post("non_invite", func() { n.u.onNonInviteCompleted(ev) })
}
