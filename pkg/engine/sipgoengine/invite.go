package sipgoengine

import (
	"context"
	"errors"
	"log/slog"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/sip_trial/pkg/engine"
)

type callPhase int

const (
	phaseCalling callPhase = iota
	phaseConfirmed
	phaseTerminating
)

// callSession исходящий INVITE диалог
type callSession struct {
	id     engine.SessionID
	phase  callPhase
	invite *sip.Request
	ruri   sip.Uri
	// headers From/To/Call-ID диалога, To получает тег из 2xx
	headers   dialogHeaders
	recipient sip.Uri
	dest      string
	// cancelCh закрывается для отправки CANCEL
	cancelCh chan struct{}
	canceled bool
	ctx      context.Context
	stop     context.CancelFunc
}

// ConnectSession отправляет INVITE с телом offer
func (c *Channel) ConnectSession(offer engine.Offer) (engine.SessionID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return 0, engine.ErrReleased
	}
	if c.client == nil {
		return 0, errtrace.Wrap(engine.ErrNotConfigured)
	}
	if c.call != nil {
		return 0, errtrace.Wrap(engine.ErrSessionActive)
	}

	recipient, err := requestURI(c.remote, c.local)
	if err != nil {
		return 0, err
	}
	toURI := recipient
	if uri, err := parseURI(c.remote.URI); err == nil && uri.Scheme != "tel" {
		toURI = uri
	}

	c.session++
	s := &callSession{
		id:        c.session,
		ruri:      recipient,
		recipient: recipient,
		dest:      destination(c.remote),
		cancelCh:  make(chan struct{}),
		headers: dialogHeaders{
			from:    fromHeader(c.local, newTag()),
			to:      toHeader(toURI, ""),
			callID:  newCallID(),
			cseq:    1,
			routes:  proxyRoute(c.remote),
			contact: contactURI(c.local),
		},
	}
	s.invite = newRequest(sip.INVITE, recipient, s.headers, c.transport(), s.dest)
	setBody(s.invite, offer.Body, offer.ContentType)
	s.ctx, s.stop = context.WithTimeout(c.ctx, c.opts.InviteTimeout)

	c.call = s
	c.goroutine(func() { c.runInvite(s) })

	c.logger.Debug("invite sent",
		slog.Uint64("session", uint64(s.id)),
		slog.String("to", recipient.String()),
		slog.String("call_id", s.headers.callID))
	return s.id, nil
}

// runInvite ведёт клиентскую транзакцию INVITE до финального ответа
func (c *Channel) runInvite(s *callSession) {
	defer s.stop()

	tx, err := c.client.TransactionRequest(s.ctx, s.invite, sipgo.ClientRequestAddVia)
	if err != nil {
		c.inviteDone(s, nil, errtrace.Wrap(err))
		return
	}
	defer func() { tx.Terminate() }()

	authTried := false
	cancelCh := s.cancelCh
	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				c.inviteDone(s, nil, errtrace.Wrap(tx.Err()))
				return
			}
			switch {
			case res.IsProvisional():
				c.provisional(s, res)
			case res.IsSuccess():
				c.answered(s, res)
				return
			case (res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired) &&
				!authTried && c.password() != "":
				authTried = true
				tx.Terminate()
				tx, err = c.client.TransactionDigestAuth(s.ctx, s.invite, res, c.digest())
				if err != nil {
					c.inviteDone(s, res, errtrace.Wrap(err))
					return
				}
			default:
				c.inviteDone(s, res, nil)
				return
			}
		case <-cancelCh:
			cancelCh = nil
			c.sendCancel(s)
		case <-tx.Done():
			err := tx.Err()
			if err == nil {
				err = errors.New("invite transaction terminated")
			}
			c.inviteDone(s, nil, errtrace.Wrap(err))
			return
		case <-s.ctx.Done():
			// прерывание без сигнализации или истечение InviteTimeout
			c.inviteDone(s, nil, errtrace.Wrap(s.ctx.Err()))
			return
		}
	}
}

func (c *Channel) provisional(s *callSession, res *sip.Response) {
	if !c.isCurrent(s) {
		return
	}
	if n := c.notify(); n != nil {
		n.ResponseReceived(engine.ResponseEvent{
			Event:       event(s.id, res, nil),
			Body:        res.Body(),
			ContentType: contentType(res),
		})
	}
}

// answered подтверждает 2xx: ACK отправляется сразу, согласование медиа
// выполняет агент по CallAnswered
func (c *Channel) answered(s *callSession, res *sip.Response) {
	c.mu.Lock()
	current := c.call == s
	s.headers.to = toHeader(s.headers.to.Address, toTag(res))
	s.headers.routes = append(routeSet(res), proxyRoute(c.remote)...)
	if contact := res.Contact(); contact != nil {
		s.recipient = contact.Address
	}
	terminate := s.canceled || !current
	if terminate {
		// 2xx пришёл после CANCEL: подтверждаем и сразу завершаем
		s.phase = phaseTerminating
	} else {
		s.phase = phaseConfirmed
	}
	c.mu.Unlock()

	ack := newRequest(sip.ACK, s.recipient, s.headers, c.transport(), s.dest)
	if err := c.client.WriteRequest(ack, sipgo.ClientRequestAddVia); err != nil {
		c.logger.Warn("ack failed", slog.String("error", err.Error()))
	}

	if terminate {
		c.sendBye(s, false)
		return
	}

	n := c.notify()
	if n == nil {
		return
	}
	n.CallAnswered(engine.ResponseEvent{
		Event:       event(s.id, res, nil),
		Body:        res.Body(),
		ContentType: contentType(res),
	})
	n.CallCompleted(event(s.id, nil, nil))
}

func (c *Channel) inviteDone(s *callSession, res *sip.Response, err error) {
	c.mu.Lock()
	current := c.call == s
	if current {
		c.call = nil
	}
	c.mu.Unlock()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debug("invite failed", slog.Uint64("session", uint64(s.id)), slog.String("error", err.Error()))
	}
	if !current && !s.canceled {
		return
	}
	if n := c.notify(); n != nil {
		n.InviteCompleted(engine.ResponseEvent{Event: event(s.id, res, err)})
	}
}

func (c *Channel) isCurrent(s *callSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.call == s
}

// sendCancel отправляет CANCEL с Via исходного INVITE
func (c *Channel) sendCancel(s *callSession) {
	cancel := newRequest(sip.CANCEL, s.ruri, s.headers, c.transport(), s.dest)
	if via := s.invite.Via(); via != nil {
		cancel.PrependHeader(via.Clone())
	}
	if err := c.client.WriteRequest(cancel); err != nil {
		c.logger.Warn("cancel failed", slog.String("error", err.Error()))
	}
}

// StopCallSession завершает текущую сессию. До 2xx graceful отправляет
// CANCEL и финальный ответ (487) приходит через InviteCompleted. После 2xx
// graceful отправляет BYE.
func (c *Channel) StopCallSession(graceful bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.call
	if s == nil {
		return errtrace.Wrap(engine.ErrNoSession)
	}

	switch s.phase {
	case phaseCalling:
		if graceful && !s.canceled {
			s.canceled = true
			c.call = nil
			close(s.cancelCh)
			return nil
		}
		c.call = nil
		s.stop()
	case phaseConfirmed:
		s.phase = phaseTerminating
		c.call = nil
		if graceful {
			c.goroutine(func() { c.sendBye(s, true) })
		}
	default:
		c.call = nil
	}
	return nil
}

// sendBye завершает подтверждённый диалог. report сообщает агенту о BYE.
func (c *Channel) sendBye(s *callSession, report bool) {
	c.mu.Lock()
	s.headers.cseq++
	bye := newRequest(sip.BYE, s.recipient, s.headers, c.transport(), s.dest)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.RequestTimeout)
	defer cancel()

	tx, err := c.client.TransactionRequest(ctx, bye, sipgo.ClientRequestAddVia)
	if err != nil {
		c.byeDone(s, report, nil, errtrace.Wrap(err))
		return
	}
	defer tx.Terminate()

	if report {
		if n := c.notify(); n != nil {
			n.ByeSent(event(s.id, nil, nil))
		}
	}

	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				c.byeDone(s, report, nil, errtrace.Wrap(tx.Err()))
				return
			}
			if res.IsProvisional() {
				continue
			}
			c.byeDone(s, report, res, nil)
			return
		case <-tx.Done():
			c.byeDone(s, report, nil, errtrace.Wrap(tx.Err()))
			return
		case <-ctx.Done():
			c.byeDone(s, report, nil, errtrace.Wrap(ctx.Err()))
			return
		}
	}
}

func (c *Channel) byeDone(s *callSession, report bool, res *sip.Response, err error) {
	if err != nil {
		c.logger.Debug("bye failed", slog.Uint64("session", uint64(s.id)), slog.String("error", err.Error()))
	}
	if !report {
		return
	}
	if n := c.notify(); n != nil {
		n.ByeCompleted(event(s.id, res, err))
	}
}
