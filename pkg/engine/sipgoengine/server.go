package sipgoengine

import (
	"log/slog"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/sip_trial/pkg/engine"
)

func (c *Channel) handleRequests(server *sipgo.Server) {
	server.OnInvite(c.onInvite)
	server.OnAck(func(req *sip.Request, tx sip.ServerTransaction) {})
	server.OnBye(c.onBye)
	server.OnCancel(c.onCancel)
	server.OnOptions(c.onOptions)
}

func (c *Channel) respond(req *sip.Request, tx sip.ServerTransaction, code int, reason string, body []byte, ct string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if len(body) > 0 {
		ctHeader := sip.ContentTypeHeader(ct)
		res.AppendHeader(&ctHeader)
		res.SetBody(body)
	}
	if code >= 200 && code < 300 && req.Method == sip.INVITE {
		c.mu.Lock()
		res.AppendHeader(&sip.ContactHeader{Address: contactURI(c.local)})
		c.mu.Unlock()
	}
	if err := tx.Respond(res); err != nil {
		c.logger.Debug("respond failed", slog.Int("status", code), slog.String("error", err.Error()))
	}
}

// onInvite отвечает на входящий вызов. Тело ответа берётся из
// MediaInterface, без него отражается offer.
func (c *Channel) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	c.mu.Lock()
	autoAnswer := c.opts.AutoAnswer && !c.released
	media := c.media
	c.mu.Unlock()

	if !autoAnswer {
		c.respond(req, tx, sip.StatusBusyHere, "Busy Here", nil, "")
		return
	}

	body, ct := []byte(nil), ""
	if media != nil {
		body, ct = media.LocalSDP()
	}
	if len(body) == 0 {
		body, ct = req.Body(), contentType(req)
	}

	callID := req.CallID().Value()
	c.mu.Lock()
	c.inbound[callID] = struct{}{}
	c.mu.Unlock()

	c.respond(req, tx, sip.StatusRinging, "Ringing", nil, "")
	c.respond(req, tx, sip.StatusOK, "OK", body, ct)
	c.logger.Debug("inbound call answered", slog.String("call_id", callID))
}

// onBye завершает входящий диалог или текущую исходящую сессию
func (c *Channel) onBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()

	c.mu.Lock()
	if _, ok := c.inbound[callID]; ok {
		delete(c.inbound, callID)
		c.mu.Unlock()
		c.respond(req, tx, sip.StatusOK, "OK", nil, "")
		return
	}
	s := c.call
	matched := s != nil && s.phase == phaseConfirmed && s.headers.callID == callID
	if matched {
		c.call = nil
		s.phase = phaseTerminating
	}
	c.mu.Unlock()

	if !matched {
		c.respond(req, tx, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist", nil, "")
		return
	}
	c.respond(req, tx, sip.StatusOK, "OK", nil, "")
	if n := c.notify(); n != nil {
		n.ByeReceived(engine.Event{Session: s.id, At: eventNow()})
	}
}

func (c *Channel) onCancel(req *sip.Request, tx sip.ServerTransaction) {
	c.mu.Lock()
	delete(c.inbound, req.CallID().Value())
	c.mu.Unlock()
	c.respond(req, tx, sip.StatusOK, "OK", nil, "")
}

func (c *Channel) onOptions(req *sip.Request, tx sip.ServerTransaction) {
	c.respond(req, tx, sip.StatusOK, "OK", nil, "")
}
