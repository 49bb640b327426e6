package sipgoengine

import (
	"context"
	"log/slog"
	"time"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/sip_trial/pkg/engine"
)

// StartRegistration отправляет REGISTER. extraContacts добавляются
// отдельными заголовками Contact.
func (c *Channel) StartRegistration(extraContacts []string) error {
	return c.register(false, extraContacts)
}

// StartDeregistration отправляет REGISTER с Expires: 0
func (c *Channel) StartDeregistration() error {
	return c.register(true, nil)
}

// StopRegistration прерывает текущую транзакцию REGISTER без уведомления
func (c *Channel) StopRegistration() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.regCancel != nil {
		c.regCancel()
		c.regCancel = nil
	}
	return nil
}

func (c *Channel) register(dereg bool, extraContacts []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return engine.ErrReleased
	}
	if c.client == nil || !c.reg.Registrar.IsValid() {
		return errtrace.Wrap(engine.ErrNotConfigured)
	}
	if c.regCancel != nil {
		c.regCancel()
	}

	local := c.local
	if c.reg.Domain != "" {
		local.Domain = c.reg.Domain
	}
	if c.reg.Username != "" {
		local.User = c.reg.Username
	}
	aor := localURI(local)

	c.regCSeq++
	h := dialogHeaders{
		from:    fromHeader(local, newTag()),
		to:      toHeader(aor, ""),
		callID:  c.regCallID,
		cseq:    c.regCSeq,
		contact: contactURI(c.local),
	}
	recipient := sip.Uri{Scheme: "sip", Host: aor.Host}
	req := newRequest(sip.REGISTER, recipient, h, c.transport(), c.reg.Registrar.String())
	for _, extra := range extraContacts {
		req.AppendHeader(sip.NewHeader("Contact", extra))
	}
	expires := sip.ExpiresHeader(uint32(c.reg.Expires / time.Second))
	if dereg {
		expires = 0
	}
	req.AppendHeader(&expires)

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.RequestTimeout)
	c.regCancel = cancel
	c.goroutine(func() {
		defer cancel()
		c.runRegister(ctx, req, dereg)
	})
	return nil
}

func (c *Channel) runRegister(ctx context.Context, req *sip.Request, dereg bool) {
	res, err := c.client.Do(ctx, req, sipgo.ClientRequestAddVia)
	if err == nil && (res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired) &&
		c.password() != "" {
		res, err = c.client.DoDigestAuth(ctx, req, res, c.digest())
	}
	if ctx.Err() == context.Canceled {
		// остановлено StopRegistration или Release
		return
	}

	ev := engine.RegEvent{Event: event(0, res, errtrace.Wrap(err)), Deregistration: dereg}
	if res != nil {
		if exp := expiresOf(res); exp >= 0 {
			ev.Expires = time.Duration(exp) * time.Second
		}
	}

	n := c.notify()
	if n == nil {
		return
	}
	if err == nil && res.IsSuccess() {
		c.logger.Debug("registration succeeded", slog.Bool("deregistration", dereg))
		n.RegSuccess(ev)
		return
	}
	c.logger.Debug("registration failed",
		slog.Bool("deregistration", dereg),
		slog.Int("status", ev.StatusCode))
	n.RegFailure(ev)
}

func (c *Channel) password() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.Password
}

// digest учётные данные. Для мобильных профилей имя берётся из IMSI.
func (c *Channel) digest() sipgo.DigestAuth {
	c.mu.Lock()
	defer c.mu.Unlock()
	user := c.reg.Username
	if c.reg.IMSI != "" {
		user = c.reg.IMSI
	}
	if user == "" {
		user = c.local.User
	}
	return sipgo.DigestAuth{Username: user, Password: c.reg.Password}
}
