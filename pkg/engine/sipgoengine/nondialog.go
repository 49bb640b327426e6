package sipgoengine

import (
	"context"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/sip_trial/pkg/engine"
)

// SendRequest отправляет запрос вне диалога на адресата из SetRemote
func (c *Channel) SendRequest(method string, body []byte, ct string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released {
		return engine.ErrReleased
	}
	if c.client == nil || c.remote.URI == "" {
		return errtrace.Wrap(engine.ErrNotConfigured)
	}
	recipient, err := requestURI(c.remote, c.local)
	if err != nil {
		return err
	}

	m := sip.RequestMethod(method)
	req := newRequest(m, recipient, dialogHeaders{
		from:    fromHeader(c.local, newTag()),
		to:      toHeader(recipient, ""),
		callID:  newCallID(),
		cseq:    1,
		routes:  proxyRoute(c.remote),
		contact: contactURI(c.local),
	}, c.transport(), destination(c.remote))
	setBody(req, body, ct)

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.RequestTimeout)
	c.goroutine(func() {
		defer cancel()
		res, err := c.client.Do(ctx, req, sipgo.ClientRequestAddVia)
		if err == nil && (res.StatusCode == sip.StatusUnauthorized || res.StatusCode == sip.StatusProxyAuthRequired) &&
			c.password() != "" {
			res, err = c.client.DoDigestAuth(ctx, req, res, c.digest())
		}
		if n := c.notify(); n != nil {
			n.NonInviteCompleted(engine.RequestEvent{Event: event(0, res, errtrace.Wrap(err)), Method: method})
		}
	})
	return nil
}
