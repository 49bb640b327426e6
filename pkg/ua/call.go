package ua

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/arzzra/sip_trial/pkg/admission"
	"github.com/arzzra/sip_trial/pkg/cmdqueue"
	"github.com/arzzra/sip_trial/pkg/config"
	"github.com/arzzra/sip_trial/pkg/engine"
	"github.com/arzzra/sip_trial/pkg/media"
	"github.com/arzzra/sip_trial/pkg/media_sdp"
)

// dialogAttempt одна попытка исходящего вызова. Живёт от Call до
// возврата в IDLE.
type dialogAttempt struct {
	id     uuid.UUID
	remote engine.Remote

	offer    media_sdp.OfferConfig
	expected map[media_sdp.Stream]int

	handle  *cmdqueue.Handle
	slot    *admission.Slot
	session engine.SessionID

	requested   time.Time
	inviteStart time.Time
	answeredAt  time.Time
	byeStart    time.Time

	provisional bool
	negotiated  bool
}

// start отметка, от которой считается длительность неудачи
func (a *dialogAttempt) start() time.Time {
	if !a.inviteStart.IsZero() {
		return a.inviteStart
	}
	return a.requested
}

// Call ставит в очередь исходящий вызов пользователю user. nil означает,
// что вызов принят в конвейер, ответ придёт статусом.
func (u *UserAgent) Call(user string) error {
	return u.call(user, netip.AddrPort{})
}

// CallAddr то же, что Call, но запрос отправляется на адрес dest
func (u *UserAgent) CallAddr(user string, dest netip.AddrPort) error {
	if !dest.IsValid() {
		return u.opError("call", fmt.Errorf("%w: address %s", ErrInvalidDestination, dest))
	}
	return u.call(user, dest)
}

func (u *UserAgent) call(user string, dest netip.AddrPort) error {
	switch {
	case u.closed:
		return u.opError("call", ErrClosed)
	case !u.enabled:
		return u.opError("call", ErrDisabled)
	case u.attempt != nil || u.CallState() != CallIdle:
		return u.opError("call", ErrCallInProgress)
	case u.cfg.Registrar != "" && !u.registered:
		return u.opError("call", ErrNotRegistered)
	}

	remote, err := u.remoteFor(user, dest)
	if err != nil {
		return u.opError("call", err)
	}

	a := &dialogAttempt{
		id:        uuid.New(),
		remote:    remote,
		requested: u.now(),
	}
	u.attempt = a
	u.callRetries = u.cfg.CallRetries
	u.enqueue(a)

	u.logger.Debug("call queued",
		slog.String("attempt", a.id.String()),
		slog.String("remote", remote.URI))
	return nil
}

// remoteFor строит URI удалённой стороны по схеме из конфигурации
func (u *UserAgent) remoteFor(user string, dest netip.AddrPort) (engine.Remote, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return engine.Remote{}, fmt.Errorf("%w: empty user", ErrInvalidDestination)
	}

	remote := engine.Remote{Addr: dest}
	if !dest.IsValid() && u.cfg.Proxy != "" {
		proxy, err := netip.ParseAddrPort(u.cfg.Proxy)
		if err != nil {
			return engine.Remote{}, fmt.Errorf("%w: proxy %q", ErrInvalidDestination, u.cfg.Proxy)
		}
		remote.ViaProxy = true
		remote.Proxy = proxy
	}

	switch u.cfg.Scheme {
	case config.SchemeTel:
		remote.URI = "tel:" + user
	default:
		host := u.cfg.Domain
		if host == "" && dest.IsValid() {
			host = dest.Addr().String()
			if dest.Addr().Is6() {
				host = "[" + host + "]"
			}
		}
		if host == "" {
			return engine.Remote{}, fmt.Errorf("%w: no domain for %q", ErrInvalidDestination, user)
		}
		var uri sip.Uri
		if err := sip.ParseUri("sip:"+user+"@"+host, &uri); err != nil {
			return engine.Remote{}, fmt.Errorf("%w: %w", ErrInvalidDestination, err)
		}
		remote.URI = uri.String()
	}
	return remote, nil
}

func (u *UserAgent) enqueue(a *dialogAttempt) {
	a.handle = u.admission.Queue().Push(cmdqueue.LPCommand{
		Port:      u.Port(),
		Interface: u.cfg.Interface,
		Run:       func() bool { return u.startDialog(a) },
	})
}

// startDialog выполняется насосом допуска. false оставляет команду в
// голове очереди до освобождения места.
func (u *UserAgent) startDialog(a *dialogAttempt) bool {
	if u.attempt != a || !u.accepting() {
		return true
	}

	slot, ok := u.admission.TryAdmit()
	if !ok {
		return false
	}
	a.slot = slot
	a.handle = nil

	body, err := u.prepareOffer(a)
	if err != nil {
		u.failAttempt(a, StatusInviteFailed, u.now(), err)
		return true
	}
	if err := u.eng.SetRemote(a.remote); err != nil {
		u.failAttempt(a, StatusInviteFailed, u.now(), err)
		return true
	}

	a.inviteStart = u.now()
	a.provisional = false
	a.negotiated = false
	session, err := u.eng.ConnectSession(engine.Offer{Body: body, ContentType: media_sdp.ContentTypeSDP})
	if err != nil {
		u.failAttempt(a, StatusInviteFailed, u.now(), err)
		return true
	}
	a.session = session
	u.fireCall(evInvite)

	u.logger.Debug("invite started",
		slog.String("attempt", a.id.String()),
		slog.Uint64("session", uint64(session)),
		slog.Int("pending", u.admission.Pending()))
	return true
}

// prepareOffer открывает медиа сокеты потоков и строит offer
func (u *UserAgent) prepareOffer(a *dialogAttempt) ([]byte, error) {
	ip, err := netip.ParseAddr(u.cfg.MediaIP())
	if err != nil {
		return nil, fmt.Errorf("media address: %w", err)
	}

	ports := make(map[media_sdp.Stream]int)
	for _, s := range u.cfg.CallType.Streams() {
		port := u.media.LocalPort(s)
		if port == 0 {
			if err := u.media.SetLocal(s, media.Local{Addr: netip.AddrPortFrom(ip, 0), DSCP: u.cfg.MediaDSCP}); err != nil {
				return nil, fmt.Errorf("open %s stream: %w", s, err)
			}
			port = u.media.LocalPort(s)
		}
		ports[s] = port
	}

	a.offer = u.cfg.OfferConfig(binary.BigEndian.Uint64(a.id[:8])>>1, ip.String(), ports)
	a.expected = a.offer.ExpectedPayloads()
	body, err := media_sdp.BuildOffer(a.offer)
	if err != nil {
		return nil, err
	}
	u.localSDP.Store(&body)
	return body, nil
}

// failAttempt завершает попытку с терминальным статусом
func (u *UserAgent) failAttempt(a *dialogAttempt, status StatusNotification, at time.Time, err error) {
	if err != nil {
		u.logger.Warn("call failed",
			slog.String("attempt", a.id.String()),
			slog.String("status", status.String()),
			slog.String("error", err.Error()))
	}
	a.slot.Release()
	u.stopMedia()
	if u.CallState() != CallIdle {
		u.fireCall(evEnd)
	}
	u.attempt = nil
	u.emit(status, a.start(), at)
}

// AbortCall завершает вызов в любой фазе. graceful отправляет CANCEL или
// BYE, иначе сессия останавливается без сигнализации. Для установленного
// вызова с graceful терминальный статус придёт по ответу на BYE,
// в остальных случаях сразу StatusCallAborted.
func (u *UserAgent) AbortCall(graceful bool) {
	a := u.attempt
	if a == nil {
		return
	}
	at := u.now()
	state := u.CallState()

	// не допущен: команда ещё в очереди или уже вычищена
	if a.slot == nil && a.session == 0 {
		if a.handle != nil {
			u.admission.Queue().Cancel(a.handle)
		}
		if state != CallIdle {
			u.fireCall(evAbort)
		}
		u.attempt = nil
		u.emit(StatusCallAborted, a.requested, at)
		return
	}

	if graceful {
		switch state {
		case CallDisconnecting:
			return
		case CallAnswered, CallConnected:
			u.stopMedia()
			err := u.eng.StopCallSession(true)
			if err == nil {
				u.fireCall(evHangup)
				a.byeStart = at
				return
			}
			u.logger.Warn("bye failed, stopping session", slog.String("error", err.Error()))
		}
	}

	if err := u.eng.StopCallSession(graceful && state == CallCalling); err != nil {
		u.logger.Warn("stop call session failed", slog.String("error", err.Error()))
	}
	a.slot.Release()
	u.stopMedia()
	if state != CallIdle {
		u.fireCall(evAbort)
	}
	u.attempt = nil
	u.emit(StatusCallAborted, a.start(), at)
}

// current возвращает попытку, к которой относится событие сессии
func (u *UserAgent) current(session engine.SessionID) *dialogAttempt {
	a := u.attempt
	if !u.accepting() || a == nil || a.session == 0 || a.session != session {
		u.logger.Debug("stale call event ignored", slog.Uint64("session", uint64(session)))
		return nil
	}
	return a
}

func (u *UserAgent) onProvisional(ev engine.ResponseEvent) {
	a := u.current(ev.Session)
	if a == nil || u.CallState() != CallCalling {
		return
	}

	if ev.StatusCode > 100 && !a.provisional {
		a.provisional = true
		u.emit(StatusInviteProvisional, a.inviteStart, u.eventTime(ev.At))
	}

	// ранее медиа: согласование необязательное
	if len(ev.Body) > 0 && !a.negotiated {
		if err := u.negotiate(a, ev.Body, ev.ContentType, false); err != nil && !errors.Is(err, media_sdp.ErrDeferred) {
			u.logger.Debug("early media not negotiated", slog.String("error", err.Error()))
		}
	}
}

func (u *UserAgent) onInviteCompleted(ev engine.ResponseEvent) {
	a := u.current(ev.Session)
	if a == nil || u.CallState() != CallCalling {
		return
	}
	at := u.eventTime(ev.At)
	a.slot.Release()
	a.slot = nil

	if u.callRetries > 0 && retryable(ev.StatusCode) {
		u.callRetries--
		u.stopMedia()
		u.fireCall(evRetry)
		u.emit(StatusInviteRetrying, a.inviteStart, at)

		a.session = 0
		a.inviteStart = time.Time{}
		u.enqueue(a)
		return
	}

	u.logger.Info("invite failed",
		slog.Int("status", ev.StatusCode),
		slog.String("reason", ev.Reason))
	u.failAttempt(a, StatusInviteFailed, at, nil)
}

// retryable можно ли повторять INVITE после такого финального ответа
func retryable(code int) bool {
	switch code {
	case media_sdp.StatusUnsupportedMediaType, 488, 606:
		return false
	}
	return true
}

func (u *UserAgent) onAnswered(ev engine.ResponseEvent) {
	a := u.current(ev.Session)
	if a == nil || u.CallState() != CallCalling {
		return
	}
	at := u.eventTime(ev.At)
	a.slot.Release()

	mandatory := u.cfg.MandatoryMedia && !a.negotiated
	if err := u.negotiate(a, ev.Body, ev.ContentType, mandatory); err != nil && !errors.Is(err, media_sdp.ErrDeferred) {
		status := media_sdp.StatusUnsupportedMediaType
		var nerr *media_sdp.NegotiationError
		if errors.As(err, &nerr) {
			status = nerr.StatusCode()
		}
		u.logger.Warn("media negotiation failed",
			slog.Int("mapped_status", status),
			slog.String("error", err.Error()))
		// диалог уже установлен: ACK и BYE отправит движок
		if stopErr := u.eng.StopCallSession(true); stopErr != nil {
			u.logger.Warn("stop call session failed", slog.String("error", stopErr.Error()))
		}
		u.failAttempt(a, StatusNegotiationFailed, at, nil)
		return
	}

	u.fireCall(evAnswer)
	a.answeredAt = at
	u.emit(StatusInviteAnswered, a.inviteStart, at)
	u.startMedia()
}

// negotiate разбирает SDP ответа и передаёт удалённые адреса медиа каналу
func (u *UserAgent) negotiate(a *dialogAttempt, body []byte, contentType string, mandatory bool) error {
	sdpBody, err := media_sdp.ExtractSDP(contentType, body)
	if err != nil {
		return err
	}
	answer, err := media_sdp.ParseAnswer(sdpBody, a.expected)
	if err != nil {
		return err
	}
	if err := media_sdp.Negotiate(answer, u.cfg.CallType, mandatory); err != nil {
		return err
	}
	u.applyRemote(a, answer)
	a.negotiated = true
	return nil
}

func (u *UserAgent) applyRemote(a *dialogAttempt, answer *media_sdp.Answer) {
	for _, s := range u.cfg.CallType.Streams() {
		sa := answer.Stream(s)
		if !sa.Found {
			continue
		}
		ip, err := netip.ParseAddr(media_sdp.NormalizeAddress(sa.RemoteIP))
		if err != nil {
			u.logger.Warn("bad remote media address",
				slog.String("stream", s.String()),
				slog.String("address", sa.RemoteIP))
			continue
		}
		remote := media.Remote{
			Addr:        netip.AddrPortFrom(ip, uint16(sa.Port)),
			PayloadType: uint8(sa.PayloadType),
			Ptime:       a.offer.Ptime,
		}
		if info, ok := media_sdp.Lookup(a.offer.Streams[s].Codec); ok {
			remote.ClockRate = info.ClockRate
		}
		if err := u.media.SetRemote(s, remote); err != nil {
			u.logger.Warn("set remote media failed",
				slog.String("stream", s.String()),
				slog.String("error", err.Error()))
		}
	}
}

func (u *UserAgent) onAckSent(ev engine.Event) {
	a := u.current(ev.Session)
	if a == nil || u.CallState() != CallAnswered {
		return
	}
	u.fireCall(evAck)
	u.emit(StatusAckSent, a.inviteStart, u.eventTime(ev.At))
}

func (u *UserAgent) onByeSent(ev engine.Event) {
	a := u.current(ev.Session)
	if a == nil || u.CallState() != CallDisconnecting {
		return
	}
	u.emit(StatusByeSent, a.byeStart, u.eventTime(ev.At))
}

func (u *UserAgent) onByeCompleted(ev engine.Event) {
	a := u.current(ev.Session)
	if a == nil || u.CallState() != CallDisconnecting {
		return
	}
	u.fireCall(evEnd)
	u.attempt = nil
	u.emit(StatusByeCompleted, a.byeStart, u.eventTime(ev.At))
}

func (u *UserAgent) onByeReceived(ev engine.Event) {
	a := u.current(ev.Session)
	if a == nil {
		return
	}
	switch u.CallState() {
	case CallAnswered, CallConnected, CallDisconnecting:
	default:
		return
	}
	u.stopMedia()
	u.fireCall(evEnd)
	u.attempt = nil
	u.emit(StatusByeReceived, a.answeredAt, u.eventTime(ev.At))
}

func (u *UserAgent) startMedia() {
	if err := u.media.StartAll(); err != nil {
		u.logger.Warn("media start failed", slog.String("error", err.Error()))
		return
	}
	u.mediaActive = true
}

func (u *UserAgent) stopMedia() {
	if !u.mediaActive {
		return
	}
	u.mediaActive = false
	if err := u.media.StopAll(); err != nil {
		u.logger.Warn("media stop failed", slog.String("error", err.Error()))
	}
}
