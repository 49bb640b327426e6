package ua

import (
	"log/slog"
	"slices"
	"time"

	"github.com/arzzra/sip_trial/pkg/engine"
)

// Register запускает регистрацию. nil означает, что обмен начат, итог
// придёт статусом. Счётчик повторов берётся из конфигурации.
func (u *UserAgent) Register(extraContacts ...string) error {
	switch {
	case u.closed:
		return u.opError("register", ErrClosed)
	case !u.enabled:
		return u.opError("register", ErrDisabled)
	case u.cfg.Registrar == "":
		return u.opError("register", ErrNoRegistrar)
	}

	switch u.RegState() {
	case RegRegistering, RegUnregistering:
		return u.opError("register", ErrRegistrationInProgress)
	}

	u.cancelRegistrationRetry()
	u.regRetries = u.cfg.RegRetries
	u.extraContacts = slices.Clone(extraContacts)

	if err := u.startRegistration(); err != nil {
		return u.opError("register", err)
	}
	return nil
}

// Unregister запускает дерегистрацию без повторов. Если агент не
// зарегистрирован, ничего не делает.
func (u *UserAgent) Unregister() error {
	if u.closed {
		return u.opError("unregister", ErrClosed)
	}

	u.cancelRegistrationRetry()
	u.regRetries = 0

	switch u.RegState() {
	case RegRegistered, RegRegistering:
	default:
		return nil
	}

	u.fireReg(evUnregister)
	u.regStart = u.now()
	if err := u.eng.StartDeregistration(); err != nil {
		u.fireReg(evUnregistered)
		u.registered = false
		u.emit(StatusUnregistrationFailed, u.regStart, u.now())
		return u.opError("unregister", err)
	}
	return nil
}

func (u *UserAgent) startRegistration() error {
	u.fireReg(evRegister)
	u.regStart = u.now()
	if err := u.eng.StartRegistration(u.extraContacts); err != nil {
		u.fireReg(evRegFail)
		u.registered = false
		return err
	}
	return nil
}

// cancelRegistrationRetry делает отложенный повтор недействительным
func (u *UserAgent) cancelRegistrationRetry() {
	u.regGen++
	if u.retryTimer != nil {
		u.retryTimer.Stop()
		u.retryTimer = nil
	}
}

func (u *UserAgent) scheduleRegistrationRetry() {
	gen := u.regGen
	if u.cfg.RegRetryDelay <= 0 {
		u.restartRegistration(gen)
		return
	}
	u.retryTimer = time.AfterFunc(u.cfg.RegRetryDelay, func() {
		u.runner.Notify(func() { u.restartRegistration(gen) })
	})
}

func (u *UserAgent) restartRegistration(gen uint64) {
	if gen != u.regGen || !u.accepting() || u.RegState() != RegUnregistered {
		return
	}
	u.retryTimer = nil
	if err := u.startRegistration(); err != nil {
		u.logger.Warn("registration restart failed", slog.String("error", err.Error()))
		u.emit(StatusRegistrationFailed, u.regStart, u.now())
	}
}

func (u *UserAgent) onRegSuccess(ev engine.RegEvent) {
	if !u.accepting() {
		return
	}
	at := u.eventTime(ev.At)

	switch u.RegState() {
	case RegRegistering:
		if ev.Deregistration {
			return
		}
		u.fireReg(evRegSuccess)
		u.registered = true
		u.emit(StatusRegistrationSucceeded, u.regStart, at)
	case RegUnregistering:
		if !ev.Deregistration {
			// ответ на REGISTER, отправленный до Unregister
			return
		}
		u.fireReg(evUnregistered)
		u.registered = false
		u.emit(StatusUnregistrationSucceeded, u.regStart, at)
	default:
		u.logger.Debug("stale registration success ignored", slog.String("state", u.regFSM.Current()))
	}
}

func (u *UserAgent) onRegFailure(ev engine.RegEvent) {
	if !u.accepting() {
		return
	}
	at := u.eventTime(ev.At)

	switch u.RegState() {
	case RegRegistering:
		if ev.Deregistration {
			return
		}
		u.fireReg(evRegFail)
		u.registered = false
		u.logger.Info("registration failed",
			slog.Int("status", ev.StatusCode),
			slog.Int("retries_left", u.regRetries))

		if u.regRetries > 0 {
			u.regRetries--
			u.emit(StatusRegistrationRetry, u.regStart, at)
			u.scheduleRegistrationRetry()
			return
		}
		u.emit(StatusRegistrationFailed, u.regStart, at)
	case RegUnregistering:
		if !ev.Deregistration {
			return
		}
		u.fireReg(evUnregistered)
		u.registered = false
		u.emit(StatusUnregistrationFailed, u.regStart, at)
	default:
		u.logger.Debug("stale registration failure ignored", slog.String("state", u.regFSM.Current()))
	}
}
