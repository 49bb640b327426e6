package ua

import (
	"context"
	"errors"
	"log/slog"

	"github.com/looplab/fsm"
)

// RegState состояние регистрации
type RegState string

const (
	RegUnregistered  RegState = "unregistered"
	RegRegistering   RegState = "registering"
	RegRegistered    RegState = "registered"
	RegUnregistering RegState = "unregistering"
)

// CallState состояние вызова
type CallState string

const (
	CallIdle          CallState = "idle"
	CallCalling       CallState = "calling"
	CallRetrying      CallState = "retrying"
	CallAnswered      CallState = "answered"
	CallConnected     CallState = "connected"
	CallDisconnecting CallState = "disconnecting"
)

// события автомата регистрации
const (
	evRegister     = "register"
	evRegSuccess   = "success"
	evRegFail      = "fail"
	evUnregister   = "unregister"
	evUnregistered = "unregistered"
	evRegReset     = "reset"
)

// события автомата вызова
const (
	evInvite = "invite"
	evRetry  = "retry"
	evAnswer = "answer"
	evAck    = "ack"
	evHangup = "hangup"
	evEnd    = "end"
	evAbort  = "abort"
)

func newRegFSM(logger *slog.Logger) *fsm.FSM {
	return fsm.NewFSM(
		string(RegUnregistered),
		fsm.Events{
			{Name: evRegister, Src: []string{string(RegUnregistered), string(RegRegistered)}, Dst: string(RegRegistering)},
			{Name: evRegSuccess, Src: []string{string(RegRegistering)}, Dst: string(RegRegistered)},
			{Name: evRegFail, Src: []string{string(RegRegistering)}, Dst: string(RegUnregistered)},
			{Name: evUnregister, Src: []string{string(RegRegistered), string(RegRegistering)}, Dst: string(RegUnregistering)},
			{Name: evUnregistered, Src: []string{string(RegUnregistering)}, Dst: string(RegUnregistered)},
			{Name: evRegReset, Src: []string{string(RegRegistering), string(RegRegistered), string(RegUnregistering)}, Dst: string(RegUnregistered)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug("registration state changed",
					slog.String("event", e.Event),
					slog.String("from", e.Src),
					slog.String("to", e.Dst))
			},
		},
	)
}

func newCallFSM(logger *slog.Logger) *fsm.FSM {
	active := []string{string(CallCalling), string(CallRetrying), string(CallAnswered), string(CallConnected), string(CallDisconnecting)}
	return fsm.NewFSM(
		string(CallIdle),
		fsm.Events{
			{Name: evInvite, Src: []string{string(CallIdle), string(CallRetrying)}, Dst: string(CallCalling)},
			{Name: evRetry, Src: []string{string(CallCalling)}, Dst: string(CallRetrying)},
			{Name: evAnswer, Src: []string{string(CallCalling)}, Dst: string(CallAnswered)},
			{Name: evAck, Src: []string{string(CallAnswered)}, Dst: string(CallConnected)},
			{Name: evHangup, Src: []string{string(CallAnswered), string(CallConnected)}, Dst: string(CallDisconnecting)},
			{Name: evEnd, Src: active, Dst: string(CallIdle)},
			{Name: evAbort, Src: active, Dst: string(CallIdle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				logger.Debug("call state changed",
					slog.String("event", e.Event),
					slog.String("from", e.Src),
					slog.String("to", e.Dst))
			},
		},
	)
}

// fire выполняет переход. Отсутствие перехода (src == dst) не ошибка.
func fire(f *fsm.FSM, event string) error {
	err := f.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}
