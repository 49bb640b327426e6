package ua

import (
	"errors"
	"fmt"
)

// Ошибки предусловий публичных операций агента
var (
	ErrDisabled               = errors.New("agent disabled")
	ErrClosed                 = errors.New("agent closed")
	ErrCallInProgress         = errors.New("call already in progress")
	ErrNotRegistered          = errors.New("agent not registered")
	ErrNoRegistrar            = errors.New("registrar not configured")
	ErrRegistrationInProgress = errors.New("registration exchange in progress")
	ErrNoCall                 = errors.New("no call in progress")
	ErrInvalidDestination     = errors.New("invalid destination")
	ErrUnsupportedMethod      = errors.New("method not allowed outside of dialog")
)

// AgentError ошибка операции агента с контекстом
type AgentError struct {
	Op    string
	Index int
	Name  string
	Err   error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("ua %s[%d] %s: %v", e.Name, e.Index, e.Op, e.Err)
}

// Unwrap позволяет использовать errors.Is и errors.As
func (e *AgentError) Unwrap() error {
	return e.Err
}

func (u *UserAgent) opError(op string, err error) error {
	return &AgentError{Op: op, Index: u.index, Name: u.cfg.Name, Err: err}
}
