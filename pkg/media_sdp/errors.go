package media_sdp

import (
	"errors"
	"fmt"
)

// ErrDeferred SDP отсутствует, но согласование не обязательно:
// ждём следующего сообщения.
var ErrDeferred = errors.New("sdp negotiation deferred")

// StatusUnsupportedMediaType код ответа, которым отображается
// неудачное согласование медиа.
const StatusUnsupportedMediaType = 415

// ErrorCode коды ошибок согласования
type ErrorCode int

const (
	ErrorCodeInvalidConfig ErrorCode = iota + 2000
	ErrorCodeSDPGeneration
	ErrorCodeSDPParsing
	ErrorCodeNoSDP
	ErrorCodeStreamMissing
	ErrorCodeBody
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeInvalidConfig:
		return "invalid config"
	case ErrorCodeSDPGeneration:
		return "sdp generation"
	case ErrorCodeSDPParsing:
		return "sdp parsing"
	case ErrorCodeNoSDP:
		return "no sdp"
	case ErrorCodeStreamMissing:
		return "stream missing"
	case ErrorCodeBody:
		return "body"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// NegotiationError ошибка построения или согласования SDP
type NegotiationError struct {
	Code    ErrorCode
	Stream  Stream
	Message string
	Wrapped error
}

// StatusCode SIP код, которым отображается ошибка
func (e *NegotiationError) StatusCode() int {
	return StatusUnsupportedMediaType
}

func (e *NegotiationError) Error() string {
	msg := fmt.Sprintf("media negotiation failed [%d %s]: %s", e.Code, e.Code, e.Message)
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap для errors.Is/As
func (e *NegotiationError) Unwrap() error {
	return e.Wrapped
}

func newError(code ErrorCode, format string, args ...any) *NegotiationError {
	return &NegotiationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code ErrorCode, err error, format string, args ...any) *NegotiationError {
	return &NegotiationError{Code: code, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

// IsNegotiationError проверяет код ошибки согласования
func IsNegotiationError(err error, code ErrorCode) bool {
	var nerr *NegotiationError
	if !errors.As(err, &nerr) {
		return false
	}
	return nerr.Code == code
}
