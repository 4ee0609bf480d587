package pubsub

import (
	"errors"

	commonerrors "github.com/infigaming-com/go-pubsub-worker/errors"
)

const (
	// ErrCodeClient covers broker connection, configuration and backend state failures.
	ErrCodeClient = 20000 + iota
	// ErrCodeCodec covers payload encode/decode failures.
	ErrCodeCodec
	// ErrCodeAck covers failed acknowledge or negative-acknowledge calls.
	ErrCodeAck
	// ErrCodeSubscription is reported once, as the last stream element, when the receive loop ends abnormally.
	ErrCodeSubscription
	// ErrCodePublish covers outbound flush failures.
	ErrCodePublish
)

var (
	ErrStreamClosed  = errors.New("pubsub: task stream closed")
	ErrBackendClosed = errors.New("pubsub: backend closed")
)

type Error struct {
	baseErr *commonerrors.Error
}

func newError(code int64, message string, cause error) *Error {
	return &Error{
		baseErr: commonerrors.NewError(code, "pubsub: "+message, cause),
	}
}

func (e *Error) withDetails(details any) *Error {
	e.baseErr.WithDetails(details)
	return e
}

func (e *Error) Error() string {
	return e.baseErr.Error()
}

func (e *Error) GetCode() int64 {
	return e.baseErr.GetCode()
}

func (e *Error) GetMessage() string {
	return e.baseErr.GetMessage()
}

func (e *Error) GetDetails() any {
	return e.baseErr.GetDetails()
}

func (e *Error) Unwrap() error {
	return e.baseErr.Unwrap()
}

// PublishFailure is attached as details to ErrCodePublish errors.
type PublishFailure struct {
	Topic  string `json:"topic"`
	Failed int    `json:"failed"`
	Total  int    `json:"total"`
}

// IsCode reports whether err, or any error it wraps, is a pubsub error with code.
func IsCode(err error, code int64) bool {
	return commonerrors.HasCode(err, code)
}
