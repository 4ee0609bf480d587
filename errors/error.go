package errors

import (
	stderrors "errors"
	"fmt"
)

type Error struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Cause   error  // the underlying error
	Details any    `json:"details,omitempty"`
}

func NewError(code int64, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) GetCode() int64 {
	return e.Code
}

func (e *Error) GetMessage() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) GetDetails() any {
	return e.Details
}

// HasCode reports whether any error in err's chain carries the given code.
func HasCode(err error, code int64) bool {
	for err != nil {
		if coded, ok := err.(interface{ GetCode() int64 }); ok && coded.GetCode() == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}
