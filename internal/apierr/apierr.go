// Package apierr is the error taxonomy exposed to wallet clients. Codes are
// part of the wire protocol and never change.
package apierr

import (
	"errors"
	"fmt"
)

type Code int

const (
	CodeBadAuth            Code = 1
	CodeNotEnoughBalance   Code = 2
	CodeNotAValidInvoice   Code = 4
	CodeGeneralServerError Code = 6
	CodeNodeError          Code = 7
	CodeBadArguments       Code = 8
	CodeTryAgainLater      Code = 9
	CodePaymentFailed      Code = 10
	CodeSunset             Code = 11
)

// Error carries a stable code, the client-facing message and, optionally,
// the internal cause. The cause is never shown to clients.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("code %d: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of e with cause attached.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Err: cause}
}

// WithMessage returns a copy of e with a more specific client message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg, Err: e.Err}
}

var (
	BadAuth            = &Error{Code: CodeBadAuth, Message: "bad auth"}
	NotEnoughBalance   = &Error{Code: CodeNotEnoughBalance, Message: "not enough balance. Make sure you have at least 1% reserved for potential fees"}
	NotAValidInvoice   = &Error{Code: CodeNotAValidInvoice, Message: "not a valid invoice"}
	GeneralServerError = &Error{Code: CodeGeneralServerError, Message: "Something went wrong. Please try again later"}
	NodeError          = &Error{Code: CodeNodeError, Message: "Your node is not responding. Please try again later"}
	BadArguments       = &Error{Code: CodeBadArguments, Message: "Bad arguments"}
	TryAgainLater      = &Error{Code: CodeTryAgainLater, Message: "Your previous payment is in transit. Try again in 5 minutes"}
	PaymentFailed      = &Error{Code: CodePaymentFailed, Message: "Payment failed. Does the receiver have enough inbound capacity?"}
	Sunset             = &Error{Code: CodeSunset, Message: "This LNDHub instance is not accepting any more users"}
)

// From returns the *Error in err's chain, or GeneralServerError wrapping err.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return GeneralServerError.Wrap(err)
}
