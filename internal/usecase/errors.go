package usecase

import (
	"context"
	"errors"
	"fmt"
	"net"
)

type ErrorCode string

const (
	ErrorVerificationFailed ErrorCode = "VERIFICATION_FAILED"
	ErrorMalformedPayload   ErrorCode = "MALFORMED_PAYLOAD"
	ErrorCustomerNotFound   ErrorCode = "CUSTOMER_NOT_FOUND"
	ErrorStore              ErrorCode = "STORE_ERROR"
	ErrorProvider           ErrorCode = "PROVIDER_ERROR"
	ErrorProviderTimeout    ErrorCode = "PROVIDER_TIMEOUT"
	ErrorToolArgumentParse  ErrorCode = "TOOL_ARGUMENT_PARSE"
	ErrorDelivery           ErrorCode = "DELIVERY_ERROR"
	ErrorConversationBusy   ErrorCode = "CONVERSATION_BUSY"
	ErrorInternal           ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var ue *Error
	if !errors.As(err, &ue) {
		return "", false
	}
	return ue.Code, true
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// providerError classifies an LLM failure as a timeout or a generic provider error.
func providerError(reason string, err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return newError(ErrorProviderTimeout, reason, err)
	}
	return newError(ErrorProvider, reason, err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
