package remote

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"
)

// Kind classifies a remote failure.
type Kind int

const (
	// Transient covers network faults, server errors and anything unclassified.
	Transient Kind = iota
	// AuthFailure means the credential was rejected or lacks permission.
	AuthFailure
	// Throttled means the provider rate limited the call after retries.
	Throttled
	// Unsupported means the operation does not exist for this service, region
	// or client.
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case AuthFailure:
		return "auth_failure"
	case Throttled:
		return "throttled"
	case Unsupported:
		return "unsupported"
	default:
		return "transient"
	}
}

// Error is a classified remote call failure.
type Error struct {
	Kind      Kind
	Service   string
	Region    string
	Operation string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s/%s in %s: %s: %s", e.Service, e.Operation, e.Region, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	authCodes = map[string]bool{
		"AccessDenied":                true,
		"AccessDeniedException":       true,
		"AuthFailure":                 true,
		"AuthorizationError":          true,
		"ExpiredToken":                true,
		"ExpiredTokenException":       true,
		"InvalidAccessKeyId":          true,
		"InvalidClientTokenId":        true,
		"OptInRequired":               true,
		"SignatureDoesNotMatch":       true,
		"UnauthorizedOperation":       true,
		"UnrecognizedClientException": true,
	}
	throttleCodes = map[string]bool{
		"ProvisionedThroughputExceededException": true,
		"RequestLimitExceeded":                   true,
		"RequestThrottled":                       true,
		"RequestThrottledException":              true,
		"SlowDown":                               true,
		"Throttling":                             true,
		"ThrottlingException":                    true,
		"TooManyRequestsException":               true,
	}
	unsupportedCodes = map[string]bool{
		"InvalidAction":             true,
		"OperationNotSupported":     true,
		"UnknownOperationException": true,
		"UnsupportedOperation":      true,
	}
)

type httpStatusError interface {
	HTTPStatusCode() int
}

// Classify maps an error onto a Kind. Errors already classified keep their
// kind; SDK errors are matched on the API error code, then the HTTP status.
// Anything else, including timeouts, is Transient.
func Classify(err error) Kind {
	if err == nil {
		return Transient
	}

	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case authCodes[code]:
			return AuthFailure
		case throttleCodes[code]:
			return Throttled
		case unsupportedCodes[code]:
			return Unsupported
		}
	}

	var statusErr httpStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.HTTPStatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return AuthFailure
		case http.StatusTooManyRequests:
			return Throttled
		case http.StatusNotImplemented:
			return Unsupported
		}
	}

	return Transient
}

func newError(call Call, err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return &Error{
		Kind:      Classify(err),
		Service:   call.Service,
		Region:    call.Region,
		Operation: call.Operation,
		Err:       err,
	}
}

func unsupported(call Call, format string, args ...any) *Error {
	return &Error{
		Kind:      Unsupported,
		Service:   call.Service,
		Region:    call.Region,
		Operation: call.Operation,
		Message:   fmt.Sprintf(format, args...),
	}
}
