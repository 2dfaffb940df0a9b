package apperrors

import (
	"errors"
	"fmt"
)

// Error kinds. Every *Error matches exactly one of these through errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrExternalService = errors.New("external service error")
	ErrInternal        = errors.New("internal error")
)

const (
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeTableNotFound        = "TABLE_NOT_FOUND"
	CodeMenuItemNotFound     = "MENU_ITEM_NOT_FOUND"
	CodeOrderNotFound        = "ORDER_NOT_FOUND"
	CodeSessionNotFound      = "SESSION_NOT_FOUND"
	CodeTableStateConflict   = "TABLE_STATE_CONFLICT"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeStockInsufficient    = "STOCK_INSUFFICIENT"
	CodeTableUpdateFailed    = "TABLE_UPDATE_FAILED"
	CodeSessionClosed        = "SESSION_CLOSED"
	CodeSessionExpired       = "SESSION_EXPIRED"
	CodeQRTokenExpired       = "QR_TOKEN_EXPIRED"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeTokenInvalid         = "TOKEN_INVALID"
	CodeTokenMalformed       = "TOKEN_MALFORMED"
	CodePaymentProviderError = "PAYMENT_PROVIDER_ERROR"
	CodePersistenceFailed    = "PERSISTENCE_FAILED"
	CodeCheckoutInProgress   = "CHECKOUT_IN_PROGRESS"
	CodeOrderAlreadyPaid     = "ORDER_ALREADY_PAID"
	CodeOrderClosed          = "ORDER_CLOSED"
	CodeCatalogUnavailable   = "MENU_CATALOG_UNAVAILABLE"
	CodeCheckoutNotStarted   = "CHECKOUT_NOT_STARTED"
)

// Error carries enough context (code plus offending ids/fields) for the
// HTTP layer to render a message without re-running the operation.
type Error struct {
	Kind    error
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// With returns a copy of e with an extra detail attached.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newError(kind error, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func Validation(field, msg string) *Error {
	return newError(ErrValidation, CodeValidationFailed, msg, nil).With("field", field)
}

func NotFound(code, msg, id string) *Error {
	return newError(ErrNotFound, code, msg, nil).With("id", id)
}

func Conflict(code, msg string) *Error {
	return newError(ErrConflict, code, msg, nil)
}

func External(code, msg string, err error) *Error {
	return newError(ErrExternalService, code, msg, err)
}

func Internal(msg string, err error) *Error {
	return newError(ErrInternal, CodePersistenceFailed, msg, err)
}

// InvalidTransition reports an edge missing from a transition table.
func InvalidTransition(entity, from, to string) *Error {
	return Conflict(CodeInvalidTransition, fmt.Sprintf("%s cannot move from %s to %s", entity, from, to)).
		With("from", from).
		With("to", to)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return CodeOf(err) == code
}
