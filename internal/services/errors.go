package services

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable machine-readable code attached to every engine
// error. Handlers map kinds to HTTP statuses; callers match with IsKind.
type ErrorKind string

const (
	KindInvalidAmount       ErrorKind = "INVALID_AMOUNT"
	KindSameAccountTransfer ErrorKind = "SAME_ACCOUNT_TRANSFER"
	KindAccountFrozen       ErrorKind = "ACCOUNT_FROZEN"
	KindInvalidPIN          ErrorKind = "INVALID_PIN"
	KindLimitExceeded       ErrorKind = "LIMIT_EXCEEDED"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindAlreadyProcessed    ErrorKind = "ALREADY_PROCESSED"
	KindUnauthorized        ErrorKind = "UNAUTHORIZED"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindStoreUnavailable    ErrorKind = "STORE_UNAVAILABLE"
)

// TransferError carries an error kind plus a human-readable message. Store
// failures additionally wrap the driver error so callers can unwrap it.
type TransferError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *TransferError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *TransferError) Unwrap() error {
	return e.cause
}

// Is matches any TransferError of the same kind, so errors.Is works against
// the sentinel values below even for wrapped store errors.
func (e *TransferError) Is(target error) bool {
	t, ok := target.(*TransferError)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidAmount       = &TransferError{Kind: KindInvalidAmount, Message: "amount must be greater than zero"}
	ErrSameAccountTransfer = &TransferError{Kind: KindSameAccountTransfer, Message: "cannot transfer to the same account"}
	ErrAccountFrozen       = &TransferError{Kind: KindAccountFrozen, Message: "account is not active"}
	ErrInvalidPIN          = &TransferError{Kind: KindInvalidPIN, Message: "invalid PIN"}
	ErrLimitExceeded       = &TransferError{Kind: KindLimitExceeded, Message: "per-transaction limit exceeded"}
	ErrInsufficientBalance = &TransferError{Kind: KindInsufficientBalance, Message: "insufficient balance"}
	ErrAlreadyProcessed    = &TransferError{Kind: KindAlreadyProcessed, Message: "transaction already processed"}
	ErrUnauthorized        = &TransferError{Kind: KindUnauthorized, Message: "unauthorized access"}
	ErrNotFound            = &TransferError{Kind: KindNotFound, Message: "record not found"}
)

// storeUnavailable wraps a database or lock failure. The caller must not
// assume the transfer succeeded.
func storeUnavailable(op string, err error) *TransferError {
	return &TransferError{
		Kind:    KindStoreUnavailable,
		Message: fmt.Sprintf("store unavailable during %s", op),
		cause:   err,
	}
}

// KindOf extracts the error kind, or STORE_UNAVAILABLE for untyped errors
// surfacing from the stores.
func KindOf(err error) ErrorKind {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindStoreUnavailable
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
