package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotAuthorized      = errors.New("not authorized")
	ErrConflict           = errors.New("conflict")
	ErrExternal           = errors.New("external service failure")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("read database row failed")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Entitlements
	ErrKeyNotFound    = &kindError{kind: ErrNotFound, msg: "license key not found"}
	ErrKeyAlreadyUsed = &kindError{kind: ErrConflict, msg: "license key already used"}
	ErrUserNotFound   = &kindError{kind: ErrNotFound, msg: "authorized user not found"}

	// Inventory
	ErrStockNotFound   = &kindError{kind: ErrNotFound, msg: "stock item not found"}
	ErrAccountNotFound = &kindError{kind: ErrNotFound, msg: "sold account not found"}
	ErrDuplicateStock  = &kindError{kind: ErrAlreadyExists, msg: "address is already stocked or sold"}

	// Mailbox
	ErrNoMailboxCredential = &kindError{kind: ErrNotFound, msg: "no mailbox credential configured"}
	ErrFetchInProgress     = &kindError{kind: ErrConflict, msg: "a mailbox fetch is already running for this mailbox"}
	ErrMailboxAuth         = &kindError{kind: ErrExternal, msg: "mailbox rejected the credentials"}
	ErrMailboxNetwork      = &kindError{kind: ErrExternal, msg: "mailbox unreachable"}

	// Locks and scheduling
	ErrLockHeld        = &kindError{kind: ErrConflict, msg: "lock is held by another holder"}
	ErrCycleInProgress = &kindError{kind: ErrConflict, msg: "maintenance cycle already running"}
)

// kindError is a sentinel that also matches its broader kind with errors.Is,
// so callers can test either ErrKeyAlreadyUsed or ErrConflict.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.kind }

// ValidationError reports malformed step input. Field names the offending input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return "invalid " + e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidArgument }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ErrorKind is the coarse taxonomy surfaced to users.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindValidation    ErrorKind = "validation"
	KindNotAuthorized ErrorKind = "not_authorized"
	KindNotFound      ErrorKind = "not_found"
	KindConflict      ErrorKind = "conflict"
	KindExternal      ErrorKind = "external"
	KindInternal      ErrorKind = "internal"
)

// Kind classifies err into the taxonomy. Unknown errors are internal.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidArgument):
		return KindValidation
	case errors.Is(err, ErrNotAuthorized):
		return KindNotAuthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAlreadyExists):
		return KindConflict
	case errors.Is(err, ErrExternal):
		return KindExternal
	default:
		return KindInternal
	}
}
