package errors

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalid         = errors.New("invalid")
	ErrConflict        = errors.New("conflict")
	ErrTooMany         = errors.New("too many requests")
	ErrInternal        = errors.New("internal")
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrEmptyDocument   = errors.New("document has no extractable text")
	ErrNotReady        = errors.New("document not ready")
	ErrInviteRequired  = errors.New("invitation required")
	ErrInviteExpired   = errors.New("invitation expired")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
