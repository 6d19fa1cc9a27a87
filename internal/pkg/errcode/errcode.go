package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrUnauthorized
	ErrForbidden
	ErrNotFound
	ErrInvalid
	ErrConflict
	ErrTooMany
	ErrInternal
	ErrInvalidFile
	ErrFileTooLarge
	ErrUnsupportedFile
	ErrEmptyDocument
	ErrUploadFailed
	ErrAIUnavailable
	ErrNotReady
	ErrInviteRequired
	ErrInviteExpired
)
