package preferences

import "errors"

var (
	ErrUnknownKind     = errors.New("preferences: unknown notification kind")
	ErrLoadPreferences = errors.New("preferences: failed to load preferences")
	ErrNilStore        = errors.New("preferences: store cannot be nil")
)
