package archive

import "errors"

var (
	ErrInvalidConfig      = errors.New("archive: invalid configuration")
	ErrFailedToLoadConfig = errors.New("archive: failed to load AWS configuration")
	ErrEncode             = errors.New("archive: failed to encode jobs")
	ErrDecode             = errors.New("archive: failed to decode jobs")
	ErrUpload             = errors.New("archive: upload failed")
	ErrAccessDenied       = errors.New("archive: access denied")
	ErrBucketNotFound     = errors.New("archive: bucket not found")
	ErrServiceUnavailable = errors.New("archive: storage service unavailable")
	ErrOperationTimeout   = errors.New("archive: operation timed out")
	ErrOperationCanceled  = errors.New("archive: operation canceled")
)
