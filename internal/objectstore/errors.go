package objectstore

import "errors"

var (
	ErrNotFound         = errors.New("object not found")
	ErrStoreUnavailable = errors.New("object store unavailable")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrInvalidKey       = errors.New("invalid object key")
)
