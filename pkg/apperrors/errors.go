package apperrors

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUpstreamQuery      = errors.New("upstream query failed")
	ErrMalformedReference = errors.New("malformed node reference")
	ErrInvalidStatType    = errors.New("invalid stat type")
	ErrInvalidAttribute   = errors.New("invalid attribute")
)
