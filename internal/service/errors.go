package service

import "errors"

var (
	// ErrUnsupportedSourceType is returned for source types no loader handles.
	ErrUnsupportedSourceType = errors.New("unsupported source type")
	// ErrInvalidSource is returned when a source cannot be read or parsed.
	ErrInvalidSource = errors.New("invalid source")
	// ErrInvalidProcessingType is returned for unknown processing types.
	ErrInvalidProcessingType = errors.New("invalid processing type")

	errClaimLost = errors.New("claim no longer held")
)
