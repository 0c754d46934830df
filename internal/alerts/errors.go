package alerts

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Error taxonomy. Concrete errors are marked with one of these sentinels, so
// errors.Is works through any amount of wrapping.
var (
	// ErrConfiguration is a programming or deployment error (unknown
	// category, invalid descriptor). Fatal, never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidArgument reports bad query parameters. Not retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorageUnavailable covers connectivity failures and timeouts of the
	// storage collaborator. Retryable.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrPartialData means a descriptor could not be resolved against the
	// live schema. The whole view fails instead of omitting a category.
	ErrPartialData = errors.New("partial data inconsistency")
)

// Kind is the structured classification of an engine error.
type Kind string

const (
	KindNone               Kind = ""
	KindConfiguration      Kind = "configuration_error"
	KindInvalidArgument    Kind = "invalid_argument"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindPartialData        Kind = "partial_data_inconsistency"
	KindCanceled           Kind = "canceled"
	KindInternal           Kind = "internal_error"
)

// Configurationf returns an ErrConfiguration-marked error.
func Configurationf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrConfiguration)
}

// InvalidArgumentf returns an ErrInvalidArgument-marked error.
func InvalidArgumentf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrInvalidArgument)
}

// StorageUnavailable wraps cause and marks it retryable.
func StorageUnavailable(cause error, format string, args ...any) error {
	if cause == nil {
		return errors.Mark(errors.Newf(format, args...), ErrStorageUnavailable)
	}
	return errors.Mark(errors.Wrapf(cause, format, args...), ErrStorageUnavailable)
}

// PartialData wraps cause (which may be nil) and marks it ErrPartialData.
func PartialData(cause error, format string, args ...any) error {
	if cause == nil {
		return errors.Mark(errors.Newf(format, args...), ErrPartialData)
	}
	return errors.Mark(errors.Wrapf(cause, format, args...), ErrPartialData)
}

// KindOf classifies err. Unmarked errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrPartialData):
		return KindPartialData
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindInternal
	}
}

// IsRetryable reports whether the operation that produced err may succeed
// if repeated.
func IsRetryable(err error) bool {
	return KindOf(err) == KindStorageUnavailable
}
