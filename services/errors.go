package services

import (
	"errors"
	"fmt"
	"game-session-system/models"
)

var (
	ErrMatchNotFound        = errors.New("match not found")
	ErrPlayerNotFound       = errors.New("player not found")
	ErrInstanceNotFound     = errors.New("match instance not found")
	ErrNoOpenMatch          = errors.New("no open match")
	ErrMatchFull            = errors.New("match is full")
	ErrMatchClosed          = errors.New("match is no longer valid")
	ErrNoInstanceAvailable  = errors.New("no instance with free capacity")
	ErrUnsupportedLimitType = models.ErrUnsupportedLimitType
	ErrMatchConfigMissing   = errors.New("match config not found")
	ErrMatchConfigInvalid   = errors.New("match config invalid")
	ErrDuplicatePlayer      = errors.New("player already exists")
	ErrProvisioningFailed   = errors.New("instance provisioning failed")
	ErrInvalidArgument      = errors.New("invalid argument")

	// ErrMatchExpired is a closed match whose time limit passed while it was still marked valid.
	ErrMatchExpired = fmt.Errorf("%w: time limit passed", ErrMatchClosed)
)

// Kind is the caller-facing class of an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindResourceExhausted
	KindClosed
	KindConfiguration
	KindInvalidArgument
	KindDuplicate
	KindProvisioning
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindClosed:
		return "match_closed"
	case KindConfiguration:
		return "configuration"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindDuplicate:
		return "duplicate"
	case KindProvisioning:
		return "provisioning_failed"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// StorageError wraps a database failure with the operation and key involved.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op, key string, err error) error {
	return &StorageError{Op: op, Key: key, Err: err}
}

// ProvisioningError wraps a failure to start a new instance.
type ProvisioningError struct {
	Err error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("%v: %v", ErrProvisioningFailed, e.Err)
}

func (e *ProvisioningError) Unwrap() []error { return []error{ErrProvisioningFailed, e.Err} }

// KindOf classifies err. Domain sentinels win over wrappers.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrMatchNotFound), errors.Is(err, ErrPlayerNotFound), errors.Is(err, ErrInstanceNotFound):
		return KindNotFound
	case errors.Is(err, ErrMatchFull), errors.Is(err, ErrNoInstanceAvailable):
		return KindResourceExhausted
	case errors.Is(err, ErrMatchClosed):
		return KindClosed
	case errors.Is(err, ErrMatchConfigMissing), errors.Is(err, ErrMatchConfigInvalid), errors.Is(err, ErrUnsupportedLimitType):
		return KindConfiguration
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrDuplicatePlayer):
		return KindDuplicate
	case errors.Is(err, ErrProvisioningFailed):
		return KindProvisioning
	}
	var se *StorageError
	if errors.As(err, &se) {
		return KindStorage
	}
	return KindUnknown
}
