package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrAccountDisabled       = errors.New("account disabled")
	ErrTenantInactive        = errors.New("tenant inactive")
	ErrSessionInvalid        = errors.New("session invalid")
	ErrSessionAlreadyRotated = errors.New("session already rotated")
	ErrElevationExpired      = errors.New("elevation expired")
	ErrInvalidCode           = errors.New("invalid code")
	ErrAlreadyUsed           = errors.New("code already used")
	ErrSigning               = errors.New("signing error")
	ErrStorage               = errors.New("storage error")
	ErrValidation            = errors.New("validation error")
	ErrAccessRevoked         = errors.New("access revoked")
	ErrUnauthorized          = errors.New("unauthorized")
)

func storageError(err error) error {
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

func signingError(err error) error {
	return fmt.Errorf("%w: %v", ErrSigning, err)
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
