package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/parking-settlement/internal/repository"
)

// Error taxonomy.  Every error a service operation returns matches
// exactly one of these with errors.Is.
var (
	ErrNotFound              = errors.New("parking: not found")
	ErrConflict              = errors.New("parking: conflict")
	ErrInsufficientFunds     = errors.New("parking: insufficient funds")
	ErrInvalidInput          = errors.New("parking: invalid input")
	ErrGatewayUnavailable    = errors.New("parking: payment gateway unavailable")
	ErrGatewayRejected       = errors.New("parking: payment gateway rejected request")
	ErrInternalInconsistency = errors.New("parking: internal inconsistency")
)

// Narrower errors, each wrapping one taxonomy entry.
var (
	ErrSpaceNotFound     = fmt.Errorf("%w: space", ErrNotFound)
	ErrSessionNotFound   = fmt.Errorf("%w: session", ErrNotFound)
	ErrPaymentNotFound   = fmt.Errorf("%w: payment", ErrNotFound)
	ErrSpaceOccupied     = fmt.Errorf("%w: space already occupied", ErrConflict)
	ErrVehicleParked     = fmt.Errorf("%w: vehicle already has an active session", ErrConflict)
	ErrSessionNotOpen    = fmt.Errorf("%w: session is not occupied", ErrConflict)
	ErrStatusConflict    = fmt.Errorf("%w: payment already has a different terminal status", ErrConflict)
	ErrNotReconcilable   = fmt.Errorf("%w: session is not pending reconciliation", ErrConflict)
	ErrNegativeDuration  = fmt.Errorf("%w: exit precedes entry", ErrInternalInconsistency)
	ErrShareMismatch     = fmt.Errorf("%w: shares do not sum to fee", ErrInternalInconsistency)
	ErrCentralTillAbsent = fmt.Errorf("%w: central till not provisioned", ErrInternalInconsistency)
)

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parking: invalid %s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidInput) match.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, msg string) error { return &ValidationError{Field: field, Message: msg} }

// notFoundAs rewrites a repository ErrNotFound into the given taxonomy
// error and passes anything else through.
func notFoundAs(err, as error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w (%v)", as, err)
	}
	return err
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
