package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition         = errors.New("invalid transition")
	ErrNoEligibleBroker          = errors.New("no eligible broker")
	ErrClassificationUnavailable = errors.New("classification unavailable")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrShipmentNotFound          = errors.New("shipment not found")
	ErrInvalidInput              = errors.New("invalid input")
	ErrConflict                  = errors.New("concurrent update conflict")
	ErrTemporary                 = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// TransitionError reports a rejected lifecycle event.
type TransitionError struct {
	From   Status
	Event  EventKind
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("cannot apply %s in status %s", e.Event, e.From)
	}
	return fmt.Sprintf("cannot apply %s in status %s: %s", e.Event, e.From, e.Reason)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
