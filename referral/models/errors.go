package models

import (
	"fmt"
	"time"

	"github.com/pborman/uuid"
)

// DuplicateClassificationError is returned when a worker already holds a
// REGISTERED entry on a book of the same classification.
type DuplicateClassificationError struct {
	WorkerID       string
	Classification string
	RegistrationID uint
}

func (e *DuplicateClassificationError) Error() string {
	return fmt.Sprintf("worker %s already holds registration %d for classification %s",
		e.WorkerID, e.RegistrationID, e.Classification)
}

// InvalidStateError is returned when an operation is attempted on a
// registration or request in an incompatible lifecycle state.
type InvalidStateError struct {
	Entity string
	ID     string
	State  string
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s in state %s does not permit %s", e.Entity, e.ID, e.State, e.Action)
}

// RequestNotOpenError is returned when dispatching against a request that is
// filled, cancelled, or expired.
type RequestNotOpenError struct {
	RequestID uuid.UUID
	Status    RequestStatus
}

func (e *RequestNotOpenError) Error() string {
	return fmt.Sprintf("labor request %s is not open for dispatch (status %s)", e.RequestID, e.Status)
}

// OutsideWindowError is returned for a bid submitted outside the configured
// bidding window.
type OutsideWindowError struct {
	At          time.Time
	WindowOpen  string
	WindowClose string
}

func (e *OutsideWindowError) Error() string {
	return fmt.Sprintf("bid submitted at %s falls outside the bidding window (%s-%s)",
		e.At.Format("15:04"), e.WindowOpen, e.WindowClose)
}

// BlackoutError is returned when a worker is inside the post-termination
// cooldown for an employer.
type BlackoutError struct {
	WorkerID   string
	EmployerID string
	Until      time.Time
}

func (e *BlackoutError) Error() string {
	return fmt.Sprintf("worker %s is blacked out from employer %s until %s",
		e.WorkerID, e.EmployerID, e.Until.Format("2006-01-02"))
}

// IneligibleError is returned when a worker is exempt, check-mark-limited, or
// otherwise excluded from a dispatch.
type IneligibleError struct {
	WorkerID       string
	RegistrationID uint
	Reason         string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("worker %s (registration %d) is ineligible: %s",
		e.WorkerID, e.RegistrationID, e.Reason)
}

// NotFoundError is returned for lookups that match nothing.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// ShortfallError reports a dispatch batch that could not fill the request.
// The batch is rolled back; the request stays open and the shortfall is
// surfaced, never silently dropped.
type ShortfallError struct {
	RequestID uuid.UUID
	Needed    int
	Eligible  int
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("labor request %s needed %d workers but only %d were eligible",
		e.RequestID, e.Needed, e.Eligible)
}
