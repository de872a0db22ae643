package models

import (
	"context"
	"time"

	"github.com/pborman/uuid"
	"github.com/shopspring/decimal"
)

// Repository contains every query the engine runs against the queue store.
// Implementations are expected to be usable both against a plain connection
// and inside a transaction; see the postgres package.
type Repository interface {
	// Books
	CreateBook(ctx context.Context, book Book) error
	GetBookByID(ctx context.Context, bookID uuid.UUID) (*Book, error)
	GetActiveBooks(ctx context.Context) ([]*Book, error)
	// LockBook serializes registration and dispatch mutations per book. It is
	// only meaningful inside a transaction.
	LockBook(ctx context.Context, bookID uuid.UUID) error

	// Registrations
	CreateRegistration(ctx context.Context, reg Registration) (uint, error)
	GetRegistrationByID(ctx context.Context, id uint) (*Registration, error)
	// GetRegistrationsByBook returns registrations in ascending
	// priority-number order, optionally filtered by status.
	GetRegistrationsByBook(ctx context.Context, bookID uuid.UUID, statuses ...RegistrationStatus) ([]*Registration, error)
	GetRegistrationsByWorker(ctx context.Context, workerID string, statuses ...RegistrationStatus) ([]*Registration, error)
	// GetMaxPriorityNumber returns the highest priority number in
	// [lower, upper) for the book, or a null decimal when none exists.
	GetMaxPriorityNumber(ctx context.Context, bookID uuid.UUID, lower, upper decimal.Decimal) (decimal.NullDecimal, error)
	// UpdateRegistrationStatus transitions a registration from one status to
	// another. The from-status acts as an optimistic guard: zero rows
	// affected means the registration moved concurrently.
	UpdateRegistrationStatus(ctx context.Context, id uint, from, to RegistrationStatus) error
	UpdateRegistrationReSign(ctx context.Context, id uint, at time.Time) error
	UpdateRegistrationExemption(ctx context.Context, id uint, from, to RegistrationStatus, reason string, until time.Time) error
	UpdateRegistrationCheckMarks(ctx context.Context, id uint, count int) error
	// GetOverdueRegistrations returns REGISTERED entries whose last re-sign is
	// at or before the supplied deadline.
	GetOverdueRegistrations(ctx context.Context, deadline time.Time) ([]*Registration, error)

	// Labor requests
	CreateLaborRequest(ctx context.Context, req LaborRequest) error
	GetLaborRequestByID(ctx context.Context, requestID uuid.UUID) (*LaborRequest, error)
	// GetOpenLaborRequests returns OPEN and PARTIALLY_FILLED requests,
	// optionally scoped to a book, received at or before the cutoff. A zero
	// cutoff disables the time filter.
	GetOpenLaborRequests(ctx context.Context, bookID uuid.UUID, receivedBy time.Time) ([]*LaborRequest, error)
	// UpdateLaborRequestFill advances the dispatched count and status. The
	// expected previous count acts as an optimistic guard.
	UpdateLaborRequestFill(ctx context.Context, requestID uuid.UUID, prevDispatched, newDispatched int, status RequestStatus) error
	CancelLaborRequest(ctx context.Context, requestID uuid.UUID) error

	// Dispatches
	CreateDispatch(ctx context.Context, d Dispatch) (uint, error)
	GetDispatchByID(ctx context.Context, id uint) (*Dispatch, error)
	GetDispatchesByRegistration(ctx context.Context, registrationID uint) ([]*Dispatch, error)
	TerminateDispatch(ctx context.Context, id uint, outcome TerminationOutcome, reason string, at time.Time) error
	// CountShortCallDispatches counts the worker's short-call dispatches
	// created at or after the supplied time; used for the per-cycle cap.
	// A dispatch flagged short that terminated more than maxDays after its
	// start ran long and does not count.
	CountShortCallDispatches(ctx context.Context, workerID string, since time.Time, maxDays int) (int, error)
	// GetTerminationsByWorkerEmployer returns dispatches for the pair
	// terminated at or after the supplied time; used for blackout checks.
	GetTerminationsByWorkerEmployer(ctx context.Context, workerID, employerID string, since time.Time) ([]*Dispatch, error)

	// Check marks
	CreateCheckMark(ctx context.Context, mark CheckMark) (uint, error)
	CountLiveCheckMarks(ctx context.Context, workerID string) (int, error)
	ClearCheckMarks(ctx context.Context, workerID string) error

	// Bids
	CreateBid(ctx context.Context, bid Bid) (uint, error)
	UpdateBidOutcome(ctx context.Context, bidID uint, outcome BidOutcome, at time.Time) error
	CountBidRejections(ctx context.Context, workerID string, since time.Time) (int, error)
	CreateBidBan(ctx context.Context, ban BidBan) error
	GetActiveBidBan(ctx context.Context, workerID string, asOf time.Time) (*BidBan, error)

	// Activity log
	CreateActivityRecord(ctx context.Context, rec ActivityRecord) (uint, error)
	GetActivityRecordsByWorker(ctx context.Context, workerID string) ([]*ActivityRecord, error)
	// HasActivityRecord reports whether a record already exists for the
	// (registration, action, day) triple; compliance transitions use it to
	// stay idempotent across re-run sweeps.
	HasActivityRecord(ctx context.Context, registrationID uint, action ActivityAction, day time.Time) (bool, error)
}

// TxRunner executes a function against a transaction-scoped Repository,
// committing on nil and rolling back on error.
type TxRunner interface {
	InTx(ctx context.Context, fn func(r Repository) error) error
}
