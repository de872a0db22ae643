package models

import (
	"time"

	"github.com/pborman/uuid"
	"github.com/shopspring/decimal"
)

// RegistrationStatus is the lifecycle state of a worker's position on a book.
type RegistrationStatus string

const (
	RegistrationRegistered RegistrationStatus = "REGISTERED"
	RegistrationDispatched RegistrationStatus = "DISPATCHED"
	RegistrationRolledOff  RegistrationStatus = "ROLLED_OFF"
	RegistrationExempt     RegistrationStatus = "EXEMPT"
	RegistrationExpired    RegistrationStatus = "EXPIRED"
)

// Terminal reports whether a registration in this status has left the queue
// for good. Exempt entries keep their position and are not terminal.
func (s RegistrationStatus) Terminal() bool {
	switch s {
	case RegistrationDispatched, RegistrationRolledOff, RegistrationExpired:
		return true
	}
	return false
}

type RequestStatus string

const (
	RequestOpen            RequestStatus = "OPEN"
	RequestPartiallyFilled RequestStatus = "PARTIALLY_FILLED"
	RequestFilled          RequestStatus = "FILLED"
	RequestCancelled       RequestStatus = "CANCELLED"
	RequestExpired         RequestStatus = "EXPIRED"
)

type DispatchMethod string

const (
	MethodQueueOrder DispatchMethod = "QUEUE_ORDER"
	MethodByName     DispatchMethod = "BY_NAME"
	MethodShortCall  DispatchMethod = "SHORT_CALL"
)

type TerminationOutcome string

const (
	TerminationCompleted  TerminationOutcome = "COMPLETED"
	TerminationQuit       TerminationOutcome = "QUIT"
	TerminationDischarged TerminationOutcome = "DISCHARGED"
)

type BidOutcome string

const (
	BidPending  BidOutcome = "PENDING"
	BidAccepted BidOutcome = "ACCEPTED"
	BidRejected BidOutcome = "REJECTED"
)

// ActivityAction identifies the transition an ActivityRecord describes.
type ActivityAction string

const (
	ActionRegister         ActivityAction = "REGISTER"
	ActionReRegister       ActivityAction = "RE_REGISTER"
	ActionReSign           ActivityAction = "RE_SIGN"
	ActionRollOff          ActivityAction = "ROLL_OFF"
	ActionWithdraw         ActivityAction = "WITHDRAW"
	ActionDispatch         ActivityAction = "DISPATCH"
	ActionTerminate        ActivityAction = "TERMINATE"
	ActionExempt           ActivityAction = "EXEMPT"
	ActionClearExemption   ActivityAction = "CLEAR_EXEMPTION"
	ActionCheckMark        ActivityAction = "CHECK_MARK"
	ActionCheckMarkCascade ActivityAction = "CHECK_MARK_CASCADE"
	ActionBidSubmitted     ActivityAction = "BID_SUBMITTED"
	ActionBidRejected      ActivityAction = "BID_REJECTED"
	ActionBidBan           ActivityAction = "BID_BAN"
	ActionRequestCancelled ActivityAction = "REQUEST_CANCELLED"
	ActionByNameBypass     ActivityAction = "BY_NAME_BYPASS"
)

// Book is a named priority queue of registrations for one worker
// classification and region. Immutable once created except for the active flag.
type Book struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Classification string    `json:"classification"`
	Region         string    `json:"region"`
	Tier           int       `json:"tier"` // 1 (highest priority) through 4
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

// Registration is one worker's position on one book. The priority number is an
// exact decimal: the integer part is an enrollment-date ordinal and the
// fractional part breaks ties within a day. It is never truncated and never
// compared as a float.
type Registration struct {
	ID             uint               `json:"id"`
	BookID         uuid.UUID          `json:"book_id"`
	WorkerID       string             `json:"worker_id"`
	PriorityNumber decimal.Decimal    `json:"priority_number"`
	Status         RegistrationStatus `json:"status"`
	CheckMarkCount int                `json:"check_mark_count"`
	LastReSignAt   time.Time          `json:"last_re_sign_at"`
	ExemptReason   string             `json:"exempt_reason,omitempty"`
	ExemptUntil    time.Time          `json:"exempt_until,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// LaborRequest is an employer's ask for workers against a book.
type LaborRequest struct {
	ID                uuid.UUID     `json:"id"`
	EmployerID        string        `json:"employer_id"`
	BookID            uuid.UUID     `json:"book_id"`
	WorkersRequested  int           `json:"workers_requested"`
	WorkersDispatched int           `json:"workers_dispatched"`
	Status            RequestStatus `json:"status"`
	ShortCall         bool          `json:"short_call"`
	ByName            bool          `json:"by_name"`
	NamedWorkerID     string        `json:"named_worker_id,omitempty"`
	AgreementType     string        `json:"agreement_type"`
	ReceivedAt        time.Time     `json:"received_at"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Remaining is the unfilled portion of the request.
func (r *LaborRequest) Remaining() int {
	return r.WorkersRequested - r.WorkersDispatched
}

// Open reports whether the request can still accept dispatches.
func (r *LaborRequest) Open() bool {
	return r.Status == RequestOpen || r.Status == RequestPartiallyFilled
}

// Dispatch binds exactly one registration to one labor request at a point in
// time. A dispatch transitions its registration out of REGISTERED.
type Dispatch struct {
	ID                 uint               `json:"id"`
	RegistrationID     uint               `json:"registration_id"`
	RequestID          uuid.UUID          `json:"request_id"`
	WorkerID           string             `json:"worker_id"`
	EmployerID         string             `json:"employer_id"`
	Method             DispatchMethod     `json:"method"`
	ShortCall          bool               `json:"short_call"`
	StartDate          time.Time          `json:"start_date"`
	TerminatedAt       time.Time          `json:"terminated_at,omitempty"`
	TerminationOutcome TerminationOutcome `json:"termination_outcome,omitempty"`
	TerminationReason  string             `json:"termination_reason,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

// CheckMark is a penalty event tied to a registration. Three live marks force
// roll-off from every book the worker holds a position on.
type CheckMark struct {
	ID             uint      `json:"id"`
	RegistrationID uint      `json:"registration_id"`
	WorkerID       string    `json:"worker_id"`
	Reason         string    `json:"reason"`
	IssuedAt       time.Time `json:"issued_at"`
	Cleared        bool      `json:"cleared"`
}

// Bid is a worker-submitted, time-windowed request for a specific labor
// request. Rejections accumulate toward a rolling 12-month ban threshold.
type Bid struct {
	ID          uint       `json:"id"`
	WorkerID    string     `json:"worker_id"`
	RequestID   uuid.UUID  `json:"request_id"`
	SubmittedAt time.Time  `json:"submitted_at"`
	Outcome     BidOutcome `json:"outcome"`
	DecidedAt   time.Time  `json:"decided_at,omitempty"`
}

// BidBan bars a worker from bidding for its duration.
type BidBan struct {
	ID       uint      `json:"id"`
	WorkerID string    `json:"worker_id"`
	Reason   string    `json:"reason"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// ActivityRecord is one append-only fact describing a transition. Records are
// never updated or deleted; corrections are new compensating records. This is
// the sole source of truth for history and compliance reporting.
type ActivityRecord struct {
	ID             uint                `json:"id"`
	WorkerID       string              `json:"worker_id"`
	BookID         uuid.UUID           `json:"book_id,omitempty"`
	RegistrationID uint                `json:"registration_id,omitempty"`
	Action         ActivityAction      `json:"action"`
	PrevStatus     string              `json:"prev_status,omitempty"`
	NewStatus      string              `json:"new_status,omitempty"`
	PrevPosition   decimal.NullDecimal `json:"prev_position,omitempty"`
	NewPosition    decimal.NullDecimal `json:"new_position,omitempty"`
	Actor          string              `json:"actor"`
	SourceIP       string              `json:"source_ip,omitempty"`
	Reason         string              `json:"reason,omitempty"`
	RecordedAt     time.Time           `json:"recorded_at"`
}

// AuditContext carries attribution for a mutating operation. It is passed
// explicitly into every mutating call rather than held in ambient state.
type AuditContext struct {
	Actor    string
	SourceIP string
}

// System is the audit attribution for engine-initiated transitions (sweeps,
// batch runs).
func System(process string) AuditContext {
	return AuditContext{Actor: process}
}
