package dispatch

import (
	"context"
	"time"

	"github.com/pborman/uuid"
	"github.com/shopspring/decimal"

	"github.com/unionhall/referral-app/log"
	"github.com/unionhall/referral-app/referral/compliance"
	"github.com/unionhall/referral-app/referral/constants"
	"github.com/unionhall/referral-app/referral/models"
)

// Variable substitution to support testing.
var timeNow = time.Now

// ComplianceChecker is the slice of the compliance enforcer the engine
// consults per candidate: employer blackout and re-sign currency. Satisfied
// by compliance.Enforcer.
type ComplianceChecker interface {
	IsBlackedOut(ctx context.Context, workerID, employerID string, asOf time.Time) (bool, time.Time, error)
	CheckReSignDue(ctx context.Context, registrationID uint) (compliance.ReSignStatus, int, error)
}

// Engine matches labor requests to registrations. A queue-order batch is
// all-or-nothing: either every requested slot is filled in one transaction or
// nothing is written and the shortfall is surfaced.
type Engine interface {
	SubmitRequest(ctx context.Context, req models.LaborRequest, audit models.AuditContext) (*models.LaborRequest, error)
	Dispatch(ctx context.Context, requestID uuid.UUID, audit models.AuditContext) ([]*models.Dispatch, error)
	// SelectCandidates is the dry run: the registrations Dispatch would pick,
	// in order, with nothing written.
	SelectCandidates(ctx context.Context, requestID uuid.UUID) ([]*models.Registration, error)
	Terminate(ctx context.Context, dispatchID uint, outcome models.TerminationOutcome, reason string, audit models.AuditContext) error
	CancelRequest(ctx context.Context, requestID uuid.UUID, audit models.AuditContext) error
}

type engine struct {
	tx    models.TxRunner
	repo  models.Repository
	rules ComplianceChecker
	cfg   *Config
}

var _ Engine = &engine{}

func NewEngine(tx models.TxRunner, repo models.Repository, rules ComplianceChecker, cfg *Config) Engine {
	return &engine{tx: tx, repo: repo, rules: rules, cfg: cfg}
}

func (e *engine) SubmitRequest(ctx context.Context, req models.LaborRequest, audit models.AuditContext) (*models.LaborRequest, error) {
	if req.WorkersRequested < 1 {
		return nil, &models.InvalidStateError{Entity: "labor request", ID: "new",
			Action: "submit with no workers requested"}
	}
	if req.ByName && req.NamedWorkerID == "" {
		return nil, &models.InvalidStateError{Entity: "labor request", ID: "new",
			Action: "submit by-name without a named worker"}
	}

	book, err := e.repo.GetBookByID(ctx, req.BookID)
	if err != nil {
		return nil, err
	}
	if !book.Active {
		return nil, &models.InvalidStateError{Entity: "book", ID: book.ID.String(),
			State: "inactive", Action: "submit labor request"}
	}

	now := timeNow()
	req.ID = uuid.NewRandom()
	req.Status = models.RequestOpen
	req.WorkersDispatched = 0
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = now
	}
	req.CreatedAt = now

	if err := e.repo.CreateLaborRequest(ctx, req); err != nil {
		return nil, err
	}

	log.Engine.WithFields(map[string]interface{}{
		"requestID":  req.ID.String(),
		"employerID": req.EmployerID,
		"bookID":     req.BookID.String(),
		"requested":  req.WorkersRequested,
		"byName":     req.ByName,
		"shortCall":  req.ShortCall,
	}).Info("labor request received")

	return &req, nil
}

func (e *engine) Dispatch(ctx context.Context, requestID uuid.UUID, audit models.AuditContext) ([]*models.Dispatch, error) {
	var dispatches []*models.Dispatch

	err := e.tx.InTx(ctx, func(r models.Repository) error {
		req, err := r.GetLaborRequestByID(ctx, requestID)
		if err != nil {
			return err
		}
		if !req.Open() {
			return &models.RequestNotOpenError{RequestID: req.ID, Status: req.Status}
		}

		if err := r.LockBook(ctx, req.BookID); err != nil {
			return err
		}

		if req.ByName {
			dispatches, err = e.dispatchByName(ctx, r, req, audit)
			return err
		}
		dispatches, err = e.dispatchQueueOrder(ctx, r, req, audit)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Engine.WithFields(map[string]interface{}{
		"requestID":  requestID.String(),
		"dispatched": len(dispatches),
	}).Info("dispatch complete")

	return dispatches, nil
}

// dispatchQueueOrder walks the book in ascending priority-number order and
// fills every requested slot or fails the whole batch.
func (e *engine) dispatchQueueOrder(ctx context.Context, r models.Repository, req *models.LaborRequest, audit models.AuditContext) ([]*models.Dispatch, error) {
	candidates, err := e.eligibleCandidates(ctx, r, req, req.Remaining())
	if err != nil {
		return nil, err
	}
	if len(candidates) < req.Remaining() {
		return nil, &models.ShortfallError{RequestID: req.ID,
			Needed: req.Remaining(), Eligible: len(candidates)}
	}

	method := models.MethodQueueOrder
	if req.ShortCall {
		method = models.MethodShortCall
	}

	now := timeNow()
	var dispatches []*models.Dispatch
	for _, reg := range candidates {
		d, err := e.createDispatch(ctx, r, req, reg, method, now, audit)
		if err != nil {
			return nil, err
		}
		dispatches = append(dispatches, d)
	}

	if err := r.UpdateLaborRequestFill(ctx, req.ID, req.WorkersDispatched,
		req.WorkersRequested, models.RequestFilled); err != nil {
		return nil, err
	}

	return dispatches, nil
}

// dispatchByName fills one slot with the requested worker. The queue does not
// advance; the bypass is recorded so the skip is visible in the audit trail.
func (e *engine) dispatchByName(ctx context.Context, r models.Repository, req *models.LaborRequest, audit models.AuditContext) ([]*models.Dispatch, error) {
	reg, err := e.namedRegistration(ctx, r, req)
	if err != nil {
		return nil, err
	}

	if err := e.checkEligible(ctx, r, req, reg); err != nil {
		return nil, err
	}

	now := timeNow()
	d, err := e.createDispatch(ctx, r, req, reg, models.MethodByName, now, audit)
	if err != nil {
		return nil, err
	}

	if _, err := r.CreateActivityRecord(ctx, models.ActivityRecord{
		WorkerID:       reg.WorkerID,
		BookID:         req.BookID,
		RegistrationID: reg.ID,
		Action:         models.ActionByNameBypass,
		Actor:          audit.Actor,
		SourceIP:       audit.SourceIP,
		Reason:         "by-name request; queue order not advanced",
		RecordedAt:     now,
	}); err != nil {
		return nil, err
	}

	status := models.RequestPartiallyFilled
	if req.Remaining() == 1 {
		status = models.RequestFilled
	}
	if err := r.UpdateLaborRequestFill(ctx, req.ID, req.WorkersDispatched,
		req.WorkersDispatched+1, status); err != nil {
		return nil, err
	}

	return []*models.Dispatch{d}, nil
}

func (e *engine) SelectCandidates(ctx context.Context, requestID uuid.UUID) ([]*models.Registration, error) {
	req, err := e.repo.GetLaborRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.Open() {
		return nil, &models.RequestNotOpenError{RequestID: req.ID, Status: req.Status}
	}

	if req.ByName {
		reg, err := e.namedRegistration(ctx, e.repo, req)
		if err != nil {
			return nil, err
		}
		if err := e.checkEligible(ctx, e.repo, req, reg); err != nil {
			return nil, err
		}
		return []*models.Registration{reg}, nil
	}

	return e.eligibleCandidates(ctx, e.repo, req, req.Remaining())
}

func (e *engine) Terminate(ctx context.Context, dispatchID uint, outcome models.TerminationOutcome, reason string, audit models.AuditContext) error {
	return e.tx.InTx(ctx, func(r models.Repository) error {
		d, err := r.GetDispatchByID(ctx, dispatchID)
		if err != nil {
			return err
		}

		now := timeNow()
		if err := r.TerminateDispatch(ctx, d.ID, outcome, reason, now); err != nil {
			return err
		}

		_, err = r.CreateActivityRecord(ctx, models.ActivityRecord{
			WorkerID:       d.WorkerID,
			BookID:         nil,
			RegistrationID: d.RegistrationID,
			Action:         models.ActionTerminate,
			NewStatus:      string(outcome),
			Actor:          audit.Actor,
			SourceIP:       audit.SourceIP,
			Reason:         reason,
			RecordedAt:     now,
		})
		return err
	})
}

func (e *engine) CancelRequest(ctx context.Context, requestID uuid.UUID, audit models.AuditContext) error {
	return e.tx.InTx(ctx, func(r models.Repository) error {
		req, err := r.GetLaborRequestByID(ctx, requestID)
		if err != nil {
			return err
		}

		if err := r.CancelLaborRequest(ctx, req.ID); err != nil {
			return err
		}

		_, err = r.CreateActivityRecord(ctx, models.ActivityRecord{
			WorkerID:   req.NamedWorkerID,
			BookID:     req.BookID,
			Action:     models.ActionRequestCancelled,
			Actor:      audit.Actor,
			SourceIP:   audit.SourceIP,
			Reason:     "labor request " + req.ID.String() + " cancelled",
			RecordedAt: timeNow(),
		})
		return err
	})
}

// eligibleCandidates scans the book in priority order and keeps the first
// `needed` registrations that pass every eligibility gate.
func (e *engine) eligibleCandidates(ctx context.Context, r models.Repository, req *models.LaborRequest, needed int) ([]*models.Registration, error) {
	queue, err := r.GetRegistrationsByBook(ctx, req.BookID, models.RegistrationRegistered)
	if err != nil {
		return nil, err
	}

	var candidates []*models.Registration
	for _, reg := range queue {
		if len(candidates) == needed {
			break
		}
		if err := e.checkEligible(ctx, r, req, reg); err != nil {
			log.Engine.WithFields(map[string]interface{}{
				"workerID":  reg.WorkerID,
				"requestID": req.ID.String(),
			}).Debug(err)
			continue
		}
		candidates = append(candidates, reg)
	}

	return candidates, nil
}

func (e *engine) checkEligible(ctx context.Context, r models.Repository, req *models.LaborRequest, reg *models.Registration) error {
	if reg.Status != models.RegistrationRegistered {
		return &models.IneligibleError{WorkerID: reg.WorkerID, RegistrationID: reg.ID,
			Reason: "registration is " + string(reg.Status)}
	}

	// A worker past their re-sign deadline belongs to the sweep, not to a
	// dispatch, even when requested by name.
	status, _, err := e.rules.CheckReSignDue(ctx, reg.ID)
	if err != nil {
		return err
	}
	if status == compliance.ReSignOverdue {
		return &models.IneligibleError{WorkerID: reg.WorkerID, RegistrationID: reg.ID,
			Reason: "re-sign overdue"}
	}

	blacked, until, err := e.rules.IsBlackedOut(ctx, reg.WorkerID, req.EmployerID, timeNow())
	if err != nil {
		return err
	}
	if blacked {
		return &models.BlackoutError{WorkerID: reg.WorkerID, EmployerID: req.EmployerID, Until: until}
	}

	if req.ShortCall {
		since := timeNow().AddDate(0, 0, -e.cfg.ShortCallCycleDays)
		count, err := r.CountShortCallDispatches(ctx, reg.WorkerID, since, constants.ShortCallMaxDays)
		if err != nil {
			return err
		}
		if count >= e.cfg.ShortCallCycleLimit {
			return &models.IneligibleError{WorkerID: reg.WorkerID, RegistrationID: reg.ID,
				Reason: "short call limit reached for this cycle"}
		}
	}

	return nil
}

func (e *engine) createDispatch(ctx context.Context, r models.Repository, req *models.LaborRequest,
	reg *models.Registration, method models.DispatchMethod, now time.Time, audit models.AuditContext) (*models.Dispatch, error) {

	if err := r.UpdateRegistrationStatus(ctx, reg.ID,
		models.RegistrationRegistered, models.RegistrationDispatched); err != nil {
		return nil, err
	}

	d := models.Dispatch{
		RegistrationID: reg.ID,
		RequestID:      req.ID,
		WorkerID:       reg.WorkerID,
		EmployerID:     req.EmployerID,
		Method:         method,
		ShortCall:      req.ShortCall,
		StartDate:      now,
		CreatedAt:      now,
	}
	id, err := r.CreateDispatch(ctx, d)
	if err != nil {
		return nil, err
	}
	d.ID = id

	if _, err := r.CreateActivityRecord(ctx, models.ActivityRecord{
		WorkerID:       reg.WorkerID,
		BookID:         req.BookID,
		RegistrationID: reg.ID,
		Action:         models.ActionDispatch,
		PrevStatus:     string(models.RegistrationRegistered),
		NewStatus:      string(models.RegistrationDispatched),
		PrevPosition:   decimal.NullDecimal{Decimal: reg.PriorityNumber, Valid: true},
		Actor:          audit.Actor,
		SourceIP:       audit.SourceIP,
		Reason:         "dispatched to employer " + req.EmployerID,
		RecordedAt:     now,
	}); err != nil {
		return nil, err
	}

	return &d, nil
}

// namedRegistration finds the named worker's live entry on the request's book.
func (e *engine) namedRegistration(ctx context.Context, r models.Repository, req *models.LaborRequest) (*models.Registration, error) {
	regs, err := r.GetRegistrationsByWorker(ctx, req.NamedWorkerID,
		models.RegistrationRegistered, models.RegistrationExempt)
	if err != nil {
		return nil, err
	}

	for _, reg := range regs {
		if uuid.Equal(reg.BookID, req.BookID) {
			return reg, nil
		}
	}

	return nil, &models.NotFoundError{Entity: "registration for worker", ID: req.NamedWorkerID}
}
