package registration

import (
	"context"
	"time"

	"github.com/pborman/uuid"
	"github.com/shopspring/decimal"

	"github.com/unionhall/referral-app/log"
	"github.com/unionhall/referral-app/referral/constants"
	"github.com/unionhall/referral-app/referral/directory"
	"github.com/unionhall/referral-app/referral/models"
	"github.com/unionhall/referral-app/referral/utils"
)

// WorkerLookup is the slice of the membership directory the manager needs.
// directory.Client satisfies it.
type WorkerLookup interface {
	GetWorker(ctx context.Context, workerID string) (*directory.Worker, error)
}

// Variable substitution to support testing.
var timeNow = time.Now

// Manager owns the registration lifecycle: signing onto a book, re-registering
// after a call ends, and voluntary withdrawal. Every mutation runs in a
// transaction that holds the book's row lock, so priority numbers assigned on
// the same day never collide.
type Manager interface {
	Register(ctx context.Context, bookID uuid.UUID, workerID string, audit models.AuditContext) (*models.Registration, error)
	ReRegister(ctx context.Context, priorRegistrationID uint, audit models.AuditContext) (*models.Registration, error)
	Withdraw(ctx context.Context, registrationID uint, reason string, audit models.AuditContext) error
	Queue(ctx context.Context, bookID uuid.UUID) ([]*models.Registration, error)
	History(ctx context.Context, workerID string) ([]*models.ActivityRecord, error)
}

type manager struct {
	tx   models.TxRunner
	repo models.Repository
	dir  WorkerLookup

	epoch time.Time
	step  decimal.Decimal
}

var _ Manager = &manager{}

// NewManager builds the registration service. A nil dir disables the
// directory standing check.
func NewManager(tx models.TxRunner, repo models.Repository, dir WorkerLookup, epoch time.Time, step decimal.Decimal) Manager {
	return &manager{tx: tx, repo: repo, dir: dir, epoch: epoch, step: step}
}

func (m *manager) Register(ctx context.Context, bookID uuid.UUID, workerID string, audit models.AuditContext) (*models.Registration, error) {
	if err := m.checkStanding(ctx, workerID); err != nil {
		return nil, err
	}

	var reg *models.Registration

	err := m.tx.InTx(ctx, func(r models.Repository) error {
		if err := r.LockBook(ctx, bookID); err != nil {
			return err
		}

		book, err := r.GetBookByID(ctx, bookID)
		if err != nil {
			return err
		}
		if !book.Active {
			return &models.InvalidStateError{Entity: "book", ID: bookID.String(),
				State: "inactive", Action: "register"}
		}

		if err := m.checkDuplicateClassification(ctx, r, workerID, book.Classification); err != nil {
			return err
		}

		apn, err := m.nextPriorityNumber(ctx, r, bookID)
		if err != nil {
			return err
		}

		reg, err = m.createRegistration(ctx, r, book, workerID, apn, models.ActionRegister,
			decimal.NullDecimal{}, audit)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.API.WithFields(logFields(reg)).Info("worker registered")
	return reg, nil
}

// ReRegister places a worker back on the book a terminal registration came
// from. A short call completed within the short-call limit restores the prior
// priority number; any other ending earns a fresh, strictly later one.
func (m *manager) ReRegister(ctx context.Context, priorRegistrationID uint, audit models.AuditContext) (*models.Registration, error) {
	var reg *models.Registration

	err := m.tx.InTx(ctx, func(r models.Repository) error {
		prior, err := r.GetRegistrationByID(ctx, priorRegistrationID)
		if err != nil {
			return err
		}
		if !prior.Status.Terminal() {
			return &models.InvalidStateError{Entity: "registration", ID: prior.WorkerID,
				State: string(prior.Status), Action: "re-register"}
		}

		if err := r.LockBook(ctx, prior.BookID); err != nil {
			return err
		}

		book, err := r.GetBookByID(ctx, prior.BookID)
		if err != nil {
			return err
		}
		if !book.Active {
			return &models.InvalidStateError{Entity: "book", ID: book.ID.String(),
				State: "inactive", Action: "re-register"}
		}

		if err := m.checkDuplicateClassification(ctx, r, prior.WorkerID, book.Classification); err != nil {
			return err
		}

		var apn decimal.Decimal
		fastTrack, err := m.shortCallCompleted(ctx, r, prior)
		if err != nil {
			return err
		}
		if fastTrack {
			apn = prior.PriorityNumber
		} else {
			if apn, err = m.nextPriorityNumber(ctx, r, prior.BookID); err != nil {
				return err
			}
		}

		reg, err = m.createRegistration(ctx, r, book, prior.WorkerID, apn, models.ActionReRegister,
			decimal.NullDecimal{Decimal: prior.PriorityNumber, Valid: true}, audit)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.API.WithFields(logFields(reg)).Info("worker re-registered")
	return reg, nil
}

func (m *manager) Withdraw(ctx context.Context, registrationID uint, reason string, audit models.AuditContext) error {
	return m.tx.InTx(ctx, func(r models.Repository) error {
		reg, err := r.GetRegistrationByID(ctx, registrationID)
		if err != nil {
			return err
		}
		if reg.Status != models.RegistrationRegistered && reg.Status != models.RegistrationExempt {
			return &models.InvalidStateError{Entity: "registration", ID: reg.WorkerID,
				State: string(reg.Status), Action: "withdraw"}
		}

		if err := r.LockBook(ctx, reg.BookID); err != nil {
			return err
		}

		if err := r.UpdateRegistrationStatus(ctx, reg.ID, reg.Status, models.RegistrationRolledOff); err != nil {
			return err
		}

		_, err = r.CreateActivityRecord(ctx, models.ActivityRecord{
			WorkerID:       reg.WorkerID,
			BookID:         reg.BookID,
			RegistrationID: reg.ID,
			Action:         models.ActionWithdraw,
			PrevStatus:     string(reg.Status),
			NewStatus:      string(models.RegistrationRolledOff),
			PrevPosition:   decimal.NullDecimal{Decimal: reg.PriorityNumber, Valid: true},
			Actor:          audit.Actor,
			SourceIP:       audit.SourceIP,
			Reason:         reason,
			RecordedAt:     timeNow(),
		})
		return err
	})
}

// Queue returns the book's live entries in dispatch order.
func (m *manager) Queue(ctx context.Context, bookID uuid.UUID) ([]*models.Registration, error) {
	return m.repo.GetRegistrationsByBook(ctx, bookID,
		models.RegistrationRegistered, models.RegistrationExempt)
}

func (m *manager) History(ctx context.Context, workerID string) ([]*models.ActivityRecord, error) {
	return m.repo.GetActivityRecordsByWorker(ctx, workerID)
}

// nextPriorityNumber computes the APN for a registrant signing the book now.
// The integer part is the day ordinal since the epoch; the fraction advances
// by one step past today's highest assignment. The book lock must already be
// held.
func (m *manager) nextPriorityNumber(ctx context.Context, r models.Repository, bookID uuid.UUID) (decimal.Decimal, error) {
	lower := decimal.NewFromInt(int64(utils.DaysSince(m.epoch, timeNow())))
	upper := lower.Add(decimal.NewFromInt(1))

	max, err := r.GetMaxPriorityNumber(ctx, bookID, lower, upper)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if max.Valid {
		return max.Decimal.Add(m.step), nil
	}
	return lower.Add(m.step), nil
}

// checkStanding confirms the worker exists in the membership directory and is
// in good standing. The directory call is bounded by the client's own timeout.
func (m *manager) checkStanding(ctx context.Context, workerID string) error {
	if m.dir == nil {
		return nil
	}

	w, err := m.dir.GetWorker(ctx, workerID)
	if err != nil {
		return err
	}
	if !w.GoodStanding {
		return &models.IneligibleError{WorkerID: workerID, Reason: "not in good standing"}
	}
	return nil
}

func (m *manager) checkDuplicateClassification(ctx context.Context, r models.Repository, workerID, classification string) error {
	live, err := r.GetRegistrationsByWorker(ctx, workerID,
		models.RegistrationRegistered, models.RegistrationExempt)
	if err != nil {
		return err
	}

	for _, reg := range live {
		book, err := r.GetBookByID(ctx, reg.BookID)
		if err != nil {
			return err
		}
		if book.Classification == classification {
			return &models.DuplicateClassificationError{WorkerID: workerID,
				Classification: classification, RegistrationID: reg.ID}
		}
	}

	return nil
}

func (m *manager) createRegistration(ctx context.Context, r models.Repository, book *models.Book,
	workerID string, apn decimal.Decimal, action models.ActivityAction,
	prevPosition decimal.NullDecimal, audit models.AuditContext) (*models.Registration, error) {

	now := timeNow()
	reg := models.Registration{
		BookID:         book.ID,
		WorkerID:       workerID,
		PriorityNumber: apn,
		Status:         models.RegistrationRegistered,
		LastReSignAt:   now,
		CreatedAt:      now,
	}

	id, err := r.CreateRegistration(ctx, reg)
	if err != nil {
		return nil, err
	}
	reg.ID = id

	_, err = r.CreateActivityRecord(ctx, models.ActivityRecord{
		WorkerID:       workerID,
		BookID:         book.ID,
		RegistrationID: id,
		Action:         action,
		NewStatus:      string(models.RegistrationRegistered),
		PrevPosition:   prevPosition,
		NewPosition:    decimal.NullDecimal{Decimal: apn, Valid: true},
		Actor:          audit.Actor,
		SourceIP:       audit.SourceIP,
		RecordedAt:     now,
	})
	if err != nil {
		return nil, err
	}

	return &reg, nil
}

// shortCallCompleted reports whether the registration's most recent dispatch
// was a short call that ran to completion, which earns the worker their prior
// priority number back.
func (m *manager) shortCallCompleted(ctx context.Context, r models.Repository, prior *models.Registration) (bool, error) {
	if prior.Status != models.RegistrationDispatched {
		return false, nil
	}

	dispatches, err := r.GetDispatchesByRegistration(ctx, prior.ID)
	if err != nil {
		return false, err
	}
	if len(dispatches) == 0 {
		return false, nil
	}

	last := dispatches[len(dispatches)-1]
	if !last.ShortCall || last.TerminationOutcome != models.TerminationCompleted {
		return false, nil
	}
	if last.TerminatedAt.IsZero() {
		return false, nil
	}

	// A call flagged short that ran past the limit is a long call after all.
	days := utils.DaysSince(last.StartDate, last.TerminatedAt)
	return days <= constants.ShortCallMaxDays, nil
}

func logFields(reg *models.Registration) map[string]interface{} {
	return map[string]interface{}{
		"workerID":       reg.WorkerID,
		"bookID":         reg.BookID.String(),
		"registrationID": reg.ID,
		"priorityNumber": reg.PriorityNumber.StringFixed(2),
	}
}
