package compliance

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pborman/uuid"
	"github.com/shopspring/decimal"

	"github.com/unionhall/referral-app/log"
	"github.com/unionhall/referral-app/referral/models"
)

// Variable substitution to support testing.
var timeNow = time.Now

// ReSignStatus classifies where a registration sits in its re-sign cycle.
type ReSignStatus string

const (
	ReSignOK      ReSignStatus = "OK"
	ReSignDueSoon ReSignStatus = "DUE_SOON"
	ReSignOverdue ReSignStatus = "OVERDUE"
)

// Enforcer applies the hall's standing rules: the re-sign clock, check marks
// and their cascade, exemptions, employer blackouts, and bidding discipline.
type Enforcer interface {
	CheckReSignDue(ctx context.Context, registrationID uint) (ReSignStatus, int, error)
	ReSign(ctx context.Context, registrationID uint, audit models.AuditContext) error
	SweepReSigns(ctx context.Context) (int, error)
	IssueCheckMark(ctx context.Context, registrationID uint, reason string, audit models.AuditContext) error
	Exempt(ctx context.Context, registrationID uint, reason string, until time.Time, audit models.AuditContext) error
	ClearExemption(ctx context.Context, registrationID uint, audit models.AuditContext) error
	IsBlackedOut(ctx context.Context, workerID, employerID string, asOf time.Time) (bool, time.Time, error)
	SubmitBid(ctx context.Context, workerID string, requestID uuid.UUID, audit models.AuditContext) (*models.Bid, error)
	AcceptBid(ctx context.Context, bidID uint, audit models.AuditContext) error
	RejectBid(ctx context.Context, bidID uint, workerID string, audit models.AuditContext) error
}

type enforcer struct {
	tx   models.TxRunner
	repo models.Repository
	cfg  *Config
}

var _ Enforcer = &enforcer{}

func NewEnforcer(tx models.TxRunner, repo models.Repository, cfg *Config) Enforcer {
	return &enforcer{tx: tx, repo: repo, cfg: cfg}
}

// CheckReSignDue reports where the registration sits in its re-sign cycle.
// The day count is days remaining until the deadline, or days past it when
// overdue.
func (e *enforcer) CheckReSignDue(ctx context.Context, registrationID uint) (ReSignStatus, int, error) {
	reg, err := e.repo.GetRegistrationByID(ctx, registrationID)
	if err != nil {
		return "", 0, err
	}
	if reg.Status != models.RegistrationRegistered {
		return "", 0, &models.InvalidStateError{Entity: "registration", ID: reg.WorkerID,
			State: string(reg.Status), Action: "re-sign check"}
	}

	now := timeNow()
	deadline := reg.LastReSignAt.AddDate(0, 0, e.cfg.ReSignIntervalDays)
	if !now.Before(deadline) {
		return ReSignOverdue, int(now.Sub(deadline).Hours() / 24), nil
	}

	remaining := int(deadline.Sub(now).Hours() / 24)
	if remaining <= e.cfg.ReSignDueSoonDays {
		return ReSignDueSoon, remaining, nil
	}
	return ReSignOK, remaining, nil
}

// ReSign restarts the 30-day clock on a REGISTERED entry. An entry past its
// deadline cannot re-sign; it is rolled off by the sweep and the worker must
// re-register for a new priority number.
func (e *enforcer) ReSign(ctx context.Context, registrationID uint, audit models.AuditContext) error {
	return e.tx.InTx(ctx, func(r models.Repository) error {
		reg, err := r.GetRegistrationByID(ctx, registrationID)
		if err != nil {
			return err
		}
		if reg.Status != models.RegistrationRegistered {
			return &models.InvalidStateError{Entity: "registration", ID: reg.WorkerID,
				State: string(reg.Status), Action: "re-sign"}
		}

		now := timeNow()
		if !now.Before(reg.LastReSignAt.AddDate(0, 0, e.cfg.ReSignIntervalDays)) {
			return &models.IneligibleError{WorkerID: reg.WorkerID, RegistrationID: reg.ID,
				Reason: "re-sign window expired"}
		}

		if err := r.UpdateRegistrationReSign(ctx, reg.ID, now); err != nil {
			return err
		}

		_, err = r.CreateActivityRecord(ctx, models.ActivityRecord{
			WorkerID:       reg.WorkerID,
			BookID:         reg.BookID,
			RegistrationID: reg.ID,
			Action:         models.ActionReSign,
			PrevStatus:     string(models.RegistrationRegistered),
			NewStatus:      string(models.RegistrationRegistered),
			Actor:          audit.Actor,
			SourceIP:       audit.SourceIP,
			RecordedAt:     now,
		})
		return err
	})
}

// SweepReSigns rolls off every REGISTERED entry whose re-sign deadline has
// passed. Each entry is handled in its own transaction and a failed entry is
// logged and skipped, so one registration dispatched mid-sweep cannot stall
// the rest of the batch. A marker record per day keeps re-runs idempotent.
func (e *enforcer) SweepReSigns(ctx context.Context) (int, error) {
	now := timeNow()
	deadline := now.AddDate(0, 0, -e.cfg.ReSignIntervalDays)

	overdue, err := e.repo.GetOverdueRegistrations(ctx, deadline)
	if err != nil {
		return 0, err
	}

	var rolled, failed int
	for _, reg := range overdue {
		if err := ctx.Err(); err != nil {
			return rolled, err
		}

		var skipped bool
		err := e.tx.InTx(ctx, func(r models.Repository) error {
			if err := r.LockBook(ctx, reg.BookID); err != nil {
				return err
			}

			done, err := r.HasActivityRecord(ctx, reg.ID, models.ActionRollOff, now)
			if err != nil {
				return err
			}
			if done {
				skipped = true
				return nil
			}

			if err := r.UpdateRegistrationStatus(ctx, reg.ID,
				models.RegistrationRegistered, models.RegistrationRolledOff); err != nil {
				return err
			}

			_, err = r.CreateActivityRecord(ctx, models.ActivityRecord{
				WorkerID:       reg.WorkerID,
				BookID:         reg.BookID,
				RegistrationID: reg.ID,
				Action:         models.ActionRollOff,
				PrevStatus:     string(models.RegistrationRegistered),
				NewStatus:      string(models.RegistrationRolledOff),
				PrevPosition:   decimal.NullDecimal{Decimal: reg.PriorityNumber, Valid: true},
				Actor:          models.System("re-sign-sweep").Actor,
				Reason:         "re-sign window expired",
				RecordedAt:     now,
			})
			return err
		})
		if err != nil {
			failed++
			log.Sweep.WithField("registrationID", reg.ID).Error(err)
			continue
		}
		if !skipped {
			rolled++
		}
	}

	log.Sweep.WithFields(map[string]interface{}{
		"rolledOff": rolled,
		"failed":    failed,
	}).Info("re-sign sweep complete")
	return rolled, nil
}

// IssueCheckMark records a penalty against a registration. Marks are taken
// against REGISTERED entries and against DISPATCHED ones, since most marks
// follow a quit or discharge on the job. When the worker's live marks reach
// the limit, every position they hold is rolled off in one transaction and
// the marks are cleared.
func (e *enforcer) IssueCheckMark(ctx context.Context, registrationID uint, reason string, audit models.AuditContext) error {
	return e.tx.InTx(ctx, func(r models.Repository) error {
		reg, err := r.GetRegistrationByID(ctx, registrationID)
		if err != nil {
			return err
		}
		if reg.Status != models.RegistrationRegistered && reg.Status != models.RegistrationDispatched {
			return &models.InvalidStateError{Entity: "registration", ID: reg.WorkerID,
				State: string(reg.Status), Action: "check mark"}
		}

		now := timeNow()
		if _, err := r.CreateCheckMark(ctx, models.CheckMark{
			RegistrationID: reg.ID,
			WorkerID:       reg.WorkerID,
			Reason:         reason,
			IssuedAt:       now,
		}); err != nil {
			return err
		}

		live, err := r.CountLiveCheckMarks(ctx, reg.WorkerID)
		if err != nil {
			return err
		}

		if err := r.UpdateRegistrationCheckMarks(ctx, reg.ID, reg.CheckMarkCount+1); err != nil {
			return err
		}

		if _, err := r.CreateActivityRecord(ctx, models.ActivityRecord{
			WorkerID:       reg.WorkerID,
			BookID:         reg.BookID,
			RegistrationID: reg.ID,
			Action:         models.ActionCheckMark,
			Actor:          audit.Actor,
			SourceIP:       audit.SourceIP,
			Reason:         reason,
			RecordedAt:     now,
		}); err != nil {
			return err
		}

		if live < e.cfg.CheckMarkLimit {
			return nil
		}
		return e.cascadeRollOff(ctx, r, reg.WorkerID, now)
	})
}

// cascadeRollOff removes the worker from every book they hold a live position
// on. Books are locked in ascending ID order so concurrent cascades cannot
// deadlock.
func (e *enforcer) cascadeRollOff(ctx context.Context, r models.Repository, workerID string, now time.Time) error {
	live, err := r.GetRegistrationsByWorker(ctx, workerID,
		models.RegistrationRegistered, models.RegistrationExempt)
	if err != nil {
		return err
	}

	sort.Slice(live, func(i, j int) bool {
		return bytes.Compare(live[i].BookID, live[j].BookID) < 0
	})

	for _, reg := range live {
		if err := r.LockBook(ctx, reg.BookID); err != nil {
			return err
		}
		if err := r.UpdateRegistrationStatus(ctx, reg.ID, reg.Status, models.RegistrationRolledOff); err != nil {
			return err
		}
		if _, err := r.CreateActivityRecord(ctx, models.ActivityRecord{
			WorkerID:       workerID,
			BookID:         reg.BookID,
			RegistrationID: reg.ID,
			Action:         models.ActionCheckMarkCascade,
			PrevStatus:     string(reg.Status),
			NewStatus:      string(models.RegistrationRolledOff),
			PrevPosition:   decimal.NullDecimal{Decimal: reg.PriorityNumber, Valid: true},
			Actor:          models.System("check-mark-cascade").Actor,
			Reason:         "check mark limit reached",
			RecordedAt:     now,
		}); err != nil {
			return err
		}
	}

	// One book-less marker ties the per-book roll-offs together in history.
	if _, err := r.CreateActivityRecord(ctx, models.ActivityRecord{
		WorkerID:   workerID,
		Action:     models.ActionCheckMarkCascade,
		Actor:      models.System("check-mark-cascade").Actor,
		Reason:     fmt.Sprintf("check mark limit reached; rolled off %d books", len(live)),
		RecordedAt: now,
	}); err != nil {
		return err
	}

	log.Sweep.WithFields(map[string]interface{}{
		"workerID": workerID,
		"books":    len(live),
	}).Info("check mark cascade rolled worker off all books")

	return r.ClearCheckMarks(ctx, workerID)
}

// Exempt freezes a REGISTERED entry in place. The priority number is
// untouched, so the worker resumes at the same position when the exemption
// clears.
func (e *enforcer) Exempt(ctx context.Context, registrationID uint, reason string, until time.Time, audit models.AuditContext) error {
	return e.tx.InTx(ctx, func(r models.Repository) error {
		reg, err := r.GetRegistrationByID(ctx, registrationID)
		if err != nil {
			return err
		}

		if err := r.UpdateRegistrationExemption(ctx, reg.ID,
			models.RegistrationRegistered, models.RegistrationExempt, reason, until); err != nil {
			return err
		}

		_, err = r.CreateActivityRecord(ctx, models.ActivityRecord{
			WorkerID:       reg.WorkerID,
			BookID:         reg.BookID,
			RegistrationID: reg.ID,
			Action:         models.ActionExempt,
			PrevStatus:     string(models.RegistrationRegistered),
			NewStatus:      string(models.RegistrationExempt),
			Actor:          audit.Actor,
			SourceIP:       audit.SourceIP,
			Reason:         reason,
			RecordedAt:     timeNow(),
		})
		return err
	})
}

func (e *enforcer) ClearExemption(ctx context.Context, registrationID uint, audit models.AuditContext) error {
	return e.tx.InTx(ctx, func(r models.Repository) error {
		reg, err := r.GetRegistrationByID(ctx, registrationID)
		if err != nil {
			return err
		}

		if err := r.UpdateRegistrationExemption(ctx, reg.ID,
			models.RegistrationExempt, models.RegistrationRegistered, "", time.Time{}); err != nil {
			return err
		}

		_, err = r.CreateActivityRecord(ctx, models.ActivityRecord{
			WorkerID:       reg.WorkerID,
			BookID:         reg.BookID,
			RegistrationID: reg.ID,
			Action:         models.ActionClearExemption,
			PrevStatus:     string(models.RegistrationExempt),
			NewStatus:      string(models.RegistrationRegistered),
			Actor:          audit.Actor,
			SourceIP:       audit.SourceIP,
			RecordedAt:     timeNow(),
		})
		return err
	})
}

// IsBlackedOut reports whether the worker quit or was discharged by this
// employer within the blackout period, and if so when the blackout lifts.
func (e *enforcer) IsBlackedOut(ctx context.Context, workerID, employerID string, asOf time.Time) (bool, time.Time, error) {
	since := asOf.AddDate(0, 0, -e.cfg.BlackoutDays)
	terms, err := e.repo.GetTerminationsByWorkerEmployer(ctx, workerID, employerID, since)
	if err != nil {
		return false, time.Time{}, err
	}

	var until time.Time
	for _, d := range terms {
		if d.TerminationOutcome != models.TerminationQuit &&
			d.TerminationOutcome != models.TerminationDischarged {
			continue
		}
		lifts := d.TerminatedAt.AddDate(0, 0, e.cfg.BlackoutDays)
		if lifts.After(asOf) && lifts.After(until) {
			until = lifts
		}
	}

	return !until.IsZero(), until, nil
}
