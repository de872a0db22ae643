package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/pborman/uuid"

	"github.com/unionhall/referral-app/log"
	"github.com/unionhall/referral-app/referral/models"
)

// SubmitBid records a worker's bid on an open labor request. Bids are only
// accepted inside the overnight window and never from a banned worker.
func (e *enforcer) SubmitBid(ctx context.Context, workerID string, requestID uuid.UUID, audit models.AuditContext) (*models.Bid, error) {
	now := timeNow()

	if !e.insideBidWindow(now) {
		return nil, &models.OutsideWindowError{At: now,
			WindowOpen: e.cfg.BidWindowOpen, WindowClose: e.cfg.BidWindowClose}
	}

	var bid *models.Bid
	err := e.tx.InTx(ctx, func(r models.Repository) error {
		ban, err := r.GetActiveBidBan(ctx, workerID, now)
		if err != nil {
			return err
		}
		if ban != nil {
			return &models.IneligibleError{WorkerID: workerID,
				Reason: fmt.Sprintf("bidding ban in effect until %s", ban.EndsAt.Format("2006-01-02"))}
		}

		req, err := r.GetLaborRequestByID(ctx, requestID)
		if err != nil {
			return err
		}
		if !req.Open() {
			return &models.RequestNotOpenError{RequestID: req.ID, Status: req.Status}
		}

		b := models.Bid{
			WorkerID:    workerID,
			RequestID:   requestID,
			SubmittedAt: now,
			Outcome:     models.BidPending,
		}
		id, err := r.CreateBid(ctx, b)
		if err != nil {
			return err
		}
		b.ID = id
		bid = &b

		_, err = r.CreateActivityRecord(ctx, models.ActivityRecord{
			WorkerID:   workerID,
			Action:     models.ActionBidSubmitted,
			Actor:      audit.Actor,
			SourceIP:   audit.SourceIP,
			Reason:     fmt.Sprintf("bid on request %s", requestID),
			RecordedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return bid, nil
}

func (e *enforcer) AcceptBid(ctx context.Context, bidID uint, audit models.AuditContext) error {
	return e.tx.InTx(ctx, func(r models.Repository) error {
		return r.UpdateBidOutcome(ctx, bidID, models.BidAccepted, timeNow())
	})
}

// RejectBid marks the bid rejected and, when the worker crosses the rejection
// limit inside the rolling window, imposes a bidding ban.
func (e *enforcer) RejectBid(ctx context.Context, bidID uint, workerID string, audit models.AuditContext) error {
	return e.tx.InTx(ctx, func(r models.Repository) error {
		now := timeNow()

		if err := r.UpdateBidOutcome(ctx, bidID, models.BidRejected, now); err != nil {
			return err
		}

		if _, err := r.CreateActivityRecord(ctx, models.ActivityRecord{
			WorkerID:   workerID,
			Action:     models.ActionBidRejected,
			Actor:      audit.Actor,
			SourceIP:   audit.SourceIP,
			RecordedAt: now,
		}); err != nil {
			return err
		}

		since := now.AddDate(0, -e.cfg.BidRejectionWindowMonths, 0)
		rejections, err := r.CountBidRejections(ctx, workerID, since)
		if err != nil {
			return err
		}
		if rejections < e.cfg.BidRejectionLimit {
			return nil
		}

		ban := models.BidBan{
			WorkerID: workerID,
			Reason:   fmt.Sprintf("%d bid rejections within %d months", rejections, e.cfg.BidRejectionWindowMonths),
			StartsAt: now,
			EndsAt:   now.AddDate(0, e.cfg.BidBanMonths, 0),
		}
		if err := r.CreateBidBan(ctx, ban); err != nil {
			return err
		}

		log.API.WithFields(map[string]interface{}{
			"workerID": workerID,
			"endsAt":   ban.EndsAt.Format("2006-01-02"),
		}).Warn("bidding ban imposed")

		_, err = r.CreateActivityRecord(ctx, models.ActivityRecord{
			WorkerID:   workerID,
			Action:     models.ActionBidBan,
			Actor:      models.System("bid-discipline").Actor,
			Reason:     ban.Reason,
			RecordedAt: now,
		})
		return err
	})
}

// insideBidWindow checks the local wall clock against the overnight window.
// The window spans midnight, so the test is open-or-later OR before-close.
func (e *enforcer) insideBidWindow(t time.Time) bool {
	open, _ := time.Parse("15:04", e.cfg.BidWindowOpen)
	close, _ := time.Parse("15:04", e.cfg.BidWindowClose)

	minutes := t.Hour()*60 + t.Minute()
	openMin := open.Hour()*60 + open.Minute()
	closeMin := close.Hour()*60 + close.Minute()

	if openMin > closeMin {
		return minutes >= openMin || minutes < closeMin
	}
	return minutes >= openMin && minutes < closeMin
}
