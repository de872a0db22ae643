package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/pborman/uuid"
	"github.com/shopspring/decimal"

	"github.com/unionhall/referral-app/referral/models"
)

type queryable interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type executable interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const (
	sqlFlavor = sqlbuilder.PostgreSQL
)

// Ensure Repository satisfies the interface
var _ models.Repository = &Repository{}

type Repository struct {
	queryable
	executable
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db, db}
}

func NewRepositoryTx(tx *sql.Tx) *Repository {
	return &Repository{tx, tx}
}

func (r *Repository) CreateBook(ctx context.Context, book models.Book) error {
	ib := sqlFlavor.NewInsertBuilder().InsertInto("books").
		Cols("id", "name", "classification", "region", "tier", "active", "created_at").
		Values(book.ID, book.Name, book.Classification, book.Region, book.Tier, book.Active, book.CreatedAt)

	query, args := ib.Build()
	_, err := r.ExecContext(ctx, query, args...)
	return err
}

var bookColumns = []string{"id", "name", "classification", "region", "tier", "active", "created_at"}

func (r *Repository) GetBookByID(ctx context.Context, bookID uuid.UUID) (*models.Book, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(bookColumns...)
	sb.From("books").Where(sb.Equal("id", bookID))

	query, args := sb.Build()

	var book models.Book
	err := r.QueryRowContext(ctx, query, args...).Scan(&book.ID, &book.Name, &book.Classification,
		&book.Region, &book.Tier, &book.Active, &book.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &models.NotFoundError{Entity: "book", ID: bookID.String()}
		}
		return nil, err
	}

	return &book, nil
}

func (r *Repository) GetActiveBooks(ctx context.Context) ([]*models.Book, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(bookColumns...)
	sb.From("books").Where(sb.Equal("active", true))
	sb.OrderBy("tier", "name").Asc()

	query, args := sb.Build()
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []*models.Book
	for rows.Next() {
		var book models.Book
		if err = rows.Scan(&book.ID, &book.Name, &book.Classification,
			&book.Region, &book.Tier, &book.Active, &book.CreatedAt); err != nil {
			return nil, err
		}
		books = append(books, &book)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return books, nil
}

// LockBook takes the book's row lock for the remainder of the transaction.
// Registration and dispatch mutations for one book serialize on it.
func (r *Repository) LockBook(ctx context.Context, bookID uuid.UUID) error {
	query, args := sqlbuilder.Buildf("SELECT id FROM books WHERE id = %s FOR UPDATE", bookID).
		BuildWithFlavor(sqlFlavor)

	var id uuid.UUID
	if err := r.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.NotFoundError{Entity: "book", ID: bookID.String()}
		}
		return err
	}
	return nil
}

var registrationColumns = []string{"id", "book_id", "worker_id", "priority_number", "status",
	"check_mark_count", "last_re_sign_at", "exempt_reason", "exempt_until", "created_at"}

func (r *Repository) CreateRegistration(ctx context.Context, reg models.Registration) (uint, error) {
	// Raw builder since we need to retrieve the associated ID
	query, args := sqlbuilder.Buildf(`INSERT INTO registrations
		(book_id, worker_id, priority_number, status, check_mark_count,
			last_re_sign_at, created_at) VALUES
		(%s, %s, %s, %s, %s, %s, %s) RETURNING id`,
		reg.BookID, reg.WorkerID, reg.PriorityNumber, reg.Status, reg.CheckMarkCount,
		reg.LastReSignAt, reg.CreatedAt).
		BuildWithFlavor(sqlFlavor)

	var id uint
	if err := r.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

func (r *Repository) GetRegistrationByID(ctx context.Context, id uint) (*models.Registration, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(registrationColumns...)
	sb.From("registrations").Where(sb.Equal("id", id))

	query, args := sb.Build()
	reg, err := scanRegistration(r.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &models.NotFoundError{Entity: "registration", ID: fmt.Sprint(id)}
		}
		return nil, err
	}
	return reg, nil
}

func (r *Repository) GetRegistrationsByBook(ctx context.Context, bookID uuid.UUID, statuses ...models.RegistrationStatus) ([]*models.Registration, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(registrationColumns...)
	sb.From("registrations").Where(sb.Equal("book_id", bookID))
	if len(statuses) > 0 {
		sb.Where(sb.In("status", statusArgs(statuses)...))
	}
	sb.OrderBy("priority_number").Asc()

	query, args := sb.Build()
	return r.getRegistrations(ctx, query, args...)
}

func (r *Repository) GetRegistrationsByWorker(ctx context.Context, workerID string, statuses ...models.RegistrationStatus) ([]*models.Registration, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(registrationColumns...)
	sb.From("registrations").Where(sb.Equal("worker_id", workerID))
	if len(statuses) > 0 {
		sb.Where(sb.In("status", statusArgs(statuses)...))
	}
	sb.OrderBy("created_at").Asc()

	query, args := sb.Build()
	return r.getRegistrations(ctx, query, args...)
}

func (r *Repository) GetMaxPriorityNumber(ctx context.Context, bookID uuid.UUID, lower, upper decimal.Decimal) (decimal.NullDecimal, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("MAX(priority_number)")
	sb.From("registrations").Where(
		sb.Equal("book_id", bookID),
		sb.GreaterEqualThan("priority_number", lower),
		sb.LessThan("priority_number", upper),
	)

	query, args := sb.Build()

	var max decimal.NullDecimal
	if err := r.QueryRowContext(ctx, query, args...).Scan(&max); err != nil {
		return decimal.NullDecimal{}, err
	}
	return max, nil
}

func (r *Repository) UpdateRegistrationStatus(ctx context.Context, id uint, from, to models.RegistrationStatus) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("registrations")
	ub.Set(ub.Assign("status", to))
	ub.Where(ub.Equal("id", id), ub.Equal("status", from))

	return r.guardedUpdate(ctx, ub, id, from, "status change to "+string(to))
}

func (r *Repository) UpdateRegistrationReSign(ctx context.Context, id uint, at time.Time) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("registrations")
	ub.Set(ub.Assign("last_re_sign_at", at))
	ub.Where(ub.Equal("id", id), ub.Equal("status", models.RegistrationRegistered))

	return r.guardedUpdate(ctx, ub, id, models.RegistrationRegistered, "re-sign")
}

func (r *Repository) UpdateRegistrationExemption(ctx context.Context, id uint, from, to models.RegistrationStatus, reason string, until time.Time) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("registrations")
	ub.Set(
		ub.Assign("status", to),
		ub.Assign("exempt_reason", reason),
		ub.Assign("exempt_until", nullTime(until)),
	)
	ub.Where(ub.Equal("id", id), ub.Equal("status", from))

	return r.guardedUpdate(ctx, ub, id, from, "exemption update")
}

func (r *Repository) UpdateRegistrationCheckMarks(ctx context.Context, id uint, count int) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("registrations")
	ub.Set(ub.Assign("check_mark_count", count))
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &models.NotFoundError{Entity: "registration", ID: fmt.Sprint(id)}
	}

	return nil
}

func (r *Repository) GetOverdueRegistrations(ctx context.Context, deadline time.Time) ([]*models.Registration, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(registrationColumns...)
	sb.From("registrations").Where(
		sb.Equal("status", models.RegistrationRegistered),
		sb.LessEqualThan("last_re_sign_at", deadline),
	)
	sb.OrderBy("book_id", "priority_number").Asc()

	query, args := sb.Build()
	return r.getRegistrations(ctx, query, args...)
}

func (r *Repository) CreateLaborRequest(ctx context.Context, req models.LaborRequest) error {
	ib := sqlFlavor.NewInsertBuilder().InsertInto("labor_requests").
		Cols("id", "employer_id", "book_id", "workers_requested", "workers_dispatched",
			"status", "short_call", "by_name", "named_worker_id", "agreement_type",
			"received_at", "created_at").
		Values(req.ID, req.EmployerID, req.BookID, req.WorkersRequested, req.WorkersDispatched,
			req.Status, req.ShortCall, req.ByName, req.NamedWorkerID, req.AgreementType,
			req.ReceivedAt, req.CreatedAt)

	query, args := ib.Build()
	_, err := r.ExecContext(ctx, query, args...)
	return err
}

var laborRequestColumns = []string{"id", "employer_id", "book_id", "workers_requested",
	"workers_dispatched", "status", "short_call", "by_name", "named_worker_id",
	"agreement_type", "received_at", "created_at"}

func (r *Repository) GetLaborRequestByID(ctx context.Context, requestID uuid.UUID) (*models.LaborRequest, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(laborRequestColumns...)
	sb.From("labor_requests").Where(sb.Equal("id", requestID))

	query, args := sb.Build()

	var req models.LaborRequest
	err := r.QueryRowContext(ctx, query, args...).Scan(&req.ID, &req.EmployerID, &req.BookID,
		&req.WorkersRequested, &req.WorkersDispatched, &req.Status, &req.ShortCall,
		&req.ByName, &req.NamedWorkerID, &req.AgreementType, &req.ReceivedAt, &req.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &models.NotFoundError{Entity: "labor request", ID: requestID.String()}
		}
		return nil, err
	}

	return &req, nil
}

func (r *Repository) GetOpenLaborRequests(ctx context.Context, bookID uuid.UUID, receivedBy time.Time) ([]*models.LaborRequest, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(laborRequestColumns...)
	sb.From("labor_requests").Where(
		sb.In("status", string(models.RequestOpen), string(models.RequestPartiallyFilled)),
	)
	if bookID != nil {
		sb.Where(sb.Equal("book_id", bookID))
	}
	// Strictly before: a request stamped exactly at the cutoff waits for the
	// next run.
	if !receivedBy.IsZero() {
		sb.Where(sb.LessThan("received_at", receivedBy))
	}
	sb.OrderBy("received_at").Asc()

	query, args := sb.Build()
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []*models.LaborRequest
	for rows.Next() {
		var req models.LaborRequest
		if err = rows.Scan(&req.ID, &req.EmployerID, &req.BookID, &req.WorkersRequested,
			&req.WorkersDispatched, &req.Status, &req.ShortCall, &req.ByName,
			&req.NamedWorkerID, &req.AgreementType, &req.ReceivedAt, &req.CreatedAt); err != nil {
			return nil, err
		}
		reqs = append(reqs, &req)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return reqs, nil
}

func (r *Repository) UpdateLaborRequestFill(ctx context.Context, requestID uuid.UUID, prevDispatched, newDispatched int, status models.RequestStatus) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("labor_requests")
	ub.Set(
		ub.Assign("workers_dispatched", newDispatched),
		ub.Assign("status", status),
	)
	ub.Where(
		ub.Equal("id", requestID),
		ub.Equal("workers_dispatched", prevDispatched),
		ub.In("status", string(models.RequestOpen), string(models.RequestPartiallyFilled)),
	)

	query, args := ub.Build()
	result, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &models.InvalidStateError{Entity: "labor request", ID: requestID.String(),
			Action: "fill update"}
	}

	return nil
}

func (r *Repository) CancelLaborRequest(ctx context.Context, requestID uuid.UUID) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("labor_requests")
	ub.Set(ub.Assign("status", models.RequestCancelled))
	ub.Where(
		ub.Equal("id", requestID),
		ub.In("status", string(models.RequestOpen), string(models.RequestPartiallyFilled)),
	)

	query, args := ub.Build()
	result, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &models.InvalidStateError{Entity: "labor request", ID: requestID.String(),
			Action: "cancel"}
	}

	return nil
}

func (r *Repository) CreateDispatch(ctx context.Context, d models.Dispatch) (uint, error) {
	// Raw builder since we need to retrieve the associated ID
	query, args := sqlbuilder.Buildf(`INSERT INTO dispatches
		(registration_id, request_id, worker_id, employer_id, method, short_call,
			start_date, created_at) VALUES
		(%s, %s, %s, %s, %s, %s, %s, %s) RETURNING id`,
		d.RegistrationID, d.RequestID, d.WorkerID, d.EmployerID, d.Method, d.ShortCall,
		d.StartDate, d.CreatedAt).
		BuildWithFlavor(sqlFlavor)

	var id uint
	if err := r.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

var dispatchColumns = []string{"id", "registration_id", "request_id", "worker_id", "employer_id",
	"method", "short_call", "start_date", "terminated_at", "termination_outcome",
	"termination_reason", "created_at"}

func (r *Repository) GetDispatchByID(ctx context.Context, id uint) (*models.Dispatch, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(dispatchColumns...)
	sb.From("dispatches").Where(sb.Equal("id", id))

	query, args := sb.Build()
	d, err := scanDispatch(r.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &models.NotFoundError{Entity: "dispatch", ID: fmt.Sprint(id)}
		}
		return nil, err
	}
	return d, nil
}

func (r *Repository) GetDispatchesByRegistration(ctx context.Context, registrationID uint) ([]*models.Dispatch, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(dispatchColumns...)
	sb.From("dispatches").Where(sb.Equal("registration_id", registrationID))
	sb.OrderBy("start_date").Asc()

	query, args := sb.Build()
	return r.getDispatches(ctx, query, args...)
}

func (r *Repository) TerminateDispatch(ctx context.Context, id uint, outcome models.TerminationOutcome, reason string, at time.Time) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("dispatches")
	ub.Set(
		ub.Assign("terminated_at", at),
		ub.Assign("termination_outcome", outcome),
		ub.Assign("termination_reason", reason),
	)
	ub.Where(ub.Equal("id", id), ub.IsNull("terminated_at"))

	query, args := ub.Build()
	result, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &models.InvalidStateError{Entity: "dispatch", ID: fmt.Sprint(id),
			Action: "terminate"}
	}

	return nil
}

func (r *Repository) CountShortCallDispatches(ctx context.Context, workerID string, since time.Time, maxDays int) (int, error) {
	// A dispatch flagged short that ran past maxDays was a long call after
	// all and stays out of the count.
	b := sqlbuilder.Buildf(
		"SELECT COUNT(1) FROM dispatches WHERE worker_id = %s AND short_call = %s AND created_at >= %s "+
			"AND (terminated_at IS NULL OR terminated_at <= start_date + make_interval(days => %s))",
		workerID, true, since, maxDays)

	query, args := b.BuildWithFlavor(sqlFlavor)
	var count int
	if err := r.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return -1, err
	}
	return count, nil
}

func (r *Repository) GetTerminationsByWorkerEmployer(ctx context.Context, workerID, employerID string, since time.Time) ([]*models.Dispatch, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select(dispatchColumns...)
	sb.From("dispatches").Where(
		sb.Equal("worker_id", workerID),
		sb.Equal("employer_id", employerID),
		sb.IsNotNull("terminated_at"),
		sb.GreaterEqualThan("terminated_at", since),
	)
	sb.OrderBy("terminated_at").Desc()

	query, args := sb.Build()
	return r.getDispatches(ctx, query, args...)
}

func (r *Repository) CreateCheckMark(ctx context.Context, mark models.CheckMark) (uint, error) {
	query, args := sqlbuilder.Buildf(`INSERT INTO check_marks
		(registration_id, worker_id, reason, issued_at, cleared) VALUES
		(%s, %s, %s, %s, %s) RETURNING id`,
		mark.RegistrationID, mark.WorkerID, mark.Reason, mark.IssuedAt, mark.Cleared).
		BuildWithFlavor(sqlFlavor)

	var id uint
	if err := r.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

func (r *Repository) CountLiveCheckMarks(ctx context.Context, workerID string) (int, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("COUNT(1)")
	sb.From("check_marks").Where(
		sb.Equal("worker_id", workerID),
		sb.Equal("cleared", false),
	)

	query, args := sb.Build()
	var count int
	if err := r.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return -1, err
	}
	return count, nil
}

func (r *Repository) ClearCheckMarks(ctx context.Context, workerID string) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("check_marks")
	ub.Set(ub.Assign("cleared", true))
	ub.Where(ub.Equal("worker_id", workerID), ub.Equal("cleared", false))

	query, args := ub.Build()
	_, err := r.ExecContext(ctx, query, args...)
	return err
}

func (r *Repository) CreateBid(ctx context.Context, bid models.Bid) (uint, error) {
	query, args := sqlbuilder.Buildf(`INSERT INTO bids
		(worker_id, request_id, submitted_at, outcome) VALUES
		(%s, %s, %s, %s) RETURNING id`,
		bid.WorkerID, bid.RequestID, bid.SubmittedAt, bid.Outcome).
		BuildWithFlavor(sqlFlavor)

	var id uint
	if err := r.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

func (r *Repository) UpdateBidOutcome(ctx context.Context, bidID uint, outcome models.BidOutcome, at time.Time) error {
	ub := sqlFlavor.NewUpdateBuilder().Update("bids")
	ub.Set(
		ub.Assign("outcome", outcome),
		ub.Assign("decided_at", at),
	)
	ub.Where(ub.Equal("id", bidID), ub.Equal("outcome", models.BidPending))

	query, args := ub.Build()
	result, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &models.InvalidStateError{Entity: "bid", ID: fmt.Sprint(bidID),
			Action: "outcome update"}
	}

	return nil
}

func (r *Repository) CountBidRejections(ctx context.Context, workerID string, since time.Time) (int, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("COUNT(1)")
	sb.From("bids").Where(
		sb.Equal("worker_id", workerID),
		sb.Equal("outcome", models.BidRejected),
		sb.GreaterEqualThan("decided_at", since),
	)

	query, args := sb.Build()
	var count int
	if err := r.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return -1, err
	}
	return count, nil
}

func (r *Repository) CreateBidBan(ctx context.Context, ban models.BidBan) error {
	ib := sqlFlavor.NewInsertBuilder().InsertInto("bid_bans").
		Cols("worker_id", "reason", "starts_at", "ends_at").
		Values(ban.WorkerID, ban.Reason, ban.StartsAt, ban.EndsAt)

	query, args := ib.Build()
	_, err := r.ExecContext(ctx, query, args...)
	return err
}

func (r *Repository) GetActiveBidBan(ctx context.Context, workerID string, asOf time.Time) (*models.BidBan, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("id", "worker_id", "reason", "starts_at", "ends_at")
	sb.From("bid_bans").Where(
		sb.Equal("worker_id", workerID),
		sb.LessEqualThan("starts_at", asOf),
		sb.GreaterThan("ends_at", asOf),
	)
	sb.OrderBy("ends_at").Desc().Limit(1)

	query, args := sb.Build()

	var ban models.BidBan
	err := r.QueryRowContext(ctx, query, args...).Scan(&ban.ID, &ban.WorkerID, &ban.Reason,
		&ban.StartsAt, &ban.EndsAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return &ban, nil
}

func (r *Repository) CreateActivityRecord(ctx context.Context, rec models.ActivityRecord) (uint, error) {
	query, args := sqlbuilder.Buildf(`INSERT INTO activity_records
		(worker_id, book_id, registration_id, action, prev_status, new_status,
			prev_position, new_position, actor, source_ip, reason, recorded_at) VALUES
		(%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s) RETURNING id`,
		rec.WorkerID, nullUUID(rec.BookID), nullID(rec.RegistrationID), rec.Action,
		rec.PrevStatus, rec.NewStatus, rec.PrevPosition, rec.NewPosition,
		rec.Actor, rec.SourceIP, rec.Reason, rec.RecordedAt).
		BuildWithFlavor(sqlFlavor)

	var id uint
	if err := r.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

func (r *Repository) GetActivityRecordsByWorker(ctx context.Context, workerID string) ([]*models.ActivityRecord, error) {
	sb := sqlFlavor.NewSelectBuilder()
	sb.Select("id", "worker_id", "book_id", "registration_id", "action", "prev_status",
		"new_status", "prev_position", "new_position", "actor", "source_ip", "reason", "recorded_at")
	sb.From("activity_records").Where(sb.Equal("worker_id", workerID))
	sb.OrderBy("recorded_at", "id").Asc()

	query, args := sb.Build()
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.ActivityRecord
	for rows.Next() {
		var (
			rec    models.ActivityRecord
			bookID sql.NullString
			regID  sql.NullInt64
		)
		if err = rows.Scan(&rec.ID, &rec.WorkerID, &bookID, &regID, &rec.Action,
			&rec.PrevStatus, &rec.NewStatus, &rec.PrevPosition, &rec.NewPosition,
			&rec.Actor, &rec.SourceIP, &rec.Reason, &rec.RecordedAt); err != nil {
			return nil, err
		}
		if bookID.Valid {
			rec.BookID = uuid.Parse(bookID.String)
		}
		if regID.Valid {
			rec.RegistrationID = uint(regID.Int64)
		}
		recs = append(recs, &rec)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return recs, nil
}

func (r *Repository) HasActivityRecord(ctx context.Context, registrationID uint, action models.ActivityAction, day time.Time) (bool, error) {
	query, args := sqlbuilder.Buildf(
		"SELECT COUNT(1) FROM activity_records WHERE registration_id = %s AND action = %s AND DATE(recorded_at) = DATE(%s)",
		registrationID, action, day).
		BuildWithFlavor(sqlFlavor)

	var count int
	if err := r.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository) guardedUpdate(ctx context.Context, ub *sqlbuilder.UpdateBuilder, id uint, from models.RegistrationStatus, action string) error {
	query, args := ub.Build()
	result, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &models.InvalidStateError{Entity: "registration", ID: fmt.Sprint(id),
			State: string(from), Action: action}
	}

	return nil
}

func (r *Repository) getRegistrations(ctx context.Context, query string, args ...interface{}) ([]*models.Registration, error) {
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regs []*models.Registration
	for rows.Next() {
		var (
			reg          models.Registration
			exemptReason sql.NullString
			exemptUntil  sql.NullTime
		)
		if err = rows.Scan(&reg.ID, &reg.BookID, &reg.WorkerID, &reg.PriorityNumber,
			&reg.Status, &reg.CheckMarkCount, &reg.LastReSignAt, &exemptReason,
			&exemptUntil, &reg.CreatedAt); err != nil {
			return nil, err
		}
		reg.ExemptReason, reg.ExemptUntil = exemptReason.String, exemptUntil.Time
		regs = append(regs, &reg)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return regs, nil
}

func (r *Repository) getDispatches(ctx context.Context, query string, args ...interface{}) ([]*models.Dispatch, error) {
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ds []*models.Dispatch
	for rows.Next() {
		var (
			d          models.Dispatch
			termAt     sql.NullTime
			outcome    sql.NullString
			termReason sql.NullString
		)
		if err = rows.Scan(&d.ID, &d.RegistrationID, &d.RequestID, &d.WorkerID, &d.EmployerID,
			&d.Method, &d.ShortCall, &d.StartDate, &termAt, &outcome, &termReason,
			&d.CreatedAt); err != nil {
			return nil, err
		}
		d.TerminatedAt = termAt.Time
		d.TerminationOutcome = models.TerminationOutcome(outcome.String)
		d.TerminationReason = termReason.String
		ds = append(ds, &d)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return ds, nil
}

func scanRegistration(row *sql.Row) (*models.Registration, error) {
	var (
		reg          models.Registration
		exemptReason sql.NullString
		exemptUntil  sql.NullTime
	)
	if err := row.Scan(&reg.ID, &reg.BookID, &reg.WorkerID, &reg.PriorityNumber,
		&reg.Status, &reg.CheckMarkCount, &reg.LastReSignAt, &exemptReason,
		&exemptUntil, &reg.CreatedAt); err != nil {
		return nil, err
	}
	reg.ExemptReason, reg.ExemptUntil = exemptReason.String, exemptUntil.Time
	return &reg, nil
}

func scanDispatch(row *sql.Row) (*models.Dispatch, error) {
	var (
		d          models.Dispatch
		termAt     sql.NullTime
		outcome    sql.NullString
		termReason sql.NullString
	)
	if err := row.Scan(&d.ID, &d.RegistrationID, &d.RequestID, &d.WorkerID, &d.EmployerID,
		&d.Method, &d.ShortCall, &d.StartDate, &termAt, &outcome, &termReason,
		&d.CreatedAt); err != nil {
		return nil, err
	}
	d.TerminatedAt = termAt.Time
	d.TerminationOutcome = models.TerminationOutcome(outcome.String)
	d.TerminationReason = termReason.String
	return &d, nil
}

func statusArgs(statuses []models.RegistrationStatus) []interface{} {
	s := make([]interface{}, len(statuses))
	for i, v := range statuses {
		s[i] = v
	}
	return s
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullUUID(id uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id
}

func nullID(id uint) interface{} {
	if id == 0 {
		return nil
	}
	return id
}
