package models

import (
	"context"
	"time"

	"github.com/pborman/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockRepository is a testify mock of Repository for service-level tests.
type MockRepository struct {
	mock.Mock
}

var _ Repository = &MockRepository{}

func (m *MockRepository) CreateBook(ctx context.Context, book Book) error {
	args := m.Called(ctx, book)
	return args.Error(0)
}

func (m *MockRepository) GetBookByID(ctx context.Context, bookID uuid.UUID) (*Book, error) {
	args := m.Called(ctx, bookID)
	var book *Book
	if args.Get(0) != nil {
		book = args.Get(0).(*Book)
	}
	return book, args.Error(1)
}

func (m *MockRepository) GetActiveBooks(ctx context.Context) ([]*Book, error) {
	args := m.Called(ctx)
	var books []*Book
	if args.Get(0) != nil {
		books = args.Get(0).([]*Book)
	}
	return books, args.Error(1)
}

func (m *MockRepository) LockBook(ctx context.Context, bookID uuid.UUID) error {
	args := m.Called(ctx, bookID)
	return args.Error(0)
}

func (m *MockRepository) CreateRegistration(ctx context.Context, reg Registration) (uint, error) {
	args := m.Called(ctx, reg)
	return args.Get(0).(uint), args.Error(1)
}

func (m *MockRepository) GetRegistrationByID(ctx context.Context, id uint) (*Registration, error) {
	args := m.Called(ctx, id)
	var reg *Registration
	if args.Get(0) != nil {
		reg = args.Get(0).(*Registration)
	}
	return reg, args.Error(1)
}

func (m *MockRepository) GetRegistrationsByBook(ctx context.Context, bookID uuid.UUID, statuses ...RegistrationStatus) ([]*Registration, error) {
	args := m.Called(ctx, bookID, statuses)
	var regs []*Registration
	if args.Get(0) != nil {
		regs = args.Get(0).([]*Registration)
	}
	return regs, args.Error(1)
}

func (m *MockRepository) GetRegistrationsByWorker(ctx context.Context, workerID string, statuses ...RegistrationStatus) ([]*Registration, error) {
	args := m.Called(ctx, workerID, statuses)
	var regs []*Registration
	if args.Get(0) != nil {
		regs = args.Get(0).([]*Registration)
	}
	return regs, args.Error(1)
}

func (m *MockRepository) GetMaxPriorityNumber(ctx context.Context, bookID uuid.UUID, lower, upper decimal.Decimal) (decimal.NullDecimal, error) {
	args := m.Called(ctx, bookID, lower, upper)
	return args.Get(0).(decimal.NullDecimal), args.Error(1)
}

func (m *MockRepository) UpdateRegistrationStatus(ctx context.Context, id uint, from, to RegistrationStatus) error {
	args := m.Called(ctx, id, from, to)
	return args.Error(0)
}

func (m *MockRepository) UpdateRegistrationReSign(ctx context.Context, id uint, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockRepository) UpdateRegistrationExemption(ctx context.Context, id uint, from, to RegistrationStatus, reason string, until time.Time) error {
	args := m.Called(ctx, id, from, to, reason, until)
	return args.Error(0)
}

func (m *MockRepository) UpdateRegistrationCheckMarks(ctx context.Context, id uint, count int) error {
	args := m.Called(ctx, id, count)
	return args.Error(0)
}

func (m *MockRepository) GetOverdueRegistrations(ctx context.Context, deadline time.Time) ([]*Registration, error) {
	args := m.Called(ctx, deadline)
	var regs []*Registration
	if args.Get(0) != nil {
		regs = args.Get(0).([]*Registration)
	}
	return regs, args.Error(1)
}

func (m *MockRepository) CreateLaborRequest(ctx context.Context, req LaborRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockRepository) GetLaborRequestByID(ctx context.Context, requestID uuid.UUID) (*LaborRequest, error) {
	args := m.Called(ctx, requestID)
	var req *LaborRequest
	if args.Get(0) != nil {
		req = args.Get(0).(*LaborRequest)
	}
	return req, args.Error(1)
}

func (m *MockRepository) GetOpenLaborRequests(ctx context.Context, bookID uuid.UUID, receivedBy time.Time) ([]*LaborRequest, error) {
	args := m.Called(ctx, bookID, receivedBy)
	var reqs []*LaborRequest
	if args.Get(0) != nil {
		reqs = args.Get(0).([]*LaborRequest)
	}
	return reqs, args.Error(1)
}

func (m *MockRepository) UpdateLaborRequestFill(ctx context.Context, requestID uuid.UUID, prevDispatched, newDispatched int, status RequestStatus) error {
	args := m.Called(ctx, requestID, prevDispatched, newDispatched, status)
	return args.Error(0)
}

func (m *MockRepository) CancelLaborRequest(ctx context.Context, requestID uuid.UUID) error {
	args := m.Called(ctx, requestID)
	return args.Error(0)
}

func (m *MockRepository) CreateDispatch(ctx context.Context, d Dispatch) (uint, error) {
	args := m.Called(ctx, d)
	return args.Get(0).(uint), args.Error(1)
}

func (m *MockRepository) GetDispatchByID(ctx context.Context, id uint) (*Dispatch, error) {
	args := m.Called(ctx, id)
	var d *Dispatch
	if args.Get(0) != nil {
		d = args.Get(0).(*Dispatch)
	}
	return d, args.Error(1)
}

func (m *MockRepository) GetDispatchesByRegistration(ctx context.Context, registrationID uint) ([]*Dispatch, error) {
	args := m.Called(ctx, registrationID)
	var ds []*Dispatch
	if args.Get(0) != nil {
		ds = args.Get(0).([]*Dispatch)
	}
	return ds, args.Error(1)
}

func (m *MockRepository) TerminateDispatch(ctx context.Context, id uint, outcome TerminationOutcome, reason string, at time.Time) error {
	args := m.Called(ctx, id, outcome, reason, at)
	return args.Error(0)
}

func (m *MockRepository) CountShortCallDispatches(ctx context.Context, workerID string, since time.Time, maxDays int) (int, error) {
	args := m.Called(ctx, workerID, since, maxDays)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) GetTerminationsByWorkerEmployer(ctx context.Context, workerID, employerID string, since time.Time) ([]*Dispatch, error) {
	args := m.Called(ctx, workerID, employerID, since)
	var ds []*Dispatch
	if args.Get(0) != nil {
		ds = args.Get(0).([]*Dispatch)
	}
	return ds, args.Error(1)
}

func (m *MockRepository) CreateCheckMark(ctx context.Context, mark CheckMark) (uint, error) {
	args := m.Called(ctx, mark)
	return args.Get(0).(uint), args.Error(1)
}

func (m *MockRepository) CountLiveCheckMarks(ctx context.Context, workerID string) (int, error) {
	args := m.Called(ctx, workerID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) ClearCheckMarks(ctx context.Context, workerID string) error {
	args := m.Called(ctx, workerID)
	return args.Error(0)
}

func (m *MockRepository) CreateBid(ctx context.Context, bid Bid) (uint, error) {
	args := m.Called(ctx, bid)
	return args.Get(0).(uint), args.Error(1)
}

func (m *MockRepository) UpdateBidOutcome(ctx context.Context, bidID uint, outcome BidOutcome, at time.Time) error {
	args := m.Called(ctx, bidID, outcome, at)
	return args.Error(0)
}

func (m *MockRepository) CountBidRejections(ctx context.Context, workerID string, since time.Time) (int, error) {
	args := m.Called(ctx, workerID, since)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) CreateBidBan(ctx context.Context, ban BidBan) error {
	args := m.Called(ctx, ban)
	return args.Error(0)
}

func (m *MockRepository) GetActiveBidBan(ctx context.Context, workerID string, asOf time.Time) (*BidBan, error) {
	args := m.Called(ctx, workerID, asOf)
	var ban *BidBan
	if args.Get(0) != nil {
		ban = args.Get(0).(*BidBan)
	}
	return ban, args.Error(1)
}

func (m *MockRepository) CreateActivityRecord(ctx context.Context, rec ActivityRecord) (uint, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(uint), args.Error(1)
}

func (m *MockRepository) GetActivityRecordsByWorker(ctx context.Context, workerID string) ([]*ActivityRecord, error) {
	args := m.Called(ctx, workerID)
	var recs []*ActivityRecord
	if args.Get(0) != nil {
		recs = args.Get(0).([]*ActivityRecord)
	}
	return recs, args.Error(1)
}

func (m *MockRepository) HasActivityRecord(ctx context.Context, registrationID uint, action ActivityAction, day time.Time) (bool, error) {
	args := m.Called(ctx, registrationID, action, day)
	return args.Bool(0), args.Error(1)
}

// TestTxRunner runs the transaction body directly against the supplied
// repository; used to exercise services without a database.
type TestTxRunner struct {
	Repo Repository
}

var _ TxRunner = &TestTxRunner{}

func (t *TestTxRunner) InTx(ctx context.Context, fn func(r Repository) error) error {
	return fn(t.Repo)
}
