package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pborman/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/unionhall/referral-app/referral/compliance"
	"github.com/unionhall/referral-app/referral/constants"
	"github.com/unionhall/referral-app/referral/models"
)

var testNow = time.Date(2024, 6, 11, 6, 0, 0, 0, time.UTC)

type mockComplianceChecker struct {
	mock.Mock
}

func (m *mockComplianceChecker) IsBlackedOut(ctx context.Context, workerID, employerID string, asOf time.Time) (bool, time.Time, error) {
	args := m.Called(ctx, workerID, employerID, asOf)
	return args.Bool(0), args.Get(1).(time.Time), args.Error(2)
}

func (m *mockComplianceChecker) CheckReSignDue(ctx context.Context, registrationID uint) (compliance.ReSignStatus, int, error) {
	args := m.Called(ctx, registrationID)
	return args.Get(0).(compliance.ReSignStatus), args.Int(1), args.Error(2)
}

type EngineTestSuite struct {
	suite.Suite

	repo   *models.MockRepository
	rules  *mockComplianceChecker
	engine Engine
}

func (s *EngineTestSuite) SetupTest() {
	s.repo = &models.MockRepository{}
	s.rules = &mockComplianceChecker{}
	s.engine = NewEngine(&models.TestTxRunner{Repo: s.repo}, s.repo, s.rules,
		&Config{ShortCallCycleLimit: 2, ShortCallCycleDays: 30})
	timeNow = func() time.Time { return testNow }
}

func (s *EngineTestSuite) TearDownTest() {
	timeNow = time.Now
	s.repo.AssertExpectations(s.T())
	s.rules.AssertExpectations(s.T())
}

// reSignCurrent stubs a current re-sign clock for every candidate checked.
func (s *EngineTestSuite) reSignCurrent() {
	s.rules.On("CheckReSignDue", mock.Anything, mock.Anything).
		Return(compliance.ReSignOK, 20, nil)
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func queueOfThree(bookID uuid.UUID) []*models.Registration {
	return []*models.Registration{
		{ID: 1, BookID: bookID, WorkerID: "W-1001", Status: models.RegistrationRegistered,
			PriorityNumber: decimal.RequireFromString("100.10")},
		{ID: 2, BookID: bookID, WorkerID: "W-1002", Status: models.RegistrationRegistered,
			PriorityNumber: decimal.RequireFromString("100.20")},
		{ID: 3, BookID: bookID, WorkerID: "W-1003", Status: models.RegistrationRegistered,
			PriorityNumber: decimal.RequireFromString("100.30")},
	}
}

func (s *EngineTestSuite) TestDispatchQueueOrder() {
	bookID := uuid.NewRandom()
	requestID := uuid.NewRandom()
	req := &models.LaborRequest{ID: requestID, EmployerID: "E-2001", BookID: bookID,
		WorkersRequested: 2, Status: models.RequestOpen, ReceivedAt: testNow}

	s.repo.On("GetLaborRequestByID", mock.Anything, requestID).Return(req, nil)
	s.repo.On("LockBook", mock.Anything, bookID).Return(nil)
	s.reSignCurrent()
	s.repo.On("GetRegistrationsByBook", mock.Anything, bookID,
		[]models.RegistrationStatus{models.RegistrationRegistered}).
		Return(queueOfThree(bookID), nil)
	for _, w := range []string{"W-1001", "W-1002"} {
		s.rules.On("IsBlackedOut", mock.Anything, w, "E-2001", testNow).
			Return(false, time.Time{}, nil)
	}
	s.repo.On("UpdateRegistrationStatus", mock.Anything, uint(1),
		models.RegistrationRegistered, models.RegistrationDispatched).Return(nil)
	s.repo.On("UpdateRegistrationStatus", mock.Anything, uint(2),
		models.RegistrationRegistered, models.RegistrationDispatched).Return(nil)
	s.repo.On("CreateDispatch", mock.Anything, mock.MatchedBy(func(d models.Dispatch) bool {
		return d.Method == models.MethodQueueOrder
	})).Return(uint(11), nil).Twice()
	s.repo.On("CreateActivityRecord", mock.Anything, mock.MatchedBy(func(rec models.ActivityRecord) bool {
		return rec.Action == models.ActionDispatch
	})).Return(uint(100), nil).Twice()
	s.repo.On("UpdateLaborRequestFill", mock.Anything, requestID, 0, 2, models.RequestFilled).
		Return(nil)

	dispatches, err := s.engine.Dispatch(context.Background(), requestID,
		models.AuditContext{Actor: "dispatcher@hall"})
	assert.NoError(s.T(), err)
	assert.Len(s.T(), dispatches, 2)
	// Lowest priority numbers go out first; 100.30 stays on the book.
	assert.Equal(s.T(), "W-1001", dispatches[0].WorkerID)
	assert.Equal(s.T(), "W-1002", dispatches[1].WorkerID)
}

func (s *EngineTestSuite) TestDispatchShortfallRollsBack() {
	bookID := uuid.NewRandom()
	requestID := uuid.NewRandom()
	req := &models.LaborRequest{ID: requestID, EmployerID: "E-2001", BookID: bookID,
		WorkersRequested: 5, Status: models.RequestOpen}

	s.repo.On("GetLaborRequestByID", mock.Anything, requestID).Return(req, nil)
	s.repo.On("LockBook", mock.Anything, bookID).Return(nil)
	s.reSignCurrent()
	s.repo.On("GetRegistrationsByBook", mock.Anything, bookID, mock.Anything).
		Return(queueOfThree(bookID), nil)
	for _, w := range []string{"W-1001", "W-1002", "W-1003"} {
		s.rules.On("IsBlackedOut", mock.Anything, w, "E-2001", testNow).
			Return(false, time.Time{}, nil)
	}

	dispatches, err := s.engine.Dispatch(context.Background(), requestID,
		models.System("morning-referral"))
	assert.Nil(s.T(), dispatches)

	var shortErr *models.ShortfallError
	assert.True(s.T(), errors.As(err, &shortErr))
	assert.Equal(s.T(), 5, shortErr.Needed)
	assert.Equal(s.T(), 3, shortErr.Eligible)
	// No writes happened: no dispatch, status, or fill expectations were set.
}

func (s *EngineTestSuite) TestDispatchSkipsBlackedOutWorker() {
	bookID := uuid.NewRandom()
	requestID := uuid.NewRandom()
	req := &models.LaborRequest{ID: requestID, EmployerID: "E-2001", BookID: bookID,
		WorkersRequested: 1, Status: models.RequestOpen}

	s.repo.On("GetLaborRequestByID", mock.Anything, requestID).Return(req, nil)
	s.repo.On("LockBook", mock.Anything, bookID).Return(nil)
	s.reSignCurrent()
	s.repo.On("GetRegistrationsByBook", mock.Anything, bookID, mock.Anything).
		Return(queueOfThree(bookID), nil)
	// The head of the queue quit on this employer last week.
	s.rules.On("IsBlackedOut", mock.Anything, "W-1001", "E-2001", testNow).
		Return(true, testNow.AddDate(0, 0, 7), nil)
	s.rules.On("IsBlackedOut", mock.Anything, "W-1002", "E-2001", testNow).
		Return(false, time.Time{}, nil)
	s.repo.On("UpdateRegistrationStatus", mock.Anything, uint(2),
		models.RegistrationRegistered, models.RegistrationDispatched).Return(nil)
	s.repo.On("CreateDispatch", mock.Anything, mock.Anything).Return(uint(11), nil)
	s.repo.On("CreateActivityRecord", mock.Anything, mock.Anything).Return(uint(100), nil)
	s.repo.On("UpdateLaborRequestFill", mock.Anything, requestID, 0, 1, models.RequestFilled).
		Return(nil)

	dispatches, err := s.engine.Dispatch(context.Background(), requestID,
		models.System("morning-referral"))
	assert.NoError(s.T(), err)
	assert.Len(s.T(), dispatches, 1)
	assert.Equal(s.T(), "W-1002", dispatches[0].WorkerID)
}

func (s *EngineTestSuite) TestShortCallSkipsCappedWorker() {
	bookID := uuid.NewRandom()
	requestID := uuid.NewRandom()
	req := &models.LaborRequest{ID: requestID, EmployerID: "E-2001", BookID: bookID,
		WorkersRequested: 1, Status: models.RequestOpen, ShortCall: true}

	s.repo.On("GetLaborRequestByID", mock.Anything, requestID).Return(req, nil)
	s.repo.On("LockBook", mock.Anything, bookID).Return(nil)
	s.reSignCurrent()
	s.repo.On("GetRegistrationsByBook", mock.Anything, bookID, mock.Anything).
		Return(queueOfThree(bookID), nil)
	s.rules.On("IsBlackedOut", mock.Anything, "W-1001", "E-2001", testNow).
		Return(false, time.Time{}, nil)
	s.rules.On("IsBlackedOut", mock.Anything, "W-1002", "E-2001", testNow).
		Return(false, time.Time{}, nil)
	since := testNow.AddDate(0, 0, -30)
	s.repo.On("CountShortCallDispatches", mock.Anything, "W-1001", since,
		constants.ShortCallMaxDays).Return(2, nil)
	s.repo.On("CountShortCallDispatches", mock.Anything, "W-1002", since,
		constants.ShortCallMaxDays).Return(0, nil)
	s.repo.On("UpdateRegistrationStatus", mock.Anything, uint(2),
		models.RegistrationRegistered, models.RegistrationDispatched).Return(nil)
	s.repo.On("CreateDispatch", mock.Anything, mock.MatchedBy(func(d models.Dispatch) bool {
		return d.Method == models.MethodShortCall && d.ShortCall
	})).Return(uint(11), nil)
	s.repo.On("CreateActivityRecord", mock.Anything, mock.Anything).Return(uint(100), nil)
	s.repo.On("UpdateLaborRequestFill", mock.Anything, requestID, 0, 1, models.RequestFilled).
		Return(nil)

	dispatches, err := s.engine.Dispatch(context.Background(), requestID,
		models.System("morning-referral"))
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), "W-1002", dispatches[0].WorkerID)
}

func (s *EngineTestSuite) TestDispatchByNameDoesNotAdvanceQueue() {
	bookID := uuid.NewRandom()
	requestID := uuid.NewRandom()
	req := &models.LaborRequest{ID: requestID, EmployerID: "E-2001", BookID: bookID,
		WorkersRequested: 1, Status: models.RequestOpen,
		ByName: true, NamedWorkerID: "W-1003"}
	named := &models.Registration{ID: 3, BookID: bookID, WorkerID: "W-1003",
		Status:         models.RegistrationRegistered,
		PriorityNumber: decimal.RequireFromString("100.30")}

	s.repo.On("GetLaborRequestByID", mock.Anything, requestID).Return(req, nil)
	s.repo.On("LockBook", mock.Anything, bookID).Return(nil)
	s.reSignCurrent()
	s.repo.On("GetRegistrationsByWorker", mock.Anything, "W-1003",
		[]models.RegistrationStatus{models.RegistrationRegistered, models.RegistrationExempt}).
		Return([]*models.Registration{named}, nil)
	s.rules.On("IsBlackedOut", mock.Anything, "W-1003", "E-2001", testNow).
		Return(false, time.Time{}, nil)
	s.repo.On("UpdateRegistrationStatus", mock.Anything, uint(3),
		models.RegistrationRegistered, models.RegistrationDispatched).Return(nil)
	s.repo.On("CreateDispatch", mock.Anything, mock.MatchedBy(func(d models.Dispatch) bool {
		return d.Method == models.MethodByName && d.WorkerID == "W-1003"
	})).Return(uint(11), nil)
	s.repo.On("CreateActivityRecord", mock.Anything, mock.MatchedBy(func(rec models.ActivityRecord) bool {
		return rec.Action == models.ActionDispatch
	})).Return(uint(100), nil)
	s.repo.On("CreateActivityRecord", mock.Anything, mock.MatchedBy(func(rec models.ActivityRecord) bool {
		return rec.Action == models.ActionByNameBypass
	})).Return(uint(101), nil)
	s.repo.On("UpdateLaborRequestFill", mock.Anything, requestID, 0, 1, models.RequestFilled).
		Return(nil)

	dispatches, err := s.engine.Dispatch(context.Background(), requestID,
		models.AuditContext{Actor: "dispatcher@hall"})
	assert.NoError(s.T(), err)
	assert.Len(s.T(), dispatches, 1)
	assert.Equal(s.T(), "W-1003", dispatches[0].WorkerID)
	// Workers ahead of W-1003 were never touched: no expectations exist for them.
}

func (s *EngineTestSuite) TestDispatchByNameReSignOverdueRejected() {
	bookID := uuid.NewRandom()
	requestID := uuid.NewRandom()
	req := &models.LaborRequest{ID: requestID, EmployerID: "E-2001", BookID: bookID,
		WorkersRequested: 1, Status: models.RequestOpen,
		ByName: true, NamedWorkerID: "W-1003"}
	named := &models.Registration{ID: 3, BookID: bookID, WorkerID: "W-1003",
		Status:         models.RegistrationRegistered,
		PriorityNumber: decimal.RequireFromString("100.30")}

	s.repo.On("GetLaborRequestByID", mock.Anything, requestID).Return(req, nil)
	s.repo.On("LockBook", mock.Anything, bookID).Return(nil)
	s.repo.On("GetRegistrationsByWorker", mock.Anything, "W-1003", mock.Anything).
		Return([]*models.Registration{named}, nil)
	// 40 days since the last re-sign; the sweep just has not caught up yet.
	s.rules.On("CheckReSignDue", mock.Anything, uint(3)).
		Return(compliance.ReSignOverdue, 10, nil)

	dispatches, err := s.engine.Dispatch(context.Background(), requestID,
		models.AuditContext{Actor: "dispatcher@hall"})
	assert.Nil(s.T(), dispatches)

	var inelErr *models.IneligibleError
	assert.True(s.T(), errors.As(err, &inelErr))
	assert.Equal(s.T(), "re-sign overdue", inelErr.Reason)
	// No dispatch, status, or fill writes: no such expectations exist.
}

func (s *EngineTestSuite) TestDispatchRequestNotOpen() {
	requestID := uuid.NewRandom()
	req := &models.LaborRequest{ID: requestID, Status: models.RequestFilled,
		WorkersRequested: 1, WorkersDispatched: 1}

	s.repo.On("GetLaborRequestByID", mock.Anything, requestID).Return(req, nil)

	dispatches, err := s.engine.Dispatch(context.Background(), requestID,
		models.System("morning-referral"))
	assert.Nil(s.T(), dispatches)

	var notOpenErr *models.RequestNotOpenError
	assert.True(s.T(), errors.As(err, &notOpenErr))
}

func (s *EngineTestSuite) TestSelectCandidatesDryRun() {
	bookID := uuid.NewRandom()
	requestID := uuid.NewRandom()
	req := &models.LaborRequest{ID: requestID, EmployerID: "E-2001", BookID: bookID,
		WorkersRequested: 2, Status: models.RequestOpen}

	s.repo.On("GetLaborRequestByID", mock.Anything, requestID).Return(req, nil)
	s.reSignCurrent()
	s.repo.On("GetRegistrationsByBook", mock.Anything, bookID, mock.Anything).
		Return(queueOfThree(bookID), nil)
	for _, w := range []string{"W-1001", "W-1002"} {
		s.rules.On("IsBlackedOut", mock.Anything, w, "E-2001", testNow).
			Return(false, time.Time{}, nil)
	}

	candidates, err := s.engine.SelectCandidates(context.Background(), requestID)
	assert.NoError(s.T(), err)
	assert.Len(s.T(), candidates, 2)
	assert.Equal(s.T(), "W-1001", candidates[0].WorkerID)
}

func (s *EngineTestSuite) TestSubmitRequestValidation() {
	_, err := s.engine.SubmitRequest(context.Background(),
		models.LaborRequest{BookID: uuid.NewRandom(), WorkersRequested: 0},
		models.System("api"))

	var stateErr *models.InvalidStateError
	assert.True(s.T(), errors.As(err, &stateErr))

	_, err = s.engine.SubmitRequest(context.Background(),
		models.LaborRequest{BookID: uuid.NewRandom(), WorkersRequested: 1, ByName: true},
		models.System("api"))
	assert.True(s.T(), errors.As(err, &stateErr))
}

func (s *EngineTestSuite) TestSubmitRequest() {
	bookID := uuid.NewRandom()
	book := &models.Book{ID: bookID, Classification: "WIREMAN", Active: true}

	s.repo.On("GetBookByID", mock.Anything, bookID).Return(book, nil)
	s.repo.On("CreateLaborRequest", mock.Anything, mock.MatchedBy(func(req models.LaborRequest) bool {
		return req.Status == models.RequestOpen && req.ID != nil
	})).Return(nil)

	req, err := s.engine.SubmitRequest(context.Background(),
		models.LaborRequest{EmployerID: "E-2001", BookID: bookID, WorkersRequested: 3},
		models.System("api"))
	assert.NoError(s.T(), err)
	assert.Equal(s.T(), models.RequestOpen, req.Status)
	assert.Equal(s.T(), testNow, req.ReceivedAt)
}

func (s *EngineTestSuite) TestTerminate() {
	d := &models.Dispatch{ID: 11, RegistrationID: 3, WorkerID: "W-1003", EmployerID: "E-2001"}

	s.repo.On("GetDispatchByID", mock.Anything, uint(11)).Return(d, nil)
	s.repo.On("TerminateDispatch", mock.Anything, uint(11),
		models.TerminationQuit, "walked off", testNow).Return(nil)
	s.repo.On("CreateActivityRecord", mock.Anything, mock.MatchedBy(func(rec models.ActivityRecord) bool {
		return rec.Action == models.ActionTerminate && rec.NewStatus == string(models.TerminationQuit)
	})).Return(uint(100), nil)

	err := s.engine.Terminate(context.Background(), 11, models.TerminationQuit, "walked off",
		models.AuditContext{Actor: "agent@hall"})
	assert.NoError(s.T(), err)
}

func (s *EngineTestSuite) TestCancelRequest() {
	requestID := uuid.NewRandom()
	req := &models.LaborRequest{ID: requestID, BookID: uuid.NewRandom(),
		Status: models.RequestOpen, WorkersRequested: 2}

	s.repo.On("GetLaborRequestByID", mock.Anything, requestID).Return(req, nil)
	s.repo.On("CancelLaborRequest", mock.Anything, requestID).Return(nil)
	s.repo.On("CreateActivityRecord", mock.Anything, mock.MatchedBy(func(rec models.ActivityRecord) bool {
		return rec.Action == models.ActionRequestCancelled
	})).Return(uint(100), nil)

	err := s.engine.CancelRequest(context.Background(), requestID,
		models.AuditContext{Actor: "agent@hall"})
	assert.NoError(s.T(), err)
}
