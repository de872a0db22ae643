package registration

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

	"github.com/unionhall/referral-app/referral/directory"
	"github.com/unionhall/referral-app/referral/models"
	"github.com/unionhall/referral-app/referral/utils"
)

var (
	testEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	testNow   = time.Date(2024, 6, 11, 9, 30, 0, 0, time.UTC)
	testStep  = decimal.RequireFromString("0.01")
)

type ManagerTestSuite struct {
	suite.Suite

	repo    *models.MockRepository
	dir     *directory.MockClient
	manager Manager
}

func (s *ManagerTestSuite) SetupTest() {
	s.repo = &models.MockRepository{}
	s.dir = &directory.MockClient{}
	s.manager = NewManager(&models.TestTxRunner{Repo: s.repo}, s.repo, s.dir, testEpoch, testStep)
	timeNow = func() time.Time { return testNow }
}

func (s *ManagerTestSuite) TearDownTest() {
	timeNow = time.Now
	s.repo.AssertExpectations(s.T())
	s.dir.AssertExpectations(s.T())
}

func (s *ManagerTestSuite) goodStanding(workerID string) {
	s.dir.On("GetWorker", mock.Anything, workerID).
		Return(&directory.Worker{ID: workerID, Classification: "WIREMAN", GoodStanding: true}, nil)
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

func activeBook(classification string) *models.Book {
	return &models.Book{
		ID:             uuid.NewRandom(),
		Name:           "Book 1 " + classification,
		Classification: classification,
		Region:         "LOCAL_AREA",
		Tier:           1,
		Active:         true,
	}
}

func (s *ManagerTestSuite) TestRegisterFirstOfDay() {
	book := activeBook("WIREMAN")
	dayOrdinal := decimal.NewFromInt(int64(utils.DaysSince(testEpoch, testNow)))

	s.goodStanding("W-1001")
	s.repo.On("LockBook", mock.Anything, book.ID).Return(nil)
	s.repo.On("GetBookByID", mock.Anything, book.ID).Return(book, nil)
	s.repo.On("GetRegistrationsByWorker", mock.Anything, "W-1001",
		[]models.RegistrationStatus{models.RegistrationRegistered, models.RegistrationExempt}).
		Return(nil, nil)
	s.repo.On("GetMaxPriorityNumber", mock.Anything, book.ID, mock.Anything, mock.Anything).
		Return(decimal.NullDecimal{}, nil)
	s.repo.On("CreateRegistration", mock.Anything, mock.MatchedBy(func(reg models.Registration) bool {
		return reg.PriorityNumber.Equal(dayOrdinal.Add(testStep)) &&
			reg.Status == models.RegistrationRegistered
	})).Return(uint(1), nil)
	s.repo.On("CreateActivityRecord", mock.Anything, mock.MatchedBy(func(rec models.ActivityRecord) bool {
		return rec.Action == models.ActionRegister && rec.RegistrationID == uint(1)
	})).Return(uint(10), nil)

	reg, err := s.manager.Register(context.Background(), book.ID, "W-1001",
		models.AuditContext{Actor: "agent@hall", SourceIP: "10.0.0.8"})
	assert.NoError(s.T(), err)
	assert.True(s.T(), reg.PriorityNumber.Equal(dayOrdinal.Add(testStep)))
}

func (s *ManagerTestSuite) TestRegisterLaterSameDay() {
	book := activeBook("WIREMAN")
	dayOrdinal := decimal.NewFromInt(int64(utils.DaysSince(testEpoch, testNow)))
	maxToday := dayOrdinal.Add(decimal.RequireFromString("0.03"))

	s.goodStanding("W-1004")
	s.repo.On("LockBook", mock.Anything, book.ID).Return(nil)
	s.repo.On("GetBookByID", mock.Anything, book.ID).Return(book, nil)
	s.repo.On("GetRegistrationsByWorker", mock.Anything, "W-1004", mock.Anything).Return(nil, nil)
	s.repo.On("GetMaxPriorityNumber", mock.Anything, book.ID, mock.Anything, mock.Anything).
		Return(decimal.NullDecimal{Decimal: maxToday, Valid: true}, nil)
	s.repo.On("CreateRegistration", mock.Anything, mock.MatchedBy(func(reg models.Registration) bool {
		return reg.PriorityNumber.Equal(dayOrdinal.Add(decimal.RequireFromString("0.04")))
	})).Return(uint(4), nil)
	s.repo.On("CreateActivityRecord", mock.Anything, mock.Anything).Return(uint(40), nil)

	reg, err := s.manager.Register(context.Background(), book.ID, "W-1004",
		models.System("api"))
	assert.NoError(s.T(), err)
	assert.True(s.T(), reg.PriorityNumber.Equal(dayOrdinal.Add(decimal.RequireFromString("0.04"))))
}

func (s *ManagerTestSuite) TestRegisterDuplicateClassification() {
	book := activeBook("WIREMAN")
	otherBook := activeBook("WIREMAN")
	existing := &models.Registration{ID: 9, BookID: otherBook.ID, WorkerID: "W-1001",
		Status: models.RegistrationRegistered}

	s.goodStanding("W-1001")
	s.repo.On("LockBook", mock.Anything, book.ID).Return(nil)
	s.repo.On("GetBookByID", mock.Anything, book.ID).Return(book, nil)
	s.repo.On("GetRegistrationsByWorker", mock.Anything, "W-1001", mock.Anything).
		Return([]*models.Registration{existing}, nil)
	s.repo.On("GetBookByID", mock.Anything, otherBook.ID).Return(otherBook, nil)

	reg, err := s.manager.Register(context.Background(), book.ID, "W-1001", models.System("api"))
	assert.Nil(s.T(), reg)

	var dupErr *models.DuplicateClassificationError
	assert.True(s.T(), errors.As(err, &dupErr))
	assert.Equal(s.T(), uint(9), dupErr.RegistrationID)
}

func (s *ManagerTestSuite) TestRegisterInactiveBook() {
	book := activeBook("WIREMAN")
	book.Active = false

	s.goodStanding("W-1001")
	s.repo.On("LockBook", mock.Anything, book.ID).Return(nil)
	s.repo.On("GetBookByID", mock.Anything, book.ID).Return(book, nil)

	reg, err := s.manager.Register(context.Background(), book.ID, "W-1001", models.System("api"))
	assert.Nil(s.T(), reg)

	var stateErr *models.InvalidStateError
	assert.True(s.T(), errors.As(err, &stateErr))
	assert.Equal(s.T(), "book", stateErr.Entity)
}

func (s *ManagerTestSuite) TestRegisterNotInGoodStanding() {
	book := activeBook("WIREMAN")

	s.dir.On("GetWorker", mock.Anything, "W-2002").
		Return(&directory.Worker{ID: "W-2002", GoodStanding: false}, nil)

	reg, err := s.manager.Register(context.Background(), book.ID, "W-2002", models.System("api"))
	assert.Nil(s.T(), reg)

	var inErr *models.IneligibleError
	assert.True(s.T(), errors.As(err, &inErr))
	assert.Equal(s.T(), "W-2002", inErr.WorkerID)
}

func (s *ManagerTestSuite) TestRegisterUnknownWorker() {
	book := activeBook("WIREMAN")

	s.dir.On("GetWorker", mock.Anything, "W-9999").
		Return(nil, &models.NotFoundError{Entity: "worker", ID: "W-9999"})

	reg, err := s.manager.Register(context.Background(), book.ID, "W-9999", models.System("api"))
	assert.Nil(s.T(), reg)

	var nfErr *models.NotFoundError
	assert.True(s.T(), errors.As(err, &nfErr))
}

func (s *ManagerTestSuite) TestReRegisterShortCallKeepsNumber() {
	book := activeBook("WIREMAN")
	priorAPN := decimal.RequireFromString("8700.02")
	prior := &models.Registration{ID: 5, BookID: book.ID, WorkerID: "W-1001",
		PriorityNumber: priorAPN, Status: models.RegistrationDispatched}

	s.repo.On("GetRegistrationByID", mock.Anything, uint(5)).Return(prior, nil)
	s.repo.On("LockBook", mock.Anything, book.ID).Return(nil)
	s.repo.On("GetBookByID", mock.Anything, book.ID).Return(book, nil)
	s.repo.On("GetRegistrationsByWorker", mock.Anything, "W-1001", mock.Anything).Return(nil, nil)
	s.repo.On("GetDispatchesByRegistration", mock.Anything, uint(5)).
		Return([]*models.Dispatch{{
			ID: 3, RegistrationID: 5, ShortCall: true,
			StartDate:          testNow.AddDate(0, 0, -3),
			TerminatedAt:       testNow.AddDate(0, 0, -1),
			TerminationOutcome: models.TerminationCompleted,
		}}, nil)
	s.repo.On("CreateRegistration", mock.Anything, mock.MatchedBy(func(reg models.Registration) bool {
		return reg.PriorityNumber.Equal(priorAPN)
	})).Return(uint(6), nil)
	s.repo.On("CreateActivityRecord", mock.Anything, mock.MatchedBy(func(rec models.ActivityRecord) bool {
		return rec.Action == models.ActionReRegister
	})).Return(uint(60), nil)

	reg, err := s.manager.ReRegister(context.Background(), 5, models.System("api"))
	assert.NoError(s.T(), err)
	assert.True(s.T(), reg.PriorityNumber.Equal(priorAPN))
}

func (s *ManagerTestSuite) TestReRegisterLongCallGetsNewNumber() {
	book := activeBook("WIREMAN")
	priorAPN := decimal.RequireFromString("8700.02")
	prior := &models.Registration{ID: 5, BookID: book.ID, WorkerID: "W-1001",
		PriorityNumber: priorAPN, Status: models.RegistrationDispatched}
	dayOrdinal := decimal.NewFromInt(int64(utils.DaysSince(testEpoch, testNow)))

	s.repo.On("GetRegistrationByID", mock.Anything, uint(5)).Return(prior, nil)
	s.repo.On("LockBook", mock.Anything, book.ID).Return(nil)
	s.repo.On("GetBookByID", mock.Anything, book.ID).Return(book, nil)
	s.repo.On("GetRegistrationsByWorker", mock.Anything, "W-1001", mock.Anything).Return(nil, nil)
	// Flagged short but ran two weeks, so it counts as a long call.
	s.repo.On("GetDispatchesByRegistration", mock.Anything, uint(5)).
		Return([]*models.Dispatch{{
			ID: 3, RegistrationID: 5, ShortCall: true,
			StartDate:          testNow.AddDate(0, 0, -15),
			TerminatedAt:       testNow.AddDate(0, 0, -1),
			TerminationOutcome: models.TerminationCompleted,
		}}, nil)
	s.repo.On("GetMaxPriorityNumber", mock.Anything, book.ID, mock.Anything, mock.Anything).
		Return(decimal.NullDecimal{}, nil)
	s.repo.On("CreateRegistration", mock.Anything, mock.MatchedBy(func(reg models.Registration) bool {
		return reg.PriorityNumber.Equal(dayOrdinal.Add(testStep))
	})).Return(uint(6), nil)
	s.repo.On("CreateActivityRecord", mock.Anything, mock.Anything).Return(uint(60), nil)

	reg, err := s.manager.ReRegister(context.Background(), 5, models.System("api"))
	assert.NoError(s.T(), err)
	assert.True(s.T(), reg.PriorityNumber.GreaterThan(priorAPN))
}

func (s *ManagerTestSuite) TestReRegisterNotTerminal() {
	prior := &models.Registration{ID: 5, BookID: uuid.NewRandom(), WorkerID: "W-1001",
		Status: models.RegistrationRegistered}

	s.repo.On("GetRegistrationByID", mock.Anything, uint(5)).Return(prior, nil)

	reg, err := s.manager.ReRegister(context.Background(), 5, models.System("api"))
	assert.Nil(s.T(), reg)

	var stateErr *models.InvalidStateError
	assert.True(s.T(), errors.As(err, &stateErr))
}

func (s *ManagerTestSuite) TestWithdraw() {
	bookID := uuid.NewRandom()
	reg := &models.Registration{ID: 5, BookID: bookID, WorkerID: "W-1001",
		PriorityNumber: decimal.RequireFromString("8700.02"),
		Status:         models.RegistrationRegistered}

	s.repo.On("GetRegistrationByID", mock.Anything, uint(5)).Return(reg, nil)
	s.repo.On("LockBook", mock.Anything, bookID).Return(nil)
	s.repo.On("UpdateRegistrationStatus", mock.Anything, uint(5),
		models.RegistrationRegistered, models.RegistrationRolledOff).Return(nil)
	s.repo.On("CreateActivityRecord", mock.Anything, mock.MatchedBy(func(rec models.ActivityRecord) bool {
		return rec.Action == models.ActionWithdraw && rec.Reason == "leaving the area"
	})).Return(uint(50), nil)

	err := s.manager.Withdraw(context.Background(), 5, "leaving the area",
		models.AuditContext{Actor: "agent@hall"})
	assert.NoError(s.T(), err)
}

func (s *ManagerTestSuite) TestWithdrawAlreadyDispatched() {
	reg := &models.Registration{ID: 5, BookID: uuid.NewRandom(), WorkerID: "W-1001",
		Status: models.RegistrationDispatched}

	s.repo.On("GetRegistrationByID", mock.Anything, uint(5)).Return(reg, nil)

	err := s.manager.Withdraw(context.Background(), 5, "", models.System("api"))

	var stateErr *models.InvalidStateError
	assert.True(s.T(), errors.As(err, &stateErr))
}
