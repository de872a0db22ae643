package directory

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockClient struct {
	mock.Mock
}

var _ Client = &MockClient{}

func (m *MockClient) GetWorker(ctx context.Context, workerID string) (*Worker, error) {
	args := m.Called(ctx, workerID)
	var w *Worker
	if args.Get(0) != nil {
		w = args.Get(0).(*Worker)
	}
	return w, args.Error(1)
}

func (m *MockClient) GetEmployer(ctx context.Context, employerID string) (*Employer, error) {
	args := m.Called(ctx, employerID)
	var e *Employer
	if args.Get(0) != nil {
		e = args.Get(0).(*Employer)
	}
	return e, args.Error(1)
}
