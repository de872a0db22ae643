// Package queueing runs the engine's batch jobs through a persistent Postgres
// job queue, so a missed morning run survives a process restart.
package queueing

import (
	"encoding/json"
	"time"

	"github.com/bgentry/que-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx"
	"github.com/pkg/errors"

	"github.com/unionhall/referral-app/log"
)

const (
	QueMorningReferral = "MorningReferral"
	QueComplianceSweep = "ComplianceSweep"
)

// JobArgs is the payload for both job types.
type JobArgs struct {
	RequestedAt time.Time `json:"requested_at"`
	RequestedBy string    `json:"requested_by"`
}

// Enqueuer only handles inserting job entries into the queue table. It can be
// mocked for testing.
type Enqueuer interface {
	AddJob(jobType string, args JobArgs) error
	Close()
}

func NewEnqueuer(queueDatabaseURL string) (Enqueuer, error) {
	cfg, err := pgx.ParseURI(queueDatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid queue database URL")
	}

	pool, err := pgx.NewConnPool(pgx.ConnPoolConfig{
		ConnConfig:   cfg,
		AfterConnect: que.PrepareStatements,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create queue connection pool")
	}

	return &queEnqueuer{client: que.NewClient(pool), pool: pool}, nil
}

type queEnqueuer struct {
	client *que.Client
	pool   *pgx.ConnPool
}

// AddJob inserts the job, retrying transient failures with exponential
// backoff before giving up.
func (q *queEnqueuer) AddJob(jobType string, args JobArgs) error {
	payload, err := json.Marshal(args)
	if err != nil {
		return err
	}

	enqueue := func() error {
		return q.client.Enqueue(&que.Job{Type: jobType, Args: payload})
	}
	err = backoff.Retry(enqueue, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
	if err != nil {
		return errors.Wrapf(err, "failed to enqueue %s job", jobType)
	}

	log.Engine.WithField("jobType", jobType).Info("job enqueued")
	return nil
}

func (q *queEnqueuer) Close() {
	q.pool.Close()
}
