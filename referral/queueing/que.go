package queueing

import (
	"context"
	"encoding/json"

	"github.com/bgentry/que-go"
	"github.com/jackc/pgx"

	"github.com/unionhall/referral-app/log"
	"github.com/unionhall/referral-app/referral/scheduler"
)

// Variable substitution to support testing.
var logFatal = log.Worker.Fatal

// ReferralRunner is the slice of the scheduler the queue needs.
type ReferralRunner interface {
	RunMorningReferral(ctx context.Context) (*scheduler.Summary, error)
}

// SweepRunner is the slice of the compliance enforcer the queue needs.
type SweepRunner interface {
	SweepReSigns(ctx context.Context) (int, error)
}

// queue retrieves jobs using the que client and delegates them to the engine.
type queue struct {
	quePool *que.WorkerPool
	pool    *pgx.ConnPool

	runner   ReferralRunner
	enforcer SweepRunner
}

// StartQue creates a que-go client and begins listening for jobs. It returns
// immediately; the workers run in their own goroutines.
func StartQue(queueDatabaseURL string, numWorkers int, runner ReferralRunner, enforcer SweepRunner) *queue {
	q := &queue{runner: runner, enforcer: enforcer}

	cfg, err := pgx.ParseURI(queueDatabaseURL)
	if err != nil {
		logFatal(err)
	}

	q.pool, err = pgx.NewConnPool(pgx.ConnPoolConfig{
		ConnConfig:   cfg,
		AfterConnect: que.PrepareStatements,
	})
	if err != nil {
		logFatal(err)
	}

	qc := que.NewClient(q.pool)
	wm := que.WorkMap{
		QueMorningReferral: q.processMorningReferral,
		QueComplianceSweep: q.processComplianceSweep,
	}

	q.quePool = que.NewWorkerPool(qc, wm, numWorkers)
	q.quePool.Start()

	return q
}

// StopQue cleans up any resources created.
func (q *queue) StopQue() {
	q.quePool.Shutdown()
	q.pool.Close()
}

func (q *queue) processMorningReferral(job *que.Job) error {
	args, err := parseArgs(job)
	if err != nil {
		// ACK the job; retrying won't make the payload parseable.
		return nil
	}

	summary, err := q.runner.RunMorningReferral(context.Background())
	if err != nil {
		log.Worker.WithField("requestedBy", args.RequestedBy).Error(err)
		return err
	}

	log.Worker.WithFields(map[string]interface{}{
		"requestedBy": args.RequestedBy,
		"processed":   summary.Processed,
		"filled":      summary.Filled,
		"shortfalls":  summary.Shortfalls,
	}).Info("morning referral job complete")

	return nil
}

func (q *queue) processComplianceSweep(job *que.Job) error {
	if _, err := parseArgs(job); err != nil {
		return nil
	}

	rolled, err := q.enforcer.SweepReSigns(context.Background())
	if err != nil {
		log.Worker.Error(err)
		return err
	}

	log.Worker.WithField("rolledOff", rolled).Info("compliance sweep job complete")
	return nil
}

func parseArgs(job *que.Job) (*JobArgs, error) {
	var args JobArgs
	if err := json.Unmarshal(job.Args, &args); err != nil {
		log.Worker.Warnf("Removing job with unparseable args from queue: %s", err.Error())
		return nil, err
	}
	return &args, nil
}
