package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/pborman/uuid"

	"github.com/unionhall/referral-app/conf"
	"github.com/unionhall/referral-app/log"
	"github.com/unionhall/referral-app/referral/models"
)

// Variable substitution to support testing.
var timeNow = time.Now

// Dispatcher is the slice of the dispatch engine the morning run needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, requestID uuid.UUID, audit models.AuditContext) ([]*models.Dispatch, error)
}

type Config struct {
	// SlotOrder is the comma-separated classification order for the morning
	// run. Classifications not listed run last, alphabetically.
	SlotOrder string `conf:"REFERRAL_SLOT_ORDER" conf_default:"WIREMAN,TECHNICIAN,INSTALLER"`

	// MorningCutoffHour is the hour on the previous working day by which a
	// request must have arrived to be included.
	MorningCutoffHour int `conf:"REFERRAL_MORNING_CUTOFF_HOUR" conf_default:"15"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := conf.Checkout(cfg); err != nil {
		return nil, err
	}

	log.Engine.Info("Successfully loaded configuration for Scheduler.")

	return cfg, nil
}

// Summary is the outcome of one morning referral run. Partial counts by-name
// requests that dispatched their named worker but still have open slots.
type Summary struct {
	Processed  int
	Filled     int
	Partial    int
	Shortfalls int
	Errors     int
}

// Runner drives the morning referral: every open request that arrived by the
// cutoff on the previous working day, book by book in slot order, oldest
// request first.
type Runner interface {
	RunMorningReferral(ctx context.Context) (*Summary, error)
}

type runner struct {
	repo       models.Repository
	dispatcher Dispatcher
	cfg        *Config
}

var _ Runner = &runner{}

func NewRunner(repo models.Repository, dispatcher Dispatcher, cfg *Config) Runner {
	return &runner{repo: repo, dispatcher: dispatcher, cfg: cfg}
}

func (ru *runner) RunMorningReferral(ctx context.Context) (*Summary, error) {
	cutoff := ru.Cutoff(timeNow())
	logger := log.Engine.WithField("cutoff", cutoff.Format(time.RFC3339))
	logger.Info("morning referral run starting")

	books, err := ru.repo.GetActiveBooks(ctx)
	if err != nil {
		return nil, err
	}
	ru.orderBySlot(books)

	summary := &Summary{}
	audit := models.System("morning-referral")

	for _, book := range books {
		reqs, err := ru.repo.GetOpenLaborRequests(ctx, book.ID, cutoff)
		if err != nil {
			return summary, err
		}

		for _, req := range reqs {
			summary.Processed++

			_, err := ru.dispatcher.Dispatch(ctx, req.ID, audit)
			if err == nil {
				updated, err := ru.repo.GetLaborRequestByID(ctx, req.ID)
				if err != nil {
					summary.Errors++
					logger.WithField("requestID", req.ID.String()).Error(err)
					continue
				}
				if updated.Status == models.RequestFilled {
					summary.Filled++
				} else {
					summary.Partial++
				}
				continue
			}

			var shortErr *models.ShortfallError
			if errors.As(err, &shortErr) {
				summary.Shortfalls++
				logger.WithFields(map[string]interface{}{
					"requestID": req.ID.String(),
					"needed":    shortErr.Needed,
					"eligible":  shortErr.Eligible,
				}).Warn("request left open, not enough eligible workers")
				continue
			}

			summary.Errors++
			logger.WithField("requestID", req.ID.String()).Error(err)
		}
	}

	logger.WithFields(map[string]interface{}{
		"processed":  summary.Processed,
		"filled":     summary.Filled,
		"partial":    summary.Partial,
		"shortfalls": summary.Shortfalls,
		"errors":     summary.Errors,
	}).Info("morning referral run complete")

	return summary, nil
}

// Cutoff is the inclusion deadline for a run happening at t: the cutoff hour
// on the previous working day. Weekends are skipped; a Monday run reaches
// back to Friday.
func (ru *runner) Cutoff(t time.Time) time.Time {
	d := t.AddDate(0, 0, -1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), ru.cfg.MorningCutoffHour, 0, 0, 0, t.Location())
}

// orderBySlot sorts books by their classification's slot position, then tier.
// Unlisted classifications sort after listed ones, alphabetically.
func (ru *runner) orderBySlot(books []*models.Book) {
	slots := make(map[string]int)
	for i, c := range strings.Split(ru.cfg.SlotOrder, ",") {
		slots[strings.TrimSpace(c)] = i
	}

	rank := func(b *models.Book) int {
		if r, ok := slots[b.Classification]; ok {
			return r
		}
		return len(slots)
	}

	sort.SliceStable(books, func(i, j int) bool {
		ri, rj := rank(books[i]), rank(books[j])
		if ri != rj {
			return ri < rj
		}
		if books[i].Classification != books[j].Classification {
			return books[i].Classification < books[j].Classification
		}
		return books[i].Tier < books[j].Tier
	})
}
