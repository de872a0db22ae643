package refcli

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pborman/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/unionhall/referral-app/referral/compliance"
	"github.com/unionhall/referral-app/referral/constants"
	"github.com/unionhall/referral-app/referral/database"
	"github.com/unionhall/referral-app/referral/directory"
	"github.com/unionhall/referral-app/referral/dispatch"
	"github.com/unionhall/referral-app/referral/models"
	"github.com/unionhall/referral-app/referral/models/postgres"
	"github.com/unionhall/referral-app/referral/queueing"
	"github.com/unionhall/referral-app/referral/registration"
	"github.com/unionhall/referral-app/referral/scheduler"
	"github.com/unionhall/referral-app/referral/utils"
	"github.com/unionhall/referral-app/referral/web"
)

// App Name and usage. Edit them here to prevent breaking tests
const Name = "referral"
const Usage = "Union hall referral and dispatch engine CLI"

type services struct {
	db       *sql.DB
	repo     *postgres.Repository
	manager  registration.Manager
	enforcer compliance.Enforcer
	engine   dispatch.Engine
	runner   scheduler.Runner
}

func buildServices() (*services, error) {
	db := database.GetDbConnection()
	repo := postgres.NewRepository(db)
	tx := postgres.NewTxRunner(db)

	epoch, step, err := registration.LoadConfig()
	if err != nil {
		return nil, err
	}
	complianceCfg, err := compliance.LoadConfig()
	if err != nil {
		return nil, err
	}
	dispatchCfg, err := dispatch.LoadConfig()
	if err != nil {
		return nil, err
	}
	schedulerCfg, err := scheduler.LoadConfig()
	if err != nil {
		return nil, err
	}

	// Registrations proceed without the standing check when no directory is
	// configured.
	var dir registration.WorkerLookup
	if client, err := directory.NewClient(); err != nil {
		log.Warn(err)
	} else {
		dir = client
	}

	enforcer := compliance.NewEnforcer(tx, repo, complianceCfg)
	engine := dispatch.NewEngine(tx, repo, enforcer, dispatchCfg)

	return &services{
		db:       db,
		repo:     repo,
		manager:  registration.NewManager(tx, repo, dir, epoch, step),
		enforcer: enforcer,
		engine:   engine,
		runner:   scheduler.NewRunner(repo, engine, schedulerCfg),
	}, nil
}

func GetApp() *cli.App {
	return setUpApp()
}

func setUpApp() *cli.App {
	app := cli.NewApp()
	app.Name = Name
	app.Usage = Usage
	app.Version = constants.Version
	var bookName, classification, region, migrationPath string
	var tier int
	app.Commands = []cli.Command{
		{
			Name:  "start-api",
			Usage: "Start the API",
			Action: func(c *cli.Context) error {
				svc, err := buildServices()
				if err != nil {
					return err
				}

				fmt.Fprintf(app.Writer, "%s\n", "Starting referral API...")

				srv := &http.Server{
					Handler:      web.NewAPIRouter(web.NewAPI(svc.manager, svc.repo, svc.db)),
					Addr:         fmt.Sprintf(":%d", utils.GetEnvInt("REFERRAL_API_PORT", 3000)),
					ReadTimeout:  time.Duration(utils.GetEnvInt("API_READ_TIMEOUT", 10)) * time.Second,
					WriteTimeout: time.Duration(utils.GetEnvInt("API_WRITE_TIMEOUT", 20)) * time.Second,
					IdleTimeout:  time.Duration(utils.GetEnvInt("API_IDLE_TIMEOUT", 120)) * time.Second,
				}
				return srv.ListenAndServe()
			},
		},
		{
			Name:  "start-worker",
			Usage: "Start the queue worker",
			Action: func(c *cli.Context) error {
				svc, err := buildServices()
				if err != nil {
					return err
				}

				queueDatabaseURL := os.Getenv("QUEUE_DATABASE_URL")
				numWorkers := utils.GetEnvInt("REFERRAL_WORKER_POOL_SIZE", 2)
				q := queueing.StartQue(queueDatabaseURL, numWorkers, svc.runner, svc.enforcer)
				defer q.StopQue()

				fmt.Fprintf(app.Writer, "%s\n", "Worker started, waiting for jobs...")
				select {}
			},
		},
		{
			Name:  "run-morning-referral",
			Usage: "Run the morning referral batch immediately",
			Action: func(c *cli.Context) error {
				svc, err := buildServices()
				if err != nil {
					return err
				}

				summary, err := svc.runner.RunMorningReferral(context.Background())
				if err != nil {
					return err
				}
				fmt.Fprintf(app.Writer, "Processed %d requests: %d filled, %d partial, %d shortfalls, %d errors\n",
					summary.Processed, summary.Filled, summary.Partial, summary.Shortfalls, summary.Errors)
				return nil
			},
		},
		{
			Name:  "run-compliance-sweep",
			Usage: "Roll off registrations past their re-sign deadline",
			Action: func(c *cli.Context) error {
				svc, err := buildServices()
				if err != nil {
					return err
				}

				rolled, err := svc.enforcer.SweepReSigns(context.Background())
				if err != nil {
					return err
				}
				fmt.Fprintf(app.Writer, "Rolled off %d registrations\n", rolled)
				return nil
			},
		},
		{
			Name:  "enqueue-morning-referral",
			Usage: "Queue a morning referral run for the worker",
			Action: func(c *cli.Context) error {
				return enqueueJob(app, queueing.QueMorningReferral)
			},
		},
		{
			Name:  "enqueue-compliance-sweep",
			Usage: "Queue a compliance sweep for the worker",
			Action: func(c *cli.Context) error {
				return enqueueJob(app, queueing.QueComplianceSweep)
			},
		},
		{
			Name:  "create-book",
			Usage: "Create an out-of-work book",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:        "name",
					Usage:       "Display name of the book",
					Destination: &bookName,
				},
				cli.StringFlag{
					Name:        "classification",
					Usage:       "Worker classification the book covers",
					Destination: &classification,
				},
				cli.StringFlag{
					Name:        "region",
					Usage:       "Region the book covers",
					Destination: &region,
				},
				cli.IntFlag{
					Name:        "tier",
					Usage:       "Priority tier, 1 (highest) through 4",
					Value:       1,
					Destination: &tier,
				},
			},
			Action: func(c *cli.Context) error {
				if bookName == "" || classification == "" || region == "" {
					return fmt.Errorf("name, classification, and region are required")
				}
				if tier < 1 || tier > 4 {
					return fmt.Errorf("tier must be between 1 and 4")
				}

				svc, err := buildServices()
				if err != nil {
					return err
				}

				book := models.Book{
					ID:             uuid.NewRandom(),
					Name:           bookName,
					Classification: classification,
					Region:         region,
					Tier:           tier,
					Active:         true,
					CreatedAt:      time.Now(),
				}
				if err := svc.repo.CreateBook(context.Background(), book); err != nil {
					return err
				}
				fmt.Fprintf(app.Writer, "Created book %s\n", book.ID.String())
				return nil
			},
		},
		{
			Name:  "migrate",
			Usage: "Apply database migrations",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:        "path",
					Usage:       "Path to the migration files",
					Value:       "db/migrations",
					Destination: &migrationPath,
				},
			},
			Action: func(c *cli.Context) error {
				m, err := migrate.New("file://"+migrationPath, os.Getenv("DATABASE_URL"))
				if err != nil {
					return err
				}
				defer m.Close()

				if err := m.Up(); err != nil && err != migrate.ErrNoChange {
					return err
				}
				fmt.Fprintf(app.Writer, "%s\n", "Migrations applied")
				return nil
			},
		},
	}
	return app
}

func enqueueJob(app *cli.App, jobType string) error {
	enqueuer, err := queueing.NewEnqueuer(os.Getenv("QUEUE_DATABASE_URL"))
	if err != nil {
		return err
	}
	defer enqueuer.Close()

	args := queueing.JobArgs{RequestedAt: time.Now(), RequestedBy: "cli"}
	if err := enqueuer.AddJob(jobType, args); err != nil {
		log.Error(err)
		return err
	}

	fmt.Fprintf(app.Writer, "Enqueued %s job\n", jobType)
	return nil
}
