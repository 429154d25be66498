package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata" // Civil time must not depend on the host zoneinfo

	"sweep_notifier/internal/app"
	"sweep_notifier/internal/domain/alert"
	"sweep_notifier/internal/domain/push"
	"sweep_notifier/internal/infra/config"
	idb "sweep_notifier/internal/infra/database"
	"sweep_notifier/internal/infra/fcm"
	"sweep_notifier/internal/infra/logger"
	"sweep_notifier/internal/infra/scheduler"
	"sweep_notifier/internal/infra/telegram"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger.Log.Fatalf("FATAL: %v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "notifier",
		HelpName:  "notifier",
		Usage:     "Street sweeping and parking deadline push notifications.",
		UsageText: "notifier <command> [arguments...]",
		Commands: []cli.Command{
			{
				Name:   "serve",
				Usage:  "run notification passes on the configured cron spec",
				Action: serve,
				Flags:  serveFlags,
			},
			{
				Name:   "sweep",
				Usage:  "run a single notification pass and exit",
				Action: sweep,
				Flags:  sweepFlags,
			},
			{
				Name:   "next",
				Usage:  "print the next occurrence of a recurring sweeping rule",
				Action: next,
				Flags:  nextFlags,
			},
			{
				Name:   "deadline",
				Usage:  "print the move-by deadline for a time-limited regulation",
				Action: deadline,
				Flags:  deadlineFlags,
			},
			{
				Name:   "subscribe",
				Usage:  "create or replace a device subscription",
				Action: subscribe,
				Flags:  subscribeFlags,
			},
			{
				Name:   "status",
				Usage:  "list a device's subscriptions and their next events",
				Action: status,
				Flags:  []cli.Flag{tokenFlag},
			},
			{
				Name:   "unsubscribe",
				Usage:  "remove a device subscription",
				Action: unsubscribe,
				Flags:  []cli.Flag{tokenFlag, targetFlag},
			},
		},
	}
}

// deps is everything wired from configuration.
type deps struct {
	cfg       *config.AppConfig
	db        *sql.DB
	subs      *idb.PostgresSubscriptionRepository
	schedules *idb.PostgresScheduleRepository
	sender    push.Sender    // nil when no credentials are configured
	alerter   alert.Notifier // nil when alerts are disabled
	dryRun    bool
}

func (d *deps) Close() {
	if d.db != nil {
		d.db.Close()
	}
}

func setup(ctx context.Context, withPush bool) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("could not load application configuration: %w", err)
	}
	logger.Init(cfg)
	log := logger.Component("main")
	log.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"timezone":    cfg.Timezone,
		"cadence":     cfg.CadenceMinutes,
	}).Info("Configuration loaded")

	db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}
	if err := idb.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("Database connection established successfully.")

	d := &deps{
		cfg:       cfg,
		db:        db,
		subs:      idb.NewPostgresSubscriptionRepository(db),
		schedules: idb.NewPostgresScheduleRepository(db),
		dryRun:    cfg.DryRun,
	}
	if !withPush {
		return d, nil
	}

	if cfg.HasPushCredentials() {
		sender, err := fcm.NewSender(ctx, cfg.FCMCredentialsFile, cfg.FCMServiceAccountJSON, cfg.FCMProjectID, logger.Component("fcm"))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("could not initialize FCM: %w", err)
		}
		d.sender = sender
	} else {
		log.Warn("No FCM credentials configured, forcing dry run")
		d.dryRun = true
	}

	if cfg.AlertsEnabled() {
		alerter, err := telegram.NewAlerter(cfg.TelegramToken, cfg.AlertChatID)
		if err != nil {
			log.WithError(err).Warn("Telegram alerts disabled")
		} else {
			d.alerter = alerter
		}
	}
	return d, nil
}

func (d *deps) sweepService() *app.SweepService {
	return app.NewSweepService(d.subs, d.schedules, d.sender, d.cfg.Location, logger.Component("sweep"), app.SweepOptions{
		Workers:         d.cfg.Workers,
		SendRate:        d.cfg.SendRate,
		ClaimBeforeSend: d.cfg.ClaimBeforeSend,
	})
}

func (d *deps) scheduler(dryRun bool) *scheduler.SweepScheduler {
	return scheduler.NewSweepScheduler(
		d.sweepService(),
		d.alerter,
		logger.Component("scheduler"),
		d.cfg.Location,
		d.cfg.CronSpecSweep,
		d.cfg.CadenceMinutes,
		dryRun,
	)
}

var serveFlags = []cli.Flag{
	cli.BoolFlag{
		Name:  "run-now",
		Usage: "run one pass immediately before waiting for the first cron tick",
	},
}

func serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer d.Close()
	log := logger.Component("main")

	sched := d.scheduler(d.dryRun)
	if c.Bool("run-now") {
		_, _ = sched.RunOnce(ctx)
	}
	if err := sched.Start(); err != nil {
		return err
	}

	log.Info("Application setup complete. Scheduler is running...")
	<-ctx.Done() // Block until a signal is received

	log.Info("Shutting down application...")
	sched.Stop()
	log.Info("Application shut down gracefully.")
	return nil
}
