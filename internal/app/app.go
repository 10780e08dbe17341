package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"rate-annualizer/internal/alerting"
	"rate-annualizer/internal/config"
	"rate-annualizer/internal/fetcher"
	"rate-annualizer/internal/form"
	"rate-annualizer/internal/logging"
	"rate-annualizer/internal/rates"
	"rate-annualizer/internal/scheduler"
	"rate-annualizer/internal/server"
	"rate-annualizer/internal/service"
	"rate-annualizer/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), Out: os.Stdout}
}

func (a *App) newAnnualizer() (*service.Annualizer, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	policy, err := service.ParsePolicy(a.Config.Annualizer.CurrentCDIPolicy)
	if err != nil {
		return nil, err
	}

	sgs := fetcher.NewSGS(fetcher.SGSOptions{
		BaseURL:   a.Config.BCB.BaseURL,
		Timeout:   a.Config.BCB.RequestTimeout,
		UserAgent: a.Config.BCB.UserAgent,
		Location:  loc,
	}, a.Logger)

	return service.NewAnnualizer(sgs, service.Options{
		Location:     loc,
		LatestWindow: a.Config.BCB.LatestWindow,
		SelicSpread:  decimal.NewFromFloat(a.Config.Annualizer.SelicSpreadPP),
		Policy:       policy,
	}, a.Logger), nil
}

func (a *App) defaultStrategy() (rates.Strategy, error) {
	return rates.ParseStrategy(a.Config.Annualizer.DefaultStrategy)
}

func (a *App) newUpdater(source form.RateSource) (*form.Updater, error) {
	strategy, err := a.defaultStrategy()
	if err != nil {
		return nil, err
	}
	policy, err := service.ParsePolicy(a.Config.Annualizer.CurrentCDIPolicy)
	if err != nil {
		return nil, err
	}
	return form.NewUpdater(source, form.NewTokens(), form.UpdaterOptions{
		Strategy:         strategy,
		CurrentCDIPolicy: policy,
	}, a.Logger), nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

func (a *App) openStore(ctx context.Context) (storage.Repository, error) {
	return storage.Open(ctx, a.Config)
}

// newRefresher wires the refresh service. sched may be nil for one-shot use.
func (a *App) newRefresher(sched *scheduler.Scheduler, annualizer service.AsOfAnnualizer, store storage.Repository, notifier alerting.Notifier) (*service.Refresher, error) {
	watches, err := service.ParseWatches(a.Config.Refresh.Watches)
	if err != nil {
		return nil, err
	}

	var snapshots storage.SnapshotStore
	var alerts storage.AlertStore
	if store != nil {
		snapshots = store
		alerts = store
	}
	return service.NewRefresher(a.Config, sched, annualizer, watches, snapshots, alerts, notifier, a.Logger), nil
}

func (a *App) newScheduler() (*scheduler.Scheduler, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}
	return scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Cron:         a.Config.Scheduler.Cron,
		Location:     loc,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
}

func (a *App) newServer(annualizer *service.Annualizer) (*server.Server, error) {
	updater, err := a.newUpdater(annualizer)
	if err != nil {
		return nil, err
	}
	strategy, err := a.defaultStrategy()
	if err != nil {
		return nil, err
	}
	return server.New(server.Config{
		Addr:            a.Config.Server.Addr,
		AllowedOrigins:  a.Config.Server.AllowedOrigins,
		RequestTimeout:  a.Config.Server.RequestTimeout,
		Compress:        a.Config.Server.Compress,
		Rates:           annualizer,
		Updater:         updater,
		DefaultStrategy: strategy,
		DefaultLookback: a.Config.Annualizer.DefaultLookback,
		Log:             a.Logger,
	}), nil
}

// RunOptions configure the long-running service.
type RunOptions struct {
	// Serve also starts the HTTP API alongside the refresh loop.
	Serve bool
}

// Run executes the scheduled refresh service until interrupted.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	} else {
		defer store.Close()
	}

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}
	annualizer, err := a.newAnnualizer()
	if err != nil {
		return err
	}
	refresher, err := a.newRefresher(sched, annualizer, store, a.newNotifier())
	if err != nil {
		return err
	}

	var srv *server.Server
	if opts.Serve {
		if srv, err = a.newServer(annualizer); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info().Int("watches", len(refresher.Watches())).Msg("starting refresh service")
		return refresher.Run(gctx)
	})
	if srv != nil {
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			return shutdown(srv)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("refresh service stopped")
	return nil
}

// Serve runs only the HTTP API until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	annualizer, err := a.newAnnualizer()
	if err != nil {
		return err
	}
	srv, err := a.newServer(annualizer)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if err := shutdown(srv); err != nil {
		return err
	}
	return <-errCh
}

func shutdown(srv *server.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// AnnualizeOptions describe a one-off annualization.
type AnnualizeOptions struct {
	Series string
	// Months is the look-back; nil uses the configured default. Zero or
	// negative values are rejected before any fetch.
	Months   *int
	Strategy string
	AsOf     *time.Time
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Alerts bool
}

// ExportOptions hold parameters for exporting snapshot history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From    time.Time
	To      time.Time
	DryRun  bool
	Workers int
}
