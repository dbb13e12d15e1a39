package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mtlprog/ctax/internal/api"
	"github.com/mtlprog/ctax/internal/config"
	"github.com/mtlprog/ctax/internal/database"
	"github.com/mtlprog/ctax/internal/domain"
	"github.com/mtlprog/ctax/internal/importer"
	"github.com/mtlprog/ctax/internal/lots"
	"github.com/mtlprog/ctax/internal/pipeline"
	"github.com/mtlprog/ctax/internal/rates"
	"github.com/mtlprog/ctax/internal/report"
	"github.com/mtlprog/ctax/internal/store"
	"github.com/mtlprog/ctax/internal/worker"
)

const (
	stepImport    = pipeline.StepImport
	stepRates     = pipeline.StepRates
	stepCalculate = pipeline.StepCalculate
)

// env is the wired application for one command.
type env struct {
	cfg      config.Config
	settings config.Settings
	repo     store.Repository
	memory   bool
	svc      *pipeline.Service
	close    func()
}

func setup(c *cli.Context) (*env, error) {
	cfg := config.Load()
	if err := applyFlags(c, &cfg); err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, settings: settings, close: func() {}}
	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store")
		e.repo = store.NewMemoryRepository()
		e.memory = true
	} else {
		migrations, err := fs.Sub(migrationsFS, "migrations")
		if err != nil {
			return nil, fmt.Errorf("creating migrations sub-fs: %w", err)
		}
		pool, err := database.Open(c.Context, cfg.DatabaseURL, migrations)
		if err != nil {
			return nil, err
		}
		e.repo = store.NewPgRepository(pool)
		e.close = pool.Close
	}

	writer, err := reportWriter(c.Context, cfg)
	if err != nil {
		e.close()
		return nil, err
	}

	from, to := domain.YearBounds(cfg.TaxYear)
	e.svc = pipeline.NewService(
		e.repo,
		importer.New(to),
		settings.Files,
		newFileResolver(cfg, settings.ExchangeRateFiles, from, to),
		writer,
		pipeline.Config{
			TaxYear:            cfg.TaxYear,
			TaxCurrency:        cfg.TaxCurrency,
			Ordering:           cfg.Ordering,
			FeesDeductible:     cfg.FeesDeductible,
			Precision:          cfg.Precision,
			IncludeTaxCurrency: cfg.IncludeTaxCurrency,
		},
	)
	slog.Info("ctax: configured",
		"taxYear", cfg.TaxYear,
		"taxCurrency", cfg.TaxCurrency,
		"ordering", cfg.Ordering,
		"feesDeductible", cfg.FeesDeductible,
		"tradeFormats", len(settings.Files),
		"rateFiles", len(settings.ExchangeRateFiles),
	)
	return e, nil
}

func applyFlags(c *cli.Context, cfg *config.Config) error {
	if c.IsSet("tax-year") {
		cfg.TaxYear = c.Int("tax-year")
	}
	if c.IsSet("settings") {
		cfg.SettingsFile = c.String("settings")
	}
	if c.IsSet("ordering") {
		o, err := lots.ParseOrdering(c.String("ordering"))
		if err != nil {
			return err
		}
		cfg.Ordering = o
	}
	if c.IsSet("csv") {
		cfg.ReportCSV = c.String("csv")
	}
	if c.IsSet("xlsx") {
		cfg.ReportXLSX = c.String("xlsx")
	}
	if c.IsSet("start-step") {
		cfg.StartStep = c.Int("start-step")
	}
	return nil
}

// reportWriter combines the configured outputs; the text report always goes to stdout.
func reportWriter(ctx context.Context, cfg config.Config) (report.Writer, error) {
	writers := report.MultiWriter{report.NewTextWriter(os.Stdout, domain.DefaultFormatter())}
	if cfg.ReportCSV != "" {
		writers = append(writers, report.NewCSVFileWriter(cfg.ReportCSV))
	}
	if cfg.ReportXLSX != "" {
		writers = append(writers, report.NewXLSXWriter(cfg.ReportXLSX))
	}
	if cfg.SheetsEnabled() {
		sw, err := report.NewSheetsWriter(ctx, cfg.SheetsSpreadsheetID, cfg.GoogleCredentialsJSON)
		if err != nil {
			return nil, err
		}
		writers = append(writers, sw)
	}
	return writers, nil
}

// fileResolver loads the configured rate files on first use so that commands
// not resolving rates do not need them.
type fileResolver struct {
	once     sync.Once
	err      error
	book     *rates.Book
	specs    []rates.FileSpec
	from, to time.Time
	resolver *rates.Resolver
}

func newFileResolver(cfg config.Config, specs []rates.FileSpec, from, to time.Time) *fileResolver {
	opts := []rates.Option{rates.WithMaxAge(cfg.MaxRateAge)}
	if cfg.QueryRateAPIs {
		opts = append(opts,
			rates.WithCryptoClient(rates.NewCoinGeckoClient(cfg.CoinGeckoURL, cfg.CoinGeckoDelay, cfg.CoinGeckoRetryMax)),
			rates.WithFiatClient(rates.NewFrankfurterClient(cfg.FrankfurterURL, 0, cfg.CoinGeckoRetryMax)),
		)
	}
	book := rates.NewBook(from, to, opts...)
	return &fileResolver{
		book:     book,
		specs:    specs,
		from:     from,
		to:       to,
		resolver: rates.NewResolver(book, cfg.TaxCurrency, domain.NewMoney(cfg.Precision)),
	}
}

func (r *fileResolver) ResolveOrders(ctx context.Context, orders []domain.Order) ([]domain.Order, error) {
	r.once.Do(func() {
		for _, spec := range r.specs {
			n, err := rates.LoadFile(r.book, spec, r.from, r.to)
			if err != nil {
				r.err = err
				return
			}
			slog.Info("ctax: loaded exchange rates", "source", spec.ID, "rates", n)
		}
	})
	if r.err != nil {
		return nil, r.err
	}
	return r.resolver.ResolveOrders(ctx, orders)
}

func runCommand(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	start := e.cfg.StartStep
	if e.memory && start > stepImport {
		slog.Warn("in-memory store starts empty, running all steps", "requestedStep", start)
		start = stepImport
	}
	return e.svc.Run(c.Context, start)
}

func stepCommand(step int) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := setup(c)
		if err != nil {
			return err
		}
		defer e.close()

		if e.memory {
			slog.Warn("in-memory store starts empty, running all steps", "requestedStep", step)
			return e.svc.Run(c.Context, stepImport)
		}
		switch step {
		case stepImport:
			return e.svc.Import(c.Context)
		case stepRates:
			return e.svc.ResolveRates(c.Context)
		default:
			return e.svc.WriteReport(c.Context)
		}
	}
}

func balancesCommand(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.prepareMemory(c.Context); err != nil {
		return err
	}
	balances, err := e.svc.Balances(c.Context)
	if err != nil {
		return err
	}
	return report.WriteBalances(os.Stdout, balances, domain.DefaultFormatter())
}

// prepareMemory fills an in-memory store with imported and resolved trades.
func (e *env) prepareMemory(ctx context.Context) error {
	if !e.memory {
		return nil
	}
	if err := e.svc.Import(ctx); err != nil {
		return err
	}
	return e.svc.ResolveRates(ctx)
}

func serveCommand(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := c.Context
	if err := e.prepareMemory(ctx); err != nil {
		return err
	}

	if e.cfg.AdminAPIKey == "" {
		slog.Warn("ADMIN_API_KEY not set, run endpoint is unprotected")
	}
	srv := api.NewServer(e.cfg.HTTPPort, e.svc, e.repo, e.cfg.AdminAPIKey)

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if e.cfg.RefreshInterval > 0 {
		go worker.NewRefreshWorker(e.svc, stepRates, e.cfg.RefreshInterval).Run(ctx)
	}
	go func() {
		slog.Info("HTTP server listening", "port", e.cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	slog.Info("Shutdown complete")
	return nil
}
