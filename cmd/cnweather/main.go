package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/cnweather/internal/cache"
	"github.com/kjstillabower/cnweather/internal/catalog"
	"github.com/kjstillabower/cnweather/internal/client"
	"github.com/kjstillabower/cnweather/internal/config"
	httphandler "github.com/kjstillabower/cnweather/internal/http"
	"github.com/kjstillabower/cnweather/internal/lifecycle"
	"github.com/kjstillabower/cnweather/internal/models"
	"github.com/kjstillabower/cnweather/internal/observability"
	"github.com/kjstillabower/cnweather/internal/planner"
	"github.com/kjstillabower/cnweather/internal/service"
	"github.com/kjstillabower/cnweather/internal/validation"
)

const usage = `usage: cnweather <command> [flags]

commands:
  serve                                     run the HTTP adapter
  query -province P -city C [-district D]   query current weather
  provinces                                 list provinces
  cities -province P                        list cities and their districts
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		err = runServe()
	case "query":
		err = runQuery(args)
	case "provinces":
		err = runProvinces(os.Stdout)
	case "cities":
		err = runCities(args, os.Stdout)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if errors.Is(err, errReported) {
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cnweather: %v\n", err)
		os.Exit(1)
	}
}

// errReported marks a failure the query events already printed.
var errReported = errors.New("reported")

func runServe() error {
	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	cat, err := catalog.Init(cfg.DatasetPath)
	if err != nil {
		logger.Fatal("location dataset", zap.String("path", cfg.DatasetPath), zap.Error(err))
	}
	logger.Info("location dataset loaded", zap.String("path", cfg.DatasetPath), zap.Int("provinces", len(cat.Provinces())))

	if len(cfg.TrackedProvinces) > 0 {
		observability.SetTrackedProvinces(cfg.TrackedProvinces)
	}

	weatherClient, err := client.NewTianqiClient(cfg.WeatherAPIURL, cfg.WeatherAppID, cfg.WeatherAppKey, cfg.WeatherAPITimeout)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	orch := service.NewOrchestrator(weatherClient, service.Options{
		MinInterval: cfg.QueryMinInterval,
		Cache:       cache.NewResultCache(cfg.CacheTTL),
		Logger:      logger,
	})

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(orch, cat, logger, validation.DefaultMaxNameLen)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
	})

	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		// POST /queries holds the connection until the fallback chain ends.
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	lifecycle.MarkStarted(time.Now())
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	orch.Close()
	logger.Info("shutdown complete")
	return nil
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	province := fs.String("province", "", "province, e.g. 广东省")
	city := fs.String("city", "", "city, e.g. 深圳市")
	district := fs.String("district", "", "district, e.g. 南山区 (optional)")
	check := fs.Bool("check", false, "validate credentials before querying")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger, err := observability.NewConsoleLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cat, err := catalog.Init(cfg.DatasetPath)
	if err != nil {
		return err
	}

	sel, err := validation.ValidateSelection(models.LocationSelection{
		Province: *province,
		City:     *city,
		District: *district,
	}, validation.DefaultMaxNameLen)
	if err != nil {
		return err
	}
	if err := planner.Validate(sel); err != nil {
		return err
	}
	if err := cat.Contains(sel); err != nil {
		return err
	}

	weatherClient, err := client.NewTianqiClient(cfg.WeatherAPIURL, cfg.WeatherAppID, cfg.WeatherAppKey, cfg.WeatherAPITimeout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *check {
		if err := weatherClient.ValidateCredentials(ctx); err != nil {
			return fmt.Errorf("credential check: %w", err)
		}
		fmt.Println("credentials ok")
	}

	out := os.Stdout
	orch := service.NewOrchestrator(weatherClient, service.Options{
		MinInterval: cfg.QueryMinInterval,
		Cache:       cache.NewResultCache(cfg.CacheTTL),
		Logger:      logger,
		Events: service.Events{
			OnProgress:  func(p int) { fmt.Fprintf(out, "  progress %3d%%\n", p) },
			OnSuccess:   func(r models.WeatherResult) { printResult(out, r) },
			OnFailure:   func(msg string) { fmt.Fprintf(out, "query failed: %s\n", msg) },
			OnCancelled: func() { fmt.Fprintln(out, "query cancelled") },
		},
	})
	defer orch.Close()

	fmt.Fprintf(out, "strategy: %s\n", planner.StrategyTrace(mustPlan(sel)))
	h, err := orch.Start(sel)
	if err != nil {
		return err
	}
	if _, err := h.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			h.Cancel()
			<-h.Done()
		}
		var qe *service.QueryError
		if errors.As(err, &qe) || errors.Is(err, service.ErrCancelled) || ctx.Err() != nil {
			return errReported
		}
		return err
	}
	return nil
}

// mustPlan is only called after the selection passed planner.Validate.
func mustPlan(sel models.LocationSelection) []models.QueryCandidate {
	cands, err := planner.Plan(sel)
	if err != nil {
		panic(err)
	}
	return cands
}

func printResult(w io.Writer, r models.WeatherResult) {
	source := "api"
	if r.FromCache {
		source = "cache"
	}
	fmt.Fprintf(w, "%s (%s, via %s)\n", r.Place, r.QueryLevel, source)
	fmt.Fprintf(w, "  temperature  %.1f°C\n", r.Temperature)
	fmt.Fprintf(w, "  weather      %s / %s\n", r.Weather1, r.Weather2)
	fmt.Fprintf(w, "  humidity     %.0f%%\n", r.Humidity)
	fmt.Fprintf(w, "  wind         %s, %.1f m/s\n", r.WindScale, r.WindSpeed)
	fmt.Fprintf(w, "  observed     %s\n", r.TimestampUTC.Local().Format("2006-01-02 15:04"))
}

func runProvinces(w io.Writer) error {
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	for _, p := range cat.Provinces() {
		fmt.Fprintln(w, p)
	}
	return nil
}

func runCities(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("cities", flag.ContinueOnError)
	province := fs.String("province", "", "province to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cat, err := loadCatalog()
	if err != nil {
		return err
	}
	if !cat.HasProvince(*province) {
		return fmt.Errorf("unknown province %q", *province)
	}
	for _, c := range cat.CitiesOf(*province) {
		fmt.Fprintln(w, c)
		for _, d := range cat.DistrictsOf(*province, c) {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}
	return nil
}

func loadCatalog() (*catalog.Catalog, error) {
	cfg, err := config.LoadForCatalog()
	if err != nil {
		return nil, err
	}
	return catalog.Init(cfg.DatasetPath)
}
