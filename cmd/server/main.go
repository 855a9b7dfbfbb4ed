package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/iliyamo/seatgrid/internal/config"
	"github.com/iliyamo/seatgrid/internal/database"
	"github.com/iliyamo/seatgrid/internal/handler"
	"github.com/iliyamo/seatgrid/internal/middleware"
	"github.com/iliyamo/seatgrid/internal/notify"
	"github.com/iliyamo/seatgrid/internal/queue"
	"github.com/iliyamo/seatgrid/internal/repository"
	"github.com/iliyamo/seatgrid/internal/reservation"
	"github.com/iliyamo/seatgrid/internal/router"
)

const shutdownTimeout = 10 * time.Second

// flags are command-line overrides applied on top of the loaded config.
type flags struct {
	configPath string
	port       string
	driver     string
	logLevel   string
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "", "path to a YAML config file")
	fs.StringVarP(&f.port, "port", "p", "", "HTTP port (overrides APP_PORT)")
	fs.StringVar(&f.driver, "store", "", "seat store driver: sqlite, mysql or mongo")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

func (f flags) apply(cfg *config.Config) error {
	if f.port != "" {
		cfg.Port = f.port
	}
	if f.driver != "" {
		cfg.Store.Driver = f.driver
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg.Validate()
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		os.Exit(2)
	}
	cfg, err := config.Load(f.configPath)
	if err == nil {
		err = f.apply(&cfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		// The engine must not serve without its store.
		return fmt.Errorf("open seat store: %w", err)
	}
	defer closeStore()

	bus := notify.NewBus(logger)
	engine := reservation.NewEngine(store, bus, reservation.Options{
		HoldTTL:      cfg.Seats.HoldTTL,
		StoreTimeout: cfg.Store.Timeout,
		SweepBatch:   cfg.Seats.SweepBatch,
		Logger:       logger,
	})
	created, err := engine.EnsureLayout(ctx, cfg.Seats.DefaultRows, cfg.Seats.DefaultCols)
	if err != nil {
		return fmt.Errorf("initial layout: %w", err)
	}
	if created {
		logger.Info("store was empty; default layout generated",
			"rows", cfg.Seats.DefaultRows, "cols", cfg.Seats.DefaultCols)
	}

	rdb := connectRedis(ctx, cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	bg, cancelBG := context.WithCancel(ctx)
	var wg sync.WaitGroup
	goBackground := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(bg); err != nil {
				logger.Error("background task stopped", "task", name, "error", err)
			}
		}()
	}

	sweeper := reservation.NewSweeper(engine, cfg.Seats.SweepInterval, logger)
	goBackground("sweeper", func(ctx context.Context) error { sweeper.Run(ctx); return nil })

	if cfg.Redis.RelayEnabled && rdb != nil {
		relay := notify.NewRedisRelay(rdb, bus, cfg.Redis.Channel, cfg.InstanceID, logger)
		goBackground("redis-relay", relay.Run)
	}
	if cfg.AMQP.Enabled {
		pub := queue.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Queue, bus, logger)
		goBackground("amqp-publisher", pub.Run)
	}

	e := newServer(cfg, engine, bus, store, rdb, logger)
	addr := ":" + cfg.Port
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr, "env", cfg.Env, "store", cfg.Store.Driver, "instance", cfg.InstanceID)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := e.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("http shutdown", "error", serr)
	}
	cancelBG()
	wg.Wait()
	return err
}

func newServer(cfg config.Config, engine *reservation.Engine, bus *notify.Bus, store repository.SeatStore, rdb *redis.Client, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.CORS())

	router.RegisterRoutes(e, router.Routes{
		Seats:  handler.NewSeatHandler(engine, logger),
		Stream: handler.NewStreamHandler(bus, logger),
		Store:  store,
		Limit:  middleware.NewTokenBucket(cfg.RateLimit, rdb, logger),
	})
	return e
}

// openStore connects the configured seat store, prepares its schema and
// returns a function releasing it.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.SeatStore, func(), error) {
	sc := cfg.Store
	switch sc.Driver {
	case config.DriverMySQL:
		db, err := database.OpenMySQL(sc.DBUser, sc.DBPass, sc.DBHost, sc.DBPort, sc.DBName)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx, db, database.MySQL); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("seat store ready", "driver", sc.Driver, "host", sc.DBHost, "db", sc.DBName)
		return repository.NewSeatRepo(db), func() { db.Close() }, nil

	case config.DriverSQLite:
		db, err := database.OpenSQLite(sc.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx, db, database.SQLite); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("seat store ready", "driver", sc.Driver, "path", sc.SQLitePath)
		return repository.NewSeatRepo(db), func() { db.Close() }, nil

	case config.DriverMongo:
		client, err := database.ConnectMongo(ctx, sc.MongoURL)
		if err != nil {
			return nil, nil, err
		}
		disconnect := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}
		repo := repository.NewMongoSeatRepo(client.Database(sc.MongoDB).Collection("seats"))
		if err := repo.EnsureIndexes(ctx); err != nil {
			disconnect()
			return nil, nil, err
		}
		logger.Info("seat store ready", "driver", sc.Driver, "db", sc.MongoDB)
		return repo, disconnect, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", sc.Driver)
}

// connectRedis returns a client when something needs Redis, or nil.  A
// Redis outage degrades the server to a single instance with per-instance
// rate limiting rather than stopping it.
func connectRedis(ctx context.Context, cfg config.Config, logger *slog.Logger) *redis.Client {
	if !cfg.Redis.RelayEnabled && !cfg.RateLimit.Enabled {
		return nil
	}
	rdb, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable; relay disabled, using per-instance rate limiting", "error", err)
		return nil
	}
	return rdb
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
