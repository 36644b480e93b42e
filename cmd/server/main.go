// Command bruh-server starts the anonymous feedback HTTP API and its health listener.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/bruh/internal/config"
	"github.com/and161185/bruh/internal/crypto"
	"github.com/and161185/bruh/internal/delivery"
	"github.com/and161185/bruh/internal/instrument"
	"github.com/and161185/bruh/internal/limiter"
	"github.com/and161185/bruh/internal/migrate"
	"github.com/and161185/bruh/internal/moderation"
	"github.com/and161185/bruh/internal/repository"
	"github.com/and161185/bruh/internal/repository/postgres"
	grpcserver "github.com/and161185/bruh/internal/server/grpc"
	httpserver "github.com/and161185/bruh/internal/server/http"
	"github.com/and161185/bruh/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

type flags struct {
	config     string
	addr       string
	healthAddr string
	dsn        string
	redisAddr  string
	jwtKey     string
	accessTTL  time.Duration
	deviceSalt string
	ipSalt     string
	dev        bool
	grantPaid  string
	revokePaid string
	recheck    string
}

func parseFlags(fs *flag.FlagSet, args []string) (*flags, error) {
	f := &flags{}
	fs.StringVar(&f.config, "config", "", "TOML config file")
	fs.StringVar(&f.addr, "addr", ":8080", "HTTP listen address")
	fs.StringVar(&f.healthAddr, "health-addr", ":8081", "gRPC health listen address")
	fs.StringVar(&f.dsn, "dsn", "", "PostgreSQL DSN")
	fs.StringVar(&f.redisAddr, "redis-addr", "", "Redis address for rate windows (empty: PostgreSQL)")
	fs.StringVar(&f.jwtKey, "jwt-key", "", "HS256 signing key")
	fs.DurationVar(&f.accessTTL, "access-ttl", 15*time.Minute, "access token TTL")
	fs.StringVar(&f.deviceSalt, "device-salt", "", "device hash key")
	fs.StringVar(&f.ipSalt, "ip-salt", "", "IP hash key")
	fs.BoolVar(&f.dev, "dev", false, "development logging and gRPC reflection")
	fs.StringVar(&f.grantPaid, "grant-paid", "", "mark username as paid and exit")
	fs.StringVar(&f.revokePaid, "revoke-paid", "", "clear the paid flag of username and exit")
	fs.StringVar(&f.recheck, "recheck", "", "re-run moderation on one message id and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// loadConfig reads the file (if any) and lets explicitly set flags override it.
func loadConfig(fs *flag.FlagSet, f *flags) (*config.Config, error) {
	cfg := config.Default()
	if f.config != "" {
		b, err := os.ReadFile(f.config)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		// validated below, after overrides
		if cfg, err = config.Parse(b); err != nil {
			return nil, err
		}
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "addr":
			cfg.Server.Addr = f.addr
		case "health-addr":
			cfg.Server.HealthAddr = f.healthAddr
		case "dsn":
			cfg.Database.DSN = f.dsn
		case "redis-addr":
			cfg.Redis.Addr = f.redisAddr
		case "jwt-key":
			cfg.Auth.JWTKey = f.jwtKey
		case "access-ttl":
			cfg.Auth.AccessTTL = config.Duration{Duration: f.accessTTL}
		case "device-salt":
			cfg.Hashing.DeviceSalt = f.deviceSalt
		case "ip-salt":
			cfg.Hashing.IPSalt = f.ipSalt
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(dev bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// main parses configuration, runs migrations and serves until SIGINT/SIGTERM.
func main() {
	fs := flag.CommandLine
	f, err := parseFlags(fs, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	logger := newLogger(f.dev)
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(fs, f)
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Server.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.Database.DSN, logger.Named("migrate")); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal("postgres connect", zap.Error(err))
	}
	defer db.Close()

	userRepo := postgres.NewUserRepo(db)

	if f.grantPaid != "" || f.revokePaid != "" {
		name, paid := f.grantPaid, true
		if name == "" {
			name, paid = f.revokePaid, false
		}
		if err := userRepo.SetPaid(ctx, service.NormalizeUsername(name), paid); err != nil {
			logger.Fatal("set paid", zap.String("username", name), zap.Error(err))
		}
		logger.Info("paid flag updated", zap.String("username", name), zap.Bool("paid", paid))
		return
	}

	if f.recheck != "" {
		id, err := uuid.FromString(f.recheck)
		if err != nil {
			logger.Fatal("recheck: bad message id", zap.Error(err))
		}
		w := moderation.NewWorker(postgres.NewMessageRepo(db),
			moderation.NewLengthClassifier(cfg.Moderation.MaxCiphertextBytes), logger.Named("moderation"), nil)
		st, err := w.Recheck(ctx, id)
		if err != nil {
			logger.Fatal("recheck", zap.String("message_id", f.recheck), zap.Error(err))
		}
		logger.Info("message rechecked", zap.String("message_id", f.recheck), zap.String("status", string(st)))
		return
	}

	if err := run(ctx, cfg, f.dev, db, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, dev bool, db *postgres.DB, logger *zap.Logger) error {
	suite, err := crypto.Init(nil)
	if err != nil {
		return fmt.Errorf("crypto init: %w", err)
	}
	deviceHasher := suite.NewHasher(cfg.Hashing.DeviceSalt)
	ipHasher := suite.NewHasher(cfg.Hashing.IPSalt)
	metrics := instrument.New()

	pool := db.Pool
	userRepo := postgres.NewUserRepo(db)
	msgRepo := postgres.NewMessageRepo(db)

	probes := map[string]grpcserver.Probe{"postgres": db.Ping}

	var window limiter.WindowGuard
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer func() { _ = rdb.Close() }()
		window = limiter.NewRedisWindow(rdb, cfg.Quota.RateLimit, cfg.Quota.RateWindow.Duration)
		probes["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		window = limiter.NewPGWindow(pool, cfg.Quota.RateLimit, cfg.Quota.RateWindow.Duration)
	}
	loginLim := limiter.NewPG(pool, cfg.Auth.LoginWindow.Duration, cfg.Auth.LoginMaxFails, cfg.Auth.LoginBlockFor.Duration)

	classifier := moderation.NewLengthClassifier(cfg.Moderation.MaxCiphertextBytes)

	authSvc := service.NewAuthService(userRepo, suite, ipHasher, []byte(cfg.Auth.JWTKey), cfg.Auth.AccessTTL.Duration, loginLim)
	inboxSvc := service.NewInboxService(msgRepo)
	pipeline := delivery.New(delivery.Deps{
		Users:        userRepo,
		Senders:      msgRepo,
		Ledger:       postgres.NewLedger(db),
		Window:       window,
		Classifier:   classifier,
		DeviceHasher: deviceHasher,
		IPHasher:     ipHasher,
		Log:          logger.Named("delivery"),
		Metrics:      metrics,
	}, repository.Quotas{SenderLimit: cfg.Quota.SenderLimit, RecipientLimit: cfg.Quota.RecipientLimit})

	worker := moderation.NewWorker(msgRepo, classifier, logger.Named("moderation"), metrics)
	if cfg.Moderation.WorkerInterval.Duration > 0 && cfg.Moderation.WorkerBatch > 0 {
		go worker.Run(ctx, cfg.Moderation.WorkerInterval.Duration, cfg.Moderation.WorkerBatch)
	}

	health := grpcserver.NewHealth(logger.Named("health"), probes, dev)
	go health.Run(ctx, 10*time.Second)

	api := httpserver.New(authSvc, inboxSvc, pipeline, metrics, logger.Named("http"), health.Check)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout.Duration,
		ReadHeaderTimeout: cfg.Server.ReadTimeout.Duration,
		WriteTimeout:      cfg.Server.WriteTimeout.Duration,
	}

	healthLis, err := net.Listen("tcp", cfg.Server.HealthAddr)
	if err != nil {
		return fmt.Errorf("listen health: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("health listening", zap.String("addr", cfg.Server.HealthAddr))
		errCh <- health.Serve(healthLis)
	}()
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		health.Stop()
		return err
	}

	// graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	done := make(chan struct{})
	go func() {
		health.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
	}
	return nil
}
