package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/moor/internal/config"
	"github.com/MrSnakeDoc/moor/internal/httpserver"
	"github.com/MrSnakeDoc/moor/internal/httpserver/deps"
	"github.com/MrSnakeDoc/moor/internal/ledger"
	"github.com/MrSnakeDoc/moor/internal/logger"
	"github.com/MrSnakeDoc/moor/internal/ports"
	"github.com/MrSnakeDoc/moor/internal/rate"
	"github.com/MrSnakeDoc/moor/internal/redis"
	"github.com/MrSnakeDoc/moor/internal/store"
	filestore "github.com/MrSnakeDoc/moor/internal/store/file"
	redisstore "github.com/MrSnakeDoc/moor/internal/store/redis"
	"github.com/MrSnakeDoc/moor/internal/supervisor"
	"github.com/MrSnakeDoc/moor/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	sup         *supervisor.Supervisor
	monitor     *supervisor.Monitor
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	descs, err := config.LoadServices(cfg.ServicesFile)
	if err != nil {
		loggerClient.Errorf("Failed to load service descriptors: %v", err)
		os.Exit(1)
	}
	loggerClient.Infof("Loaded %d service descriptors from %s", len(descs), cfg.ServicesFile)

	// Port assignments go to Redis when configured, else the JSON file.
	var assignments store.Assignments
	var redisClient *goredis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = redis.New(redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			DialTimeout:    cfg.RedisDialTimeout,
			ReadTimeout:    cfg.RedisReadTimeout,
			WriteTimeout:   cfg.RedisWriteTimeout,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			loggerClient.Errorf("Failed to connect to Redis: %v", err)
			os.Exit(1)
		}
		assignments = redisstore.NewStore(redisClient)
	} else {
		assignments = filestore.NewStore(cfg.AssignmentsFile)
	}

	prober := ports.NewTCPProber(cfg.ProbeTimeout)

	alloc, err := ports.NewAllocator(context.Background(), assignments, prober, loggerClient, cfg.PortSearchRadius)
	if err != nil {
		loggerClient.Errorf("Failed to initialize port allocator: %v", err)
		os.Exit(1)
	}

	led := ledger.New(cfg.LedgerCapacity)
	limiter := rate.NewLimiter()

	sup := supervisor.New(descs, alloc, prober, led, loggerClient, supervisor.Options{
		ProbeInterval:         cfg.ProbeInterval,
		ProbeAttempts:         cfg.ProbeAttempts,
		StopGrace:             cfg.StopGrace,
		RestartBackoffInitial: cfg.RestartBackoffInitial,
		RestartBackoffMax:     cfg.RestartBackoffMax,
	})

	monitor := supervisor.NewMonitor(sup, loggerClient, cfg.MonitorInterval)

	reclaimer := ports.NewReclaimer(ports.LsofFinder{}, prober, loggerClient)

	d := deps.Deps{
		Logger:       loggerClient,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		Registry:     sup,
		Control:      sup,
		Limiter:      limiter,
		Ledger:       led,
		Reclaimer:    reclaimer,
		ProxyTimeout: cfg.ProxyTimeout,
		StatusRecent: cfg.StatusRecent,
		AdminCIDRs:   cfg.AdminCIDRs,
		TrustProxy:   cfg.TrustProxy,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		redisClient: redisClient,
		sup:         sup,
		monitor:     monitor,
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting moor v%s on %s", version.Version, a.cfg.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the crash-detection loop before any service comes up.
	if err := a.monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start monitor: %w", err)
	}
	a.logger.Info("monitor started",
		logger.Duration("interval", a.cfg.MonitorInterval))

	// Bring up autostart services concurrently. A single service failing
	// to start is logged, not fatal: the operator can retry over the
	// control surface.
	g, gctx := errgroup.WithContext(ctx)
	for _, desc := range a.sup.Descriptors() {
		if !desc.Autostart {
			continue
		}
		g.Go(func() error {
			if err := a.sup.Start(gctx, desc.Name); err != nil {
				a.logger.Warn("autostart failed",
					logger.String("service", desc.Name),
					logger.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	a.monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	a.sup.StopAll(shutdownCtx)

	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		}
	}

	a.logger.Info("✅ moor stopped cleanly")
	return nil
}
