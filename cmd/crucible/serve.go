package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-crucible/crucible/internal/engine/conf"
	"github.com/go-crucible/crucible/internal/engine/repo"
	"github.com/go-crucible/crucible/internal/engine/service"
	"github.com/go-crucible/crucible/pkg/cache"
	"github.com/go-crucible/crucible/pkg/database"
	"github.com/go-crucible/crucible/pkg/limiter"
	"github.com/go-crucible/crucible/pkg/log"
	"github.com/go-crucible/crucible/pkg/metrics"
	"github.com/go-crucible/crucible/pkg/runner"
	"github.com/go-crucible/crucible/pkg/safe"
	"github.com/go-crucible/crucible/pkg/sandbox"
	"github.com/go-crucible/crucible/pkg/shutdown"
	"github.com/go-crucible/crucible/pkg/storage"
)

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the plugin execution engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	serveCmd.Flags().StringVar(&configFile, "conf", "conf.d/config.toml", "config file path, e.g. --conf ./conf.d/config.toml")
}

func serve() error {
	appConf := conf.NewConf(configFile)
	log.MustInit(&appConf.Log)

	gormDB, err := database.NewDatabase(appConf.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	db := database.NewGormDB(gormDB)
	repos := repo.NewRepositories(db)

	ctx := context.Background()
	codeStore, err := storage.NewMinioStore(ctx, appConf.Minio)
	if err != nil {
		return fmt.Errorf("connect object store: %w", err)
	}

	// sliding-window backend: process-local by default, redis when the
	// engine runs with more than one replica
	var window limiter.RateWindow
	if appConf.Executor.RateLimitBackend == "redis" {
		redisClient, err := cache.NewRedis(appConf.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		window = limiter.NewRedisWindow(redisClient, sandbox.RateLimitPerMinute, sandbox.RateLimitWindow)
	} else {
		window = limiter.NewMemoryWindow(sandbox.RateLimitPerMinute, sandbox.RateLimitWindow)
	}

	runtimeType := sandbox.RuntimeType(appConf.Sandbox.Runtime)
	if runtimeType == "" {
		runtimeType = sandbox.RuntimeTypeLua
	}
	runtime, err := sandbox.New(runtimeType, window, repos.Metric)
	if err != nil {
		return fmt.Errorf("build sandbox runtime: %w", err)
	}

	maxConcurrent := appConf.Executor.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = service.MaxConcurrentExecutions
	}
	gate := limiter.NewGate(maxConcurrent)

	collector := metrics.NewExecutionCollector()
	metricsServer := metrics.NewServer(appConf.Metrics)
	if err := metricsServer.RegisterCollector(collector); err != nil {
		return fmt.Errorf("register collectors: %w", err)
	}
	safe.Go(func() {
		if err := metricsServer.Start(); err != nil {
			log.Errorf("metrics server: %v", err)
		}
	})

	services := service.NewServices(repos, runtime, codeStore, gate, collector, appConf.Sandbox.Options())

	log.Infof("crucible engine started: host=%s runtime=%s maxConcurrent=%d", runner.Hostname, runtimeType, maxConcurrent)

	mgr := shutdown.NewManager()
	safe.Go(func() { statusLoop(services.Executor, mgr) })

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-sc
	log.Infof("received signal %s, shutting down", sig)
	mgr.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		log.Warnf("stop metrics server: %v", err)
	}
	return nil
}

// statusLoop reports engine liveness once a minute until shutdown.
func statusLoop(executor *service.ExecutorService, mgr *shutdown.Manager) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-mgr.Done():
			return
		case <-ticker.C:
			log.Debugf("executor in-flight: %d", executor.InFlight())
		}
	}
}
