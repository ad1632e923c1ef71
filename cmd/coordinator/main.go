// Package main implements the fleetwar coordinator: the service that nodes
// register with and that deploys webapps across all of them.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│              Coordinator                │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /register     - Node registration    │
//	│    /nodes        - Registered nodes     │
//	│    /deploy       - Cluster-wide deploy  │
//	│    /undeploy     - Cluster-wide remove  │
//	│    /status       - Aggregated status    │
//	│    /history      - Past operations      │
//	│    /metrics      - Prometheus metrics   │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    NodeRegistry  - Cluster membership   │
//	│    HealthMonitor - Node health checks   │
//	│    Deployer      - Deployment policy    │
//	│    history.Store - Operation log        │
//	└─────────────────────────────────────────┘
//
// Configuration (environment, optionally from a file given with -env):
//   - COORDINATOR_LISTEN: Listen address (default ":8080")
//   - HISTORY_DSN: sqlite database for the operation log (default "fleetwar-history.db")
//   - DEPLOYER_CONFIG: YAML file with deployer options (optional)
//   - DEPLOYER_*: Overrides for single deployer options
//   - HEALTH_INTERVAL: Node health check interval (default "5s")
//   - UPLOAD_TIMEOUT: Bound on one artifact upload to one node (default "5m")
//   - LOG_LEVEL: debug, info, warn or error (default "info")
//   - LOG_FILE: JSON log file (optional)
//
// Example usage:
//
//	COORDINATOR_LISTEN=:8080 DEPLOYER_DEPLOY_WAIT=60s ./coordinator
//	deployctl deploy build/shop##42.war
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/coordinator"
	"github.com/dreamware/fleetwar/internal/deployer"
	"github.com/dreamware/fleetwar/internal/history"
	"github.com/dreamware/fleetwar/internal/logging"
	"github.com/joho/godotenv"
)

type coordinatorEnv struct {
	Listen         string        `env:"COORDINATOR_LISTEN" envDefault:":8080"`
	HistoryDSN     string        `env:"HISTORY_DSN" envDefault:"fleetwar-history.db"`
	DeployerConfig string        `env:"DEPLOYER_CONFIG"`
	HealthInterval time.Duration `env:"HEALTH_INTERVAL" envDefault:"5s"`
	UploadTimeout  time.Duration `env:"UPLOAD_TIMEOUT" envDefault:"5m"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFile        string        `env:"LOG_FILE"`
}

func loadEnv() (*coordinatorEnv, error) {
	cfg := &coordinatorEnv{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDeployerConfig reads the optional YAML file, then applies DEPLOYER_*
// overrides on top.
func loadDeployerConfig(path string) (deployer.Config, error) {
	cfg := deployer.DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = deployer.LoadConfig(path); err != nil {
			return deployer.Config{}, err
		}
	}
	if err := deployer.ApplyEnv(&cfg); err != nil {
		return deployer.Config{}, err
	}
	return cfg, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("coordinator: %v", err)
	}
}

// run is separate from main so deferred cleanup runs before exiting.
func run() error {
	envFile := flag.String("env", "", "optional .env file to load before reading the environment")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			return fmt.Errorf("error loading env file %q: %w", *envFile, err)
		}
	}

	cfg, err := loadEnv()
	if err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	var jsonOut io.Writer
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()
		jsonOut = f
	}
	logger := logging.Init("coordinator", logging.ParseLevel(cfg.LogLevel), jsonOut)

	depCfg, err := loadDeployerConfig(cfg.DeployerConfig)
	if err != nil {
		return fmt.Errorf("could not read deployer config: %w", err)
	}

	hist, err := history.Open(cfg.HistoryDSN)
	if err != nil {
		return err
	}
	defer hist.Close()

	registry := coordinator.NewNodeRegistry()
	client := cluster.NewHTTPClient(registry.Nodes, cfg.UploadTimeout)
	dep, err := deployer.New(client, depCfg, deployer.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("invalid deployer config: %w", err)
	}

	monitor := coordinator.NewHealthMonitor(cfg.HealthInterval, logger)
	monitor.SetOnStatusChange(registry.SetHealth)
	ctx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	go monitor.Start(ctx, registry.Nodes)
	defer monitor.Stop()

	srv := newServer(registry, dep, hist, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("coordinator listening", logging.Code(logging.SYSTEM), "addr", cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", logging.Code(logging.SYSTEM), "error", err)
	}
	logger.Info("coordinator stopped", logging.Code(logging.SYSTEM))
	return nil
}
