// Package main implements the fleetwar node agent: an application-server
// node that holds deployed webapps and answers the coordinator's commands.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│                Node                     │
//	├─────────────────────────────────────────┤
//	│  HTTP API:                              │
//	│    /health       - Health check         │
//	│    /status       - Webapp listing       │
//	│    /webapps      - Webapp details       │
//	│    /deploy       - Artifact upload      │
//	│    /commands/*   - Server commands      │
//	│    /sessions     - Open a session       │
//	│    /metrics      - Prometheus metrics   │
//	├─────────────────────────────────────────┤
//	│  Components:                            │
//	│    appserver.Server - Webapps, memory   │
//	│    Registration     - Coordinator link  │
//	└─────────────────────────────────────────┘
//
// Configuration (environment, optionally from a file given with -env):
//   - NODE_ID: Unique node identifier (required)
//   - COORDINATOR_ADDR: Coordinator URL (required)
//   - NODE_LISTEN: Listen address (default ":8081")
//   - NODE_ADDR: Public address for the coordinator (default "http://127.0.0.1:8081")
//   - NODE_START_DELAY: Time a new webapp spends STARTING (default "2s")
//   - NODE_MAX_ARTIFACT_SIZE: Upload limit in bytes (default 0, unbounded)
//   - NODE_POOLS_FILE: YAML list of memory pools (optional)
//   - LOG_LEVEL: debug, info, warn or error (default "info")
//
// Example usage:
//
//	NODE_ID=node-1 \
//	NODE_LISTEN=:8081 \
//	NODE_ADDR=http://localhost:8081 \
//	COORDINATOR_ADDR=http://localhost:8080 \
//	./node
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/dreamware/fleetwar/internal/appserver"
	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/logging"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type nodeEnv struct {
	ID              string        `env:"NODE_ID,required"`
	CoordinatorAddr string        `env:"COORDINATOR_ADDR,required"`
	Listen          string        `env:"NODE_LISTEN" envDefault:":8081"`
	PublicAddr      string        `env:"NODE_ADDR" envDefault:"http://127.0.0.1:8081"`
	StartDelay      time.Duration `env:"NODE_START_DELAY" envDefault:"2s"`
	MaxArtifactSize int64         `env:"NODE_MAX_ARTIFACT_SIZE"`
	PoolsFile       string        `env:"NODE_POOLS_FILE"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Registration retry policy. Variables so tests can shorten them.
var (
	registerAttempts = 10
	registerDelay    = 400 * time.Millisecond
)

func loadEnv() (*nodeEnv, error) {
	cfg := &nodeEnv{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadPools reads a YAML list of pools. An empty path keeps the defaults.
func loadPools(path string) ([]appserver.PoolConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pools file: %w", err)
	}
	var pools []appserver.PoolConfig
	if err := yaml.Unmarshal(data, &pools); err != nil {
		return nil, fmt.Errorf("parsing pools file: %w", err)
	}
	for _, p := range pools {
		if p.Name == "" || p.Max <= 0 {
			return nil, fmt.Errorf("pool %q needs a name and a positive max", p.Name)
		}
	}
	return pools, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("node: %v", err)
	}
}

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
	logger := logging.Init("node", logging.ParseLevel(cfg.LogLevel), nil).With("node", cfg.ID)

	pools, err := loadPools(cfg.PoolsFile)
	if err != nil {
		return err
	}

	agent := appserver.New(appserver.Options{
		Name:            cfg.ID,
		StartDelay:      cfg.StartDelay,
		MaxArtifactSize: cfg.MaxArtifactSize,
		Pools:           pools,
		Logger:          logger,
	})
	defer agent.Close()

	s := &http.Server{
		Addr:              cfg.Listen,
		Handler:           agent.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("node listening", logging.Code(logging.SYSTEM), "addr", cfg.Listen, "public", cfg.PublicAddr)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if err := register(context.Background(), logger, cfg.CoordinatorAddr, cfg.ID, cfg.PublicAddr); err != nil {
		return err
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", logging.Code(logging.SYSTEM), "error", err)
	}
	logger.Info("node stopped", logging.Code(logging.SYSTEM))
	return nil
}

// register announces the node to the coordinator, retrying while the
// coordinator is starting up. A node that cannot register is useless, so
// the last error is returned after registerAttempts failures.
func register(ctx context.Context, logger *slog.Logger, coord, id, addr string) error {
	body := cluster.RegisterRequest{Node: cluster.NodeInfo{ID: id, Addr: addr}}
	var lastErr error
	for i := 0; i < registerAttempts; i++ {
		lastErr = cluster.PostJSON(ctx, coord+"/register", body, nil)
		if lastErr == nil {
			logger.Info("registered with coordinator", logging.Code(logging.NODE), "coordinator", coord)
			return nil
		}
		logger.Warn("register retry", logging.Code(logging.NODE), "attempt", i+1, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(registerDelay):
		}
	}
	return fmt.Errorf("register failed after %d attempts: %w", registerAttempts, lastErr)
}
