// Package main provides the entry point for the Vertex proxy server.
// The server accepts OpenAI chat completion requests and forwards them to
// Anthropic Claude models hosted on Google Cloud Vertex AI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/router-for-me/vertex-proxy/internal/api"
	"github.com/router-for-me/vertex-proxy/internal/api/middleware"
	"github.com/router-for-me/vertex-proxy/internal/auth/vertex"
	"github.com/router-for-me/vertex-proxy/internal/config"
	"github.com/router-for-me/vertex-proxy/internal/logging"
	"github.com/router-for-me/vertex-proxy/internal/registry"
	"github.com/router-for-me/vertex-proxy/internal/runtime/executor"
	"github.com/router-for-me/vertex-proxy/internal/usage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = "config.yaml"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
}

func main() {
	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("Vertex Proxy Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)
		return
	}

	if err := run(configPath); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(configPath string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv(nil)
	cfg.ApplyDefaults()

	warnings, err := config.ValidateConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		return fmt.Errorf("failed to configure log output: %w", err)
	}
	logLevel := cfg.LogLevel
	if cfg.Debug {
		logLevel = "debug"
	}
	logging.SetLogLevel(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := vertex.NewCredentialProvider(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize credentials: %w", err)
	}
	tokens := vertex.NewTokenCache(provider.SigningClient(), vertex.WithObserver(middleware.TokenCacheMetrics{}))
	exec := executor.NewVertexExecutor(cfg, provider.ProjectID(), tokens)
	mapper := registry.NewModelMapper(cfg.ModelMappings, cfg.DefaultModel)

	server := api.NewServer(cfg, mapper, exec, usage.GetRequestStatistics())
	log.Infof("Vertex proxy %s (project %s, location %s, default model %s)", Version, provider.ProjectID(), cfg.Location, mapper.DefaultModel())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return server.Close()
	})
	return g.Wait()
}
