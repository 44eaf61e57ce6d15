// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/gatekeeper/lib/config"
	"github.com/bureau-foundation/gatekeeper/lib/gateway"
	"github.com/bureau-foundation/gatekeeper/lib/logging"
	"github.com/bureau-foundation/gatekeeper/lib/nonce"
	"github.com/bureau-foundation/gatekeeper/lib/process"
	"github.com/bureau-foundation/gatekeeper/lib/secret"
	"github.com/bureau-foundation/gatekeeper/lib/security"
	"github.com/bureau-foundation/gatekeeper/lib/version"
	"github.com/bureau-foundation/gatekeeper/lib/worker"
	"github.com/bureau-foundation/gatekeeper/lib/workerpool"
)

const generatedSecretBytes = 32

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var envFiles []string
	var generateSecret bool
	var checkConfig bool
	var showVersion bool

	flagSet := pflag.NewFlagSet("gatekeeper", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $GATEKEEPER_CONFIG)")
	flagSet.StringSliceVar(&envFiles, "env-file", nil, "load KEY=value files into the environment before reading config")
	flagSet.BoolVar(&generateSecret, "generate-secret", false, "write a new shared secret to auth.secret_file and exit")
	flagSet.BoolVar(&checkConfig, "check-config", false, "validate the configuration and exit")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("gatekeeper %s\n", version.Full())
		return nil
	}

	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return fmt.Errorf("loading env files: %w", err)
		}
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if checkConfig {
		fmt.Printf("%s: ok (%s)\n", configSource(configPath), cfg.Environment)
		return nil
	}

	if generateSecret {
		return writeSecret(cfg.Auth.SecretFile)
	}

	logger, logCloser, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	cfg.ResolveAPIKey()

	logger.Info("starting gatekeeper",
		"version", version.Info(),
		"environment", cfg.Environment,
		"auth_enabled", cfg.Auth.Enabled,
		"max_concurrent", cfg.Pool.MaxConcurrent,
		"max_queue_size", cfg.Pool.MaxQueueSize,
	)

	var sharedSecret *secret.Buffer
	if cfg.Auth.Enabled {
		sharedSecret, err = secret.Load(cfg.Auth.SecretFile, os.Stdin)
		if err != nil {
			return fmt.Errorf("loading auth secret: %w", err)
		}
		defer sharedSecret.Close()
	}

	service, pool, err := assemble(cfg, sharedSecret, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx, stop := process.SignalContext(context.Background())
	defer stop()

	gin.SetMode(gin.ReleaseMode)
	return serve(ctx, cfg.Server, service, logger)
}

func loadConfig(path string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func configSource(path string) string {
	if path != "" {
		return path
	}
	return os.Getenv(config.EnvironmentVariable)
}

func writeSecret(path string) error {
	if path == "" || path == "-" {
		return errors.New("auth.secret_file must name a file to generate a secret")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating secret directory: %w", err)
	}
	generated, err := secret.Generate(generatedSecretBytes)
	if err != nil {
		return err
	}
	defer generated.Close()
	if err := secret.Store(path, generated); err != nil {
		return fmt.Errorf("storing secret: %w", err)
	}
	fmt.Printf("wrote new shared secret to %s\n", path)
	return nil
}

// assemble builds the guard, nonce manager, worker pool, and gateway
// from a validated config. sharedSecret may be nil when auth is off.
func assemble(cfg *config.Config, sharedSecret *secret.Buffer, logger *slog.Logger) (*gateway.Gateway, *workerpool.Manager, error) {
	guard := security.New(cfg.Security, logger.With("component", "security"))

	nonces := nonce.New(nonce.Config{
		Enabled:   cfg.Auth.Enabled,
		MaxAge:    cfg.Auth.MaxAge,
		MaxStored: cfg.Auth.MaxStored,
	})

	workerLogger := logger.With("component", "worker")
	workerConfig := cfg.Worker
	workerConfig.Logger = workerLogger

	pool := workerpool.New(workerpool.Config{
		MaxConcurrent: cfg.Pool.MaxConcurrent,
		MaxQueueSize:  cfg.Pool.MaxQueueSize,
		RecentLimit:   cfg.Pool.RecentResults,
		Worker:        workerConfig,
		OnEvent:       eventLogger(workerLogger),
		Logger:        logger.With("component", "pool"),
	})

	var secretBytes []byte
	if sharedSecret != nil {
		secretBytes = sharedSecret.Bytes()
	}

	kind, err := worker.ParseKind(cfg.Pool.DefaultType)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	service, err := gateway.New(gateway.Config{
		Pool:                    pool,
		Guard:                   guard,
		Nonces:                  nonces,
		Secret:                  secretBytes,
		CommandQueueCapacity:    cfg.Pool.CommandQueueCapacity,
		DefaultKind:             kind,
		DefaultWorkingDirectory: cfg.Pool.DefaultWorkingDirectory,
		Version:                 version.Short(),
		Logger:                  logger.With("component", "gateway"),
	})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return service, pool, nil
}

// eventLogger records lifecycle events at debug level. Output events
// are dropped; worker.output serves them on demand.
func eventLogger(logger *slog.Logger) worker.EventHandler {
	return func(event worker.Event) {
		switch event.Kind {
		case worker.EventOutput:
			return
		case worker.EventError:
			logger.Warn("worker error", "worker_id", event.WorkerID, "error", event.Data)
		case worker.EventDone:
			attributes := []any{"worker_id", event.WorkerID}
			if event.Result != nil {
				attributes = append(attributes,
					"status", event.Result.Status,
					"duration_ms", event.Result.DurationMs,
				)
			}
			logger.Debug("worker done", attributes...)
		default:
			logger.Debug("worker "+string(event.Kind), "worker_id", event.WorkerID, "detail", event.Data)
		}
	}
}

// serve runs every configured listener until ctx is cancelled or one
// of them fails.
func serve(ctx context.Context, server config.ServerConfig, service *gateway.Gateway, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var listener net.Listener
	if server.Listen != "" {
		var err error
		listener, err = net.Listen("tcp", server.Listen)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", server.Listen, err)
		}
	}

	var waitGroup sync.WaitGroup
	errs := make(chan error, 2)
	launch := func(name string, serveFunc func() error) {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			if err := serveFunc(); err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	if listener != nil {
		launch("websocket", func() error { return service.ServeWebSocket(ctx, listener) })
	}
	if server.Socket != "" {
		launch("unix socket", func() error { return service.ServeUnix(ctx, server.Socket) })
	}

	<-ctx.Done()
	logger.Info("shutting down")
	waitGroup.Wait()
	close(errs)

	var failures []error
	for err := range errs {
		failures = append(failures, err)
	}
	return errors.Join(failures...)
}
