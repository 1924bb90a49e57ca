// Command resource-service serves the orders API behind bearer token
// verification.
//
// Configuration comes from RESOURCE_* environment variables, optionally
// layered over a YAML or JSON file:
//
//	RESOURCE_AUTH_ISSUER=http://keycloak:8080/realms/demo resource-service
//	resource-service -config /etc/resource-service.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/https756/spring-client-credentials-flow/internal/logging"
	"github.com/https756/spring-client-credentials-flow/internal/resource"
	"github.com/https756/spring-client-credentials-flow/internal/telemetry"
	"github.com/https756/spring-client-credentials-flow/pkg/config"
	"github.com/https756/spring-client-credentials-flow/pkg/lifecycle"
)

const serviceName = "resource-service"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	configFile := flag.String("config", "", "optional YAML or JSON configuration file")
	flag.Parse()

	loader := config.New().WithEnvPrefix(resource.EnvPrefix)
	if *configFile != "" {
		loader = loader.WithFile(*configFile)
	}
	cfg := config.MustLoad[resource.Config](loader)

	logger := logging.New(cfg.Log, serviceName, version, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Setup(ctx, cfg.Telemetry, serviceName, version, os.Stdout)
	if err != nil {
		return err
	}
	providers.Install()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	srv, err := resource.NewServer(cfg, resource.Deps{
		Logger:         logger,
		TracerProvider: providers.TracerProvider,
		MeterProvider:  providers.MeterProvider,
	})
	if err != nil {
		return err
	}

	svc, err := lifecycle.NewBuilder(serviceName, version).
		WithLogger(logger).
		WithTracerProvider(providers.TracerProvider).
		WithOnStart("warm-keys", srv.Warm).
		WithOnStart("listen", srv.Listen).
		WithOnStop("close-key-cache", func(context.Context) error {
			srv.Close()
			return nil
		}).
		WithOnStop("shutdown-servers", srv.Shutdown).
		WithHealthCheck("signing-keys", srv.KeysHealth).
		OnStateChange(func(old, new lifecycle.State) {
			logger.Info("state transition", "from", old.String(), "to", new.String())
		}).
		Build()
	if err != nil {
		return err
	}
	srv.SetHealth(svc.Health)

	if err := svc.Start(ctx); err != nil {
		_ = stopService(svc, cfg.ShutdownTimeout, logger)
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	return stopService(svc, cfg.ShutdownTimeout, logger)
}

// stopService stops svc within timeout. The signal context may already be
// canceled, so the stop gets a fresh one.
func stopService(svc *lifecycle.Service, timeout time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
		return err
	}
	return nil
}
