// Command client-service calls the resource service orders API with a
// client-credentials access token and serves the verified result.
//
// The client registration is read from CLIENT_ID, CLIENT_SECRET and
// CLIENT_TOKEN_ENDPOINT; everything else from CLIENT_* variables or an
// optional configuration file:
//
//	client-service -config /etc/client-service.yaml
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

	"github.com/https756/spring-client-credentials-flow/internal/client"
	"github.com/https756/spring-client-credentials-flow/internal/logging"
	"github.com/https756/spring-client-credentials-flow/internal/telemetry"
	"github.com/https756/spring-client-credentials-flow/pkg/config"
	"github.com/https756/spring-client-credentials-flow/pkg/lifecycle"
)

const serviceName = "client-service"

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

	loader := config.New().WithEnvPrefix(client.EnvPrefix)
	if *configFile != "" {
		loader = loader.WithFile(*configFile)
	}
	cfg := config.MustLoad[client.Config](loader)

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

	srv, err := client.NewServer(cfg, client.Deps{
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
		WithOnStart("warm-token", srv.WarmToken).
		WithOnStart("probe-resource", srv.Probe).
		WithOnStart("listen", srv.Listen).
		WithOnStop("close-token-cache", func(context.Context) error {
			return srv.Close()
		}).
		WithOnStop("shutdown-server", srv.Shutdown).
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

// stopService stops svc within timeout on a fresh context.
func stopService(svc *lifecycle.Service, timeout time.Duration, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
		return err
	}
	return nil
}
