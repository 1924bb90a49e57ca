// Package resource implements the resource service: a read-only orders API
// whose routes are guarded by bearer tokens from one issuer, plus a guarded
// gRPC health endpoint.
package resource

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/https756/spring-client-credentials-flow/internal/httpx"
	"github.com/https756/spring-client-credentials-flow/internal/logging"
	"github.com/https756/spring-client-credentials-flow/internal/telemetry"
	"github.com/https756/spring-client-credentials-flow/pkg/auth"
	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
	"github.com/https756/spring-client-credentials-flow/pkg/models"
)

// Deps are the process-wide collaborators of a [Server]. Zero values take
// defaults.
type Deps struct {
	Catalog        *models.Catalog
	HTTPClient     auth.HTTPClient
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	// Propagator extracts the caller's trace context from requests.
	Propagator propagation.TextMapPropagator
}

// Server holds the resource service state: one key resolver, the guards
// and both listeners. It is built once in main and shared by reference.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	catalog *models.Catalog

	resolver *auth.KeyResolver
	guard    *auth.Guard

	handler http.Handler
	http    *http.Server
	grpc    *grpc.Server
	health  *health.Server

	mu       sync.Mutex
	httpLn   net.Listener
	grpcLn   net.Listener
	serveWG  sync.WaitGroup
	healthFn func(context.Context) error
}

// NewServer wires the resolver, verifier and guards for cfg.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = models.DefaultCatalog()
	}

	keysCfg := cfg.Auth.Keys
	if cfg.Auth.JWKSURL != "" {
		keysCfg.JWKSURLs = maps.Clone(keysCfg.JWKSURLs)
		if keysCfg.JWKSURLs == nil {
			keysCfg.JWKSURLs = make(map[string]string, 1)
		}
		keysCfg.JWKSURLs[cfg.Auth.Issuer] = cfg.Auth.JWKSURL
	}
	keysCfg.HTTPClient = deps.HTTPClient
	keysCfg.Logger = logger
	keysCfg.TracerProvider = deps.TracerProvider
	keysCfg.MeterProvider = deps.MeterProvider
	resolver, err := auth.NewKeyResolver(keysCfg)
	if err != nil {
		return nil, err
	}

	verCfg := cfg.Auth.Verifier
	verCfg.TracerProvider = deps.TracerProvider
	verifier, err := auth.NewVerifier(resolver, verCfg)
	if err != nil {
		return nil, err
	}

	guardFor := func(table auth.RouteTable) (*auth.Guard, error) {
		return auth.NewGuard(verifier, auth.GuardConfig{
			Issuer:         cfg.Auth.Issuer,
			Routes:         table,
			Logger:         logger,
			TracerProvider: deps.TracerProvider,
			MeterProvider:  deps.MeterProvider,
		})
	}
	httpGuard, err := guardFor(cfg.Auth.RouteTable())
	if err != nil {
		return nil, err
	}
	grpcGuard, err := guardFor(cfg.Auth.MethodTable())
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		catalog:  catalog,
		resolver: resolver,
		guard:    httpGuard,
		health:   health.NewServer(),
	}

	mux := http.NewServeMux()
	h := &handlers{catalog: catalog, health: s.checkHealth}
	mux.HandleFunc(RouteListOrders, h.listOrders)
	mux.HandleFunc(RouteGetOrder, h.getOrder)
	mux.HandleFunc(RouteHealth, h.healthz)

	s.handler = httpx.Chain(mux,
		telemetry.HTTPMiddleware(deps.TracerProvider, deps.Propagator),
		logging.HTTPMiddleware(logger),
		auth.HTTPMiddleware(httpGuard, mux),
		httpx.RateLimit(cfg.RateLimit, httpx.CallerKey(cfg.RateLimit.ClientIPKey())),
	)
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	s.grpc = grpc.NewServer(
		grpc.ChainUnaryInterceptor(auth.UnaryServerInterceptor(grpcGuard)),
		grpc.ChainStreamInterceptor(auth.StreamServerInterceptor(grpcGuard)),
	)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	return s, nil
}

// Handler returns the guarded HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// GRPCServer returns the guarded gRPC server.
func (s *Server) GRPCServer() *grpc.Server { return s.grpc }

// Resolver returns the key resolver.
func (s *Server) Resolver() *auth.KeyResolver { return s.resolver }

// SetHealth installs the check behind GET /healthz. Call it before Listen.
func (s *Server) SetHealth(fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthFn = fn
}

func (s *Server) checkHealth(ctx context.Context) error {
	s.mu.Lock()
	fn := s.healthFn
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// Warm fetches the issuer's key set so the first request does not pay for
// discovery. A failure is logged, not returned: keys are fetched again on
// the first request.
func (s *Server) Warm(ctx context.Context) error {
	if _, err := s.resolver.Prefetch(ctx, s.cfg.Auth.Issuer); err != nil {
		s.logger.WarnContext(ctx, "resource: key set prefetch failed",
			"issuer", s.cfg.Auth.Issuer,
			"error", err,
		)
	}
	return nil
}

// KeysHealth reports whether the issuer's key set is available, fetching
// it if the cache is empty or stale.
func (s *Server) KeysHealth(ctx context.Context) error {
	_, err := s.resolver.Prefetch(ctx, s.cfg.Auth.Issuer)
	return err
}

// Listen binds both listeners and serves in the background.
func (s *Server) Listen(ctx context.Context) error {
	var lc net.ListenConfig
	httpLn, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeUnavailable, "resource: listen on %s", s.cfg.Addr)
	}
	var grpcLn net.Listener
	if s.cfg.GRPCAddr != "" {
		grpcLn, err = lc.Listen(ctx, "tcp", s.cfg.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return sserr.Wrapf(err, sserr.CodeUnavailable, "resource: listen on %s", s.cfg.GRPCAddr)
		}
	}

	s.mu.Lock()
	s.httpLn, s.grpcLn = httpLn, grpcLn
	s.mu.Unlock()

	s.serveWG.Add(1)
	go func() {
		defer s.serveWG.Done()
		if err := s.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("resource: http server stopped", "error", err)
		}
	}()
	if grpcLn != nil {
		s.serveWG.Add(1)
		go func() {
			defer s.serveWG.Done()
			if err := s.grpc.Serve(grpcLn); err != nil {
				s.logger.Error("resource: grpc server stopped", "error", err)
			}
		}()
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}

	s.logger.InfoContext(ctx, "resource: serving",
		"http_addr", httpLn.Addr().String(),
		"grpc_addr", s.GRPCAddr(),
		"issuer", s.cfg.Auth.Issuer,
	)
	return nil
}

// Addr returns the bound HTTP address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpLn == nil {
		return ""
	}
	return s.httpLn.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when gRPC is disabled.
func (s *Server) GRPCAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grpcLn == nil {
		return ""
	}
	return s.grpcLn.Addr().String()
}

// Shutdown drains HTTP, stops gRPC gracefully and waits for both serve
// loops. gRPC is stopped hard if ctx expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	err := s.http.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
	}
	s.serveWG.Wait()

	if err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "resource: http shutdown")
	}
	return nil
}

// Close drops the key cache.
func (s *Server) Close() {
	s.resolver.Close()
}
