// Package client implements the client service: it holds one client
// registration, keeps an access token for it, and relays the resource
// service's orders API wrapped in a verification envelope.
package client

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/https756/spring-client-credentials-flow/internal/httpx"
	"github.com/https756/spring-client-credentials-flow/internal/logging"
	"github.com/https756/spring-client-credentials-flow/internal/telemetry"
	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
	"github.com/https756/spring-client-credentials-flow/pkg/token"
)

const readHeaderTimeout = 5 * time.Second

// Deps are the process-wide collaborators of a [Server]. Zero values take
// defaults.
type Deps struct {
	// TokenHTTPClient talks to the token endpoint.
	TokenHTTPClient *http.Client

	// Transport carries calls to the resource service under the
	// dispatcher.
	Transport http.RoundTripper

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	// Propagator carries the trace context in from callers and out to the
	// resource service.
	Propagator propagation.TextMapPropagator
}

// Server holds the client service state: the token cache, the dispatcher,
// the typed orders client and the HTTP listener.
type Server struct {
	cfg    Config
	logger *slog.Logger

	cache      *token.Cache
	source     token.Source
	dispatcher *token.Dispatcher
	orders     *OrdersClient
	probeConn  *grpc.ClientConn

	handler http.Handler
	http    *http.Server

	mu       sync.Mutex
	ln       net.Listener
	serveWG  sync.WaitGroup
	healthFn func(context.Context) error
}

// NewServer wires the token cache, dispatcher and handlers for cfg.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	acquirer := token.NewAcquirer(token.AcquirerConfig{
		HTTPClient:     deps.TokenHTTPClient,
		Logger:         logger,
		TracerProvider: deps.TracerProvider,
		MeterProvider:  deps.MeterProvider,
	})
	cacheCfg := cfg.Token
	cacheCfg.Logger = logger
	cacheCfg.TracerProvider = deps.TracerProvider
	cacheCfg.MeterProvider = deps.MeterProvider
	cache, err := token.NewCache(acquirer, cacheCfg)
	if err != nil {
		return nil, err
	}
	source := cache.Source(cfg.Identity)

	dispatcher, err := token.NewDispatcher(source, token.DispatcherConfig{
		Transport:      deps.Transport,
		Propagator:     deps.Propagator,
		Logger:         logger,
		TracerProvider: deps.TracerProvider,
		MeterProvider:  deps.MeterProvider,
	})
	if err != nil {
		cache.Close()
		return nil, err
	}
	hc := dispatcher.Client()
	hc.Timeout = cfg.CallTimeout
	orders, err := NewOrdersClient(cfg.ResourceURL, hc)
	if err != nil {
		cache.Close()
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		cache:      cache,
		source:     source,
		dispatcher: dispatcher,
		orders:     orders,
	}

	if cfg.ResourceGRPCAddr != "" {
		conn, err := grpc.NewClient(cfg.ResourceGRPCAddr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithChainUnaryInterceptor(token.UnaryClientInterceptor(source)),
			grpc.WithChainStreamInterceptor(token.StreamClientInterceptor(source)),
		)
		if err != nil {
			cache.Close()
			return nil, sserr.Wrapf(err, sserr.CodeValidationFormat,
				"client: resource gRPC address %q", cfg.ResourceGRPCAddr)
		}
		s.probeConn = conn
	}

	mux := http.NewServeMux()
	h := &handlers{orders: orders, health: s.checkHealth}
	mux.HandleFunc("GET /orders", h.listOrders)
	mux.HandleFunc("GET /orders/{id}", h.getOrder)
	mux.HandleFunc("GET /healthz", h.healthz)

	s.handler = httpx.Chain(mux,
		telemetry.HTTPMiddleware(deps.TracerProvider, deps.Propagator),
		logging.HTTPMiddleware(logger),
	)
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Orders returns the typed resource client.
func (s *Server) Orders() *OrdersClient { return s.orders }

// Cache returns the token cache.
func (s *Server) Cache() *token.Cache { return s.cache }

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

// WarmToken acquires the first token so the first call does not wait for
// the issuer. A failure is logged, not returned: the next call retries.
func (s *Server) WarmToken(ctx context.Context) error {
	if _, err := s.source.Token(ctx); err != nil {
		s.logger.WarnContext(ctx, "client: initial token acquisition failed",
			"client_id", s.cfg.Identity.ClientID,
			"error", err,
		)
	}
	return nil
}

// Probe calls the resource gRPC health endpoint with a bearer token. It is
// a no-op when no gRPC address is configured.
func (s *Server) Probe(ctx context.Context) error {
	if s.probeConn == nil {
		return nil
	}
	resp, err := healthpb.NewHealthClient(s.probeConn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		if e, ok := sserr.AsError(err); ok {
			return e
		}
		return sserr.Newf(sserr.CodeUpstreamRejected,
			"client: resource health probe failed (%s)", status.Code(err))
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return sserr.Newf(sserr.CodeUnavailableDependency,
			"client: resource service reports %s", resp.GetStatus())
	}
	s.logger.InfoContext(ctx, "client: resource health probe passed", "addr", s.cfg.ResourceGRPCAddr)
	return nil
}

// Listen binds the HTTP listener and serves in the background.
func (s *Server) Listen(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeUnavailable, "client: listen on %s", s.cfg.Addr)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.serveWG.Add(1)
	go func() {
		defer s.serveWG.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("client: http server stopped", "error", err)
		}
	}()
	s.logger.InfoContext(ctx, "client: serving",
		"addr", ln.Addr().String(),
		"resource_url", s.cfg.ResourceURL,
		"client_id", s.cfg.Identity.ClientID,
	)
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.serveWG.Wait()
	if err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "client: http shutdown")
	}
	return nil
}

// Close drops the token cache and closes the probe connection.
func (s *Server) Close() error {
	s.cache.Close()
	if s.probeConn != nil {
		return s.probeConn.Close()
	}
	return nil
}
