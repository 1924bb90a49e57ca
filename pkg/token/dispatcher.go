package token

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/https756/spring-client-credentials-flow/pkg/auth"
	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// maxDrain bounds how much of a rejected response body is read so the
// connection can be reused.
const maxDrain = 64 << 10

// maxRedirects matches the limit of http.Client's default redirect policy.
const maxRedirects = 10

// DispatcherConfig configures a [Dispatcher].
type DispatcherConfig struct {
	// Transport sends the requests. Defaults to http.DefaultTransport.
	Transport http.RoundTripper

	// Propagator injects the trace context into outbound headers.
	// Defaults to the global propagator.
	Propagator propagation.TextMapPropagator

	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Dispatcher sends requests with a bearer token from its [Source].
//
// A 401 answer means the resource service rejected the token: the
// dispatcher forces exactly one refresh and retries exactly once, returning
// the second answer as is. A 403 is an authorization decision and is
// returned without retrying, as is a 401 for a request whose body cannot be
// replayed (Body set, GetBody nil).
//
// Dispatcher implements [http.RoundTripper]; the caller's request is never
// modified.
type Dispatcher struct {
	source     Source
	next       http.RoundTripper
	propagator propagation.TextMapPropagator
	logger     *slog.Logger
	tracer     trace.Tracer

	attempts        metric.Int64Counter
	forcedRefreshes metric.Int64Counter
}

// NewDispatcher creates a dispatcher drawing tokens from source.
func NewDispatcher(source Source, cfg DispatcherConfig) (*Dispatcher, error) {
	if source == nil {
		return nil, sserr.New(sserr.CodeValidation, "token: dispatcher needs a token source")
	}
	next := cfg.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	prop := cfg.Propagator
	if prop == nil {
		prop = otel.GetTextMapPropagator()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := cfg.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	attempts, _ := meter.Int64Counter("token.dispatch.attempts",
		metric.WithDescription("Outbound requests sent with a bearer token"))
	forced, _ := meter.Int64Counter("token.dispatch.forced_refreshes",
		metric.WithDescription("Token refreshes forced by a 401 from the resource service"))

	return &Dispatcher{
		source:          source,
		next:            next,
		propagator:      prop,
		logger:          logger,
		tracer:          tp.Tracer(instrumentationName),
		attempts:        attempts,
		forcedRefreshes: forced,
	}, nil
}

// Client returns an http.Client that sends every request through d.
// Redirects are followed only to the host of the original request: the
// token is attached on every hop, so a redirect elsewhere fails with
// [sserr.CodeUnavailableDependency] instead.
func (d *Dispatcher) Client() *http.Client {
	return &http.Client{Transport: d, CheckRedirect: sameHostRedirect}
}

func sameHostRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return sserr.Newf(sserr.CodeUnavailableDependency, "token: stopped after %d redirects", maxRedirects)
	}
	if origin := via[0].URL; !strings.EqualFold(req.URL.Host, origin.Host) {
		return sserr.Newf(sserr.CodeUnavailableDependency,
			"token: refusing redirect from %s to %s with a bearer token", origin.Host, req.URL.Host).
			WithDetail("location", req.URL.Redacted())
	}
	return nil
}

// RoundTrip implements http.RoundTripper.
func (d *Dispatcher) RoundTrip(req *http.Request) (*http.Response, error) {
	return d.Send(req)
}

// Send sends req with the current token, refreshing and retrying once on
// 401. Token acquisition failures are returned as errors.
func (d *Dispatcher) Send(req *http.Request) (resp *http.Response, err error) {
	ctx, span := startSpan(req.Context(), d.tracer, "token.Send",
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.URL.Path),
	)
	defer func() {
		if resp != nil {
			span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		}
		finishSpan(span, err)
		span.End()
	}()

	tok, err := d.source.Token(ctx)
	if err != nil {
		closeBody(req)
		return nil, err
	}

	resp, err = d.attempt(req.WithContext(ctx), tok, false)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if !replayable(req) {
		d.logger.DebugContext(ctx, "token: 401 for a request whose body cannot be replayed, not retrying",
			"method", req.Method,
			"path", req.URL.Path,
		)
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	_ = resp.Body.Close()

	d.forcedRefreshes.Add(ctx, 1)
	span.AddEvent("token.forced_refresh")
	fresh, err := d.source.Refresh(ctx, tok)
	if err != nil {
		return nil, err
	}
	return d.attempt(req.WithContext(ctx), fresh, true)
}

// attempt sends a clone of req carrying tok. On a retry the body is
// rewound with GetBody.
func (d *Dispatcher) attempt(req *http.Request, tok *AccessToken, retry bool) (*http.Response, error) {
	out := req.Clone(req.Context())
	if retry && req.Body != nil && req.Body != http.NoBody {
		body, err := req.GetBody()
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternal, "token: failed to rewind request body")
		}
		out.Body = body
	}
	out.Header.Set("Authorization", auth.BearerHeader(tok.Value.Value()))
	d.propagator.Inject(req.Context(), propagation.HeaderCarrier(out.Header))

	d.attempts.Add(req.Context(), 1, metric.WithAttributes(attribute.Bool("retry", retry)))
	return d.next.RoundTrip(out)
}

// closeBody honours the RoundTripper contract of closing the request body
// on every path.
func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}
