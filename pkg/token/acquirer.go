package token

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// AcquirerConfig configures an [Acquirer].
type AcquirerConfig struct {
	// HTTPClient sends token requests. Defaults to an http.Client with a
	// 10s timeout.
	HTTPClient *http.Client `json:"-" yaml:"-"`

	Logger         *slog.Logger         `json:"-" yaml:"-"`
	TracerProvider trace.TracerProvider `json:"-" yaml:"-"`
	MeterProvider  metric.MeterProvider `json:"-" yaml:"-"`
}

// Acquirer performs the client-credentials grant:
//
//	POST <token endpoint>
//	grant_type=client_credentials&client_id=..&client_secret=..[&scope=..]
//
// and turns the JSON answer into an [AccessToken]. Network errors and 5xx
// answers are retried exactly once; 4xx answers are not retried.
type Acquirer struct {
	client       *http.Client
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
	acquisitions metric.Int64Counter
}

// NewAcquirer creates an acquirer.
func NewAcquirer(cfg AcquirerConfig) *Acquirer {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
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
	acquisitions, _ := mp.Meter(instrumentationName).Int64Counter("token.acquisitions",
		metric.WithDescription("Client-credentials grants sent to the token endpoint, by outcome"))

	return &Acquirer{
		client:       client,
		logger:       logger,
		tracer:       tp.Tracer(instrumentationName),
		now:          time.Now,
		acquisitions: acquisitions,
	}
}

// Acquire requests a new token for id. Every failure is an
// [sserr.CodeAcquisitionFailed] error; the client secret never appears in
// it.
func (a *Acquirer) Acquire(ctx context.Context, id ClientIdentity) (tok *AccessToken, err error) {
	ctx, span := startSpan(ctx, a.tracer, "token.Acquire",
		attribute.String("token.client_id", id.ClientID),
	)
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		a.acquisitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("client_id", id.ClientID),
			attribute.String("outcome", outcome),
		))
		finishSpan(span, err)
		span.End()
	}()

	if err := id.Validate(); err != nil {
		return nil, err
	}

	conf := &clientcredentials.Config{
		ClientID:     id.ClientID,
		ClientSecret: id.ClientSecret.Value(),
		TokenURL:     id.TokenEndpoint,
		Scopes:       id.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	octx := context.WithValue(ctx, oauth2.HTTPClient, a.client)

	var raw *oauth2.Token
	attempts := 0
	for {
		attempts++
		raw, err = conf.Token(octx)
		if err == nil || attempts > 1 || !isTransient(err) || ctx.Err() != nil {
			break
		}
		a.logger.DebugContext(ctx, "token: retrying token request after transient failure",
			"client_id", id.ClientID,
			"error", err,
		)
	}
	span.SetAttributes(attribute.Int("token.attempts", attempts))
	if err != nil {
		e := sserr.Wrap(err, sserr.CodeAcquisitionFailed, "token: client-credentials grant failed").
			WithDetail("client_id", id.ClientID)
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			e = e.WithDetail("status", re.Response.StatusCode)
		}
		return nil, e
	}

	return a.convert(id, raw)
}

// convert validates the grant answer. The token must be a bearer token and
// must carry a positive expires_in.
func (a *Acquirer) convert(id ClientIdentity, raw *oauth2.Token) (*AccessToken, error) {
	fail := func(msg string) *sserr.Error {
		return sserr.New(sserr.CodeAcquisitionFailed, msg).WithDetail("client_id", id.ClientID)
	}

	if !strings.EqualFold(raw.Type(), "Bearer") {
		return nil, fail("token: issuer returned a non-bearer token").WithDetail("token_type", raw.Type())
	}
	if raw.Expiry.IsZero() {
		return nil, fail("token: token response has no expires_in")
	}
	lifetime := time.Until(raw.Expiry).Round(time.Second)
	if lifetime <= 0 {
		return nil, fail("token: issuer returned an expired token")
	}

	scopes := id.Scopes
	if s, ok := raw.Extra("scope").(string); ok && s != "" {
		scopes = strings.Fields(s)
	}

	now := a.now()
	return &AccessToken{
		Value:     Secret(raw.AccessToken),
		TokenType: "Bearer",
		IssuedAt:  now,
		ExpiresAt: now.Add(lifetime),
		Scopes:    scopes,
	}, nil
}

// isTransient reports whether a failed grant is worth one more attempt.
func isTransient(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return re.Response != nil && re.Response.StatusCode >= http.StatusInternalServerError
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}
