package lifecycle

import (
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// Builder constructs a [Service]. All configuration methods return the
// builder for chaining.
//
//	svc, err := lifecycle.NewBuilder("resource-service", version).
//	    WithLogger(logger).
//	    WithOnStart("http", srv.listen).
//	    WithOnStop("http", srv.shutdown).
//	    WithOnStop("key-cache", func(context.Context) error { resolver.Close(); return nil }).
//	    WithHealthCheck("keys", resolver.Ready).
//	    Build()
type Builder struct {
	id             string
	name           string
	version        string
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	onStart        []namedHook
	onStop         []namedHook
	checks         []namedCheck
	stateHandlers  []StateChangeHandler
}

// NewBuilder creates a builder for a service called name.
func NewBuilder(name, version string) *Builder {
	return &Builder{name: name, version: version}
}

// WithID sets the instance id. By default it is "<name>-<uuid prefix>".
func (b *Builder) WithID(id string) *Builder {
	b.id = id
	return b
}

// WithLogger sets the logger. Defaults to [slog.Default].
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithOnStart appends a start hook. Start hooks run in registration order.
func (b *Builder) WithOnStart(name string, hook Hook) *Builder {
	b.onStart = append(b.onStart, namedHook{name: name, fn: hook})
	return b
}

// WithOnStop appends a stop hook. Stop hooks run in reverse registration
// order.
func (b *Builder) WithOnStop(name string, hook Hook) *Builder {
	b.onStop = append(b.onStop, namedHook{name: name, fn: hook})
	return b
}

// WithHealthCheck adds a check consulted by [Service.Health] while the
// service is running.
func (b *Builder) WithHealthCheck(name string, check HealthCheck) *Builder {
	b.checks = append(b.checks, namedCheck{name: name, fn: check})
	return b
}

// OnStateChange registers a handler called on every transition, in
// registration order.
func (b *Builder) OnStateChange(handler StateChangeHandler) *Builder {
	b.stateHandlers = append(b.stateHandlers, handler)
	return b
}

// Build validates the configuration and returns a service in
// [StateUnknown].
func (b *Builder) Build() (*Service, error) {
	if b.name == "" {
		return nil, sserr.New(sserr.CodeValidation,
			"lifecycle: service name must not be empty")
	}
	if b.version == "" {
		return nil, sserr.New(sserr.CodeValidation,
			"lifecycle: service version must not be empty")
	}
	for _, h := range append(append([]namedHook(nil), b.onStart...), b.onStop...) {
		if h.fn == nil {
			return nil, sserr.Newf(sserr.CodeValidation,
				"lifecycle: hook %q is nil", h.name)
		}
	}
	for _, c := range b.checks {
		if c.fn == nil {
			return nil, sserr.Newf(sserr.CodeValidation,
				"lifecycle: health check %q is nil", c.name)
		}
	}

	id := b.id
	if id == "" {
		id = b.name + "-" + uuid.NewString()[:8]
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := b.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Service{
		id:            id,
		name:          b.name,
		version:       b.version,
		state:         StateUnknown,
		tracer:        tp.Tracer(tracerName),
		logger:        logger,
		onStart:       append([]namedHook(nil), b.onStart...),
		onStop:        append([]namedHook(nil), b.onStop...),
		checks:        append([]namedCheck(nil), b.checks...),
		stateHandlers: append([]StateChangeHandler(nil), b.stateHandlers...),
	}, nil
}
