package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope of this package.
const tracerName = "github.com/https756/spring-client-credentials-flow/pkg/lifecycle"

// StateChangeHandler is called with the previous and the new state on
// every transition.
//
// Handlers run synchronously under the service's state mutex. They must
// not block or call lifecycle methods on the same service. A panicking
// handler is recovered and logged; the transition still happens.
type StateChangeHandler func(old, new State)

// Hook runs during Start or Stop with the caller's context.
//
// A failing start hook aborts Start and moves the service to
// [StateFailed]. Hooks run outside the state mutex, so they may call
// [Service.State] and [Service.Info].
type Hook func(ctx context.Context) error

// HealthCheck reports whether a dependency of the service is usable.
type HealthCheck func(ctx context.Context) error

type namedHook struct {
	name string
	fn   Hook
}

type namedCheck struct {
	name string
	fn   HealthCheck
}

// Info is a point-in-time snapshot of a service, safe to serialize for
// health endpoints.
type Info struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Version   string        `json:"version"`
	State     State         `json:"state"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
}

// Service is the process-wide lifecycle of one binary. It owns the state
// machine and runs registered hooks: start hooks in registration order,
// stop hooks in reverse order so that resources are released opposite to
// how they were acquired.
//
// Create one with [Builder].
type Service struct {
	id      string
	name    string
	version string

	mu        sync.RWMutex
	state     State
	startedAt *time.Time
	released  bool // stop hooks already ran after a failed start

	tracer trace.Tracer
	logger *slog.Logger

	onStart       []namedHook
	onStop        []namedHook
	checks        []namedCheck
	stateHandlers []StateChangeHandler
}

// ID returns the instance id.
func (s *Service) ID() string { return s.id }

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Version returns the service version.
func (s *Service) Version() string { return s.version }

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot of the service. Uptime is zero unless the
// service is running.
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		ID:      s.id,
		Name:    s.name,
		Version: s.version,
		State:   s.state,
	}
	if s.startedAt != nil && s.state == StateRunning {
		t := *s.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}
	return info
}

// Health returns nil if the service is running and every registered health
// check passes. Otherwise it returns a [sserr.CodeUnavailable] error naming
// the state or the failing check.
func (s *Service) Health(ctx context.Context) error {
	if state := s.State(); state != StateRunning {
		return sserr.Newf(sserr.CodeUnavailable,
			"lifecycle: service is not running, current state is %q", state)
	}
	for _, c := range s.checks {
		if err := c.fn(ctx); err != nil {
			return sserr.Wrapf(err, sserr.CodeUnavailableDependency,
				"lifecycle: health check %q failed", c.name)
		}
	}
	return nil
}

// SetState validates and applies a transition, then notifies the state
// change handlers. An invalid transition returns a [sserr.CodeConflict]
// error.
func (s *Service) SetState(new State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	if !ValidTransition(old, new) {
		return sserr.Newf(sserr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", old, new)
	}
	s.state = new

	for _, h := range s.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"service_id", s.id,
						"old_state", string(old),
						"new_state", string(new),
					)
				}
			}()
			h(old, new)
		}()
	}
	return nil
}

// Start moves the service through [StateStarting] to [StateRunning],
// running the start hooks in between. If a hook fails, the hooks that
// already succeeded are not undone here; the service moves to
// [StateFailed] and the error is returned wrapped with
// [sserr.CodeInternal]. Call Stop to release what was acquired.
//
// Start may be called from [StateUnknown], [StateStopped] or
// [StateFailed]; otherwise it returns a [sserr.CodeConflict] error. A
// canceled ctx returns a [sserr.CodeTimeout] error without changing state.
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "lifecycle.Start")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return s.fail(span, sserr.Wrap(err, sserr.CodeTimeout,
			"lifecycle: start canceled before execution"))
	}
	if err := s.SetState(StateStarting); err != nil {
		return s.fail(span, err)
	}
	s.mu.Lock()
	s.released = false
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: starting service",
		"service_id", s.id,
		"service_name", s.name,
		"service_version", s.version,
	)

	for _, h := range s.onStart {
		if err := h.fn(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: start hook failed",
				"service_id", s.id,
				"hook", h.name,
				"error", err,
			)
			_ = s.SetState(StateFailed)
			return s.fail(span, sserr.Wrapf(err, sserr.CodeInternal,
				"lifecycle: start hook %q failed", h.name))
		}
	}

	if err := s.SetState(StateRunning); err != nil {
		return s.fail(span, err)
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service started",
		"service_id", s.id,
		"service_name", s.name,
	)
	span.SetStatus(codes.Ok, "")
	return nil
}

// Stop moves the service through [StateStopping] to [StateStopped],
// running the stop hooks in reverse registration order. Every stop hook
// runs even if an earlier one fails; failures are joined, the service moves
// to [StateFailed] and the error is returned wrapped with
// [sserr.CodeInternal].
//
// Stop before Start or after a clean stop is a no-op. A service that
// failed runs its stop hooks once, so partially acquired resources are
// released, and stays in [StateFailed].
func (s *Service) Stop(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "lifecycle.Stop")
	defer span.End()

	s.mu.RLock()
	state, released := s.state, s.released
	s.mu.RUnlock()
	if state == StateStopped || state == StateUnknown || (state == StateFailed && released) {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return s.fail(span, sserr.Wrap(err, sserr.CodeTimeout,
			"lifecycle: stop canceled before execution"))
	}

	failed := state == StateFailed
	if !failed {
		if err := s.SetState(StateStopping); err != nil {
			return s.fail(span, err)
		}
	}
	s.logger.InfoContext(ctx, "lifecycle: stopping service",
		"service_id", s.id,
		"service_name", s.name,
	)

	var errs []error
	for i := len(s.onStop) - 1; i >= 0; i-- {
		h := s.onStop[i]
		if err := h.fn(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: stop hook failed",
				"service_id", s.id,
				"hook", h.name,
				"error", err,
			)
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	s.startedAt = nil
	s.released = true
	s.mu.Unlock()

	if len(errs) > 0 {
		if !failed {
			_ = s.SetState(StateFailed)
		}
		return s.fail(span, sserr.Wrap(errors.Join(errs...), sserr.CodeInternal,
			"lifecycle: stop hook failed"))
	}
	if failed {
		// A failed service stays failed; its resources are released.
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if err := s.SetState(StateStopped); err != nil {
		return s.fail(span, err)
	}

	s.logger.InfoContext(ctx, "lifecycle: service stopped",
		"service_id", s.id,
		"service_name", s.name,
	)
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.instance.id", s.id),
			attribute.String("service.name", s.name),
		),
	)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
