package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/https756/spring-client-credentials-flow/internal/testutil"
	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// recorder collects hook invocations in call order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) hook(name string, err error) Hook {
	return func(context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, name)
		return err
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func mustBuild(t *testing.T, b *Builder) *Service {
	t.Helper()
	svc, err := b.Build()
	require.NoError(t, err)
	return svc
}

func mustStart(t *testing.T) *Service {
	t.Helper()
	svc := mustBuild(t, NewBuilder("resource-service", "1.0.0").WithID("svc-001"))
	require.NoError(t, svc.Start(context.Background()))
	return svc
}

// ===========================================================================
// Accessors and state
// ===========================================================================

func TestService_Accessors(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, NewBuilder("resource-service", "1.0.0").WithID("svc-001"))

	assert.Equal(t, "svc-001", svc.ID())
	assert.Equal(t, "resource-service", svc.Name())
	assert.Equal(t, "1.0.0", svc.Version())
	assert.Equal(t, StateUnknown, svc.State())
}

func TestService_SetState_InvalidTransition(t *testing.T) {
	t.Parallel()
	svc := mustBuild(t, NewBuilder("resource-service", "1.0.0"))

	err := svc.SetState(StateRunning)
	testutil.RequireErrorCode(t, err, sserr.CodeConflict)
	assert.Equal(t, StateUnknown, svc.State())
}

func TestService_SetState_NotifiesHandlersInOrder(t *testing.T) {
	t.Parallel()
	var got []string
	svc := mustBuild(t, NewBuilder("resource-service", "1.0.0").
		OnStateChange(func(old, new State) { got = append(got, "a:"+old.String()+">"+new.String()) }).
		OnStateChange(func(old, new State) { got = append(got, "b:"+old.String()+">"+new.String()) }))

	require.NoError(t, svc.SetState(StateStarting))
	assert.Equal(t, []string{"a:unknown>starting", "b:unknown>starting"}, got)
}

func TestService_SetState_HandlerPanicRecovered(t *testing.T) {
	t.Parallel()
	called := false
	svc := mustBuild(t, NewBuilder("resource-service", "1.0.0").
		OnStateChange(func(State, State) { panic("boom") }).
		OnStateChange(func(State, State) { called = true }))

	require.NotPanics(t, func() {
		require.NoError(t, svc.SetState(StateStarting))
	})
	assert.True(t, called)
	assert.Equal(t, StateStarting, svc.State())
}

// ===========================================================================
// Start
// ===========================================================================

func TestService_Start_RunsHooksInOrder(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	svc := mustBuild(t, NewBuilder("resource-service", "1.0.0").
		WithOnStart("keys", rec.hook("keys", nil)).
		WithOnStart("http", rec.hook("http", nil)).
		WithOnStart("grpc", rec.hook("grpc", nil)))

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, []string{"keys", "http", "grpc"}, rec.got())
	assert.Equal(t, StateRunning, svc.State())

	info := svc.Info()
	require.NotNil(t, info.StartedAt)
	assert.GreaterOrEqual(t, info.Uptime.Nanoseconds(), int64(0))
}

func TestService_Start_HookFailure(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	hookErr := errors.New("listen tcp :8081: address already in use")
	svc := mustBuild(t, NewBuilder("resource-service", "1.0.0").
		WithOnStart("keys", rec.hook("keys", nil)).
		WithOnStart("http", rec.hook("http", hookErr)).
		WithOnStart("grpc", rec.hook("grpc", nil)))

	err := svc.Start(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeInternal)
	assert.ErrorIs(t, err, hookErr)
	assert.Contains(t, err.Error(), `"http"`)
	assert.Equal(t, []string{"keys", "http"}, rec.got(), "later hooks must not run")
	assert.Equal(t, StateFailed, svc.State())
	assert.Nil(t, svc.Info().StartedAt)
}

func TestService_Start_AlreadyRunning(t *testing.T) {
	t.Parallel()
	svc := mustStart(t)

	err := svc.Start(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeConflict)
	assert.Equal(t, StateRunning, svc.State())
}

func TestService_Start_ContextCanceled(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	svc := mustBuild(t, NewBuilder("resource-service", "1.0.0").
		WithOnStart("http", rec.hook("http", nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Start(ctx)
	testutil.RequireErrorCode(t, err, sserr.CodeTimeout)
	assert.Empty(t, rec.got())
	assert.Equal(t, StateUnknown, svc.State())
}

func TestService_Start_Restart(t *testing.T) {
	t.Parallel()
	svc := mustStart(t)
	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StateRunning, svc.State())
}

// ===========================================================================
// Stop
// ===========================================================================

func TestService_Stop_RunsHooksInReverse(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	svc := mustBuild(t, NewBuilder("resource-service", "1.0.0").
		WithOnStop("keys", rec.hook("keys", nil)).
		WithOnStop("http", rec.hook("http", nil)).
		WithOnStop("grpc", rec.hook("grpc", nil)))
	require.NoError(t, svc.Start(context.Background()))

	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, []string{"grpc", "http", "keys"}, rec.got())
	assert.Equal(t, StateStopped, svc.State())

	info := svc.Info()
	assert.Nil(t, info.StartedAt)
	assert.Zero(t, info.Uptime)
}

func TestService_Stop_AllHooksRunDespiteFailures(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	errA := errors.New("a failed")
	errC := errors.New("c failed")
	svc := mustBuild(t, NewBuilder("resource-service", "1.0.0").
		WithOnStop("a", rec.hook("a", errA)).
		WithOnStop("b", rec.hook("b", nil)).
		WithOnStop("c", rec.hook("c", errC)))
	require.NoError(t, svc.Start(context.Background()))

	err := svc.Stop(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeInternal)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)
	assert.Equal(t, []string{"c", "b", "a"}, rec.got())
	assert.Equal(t, StateFailed, svc.State())
}

func TestService_Stop_NoOp(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	svc := mustBuild(t, NewBuilder("resource-service", "1.0.0").
		WithOnStop("http", rec.hook("http", nil)))

	require.NoError(t, svc.Stop(context.Background()), "stop before start")
	assert.Equal(t, StateUnknown, svc.State())

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, svc.Stop(context.Background()), "second stop")
	assert.Equal(t, []string{"http"}, rec.got())
}

func TestService_Stop_AfterFailedStartReleasesOnce(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	svc := mustBuild(t, NewBuilder("resource-service", "1.0.0").
		WithOnStart("keys", rec.hook("start:keys", nil)).
		WithOnStart("http", rec.hook("start:http", errors.New("bind failed"))).
		WithOnStop("keys", rec.hook("stop:keys", nil)))

	require.Error(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))

	assert.Equal(t, []string{"start:keys", "start:http", "stop:keys"}, rec.got())
	assert.Equal(t, StateFailed, svc.State())

	// A failed service can be started again.
	require.Error(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, []string{
		"start:keys", "start:http", "stop:keys",
		"start:keys", "start:http", "stop:keys",
	}, rec.got())
}

func TestService_Stop_ContextCanceled(t *testing.T) {
	t.Parallel()
	svc := mustStart(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Stop(ctx)
	testutil.RequireErrorCode(t, err, sserr.CodeTimeout)
	assert.Equal(t, StateRunning, svc.State())
}

// ===========================================================================
// Health and Info
// ===========================================================================

func TestService_Health(t *testing.T) {
	t.Parallel()
	keysErr := errors.New("jwks unreachable")
	var fail bool
	svc := mustBuild(t, NewBuilder("resource-service", "1.0.0").
		WithHealthCheck("keys", func(context.Context) error {
			if fail {
				return keysErr
			}
			return nil
		}))

	testutil.RequireErrorCode(t, svc.Health(context.Background()), sserr.CodeUnavailable)

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Health(context.Background()))

	fail = true
	err := svc.Health(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailableDependency)
	assert.ErrorIs(t, err, keysErr)
	assert.Contains(t, err.Error(), `"keys"`)
}

func TestService_Info_JSON(t *testing.T) {
	t.Parallel()
	svc := mustStart(t)

	data, err := json.Marshal(svc.Info())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "svc-001", decoded["id"])
	assert.Equal(t, "resource-service", decoded["name"])
	assert.Equal(t, "running", decoded["state"])
	assert.Contains(t, decoded, "started_at")
}

// ===========================================================================
// Telemetry
// ===========================================================================

func TestService_Spans(t *testing.T) {
	t.Parallel()
	tp, exporter := testutil.NewTracerProvider(t)
	svc := mustBuild(t, NewBuilder("resource-service", "1.0.0").WithTracerProvider(tp))

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))

	assert.Equal(t, []string{"lifecycle.Start", "lifecycle.Stop"}, testutil.SpanNames(exporter))
}
