package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/https756/spring-client-credentials-flow/internal/testutil"
	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"none", Config{Exporter: "none", SampleRatio: 1}, false},
		{"stdout upper case", Config{Exporter: "STDOUT", SampleRatio: 0.5}, false},
		{"empty", Config{}, false},
		{"otlp", Config{Exporter: "otlp"}, true},
		{"ratio too large", Config{Exporter: "none", SampleRatio: 2}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr {
				testutil.RequireErrorCode(t, err, sserr.CodeValidationFormat)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestSetup_Stdout(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p, err := Setup(context.Background(), Config{Exporter: "stdout", SampleRatio: 1},
		"client-service", "1.0.0", &buf)
	require.NoError(t, err)

	_, span := p.TracerProvider.Tracer("test").Start(context.Background(), "token.Acquire")
	span.End()
	c, err := p.MeterProvider.Meter("test").Int64Counter("token.acquisitions")
	require.NoError(t, err)
	c.Add(context.Background(), 1)

	require.NoError(t, p.Shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, "token.Acquire")
	assert.Contains(t, out, "token.acquisitions")
	assert.Contains(t, out, "client-service")
}

func TestSetup_None(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p, err := Setup(context.Background(), Config{Exporter: "none", SampleRatio: 1},
		"resource-service", "1.0.0", &buf)
	require.NoError(t, err)

	_, span := p.TracerProvider.Tracer("test").Start(context.Background(), "auth.Check")
	assert.True(t, span.SpanContext().IsValid(), "spans must carry ids without an exporter")
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Empty(t, buf.String())
}

func TestSetup_InvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := Setup(context.Background(), Config{Exporter: "zipkin"}, "svc", "v", nil)
	testutil.RequireErrorCode(t, err, sserr.CodeValidationFormat)
}
