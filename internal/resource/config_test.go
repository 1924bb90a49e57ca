package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/https756/spring-client-credentials-flow/internal/testutil"
	"github.com/https756/spring-client-credentials-flow/pkg/auth"
	"github.com/https756/spring-client-credentials-flow/pkg/config"
	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

func lookup(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func load(t *testing.T, env map[string]string) (Config, error) {
	t.Helper()
	var cfg Config
	err := config.New().WithEnvPrefix(EnvPrefix).WithLookup(lookup(env)).Load(&cfg)
	return cfg, err
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := load(t, map[string]string{"RESOURCE_AUTH_ISSUER": "http://keycloak:8080/realms/demo"})
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Addr)
	assert.Equal(t, ":9091", cfg.GRPCAddr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Auth.Keys.TTL)
	assert.Equal(t, 10*time.Second, cfg.Auth.Keys.FetchTimeout)
	assert.Zero(t, cfg.Auth.Verifier.ClockSkew)
	assert.Equal(t, DefaultRoutes(), cfg.Auth.RouteTable())
	assert.Equal(t, DefaultMethods(), cfg.Auth.MethodTable())
	assert.Equal(t, 50.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "none", cfg.Telemetry.Exporter)
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Parallel()
	cfg, err := load(t, map[string]string{
		"RESOURCE_ADDR":               ":9000",
		"RESOURCE_AUTH_ISSUER":        "http://keycloak:8080/realms/demo",
		"RESOURCE_AUTH_JWKS_URL":      "http://keycloak:8080/realms/demo/protocol/openid-connect/certs",
		"RESOURCE_AUTH_AUDIENCE":      "orders-api",
		"RESOURCE_AUTH_KEY_TTL":       "1m",
		"RESOURCE_AUTH_ROUTES":        "GET /orders=list, GET /orders/{id}=get-access",
		"RESOURCE_RATE_LIMIT_RPS":     "2.5",
		"RESOURCE_LOG_LEVEL":          "debug",
		"RESOURCE_TELEMETRY_EXPORTER": "stdout",
	})
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, "orders-api", cfg.Auth.Verifier.Audience)
	assert.Equal(t, time.Minute, cfg.Auth.Keys.TTL)
	assert.Equal(t, auth.RouteTable{"GET /orders": "list", "GET /orders/{id}": "get-access"}, cfg.Auth.RouteTable())
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "stdout", cfg.Telemetry.Exporter)
}

func TestConfig_YAMLFile(t *testing.T) {
	t.Parallel()
	path := testutil.TempConfigFile(t, `
addr: ":7000"
auth:
  issuer: http://keycloak:8080/realms/demo
  routes:
    "GET /orders": get-access
    "GET /healthz": "-"
  keys:
    ttl: 2m
`, ".yaml")

	var cfg Config
	require.NoError(t, config.New().WithEnvPrefix(EnvPrefix).WithFile(path).WithLookup(lookup(nil)).Load(&cfg))
	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Auth.Keys.TTL)
	assert.Equal(t, auth.RouteTable{"GET /orders": "get-access", "GET /healthz": "-"}, cfg.Auth.RouteTable())
}

func TestConfig_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		env  map[string]string
		code sserr.Code
	}{
		{"missing issuer", map[string]string{}, sserr.CodeValidationRequired},
		{"relative issuer", map[string]string{"RESOURCE_AUTH_ISSUER": "/realms/demo"}, sserr.CodeValidationFormat},
		{"bad jwks url", map[string]string{
			"RESOURCE_AUTH_ISSUER":   "http://issuer",
			"RESOURCE_AUTH_JWKS_URL": "certs",
		}, sserr.CodeValidationFormat},
		{"route without authority", map[string]string{
			"RESOURCE_AUTH_ISSUER": "http://issuer",
			"RESOURCE_AUTH_ROUTES": "GET /orders=",
		}, sserr.CodeValidation},
		{"negative skew", map[string]string{
			"RESOURCE_AUTH_ISSUER":     "http://issuer",
			"RESOURCE_AUTH_CLOCK_SKEW": "-1s",
		}, sserr.CodeValidation},
		{"bad trusted proxy", map[string]string{
			"RESOURCE_AUTH_ISSUER":                "http://issuer",
			"RESOURCE_RATE_LIMIT_TRUSTED_PROXIES": "10.0.0.0/8,gateway",
		}, sserr.CodeValidation},
		{"unknown exporter", map[string]string{
			"RESOURCE_AUTH_ISSUER":        "http://issuer",
			"RESOURCE_TELEMETRY_EXPORTER": "jaeger",
		}, sserr.CodeValidationFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := load(t, tc.env)
			testutil.RequireErrorCode(t, err, tc.code)
		})
	}
}
