package resource

import (
	"net/url"
	"time"

	"github.com/https756/spring-client-credentials-flow/internal/httpx"
	"github.com/https756/spring-client-credentials-flow/internal/logging"
	"github.com/https756/spring-client-credentials-flow/internal/telemetry"
	"github.com/https756/spring-client-credentials-flow/pkg/auth"
	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// EnvPrefix is the environment prefix of the resource service.
const EnvPrefix = "RESOURCE"

// Route patterns registered on the service mux.
const (
	RouteListOrders = "GET /orders"
	RouteGetOrder   = "GET /orders/{id}"
	RouteHealth     = "GET /healthz"
)

// MethodHealthCheck is the guarded gRPC health method.
const MethodHealthCheck = "/grpc.health.v1.Health/Check"

// OrdersAuthority is the authority both order routes require.
const OrdersAuthority = "get-access"

// DefaultRoutes is the HTTP authority table used when none is configured.
func DefaultRoutes() auth.RouteTable {
	return auth.RouteTable{
		RouteListOrders: OrdersAuthority,
		RouteGetOrder:   OrdersAuthority,
		RouteHealth:     auth.PublicAuthority,
	}
}

// DefaultMethods is the gRPC authority table used when none is configured.
func DefaultMethods() auth.RouteTable {
	return auth.RouteTable{MethodHealthCheck: OrdersAuthority}
}

// Config is the resource service configuration, loaded with the RESOURCE_
// prefix:
//
//	RESOURCE_ADDR=:8081
//	RESOURCE_AUTH_ISSUER=http://keycloak:8080/realms/demo
//	RESOURCE_AUTH_ROUTES=GET /orders=get-access,GET /orders/{id}=get-access,GET /healthz=-
type Config struct {
	Addr            string        `env:"ADDR" envDefault:":8081" yaml:"addr" json:"addr"`
	GRPCAddr        string        `env:"GRPC_ADDR" envDefault:":9091" yaml:"grpc_addr" json:"grpc_addr"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	Auth      AuthConfig            `env:"AUTH" yaml:"auth" json:"auth"`
	RateLimit httpx.RateLimitConfig `env:"RATE_LIMIT" yaml:"rate_limit" json:"rate_limit"`
	Log       logging.Config        `env:"LOG" yaml:"log" json:"log"`
	Telemetry telemetry.Config      `env:"TELEMETRY" yaml:"telemetry" json:"telemetry"`
}

// AuthConfig configures token verification and the authority tables.
type AuthConfig struct {
	// Issuer is the only accepted token issuer.
	Issuer string `env:"ISSUER" yaml:"issuer" json:"issuer" required:"true"`

	// JWKSURL skips discovery and fetches the issuer's keys from here.
	JWKSURL string `env:"JWKS_URL" yaml:"jwks_url" json:"jwks_url"`

	// Routes and Methods replace the default tables when set.
	Routes  map[string]string `env:"ROUTES" yaml:"routes" json:"routes"`
	Methods map[string]string `env:"GRPC_METHODS" yaml:"grpc_methods" json:"grpc_methods"`

	Keys     auth.ResolverConfig `yaml:"keys" json:"keys"`
	Verifier auth.VerifierConfig `yaml:"verifier" json:"verifier"`
}

// RouteTable returns the configured HTTP table or [DefaultRoutes].
func (c *AuthConfig) RouteTable() auth.RouteTable {
	if len(c.Routes) == 0 {
		return DefaultRoutes()
	}
	return auth.RouteTable(c.Routes)
}

// MethodTable returns the configured gRPC table or [DefaultMethods].
func (c *AuthConfig) MethodTable() auth.RouteTable {
	if len(c.Methods) == 0 {
		return DefaultMethods()
	}
	return auth.RouteTable(c.Methods)
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return sserr.New(sserr.CodeValidationRequired, "resource: listen address must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return sserr.Newf(sserr.CodeValidation, "resource: shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	}
	if err := validateURL("issuer", c.Auth.Issuer); err != nil {
		return err
	}
	if c.Auth.JWKSURL != "" {
		if err := validateURL("JWKS URL", c.Auth.JWKSURL); err != nil {
			return err
		}
	}
	if err := c.Auth.RouteTable().Validate(); err != nil {
		return err
	}
	if err := c.Auth.MethodTable().Validate(); err != nil {
		return err
	}
	if err := c.Auth.Keys.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Verifier.Validate(); err != nil {
		return err
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return sserr.New(sserr.CodeValidation, "resource: rate limit must not be negative")
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	return c.Telemetry.Validate()
}

func validateURL(what, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return sserr.Newf(sserr.CodeValidationFormat, "resource: %s %q is not an absolute URL", what, raw)
	}
	return nil
}
