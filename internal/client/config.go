package client

import (
	"net/url"
	"time"

	"github.com/https756/spring-client-credentials-flow/internal/logging"
	"github.com/https756/spring-client-credentials-flow/internal/telemetry"
	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
	"github.com/https756/spring-client-credentials-flow/pkg/token"
)

// EnvPrefix is the environment prefix of the client service.
const EnvPrefix = "CLIENT"

// DefaultResourceURL is where the resource service runs in the compose
// network.
const DefaultResourceURL = "http://ms-resource-service:8081"

// Config is the client service configuration, loaded with the CLIENT_
// prefix. The registration itself is CLIENT_ID, CLIENT_SECRET,
// CLIENT_TOKEN_ENDPOINT and CLIENT_SCOPES.
type Config struct {
	Addr            string        `env:"ADDR" envDefault:":8080" yaml:"addr" json:"addr"`
	ResourceURL     string        `env:"RESOURCE_URL" envDefault:"http://ms-resource-service:8081" yaml:"resource_url" json:"resource_url"`
	CallTimeout     time.Duration `env:"CALL_TIMEOUT" envDefault:"15s" yaml:"call_timeout" json:"call_timeout"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// ResourceGRPCAddr enables the startup probe of the resource gRPC
	// health endpoint.
	ResourceGRPCAddr string `env:"RESOURCE_GRPC_ADDR" yaml:"resource_grpc_addr" json:"resource_grpc_addr"`

	Identity  token.ClientIdentity `yaml:"identity" json:"identity"`
	Token     token.CacheConfig    `env:"TOKEN" yaml:"token" json:"token"`
	Log       logging.Config       `env:"LOG" yaml:"log" json:"log"`
	Telemetry telemetry.Config     `env:"TELEMETRY" yaml:"telemetry" json:"telemetry"`
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return sserr.New(sserr.CodeValidationRequired, "client: listen address must not be empty")
	}
	u, err := url.Parse(c.ResourceURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return sserr.Newf(sserr.CodeValidationFormat, "client: resource URL %q is not an absolute URL", c.ResourceURL)
	}
	if c.CallTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return sserr.New(sserr.CodeValidation, "client: call and shutdown timeouts must be positive")
	}
	if err := c.Identity.Validate(); err != nil {
		return err
	}
	if err := c.Token.Validate(); err != nil {
		return err
	}
	return c.Telemetry.Validate()
}
