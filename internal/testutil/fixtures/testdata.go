// Package fixtures provides shared test data for the client and resource
// service tests.
package fixtures

// Client registration values.
const (
	// ClientID is the registration used by the client service.
	ClientID = "client-service"

	// ClientSecret is the secret registered for ClientID.
	ClientSecret = "client-service-secret"
)

// Authority values.
const (
	// Authority is the authority the order routes require.
	Authority = "get-access"

	// OtherAuthority is an authority no route requires.
	OtherAuthority = "read"
)
