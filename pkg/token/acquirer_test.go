package token

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/https756/spring-client-credentials-flow/internal/testutil"
	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

func issuerIdentity(iss *testutil.Issuer) ClientIdentity {
	iss.RegisterClient("client-service", "s3cr3t", "get-access")
	return ClientIdentity{
		ClientID:      "client-service",
		ClientSecret:  "s3cr3t",
		TokenEndpoint: iss.TokenEndpoint(),
	}
}

func TestAcquire_Success(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	id := issuerIdentity(iss)
	a := NewAcquirer(AcquirerConfig{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	tok, err := a.Acquire(context.Background(), id)
	require.NoError(t, err)

	assert.NotEmpty(t, tok.Value.Value())
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, now, tok.IssuedAt)
	assert.Equal(t, now.Add(time.Hour), tok.ExpiresAt)
	assert.Equal(t, []string{"get-access"}, tok.Scopes)
	assert.Equal(t, int64(1), iss.TokenRequests())
}

func TestAcquire_SendsCredentialsInForm(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		form url.Values
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		form, auth = r.PostForm, r.Header.Get("Authorization")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"bearer","expires_in":300}`))
	}))
	t.Cleanup(srv.Close)

	id := ClientIdentity{
		ClientID:      "client-service",
		ClientSecret:  "s3cr3t",
		TokenEndpoint: srv.URL + "/token",
		Scopes:        []string{"get-access", "read"},
	}
	tok, err := NewAcquirer(AcquirerConfig{}).Acquire(context.Background(), id)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "client_credentials", form.Get("grant_type"))
	assert.Equal(t, "client-service", form.Get("client_id"))
	assert.Equal(t, "s3cr3t", form.Get("client_secret"))
	assert.Equal(t, "get-access read", form.Get("scope"))
	assert.Empty(t, auth, "credentials travel in the form body, not basic auth")

	assert.Equal(t, Secret("abc"), tok.Value)
	assert.Equal(t, []string{"get-access", "read"}, tok.Scopes, "requested scopes apply when the response has none")
}

func TestAcquire_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		setup  func(iss *testutil.Issuer, id *ClientIdentity)
		status int
	}{
		{
			name:   "wrong secret",
			setup:  func(_ *testutil.Issuer, id *ClientIdentity) { id.ClientSecret = "nope" },
			status: http.StatusUnauthorized,
		},
		{
			name:  "missing expires_in",
			setup: func(iss *testutil.Issuer, _ *ClientIdentity) { iss.OmitExpiresIn(true) },
		},
		{
			name:  "non-bearer token type",
			setup: func(iss *testutil.Issuer, _ *ClientIdentity) { iss.SetTokenType("mac") },
		},
		{
			name:   "persistent server error",
			setup:  func(iss *testutil.Issuer, _ *ClientIdentity) { iss.FailToken(5, http.StatusServiceUnavailable) },
			status: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			iss := testutil.NewIssuer(t)
			id := issuerIdentity(iss)
			tt.setup(iss, &id)

			tok, err := NewAcquirer(AcquirerConfig{}).Acquire(context.Background(), id)
			testutil.RequireErrorCode(t, err, sserr.CodeAcquisitionFailed)
			assert.Nil(t, tok)
			assert.NotContains(t, err.Error(), "s3cr3t")
			if tt.status != 0 {
				assert.Equal(t, tt.status, sserr.FromError(err).Details["status"])
			}
		})
	}
}

func TestAcquire_RetriesServerErrorOnce(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	id := issuerIdentity(iss)
	iss.FailToken(1, http.StatusBadGateway)

	tok, err := NewAcquirer(AcquirerConfig{}).Acquire(context.Background(), id)
	require.NoError(t, err)
	assert.NotNil(t, tok)
	assert.Equal(t, int64(2), iss.TokenRequests())
}

func TestAcquire_GivesUpAfterOneRetry(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	id := issuerIdentity(iss)
	iss.FailToken(2, http.StatusInternalServerError)

	_, err := NewAcquirer(AcquirerConfig{}).Acquire(context.Background(), id)
	testutil.RequireErrorCode(t, err, sserr.CodeAcquisitionFailed)
	assert.Equal(t, int64(2), iss.TokenRequests())
}

func TestAcquire_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	id := issuerIdentity(iss)
	id.ClientSecret = "wrong"

	_, err := NewAcquirer(AcquirerConfig{}).Acquire(context.Background(), id)
	testutil.RequireErrorCode(t, err, sserr.CodeAcquisitionFailed)
	assert.Equal(t, int64(1), iss.TokenRequests())
}

func TestAcquire_NetworkErrorRetriedOnce(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL + "/token"
	srv.Close()

	id := ClientIdentity{ClientID: "c", ClientSecret: "s", TokenEndpoint: endpoint}
	_, err := NewAcquirer(AcquirerConfig{}).Acquire(context.Background(), id)
	testutil.RequireErrorCode(t, err, sserr.CodeAcquisitionFailed)
}

func TestAcquire_InvalidIdentity(t *testing.T) {
	t.Parallel()
	a := NewAcquirer(AcquirerConfig{})

	_, err := a.Acquire(context.Background(), ClientIdentity{ClientSecret: "s", TokenEndpoint: "http://x/token"})
	testutil.RequireErrorCode(t, err, sserr.CodeValidationRequired)

	_, err = a.Acquire(context.Background(), ClientIdentity{ClientID: "c", ClientSecret: "s", TokenEndpoint: "/token"})
	testutil.RequireErrorCode(t, err, sserr.CodeValidationFormat)
}

func TestAcquire_Telemetry(t *testing.T) {
	t.Parallel()
	tp, exporter := testutil.NewTracerProvider(t)
	mp, reader := testutil.NewMeterProvider(t)
	iss := testutil.NewIssuer(t)
	id := issuerIdentity(iss)

	a := NewAcquirer(AcquirerConfig{TracerProvider: tp, MeterProvider: mp})
	_, err := a.Acquire(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, []string{"token.Acquire"}, testutil.SpanNames(exporter))
	assert.Equal(t, int64(1), testutil.CounterValue(t, reader, "token.acquisitions"))
}

func TestCacheWithIssuer_ConcurrentColdCallsShareOneRequest(t *testing.T) {
	t.Parallel()
	iss := testutil.NewIssuer(t)
	id := issuerIdentity(iss)
	c, err := NewCache(NewAcquirer(AcquirerConfig{}), CacheConfig{})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	release := iss.Hold()
	var wg sync.WaitGroup
	values := make([]string, 16)
	for i := range values {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.GetToken(context.Background(), id)
			if err == nil {
				values[i] = tok.Value.Value()
			}
		}()
	}
	require.Eventually(t, func() bool { return iss.TokenRequests() == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	assert.Equal(t, int64(1), iss.TokenRequests())
	for _, v := range values {
		assert.Equal(t, values[0], v)
		assert.True(t, strings.Count(v, ".") == 2, "a JWT")
	}
}
