package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/https756/spring-client-credentials-flow/internal/httpx"
	"github.com/https756/spring-client-credentials-flow/internal/testutil"
	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
	"github.com/https756/spring-client-credentials-flow/pkg/models"
)

func stubResource(t *testing.T, h http.HandlerFunc) *OrdersClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewOrdersClient(srv.URL, srv.Client())
	require.NoError(t, err)
	return c
}

func TestNewOrdersClient_Invalid(t *testing.T) {
	t.Parallel()
	_, err := NewOrdersClient("orders", http.DefaultClient)
	testutil.RequireErrorCode(t, err, sserr.CodeValidationFormat)
	_, err = NewOrdersClient("http://localhost:8081", nil)
	testutil.RequireErrorCode(t, err, sserr.CodeValidation)
}

func TestOrdersClient_List(t *testing.T) {
	t.Parallel()
	c := stubResource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		httpx.WriteJSON(w, http.StatusOK, models.DefaultCatalog().All())
	})

	orders, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.DefaultCatalog().All(), orders)
}

func TestOrdersClient_Get(t *testing.T) {
	t.Parallel()
	c := stubResource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/3", r.URL.Path)
		httpx.WriteJSON(w, http.StatusOK, models.Order{ID: 3, Name: "Lenovo ThinkPad X1-Carbon", Price: 2000})
	})

	order, err := c.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, order.ID)
	assert.Equal(t, 2000, order.Price)
}

func TestOrdersClient_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    any
		code    sserr.Code
		message string
	}{
		{"not found", http.StatusNotFound, httpx.ErrorBody{Code: "NF_001", Message: "order 9 not found"}, sserr.CodeNotFound, "order 9 not found"},
		{"not found without body", http.StatusNotFound, nil, sserr.CodeNotFound, "order not found"},
		{"bad request", http.StatusBadRequest, httpx.ErrorBody{Code: "VAL_001", Message: "bad id"}, sserr.CodeValidation, "bad id"},
		{"unauthorized", http.StatusUnauthorized, httpx.ErrorBody{Code: "AUTH_003"}, sserr.CodeUpstreamRejected, "(AUTH_003)"},
		{"forbidden", http.StatusForbidden, httpx.ErrorBody{Code: "AUTHZ_001"}, sserr.CodeUpstreamRejected, "(AUTHZ_001)"},
		{"forbidden without body", http.StatusForbidden, nil, sserr.CodeUpstreamRejected, "(403)"},
		{"server error", http.StatusInternalServerError, nil, sserr.CodeUnavailableDependency, "answered 500"},
		{"rate limited", http.StatusTooManyRequests, nil, sserr.CodeUnavailableDependency, "answered 429"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := stubResource(t, func(w http.ResponseWriter, _ *http.Request) {
				if tt.body == nil {
					w.WriteHeader(tt.status)
					return
				}
				httpx.WriteJSON(w, tt.status, tt.body)
			})

			_, err := c.Get(context.Background(), 9)
			testutil.RequireErrorCode(t, err, tt.code)
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestOrdersClient_UpstreamDetails(t *testing.T) {
	t.Parallel()
	c := stubResource(t, func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusForbidden, httpx.ErrorBody{Code: "AUTHZ_001", Message: "access denied"})
	})

	_, err := c.List(context.Background())
	e, ok := sserr.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, e.Details["upstream_status"])
	assert.Equal(t, "AUTHZ_001", e.Details["upstream_code"])
}

func TestOrdersClient_UnreadableBody(t *testing.T) {
	t.Parallel()
	c := stubResource(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{not json"))
	})

	_, err := c.List(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailableDependency)
}

func TestOrdersClient_Deadline(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	c := stubResource(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(block) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.List(ctx)
	testutil.RequireErrorCode(t, err, sserr.CodeTimeout)
}

func TestOrdersClient_CarriesTransportErrors(t *testing.T) {
	t.Parallel()
	acq := sserr.New(sserr.CodeAcquisitionFailed, "token: issuer unreachable")
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, acq
	})}
	c, err := NewOrdersClient("http://resource.local", hc)
	require.NoError(t, err)

	_, err = c.List(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeAcquisitionFailed)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
