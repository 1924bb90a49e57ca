package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/https756/spring-client-credentials-flow/internal/httpx"
	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
	"github.com/https756/spring-client-credentials-flow/pkg/models"
)

// maxResponseSize bounds resource service response bodies.
const maxResponseSize = 1 << 20

// OrdersClient is the typed client of the resource service orders API.
// The http.Client is expected to attach bearer tokens, normally
// [token.Dispatcher.Client].
type OrdersClient struct {
	base *url.URL
	http *http.Client
}

// NewOrdersClient creates a client for the service at baseURL.
func NewOrdersClient(baseURL string, httpClient *http.Client) (*OrdersClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return nil, sserr.Newf(sserr.CodeValidationFormat, "client: resource URL %q is not an absolute URL", baseURL)
	}
	if httpClient == nil {
		return nil, sserr.New(sserr.CodeValidation, "client: orders client needs an http client")
	}
	return &OrdersClient{base: u, http: httpClient}, nil
}

// List returns every order.
func (c *OrdersClient) List(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	if err := c.get(ctx, "orders", &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Get returns the order with id. An unknown id is an NF_001 error.
func (c *OrdersClient) Get(ctx context.Context, id int) (models.Order, error) {
	var order models.Order
	if err := c.get(ctx, "orders/"+strconv.Itoa(id), &order); err != nil {
		return models.Order{}, err
	}
	return order, nil
}

// get performs one GET and maps the outcome:
//
//	200          decoded into out
//	400, 404     VAL_001, NF_001 with the upstream message
//	401, 403     UPSTREAM_001 carrying the upstream code
//	other        UNAVAIL_002
//
// Token acquisition failures surface with their own ACQ_001 code.
func (c *OrdersClient) get(ctx context.Context, path string, out any) error {
	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "client: build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if e, ok := sserr.AsError(err); ok {
			return e
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return sserr.Wrap(err, sserr.CodeTimeout, "client: resource call timed out")
		}
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "client: resource service unreachable")
	}
	defer resp.Body.Close()
	body := io.LimitReader(resp.Body, maxResponseSize)

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(body).Decode(out); err != nil {
			return sserr.Wrap(err, sserr.CodeUnavailableDependency, "client: resource service sent an unreadable body")
		}
		return nil
	}

	upstream := readErrorBody(body)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return sserr.New(sserr.CodeNotFound, messageOr(upstream, "order not found"))
	case http.StatusBadRequest:
		return sserr.New(sserr.CodeValidation, messageOr(upstream, "invalid request"))
	case http.StatusUnauthorized, http.StatusForbidden:
		return sserr.Newf(sserr.CodeUpstreamRejected,
			"client: resource service rejected the call (%s)", codeOr(upstream, strconv.Itoa(resp.StatusCode))).
			WithDetail("upstream_status", resp.StatusCode).
			WithDetail("upstream_code", upstream.Code)
	default:
		return sserr.Newf(sserr.CodeUnavailableDependency,
			"client: resource service answered %d", resp.StatusCode).
			WithDetail("upstream_status", resp.StatusCode)
	}
}

func readErrorBody(r io.Reader) httpx.ErrorBody {
	var b httpx.ErrorBody
	_ = json.NewDecoder(r).Decode(&b)
	return b
}

func messageOr(b httpx.ErrorBody, fallback string) string {
	if b.Message != "" {
		return b.Message
	}
	return fallback
}

func codeOr(b httpx.ErrorBody, fallback string) string {
	if b.Code != "" {
		return b.Code
	}
	return fallback
}
