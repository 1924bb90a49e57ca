package client

import (
	"context"
	"net/http"

	"github.com/https756/spring-client-credentials-flow/internal/httpx"
	"github.com/https756/spring-client-credentials-flow/internal/logging"
	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
	"github.com/https756/spring-client-credentials-flow/pkg/models"
)

type healthBody struct {
	Status string `json:"status"`
}

type handlers struct {
	orders *OrdersClient
	health func(context.Context) error
}

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, models.NewVerified(orders))
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := models.ParseOrderID(raw)
	if err != nil {
		httpx.WriteError(w, sserr.Validationf("order id %q must be a positive integer", raw))
		return
	}
	order, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, models.NewVerified(order))
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.health(r.Context()); err != nil {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, healthBody{Status: "DOWN"})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, healthBody{Status: "UP"})
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if !sserr.IsNotFound(err) {
		logging.FromContext(ctx).WarnContext(ctx, "client: resource call failed",
			"code", sserr.GetCode(err),
			"error", err,
		)
	}
	httpx.WriteError(w, err)
}
