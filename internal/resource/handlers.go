package resource

import (
	"context"
	"net/http"
	"time"

	"github.com/https756/spring-client-credentials-flow/internal/httpx"
	"github.com/https756/spring-client-credentials-flow/internal/logging"
	"github.com/https756/spring-client-credentials-flow/pkg/auth"
	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
	"github.com/https756/spring-client-credentials-flow/pkg/models"
)

const readHeaderTimeout = 5 * time.Second

// healthBody mirrors the actuator health shape.
type healthBody struct {
	Status string `json:"status"`
}

type handlers struct {
	catalog *models.Catalog
	health  func(context.Context) error
}

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	logAccess(r, "list")
	httpx.WriteJSON(w, http.StatusOK, h.catalog.All())
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := models.ParseOrderID(raw)
	if err != nil {
		httpx.WriteError(w, sserr.Validationf("order id %q must be a positive integer", raw))
		return
	}
	order, ok := h.catalog.Lookup(id)
	if !ok {
		httpx.WriteError(w, sserr.NotFoundf("order %d not found", id))
		return
	}
	logAccess(r, "get", "order_id", id)
	httpx.WriteJSON(w, http.StatusOK, order)
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.health(r.Context()); err != nil {
		logging.FromContext(r.Context()).WarnContext(r.Context(), "resource: health check failed", "error", err)
		httpx.WriteJSON(w, http.StatusServiceUnavailable, healthBody{Status: "DOWN"})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, healthBody{Status: "UP"})
}

func logAccess(r *http.Request, op string, args ...any) {
	ctx := r.Context()
	if claims, ok := auth.ClaimsFromContext(ctx); ok {
		args = append(args, "subject", claims.Subject)
	}
	logging.FromContext(ctx).DebugContext(ctx, "resource: orders "+op, args...)
}
