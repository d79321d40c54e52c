/**
 * @description
 * HTTP handlers for the admin dashboard: password login, the order listing
 * with aggregate metrics, and order updates.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rbxrewards/funnel-service/internal/app"
	"github.com/rbxrewards/funnel-service/internal/domain"
	"github.com/rbxrewards/funnel-service/internal/store"
)

// AdminLoginHandler exchanges the dashboard password for a session token.
func (h *FunnelHandlers) AdminLoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.auth.Login(req.Password)
	if err != nil {
		log.Printf("level=warn component=api endpoint=admin_login outcome=reject reason=bad_password")
		h.writeError(w, http.StatusUnauthorized, "Invalid password")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// AdminListOrdersHandler returns all orders with the dashboard aggregates.
func (h *FunnelHandlers) AdminListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, metrics, err := h.service.ListOrdersWithMetrics(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_list_orders outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders":  orders,
		"metrics": metrics,
	})
}

// AdminUpdateOrderHandler applies a status or email change to an order.
func (h *FunnelHandlers) AdminUpdateOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order ID format")
		return
	}

	var req domain.UpdateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.service.UpdateOrder(r.Context(), orderID, req)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "Order not found")
		case errors.Is(err, app.ErrUnknownOrderStatus),
			errors.Is(err, app.ErrNoUpdatableFieldsPresent):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrInvalidStatusTransition):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			log.Printf("level=error component=api endpoint=admin_update_order outcome=failed order_id=%s err=%v", orderID, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}
