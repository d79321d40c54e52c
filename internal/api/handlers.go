/**
 * @description
 * This file contains the HTTP handlers for the funnel-service's public API.
 * Handlers parse incoming requests, call the session registry and application
 * services, and translate domain errors into HTTP status codes. They act as
 * the bridge between the web layer and the funnel logic.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/funnel, internal/session,
 *   internal/store: funnel logic, models, and custom errors.
 * - pkg/pixgateway, pkg/userlookup: upstream error types.
 * - pkg/rabbitmq: the webhook event publisher.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rbxrewards/funnel-service/internal/app"
	"github.com/rbxrewards/funnel-service/internal/domain"
	"github.com/rbxrewards/funnel-service/internal/funnel"
	"github.com/rbxrewards/funnel-service/internal/session"
	"github.com/rbxrewards/funnel-service/internal/store"
	"github.com/rbxrewards/funnel-service/pkg/pixgateway"
	"github.com/rbxrewards/funnel-service/pkg/rabbitmq"
	"github.com/rbxrewards/funnel-service/pkg/userlookup"
)

const maxWebhookBodyBytes = 1 << 20

// FunnelHandlers holds the collaborators the handlers use.
type FunnelHandlers struct {
	registry *session.Registry
	service  *app.Service
	lookup   funnel.Lookup
	pricer   *app.Pricer
	auth     *AdminAuthenticator
	producer rabbitmq.Publisher
}

// NewFunnelHandlers creates a new instance of FunnelHandlers.
func NewFunnelHandlers(registry *session.Registry, service *app.Service, lookup funnel.Lookup, pricer *app.Pricer, auth *AdminAuthenticator, producer rabbitmq.Publisher) *FunnelHandlers {
	if producer == nil {
		producer = rabbitmq.NopPublisher{}
	}
	return &FunnelHandlers{
		registry: registry,
		service:  service,
		lookup:   lookup,
		pricer:   pricer,
		auth:     auth,
		producer: producer,
	}
}

// sessionResponse is the combined view of one funnel session a polling
// client renders from.
type sessionResponse struct {
	SessionID      string           `json:"session_id"`
	Funnel         funnel.Snapshot  `json:"funnel"`
	Payment        session.Snapshot `json:"payment"`
	AmountCentavos int64            `json:"amount_centavos"`
	TotalRobux     int              `json:"total_robux"`
}

func (h *FunnelHandlers) buildSessionResponse(entry *session.Entry) sessionResponse {
	funnelSnap := entry.Funnel.Snapshot()
	resp := sessionResponse{
		SessionID:      entry.ID,
		Funnel:         funnelSnap,
		Payment:        entry.Controller.Snapshot(),
		AmountCentavos: h.pricer.TotalPayable(domain.SelectionFromIDs(funnelSnap.SelectedAddOns)),
	}
	if funnelSnap.Package != nil {
		resp.TotalRobux = h.pricer.TotalRobux(*funnelSnap.Package, domain.SelectionFromIDs(funnelSnap.SelectedAddOns))
	}
	return resp
}

// getSession resolves the session from the URL, writing a 404 on a miss.
func (h *FunnelHandlers) getSession(w http.ResponseWriter, r *http.Request) (*session.Entry, bool) {
	id := chi.URLParam(r, "sessionID")
	entry, ok := h.registry.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, "Session not found or expired")
		return nil, false
	}
	return entry, true
}

// CreateSessionHandler starts a new funnel session.
func (h *FunnelHandlers) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	entry := h.registry.Create()
	h.writeJSON(w, http.StatusCreated, h.buildSessionResponse(entry))
}

// GetSessionHandler returns the current state of a session.
func (h *FunnelHandlers) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSession(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.buildSessionResponse(entry))
}

// VerifyUsernameHandler runs the username verification step.
func (h *FunnelHandlers) VerifyUsernameHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSession(w, r)
	if !ok {
		return
	}

	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	profile, err := entry.Funnel.Verify(r.Context(), req.Username)
	if err != nil {
		switch {
		case errors.Is(err, funnel.ErrUsernameRequired), errors.Is(err, userlookup.ErrUsernameRequired):
			h.writeError(w, http.StatusBadRequest, "Username is required")
		case errors.Is(err, funnel.ErrInvalidStage):
			h.writeError(w, http.StatusConflict, "Verification is not available at this step")
		case errors.Is(err, userlookup.ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, "Roblox user not found")
		default:
			var upstream *userlookup.UpstreamError
			if errors.As(err, &upstream) {
				h.writeError(w, http.StatusBadGateway, "Roblox lookup is temporarily unavailable")
				return
			}
			log.Printf("level=error component=api endpoint=verify outcome=failed session_id=%s err=%v", entry.ID, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"profile": profile,
		"session": h.buildSessionResponse(entry),
	})
}

// ContinueHandler confirms the resolved profile.
func (h *FunnelHandlers) ContinueHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSession(w, r)
	if !ok {
		return
	}
	if err := entry.Funnel.Continue(); err != nil {
		h.writeError(w, http.StatusConflict, "Cannot continue from the current step")
		return
	}
	h.writeJSON(w, http.StatusOK, h.buildSessionResponse(entry))
}

// SelectPackageHandler picks a package and starts the timed sequences.
func (h *FunnelHandlers) SelectPackageHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSession(w, r)
	if !ok {
		return
	}

	var req struct {
		Robux int `json:"robux"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := entry.Funnel.SelectPackage(req.Robux); err != nil {
		switch {
		case errors.Is(err, funnel.ErrUnknownPackage):
			h.writeError(w, http.StatusBadRequest, "Unknown package")
		case errors.Is(err, funnel.ErrInvalidStage):
			h.writeError(w, http.StatusConflict, "Package selection is not available at this step")
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, h.buildSessionResponse(entry))
}

// ConfirmFeeHandler acknowledges the processing fee and triggers charge
// generation.
func (h *FunnelHandlers) ConfirmFeeHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSession(w, r)
	if !ok {
		return
	}

	if err := entry.Funnel.ConfirmFee(r.Context()); err != nil {
		if errors.Is(err, funnel.ErrFeeNotPending) {
			h.writeError(w, http.StatusConflict, "The processing fee is not awaiting confirmation")
			return
		}
		// The funnel is on the payment screen; only the charge failed.
		h.writePaymentError(w, entry.ID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.buildSessionResponse(entry))
}

// RetryPaymentHandler re-attempts charge generation from the payment screen.
func (h *FunnelHandlers) RetryPaymentHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSession(w, r)
	if !ok {
		return
	}

	if err := entry.Funnel.RetryPayment(r.Context()); err != nil {
		if errors.Is(err, funnel.ErrInvalidStage) {
			h.writeError(w, http.StatusConflict, "Payment is not available at this step")
			return
		}
		h.writePaymentError(w, entry.ID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.buildSessionResponse(entry))
}

// writePaymentError maps gateway failures to HTTP statuses.
func (h *FunnelHandlers) writePaymentError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, pixgateway.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "The payment provider is throttling requests. Please try again shortly.")
	case errors.Is(err, pixgateway.ErrUnavailable):
		h.writeError(w, http.StatusServiceUnavailable, "The payment provider is temporarily unavailable")
	case errors.Is(err, pixgateway.ErrAuthFailed), errors.Is(err, pixgateway.ErrCredentialsMissing):
		log.Printf("level=error component=api endpoint=payment outcome=failed session_id=%s err=%v", sessionID, err)
		h.writeError(w, http.StatusBadGateway, "Could not generate the PIX charge")
	default:
		var upstream *pixgateway.UpstreamError
		if errors.As(err, &upstream) {
			h.writeError(w, http.StatusBadGateway, "Could not generate the PIX charge")
			return
		}
		log.Printf("level=error component=api endpoint=payment outcome=failed session_id=%s err=%v", sessionID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// ToggleAddOnHandler flips an add-on selection.
func (h *FunnelHandlers) ToggleAddOnHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSession(w, r)
	if !ok {
		return
	}

	addOnID := chi.URLParam(r, "addonID")
	selected, err := entry.Funnel.ToggleAddOn(addOnID)
	if err != nil {
		if errors.Is(err, funnel.ErrUnknownAddOn) {
			h.writeError(w, http.StatusBadRequest, "Unknown add-on")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := h.buildSessionResponse(entry)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"selected": selected,
		"session":  resp,
	})
}

// VerifyPaymentHandler checks whether the charge has settled.
func (h *FunnelHandlers) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSession(w, r)
	if !ok {
		return
	}

	paid, err := entry.Controller.VerifyPayment(r.Context())
	if err != nil {
		h.writeError(w, http.StatusRequestTimeout, "Verification was interrupted")
		return
	}
	message := "Payment not yet confirmed. PIX transfers can take a few minutes to settle."
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"paid":    paid,
		"message": message,
	})
}

// RestartHandler resets a session back to the verification step.
func (h *FunnelHandlers) RestartHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.getSession(w, r)
	if !ok {
		return
	}
	entry.Funnel.Restart()
	h.writeJSON(w, http.StatusOK, h.buildSessionResponse(entry))
}

// CatalogHandler returns the package and add-on catalog with the fee.
func (h *FunnelHandlers) CatalogHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"packages":          h.pricer.Catalog.Packages,
		"add_ons":           h.pricer.Catalog.AddOns,
		"base_fee_centavos": h.pricer.BaseFeeCentavos,
	})
}

// LookupUserHandler proxies a standalone Roblox username lookup.
func (h *FunnelHandlers) LookupUserHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	profile, err := h.lookup.Lookup(r.Context(), req.Username)
	if err != nil {
		switch {
		case errors.Is(err, userlookup.ErrUsernameRequired):
			h.writeError(w, http.StatusBadRequest, "Username is required")
		case errors.Is(err, userlookup.ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, "Roblox user not found")
		default:
			log.Printf("level=error component=api endpoint=lookup_user outcome=failed username=%s err=%v", req.Username, err)
			h.writeError(w, http.StatusBadGateway, "Roblox lookup is temporarily unavailable")
		}
		return
	}
	h.writeJSON(w, http.StatusOK, profile)
}

// CreateOrderHandler persists an order record directly.
func (h *FunnelHandlers) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		if errors.Is(err, app.ErrUsernameRequired) || errors.Is(err, app.ErrInvalidOrderAmount) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("level=error component=api endpoint=create_order outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusCreated, order)
}

// GetOrderHandler fetches one order for the status page.
func (h *FunnelHandlers) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid order ID format")
		return
	}

	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			h.writeError(w, http.StatusNotFound, "Order not found")
			return
		}
		log.Printf("level=error component=api endpoint=get_order outcome=failed order_id=%s err=%v", orderID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// WebhookHandler acknowledges gateway payment notifications. The payload is
// recorded and published for downstream consumers; order state is never
// changed from here.
func (h *FunnelHandlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		payload = nil
	}
	if !json.Valid(payload) {
		payload = json.RawMessage(`{}`)
	}

	log.Printf("level=info component=api endpoint=webhook msg=\"gateway notification received\" bytes=%d", len(payload))
	if err := h.producer.PublishWebhookReceived(r.Context(), domain.WebhookReceivedEvent{
		ReceivedAt: time.Now(),
		Payload:    json.RawMessage(payload),
	}); err != nil {
		log.Printf("level=warn component=api endpoint=webhook msg=\"event publish failed\" err=%v", err)
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// writeJSON is a helper for writing JSON responses.
func (h *FunnelHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *FunnelHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
