package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ariefcatur/go-shop-engine.git/internal/orders"
	"github.com/ariefcatur/go-shop-engine.git/internal/payments"
	"github.com/ariefcatur/go-shop-engine.git/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type PaymentsHandler struct {
	Payments *payments.Service
	Orders   *orders.Service
	Redis    *redis.Client
	// Service namespaces the webhook dedup keys.
	Service string
	Log     *zap.Logger
}

func (h *PaymentsHandler) Register(r *chi.Mux) {
	r.Post("/payments", h.initiate)
	r.Get("/payments/{orderID}", h.getByOrder)
	r.Patch("/payments/{id}", h.patch)
	r.Post("/webhooks/gateway", h.webhook)
}

// paymentView leaves out GatewayInfo: raw processor payloads never reach
// clients.
type paymentView struct {
	ID        string               `json:"id"`
	OrderID   string               `json:"order_id"`
	Method    orders.PaymentMethod `json:"method"`
	Status    payments.Status      `json:"status"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

func viewPayment(p *payments.Payment) paymentView {
	return paymentView{
		ID:        p.ID,
		OrderID:   p.OrderID,
		Method:    p.Method,
		Status:    p.Status,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type initiateReq struct {
	OrderID  string               `json:"order_id"`
	Method   orders.PaymentMethod `json:"method"`
	Email    string               `json:"email"`
	Name     string               `json:"name"`
	Redirect string               `json:"redirect,omitempty"`
}

type initiateResp struct {
	Payment   paymentView     `json:"payment"`
	SessionID string          `json:"session_id,omitempty"`
	Reference json.RawMessage `json:"reference,omitempty"`
}

func (h *PaymentsHandler) initiate(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req initiateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		badRequest(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	res, err := h.Payments.Initiate(ctx, payments.InitiateInput{
		UserID:   userID,
		Email:    req.Email,
		Name:     req.Name,
		OrderID:  req.OrderID,
		Method:   req.Method,
		Locale:   locale(r),
		Redirect: req.Redirect,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	evictOrder(ctx, h.Redis, req.OrderID)
	writeJSON(w, http.StatusCreated, initiateResp{
		Payment:   viewPayment(res.Payment),
		SessionID: res.SessionID,
		Reference: res.Reference,
	})
}

func (h *PaymentsHandler) getByOrder(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := requireUser(w, r)
	if !ok {
		return
	}
	orderID := chi.URLParam(r, "orderID")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.Get(ctx, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if role != orders.RoleAdmin && o.UserID != userID {
		writeError(w, r, orders.ErrNotOwner)
		return
	}
	p, err := h.Payments.GetByOrder(ctx, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewPayment(p))
}

type paymentPatchReq struct {
	Status *payments.Status `json:"status"`
}

func (h *PaymentsHandler) patch(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var req paymentPatchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p, err := h.Payments.Update(ctx, id, payments.UpdateInput{Status: req.Status})
	if err != nil {
		writeError(w, r, err)
		return
	}
	evictOrder(ctx, h.Redis, p.OrderID)
	writeJSON(w, http.StatusOK, viewPayment(p))
}

// webhook ingests asynchronous gateway events. Redis dedup is a fast path
// under at-least-once delivery; the handlers behind it are idempotent, so a
// missed dedup entry is harmless.
func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	var ev payments.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.ID == "" || ev.Type == "" {
		webhookEvents.WithLabelValues("unknown", "malformed").Inc()
		badRequest(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyDedup, h.Service, ev.ID)
	fresh, err := redisx.SetNX(ctx, h.Redis, key, redisx.TTLDedup)
	if err == nil && !fresh {
		h.Log.Info("gateway_event_duplicate",
			zap.String("event_id", ev.ID),
			zap.String("type", ev.Type),
		)
		webhookEvents.WithLabelValues(ev.Type, "duplicate").Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if err := h.Payments.HandleEvent(ctx, ev); err != nil {
		// Give the claim back so the gateway's retry gets a clean run.
		_ = h.Redis.Del(ctx, key).Err()
		webhookEvents.WithLabelValues(ev.Type, "error").Inc()
		writeError(w, r, err)
		return
	}

	if orderID := payments.OrderIDFromEvent(ev); orderID != "" {
		evictOrder(ctx, h.Redis, orderID)
	}
	webhookEvents.WithLabelValues(ev.Type, "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
