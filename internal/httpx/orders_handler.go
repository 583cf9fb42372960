package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/ariefcatur/go-shop-engine.git/internal/catalog"
	"github.com/ariefcatur/go-shop-engine.git/internal/invoices"
	"github.com/ariefcatur/go-shop-engine.git/internal/orders"
	"github.com/ariefcatur/go-shop-engine.git/internal/payments"
	"github.com/ariefcatur/go-shop-engine.git/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type OrdersHandler struct {
	Orders   *orders.Service
	Payments *payments.Service
	Invoices *invoices.Trigger
	Redis    *redis.Client
	Log      *zap.Logger
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.checkout)
	r.Get("/orders", h.list)
	r.Get("/orders/total", h.total)
	r.Get("/orders/{id}", h.get)
	r.Patch("/orders/{id}", h.patch)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Post("/orders/{id}/invoice", h.generateInvoice)
	r.Post("/orders/{id}/invoice/send", h.sendInvoice)
	r.Get("/orders/{id}/invoice", h.fetchInvoice)
}

type orderItemView struct {
	ProductID      string              `json:"product_id"`
	ProductName    string              `json:"product_name"`
	ProductImage   string              `json:"product_image,omitempty"`
	UnitPriceCents int64               `json:"unit_price_cents"`
	LineTotalCents int64               `json:"line_total_cents"`
	Currency       string              `json:"currency"`
	Options        []catalog.Selection `json:"options,omitempty"`
	Quantity       int                 `json:"quantity"`
}

// orderView is the client-facing shape: everything the storefront renders,
// none of the gateway correlation internals.
type orderView struct {
	ID               string               `json:"id"`
	Number           int64                `json:"number"`
	UserID           string               `json:"user_id"`
	Status           orders.Status        `json:"status"`
	Shipped          orders.ShippedStatus `json:"shipped"`
	Items            []orderItemView      `json:"items"`
	AmountCents      int64                `json:"amount_cents"`
	ShippingCents    int64                `json:"shipping_cents"`
	TotalCents       int64                `json:"total_cents"`
	Currency         string               `json:"currency"`
	NIF              string               `json:"nif,omitempty"`
	PaymentMethod    orders.PaymentMethod `json:"payment_method"`
	ShippingAddress  orders.Address       `json:"shipping_address"`
	BillingAddress   orders.Address       `json:"billing_address"`
	PaymentReference json.RawMessage      `json:"payment_reference,omitempty"`
	InvoiceGenerated bool                 `json:"invoice_generated"`
	LastInvoicedAt   *time.Time           `json:"last_invoiced_at,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

func viewOrder(o *orders.Order) orderView {
	items := make([]orderItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemView{
			ProductID:      it.ProductID,
			ProductName:    it.ProductName,
			ProductImage:   it.ProductImage,
			UnitPriceCents: it.UnitPriceCents,
			LineTotalCents: it.LineTotalCents(),
			Currency:       it.Currency,
			Options:        it.Options,
			Quantity:       it.Quantity,
		})
	}
	return orderView{
		ID:               o.ID,
		Number:           o.Number,
		UserID:           o.UserID,
		Status:           o.Status,
		Shipped:          o.Shipped,
		Items:            items,
		AmountCents:      o.AmountCents,
		ShippingCents:    o.ShippingCents,
		TotalCents:       o.TotalCents(),
		Currency:         o.Currency,
		NIF:              o.NIF,
		PaymentMethod:    o.PaymentMethod,
		ShippingAddress:  o.ShippingAddress,
		BillingAddress:   o.BillingAddress,
		PaymentReference: o.PaymentReference,
		InvoiceGenerated: o.InvoiceGenerated,
		LastInvoicedAt:   o.LastInvoicedAt,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
	}
}

func (h *OrdersHandler) cacheOrder(ctx context.Context, o *orders.Order) {
	b, err := json.Marshal(viewOrder(o))
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
}

// evictOrder drops the cached view after any state change so reads never
// serve a stale status.
func evictOrder(ctx context.Context, rdb *redis.Client, orderID string) {
	_ = rdb.Del(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderID)).Err()
}

type checkoutReq struct {
	PaymentMethod   orders.PaymentMethod `json:"payment_method"`
	NIF             string               `json:"nif"`
	ShippingAddress orders.Address       `json:"shipping_address"`
	BillingAddress  orders.Address       `json:"billing_address"`
}

func (h *OrdersHandler) checkout(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req checkoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.Checkout(ctx, orders.CheckoutInput{
		UserID:          userID,
		PaymentMethod:   req.PaymentMethod,
		NIF:             req.NIF,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.cacheOrder(ctx, o)
	writeJSON(w, http.StatusCreated, viewOrder(o))
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	res, err := h.Orders.List(ctx, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]orderView, 0, len(res))
	for i := range res {
		views = append(views, viewOrder(&res[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": views, "page": page})
}

func (h *OrdersHandler) total(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	n, err := h.Orders.Count(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"total": n})
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, id)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		var v orderView
		if json.Unmarshal([]byte(s), &v) == nil && (role == orders.RoleAdmin || v.UserID == userID) {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	o, err := h.Orders.Get(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if role != orders.RoleAdmin && o.UserID != userID {
		writeError(w, r, orders.ErrNotOwner)
		return
	}
	h.cacheOrder(ctx, o)
	writeJSON(w, http.StatusOK, viewOrder(o))
}

type orderPatchReq struct {
	Status  *orders.Status        `json:"status"`
	Shipped *orders.ShippedStatus `json:"shipped"`
	NIF     *string               `json:"nif"`
}

func (h *OrdersHandler) patch(w http.ResponseWriter, r *http.Request) {
	adminID, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var req orderPatchReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.Patch(ctx, adminID, orders.RoleAdmin, id, orders.Patch{
		Status:  req.Status,
		Shipped: req.Shipped,
		NIF:     req.NIF,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	evictOrder(ctx, h.Redis, id)
	writeJSON(w, http.StatusOK, viewOrder(o))
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.Cancel(ctx, userID, role, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	evictOrder(ctx, h.Redis, id)
	writeJSON(w, http.StatusOK, viewOrder(o))
}

func (h *OrdersHandler) generateInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, p, err := h.orderWithPayment(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Invoices.Generate(ctx, o, p, locale(r)); err != nil {
		writeError(w, r, err)
		return
	}
	evictOrder(ctx, h.Redis, id)
	writeCode(w, r, http.StatusCreated, "invoice_created")
}

type sendInvoiceReq struct {
	Email string `json:"email"`
}

func (h *OrdersHandler) sendInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var req sendInvoiceReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		badRequest(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, p, err := h.orderWithPayment(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Invoices.Send(ctx, o, p, req.Email, locale(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeCode(w, r, http.StatusOK, "invoice_sent")
}

func (h *OrdersHandler) fetchInvoice(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	id := chi.URLParam(r, "id")

	path := h.Invoices.ArtifactPath(id)
	if _, err := os.Stat(path); err != nil {
		writeCode(w, r, http.StatusNotFound, "invoice_not_found")
		return
	}
	http.ServeFile(w, r, path)
}

// orderWithPayment loads both sides of an invoice. A missing payment is fine:
// manually completed orders may have none.
func (h *OrdersHandler) orderWithPayment(ctx context.Context, orderID string) (*orders.Order, *payments.Payment, error) {
	o, err := h.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	p, err := h.Payments.GetByOrder(ctx, orderID)
	if err != nil {
		if !errors.Is(err, payments.ErrNotFound) {
			return nil, nil, err
		}
		p = nil
	}
	return o, p, nil
}
