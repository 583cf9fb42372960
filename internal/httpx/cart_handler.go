package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ariefcatur/go-shop-engine.git/internal/cart"
	"github.com/ariefcatur/go-shop-engine.git/internal/catalog"
	"github.com/ariefcatur/go-shop-engine.git/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ProductReader is the slice of the catalog the storefront endpoints need.
// Satisfied by *catalog.Repo.
type ProductReader interface {
	Get(ctx context.Context, id string) (*catalog.Product, error)
	List(ctx context.Context) ([]catalog.Product, error)
}

type CartHandler struct {
	Carts   cart.Store
	Catalog ProductReader
	Redis   *redis.Client
	Log     *zap.Logger
}

func (h *CartHandler) Register(r *chi.Mux) {
	r.Get("/cart", h.get)
	r.Post("/cart/items", h.add)
	r.Patch("/cart/items", h.updateQuantity)
	r.Delete("/cart/items", h.remove)
	r.Get("/products", h.listProducts)
}

func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := requireUser(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	items, err := h.Carts.Get(ctx, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []cart.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *CartHandler) add(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := requireUser(w, r)
	if !ok {
		return
	}
	var item cart.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil || item.ProductID == "" {
		badRequest(w, r)
		return
	}
	if item.Quantity < 1 {
		writeError(w, r, cart.ErrInvalidQuantity)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Validate against the live product so a cart never holds a selection the
	// variant schema can't satisfy.
	p, err := h.Catalog.Get(ctx, item.ProductID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := p.ValidateSelections(item.Options); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Carts.Add(ctx, userID, item); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(ctx, w, r, userID, http.StatusCreated)
}

func (h *CartHandler) updateQuantity(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := requireUser(w, r)
	if !ok {
		return
	}
	var line cart.Item
	if err := json.NewDecoder(r.Body).Decode(&line); err != nil || line.ProductID == "" {
		badRequest(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Carts.UpdateQuantity(ctx, userID, line); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(ctx, w, r, userID, http.StatusOK)
}

func (h *CartHandler) remove(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := requireUser(w, r)
	if !ok {
		return
	}
	var line cart.Item
	if err := json.NewDecoder(r.Body).Decode(&line); err != nil || line.ProductID == "" {
		badRequest(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.Carts.Remove(ctx, userID, line); err != nil {
		writeError(w, r, err)
		return
	}
	h.respondCart(ctx, w, r, userID, http.StatusOK)
}

func (h *CartHandler) respondCart(ctx context.Context, w http.ResponseWriter, r *http.Request, userID string, status int) {
	items, err := h.Carts.Get(ctx, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []cart.Item{}
	}
	writeJSON(w, status, map[string]any{"items": items})
}

type productView struct {
	ID          string                   `json:"id"`
	Name        string                   `json:"name"`
	Slug        string                   `json:"slug"`
	Description string                   `json:"description,omitempty"`
	Image       string                   `json:"image,omitempty"`
	PriceCents  int64                    `json:"price_cents"`
	Currency    string                   `json:"currency"`
	Attributes  []catalog.Attribute      `json:"attributes,omitempty"`
	Quantity    int                      `json:"quantity"`
	Stock       []catalog.AttributeStock `json:"stock,omitempty"`
}

func (h *CartHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if s, err := h.Redis.Get(ctx, redisx.KeyProductList).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	ps, err := h.Catalog.List(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]productView, 0, len(ps))
	for i := range ps {
		p := &ps[i]
		views = append(views, productView{
			ID:          p.ID,
			Name:        p.Name,
			Slug:        p.Slug,
			Description: p.Description,
			Image:       p.Image,
			PriceCents:  p.PriceCents,
			Currency:    p.Currency,
			Attributes:  p.Attributes,
			Quantity:    p.Quantity,
			Stock:       p.VariantStock,
		})
	}
	body := map[string]any{"products": views}
	if b, err := json.Marshal(body); err == nil {
		_ = h.Redis.Set(ctx, redisx.KeyProductList, b, redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, body)
}
