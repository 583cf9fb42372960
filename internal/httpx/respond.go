package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-shop-engine.git/internal/apperr"
	"github.com/ariefcatur/go-shop-engine.git/internal/cart"
	"github.com/ariefcatur/go-shop-engine.git/internal/catalog"
	"github.com/ariefcatur/go-shop-engine.git/internal/orders"
	"github.com/ariefcatur/go-shop-engine.git/internal/payments"
)

// Identity is asserted by the upstream auth proxy and forwarded in headers;
// the engine trusts them as-is.
const (
	headerUserID = "X-User-ID"
	headerRole   = "X-User-Role"

	localeCookie  = "locale"
	defaultLocale = "pt"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	writeJSON(w, status, errorBody{
		Error:   code,
		Message: apperr.Message(code, messageLocale(locale(r))),
		Field:   apperr.FieldOf(err),
	})
}

func writeCode(w http.ResponseWriter, r *http.Request, status int, code string) {
	writeJSON(w, status, errorBody{
		Error:   code,
		Message: apperr.Message(code, messageLocale(locale(r))),
	})
}

func badRequest(w http.ResponseWriter, r *http.Request) {
	writeCode(w, r, http.StatusBadRequest, "invalid_request")
}

// classify maps domain sentinels, then apperr kinds, to an HTTP status and a
// stable code the message table understands.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, payments.ErrNotFound):
		return http.StatusNotFound, "payment_not_found"
	case errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "product_not_found"
	case errors.Is(err, cart.ErrNotFound):
		return http.StatusNotFound, "cart_item_not_found"
	case errors.Is(err, orders.ErrEmptyCart):
		return http.StatusBadRequest, "cart_empty"
	case errors.Is(err, orders.ErrAlreadyCancelled):
		return http.StatusConflict, "order_already_cancelled"
	case errors.Is(err, orders.ErrTerminal):
		return http.StatusConflict, "order_terminal"
	case errors.Is(err, payments.ErrAlreadyPaid):
		return http.StatusConflict, "order_already_paid"
	case errors.Is(err, catalog.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, orders.ErrNotOwner):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, orders.ErrInvalidMethod),
		errors.Is(err, orders.ErrInvalidStatus),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, catalog.ErrInvalidQuantity),
		errors.Is(err, catalog.ErrUnknownOption),
		errors.Is(err, catalog.ErrScalarSelection),
		errors.Is(err, payments.ErrMalformedEvent):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, payments.ErrGateway):
		return http.StatusBadGateway, "internal_error"
	}
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound, apperr.CodeOf(err)
	case apperr.KindConflict:
		return http.StatusConflict, apperr.CodeOf(err)
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized, apperr.CodeOf(err)
	case apperr.KindValidation:
		return http.StatusBadRequest, apperr.CodeOf(err)
	case apperr.KindGateway:
		return http.StatusBadGateway, apperr.CodeOf(err)
	}
	return http.StatusInternalServerError, "internal_error"
}

func locale(r *http.Request) string {
	if c, err := r.Cookie(localeCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return defaultLocale
}

// messageLocale folds every non-pt locale onto the en-US message set.
func messageLocale(l string) string {
	if l == "pt" {
		return "pt"
	}
	return "en-US"
}

func requireUser(w http.ResponseWriter, r *http.Request) (userID, role string, ok bool) {
	userID, role = r.Header.Get(headerUserID), r.Header.Get(headerRole)
	if userID == "" {
		writeCode(w, r, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	return userID, role, true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (userID string, ok bool) {
	userID, role, ok := requireUser(w, r)
	if !ok {
		return "", false
	}
	if role != orders.RoleAdmin {
		writeCode(w, r, http.StatusForbidden, "unauthorized")
		return "", false
	}
	return userID, true
}
