package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageLocaleFallback(t *testing.T) {
	assert.Equal(t, "Ordem não encontrada.", Message("order_not_found", "pt"))
	assert.Equal(t, "Order not found.", Message("order_not_found", "en-US"))
	assert.Equal(t, "Order not found.", Message("order_not_found", "fr"))
	assert.Equal(t, "mystery_code", Message("mystery_code", "pt"))
}

func TestKindAndCodeExtraction(t *testing.T) {
	base := errors.New("row missing")
	wrapped := NotFound("order_not_found", base)

	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, "order_not_found", CodeOf(wrapped))
	assert.ErrorIs(t, wrapped, base)

	assert.Equal(t, KindUnexpected, KindOf(base))
	assert.Equal(t, "internal_error", CodeOf(base))

	v := Validation("invalid_request", "quantity")
	assert.Equal(t, "quantity", FieldOf(v))
}
