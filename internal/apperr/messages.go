package apperr

// User-facing messages keyed by stable code, localized per store convention
// (pt default, en-US fallback). Gateway and unexpected failures deliberately
// share a generic message so internals never leak to clients.
var messages = map[string]map[string]string{
	"order_not_found": {
		"pt":    "Ordem não encontrada.",
		"en-US": "Order not found.",
	},
	"payment_not_found": {
		"pt":    "Pagamento não encontrado.",
		"en-US": "Payment not found.",
	},
	"product_not_found": {
		"pt":    "Produto não encontrado.",
		"en-US": "Product not found.",
	},
	"user_not_found": {
		"pt":    "Utilizador não encontrado.",
		"en-US": "User not found.",
	},
	"order_already_cancelled": {
		"pt":    "A ordem já está cancelada.",
		"en-US": "Order is already cancelled.",
	},
	"order_already_paid": {
		"pt":    "A ordem já está paga.",
		"en-US": "Already paid.",
	},
	"order_terminal": {
		"pt":    "A ordem já está num estado final.",
		"en-US": "Order is already in a terminal state.",
	},
	"insufficient_stock": {
		"pt":    "Stock insuficiente.",
		"en-US": "Insufficient stock.",
	},
	"cart_item_not_found": {
		"pt":    "Artigo não encontrado no carrinho.",
		"en-US": "Item not found in cart.",
	},
	"invoice_not_found": {
		"pt":    "Fatura não encontrada.",
		"en-US": "Invoice not found.",
	},
	"invalid_request": {
		"pt":    "Pedido inválido.",
		"en-US": "Invalid request.",
	},
	"cart_empty": {
		"pt":    "O carrinho está vazio.",
		"en-US": "Cart is empty.",
	},
	"unauthorized": {
		"pt":    "Não autorizado.",
		"en-US": "Unauthorized.",
	},
	"invoice_created": {
		"pt":    "Fatura gerada com sucesso.",
		"en-US": "Invoice created successfully.",
	},
	"invoice_sent": {
		"pt":    "Email enviado com sucesso.",
		"en-US": "Email sent successfully.",
	},
	"internal_error": {
		"pt":    "Ocorreu um erro. Tente novamente.",
		"en-US": "Something went wrong. Please try again.",
	},
}

// Message resolves a localized message for a code, falling back to en-US,
// then to the code itself for codes without a translation entry.
func Message(code, locale string) string {
	byLocale, ok := messages[code]
	if !ok {
		return code
	}
	if m, ok := byLocale[locale]; ok {
		return m
	}
	return byLocale["en-US"]
}
