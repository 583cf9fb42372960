package orders

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-engine.git/internal/cart"
	"github.com/ariefcatur/go-shop-engine.git/internal/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore keeps orders and product stock in memory, mirroring the pg repo's
// transition semantics so the service can be exercised without a database.
type memStore struct {
	products map[string]*catalog.Product
	pricing  Pricing
	orders   map[string]*Order
	nextNum  int64
}

func newMemStore(products ...*catalog.Product) *memStore {
	s := &memStore{
		products: map[string]*catalog.Product{},
		pricing:  testPricing,
		orders:   map[string]*Order{},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *memStore) Create(_ context.Context, o *Order, lines []cart.Item) error {
	var reserved []cart.Item
	for _, line := range lines {
		p, ok := s.products[line.ProductID]
		if !ok {
			s.rollback(reserved)
			return catalog.ErrNotFound
		}
		if err := p.Reserve(line.Options, line.Quantity); err != nil {
			s.rollback(reserved)
			return err
		}
		reserved = append(reserved, line)
		o.Items = append(o.Items, Snapshot(p, line))
	}
	o.AmountCents, o.ShippingCents = Price(o.Items, s.pricing)
	if o.Currency == "" {
		o.Currency = s.pricing.Currency(o.Items)
	}
	s.nextNum++
	o.Number = s.nextNum
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *memStore) rollback(reserved []cart.Item) {
	for _, line := range reserved {
		_ = s.products[line.ProductID].Release(line.Options, line.Quantity)
	}
}

func (s *memStore) Get(_ context.Context, id string) (*Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) List(_ context.Context, _ int) ([]Order, error) {
	out := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out, nil
}

func (s *memStore) Count(_ context.Context) (int, error) { return len(s.orders), nil }

func (s *memStore) Cancel(_ context.Context, id string) (*Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	switch o.Status {
	case StatusCancelled:
		return nil, ErrAlreadyCancelled
	case StatusDone:
		return nil, ErrTerminal
	}
	for _, it := range o.Items {
		if err := s.products[it.ProductID].Release(it.Options, it.Quantity); err != nil {
			return nil, err
		}
	}
	o.Status = StatusCancelled
	o.UpdatedAt = time.Now().UTC()
	cp := *o
	return &cp, nil
}

func (s *memStore) Complete(_ context.Context, id string) (*Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	switch o.Status {
	case StatusDone:
		cp := *o
		return &cp, nil
	case StatusCancelled:
		return nil, ErrTerminal
	}
	o.Status = StatusDone
	o.UpdatedAt = time.Now().UTC()
	cp := *o
	return &cp, nil
}

func (s *memStore) Reopen(_ context.Context, id string) (*Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status == StatusCancelled {
		return nil, ErrTerminal
	}
	o.Status = StatusAwaitingPayment
	cp := *o
	return &cp, nil
}

func (s *memStore) UpdateFields(_ context.Context, id string, patch FieldPatch) (*Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Shipped != nil {
		o.Shipped = *patch.Shipped
	}
	if patch.NIF != nil {
		o.NIF = *patch.NIF
	}
	cp := *o
	return &cp, nil
}

func (s *memStore) SetPaymentReference(_ context.Context, id string, payload json.RawMessage) error {
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentReference = payload
	return nil
}

func (s *memStore) MarkInvoiced(_ context.Context, id string, at time.Time) error {
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.InvoiceGenerated = true
	o.LastInvoicedAt = &at
	return nil
}

type memCart struct {
	items map[string][]cart.Item
}

func (c *memCart) Get(_ context.Context, userID string) ([]cart.Item, error) {
	return c.items[userID], nil
}
func (c *memCart) Add(_ context.Context, userID string, item cart.Item) error {
	c.items[userID] = append(c.items[userID], item)
	return nil
}
func (c *memCart) UpdateQuantity(context.Context, string, cart.Item) error { return nil }
func (c *memCart) Remove(context.Context, string, cart.Item) error        { return nil }
func (c *memCart) Clear(_ context.Context, userID string) error {
	delete(c.items, userID)
	return nil
}

type capturedEvent struct {
	Type string
	Key  string
}

type capturePublisher struct {
	events []capturedEvent
}

func (p *capturePublisher) Publish(eventType string, key, _ []byte) {
	p.events = append(p.events, capturedEvent{Type: eventType, Key: string(key)})
}

func (p *capturePublisher) types() []string {
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func mug() *catalog.Product {
	return &catalog.Product{ID: "mug", Name: "Mug", PriceCents: 500, Currency: "eur", Quantity: 10}
}

func shirt() *catalog.Product {
	p := &catalog.Product{
		ID: "shirt", Name: "Shirt", PriceCents: 1000, Currency: "eur",
		Attributes: []catalog.Attribute{{Name: "Size", Options: []string{"S", "M"}}},
	}
	p.VariantStock = []catalog.AttributeStock{
		{Name: "Size", Options: []catalog.OptionStock{{Name: "S", Count: 1}, {Name: "M", Count: 2}}},
	}
	return p
}

func sizeM() []catalog.Selection {
	return []catalog.Selection{{Attribute: "Size", Option: "M"}}
}

func newTestService(store *memStore, carts *memCart, pub *capturePublisher) *Service {
	return NewService(store, carts, pub, "test", zap.NewNop())
}

func TestCheckout(t *testing.T) {
	store := newMemStore(mug(), shirt())
	carts := &memCart{items: map[string][]cart.Item{
		"u1": {
			{ProductID: "mug", Quantity: 2},
			{ProductID: "shirt", Options: sizeM(), Quantity: 1},
		},
	}}
	pub := &capturePublisher{}
	svc := newTestService(store, carts, pub)

	o, err := svc.Checkout(context.Background(), CheckoutInput{
		UserID:        "u1",
		PaymentMethod: MethodCard,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusAwaitingPayment, o.Status)
	assert.Equal(t, ShippedAwaiting, o.Shipped)
	assert.Equal(t, int64(1), o.Number)
	assert.Equal(t, int64(2000), o.AmountCents)
	assert.Equal(t, int64(500), o.ShippingCents)
	assert.Equal(t, int64(2500), o.TotalCents())
	assert.Equal(t, "eur", o.Currency)
	require.Len(t, o.Items, 2)

	// Stock moved at checkout, not at payment.
	assert.Equal(t, 8, store.products["mug"].Quantity)
	assert.Equal(t, 1, store.products["shirt"].VariantStock[0].Options[1].Count)

	require.Len(t, pub.events, 1)
	assert.Equal(t, EventOrderCreated, pub.events[0].Type)
	assert.Equal(t, o.ID, pub.events[0].Key)
}

func TestCheckoutWaivesShippingAboveThreshold(t *testing.T) {
	store := newMemStore(mug())
	carts := &memCart{items: map[string][]cart.Item{
		"u1": {{ProductID: "mug", Quantity: 7}}, // 3500 > 3000
	}}
	svc := newTestService(store, carts, &capturePublisher{})

	o, err := svc.Checkout(context.Background(), CheckoutInput{UserID: "u1", PaymentMethod: MethodCard})
	require.NoError(t, err)
	assert.Equal(t, int64(3500), o.AmountCents)
	assert.Equal(t, int64(0), o.ShippingCents)
}

func TestCheckoutEmptyCart(t *testing.T) {
	svc := newTestService(newMemStore(), &memCart{items: map[string][]cart.Item{}}, &capturePublisher{})
	_, err := svc.Checkout(context.Background(), CheckoutInput{UserID: "u1", PaymentMethod: MethodCard})
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestCheckoutInvalidMethod(t *testing.T) {
	svc := newTestService(newMemStore(), &memCart{items: map[string][]cart.Item{}}, &capturePublisher{})
	_, err := svc.Checkout(context.Background(), CheckoutInput{UserID: "u1", PaymentMethod: "cheque"})
	assert.ErrorIs(t, err, ErrInvalidMethod)
}

func TestCheckoutInsufficientStockAborts(t *testing.T) {
	store := newMemStore(mug(), shirt())
	carts := &memCart{items: map[string][]cart.Item{
		"u1": {
			{ProductID: "mug", Quantity: 2},
			{ProductID: "shirt", Options: sizeM(), Quantity: 3}, // only 2 in M
		},
	}}
	pub := &capturePublisher{}
	svc := newTestService(store, carts, pub)

	_, err := svc.Checkout(context.Background(), CheckoutInput{UserID: "u1", PaymentMethod: MethodCard})
	assert.ErrorIs(t, err, catalog.ErrInsufficientStock)

	// Nothing moved, nothing published.
	assert.Equal(t, 10, store.products["mug"].Quantity)
	assert.Equal(t, 2, store.products["shirt"].VariantStock[0].Options[1].Count)
	assert.Empty(t, pub.events)
}

func TestCheckoutNumbersAreSequential(t *testing.T) {
	store := newMemStore(mug())
	carts := &memCart{items: map[string][]cart.Item{
		"u1": {{ProductID: "mug", Quantity: 1}},
	}}
	svc := newTestService(store, carts, &capturePublisher{})

	o1, err := svc.Checkout(context.Background(), CheckoutInput{UserID: "u1", PaymentMethod: MethodCard})
	require.NoError(t, err)
	carts.items["u1"] = []cart.Item{{ProductID: "mug", Quantity: 1}}
	o2, err := svc.Checkout(context.Background(), CheckoutInput{UserID: "u1", PaymentMethod: MethodCard})
	require.NoError(t, err)

	assert.Equal(t, o1.Number+1, o2.Number)
}

func checkoutOne(t *testing.T, svc *Service) *Order {
	t.Helper()
	o, err := svc.Checkout(context.Background(), CheckoutInput{UserID: "u1", PaymentMethod: MethodCard})
	require.NoError(t, err)
	return o
}

func TestCancelReleasesStockExactlyOnce(t *testing.T) {
	store := newMemStore(shirt())
	carts := &memCart{items: map[string][]cart.Item{
		"u1": {{ProductID: "shirt", Options: sizeM(), Quantity: 2}},
	}}
	pub := &capturePublisher{}
	svc := newTestService(store, carts, pub)
	o := checkoutOne(t, svc)
	assert.Equal(t, 0, store.products["shirt"].VariantStock[0].Options[1].Count)

	cancelled, err := svc.Cancel(context.Background(), "u1", "", o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, 2, store.products["shirt"].VariantStock[0].Options[1].Count)

	_, err = svc.Cancel(context.Background(), "u1", "", o.ID)
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
	assert.Equal(t, 2, store.products["shirt"].VariantStock[0].Options[1].Count)

	assert.Equal(t, []string{EventOrderCreated, EventOrderCancelled}, pub.types())
}

func TestCancelOwnership(t *testing.T) {
	store := newMemStore(mug())
	carts := &memCart{items: map[string][]cart.Item{
		"u1": {{ProductID: "mug", Quantity: 1}},
	}}
	svc := newTestService(store, carts, &capturePublisher{})
	o := checkoutOne(t, svc)

	_, err := svc.Cancel(context.Background(), "u2", "", o.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	// Admins may cancel anyone's order.
	_, err = svc.Cancel(context.Background(), "admin", RoleAdmin, o.ID)
	assert.NoError(t, err)
}

func TestCompleteKeepsStockAndIsIdempotent(t *testing.T) {
	store := newMemStore(mug())
	carts := &memCart{items: map[string][]cart.Item{
		"u1": {{ProductID: "mug", Quantity: 1}},
	}}
	svc := newTestService(store, carts, &capturePublisher{})
	o := checkoutOne(t, svc)

	done, err := svc.Complete(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, done.Status)
	assert.Equal(t, 9, store.products["mug"].Quantity, "completion must not move stock")

	// Replayed confirmation is a no-op success.
	again, err := svc.Complete(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, again.Status)
}

func TestCompleteAfterCancelConflicts(t *testing.T) {
	store := newMemStore(mug())
	carts := &memCart{items: map[string][]cart.Item{
		"u1": {{ProductID: "mug", Quantity: 1}},
	}}
	svc := newTestService(store, carts, &capturePublisher{})
	o := checkoutOne(t, svc)

	_, err := svc.Cancel(context.Background(), "u1", "", o.ID)
	require.NoError(t, err)
	_, err = svc.Complete(context.Background(), o.ID)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestPatchRoutesStatusThroughTransitions(t *testing.T) {
	store := newMemStore(shirt())
	carts := &memCart{items: map[string][]cart.Item{
		"u1": {{ProductID: "shirt", Options: sizeM(), Quantity: 1}},
	}}
	svc := newTestService(store, carts, &capturePublisher{})
	o := checkoutOne(t, svc)

	cancelled := StatusCancelled
	_, err := svc.Patch(context.Background(), "admin", RoleAdmin, o.ID, Patch{Status: &cancelled})
	require.NoError(t, err)
	assert.Equal(t, 2, store.products["shirt"].VariantStock[0].Options[1].Count,
		"status patch must run the cancel transition, stock included")
}

func TestPatchFieldWritesNeverMoveStock(t *testing.T) {
	store := newMemStore(shirt())
	carts := &memCart{items: map[string][]cart.Item{
		"u1": {{ProductID: "shirt", Options: sizeM(), Quantity: 1}},
	}}
	svc := newTestService(store, carts, &capturePublisher{})
	o := checkoutOne(t, svc)

	shippedNow := ShippedSent
	nif := "123456789"
	got, err := svc.Patch(context.Background(), "admin", RoleAdmin, o.ID, Patch{Shipped: &shippedNow, NIF: &nif})
	require.NoError(t, err)
	assert.Equal(t, ShippedSent, got.Shipped)
	assert.Equal(t, "123456789", got.NIF)
	assert.Equal(t, 1, store.products["shirt"].VariantStock[0].Options[1].Count,
		"field patch must not touch reservations")
}
