package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-engine.git/internal/cart"
	"github.com/ariefcatur/go-shop-engine.git/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memPayments struct {
	byID map[string]*Payment
}

func (m *memPayments) Create(_ context.Context, p *Payment) error {
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *memPayments) Get(_ context.Context, id string) (*Payment, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPayments) GetByOrder(_ context.Context, orderID string) (*Payment, error) {
	var latest *Payment
	for _, p := range m.byID {
		if p.OrderID != orderID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memPayments) Update(_ context.Context, p *Payment) error {
	if _, ok := m.byID[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

type fakeOrders struct {
	byID        map[string]*orders.Order
	completes   int
	reopens     int
	completeErr error
}

func (f *fakeOrders) Get(_ context.Context, id string) (*orders.Order, error) {
	o, ok := f.byID[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) Complete(_ context.Context, id string) (*orders.Order, error) {
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	o, ok := f.byID[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	f.completes++
	o.Status = orders.StatusDone
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) Reopen(_ context.Context, id string) (*orders.Order, error) {
	o, ok := f.byID[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	f.reopens++
	o.Status = orders.StatusAwaitingPayment
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) SetPaymentReference(_ context.Context, id string, payload json.RawMessage) error {
	o, ok := f.byID[id]
	if !ok {
		return orders.ErrNotFound
	}
	o.PaymentReference = payload
	return nil
}

type chargeCall struct {
	AmountCents int64
	Currency    string
	SourceID    string
}

type fakeGateway struct {
	sessionErr error
	sourceErr  error
	sessions   []SessionRequest
	sources    []SourceRequest
	charges    []chargeCall
}

func (g *fakeGateway) CreateCustomer(context.Context, BillingInfo) (string, error) {
	return "cus_1", nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req SessionRequest) (string, error) {
	if g.sessionErr != nil {
		return "", g.sessionErr
	}
	g.sessions = append(g.sessions, req)
	return "sess_1", nil
}

func (g *fakeGateway) CreateSingleUseSource(_ context.Context, req SourceRequest) (Source, error) {
	if g.sourceErr != nil {
		return Source{}, g.sourceErr
	}
	g.sources = append(g.sources, req)
	return Source{
		ID:        "src_1",
		Reference: json.RawMessage(`{"entity":"12345","reference":"123 456 789"}`),
	}, nil
}

func (g *fakeGateway) CreateCharge(_ context.Context, amountCents int64, currency, sourceID string) error {
	g.charges = append(g.charges, chargeCall{AmountCents: amountCents, Currency: currency, SourceID: sourceID})
	return nil
}

type fakeCarts struct {
	items   map[string][]cart.Item
	cleared []string
}

func (c *fakeCarts) Get(_ context.Context, userID string) ([]cart.Item, error) {
	return c.items[userID], nil
}
func (c *fakeCarts) Add(context.Context, string, cart.Item) error            { return nil }
func (c *fakeCarts) UpdateQuantity(context.Context, string, cart.Item) error { return nil }
func (c *fakeCarts) Remove(context.Context, string, cart.Item) error         { return nil }
func (c *fakeCarts) Clear(_ context.Context, userID string) error {
	c.cleared = append(c.cleared, userID)
	delete(c.items, userID)
	return nil
}

type sentMail struct {
	Kind string
	To   string
}

type fakeNotifier struct {
	sent []sentMail
}

func (n *fakeNotifier) SendOrderConfirmation(_ context.Context, _ *orders.Order, to, _ string) error {
	n.sent = append(n.sent, sentMail{Kind: "confirmation", To: to})
	return nil
}

func (n *fakeNotifier) SendBankTransferInstructions(_ context.Context, _ *orders.Order, to, _ string) error {
	n.sent = append(n.sent, sentMail{Kind: "bank_transfer", To: to})
	return nil
}

type capturePublisher struct {
	events []string
}

func (p *capturePublisher) Publish(eventType string, _, _ []byte) {
	p.events = append(p.events, eventType)
}

type fixture struct {
	store    *memPayments
	orders   *fakeOrders
	carts    *fakeCarts
	gw       *fakeGateway
	notifier *fakeNotifier
	pub      *capturePublisher
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{
		store: &memPayments{byID: map[string]*Payment{}},
		orders: &fakeOrders{byID: map[string]*orders.Order{
			"o1": {
				ID:            "o1",
				UserID:        "u1",
				Number:        7,
				Status:        orders.StatusAwaitingPayment,
				AmountCents:   2000,
				ShippingCents: 500,
				Currency:      "eur",
				Items: []orders.Item{
					{ProductID: "mug", ProductName: "Mug", UnitPriceCents: 500, Currency: "eur", Quantity: 2},
					{ProductID: "shirt", ProductName: "Shirt", UnitPriceCents: 1000, Currency: "eur", Quantity: 1},
				},
			},
		}},
		carts:    &fakeCarts{items: map[string][]cart.Item{"u1": {{ProductID: "mug", Quantity: 2}}}},
		gw:       &fakeGateway{},
		notifier: &fakeNotifier{},
		pub:      &capturePublisher{},
	}
	f.svc = NewService(f.store, f.orders, f.carts, f.gw, f.notifier, f.pub, "test", Config{
		SuccessURL:     "http://shop.test/success",
		CancelURL:      "http://shop.test/checkout",
		GatewayTimeout: time.Second,
	}, zap.NewNop())
	return f
}

func (f *fixture) initiate(t *testing.T, method orders.PaymentMethod) *InitiateResult {
	t.Helper()
	res, err := f.svc.Initiate(context.Background(), InitiateInput{
		UserID:  "u1",
		Email:   "u1@shop.test",
		Name:    "User One",
		OrderID: "o1",
		Method:  method,
		Locale:  "pt",
	})
	require.NoError(t, err)
	return res
}

func TestInitiateCard(t *testing.T) {
	f := newFixture()
	res := f.initiate(t, orders.MethodCard)

	assert.Equal(t, "sess_1", res.SessionID)
	assert.Equal(t, StatusPending, res.Payment.Status)

	require.Len(t, f.gw.sessions, 1)
	sess := f.gw.sessions[0]
	assert.Equal(t, "cus_1", sess.CustomerID)
	assert.Equal(t, "o1", sess.Metadata["order_id"])
	assert.Equal(t, res.Payment.ID, sess.Metadata["payment_id"])
	assert.Equal(t, "u1", sess.ClientReferenceID)

	// Items plus one shipping line, in cents.
	require.Len(t, sess.LineItems, 3)
	assert.Equal(t, int64(500), sess.LineItems[2].UnitAmountCents)

	assert.Equal(t, []string{"u1"}, f.carts.cleared, "cart cleared once the session exists")
	assert.Equal(t, []sentMail{{Kind: "confirmation", To: "u1@shop.test"}}, f.notifier.sent)
}

func TestInitiateCardGatewayFailureKeepsCart(t *testing.T) {
	f := newFixture()
	f.gw.sessionErr = fmt.Errorf("boom")

	_, err := f.svc.Initiate(context.Background(), InitiateInput{
		UserID: "u1", Email: "u1@shop.test", OrderID: "o1", Method: orders.MethodCard,
	})
	assert.ErrorIs(t, err, ErrGateway)
	assert.Empty(t, f.carts.cleared)
	assert.NotEmpty(t, f.carts.items["u1"])
}

func TestInitiateAutomatedReference(t *testing.T) {
	f := newFixture()
	res := f.initiate(t, orders.MethodAutomatedReference)

	require.Len(t, f.gw.sources, 1)
	src := f.gw.sources[0]
	assert.Equal(t, int64(2500), src.AmountCents, "source is charged the order total")
	assert.Equal(t, "o1", src.Metadata["order_id"])
	assert.Equal(t, res.Payment.ID, src.Metadata["payment_id"])

	assert.JSONEq(t, `{"entity":"12345","reference":"123 456 789"}`, string(res.Reference))
	assert.JSONEq(t, `{"entity":"12345","reference":"123 456 789"}`, string(f.orders.byID["o1"].PaymentReference))
}

func TestInitiateAutomatedReferenceAlreadyPaid(t *testing.T) {
	f := newFixture()
	f.orders.byID["o1"].Status = orders.StatusDone

	_, err := f.svc.Initiate(context.Background(), InitiateInput{
		UserID: "u1", OrderID: "o1", Method: orders.MethodAutomatedReference,
	})
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Empty(t, f.gw.sources)
}

func TestInitiateBankTransferSendsInstructions(t *testing.T) {
	f := newFixture()
	f.initiate(t, orders.MethodBankTransfer)
	assert.Equal(t, []sentMail{
		{Kind: "confirmation", To: "u1@shop.test"},
		{Kind: "bank_transfer", To: "u1@shop.test"},
	}, f.notifier.sent)
}

func TestInitiateRejectsForeignOrder(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Initiate(context.Background(), InitiateInput{
		UserID: "u2", OrderID: "o1", Method: orders.MethodCard,
	})
	assert.ErrorIs(t, err, orders.ErrNotOwner)
}

func TestInitiateEachAttemptIsANewPayment(t *testing.T) {
	f := newFixture()
	first := f.initiate(t, orders.MethodCard)
	second := f.initiate(t, orders.MethodCard)
	assert.NotEqual(t, first.Payment.ID, second.Payment.ID)
	assert.Len(t, f.store.byID, 2)
}

func sessionEvent(paymentID string) WebhookEvent {
	data := fmt.Sprintf(`{"id":"sess_1","metadata":{"order_id":"o1","payment_id":"%s"}}`, paymentID)
	return WebhookEvent{ID: "evt_1", Type: EventCheckoutSessionCompleted, Data: json.RawMessage(data)}
}

func TestHandleEventCompletesPaymentAndOrder(t *testing.T) {
	f := newFixture()
	res := f.initiate(t, orders.MethodCard)

	err := f.svc.HandleEvent(context.Background(), sessionEvent(res.Payment.ID))
	require.NoError(t, err)

	p, err := f.store.Get(context.Background(), res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.NotEmpty(t, p.GatewayInfo, "raw confirmation payload is retained")

	assert.Equal(t, 1, f.orders.completes)
	assert.Equal(t, orders.StatusDone, f.orders.byID["o1"].Status)
	assert.Contains(t, f.pub.events, orders.EventPaymentCompleted)
}

func TestHandleEventReplayIsNoop(t *testing.T) {
	f := newFixture()
	res := f.initiate(t, orders.MethodCard)
	ev := sessionEvent(res.Payment.ID)

	require.NoError(t, f.svc.HandleEvent(context.Background(), ev))
	require.NoError(t, f.svc.HandleEvent(context.Background(), ev))

	assert.Equal(t, 1, f.orders.completes, "replay must not complete twice")
}

func TestHandleEventChargeSucceededCorrelatesViaSource(t *testing.T) {
	f := newFixture()
	res := f.initiate(t, orders.MethodAutomatedReference)

	data := fmt.Sprintf(
		`{"id":"ch_1","source":{"id":"src_1","metadata":{"order_id":"o1","payment_id":"%s"}}}`,
		res.Payment.ID)
	err := f.svc.HandleEvent(context.Background(), WebhookEvent{
		ID: "evt_2", Type: EventChargeSucceeded, Data: json.RawMessage(data),
	})
	require.NoError(t, err)

	p, _ := f.store.Get(context.Background(), res.Payment.ID)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, 1, f.orders.completes)
}

func TestHandleEventSourceChargeableCharges(t *testing.T) {
	f := newFixture()
	data := `{"id":"src_1","amount":2500,"currency":"eur","metadata":{"order_id":"o1"}}`
	err := f.svc.HandleEvent(context.Background(), WebhookEvent{
		ID: "evt_3", Type: EventSourceChargeable, Data: json.RawMessage(data),
	})
	require.NoError(t, err)
	assert.Equal(t, []chargeCall{{AmountCents: 2500, Currency: "eur", SourceID: "src_1"}}, f.gw.charges)
}

func TestHandleEventMalformed(t *testing.T) {
	f := newFixture()

	err := f.svc.HandleEvent(context.Background(), WebhookEvent{
		ID: "evt_4", Type: EventCheckoutSessionCompleted,
	})
	assert.ErrorIs(t, err, ErrMalformedEvent)

	// Parses but carries no correlation metadata.
	err = f.svc.HandleEvent(context.Background(), WebhookEvent{
		ID: "evt_5", Type: EventCheckoutSessionCompleted, Data: json.RawMessage(`{"id":"sess_9"}`),
	})
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.Zero(t, f.orders.completes)
}

func TestHandleEventUnknownTypeIgnored(t *testing.T) {
	f := newFixture()
	err := f.svc.HandleEvent(context.Background(), WebhookEvent{
		ID: "evt_6", Type: "customer.updated", Data: json.RawMessage(`{}`),
	})
	assert.NoError(t, err)
}

func TestHandleEventCancellationWinsTheRace(t *testing.T) {
	f := newFixture()
	res := f.initiate(t, orders.MethodCard)
	f.orders.completeErr = orders.ErrTerminal

	err := f.svc.HandleEvent(context.Background(), sessionEvent(res.Payment.ID))
	assert.NoError(t, err, "conflict is logged, not bounced back to the gateway")

	// The payment stays completed so the conflict stays visible.
	p, _ := f.store.Get(context.Background(), res.Payment.ID)
	assert.Equal(t, StatusCompleted, p.Status)
}

func TestUpdateCascadesToOrder(t *testing.T) {
	f := newFixture()
	res := f.initiate(t, orders.MethodBankTransfer)

	completed := StatusCompleted
	p, err := f.svc.Update(context.Background(), res.Payment.ID, UpdateInput{Status: &completed})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, 1, f.orders.completes)
	assert.Contains(t, f.pub.events, orders.EventPaymentCompleted)

	rejected := StatusRejected
	p, err = f.svc.Update(context.Background(), res.Payment.ID, UpdateInput{Status: &rejected})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, p.Status)
	assert.Equal(t, 1, f.orders.reopens)
	assert.Equal(t, orders.StatusAwaitingPayment, f.orders.byID["o1"].Status)
}

func TestUpdateOnCancelledOrderLeavesPaymentUntouched(t *testing.T) {
	f := newFixture()
	res := f.initiate(t, orders.MethodBankTransfer)
	f.orders.completeErr = orders.ErrTerminal

	completed := StatusCompleted
	_, err := f.svc.Update(context.Background(), res.Payment.ID, UpdateInput{Status: &completed})
	assert.ErrorIs(t, err, orders.ErrTerminal)

	// The rejected cascade must not leave a half-applied edit behind.
	p, getErr := f.store.Get(context.Background(), res.Payment.ID)
	require.NoError(t, getErr)
	assert.Equal(t, StatusPending, p.Status)
	assert.NotContains(t, f.pub.events, orders.EventPaymentCompleted)
}

func TestUpdateWithoutStatusIsARead(t *testing.T) {
	f := newFixture()
	res := f.initiate(t, orders.MethodCard)

	p, err := f.svc.Update(context.Background(), res.Payment.ID, UpdateInput{})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Zero(t, f.orders.completes)
	assert.Zero(t, f.orders.reopens)
}
