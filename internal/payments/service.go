package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-shop-engine.git/internal/cart"
	"github.com/ariefcatur/go-shop-engine.git/internal/orders"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService is the slice of the order lifecycle the payment flows need.
// Satisfied by *orders.Service.
type OrderService interface {
	Get(ctx context.Context, id string) (*orders.Order, error)
	Complete(ctx context.Context, id string) (*orders.Order, error)
	Reopen(ctx context.Context, id string) (*orders.Order, error)
	SetPaymentReference(ctx context.Context, id string, payload json.RawMessage) error
}

// Notifier sends customer-facing mail. Rendering and delivery live outside
// the engine.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, o *orders.Order, to, locale string) error
	SendBankTransferInstructions(ctx context.Context, o *orders.Order, to, locale string) error
}

type Config struct {
	SuccessURL     string
	CancelURL      string
	GatewayTimeout time.Duration
}

type Service struct {
	store    Store
	orders   OrderService
	carts    cart.Store
	gateway  Gateway
	notifier Notifier
	events   orders.Publisher
	producer string
	cfg      Config
	log      *zap.Logger
}

func NewService(store Store, ordersSvc OrderService, carts cart.Store, gw Gateway,
	notifier Notifier, events orders.Publisher, producer string, cfg Config, log *zap.Logger) *Service {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	return &Service{
		store: store, orders: ordersSvc, carts: carts, gateway: gw,
		notifier: notifier, events: events, producer: producer, cfg: cfg, log: log,
	}
}

type InitiateInput struct {
	UserID   string
	Email    string
	Name     string
	OrderID  string
	Method   orders.PaymentMethod
	Locale   string
	Redirect string // overrides the configured cancel URL path for card flows
}

// InitiateResult carries the method-specific handle the client continues
// with: a hosted session id for card, the reference payload for
// automated_reference, nothing extra for the manual methods.
type InitiateResult struct {
	Payment   *Payment
	SessionID string
	Reference json.RawMessage
}

// Initiate starts one payment attempt for an order. Every call creates a new
// pending Payment; the method decides what happens next.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	if !in.Method.Valid() {
		return nil, orders.ErrInvalidMethod
	}
	o, err := s.orders.Get(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != in.UserID {
		return nil, orders.ErrNotOwner
	}

	now := time.Now().UTC()
	p := &Payment{
		ID:        uuid.NewString(),
		OrderID:   o.ID,
		Method:    in.Method,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}

	if s.notifier != nil && in.Email != "" {
		if err := s.notifier.SendOrderConfirmation(ctx, o, in.Email, in.Locale); err != nil {
			s.log.Warn("order_confirmation_mail_failed",
				zap.String("order_id", o.ID), zap.Error(err))
		}
	}

	res := &InitiateResult{Payment: p}
	switch in.Method {
	case orders.MethodBankTransfer:
		if s.notifier != nil && in.Email != "" {
			if err := s.notifier.SendBankTransferInstructions(ctx, o, in.Email, in.Locale); err != nil {
				s.log.Warn("bank_transfer_mail_failed",
					zap.String("order_id", o.ID), zap.Error(err))
			}
		}
	case orders.MethodAutomatedReference:
		if o.Status == orders.StatusDone {
			return nil, ErrAlreadyPaid
		}
		src, err := s.createSource(ctx, o, p, in)
		if err != nil {
			return nil, err
		}
		if err := s.orders.SetPaymentReference(ctx, o.ID, src.Reference); err != nil {
			return nil, err
		}
		res.Reference = src.Reference
	case orders.MethodCard:
		sessionID, err := s.createSession(ctx, o, p, in)
		if err != nil {
			return nil, err
		}
		// Clear the cart only once the hosted session exists, so a failed
		// gateway call leaves the cart intact for a retry.
		if err := s.carts.Clear(ctx, in.UserID); err != nil {
			s.log.Warn("cart_clear_failed", zap.String("user_id", in.UserID), zap.Error(err))
		}
		res.SessionID = sessionID
	case orders.MethodWalletRedirect:
		// Confirmation is owned by the external redirect flow.
	}

	s.log.Info("payment_initiated",
		zap.String("payment_id", p.ID),
		zap.String("order_id", o.ID),
		zap.String("method", string(in.Method)),
	)
	return res, nil
}

func (s *Service) createSource(ctx context.Context, o *orders.Order, p *Payment, in InitiateInput) (Source, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	src, err := s.gateway.CreateSingleUseSource(ctx, SourceRequest{
		AmountCents: o.TotalCents(),
		Currency:    o.Currency,
		OwnerName:   in.Name,
		OwnerEmail:  in.Email,
		Metadata: map[string]string{
			"order_id":            o.ID,
			"payment_id":          p.ID,
			"client_reference_id": in.UserID,
		},
	})
	if err != nil {
		return Source{}, fmt.Errorf("%w: create source: %w", ErrGateway, err)
	}
	return src, nil
}

func (s *Service) createSession(ctx context.Context, o *orders.Order, p *Payment, in InitiateInput) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	customerID, err := s.gateway.CreateCustomer(ctx, BillingInfo{
		Name:    in.Name,
		Email:   in.Email,
		Address: o.BillingAddress,
	})
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %w", ErrGateway, err)
	}

	cancelURL := s.cfg.CancelURL
	if in.Redirect != "" {
		cancelURL = in.Redirect
	}
	sessionID, err := s.gateway.CreateCheckoutSession(ctx, SessionRequest{
		CustomerID: customerID,
		LineItems:  SessionLineItems(o, in.Locale),
		Metadata: map[string]string{
			"order_id":   o.ID,
			"payment_id": p.ID,
		},
		ClientReferenceID: in.UserID,
		Locale:            in.Locale,
		SuccessURL:        fmt.Sprintf("%s/?order_id=%s&method=card", s.cfg.SuccessURL, o.ID),
		CancelURL:         cancelURL,
	})
	if err != nil {
		return "", fmt.Errorf("%w: create session: %w", ErrGateway, err)
	}
	return sessionID, nil
}

// SessionLineItems maps the order snapshot to hosted-checkout line items,
// appending the shipping line (amount zero when shipping was waived).
func SessionLineItems(o *orders.Order, locale string) []LineItem {
	items := make([]LineItem, 0, len(o.Items)+1)
	for _, it := range o.Items {
		items = append(items, LineItem{
			Name:            it.ProductName,
			Image:           it.ProductImage,
			Currency:        it.Currency,
			UnitAmountCents: it.UnitPriceCents,
			Quantity:        it.Quantity,
		})
	}
	name, desc := "Envio", "CTT"
	if locale != "pt" {
		name, desc = "Shipping", "CTT"
	}
	items = append(items, LineItem{
		Name:            name,
		Description:     desc,
		Currency:        o.Currency,
		UnitAmountCents: o.ShippingCents,
		Quantity:        1,
	})
	return items
}

// HandleEvent reconciles one asynchronous gateway event. Unrecognized types
// are accepted and ignored; malformed payloads are rejected without touching
// any state. Delivery is at-least-once, so every path must be replay-safe.
func (s *Service) HandleEvent(ctx context.Context, ev WebhookEvent) error {
	switch ev.Type {
	case EventCheckoutSessionCompleted:
		obj, err := decodeConfirmation(ev.Data)
		if err != nil {
			return err
		}
		return s.finish(ctx, obj, ev.Data, orders.MethodCard)
	case EventChargeSucceeded:
		obj, err := decodeConfirmation(ev.Data)
		if err != nil {
			return err
		}
		return s.finish(ctx, obj, ev.Data, orders.MethodAutomatedReference)
	case EventSourceChargeable:
		obj, err := decodeConfirmation(ev.Data)
		if err != nil {
			return err
		}
		cctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()
		if err := s.gateway.CreateCharge(cctx, obj.Amount, obj.Currency, obj.ID); err != nil {
			return fmt.Errorf("%w: create charge: %w", ErrGateway, err)
		}
		return nil
	case EventPaymentIntentSucceeded, EventPaymentMethodAttached:
		return nil
	default:
		s.log.Info("gateway_event_ignored", zap.String("type", ev.Type))
		return nil
	}
}

// finish is the idempotent confirmation handler: it resolves the payment and
// order from the correlation metadata embedded at initiation, completes both,
// and no-ops on replay.
func (s *Service) finish(ctx context.Context, obj confirmation, raw json.RawMessage, method orders.PaymentMethod) error {
	orderID, paymentID, ok := obj.correlate(method)
	if !ok {
		return ErrMalformedEvent
	}

	p, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if p.Status == StatusCompleted {
		s.log.Info("payment_confirmation_replayed", zap.String("payment_id", p.ID))
		return nil
	}

	p.Status = StatusCompleted
	p.GatewayInfo = raw
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, p); err != nil {
		return err
	}

	if _, err := s.orders.Complete(ctx, orderID); err != nil {
		if errors.Is(err, orders.ErrTerminal) {
			// Cancellation won the race. The payment stays completed so the
			// conflict is visible for manual reconciliation.
			s.log.Warn("payment_completed_for_cancelled_order",
				zap.String("payment_id", p.ID),
				zap.String("order_id", orderID),
			)
			return nil
		}
		return err
	}

	s.publishCompleted(p)
	s.log.Info("payment_completed",
		zap.String("payment_id", p.ID),
		zap.String("order_id", orderID),
		zap.String("method", string(p.Method)),
	)
	return nil
}

type UpdateInput struct {
	Status *Status
}

// Update applies a manual edit to a payment. A status change cascades to the
// owning order: completed marks it done, anything else reopens it.
func (s *Service) Update(ctx context.Context, paymentID string, in UpdateInput) (*Payment, error) {
	p, err := s.store.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if in.Status == nil {
		return p, nil
	}
	if !in.Status.Valid() {
		return nil, ErrMalformedEvent
	}

	// Cascade to the order first: if the transition is rejected (cancelled
	// order) the payment record must stay exactly as it was.
	if *in.Status == StatusCompleted {
		if _, err := s.orders.Complete(ctx, p.OrderID); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.orders.Reopen(ctx, p.OrderID); err != nil {
			return nil, err
		}
	}

	p.Status = *in.Status
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	if p.Status == StatusCompleted {
		s.publishCompleted(p)
	}
	return p, nil
}

func (s *Service) GetByOrder(ctx context.Context, orderID string) (*Payment, error) {
	return s.store.GetByOrder(ctx, orderID)
}

func (s *Service) publishCompleted(p *Payment) {
	if s.events == nil {
		return
	}
	body, err := json.Marshal(orders.PaymentCompletedPayload{
		OrderID:   p.OrderID,
		PaymentID: p.ID,
		Method:    string(p.Method),
	})
	if err != nil {
		return
	}
	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventPaymentCompleted,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.producer,
		CorrelationID: p.OrderID,
		Payload:       body,
	}
	value, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.events.Publish(orders.EventPaymentCompleted, orders.PartitionKey(p.OrderID), value)
}

func decodeConfirmation(data json.RawMessage) (confirmation, error) {
	var obj confirmation
	if len(data) == 0 {
		return obj, ErrMalformedEvent
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return obj, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return obj, nil
}
