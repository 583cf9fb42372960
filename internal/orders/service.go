package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-shop-engine.git/internal/cart"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the persistence contract for orders. Create, Cancel and Complete
// are transition operations: each one is atomic and performs its stock side
// effects inside the same transaction as the status write, so stock can never
// move on a plain field update.
type Store interface {
	Create(ctx context.Context, o *Order, lines []cart.Item) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, page int) ([]Order, error)
	Count(ctx context.Context) (int, error)

	// Cancel releases every snapshot item exactly once while entering the
	// cancelled state. ErrAlreadyCancelled when repeated, ErrTerminal from done.
	Cancel(ctx context.Context, id string) (*Order, error)
	// Complete enters done without touching stock. Completing an already done
	// order is a no-op success; completing a cancelled order is ErrTerminal.
	Complete(ctx context.Context, id string) (*Order, error)
	// Reopen reverts done back to awaiting_payment (manual payment edits).
	Reopen(ctx context.Context, id string) (*Order, error)

	UpdateFields(ctx context.Context, id string, patch FieldPatch) (*Order, error)
	SetPaymentReference(ctx context.Context, id string, payload json.RawMessage) error
	MarkInvoiced(ctx context.Context, id string, at time.Time) error
}

type FieldPatch struct {
	Shipped *ShippedStatus
	NIF     *string
}

// Publisher fans lifecycle events out to the event stream. Implementations
// route the event type to its topic; a nil publisher disables events.
type Publisher interface {
	Publish(eventType string, key, value []byte)
}

const RoleAdmin = "superuser"

type Service struct {
	store    Store
	carts    cart.Store
	events   Publisher
	producer string
	log      *zap.Logger
}

func NewService(store Store, carts cart.Store, events Publisher, producer string, log *zap.Logger) *Service {
	return &Service{store: store, carts: carts, events: events, producer: producer, log: log}
}

type CheckoutInput struct {
	UserID          string
	PaymentMethod   PaymentMethod
	NIF             string
	ShippingAddress Address
	BillingAddress  Address
}

// Checkout turns the user's current cart into an order: snapshot, price,
// sequential number and stock reservation happen in one transaction. The cart
// itself is left untouched here; the card flow clears it only after the
// hosted session exists, so a failed gateway call never loses the cart.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (*Order, error) {
	if !in.PaymentMethod.Valid() {
		return nil, ErrInvalidMethod
	}
	lines, err := s.carts.Get(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	now := time.Now().UTC()
	o := &Order{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		Status:          StatusAwaitingPayment,
		Shipped:         ShippedAwaiting,
		NIF:             in.NIF,
		PaymentMethod:   in.PaymentMethod,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.Create(ctx, o, lines); err != nil {
		s.log.Warn("order_create_failed",
			zap.String("user_id", in.UserID),
			zap.Error(err),
		)
		return nil, err
	}

	s.log.Info("order_created",
		zap.String("order_id", o.ID),
		zap.Int64("number", o.Number),
		zap.Int64("amount_cents", o.AmountCents),
		zap.Int64("shipping_cents", o.ShippingCents),
	)
	s.publish(EventOrderCreated, o.ID, OrderCreatedPayload{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Number:        o.Number,
		Items:         ItemRefs(o.Items),
		AmountCents:   o.AmountCents,
		ShippingCents: o.ShippingCents,
		Currency:      o.Currency,
		PaymentMethod: string(o.PaymentMethod),
	})
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, page int) ([]Order, error) {
	return s.store.List(ctx, page)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// Cancel transitions an order into cancelled and restores its reserved stock.
// Owners may cancel their own orders; admins may cancel any.
func (s *Service) Cancel(ctx context.Context, actorID, role, orderID string) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}
	if role != RoleAdmin && o.UserID != actorID {
		return nil, ErrNotOwner
	}

	o, err = s.store.Cancel(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.log.Info("order_cancelled",
		zap.String("order_id", o.ID),
		zap.String("actor_id", actorID),
	)
	s.publish(EventOrderCancelled, o.ID, OrderCancelledPayload{
		OrderID: o.ID,
		UserID:  o.UserID,
	})
	return o, nil
}

// Complete is the payment-confirmed transition into done. Stock stays as
// reserved at checkout; nothing moves here.
func (s *Service) Complete(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.store.Complete(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.log.Info("order_completed", zap.String("order_id", o.ID))
	s.publish(EventOrderCompleted, o.ID, OrderCompletedPayload{
		OrderID: o.ID,
		UserID:  o.UserID,
	})
	return o, nil
}

func (s *Service) Reopen(ctx context.Context, orderID string) (*Order, error) {
	return s.store.Reopen(ctx, orderID)
}

type Patch struct {
	Status  *Status
	Shipped *ShippedStatus
	NIF     *string
}

// Patch applies an administrative order update. Status changes are routed
// through the named transitions so their side effects stay attached to the
// transition and never fire on unrelated field writes.
func (s *Service) Patch(ctx context.Context, actorID, role, orderID string, p Patch) (*Order, error) {
	if p.Status != nil {
		var err error
		switch *p.Status {
		case StatusCancelled:
			_, err = s.Cancel(ctx, actorID, role, orderID)
		case StatusDone:
			_, err = s.Complete(ctx, orderID)
		case StatusAwaitingPayment:
			_, err = s.Reopen(ctx, orderID)
		default:
			err = ErrInvalidStatus
		}
		if err != nil {
			return nil, err
		}
	}
	if p.Shipped == nil && p.NIF == nil {
		return s.store.Get(ctx, orderID)
	}
	return s.store.UpdateFields(ctx, orderID, FieldPatch{Shipped: p.Shipped, NIF: p.NIF})
}

func (s *Service) SetPaymentReference(ctx context.Context, orderID string, payload json.RawMessage) error {
	return s.store.SetPaymentReference(ctx, orderID, payload)
}

func (s *Service) MarkInvoiced(ctx context.Context, orderID string) error {
	return s.store.MarkInvoiced(ctx, orderID, time.Now().UTC())
}

func (s *Service) publish(eventType, orderID string, payload any) {
	if s.events == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("event_marshal_failed", zap.String("event", eventType), zap.Error(err))
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.producer,
		CorrelationID: orderID,
		Payload:       body,
	}
	value, err := json.Marshal(env)
	if err != nil {
		s.log.Warn("event_marshal_failed", zap.String("event", eventType), zap.Error(err))
		return
	}
	s.events.Publish(eventType, PartitionKey(orderID), value)
}
