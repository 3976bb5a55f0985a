// Package checkout sequences the order and payment flow around the hosted
// edge functions and the externally loaded payment widget. The gateway and
// the edge functions stay opaque collaborators; this package owns the order
// lifecycle and its invariants.
package checkout

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/lumakit/go-session"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
	StatusExpired Status = "expired"
)

// DefaultExpiryWindow is how long a pending order stays payable. The order
// reference is deterministic within one window, so retrying checkout for the
// same cart re-targets the same order instead of minting duplicates.
const DefaultExpiryWindow = 15 * time.Minute

var (
	// ErrInvalidOrderTransition is returned when an order is moved to a
	// state its lifecycle does not allow.
	ErrInvalidOrderTransition = errors.New("invalid order status transition", errors.CategoryConflict).
		WithTextCode("invalid_order_transition").
		WithCode(errors.CodeConflict)

	// ErrVerificationFailed is returned when the payment verification edge
	// call rejects the (payment, order, signature) triple.
	ErrVerificationFailed = errors.New("payment verification failed", errors.CategoryAuthz).
		WithTextCode("payment_verification_failed").
		WithCode(errors.CodeForbidden)

	// ErrOrderNotFound is returned when a confirmation references an order
	// this sequencer never created or no longer tracks.
	ErrOrderNotFound = errors.New("order not found", errors.CategoryNotFound).
		WithTextCode("order_not_found").
		WithCode(errors.CodeNotFound)

	// ErrEmptyCart is returned when checkout is attempted with no items.
	ErrEmptyCart = errors.New("cart is empty", errors.CategoryBadInput).
		WithTextCode("empty_cart").
		WithCode(errors.CodeBadRequest)
)

var orderTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusPaid:    {},
		StatusFailed:  {},
		StatusExpired: {},
	},
}

// CartItem is one line in the cart.
type CartItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Cents    int64  `json:"cents"`
}

// Cart is the checkout payload.
type Cart struct {
	Items    []CartItem `json:"items"`
	Currency string     `json:"currency"`
}

func (c Cart) TotalCents() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.Cents * int64(item.Quantity)
	}
	return total
}

// fingerprint renders the cart contents order-independently so two carts
// with the same lines hash to the same reference.
func (c Cart) fingerprint() string {
	lines := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		lines = append(lines, fmt.Sprintf("%s:%d:%d", item.SKU, item.Quantity, item.Cents))
	}
	sort.Strings(lines)
	return strings.ToLower(c.Currency) + "|" + strings.Join(lines, "|")
}

// Order is the tracked order record. GatewayOrderID and GatewayKey come from
// the create-order edge call and are handed to the payment widget.
type Order struct {
	Reference      uuid.UUID `json:"reference"`
	UserID         string    `json:"user_id"`
	Status         Status    `json:"status"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	GatewayOrderID string    `json:"gateway_order_id"`
	GatewayKey     string    `json:"gateway_key"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// PaymentConfirmation is the triple the payment widget hands back on
// success.
type PaymentConfirmation struct {
	PaymentID      string `json:"payment_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	Signature      string `json:"signature"`
}

// EdgeCaller invokes a named hosted edge function with a JSON payload.
type EdgeCaller interface {
	Call(ctx context.Context, name string, payload any, out any) error
}

// EdgeCallerFunc adapts a function to the EdgeCaller interface.
type EdgeCallerFunc func(ctx context.Context, name string, payload any, out any) error

func (f EdgeCallerFunc) Call(ctx context.Context, name string, payload any, out any) error {
	return f(ctx, name, payload, out)
}

const (
	edgeCreateOrder   = "create-order"
	edgeVerifyPayment = "verify-payment"
)

// Sequencer drives the two-call checkout sequence and tracks pending orders
// until they settle. Safe for concurrent use.
type Sequencer struct {
	edge     EdgeCaller
	notifier session.Notifier
	activity session.ActivitySink
	logger   session.Logger
	window   time.Duration
	now      func() time.Time

	mu     sync.Mutex
	orders map[string]*Order
}

// SequencerOption customizes sequencer construction.
type SequencerOption func(*Sequencer)

func WithNotifier(n session.Notifier) SequencerOption {
	return func(s *Sequencer) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithActivitySink(sink session.ActivitySink) SequencerOption {
	return func(s *Sequencer) {
		if sink != nil {
			s.activity = sink
		}
	}
}

func WithLogger(logger session.Logger) SequencerOption {
	return func(s *Sequencer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithExpiryWindow(window time.Duration) SequencerOption {
	return func(s *Sequencer) {
		if window > 0 {
			s.window = window
		}
	}
}

// NewSequencer builds a sequencer over the edge function caller.
func NewSequencer(edge EdgeCaller, opts ...SequencerOption) *Sequencer {
	s := &Sequencer{
		edge:     edge,
		notifier: session.NotifierFunc(func(context.Context, session.Notification) {}),
		activity: session.ActivitySinkFunc(func(context.Context, session.ActivityRecord) {}),
		logger:   session.NewDefaultLogger(),
		window:   DefaultExpiryWindow,
		now:      time.Now,
		orders:   map[string]*Order{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Reference derives the deterministic order reference for a user and cart
// within the current expiry window. Re-invoking checkout for the same cart
// inside the window yields the same reference; after the window rolls over a
// fresh order is minted.
func (s *Sequencer) Reference(userID string, cart Cart, at time.Time) (uuid.UUID, error) {
	bucket := at.Unix() / int64(s.window.Seconds())
	input := fmt.Sprintf("%s|%s|%d", userID, cart.fingerprint(), bucket)

	ref, err := hashid.NewUUID(input)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, errors.CategoryInternal, "failed to derive order reference")
	}
	return ref, nil
}

type createOrderRequest struct {
	Reference   string     `json:"reference"`
	UserID      string     `json:"user_id"`
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
	Items       []CartItem `json:"items"`
}

type createOrderResponse struct {
	GatewayOrderID string `json:"gateway_order_id"`
	GatewayKey     string `json:"gateway_key"`
}

// CreateOrder runs the first edge call and returns the pending order to hand
// to the payment widget. Exactly one notification is emitted per invocation.
func (s *Sequencer) CreateOrder(ctx context.Context, userID string, cart Cart) (*Order, error) {
	if len(cart.Items) == 0 {
		s.notifyError(ctx, "Your cart is empty.", ErrEmptyCart)
		return nil, ErrEmptyCart
	}

	now := s.now()
	ref, err := s.Reference(userID, cart, now)
	if err != nil {
		s.notifyError(ctx, "Could not start checkout.", err)
		return nil, err
	}

	if existing := s.pendingOrder(ref, now); existing != nil {
		s.notifier.Notify(ctx, session.Notification{
			Severity: session.SeverityInfo,
			Message:  "Resuming your pending order.",
		})
		return existing, nil
	}

	var resp createOrderResponse
	err = s.edge.Call(ctx, edgeCreateOrder, createOrderRequest{
		Reference:   ref.String(),
		UserID:      userID,
		AmountCents: cart.TotalCents(),
		Currency:    cart.Currency,
		Items:       cart.Items,
	}, &resp)
	if err != nil {
		s.notifyError(ctx, "Could not start checkout.", err)
		return nil, err
	}

	order := &Order{
		Reference:      ref,
		UserID:         userID,
		Status:         StatusPending,
		AmountCents:    cart.TotalCents(),
		Currency:       cart.Currency,
		GatewayOrderID: resp.GatewayOrderID,
		GatewayKey:     resp.GatewayKey,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.window),
	}

	s.mu.Lock()
	s.orders[resp.GatewayOrderID] = order
	s.mu.Unlock()

	s.activity.Record(ctx, session.ActivityRecord{
		Event:  "order_created",
		UserID: userID,
		Metadata: map[string]any{
			"reference":    ref.String(),
			"amount_cents": order.AmountCents,
		},
	})
	s.notifier.Notify(ctx, session.Notification{
		Severity: session.SeverityInfo,
		Message:  "Order created. Opening payment...",
	})

	return order, nil
}

type verifyPaymentRequest struct {
	PaymentID      string `json:"payment_id"`
	GatewayOrderID string `json:"gateway_order_id"`
	Signature      string `json:"signature"`
}

type verifyPaymentResponse struct {
	Valid bool `json:"valid"`
}

// CompletePayment runs the verification edge call for the widget's
// confirmation triple and settles the order. A rejected verification moves
// the order to failed; it never silently stays pending.
func (s *Sequencer) CompletePayment(ctx context.Context, confirm PaymentConfirmation) (*Order, error) {
	order := s.trackedOrder(confirm.GatewayOrderID)
	if order == nil {
		s.notifyError(ctx, "We could not match your payment to an order.", ErrOrderNotFound)
		return nil, ErrOrderNotFound
	}

	var resp verifyPaymentResponse
	err := s.edge.Call(ctx, edgeVerifyPayment, verifyPaymentRequest{
		PaymentID:      confirm.PaymentID,
		GatewayOrderID: confirm.GatewayOrderID,
		Signature:      confirm.Signature,
	}, &resp)

	if err != nil || !resp.Valid {
		if err == nil {
			err = ErrVerificationFailed
		}
		if terr := s.transition(order, StatusFailed); terr != nil {
			s.logger.Error("failed order could not settle: %v", terr)
		}
		s.notifyError(ctx, "Payment could not be verified. You have not been charged twice; contact support if the amount was deducted.", err)
		return order, err
	}

	if err := s.transition(order, StatusPaid); err != nil {
		s.notifyError(ctx, "Payment verified but the order could not be finalized.", err)
		return order, err
	}

	s.activity.Record(ctx, session.ActivityRecord{
		Event:  "order_paid",
		UserID: order.UserID,
		Metadata: map[string]any{
			"reference":  order.Reference.String(),
			"payment_id": confirm.PaymentID,
		},
	})
	s.notifier.Notify(ctx, session.Notification{
		Severity: session.SeveritySuccess,
		Message:  "Payment successful. Thank you for your order!",
	})

	return order, nil
}

// pendingOrder sweeps lapsed and settled orders out of the tracking map and
// returns the live pending order for a reference, if any.
func (s *Sequencer) pendingOrder(ref uuid.UUID, now time.Time) *Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, order := range s.orders {
		if order.Status == StatusPending && now.After(order.ExpiresAt) {
			order.Status = StatusExpired
		}
		if order.Status != StatusPending {
			delete(s.orders, key)
		}
	}

	for _, order := range s.orders {
		if order.Reference == ref {
			return order
		}
	}
	return nil
}

func (s *Sequencer) trackedOrder(gatewayOrderID string) *Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[gatewayOrderID]
}

func (s *Sequencer) transition(order *Order, to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	allowed, ok := orderTransitions[order.Status]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidOrderTransition, order.Status, to)
	}
	if _, ok := allowed[to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidOrderTransition, order.Status, to)
	}

	order.Status = to
	// Settled orders are done; drop them so the map stays bounded.
	delete(s.orders, order.GatewayOrderID)
	return nil
}

func (s *Sequencer) notifyError(ctx context.Context, msg string, err error) {
	s.logger.Error("%s: %v", msg, err)
	s.notifier.Notify(ctx, session.Notification{
		Severity: session.SeverityError,
		Message:  msg,
		Err:      err,
	})
}
