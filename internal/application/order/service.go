package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	domcatalog "github.com/levelupgamer/backend/internal/domain/catalog"
	"github.com/levelupgamer/backend/internal/domain/identity"
	domain "github.com/levelupgamer/backend/internal/domain/order"
	dompayment "github.com/levelupgamer/backend/internal/domain/payment"
	"github.com/levelupgamer/backend/internal/domain/pricing"
	"github.com/levelupgamer/backend/internal/pkg/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	reasonStockChanged    = "stock changed during processing"
	reasonStockAtConfirm  = "insufficient stock at payment confirmation"
	reasonCheckoutExpired = "checkout expired"
)

// ErrForbidden is returned when a caller reads an order they neither own
// nor are entitled to by role.
var ErrForbidden = errors.New("order: access denied")

// Service owns the order lifecycle: creation, stock validation, payment
// initiation and callback reconciliation. Every order moves PENDING to
// exactly one of APPROVED or REJECTED; stock is only touched on approval.
type Service struct {
	repo    domain.Repository
	catalog CatalogGateway
	gateway PaymentGateway
	pricing pricing.Config
	ids     IDGenerator
	metrics Metrics
	tracer  trace.Tracer
}

func NewService(
	repo domain.Repository,
	catalog CatalogGateway,
	gateway PaymentGateway,
	ids IDGenerator,
	pricingCfg pricing.Config,
	metrics Metrics,
) *Service {
	return &Service{
		repo:    repo,
		catalog: catalog,
		gateway: gateway,
		pricing: pricingCfg,
		ids:     ids,
		metrics: metrics,
		tracer:  otel.Tracer("order-lifecycle"),
	}
}

type ItemInput struct {
	ProductID string
	Quantity  int
}

type CreateOrderInput struct {
	OwnerID         string
	Items           []ItemInput
	IncludeShipping bool
}

// OrderResult is the materialized view returned to the caller once a
// synchronous order attempt has resolved.
type OrderResult struct {
	OrderID           string
	Status            domain.Status
	Subtotal          int64
	Tax               int64
	Shipping          int64
	Total             int64
	ExternalToken     string
	AuthorizationCode string
	PaymentMessage    string
	Lines             []domain.Line
	CreatedAt         time.Time
}

// InitResult is the redirect handle returned when an asynchronous order is
// started; the order stays PENDING until the provider calls back.
type InitResult struct {
	OrderID     string
	Token       string
	RedirectURL string
	Subtotal    int64
	Tax         int64
	Shipping    int64
	Total       int64
}

type CallbackResult struct {
	Message string
	OrderID string
	Status  domain.Status
	Total   int64
}

// PaymentStatus is the read projection for "where is my payment" queries
// keyed by gateway token.
type PaymentStatus struct {
	OrderID    string
	Token      string
	Status     domain.Status
	Subtotal   int64
	Tax        int64
	Shipping   int64
	Total      int64
	ItemsCount int
	CreatedAt  time.Time
}

// CreateOrderSync runs the synchronous flow: validate stock, price, persist
// PENDING, resolve payment in one round trip, then commit or reject. A
// declined payment is a normal outcome, returned as a REJECTED order, not
// as an error.
func (s *Service) CreateOrderSync(ctx context.Context, input CreateOrderInput) (*OrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "CreateOrderSync",
		trace.WithAttributes(
			attribute.String("order.owner_id", input.OwnerID),
			attribute.Int("order.items", len(input.Items)),
		))
	defer span.End()

	logger := logging.FromContext(ctx).With(zap.String("component", "order_lifecycle"))

	lines, quote, err := s.validateAndPrice(ctx, input.Items, input.IncludeShipping)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	entity, err := domain.New(s.ids.NewID(), input.OwnerID, s.ids.NewToken(), lines, quote)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.repo.Insert(ctx, entity); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("order: insert: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", entity.ID))
	logger.Info("order_pending",
		zap.String("order_id", entity.ID),
		zap.Int64("total", entity.Total),
	)

	outcome := s.gateway.ResolveSync(ctx, entity.ID, entity.Total)
	if outcome.Token != "" && outcome.Token != entity.ExternalToken {
		if err := entity.ReplaceExternalToken(outcome.Token); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	message := outcome.FailureReason
	if outcome.Approved {
		if commitErr := s.commitStock(ctx, entity); commitErr != nil {
			if !errors.Is(commitErr, domcatalog.ErrInsufficientStock) {
				span.RecordError(commitErr)
				return nil, commitErr
			}
			logger.Warn("stock_moved_between_check_and_commit",
				zap.String("order_id", entity.ID),
				zap.Error(commitErr),
			)
			if err := entity.Reject(reasonStockChanged); err != nil {
				return nil, err
			}
			message = reasonStockChanged
		} else {
			if err := entity.Approve(); err != nil {
				return nil, err
			}
			message = "payment approved"
		}
	} else {
		if message == "" {
			message = "payment rejected"
		}
		logger.Info("payment_declined",
			zap.String("order_id", entity.ID),
			zap.String("failure_kind", string(outcome.FailureKind)),
			zap.String("reason", outcome.FailureReason),
		)
		if err := entity.Reject(message); err != nil {
			return nil, err
		}
	}

	if err := s.repo.Update(ctx, entity); err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			// The expiry sweep got there first; return the stock this
			// attempt took.
			if entity.Status == domain.StatusApproved {
				s.releaseStock(ctx, entity.ID, entity.Lines)
			}
			return nil, fmt.Errorf("order %s already resolved: %w", entity.ID, domain.ErrInvalidStateTransition)
		}
		return nil, fmt.Errorf("order: update: %w", err)
	}

	s.metrics.resolved("sync", string(entity.Status))
	span.SetAttributes(attribute.String("order.status", string(entity.Status)))
	logger.Info("order_resolved",
		zap.String("order_id", entity.ID),
		zap.String("status", string(entity.Status)),
	)

	return &OrderResult{
		OrderID:           entity.ID,
		Status:            entity.Status,
		Subtotal:          entity.Subtotal,
		Tax:               entity.Tax,
		Shipping:          entity.Shipping,
		Total:             entity.Total,
		ExternalToken:     entity.ExternalToken,
		AuthorizationCode: outcome.AuthorizationCode,
		PaymentMessage:    message,
		Lines:             entity.Lines,
		CreatedAt:         entity.CreatedAt,
	}, nil
}

// InitOrderAsync starts the redirect flow: validate and price, ask the
// gateway for a transaction first, and only then persist the PENDING order
// under the gateway's token. If the gateway cannot be reached nothing is
// persisted and the caller gets the error directly.
func (s *Service) InitOrderAsync(ctx context.Context, input CreateOrderInput) (*InitResult, error) {
	ctx, span := s.tracer.Start(ctx, "InitOrderAsync",
		trace.WithAttributes(
			attribute.String("order.owner_id", input.OwnerID),
			attribute.Int("order.items", len(input.Items)),
		))
	defer span.End()

	logger := logging.FromContext(ctx).With(zap.String("component", "order_lifecycle"))

	lines, quote, err := s.validateAndPrice(ctx, input.Items, input.IncludeShipping)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	orderID := s.ids.NewID()
	init, err := s.gateway.Initiate(ctx, orderID, quote.Total)
	if err != nil {
		span.RecordError(err)
		logger.Error("gateway_initiate_failed",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("order: initiate payment: %w", err)
	}

	token := init.Token
	if token == "" {
		token = s.ids.NewToken()
	}

	entity, err := domain.New(orderID, input.OwnerID, token, lines, quote)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.repo.Insert(ctx, entity); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("order: insert: %w", err)
	}

	span.SetAttributes(attribute.String("order.id", entity.ID))
	logger.Info("order_awaiting_callback",
		zap.String("order_id", entity.ID),
		zap.String("token", token),
		zap.Int64("total", entity.Total),
	)

	return &InitResult{
		OrderID:     entity.ID,
		Token:       token,
		RedirectURL: init.RedirectURL,
		Subtotal:    quote.Subtotal,
		Tax:         quote.Tax,
		Shipping:    quote.Shipping,
		Total:       quote.Total,
	}, nil
}

// HandleCallback reconciles a provider notification with local state. A
// callback for an already-terminal order is rejected with
// ErrInvalidStateTransition so provider retries can never be applied twice.
func (s *Service) HandleCallback(ctx context.Context, token, providerStatus string) (*CallbackResult, error) {
	ctx, span := s.tracer.Start(ctx, "HandleCallback",
		trace.WithAttributes(attribute.String("callback.status", providerStatus)))
	defer span.End()

	logger := logging.FromContext(ctx).With(
		zap.String("component", "order_lifecycle"),
		zap.String("token", token),
	)

	entity, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		span.RecordError(err)
		s.metrics.callback("unknown_token")
		return nil, fmt.Errorf("order: lookup by token: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", entity.ID))

	if entity.Terminal() {
		s.metrics.callback("duplicate")
		logger.Warn("callback_on_terminal_order",
			zap.String("order_id", entity.ID),
			zap.String("current_status", string(entity.Status)),
		)
		return nil, fmt.Errorf("order %s already %s: %w",
			entity.ID, entity.Status, domain.ErrInvalidStateTransition)
	}

	approved := dompayment.Authorized(providerStatus)
	message, err := s.applyResolution(ctx, entity, approved, fmt.Sprintf("provider reported %s", providerStatus))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.callback(string(entity.Status))
	s.metrics.resolved("async", string(entity.Status))
	span.SetAttributes(attribute.String("order.status", string(entity.Status)))
	logger.Info("callback_applied",
		zap.String("order_id", entity.ID),
		zap.String("provider_status", providerStatus),
		zap.String("status", string(entity.Status)),
	)

	return &CallbackResult{
		Message: message,
		OrderID: entity.ID,
		Status:  entity.Status,
		Total:   entity.Total,
	}, nil
}

// ConfirmPayment completes a redirect flow from our side: instead of
// trusting a pushed status, the gateway is asked to confirm the transaction
// under the token the provider sent the customer back with.
func (s *Service) ConfirmPayment(ctx context.Context, token string) (*CallbackResult, error) {
	ctx, span := s.tracer.Start(ctx, "ConfirmPayment")
	defer span.End()

	logger := logging.FromContext(ctx).With(
		zap.String("component", "order_lifecycle"),
		zap.String("token", token),
	)

	entity, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		span.RecordError(err)
		s.metrics.callback("unknown_token")
		return nil, fmt.Errorf("order: lookup by token: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", entity.ID))

	if entity.Terminal() {
		s.metrics.callback("duplicate")
		return nil, fmt.Errorf("order %s already %s: %w",
			entity.ID, entity.Status, domain.ErrInvalidStateTransition)
	}

	outcome := s.gateway.Confirm(ctx, token)
	declineReason := outcome.FailureReason
	if declineReason == "" {
		declineReason = "payment rejected"
	}

	message, err := s.applyResolution(ctx, entity, outcome.Approved, declineReason)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.callback(string(entity.Status))
	s.metrics.resolved("async", string(entity.Status))
	span.SetAttributes(attribute.String("order.status", string(entity.Status)))
	logger.Info("payment_confirmed",
		zap.String("order_id", entity.ID),
		zap.String("status", string(entity.Status)),
	)

	return &CallbackResult{
		Message: message,
		OrderID: entity.ID,
		Status:  entity.Status,
		Total:   entity.Total,
	}, nil
}

// applyResolution moves a PENDING order to its terminal state and persists
// it. Approval still has to win the stock commit; a shortfall at this point
// rejects the order despite the provider's authorization.
func (s *Service) applyResolution(ctx context.Context, entity *domain.Order, approved bool, declineReason string) (string, error) {
	logger := logging.FromContext(ctx).With(zap.String("component", "order_lifecycle"))

	message := declineReason
	if approved {
		if commitErr := s.commitStock(ctx, entity); commitErr != nil {
			if !errors.Is(commitErr, domcatalog.ErrInsufficientStock) {
				return "", commitErr
			}
			// Stock truth wins over the provider's authorization; the
			// out-of-band refund obligation is on the payment side.
			logger.Warn("authorized_but_out_of_stock",
				zap.String("order_id", entity.ID),
				zap.Error(commitErr),
			)
			if err := entity.Reject(reasonStockAtConfirm); err != nil {
				return "", err
			}
			message = reasonStockAtConfirm
		} else {
			if err := entity.Approve(); err != nil {
				return "", err
			}
			message = "payment approved"
		}
	} else {
		if err := entity.Reject(declineReason); err != nil {
			return "", err
		}
	}

	if err := s.repo.Update(ctx, entity); err != nil {
		// Lost the transition to a concurrent writer (a retried callback
		// or the expiry sweep): hand back whatever stock this attempt
		// took, the winner's resolution stands.
		if errors.Is(err, domain.ErrInvalidStateTransition) {
			if entity.Status == domain.StatusApproved {
				s.releaseStock(ctx, entity.ID, entity.Lines)
			}
			return "", fmt.Errorf("order %s already resolved: %w", entity.ID, domain.ErrInvalidStateTransition)
		}
		return "", fmt.Errorf("order: update: %w", err)
	}
	return message, nil
}

// GetOrder returns one order, enforcing that callers read their own orders
// unless their role set grants wider access.
func (s *Service) GetOrder(ctx context.Context, orderID, callerID string, roles identity.Roles) (*domain.Order, error) {
	entity, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !roles.CanReadAnyOrder() && entity.OwnerID != callerID {
		return nil, ErrForbidden
	}
	return entity, nil
}

// ListOrders returns the caller's own orders, newest first.
func (s *Service) ListOrders(ctx context.Context, ownerID string) ([]*domain.Order, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// ListAllOrders returns one page across all owners; elevated roles only.
func (s *Service) ListAllOrders(ctx context.Context, roles identity.Roles, page, size int) ([]*domain.Order, int64, error) {
	if !roles.CanReadAnyOrder() {
		return nil, 0, ErrForbidden
	}
	if page < 0 {
		page = 0
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return s.repo.List(ctx, page, size)
}

// GetPaymentStatus projects the order found under a gateway token.
func (s *Service) GetPaymentStatus(ctx context.Context, token string) (*PaymentStatus, error) {
	entity, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return &PaymentStatus{
		OrderID:    entity.ID,
		Token:      entity.ExternalToken,
		Status:     entity.Status,
		Subtotal:   entity.Subtotal,
		Tax:        entity.Tax,
		Shipping:   entity.Shipping,
		Total:      entity.Total,
		ItemsCount: len(entity.Lines),
		CreatedAt:  entity.CreatedAt,
	}, nil
}

// ExpirePending rejects PENDING orders older than the given age: redirect
// checkouts the customer abandoned and that will never see a callback.
// Returns how many orders were swept.
func (s *Service) ExpirePending(ctx context.Context, olderThan time.Duration) (int, error) {
	logger := logging.FromContext(ctx).With(zap.String("component", "order_lifecycle"))

	stale, err := s.repo.ListPendingBefore(ctx, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("order: list pending: %w", err)
	}

	swept := 0
	for _, entity := range stale {
		if err := entity.Reject(reasonCheckoutExpired); err != nil {
			continue
		}
		if err := s.repo.Update(ctx, entity); err != nil {
			// A callback resolved the order between the scan and here;
			// that resolution stands.
			if !errors.Is(err, domain.ErrInvalidStateTransition) {
				logger.Error("expire_update_failed",
					zap.String("order_id", entity.ID),
					zap.Error(err),
				)
			}
			continue
		}
		swept++
		logger.Info("order_expired", zap.String("order_id", entity.ID))
	}
	return swept, nil
}

// validateAndPrice checks every line against the catalog (read-only, no
// reservation) and prices the cart. Any failure here aborts the attempt
// before anything is persisted.
func (s *Service) validateAndPrice(ctx context.Context, items []ItemInput, includeShipping bool) ([]domain.Line, pricing.Quote, error) {
	if len(items) == 0 {
		return nil, pricing.Quote{}, domain.ErrEmptyItems
	}

	lines := make([]domain.Line, 0, len(items))
	prices := make([]pricing.LinePrice, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, pricing.Quote{}, fmt.Errorf("product %s: %w", item.ProductID, domain.ErrInvalidQuantity)
		}
		av, err := s.catalog.CheckAvailability(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return nil, pricing.Quote{}, err
		}
		if !av.Available {
			return nil, pricing.Quote{}, fmt.Errorf("product %s: have %d, want %d: %w",
				item.ProductID, av.Stock, item.Quantity, domcatalog.ErrInsufficientStock)
		}
		lines = append(lines, domain.Line{
			ProductID:   av.ProductID,
			ProductName: av.Name,
			Quantity:    item.Quantity,
			UnitPrice:   av.UnitPrice,
		})
		prices = append(prices, pricing.LinePrice{UnitPrice: av.UnitPrice, Quantity: item.Quantity})
	}

	return lines, pricing.Compute(prices, s.pricing, includeShipping), nil
}

// commitStock consumes stock for every line. If any adjustment fails the
// already-applied decrements are compensated in reverse order before the
// error is returned, leaving stock as it was.
func (s *Service) commitStock(ctx context.Context, entity *domain.Order) error {
	applied := make([]domain.Line, 0, len(entity.Lines))
	for _, line := range entity.Lines {
		if _, err := s.catalog.AdjustStock(ctx, line.ProductID, -line.Quantity); err != nil {
			s.releaseStock(ctx, entity.ID, applied)
			return fmt.Errorf("product %s: %w", line.ProductID, err)
		}
		applied = append(applied, line)
	}
	return nil
}

// releaseStock returns previously taken units, newest decrement first.
func (s *Service) releaseStock(ctx context.Context, orderID string, lines []domain.Line) {
	logger := logging.FromContext(ctx).With(zap.String("component", "order_lifecycle"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if _, err := s.catalog.AdjustStock(ctx, line.ProductID, line.Quantity); err != nil {
			logger.Error("stock_rollback_failed",
				zap.String("order_id", orderID),
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err),
			)
		}
	}
}
