package order_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appcatalog "github.com/levelupgamer/backend/internal/application/catalog"
	apporder "github.com/levelupgamer/backend/internal/application/order"
	domcatalog "github.com/levelupgamer/backend/internal/domain/catalog"
	"github.com/levelupgamer/backend/internal/domain/identity"
	domorder "github.com/levelupgamer/backend/internal/domain/order"
	dompayment "github.com/levelupgamer/backend/internal/domain/payment"
	"github.com/levelupgamer/backend/internal/domain/pricing"
	"github.com/levelupgamer/backend/internal/infrastructure/memory"
)

type stubIDs struct{ n int }

func (s *stubIDs) NewID() string {
	s.n++
	return fmt.Sprintf("ord-%d", s.n)
}

func (s *stubIDs) NewToken() string {
	return fmt.Sprintf("tbk_local%02d", s.n)
}

// scriptedGateway returns canned answers so tests control the payment side
// completely.
type scriptedGateway struct {
	approve     bool
	token       string
	redirectURL string
	initErr     error
}

func (g *scriptedGateway) Initiate(_ context.Context, _ string, _ int64) (*dompayment.Init, error) {
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &dompayment.Init{Token: g.token, RedirectURL: g.redirectURL}, nil
}

func (g *scriptedGateway) ResolveSync(_ context.Context, _ string, _ int64) dompayment.Outcome {
	if g.approve {
		return dompayment.Outcome{Approved: true, Token: g.token, AuthorizationCode: "AUTH-1"}
	}
	return dompayment.Outcome{
		Approved:      false,
		FailureReason: "payment declined by simulator",
		FailureKind:   dompayment.FailureDeclined,
	}
}

func (g *scriptedGateway) Confirm(ctx context.Context, orderRef string) dompayment.Outcome {
	return g.ResolveSync(ctx, orderRef, 0)
}

// failingCatalog delegates to the real catalog service but fails the stock
// decrement for one product, as if a concurrent order had taken the units.
type failingCatalog struct {
	apporder.CatalogGateway
	failProduct string
	adjusts     []string
}

func (c *failingCatalog) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	if productID == c.failProduct && delta < 0 {
		return 0, domcatalog.ErrInsufficientStock
	}
	c.adjusts = append(c.adjusts, fmt.Sprintf("%s:%d", productID, delta))
	return c.CatalogGateway.AdjustStock(ctx, productID, delta)
}

type fixture struct {
	orders   *memory.OrderRepository
	products *memory.ProductRepository
	catalog  *appcatalog.Service
	gateway  *scriptedGateway
	service  *apporder.Service
}

func newFixture(t *testing.T, gateway *scriptedGateway) *fixture {
	t.Helper()
	return newFixtureWithCatalog(t, gateway, nil)
}

// wrapCatalog lets a test interpose on the catalog gateway the service sees
// while still hitting the fixture's real product repository underneath.
func newFixtureWithCatalog(t *testing.T, gateway *scriptedGateway, wrapCatalog func(apporder.CatalogGateway) apporder.CatalogGateway) *fixture {
	t.Helper()

	products := memory.NewProductRepository()
	ctx := context.Background()
	for _, p := range []struct {
		id    string
		name  string
		price int64
		stock int
	}{
		{"p1", "Catan", 29990, 5},
		{"p2", "Carcassonne", 24990, 3},
	} {
		prod, err := domcatalog.NewProduct(p.id, p.name, p.price, p.stock)
		require.NoError(t, err)
		require.NoError(t, products.Save(ctx, prod))
	}

	orders := memory.NewOrderRepository()
	catalogSvc := appcatalog.NewService(products)

	var gw apporder.CatalogGateway = catalogSvc
	if wrapCatalog != nil {
		gw = wrapCatalog(catalogSvc)
	}

	svc := apporder.NewService(
		orders,
		gw,
		gateway,
		&stubIDs{},
		pricing.Config{TaxRate: 0.19, ShippingCost: 3990},
		apporder.Metrics{},
	)

	return &fixture{orders: orders, products: products, catalog: catalogSvc, gateway: gateway, service: svc}
}

func (f *fixture) stock(t *testing.T, productID string) int {
	t.Helper()
	p, err := f.products.Get(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func TestCreateOrderSyncApproved(t *testing.T) {
	f := newFixture(t, &scriptedGateway{approve: true, token: "tbk_gateway1"})

	result, err := f.service.CreateOrderSync(context.Background(), apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items: []apporder.ItemInput{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
		IncludeShipping: true,
	})
	require.NoError(t, err)

	assert.Equal(t, domorder.StatusApproved, result.Status)
	assert.Equal(t, int64(84970), result.Subtotal) // 2*29990 + 24990
	assert.Equal(t, int64(16144), result.Tax)      // 84970 * 0.19 = 16144.3
	assert.Equal(t, int64(3990), result.Shipping)
	assert.Equal(t, int64(105104), result.Total)
	assert.Equal(t, "tbk_gateway1", result.ExternalToken)
	assert.Equal(t, "AUTH-1", result.AuthorizationCode)
	assert.Equal(t, "payment approved", result.PaymentMessage)

	assert.Equal(t, 3, f.stock(t, "p1"))
	assert.Equal(t, 2, f.stock(t, "p2"))

	stored, err := f.orders.Get(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusApproved, stored.Status)
	assert.Len(t, stored.Lines, 2)
	assert.Equal(t, "Catan", stored.Lines[0].ProductName)
}

func TestCreateOrderSyncDeclinedLeavesStock(t *testing.T) {
	f := newFixture(t, &scriptedGateway{approve: false})

	result, err := f.service.CreateOrderSync(context.Background(), apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	require.NoError(t, err)

	assert.Equal(t, domorder.StatusRejected, result.Status)
	assert.Equal(t, "payment declined by simulator", result.PaymentMessage)
	assert.Equal(t, 5, f.stock(t, "p1"))

	stored, err := f.orders.Get(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "payment declined by simulator", stored.FailureReason)
}

func TestCreateOrderSyncDrainsStockToZero(t *testing.T) {
	f := newFixture(t, &scriptedGateway{approve: true})

	result, err := f.service.CreateOrderSync(context.Background(), apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 5}},
	})
	require.NoError(t, err)

	assert.Equal(t, domorder.StatusApproved, result.Status)
	assert.Equal(t, 0, f.stock(t, "p1"))
}

func TestCreateOrderSyncInsufficientStockUpfront(t *testing.T) {
	f := newFixture(t, &scriptedGateway{approve: true})

	_, err := f.service.CreateOrderSync(context.Background(), apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 6}},
	})
	assert.ErrorIs(t, err, domcatalog.ErrInsufficientStock)

	// Nothing was persisted and stock is untouched.
	_, total, listErr := f.orders.List(context.Background(), 0, 10)
	require.NoError(t, listErr)
	assert.Zero(t, total)
	assert.Equal(t, 5, f.stock(t, "p1"))
}

func TestCreateOrderSyncValidation(t *testing.T) {
	f := newFixture(t, &scriptedGateway{approve: true})
	ctx := context.Background()

	_, err := f.service.CreateOrderSync(ctx, apporder.CreateOrderInput{OwnerID: "user-1"})
	assert.ErrorIs(t, err, domorder.ErrEmptyItems)

	_, err = f.service.CreateOrderSync(ctx, apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 0}},
	})
	assert.ErrorIs(t, err, domorder.ErrInvalidQuantity)

	_, err = f.service.CreateOrderSync(ctx, apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "ghost", Quantity: 1}},
	})
	assert.ErrorIs(t, err, domcatalog.ErrNotFound)
}

func TestCreateOrderSyncCompensatesPartialCommit(t *testing.T) {
	var failing *failingCatalog
	f := newFixtureWithCatalog(t, &scriptedGateway{approve: true}, func(inner apporder.CatalogGateway) apporder.CatalogGateway {
		failing = &failingCatalog{CatalogGateway: inner, failProduct: "p2"}
		return failing
	})

	result, err := f.service.CreateOrderSync(context.Background(), apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items: []apporder.ItemInput{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
	})
	require.NoError(t, err)

	// Payment approved but the second decrement failed, so the first one
	// must have been compensated and the order rejected.
	assert.Equal(t, domorder.StatusRejected, result.Status)
	assert.Equal(t, "stock changed during processing", result.PaymentMessage)
	assert.Equal(t, 5, f.stock(t, "p1"))
	assert.Equal(t, 3, f.stock(t, "p2"))
	assert.Equal(t, []string{"p1:-2", "p1:2"}, failing.adjusts)
}

func TestInitOrderAsync(t *testing.T) {
	f := newFixture(t, &scriptedGateway{token: "tbk_async1", redirectURL: "http://pay.example/redirect?token=tbk_async1"})

	result, err := f.service.InitOrderAsync(context.Background(), apporder.CreateOrderInput{
		OwnerID:         "user-1",
		Items:           []apporder.ItemInput{{ProductID: "p1", Quantity: 1}},
		IncludeShipping: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "tbk_async1", result.Token)
	assert.Equal(t, "http://pay.example/redirect?token=tbk_async1", result.RedirectURL)
	assert.Equal(t, int64(29990+5698+3990), result.Total)

	// Order is parked PENDING and no stock moved yet.
	stored, err := f.orders.GetByToken(context.Background(), "tbk_async1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusPending, stored.Status)
	assert.Equal(t, 5, f.stock(t, "p1"))
}

func TestInitOrderAsyncGatewayDown(t *testing.T) {
	f := newFixture(t, &scriptedGateway{initErr: dompayment.ErrGatewayUnavailable})

	_, err := f.service.InitOrderAsync(context.Background(), apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	assert.ErrorIs(t, err, dompayment.ErrGatewayUnavailable)

	_, total, listErr := f.orders.List(context.Background(), 0, 10)
	require.NoError(t, listErr)
	assert.Zero(t, total)
}

func TestHandleCallbackAuthorized(t *testing.T) {
	f := newFixture(t, &scriptedGateway{token: "tbk_cb1"})

	init, err := f.service.InitOrderAsync(context.Background(), apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 2}},
	})
	require.NoError(t, err)

	result, err := f.service.HandleCallback(context.Background(), init.Token, "AUTHORIZED")
	require.NoError(t, err)

	assert.Equal(t, domorder.StatusApproved, result.Status)
	assert.Equal(t, "payment approved", result.Message)
	assert.Equal(t, init.OrderID, result.OrderID)
	assert.Equal(t, 3, f.stock(t, "p1"))
}

func TestHandleCallbackIsIdempotent(t *testing.T) {
	f := newFixture(t, &scriptedGateway{token: "tbk_cb2"})

	init, err := f.service.InitOrderAsync(context.Background(), apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 2}},
	})
	require.NoError(t, err)

	_, err = f.service.HandleCallback(context.Background(), init.Token, "AUTHORIZED")
	require.NoError(t, err)

	// Provider retry: must not re-apply, stock stays where it is.
	_, err = f.service.HandleCallback(context.Background(), init.Token, "AUTHORIZED")
	assert.ErrorIs(t, err, domorder.ErrInvalidStateTransition)
	assert.Equal(t, 3, f.stock(t, "p1"))
}

// rendezvousCatalog holds every decrement at a barrier until all expected
// parties arrive, forcing concurrent callers past the terminal check before
// either commits.
type rendezvousCatalog struct {
	apporder.CatalogGateway
	barrier *sync.WaitGroup
}

func (c *rendezvousCatalog) AdjustStock(ctx context.Context, productID string, delta int) (int, error) {
	if delta < 0 {
		c.barrier.Done()
		c.barrier.Wait()
	}
	return c.CatalogGateway.AdjustStock(ctx, productID, delta)
}

func TestHandleCallbackConcurrentRetries(t *testing.T) {
	var barrier sync.WaitGroup
	barrier.Add(2)
	f := newFixtureWithCatalog(t, &scriptedGateway{token: "tbk_race1"}, func(inner apporder.CatalogGateway) apporder.CatalogGateway {
		return &rendezvousCatalog{CatalogGateway: inner, barrier: &barrier}
	})
	ctx := context.Background()

	init, err := f.service.InitOrderAsync(ctx, apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 2}},
	})
	require.NoError(t, err)

	// Two provider retries of the same callback land at once; the barrier
	// guarantees both are past the terminal check before either commits.
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.service.HandleCallback(ctx, init.Token, "AUTHORIZED")
			errs <- err
		}()
	}

	var failures []error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			failures = append(failures, err)
		}
	}

	// Exactly one retry wins; the loser reports the duplicate and hands
	// its stock back, so the quantity is decremented exactly once.
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], domorder.ErrInvalidStateTransition)
	assert.Equal(t, 3, f.stock(t, "p1"))

	stored, err := f.orders.Get(ctx, init.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusApproved, stored.Status)
}

func TestHandleCallbackFailureStatuses(t *testing.T) {
	for _, status := range []string{"FAILED", "REJECTED", "ABORTED", "TIMEOUT"} {
		t.Run(status, func(t *testing.T) {
			f := newFixture(t, &scriptedGateway{token: "tbk_" + status})

			init, err := f.service.InitOrderAsync(context.Background(), apporder.CreateOrderInput{
				OwnerID: "user-1",
				Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 1}},
			})
			require.NoError(t, err)

			result, err := f.service.HandleCallback(context.Background(), init.Token, status)
			require.NoError(t, err)

			assert.Equal(t, domorder.StatusRejected, result.Status)
			assert.Equal(t, 5, f.stock(t, "p1"))

			stored, err := f.orders.Get(context.Background(), init.OrderID)
			require.NoError(t, err)
			assert.Equal(t, "provider reported "+status, stored.FailureReason)
		})
	}
}

func TestConfirmPayment(t *testing.T) {
	f := newFixture(t, &scriptedGateway{token: "tbk_ret1", approve: true})
	ctx := context.Background()

	init, err := f.service.InitOrderAsync(ctx, apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 2}},
	})
	require.NoError(t, err)

	result, err := f.service.ConfirmPayment(ctx, init.Token)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusApproved, result.Status)
	assert.Equal(t, 3, f.stock(t, "p1"))

	_, err = f.service.ConfirmPayment(ctx, init.Token)
	assert.ErrorIs(t, err, domorder.ErrInvalidStateTransition)
}

func TestConfirmPaymentDeclined(t *testing.T) {
	f := newFixture(t, &scriptedGateway{token: "tbk_ret2"})
	ctx := context.Background()

	init, err := f.service.InitOrderAsync(ctx, apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	require.NoError(t, err)

	result, err := f.service.ConfirmPayment(ctx, init.Token)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusRejected, result.Status)
	assert.Equal(t, "payment declined by simulator", result.Message)
	assert.Equal(t, 5, f.stock(t, "p1"))
}

func TestHandleCallbackUnknownToken(t *testing.T) {
	f := newFixture(t, &scriptedGateway{})

	_, err := f.service.HandleCallback(context.Background(), "tbk_ghost", "AUTHORIZED")
	assert.ErrorIs(t, err, domorder.ErrNotFound)
}

func TestHandleCallbackAuthorizedButStockGone(t *testing.T) {
	f := newFixture(t, &scriptedGateway{token: "tbk_cb3"})
	ctx := context.Background()

	init, err := f.service.InitOrderAsync(ctx, apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 5}},
	})
	require.NoError(t, err)

	// Stock drains while the customer sits on the provider's payment page.
	_, err = f.products.AdjustStock(ctx, "p1", -3)
	require.NoError(t, err)

	result, err := f.service.HandleCallback(ctx, init.Token, "AUTHORIZED")
	require.NoError(t, err)

	assert.Equal(t, domorder.StatusRejected, result.Status)
	assert.Equal(t, "insufficient stock at payment confirmation", result.Message)
	assert.Equal(t, 2, f.stock(t, "p1"))
}

func TestGetOrderOwnership(t *testing.T) {
	f := newFixture(t, &scriptedGateway{approve: true})
	ctx := context.Background()

	created, err := f.service.CreateOrderSync(ctx, apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	require.NoError(t, err)

	// Owner reads their own order.
	o, err := f.service.GetOrder(ctx, created.OrderID, "user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, created.OrderID, o.ID)

	// A stranger does not.
	_, err = f.service.GetOrder(ctx, created.OrderID, "user-2", nil)
	assert.ErrorIs(t, err, apporder.ErrForbidden)

	// Elevated roles read any order.
	for _, role := range []identity.Role{identity.RoleAdmin, identity.RoleSeller} {
		_, err = f.service.GetOrder(ctx, created.OrderID, "user-2", identity.Roles{role})
		assert.NoError(t, err)
	}

	_, err = f.service.GetOrder(ctx, "ghost", "user-1", nil)
	assert.ErrorIs(t, err, domorder.ErrNotFound)
}

func TestListAllOrdersRequiresElevatedRole(t *testing.T) {
	f := newFixture(t, &scriptedGateway{approve: true})
	ctx := context.Background()

	_, _, err := f.service.ListAllOrders(ctx, identity.Roles{identity.RoleCustomer}, 0, 10)
	assert.ErrorIs(t, err, apporder.ErrForbidden)

	for i := 0; i < 3; i++ {
		_, err := f.service.CreateOrderSync(ctx, apporder.CreateOrderInput{
			OwnerID: fmt.Sprintf("user-%d", i),
			Items:   []apporder.ItemInput{{ProductID: "p2", Quantity: 1}},
		})
		require.NoError(t, err)
	}

	orders, total, err := f.service.ListAllOrders(ctx, identity.Roles{identity.RoleAdmin}, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, orders, 2)

	// Out-of-range page sizes fall back to sane bounds.
	orders, _, err = f.service.ListAllOrders(ctx, identity.Roles{identity.RoleAdmin}, -1, 0)
	require.NoError(t, err)
	assert.Len(t, orders, 3)
}

func TestGetPaymentStatus(t *testing.T) {
	f := newFixture(t, &scriptedGateway{token: "tbk_status1"})
	ctx := context.Background()

	init, err := f.service.InitOrderAsync(ctx, apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 2}},
	})
	require.NoError(t, err)

	status, err := f.service.GetPaymentStatus(ctx, init.Token)
	require.NoError(t, err)
	assert.Equal(t, init.OrderID, status.OrderID)
	assert.Equal(t, domorder.StatusPending, status.Status)
	assert.Equal(t, 1, status.ItemsCount)
	assert.Equal(t, init.Total, status.Total)

	_, err = f.service.GetPaymentStatus(ctx, "tbk_ghost")
	assert.ErrorIs(t, err, domorder.ErrNotFound)
}

func TestExpirePending(t *testing.T) {
	f := newFixture(t, &scriptedGateway{token: "tbk_exp1"})
	ctx := context.Background()

	init, err := f.service.InitOrderAsync(ctx, apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	require.NoError(t, err)

	// Nothing is old enough yet.
	swept, err := f.service.ExpirePending(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, swept)

	time.Sleep(5 * time.Millisecond)
	swept, err = f.service.ExpirePending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	stored, err := f.orders.Get(ctx, init.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusRejected, stored.Status)
	assert.Equal(t, "checkout expired", stored.FailureReason)

	// The sweep is itself a callback-safe transition: a late provider
	// notification now hits the terminal guard.
	_, err = f.service.HandleCallback(ctx, init.Token, "AUTHORIZED")
	assert.ErrorIs(t, err, domorder.ErrInvalidStateTransition)
	assert.Equal(t, 5, f.stock(t, "p1"))
}

func TestInitOrderAsyncDuplicateTokenConflicts(t *testing.T) {
	f := newFixture(t, &scriptedGateway{approve: true, token: "tbk_dup"})
	ctx := context.Background()

	_, err := f.service.InitOrderAsync(ctx, apporder.CreateOrderInput{
		OwnerID: "user-1",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	require.NoError(t, err)

	// Same gateway token again collides on the unique token index.
	_, err = f.service.InitOrderAsync(ctx, apporder.CreateOrderInput{
		OwnerID: "user-2",
		Items:   []apporder.ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	assert.ErrorIs(t, err, domorder.ErrConflict)
}
