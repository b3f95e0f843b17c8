package order

import (
	"context"

	domcatalog "github.com/levelupgamer/backend/internal/domain/catalog"
	dompayment "github.com/levelupgamer/backend/internal/domain/payment"
)

type IDGenerator interface {
	NewID() string
	// NewToken returns a locally generated gateway-style token, used until
	// the provider assigns its own.
	NewToken() string
}

// CatalogGateway is the outbound port for stock reads and adjustments.
type CatalogGateway interface {
	CheckAvailability(ctx context.Context, productID string, quantity int) (*domcatalog.Availability, error)
	AdjustStock(ctx context.Context, productID string, delta int) (int, error)
}

// PaymentGateway is the outbound port for whichever payment backend is
// configured.
type PaymentGateway interface {
	dompayment.Gateway
}
