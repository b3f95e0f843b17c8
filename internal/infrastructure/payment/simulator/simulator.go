package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	domain "github.com/levelupgamer/backend/internal/domain/payment"
	"github.com/levelupgamer/backend/internal/pkg/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Gateway resolves payments locally without any network hop. Useful for
// development and tests; approval is rolled against a configurable rate
// (1.0 approves everything, mirroring the provider's integration sandbox).
type Gateway struct {
	mu           sync.Mutex
	random       *rand.Rand
	approvalRate float64
	returnURL    string
}

func New(approvalRate float64, returnURL string) *Gateway {
	if approvalRate < 0 {
		approvalRate = 0
	}
	if approvalRate > 1 {
		approvalRate = 1
	}
	return &Gateway{
		random:       rand.New(rand.NewSource(time.Now().UnixNano())),
		approvalRate: approvalRate,
		returnURL:    returnURL,
	}
}

func (g *Gateway) Initiate(ctx context.Context, orderRef string, amount int64) (*domain.Init, error) {
	_ = amount
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}

	token := newToken()
	logging.FromContext(ctx).Info("simulator_init",
		zap.String("order_ref", orderRef),
		zap.String("token", token),
	)
	return &domain.Init{
		Token:       token,
		RedirectURL: g.returnURL + "?token=" + token,
	}, nil
}

func (g *Gateway) ResolveSync(ctx context.Context, orderRef string, amount int64) domain.Outcome {
	logger := logging.FromContext(ctx).With(
		zap.String("component", "payment_simulator"),
		zap.String("order_ref", orderRef),
		zap.Int64("amount", amount),
	)

	if !g.roll() {
		logger.Info("simulator_declined")
		return domain.Outcome{
			Token:         newToken(),
			FailureReason: "payment declined by simulator",
			FailureKind:   domain.FailureDeclined,
		}
	}

	logger.Info("simulator_approved")
	return domain.Outcome{
		Approved:          true,
		Token:             newToken(),
		AuthorizationCode: authCode(),
	}
}

func (g *Gateway) Confirm(ctx context.Context, token string) domain.Outcome {
	logger := logging.FromContext(ctx).With(
		zap.String("component", "payment_simulator"),
		zap.String("token", token),
	)

	if !g.roll() {
		logger.Info("simulator_declined")
		return domain.Outcome{
			Token:         token,
			FailureReason: "payment declined by simulator",
			FailureKind:   domain.FailureDeclined,
		}
	}

	logger.Info("simulator_approved")
	return domain.Outcome{
		Approved:          true,
		Token:             token,
		AuthorizationCode: authCode(),
	}
}

func (g *Gateway) roll() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.random.Float64() < g.approvalRate
}

func newToken() string {
	return "tbk_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func authCode() string {
	return fmt.Sprintf("AUTH-%d", time.Now().UnixMilli())
}
