package webpay

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	domain "github.com/levelupgamer/backend/internal/domain/payment"
	"github.com/levelupgamer/backend/internal/pkg/logging"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Config carries the connection parameters for the Webpay transaction
// service. Connect and read timeouts are bounded independently so a black
// hole on either side cannot stall an order indefinitely.
type Config struct {
	BaseURL        string
	ReturnURL      string
	SessionPrefix  string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// Metrics are optional request counters; a zero value records nothing.
type Metrics struct {
	Requests *prometheus.CounterVec   // labels: endpoint, outcome
	Duration *prometheus.HistogramVec // labels: endpoint
}

func (m Metrics) observe(endpoint, outcome string, elapsed time.Duration) {
	if m.Requests != nil {
		m.Requests.WithLabelValues(endpoint, outcome).Inc()
	}
	if m.Duration != nil {
		m.Duration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
	}
}

// Client talks to the Webpay mock service over HTTP. Provider and transport
// faults never escape as errors from Resolve/Confirm; they are folded into
// declined outcomes with a failure kind for the logs.
type Client struct {
	http    *resty.Client
	cfg     Config
	metrics Metrics
}

func NewClient(cfg Config, metrics Metrics) *Client {
	if cfg.SessionPrefix == "" {
		cfg.SessionPrefix = "LVLUP-"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.ReadTimeout).
		SetTransport(&http.Transport{
			DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		})

	return &Client{http: httpClient, cfg: cfg, metrics: metrics}
}

type transactionRequest struct {
	BuyOrder  string `json:"buy_order"`
	Amount    int64  `json:"amount"`
	SessionID string `json:"session_id"`
	ReturnURL string `json:"return_url"`
}

type confirmRequest struct {
	Token string `json:"token"`
}

type transactionResponse struct {
	Token             string `json:"token"`
	URL               string `json:"url"`
	Approved          bool   `json:"approved"`
	Status            string `json:"status"`
	Message           string `json:"message"`
	AuthorizationCode string `json:"authorization_code"`
	ResponseCode      int    `json:"response_code"`
}

// Initiate asks the provider to open a transaction and hands back the
// redirect token and URL. Unlike Resolve/Confirm, a fault here is an error:
// no order should be persisted against a gateway that never heard of it.
func (c *Client) Initiate(ctx context.Context, orderRef string, amount int64) (*domain.Init, error) {
	var res transactionResponse
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(c.transactionBody(orderRef, amount)).
		SetResult(&res).
		Post("/api/transaction")

	if kind, reason := classify(resp, err); kind != domain.FailureNone {
		c.metrics.observe("init", string(kind), time.Since(start))
		c.logFailure(ctx, "init", orderRef, kind, reason)
		return nil, fmt.Errorf("%w: %s", domain.ErrGatewayUnavailable, reason)
	}
	c.metrics.observe("init", "success", time.Since(start))

	logging.FromContext(ctx).Info("webpay_transaction_created",
		zap.String("order_ref", orderRef),
		zap.String("token", res.Token),
	)
	return &domain.Init{Token: res.Token, RedirectURL: res.URL}, nil
}

// ResolveSync runs the one-shot mock flow: the provider decides approval in
// the same round trip.
func (c *Client) ResolveSync(ctx context.Context, orderRef string, amount int64) domain.Outcome {
	var res transactionResponse
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(c.transactionBody(orderRef, amount)).
		SetResult(&res).
		Post("/api/transaction")

	if kind, reason := classify(resp, err); kind != domain.FailureNone {
		c.metrics.observe("resolve", string(kind), time.Since(start))
		c.logFailure(ctx, "resolve", orderRef, kind, reason)
		return domain.Outcome{FailureReason: reason, FailureKind: kind}
	}
	c.metrics.observe("resolve", outcomeLabel(res.Approved), time.Since(start))

	return toOutcome(res)
}

// Confirm completes a redirect flow using the token the provider returned
// to the customer's browser.
func (c *Client) Confirm(ctx context.Context, token string) domain.Outcome {
	var res transactionResponse
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(confirmRequest{Token: token}).
		SetResult(&res).
		Post("/api/transaction/confirm")

	if kind, reason := classify(resp, err); kind != domain.FailureNone {
		c.metrics.observe("confirm", string(kind), time.Since(start))
		c.logFailure(ctx, "confirm", token, kind, reason)
		return domain.Outcome{Token: token, FailureReason: reason, FailureKind: kind}
	}
	c.metrics.observe("confirm", outcomeLabel(res.Approved), time.Since(start))

	if res.Token == "" {
		res.Token = token
	}
	return toOutcome(res)
}

func (c *Client) transactionBody(orderRef string, amount int64) transactionRequest {
	return transactionRequest{
		BuyOrder:  orderRef,
		Amount:    amount,
		SessionID: c.cfg.SessionPrefix + orderRef,
		ReturnURL: c.cfg.ReturnURL,
	}
}

func (c *Client) logFailure(ctx context.Context, endpoint, ref string, kind domain.FailureKind, reason string) {
	logger := logging.FromContext(ctx).With(
		zap.String("component", "webpay_client"),
		zap.String("endpoint", endpoint),
		zap.String("ref", ref),
		zap.String("reason", reason),
	)
	// The three kinds point at different owners, so they log differently:
	// our request, their service, or the wire.
	switch kind {
	case domain.FailureClient:
		logger.Error("webpay_request_rejected")
	case domain.FailureServer:
		logger.Warn("webpay_provider_error")
	default:
		logger.Warn("webpay_unreachable")
	}
}

func toOutcome(res transactionResponse) domain.Outcome {
	out := domain.Outcome{
		Approved:          res.Approved,
		Token:             res.Token,
		AuthorizationCode: res.AuthorizationCode,
	}
	if !res.Approved {
		out.FailureReason = res.Message
		if out.FailureReason == "" {
			out.FailureReason = "payment declined"
		}
		out.FailureKind = domain.FailureDeclined
	}
	return out
}

// classify sorts a resty result into the three observable failure kinds:
// network (no response at all), client error (4xx) and server error (5xx).
func classify(resp *resty.Response, err error) (domain.FailureKind, string) {
	if err != nil {
		return domain.FailureNetwork, fmt.Sprintf("payment service unreachable: %v", err)
	}
	code := resp.StatusCode()
	switch {
	case code >= 500:
		return domain.FailureServer, fmt.Sprintf("payment service error: status %d", code)
	case code >= 400:
		return domain.FailureClient, fmt.Sprintf("payment request rejected: status %d", code)
	}
	return domain.FailureNone, ""
}

func outcomeLabel(approved bool) string {
	if approved {
		return "approved"
	}
	return "declined"
}
