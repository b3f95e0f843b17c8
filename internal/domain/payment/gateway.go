package payment

import (
	"context"
	"errors"
	"strings"
)

// ErrGatewayUnavailable is returned by Initiate when the provider cannot
// even be reached to start a transaction. Resolve and Confirm never return
// errors for provider faults; those collapse into a declined Outcome.
var ErrGatewayUnavailable = errors.New("payment: gateway unavailable")

// FailureKind classifies why a payment attempt failed, for logging and
// metrics. Every kind maps to the same rejected order outcome.
type FailureKind string

const (
	FailureNone     FailureKind = ""
	FailureDeclined FailureKind = "declined"
	FailureClient   FailureKind = "client-error"
	FailureServer   FailureKind = "server-error"
	FailureNetwork  FailureKind = "network-error"
)

// Outcome is the normalized result of a payment attempt, regardless of
// which backend produced it.
type Outcome struct {
	Approved          bool
	Token             string
	AuthorizationCode string
	FailureReason     string
	FailureKind       FailureKind
}

// Init carries the redirect handle returned when an asynchronous flow is
// started; the customer completes payment at RedirectURL and the provider
// calls back later with the token.
type Init struct {
	Token       string
	RedirectURL string
}

// Gateway is the uniform contract over the configured payment backend
// (local simulator or Webpay HTTP service).
type Gateway interface {
	// Initiate starts an asynchronous redirect flow. It does not resolve
	// approval; that arrives via callback or Confirm.
	Initiate(ctx context.Context, orderRef string, amount int64) (*Init, error)

	// ResolveSync runs the whole payment in one round trip. Transport and
	// provider faults are absorbed into a declined Outcome.
	ResolveSync(ctx context.Context, orderRef string, amount int64) Outcome

	// Confirm completes an asynchronous flow previously started by
	// Initiate, given the token the provider handed back.
	Confirm(ctx context.Context, token string) Outcome
}

// Authorized reports whether a provider callback status string maps to the
// success path. Everything outside the known success set (FAILED, REJECTED,
// ABORTED, TIMEOUT, and anything unrecognized) is a failure.
func Authorized(status string) bool {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "AUTHORIZED", "OK":
		return true
	default:
		return false
	}
}
