// Package payment holds the gateway port and the reconcilers that apply
// gateway verdicts to appointment and subscription orders.
package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrGateway marks failures of the outbound gateway calls. The local
// order stays pending when it is returned; the expiry worker cleans up
// orders whose redirect never completed.
var ErrGateway = errors.New("payment gateway unavailable")

const (
	// Buy order prefixes. Total length stays at 26, the gateway caps
	// buy orders at 26 characters.
	BuyOrderPrefixAppointment  = "APT-"
	BuyOrderPrefixSubscription = "SUB-"

	statusAuthorized = "AUTHORIZED"
)

// CreateResult is the gateway's answer to a new transaction: an
// ephemeral token and the URL the payer is redirected to.
type CreateResult struct {
	Token string
	URL   string
}

// CommitResult is the gateway's verdict after the payer returns.
type CommitResult struct {
	BuyOrder          string
	SessionID         string
	Status            string
	ResponseCode      int
	Amount            int64
	AuthorizationCode string
	Raw               []byte
}

// Authorized reports whether the order was actually captured. Both
// conditions are required; status alone is not sufficient.
func (r CommitResult) Authorized() bool {
	return r.Status == statusAuthorized && r.ResponseCode == 0
}

// Gateway is the Webpay Plus surface the engine depends on. Commit is
// never retried: the gateway rejects a second commit of the same token.
type Gateway interface {
	CreateTransaction(ctx context.Context, buyOrder, sessionID string, amount int64, returnURL string) (*CreateResult, error)
	CommitTransaction(ctx context.Context, token string) (*CommitResult, error)
}

// NewBuyOrder builds a correlation key the engine owns end to end:
// prefix plus 22 hex characters.
func NewBuyOrder(prefix string) string {
	var b [11]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to
		// a time-derived suffix rather than panic in a request path.
		return fmt.Sprintf("%s%022x", prefix, time.Now().UnixNano())
	}
	return prefix + hex.EncodeToString(b[:])
}
