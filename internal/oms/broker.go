// Package oms is the Order Manager: idempotent submission, cancellation,
// reconciliation and emergency flattening against a Broker, in the
// validate-place-record-emit shape of a trade execution service,
// generalized from a single brokerage REST call into an interface with
// two implementations: the live exchange client, and a paper-mode fill
// simulator.
package oms

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/aristath/cryptotrader/internal/domain"
)

// Broker is the order-routing surface the OMS drives. The live exchange
// client and the paper simulator both implement it, so risk, sizing and
// journaling behave identically in either mode.
type Broker interface {
	PlaceOrder(ctx context.Context, order domain.ApprovedOrder) (string, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
	GetOrder(ctx context.Context, symbol, clientOrderID string) (domain.Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]domain.Order, error)
	GetPositions(ctx context.Context) ([]domain.Position, error)
}

// DefaultCadence is the bucket width clientOrderId derivation rounds
// asOf down to, so retries of the same tick reuse the same id.
const DefaultCadence = time.Minute

// DeriveClientOrderID builds the deterministic idempotency key from
// (strategyId, symbol, side, asOf) bucketed to cadence. Two calls with
// the same inputs in the same bucket always produce the same id, so a
// retried submission never creates a duplicate order.
func DeriveClientOrderID(strategyID, symbol string, side domain.Side, asOf time.Time, cadence time.Duration) string {
	if cadence <= 0 {
		cadence = DefaultCadence
	}
	bucket := asOf.Truncate(cadence).Unix()

	h := sha256.New()
	h.Write([]byte(strategyID))
	h.Write([]byte{0})
	h.Write([]byte(symbol))
	h.Write([]byte{0})
	h.Write([]byte(side))
	h.Write([]byte{0})
	h.Write([]byte(time.Unix(bucket, 0).UTC().Format(time.RFC3339)))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:12])
}
