// Package executor owns the local slot table of live post-only orders for
// one market and reconciles it against the venue via the exchange client.
// It is a single consumer task: the coordinator is the only caller, so the
// slot table mutations never race with themselves, but a mutex still
// guards it against the rotation drain path calling CancelAll from the
// engine's shutdown goroutine.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pmmaker/internal/exchange"
	"pmmaker/pkg/types"
)

// maxCancelRetryBackoff bounds the jittered retry delay for a single
// transient REST failure.
const maxCancelRetryBackoff = 250 * time.Millisecond

// Slot is the local record of at most one live order for a (side, intent)
// pair.
type Slot struct {
	Live     bool
	OrderID  string
	Price    float64
	Size     float64
	PostedAt time.Time
}

// OrderFailed is surfaced to the coordinator on the tick after a place
// attempt (including the cancel half of a reprice) fails terminally for a
// slot. The slot itself is cleared immediately; OrderFailed is just the
// notification. Failures of Cancel/CancelSide are returned, not enqueued.
type OrderFailed struct {
	Side   types.Outcome
	Intent types.Intent
	Reason string
}

// Executor is the Executor component: a fixed 2x2 (side, intent) slot
// table plus debounce/reprice gating in front of place_post_only, grounded
// on the cancel-then-place reconciliation of a single-market maker loop.
type Executor struct {
	mu sync.Mutex

	client *exchange.Client

	yesToken    string
	noToken     string
	conditionID string
	negRisk     bool

	tick             types.TickSize
	repriceThreshold float64
	debounce         time.Duration

	slots [2][2]Slot // [sideIdx][intentIdx]

	pendingFailed []OrderFailed

	logger *slog.Logger
}

// Config bundles the tunables Executor needs from the engine's
// configuration without importing the config package directly.
type Config struct {
	TickSize         types.TickSize
	RepriceThreshold float64
	DebounceMS       int
}

// New creates an Executor for one market.
func New(client *exchange.Client, info types.MarketInfo, cfg Config, logger *slog.Logger) *Executor {
	return &Executor{
		client:           client,
		yesToken:         info.YesTokenID,
		noToken:          info.NoTokenID,
		conditionID:      info.ConditionID,
		negRisk:          info.NegRisk,
		tick:             cfg.TickSize,
		repriceThreshold: cfg.RepriceThreshold,
		debounce:         time.Duration(cfg.DebounceMS) * time.Millisecond,
		logger:           logger.With("component", "executor", "market", info.Slug),
	}
}

// DrainFailures returns and clears the failures accumulated since the last
// call. The coordinator calls this once per tick, never mid-decision, so
// an OrderFailed is always observed on the tick after it happened, never
// the same tick it was produced.
func (e *Executor) DrainFailures() []OrderFailed {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pendingFailed) == 0 {
		return nil
	}
	out := e.pendingFailed
	e.pendingFailed = nil
	return out
}

// Slots returns a snapshot of the local slot table, keyed by (side, intent).
func (e *Executor) Slots() map[[2]string]Slot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[[2]string]Slot, 4)
	for _, side := range []types.Outcome{types.YES, types.NO} {
		for _, intent := range []types.Intent{types.Provide, types.Hedge} {
			out[[2]string{string(side), string(intent)}] = e.slots[sideIdx(side)][intentIdx(intent)]
		}
	}
	return out
}

// PlacePostOnly places (or reprices) the order for (side, intent). A
// request is a no-op if it is too close to the live price, or arrived
// too soon after the slot was last touched.
func (e *Executor) PlacePostOnly(ctx context.Context, side types.Outcome, intent types.Intent, price, size float64) error {
	price = roundPrice(price)
	size = roundSize(size)
	price = clampPrice(price, e.tick)

	e.mu.Lock()
	si, ii := sideIdx(side), intentIdx(intent)
	slot := e.slots[si][ii]

	if slot.Live {
		if math.Abs(price-slot.Price) < e.repriceThreshold {
			e.mu.Unlock()
			return nil // suppressed: reprice threshold not met
		}
		if time.Since(slot.PostedAt) < e.debounce {
			e.mu.Unlock()
			return nil // suppressed: debounced
		}
	}
	e.mu.Unlock()

	if slot.Live {
		if err := e.cancelSlot(ctx, side, intent); err != nil {
			if errors.Is(err, exchange.ErrAuthFailed) {
				return err
			}
			// cancel failed terminally — leave the slot cleared (cancelSlot
			// already did so) and surface the failure instead of risking a
			// double-booked order by placing anyway.
			e.enqueueFailed(side, intent, fmt.Sprintf("cancel failed: %v", err))
			return err
		}
	}

	return e.placeNew(ctx, side, intent, price, size)
}

func (e *Executor) placeNew(ctx context.Context, side types.Outcome, intent types.Intent, price, size float64) error {
	order := types.UserOrder{
		TokenID:   e.tokenFor(side),
		Price:     price,
		Size:      size,
		Side:      types.BUY,
		OrderType: types.OrderTypeGTC,
		PostOnly:  true,
	}

	var results []types.OrderResponse
	err := e.retryOnce(ctx, func() error {
		r, err := e.client.PostOrders(ctx, []types.UserOrder{order}, e.negRisk)
		results = r
		return err
	})

	si, ii := sideIdx(side), intentIdx(intent)

	if err != nil {
		if errors.Is(err, exchange.ErrAuthFailed) {
			e.logger.Error("auth failure placing order", "side", side, "intent", intent, "error", err)
			return err
		}

		e.mu.Lock()
		e.slots[si][ii] = Slot{}
		e.mu.Unlock()

		reason := "transient"
		switch {
		case errors.Is(err, exchange.ErrRateLimited):
			reason = "rate_limited"
		case errors.Is(err, exchange.ErrRejected):
			reason = "reject"
		}
		e.enqueueFailed(side, intent, reason)
		return err
	}

	if len(results) == 0 || !results[0].Success {
		reason := "reject"
		if len(results) > 0 && results[0].ErrorMsg != "" {
			reason = results[0].ErrorMsg
		}
		e.mu.Lock()
		e.slots[si][ii] = Slot{}
		e.mu.Unlock()
		e.enqueueFailed(side, intent, reason)
		return fmt.Errorf("order rejected: %s", reason)
	}

	e.mu.Lock()
	e.slots[si][ii] = Slot{
		Live:     true,
		OrderID:  results[0].OrderID,
		Price:    price,
		Size:     size,
		PostedAt: time.Now(),
	}
	e.mu.Unlock()
	return nil
}

// Cancel cancels the live order for (side, intent), if any. Idempotent:
// cancelling an empty slot is a no-op success.
func (e *Executor) Cancel(ctx context.Context, side types.Outcome, intent types.Intent) error {
	return e.cancelSlot(ctx, side, intent)
}

// CancelSide cancels both intents' slots for one side.
func (e *Executor) CancelSide(ctx context.Context, side types.Outcome) error {
	var errs []error
	for _, intent := range []types.Intent{types.Provide, types.Hedge} {
		if err := e.cancelSlot(ctx, side, intent); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CancelAll issues a venue-wide cancel-all (used at shutdown / market
// rotation) and clears every local slot regardless of the REST outcome —
// by the time this is called the book is either closing or the process is
// exiting, so a stale local slot is worse than an extra cancel.
func (e *Executor) CancelAll(ctx context.Context) error {
	_, err := e.client.CancelAll(ctx)

	e.mu.Lock()
	e.slots = [2][2]Slot{}
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("cancel_all failed", "error", err)
	}
	return err
}

func (e *Executor) cancelSlot(ctx context.Context, side types.Outcome, intent types.Intent) error {
	si, ii := sideIdx(side), intentIdx(intent)

	e.mu.Lock()
	slot := e.slots[si][ii]
	e.mu.Unlock()
	if !slot.Live {
		return nil
	}

	err := e.retryOnce(ctx, func() error {
		_, err := e.client.CancelOrders(ctx, []string{slot.OrderID})
		return err
	})
	if err != nil && !errors.Is(err, exchange.ErrAuthFailed) {
		// client.CancelOrders already treats a 404 as success, so any error
		// here is a genuine failure (rejected, rate-limited, or exhausted
		// the one retry). Clear the slot anyway: we can no longer vouch for
		// whether the order is still live, and holding a stale slot would
		// permanently suppress future place attempts for it.
		e.mu.Lock()
		e.slots[si][ii] = Slot{}
		e.mu.Unlock()
		return err
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.slots[si][ii] = Slot{}
	e.mu.Unlock()
	return nil
}

func (e *Executor) enqueueFailed(side types.Outcome, intent types.Intent, reason string) {
	e.mu.Lock()
	e.pendingFailed = append(e.pendingFailed, OrderFailed{Side: side, Intent: intent, Reason: reason})
	e.mu.Unlock()
	e.logger.Warn("order failed", "side", side, "intent", intent, "reason", reason)
}

func (e *Executor) tokenFor(side types.Outcome) string {
	if side == types.YES {
		return e.yesToken
	}
	return e.noToken
}

// retryOnce implements the failure semantics of §5/§7: a transient error
// gets one immediate retry after a jittered backoff; rate-limit and venue
// rejections are never retried since retrying the identical request
// cannot help.
func (e *Executor) retryOnce(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if errors.Is(err, exchange.ErrRateLimited) || errors.Is(err, exchange.ErrRejected) || errors.Is(err, exchange.ErrAuthFailed) {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitteredBackoff()):
	}
	return fn()
}

func jitteredBackoff() time.Duration {
	return time.Duration(rand.Int63n(int64(maxCancelRetryBackoff)))
}

func sideIdx(side types.Outcome) int {
	if side == types.YES {
		return 0
	}
	return 1
}

func intentIdx(intent types.Intent) int {
	if intent == types.Provide {
		return 0
	}
	return 1
}

// roundPrice implements round(price*1000)/1000.
func roundPrice(price float64) float64 {
	d := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(1000)).Round(0).Div(decimal.NewFromInt(1000))
	f, _ := d.Float64()
	return f
}

// roundSize implements round(size*1_000_000)/1_000_000.
func roundSize(size float64) float64 {
	d := decimal.NewFromFloat(size).Mul(decimal.NewFromInt(1_000_000)).Round(0).Div(decimal.NewFromInt(1_000_000))
	f, _ := d.Float64()
	return f
}

func clampPrice(price float64, tick types.TickSize) float64 {
	lo := float64(tick)
	hi := 1 - float64(tick)
	if price < lo {
		return lo
	}
	if price > hi {
		return hi
	}
	return price
}
