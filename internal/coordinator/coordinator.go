// Package coordinator implements the single decision-making loop for one
// market: it fires whenever BookState, OFIEngine, or InventoryManager
// publish a new snapshot (or on a periodic tick, so nothing relies solely
// on event delivery) and turns the current state into a small set of
// Executor commands.
package coordinator

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"pmmaker/internal/book"
	"pmmaker/internal/executor"
	"pmmaker/internal/flow"
	"pmmaker/internal/inventory"
	"pmmaker/pkg/types"
)

// tickInterval is the periodic fallback cadence: the coordinator must
// re-evaluate at least this often even with no new snapshots.
const tickInterval = 100 * time.Millisecond

// hedgeUnit is the net_diff magnitude at or above which the market is considered
// "heavy" on one leg rather than balanced.
const hedgeUnit = 1.0

// minPrice/maxPrice are the fixed clamp bounds for balanced quote prices.
const (
	minPrice = 0.001
	maxPrice = 0.999
)

// CommandKind names the Executor operation a Command invokes.
type CommandKind string

const (
	CmdPlace      CommandKind = "place"
	CmdCancel     CommandKind = "cancel"
	CmdCancelSide CommandKind = "cancel_side"
)

// Command is one Executor invocation emitted by a decision pass.
type Command struct {
	Kind   CommandKind
	Side   types.Outcome
	Intent types.Intent
	Price  float64
	Size   float64
}

// State is the coordinator's state-machine label for one decision pass.
// Derived fresh every tick from the latest snapshots; nothing is persisted
// across ticks.
type State string

const (
	StateGlobalKill State = "GLOBAL_KILL"
	StateHedge      State = "HEDGE"
	StateBalanced   State = "BALANCED"
)

// Config holds the tunables the decision function needs.
type Config struct {
	PairTarget float64
	BidSize    float64
	Tick       types.TickSize
}

// Coordinator wires BookState/OFIEngine/InventoryManager snapshots to
// Executor commands. It is the single consumer task for a market: the
// event loop below never runs two decision passes concurrently.
type Coordinator struct {
	bookState *book.BookState
	ofi       *flow.OFIEngine
	inv       *inventory.Manager
	exec      *executor.Executor

	cfg Config

	lastState atomic.Value // State

	logger *slog.Logger
}

// State returns the state label from the most recently completed decision
// pass, for status reporting. Safe to call from any goroutine.
func (c *Coordinator) State() State {
	if v, ok := c.lastState.Load().(State); ok {
		return v
	}
	return StateBalanced
}

// New creates a Coordinator for one market's already-running producers.
func New(bookState *book.BookState, ofi *flow.OFIEngine, inv *inventory.Manager, exec *executor.Executor, cfg Config, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		bookState: bookState,
		ofi:       ofi,
		inv:       inv,
		exec:      exec,
		cfg:       cfg,
		logger:    logger.With("component", "coordinator"),
	}
}

// Run drives the decision loop until ctx is cancelled. It wakes on any
// producer publishing a new snapshot, or at least every tickInterval.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	bookWatch := c.bookState.Watch()
	ofiWatch := c.ofi.Watch()
	invWatch := c.inv.Watch()

	for {
		c.Tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-bookWatch:
			bookWatch = c.bookState.Watch()
		case <-ofiWatch:
			ofiWatch = c.ofi.Watch()
		case <-invWatch:
			invWatch = c.inv.Watch()
		case <-ticker.C:
		}
	}
}

// Tick runs exactly one decision pass: read the latest snapshots, decide
// the command set, and execute it. Failures accumulated by the Executor
// since the last tick are logged here — they already cleared their slot,
// so this tick's fresh decision naturally re-plans around them (edge
// policy: a failure never triggers an immediate re-place in the same
// tick it happened on).
func (c *Coordinator) Tick(ctx context.Context) {
	for _, f := range c.exec.DrainFailures() {
		c.logger.Warn("order failed", "side", f.Side, "intent", f.Intent, "reason", f.Reason)
	}

	bookSnap := c.bookState.Snapshot()
	ofiSnap := c.ofi.Snapshot()
	pos := c.inv.Snapshot()

	cmds, latched := decide(bookSnap, ofiSnap, pos, c.cfg)
	c.lastState.Store(stateLabel(latched, pos.NetDiff))

	c.execute(ctx, cmds)
}

func (c *Coordinator) execute(ctx context.Context, cmds []Command) {
	for _, cmd := range cmds {
		var err error
		switch cmd.Kind {
		case CmdPlace:
			err = c.exec.PlacePostOnly(ctx, cmd.Side, cmd.Intent, cmd.Price, cmd.Size)
		case CmdCancel:
			err = c.exec.Cancel(ctx, cmd.Side, cmd.Intent)
		case CmdCancelSide:
			err = c.exec.CancelSide(ctx, cmd.Side)
		}
		if err != nil {
			c.logger.Debug("command failed", "kind", cmd.Kind, "side", cmd.Side, "intent", cmd.Intent, "error", err)
		}
	}
}

// decide is the pure state machine: given the latest snapshots, it returns
// the commands for this tick and whether GlobalKill is tripped. State
// precedence is GlobalKill > Hedge > Balanced.
//
// GlobalKill is "tripped until both sides clear, not just the one that
// tripped it": since it's computed as Yes.Toxic || No.Toxic straight off
// the current snapshot, it stays true for as long as either side reports
// toxic and only clears once both report clean — no separate latch needs
// to be carried across ticks for that to hold.
func decide(bookSnap book.Snapshot, ofiSnap flow.Snapshot, pos inventory.Position, cfg Config) ([]Command, bool) {
	latched := ofiSnap.Yes.Toxic || ofiSnap.No.Toxic
	if latched {
		return []Command{
			{Kind: CmdCancelSide, Side: types.YES},
			{Kind: CmdCancelSide, Side: types.NO},
		}, true
	}

	netDiff := pos.NetDiff
	if math.Abs(netDiff) >= hedgeUnit {
		return hedgeCommands(netDiff, bookSnap, pos, cfg), false
	}
	return balancedCommands(bookSnap, pos, cfg), false
}

func balancedCommands(bookSnap book.Snapshot, pos inventory.Position, cfg Config) []Command {
	if !pos.CanOpen {
		return []Command{
			{Kind: CmdCancel, Side: types.YES, Intent: types.Provide},
			{Kind: CmdCancel, Side: types.NO, Intent: types.Provide},
		}
	}

	if !bookSnap.Yes.Usable || !bookSnap.No.Usable {
		return nil
	}

	midY, midN := bookSnap.Yes.Mid, bookSnap.No.Mid
	bidY, bidN := midY, midN
	if sum := midY + midN; sum > cfg.PairTarget {
		excess := sum - cfg.PairTarget
		bidY = midY - excess/2
		bidN = midN - excess/2
	}
	bidY = clamp(bidY, minPrice, maxPrice)
	bidN = clamp(bidN, minPrice, maxPrice)

	return []Command{
		{Kind: CmdPlace, Side: types.YES, Intent: types.Provide, Price: bidY, Size: cfg.BidSize},
		{Kind: CmdPlace, Side: types.NO, Intent: types.Provide, Price: bidN, Size: cfg.BidSize},
	}
}

func hedgeCommands(netDiff float64, bookSnap book.Snapshot, pos inventory.Position, cfg Config) []Command {
	if netDiff > 0 {
		return hedgeOneSide(types.YES, types.NO, pos.YesAvgCost, bookSnap.No, pos.CanOpen, cfg)
	}
	return hedgeOneSide(types.NO, types.YES, pos.NoAvgCost, bookSnap.Yes, pos.CanOpen, cfg)
}

// hedgeOneSide implements the hedge rules for the heavy leg: cancel its
// Provide slot, then place a Hedge order on the opposite leg priced
// aggressively enough to actually reduce net_diff, bounded by a ceiling
// derived from the heavy leg's average cost so the pair never buys its
// way past the target.
func hedgeOneSide(heavy, opposite types.Outcome, heavyAvgCost float64, oppositeBook book.SideSnapshot, canOpen bool, cfg Config) []Command {
	if !canOpen {
		return []Command{{Kind: CmdCancelSide, Side: heavy}}
	}

	cmds := []Command{{Kind: CmdCancel, Side: heavy, Intent: types.Provide}}

	ceil := cfg.PairTarget - heavyAvgCost
	tick := float64(cfg.Tick)
	if ceil <= tick {
		return cmds // pair already beyond target; hedging here would realize a loss past the spread
	}
	if !oppositeBook.Usable {
		return cmds
	}

	pHedge := math.Min(ceil, oppositeBook.BestAsk-tick)
	if pHedge <= 0 {
		return cmds
	}

	return append(cmds, Command{Kind: CmdPlace, Side: opposite, Intent: types.Hedge, Price: pHedge, Size: cfg.BidSize})
}

// stateLabel mirrors decide's precedence (GlobalKill > Hedge > Balanced)
// purely for status reporting; it never feeds back into a decision.
func stateLabel(killLatched bool, netDiff float64) State {
	switch {
	case killLatched:
		return StateGlobalKill
	case math.Abs(netDiff) >= hedgeUnit:
		return StateHedge
	default:
		return StateBalanced
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
