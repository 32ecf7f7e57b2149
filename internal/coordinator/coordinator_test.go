package coordinator

import (
	"math"
	"testing"

	"pmmaker/internal/book"
	"pmmaker/internal/flow"
	"pmmaker/internal/inventory"
	"pmmaker/pkg/types"
)

func cleanOFI() flow.Snapshot {
	return flow.Snapshot{Yes: flow.Side{Toxic: false}, No: flow.Side{Toxic: false}}
}

func defaultCfg() Config {
	return Config{PairTarget: 0.99, BidSize: 2.0, Tick: types.TickSize(0.001)}
}

func usableSide(bid, ask float64) book.SideSnapshot {
	return book.SideSnapshot{BestBid: bid, BestAsk: ask, Mid: (bid + ask) / 2, Usable: true}
}

// S1 — Balanced happy path.
func TestDecideBalancedHappyPath(t *testing.T) {
	t.Parallel()
	bookSnap := book.Snapshot{Yes: usableSide(0.48, 0.50), No: usableSide(0.48, 0.50)}
	pos := inventory.Position{CanOpen: true}

	cmds, latched := decide(bookSnap, cleanOFI(), pos, defaultCfg())
	if latched {
		t.Fatal("should not latch GlobalKill")
	}
	want := []Command{
		{Kind: CmdPlace, Side: types.YES, Intent: types.Provide, Price: 0.49, Size: 2.0},
		{Kind: CmdPlace, Side: types.NO, Intent: types.Provide, Price: 0.49, Size: 2.0},
	}
	assertCommandsEqual(t, cmds, want)
}

// S2 — pair above target, excess deducted equally from both legs.
func TestDecideBalancedAboveTarget(t *testing.T) {
	t.Parallel()
	bookSnap := book.Snapshot{Yes: usableSide(0.60, 0.62), No: usableSide(0.40, 0.42)}
	pos := inventory.Position{CanOpen: true}

	cmds, _ := decide(bookSnap, cleanOFI(), pos, defaultCfg())
	want := []Command{
		{Kind: CmdPlace, Side: types.YES, Intent: types.Provide, Price: 0.595, Size: 2.0},
		{Kind: CmdPlace, Side: types.NO, Intent: types.Provide, Price: 0.395, Size: 2.0},
	}
	assertCommandsEqual(t, cmds, want)
}

// S3 — GlobalKill: toxic OFI on one side cancels both, no placements.
func TestDecideGlobalKill(t *testing.T) {
	t.Parallel()
	bookSnap := book.Snapshot{Yes: usableSide(0.48, 0.50), No: usableSide(0.48, 0.50)}
	ofiSnap := flow.Snapshot{Yes: flow.Side{Score: 80, Toxic: true}, No: flow.Side{Toxic: false}}
	pos := inventory.Position{CanOpen: true}

	cmds, latched := decide(bookSnap, ofiSnap, pos, defaultCfg())
	if !latched {
		t.Fatal("GlobalKill should latch")
	}
	want := []Command{
		{Kind: CmdCancelSide, Side: types.YES},
		{Kind: CmdCancelSide, Side: types.NO},
	}
	assertCommandsEqual(t, cmds, want)
}

// GlobalKill stays latched until BOTH sides clear, even if triggered by one.
func TestDecideGlobalKillLatchHoldsUntilBothClear(t *testing.T) {
	t.Parallel()
	bookSnap := book.Snapshot{Yes: usableSide(0.48, 0.50), No: usableSide(0.48, 0.50)}
	pos := inventory.Position{CanOpen: true}
	cfg := defaultCfg()

	// one side recovers, the other is still toxic: must stay latched
	ofiSnap := flow.Snapshot{Yes: flow.Side{Toxic: false}, No: flow.Side{Toxic: true}}
	cmds, latched := decide(bookSnap, ofiSnap, pos, cfg)
	if !latched {
		t.Fatal("latch should hold while any side is still toxic")
	}
	if len(cmds) == 0 || cmds[0].Kind != CmdCancelSide {
		t.Fatalf("expected cancel_side commands while latched, got %+v", cmds)
	}

	// both clear: latch releases and balanced pricing resumes
	cmds, latched = decide(bookSnap, cleanOFI(), pos, cfg)
	if latched {
		t.Fatal("latch should release once both sides are clean")
	}
	for _, c := range cmds {
		if c.Kind == CmdCancelSide {
			t.Fatalf("unexpected cancel_side after latch release: %+v", cmds)
		}
	}
}

// S4 — Hedge (YES-heavy).
func TestDecideHedgeYesHeavy(t *testing.T) {
	t.Parallel()
	bookSnap := book.Snapshot{No: usableSide(0.48, 0.50)}
	pos := inventory.Position{YesQty: 3, NoQty: 0, YesAvgCost: 0.50, NetDiff: 3, CanOpen: true}

	cmds, _ := decide(bookSnap, cleanOFI(), pos, defaultCfg())
	want := []Command{
		{Kind: CmdCancel, Side: types.YES, Intent: types.Provide},
		{Kind: CmdPlace, Side: types.NO, Intent: types.Hedge, Price: 0.49, Size: 2.0},
	}
	assertCommandsEqual(t, cmds, want)
}

// Hedge, symmetric NO-heavy case.
func TestDecideHedgeNoHeavy(t *testing.T) {
	t.Parallel()
	bookSnap := book.Snapshot{Yes: usableSide(0.48, 0.50)}
	pos := inventory.Position{YesQty: 0, NoQty: 3, NoAvgCost: 0.50, NetDiff: -3, CanOpen: true}

	cmds, _ := decide(bookSnap, cleanOFI(), pos, defaultCfg())
	want := []Command{
		{Kind: CmdCancel, Side: types.NO, Intent: types.Provide},
		{Kind: CmdPlace, Side: types.YES, Intent: types.Hedge, Price: 0.49, Size: 2.0},
	}
	assertCommandsEqual(t, cmds, want)
}

// Hedge ceiling exhausted: no hedge placed, only the Provide cancel.
func TestDecideHedgeCeilingExhaustedDoesNotHedge(t *testing.T) {
	t.Parallel()
	bookSnap := book.Snapshot{No: usableSide(0.10, 0.11)}
	// yes_avg_cost already at the pair target: ceil = 0.99 - 0.99 = 0 <= tick
	pos := inventory.Position{YesQty: 3, YesAvgCost: 0.99, NetDiff: 3, CanOpen: true}

	cmds, _ := decide(bookSnap, cleanOFI(), pos, defaultCfg())
	want := []Command{{Kind: CmdCancel, Side: types.YES, Intent: types.Provide}}
	assertCommandsEqual(t, cmds, want)
}

// invariant 2: no placements are ever emitted while GlobalKill holds.
func TestInvariantNoPlacementsDuringGlobalKill(t *testing.T) {
	t.Parallel()
	cfg := defaultCfg()
	bookSnap := book.Snapshot{Yes: usableSide(0.40, 0.60), No: usableSide(0.10, 0.90)}
	ofiSnap := flow.Snapshot{Yes: flow.Side{Toxic: true}, No: flow.Side{Toxic: true}}

	positions := []inventory.Position{
		{CanOpen: true},
		{NetDiff: 3, YesAvgCost: 0.4, CanOpen: true},
		{NetDiff: -3, NoAvgCost: 0.4, CanOpen: false},
	}
	for _, pos := range positions {
		cmds, _ := decide(bookSnap, ofiSnap, pos, cfg)
		for _, c := range cmds {
			if c.Kind == CmdPlace {
				t.Fatalf("GlobalKill emitted a placement: %+v", c)
			}
		}
	}
}

// invariant 3: when !can_open, no placement widens the heavy side further.
func TestInvariantNoWideningWhenCannotOpen(t *testing.T) {
	t.Parallel()
	cfg := defaultCfg()
	bookSnap := book.Snapshot{Yes: usableSide(0.48, 0.50), No: usableSide(0.48, 0.50)}

	// Balanced, flat, !can_open: only cancels.
	pos := inventory.Position{CanOpen: false}
	cmds, _ := decide(bookSnap, cleanOFI(), pos, cfg)
	for _, c := range cmds {
		if c.Kind == CmdPlace {
			t.Fatalf("balanced !can_open emitted a placement: %+v", c)
		}
	}

	// YES-heavy, !can_open: must not place MORE on YES (the heavy side).
	pos = inventory.Position{NetDiff: 3, YesAvgCost: 0.5, CanOpen: false}
	cmds, _ = decide(bookSnap, cleanOFI(), pos, cfg)
	for _, c := range cmds {
		if c.Kind == CmdPlace && c.Side == types.YES {
			t.Fatalf("!can_open widened the heavy YES side: %+v", c)
		}
	}
}

// invariant 5: balanced pricing never exceeds pair target and stays in range.
func TestInvariantBalancedPricingWithinBounds(t *testing.T) {
	t.Parallel()
	cfg := defaultCfg()
	const epsilon = 1e-9

	cases := []struct{ bid, ask, bid2, ask2 float64 }{
		{0.48, 0.50, 0.48, 0.50},
		{0.60, 0.62, 0.40, 0.42},
		{0.90, 0.95, 0.90, 0.95},
		{0.01, 0.02, 0.01, 0.02},
	}
	for _, c := range cases {
		bookSnap := book.Snapshot{Yes: usableSide(c.bid, c.ask), No: usableSide(c.bid2, c.ask2)}
		cmds, _ := decide(bookSnap, cleanOFI(), inventory.Position{CanOpen: true}, cfg)
		if len(cmds) != 2 {
			t.Fatalf("expected 2 place commands, got %+v", cmds)
		}
		sum := cmds[0].Price + cmds[1].Price
		if sum > cfg.PairTarget+epsilon {
			t.Errorf("bid_y+bid_n = %v, exceeds PairTarget %v", sum, cfg.PairTarget)
		}
		for _, cmd := range cmds {
			if cmd.Price < minPrice-epsilon || cmd.Price > maxPrice+epsilon {
				t.Errorf("price %v out of [%v, %v]", cmd.Price, minPrice, maxPrice)
			}
		}
	}
}

func TestDecideBalancedReturnsNilWhenBookUnusable(t *testing.T) {
	t.Parallel()
	bookSnap := book.Snapshot{Yes: book.SideSnapshot{Usable: false}, No: usableSide(0.48, 0.50)}
	cmds, _ := decide(bookSnap, cleanOFI(), inventory.Position{CanOpen: true}, defaultCfg())
	if cmds != nil {
		t.Fatalf("expected no commands when a side is unusable, got %+v", cmds)
	}
}

func assertCommandsEqual(t *testing.T, got, want []Command) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("commands = %+v, want %+v", got, want)
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.Kind != w.Kind || g.Side != w.Side || g.Intent != w.Intent {
			t.Fatalf("command[%d] = %+v, want %+v", i, g, w)
		}
		if math.Abs(g.Price-w.Price) > 1e-9 {
			t.Fatalf("command[%d].Price = %v, want %v", i, g.Price, w.Price)
		}
		if math.Abs(g.Size-w.Size) > 1e-9 {
			t.Fatalf("command[%d].Size = %v, want %v", i, g.Size, w.Size)
		}
	}
}
