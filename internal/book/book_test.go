package book

import (
	"testing"

	"pmmaker/pkg/types"
)

const (
	testYesToken = "yes-token-123"
	testNoToken  = "no-token-456"
)

func newTestBookState() *BookState {
	return New(testYesToken, testNoToken)
}

func TestApplyBookSnapshot(t *testing.T) {
	t.Parallel()
	bs := newTestBookState()

	bs.ApplyBook(types.WSBookEvent{
		AssetID: testYesToken,
		Buys:    []types.PriceLevel{{Price: "0.55", Size: "100"}, {Price: "0.54", Size: "200"}},
		Sells:   []types.PriceLevel{{Price: "0.57", Size: "150"}},
	})

	snap := bs.Snapshot()
	if !snap.Yes.Usable {
		t.Fatal("Yes side should be usable after snapshot with both sides")
	}
	if snap.Yes.BestBid != 0.55 {
		t.Errorf("BestBid = %v, want 0.55", snap.Yes.BestBid)
	}
	if snap.Yes.BestAsk != 0.57 {
		t.Errorf("BestAsk = %v, want 0.57", snap.Yes.BestAsk)
	}
	if snap.Yes.Mid != 0.56 {
		t.Errorf("Mid = %v, want 0.56", snap.Yes.Mid)
	}
	if snap.No.Usable {
		t.Error("No side should not be usable before any data")
	}
}

func TestApplyPriceChangeRecomputesBest(t *testing.T) {
	t.Parallel()
	bs := newTestBookState()

	bs.ApplyBook(types.WSBookEvent{
		AssetID: testYesToken,
		Buys:    []types.PriceLevel{{Price: "0.50", Size: "10"}},
		Sells:   []types.PriceLevel{{Price: "0.60", Size: "10"}},
	})

	bs.ApplyPriceChange(types.WSPriceChangeEvent{
		PriceChanges: []types.WSPriceChange{
			{AssetID: testYesToken, Side: "BUY", Price: "0.52", Size: "5"},
		},
	})

	snap := bs.Snapshot()
	if snap.Yes.BestBid != 0.52 {
		t.Errorf("BestBid after delta = %v, want 0.52", snap.Yes.BestBid)
	}
	if snap.Yes.BestAsk != 0.60 {
		t.Errorf("BestAsk after delta = %v, want 0.60", snap.Yes.BestAsk)
	}
}

func TestApplyPriceChangeRemovesLevel(t *testing.T) {
	t.Parallel()
	bs := newTestBookState()

	bs.ApplyBook(types.WSBookEvent{
		AssetID: testYesToken,
		Buys:    []types.PriceLevel{{Price: "0.50", Size: "10"}, {Price: "0.48", Size: "20"}},
		Sells:   []types.PriceLevel{{Price: "0.60", Size: "10"}},
	})

	// size 0 removes the top bid, new best should fall back to 0.48
	bs.ApplyPriceChange(types.WSPriceChangeEvent{
		PriceChanges: []types.WSPriceChange{
			{AssetID: testYesToken, Side: "BUY", Price: "0.50", Size: "0"},
		},
	})

	snap := bs.Snapshot()
	if snap.Yes.BestBid != 0.48 {
		t.Errorf("BestBid after removal = %v, want 0.48", snap.Yes.BestBid)
	}
}

func TestEmptyingSideRetainsLastValidAndMarksUnusable(t *testing.T) {
	t.Parallel()
	bs := newTestBookState()

	bs.ApplyBook(types.WSBookEvent{
		AssetID: testYesToken,
		Buys:    []types.PriceLevel{{Price: "0.50", Size: "10"}},
		Sells:   []types.PriceLevel{{Price: "0.60", Size: "10"}},
	})

	// drop the only ask level — the side goes empty on one leg
	bs.ApplyPriceChange(types.WSPriceChangeEvent{
		PriceChanges: []types.WSPriceChange{
			{AssetID: testYesToken, Side: "SELL", Price: "0.60", Size: "0"},
		},
	})

	snap := bs.Snapshot()
	if snap.Yes.Usable {
		t.Error("Yes side should be unusable once a leg empties")
	}
	// last_valid_book retained
	if snap.Yes.BestBid != 0.50 || snap.Yes.BestAsk != 0.60 {
		t.Errorf("expected last valid best (0.50, 0.60), got (%v, %v)", snap.Yes.BestBid, snap.Yes.BestAsk)
	}
}

func TestCrossedBookMarkedUnusable(t *testing.T) {
	t.Parallel()
	bs := newTestBookState()

	bs.ApplyBook(types.WSBookEvent{
		AssetID: testYesToken,
		Buys:    []types.PriceLevel{{Price: "0.60", Size: "10"}},
		Sells:   []types.PriceLevel{{Price: "0.55", Size: "10"}},
	})

	snap := bs.Snapshot()
	if snap.Yes.Usable {
		t.Error("crossed book (bid >= ask) should not be usable")
	}
}

func TestSnapshotSeqMonotonic(t *testing.T) {
	t.Parallel()
	bs := newTestBookState()

	bs.ApplyBook(types.WSBookEvent{AssetID: testYesToken, Buys: []types.PriceLevel{{Price: "0.5", Size: "1"}}, Sells: []types.PriceLevel{{Price: "0.6", Size: "1"}}})
	first := bs.Snapshot().Seq

	bs.ApplyBook(types.WSBookEvent{AssetID: testNoToken, Buys: []types.PriceLevel{{Price: "0.4", Size: "1"}}, Sells: []types.PriceLevel{{Price: "0.45", Size: "1"}}})
	second := bs.Snapshot().Seq

	if second <= first {
		t.Errorf("seq should be monotonically increasing: first=%d second=%d", first, second)
	}
}
