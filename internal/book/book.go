// Package book maintains the local mirror of a binary market's two order
// books (YES and NO) from snapshot and delta events on the public stream,
// and answers mid/best queries for the coordinator.
package book

import (
	"strconv"
	"sync"
	"time"

	"pmmaker/internal/watch"
	"pmmaker/pkg/types"
)

// SideSnapshot is the derived top-of-book view for one outcome token.
type SideSnapshot struct {
	BestBid       float64
	BestAsk       float64
	Mid           float64
	Usable        bool // both bid and ask present and bid < ask
	LastUpdate    time.Time
	lastValidBest bool // internal: has a two-sided best ever been computed
}

// Snapshot is the watched value BookState publishes: both sides from the
// same update epoch plus a monotonic sequence, so readers never observe a
// YES update paired with a stale NO.
type Snapshot struct {
	Seq uint64
	Yes SideSnapshot
	No  SideSnapshot
}

// levels is a per-side bid/ask level map for one token, keyed by price.
type levels struct {
	bids map[float64]float64
	asks map[float64]float64
}

func newLevels() *levels {
	return &levels{bids: make(map[float64]float64), asks: make(map[float64]float64)}
}

func (l *levels) replace(bids, asks []types.PriceLevel) {
	l.bids = make(map[float64]float64, len(bids))
	l.asks = make(map[float64]float64, len(asks))
	for _, pl := range bids {
		if size := parseFloat(pl.Size); size > 0 {
			l.bids[parseFloat(pl.Price)] = size
		}
	}
	for _, pl := range asks {
		if size := parseFloat(pl.Size); size > 0 {
			l.asks[parseFloat(pl.Price)] = size
		}
	}
}

func (l *levels) applyDelta(side string, price, size float64) {
	m := l.asks
	if side == "BUY" {
		m = l.bids
	}
	if size <= 0 {
		delete(m, price)
	} else {
		m[price] = size
	}
}

// best returns the max bid and min ask among levels with positive size.
// ok is false if either side has no levels.
func (l *levels) best() (bid, ask float64, ok bool) {
	if len(l.bids) == 0 || len(l.asks) == 0 {
		return 0, 0, false
	}
	first := true
	for p := range l.bids {
		if first || p > bid {
			bid = p
			first = false
		}
	}
	first = true
	for p := range l.asks {
		if first || p < ask {
			ask = p
			first = false
		}
	}
	return bid, ask, true
}

// BookState holds both outcome tokens' local order books and publishes a
// combined Snapshot through a watch.Value every time either side changes.
type BookState struct {
	mu sync.Mutex

	yesToken string
	noToken  string

	yesLevels *levels
	noLevels  *levels

	cur *Snapshot // last published, protected by mu

	pub *watch.Value[Snapshot]
}

// New creates a BookState for one market's two tokens.
func New(yesToken, noToken string) *BookState {
	bs := &BookState{
		yesToken:  yesToken,
		noToken:   noToken,
		yesLevels: newLevels(),
		noLevels:  newLevels(),
		cur:       &Snapshot{},
	}
	bs.pub = watch.New(Snapshot{})
	return bs
}

// ApplyBook replaces one token's book wholesale from a full snapshot event.
func (bs *BookState) ApplyBook(e types.WSBookEvent) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	switch e.AssetID {
	case bs.yesToken:
		bs.yesLevels.replace(e.Buys, e.Sells)
	case bs.noToken:
		bs.noLevels.replace(e.Buys, e.Sells)
	default:
		return
	}
	bs.recomputeAndPublishLocked()
}

// ApplyPriceChange applies one or more incremental level deltas, then
// recomputes and publishes once.
func (bs *BookState) ApplyPriceChange(e types.WSPriceChangeEvent) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	for _, pc := range e.PriceChanges {
		price := parseFloat(pc.Price)
		size := parseFloat(pc.Size)
		switch pc.AssetID {
		case bs.yesToken:
			bs.yesLevels.applyDelta(pc.Side, price, size)
		case bs.noToken:
			bs.noLevels.applyDelta(pc.Side, price, size)
		}
	}
	bs.recomputeAndPublishLocked()
}

// recomputeAndPublishLocked recomputes both sides independently. If a
// side's recomputation finds an empty book, its prior usable best is
// retained (last_valid_book) and the side is marked unusable; otherwise
// the new best/mid/usable values replace it. Caller must hold bs.mu.
func (bs *BookState) recomputeAndPublishLocked() {
	now := time.Now()
	next := *bs.cur
	next.Seq++
	next.Yes = recomputeSide(bs.yesLevels, bs.cur.Yes, now)
	next.No = recomputeSide(bs.noLevels, bs.cur.No, now)

	bs.cur = &next
	bs.pub.Set(next)
}

func recomputeSide(l *levels, prev SideSnapshot, now time.Time) SideSnapshot {
	bid, ask, ok := l.best()
	if !ok {
		prev.Usable = false
		prev.LastUpdate = now
		return prev
	}
	mid := (bid + ask) / 2
	return SideSnapshot{
		BestBid:       bid,
		BestAsk:       ask,
		Mid:           mid,
		Usable:        bid < ask,
		LastUpdate:    now,
		lastValidBest: true,
	}
}

// Snapshot returns the current combined snapshot.
func (bs *BookState) Snapshot() Snapshot {
	v, _ := bs.pub.Get()
	return v
}

// Watch returns a channel that closes the next time the snapshot changes.
func (bs *BookState) Watch() <-chan struct{} {
	return bs.pub.Watch()
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
