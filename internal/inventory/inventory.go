// Package inventory is the authoritative position/cost state for a single
// binary market. It consumes FillEvents from the authenticated user stream,
// deduplicates them, applies MATCHED/skips CONFIRMED/reverses FAILED, and
// derives the can_open gate the coordinator checks before opening new
// exposure.
package inventory

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pmmaker/internal/watch"
	"pmmaker/pkg/types"
)

// FillStatus is the authenticated-stream status of a fill.
type FillStatus string

const (
	StatusMatched   FillStatus = "MATCHED"
	StatusConfirmed FillStatus = "CONFIRMED"
	StatusFailed    FillStatus = "FAILED"
)

// FillEvent is one authenticated fill notification. Since the engine only
// ever posts BUY orders, Side names which outcome token was bought, not a
// buy/sell direction.
type FillEvent struct {
	TradeID      string
	MakerOrderID string
	Side         types.Outcome
	Price        float64
	Size         float64
	Status       FillStatus
}

// dedupKey includes Status: a MATCHED and the FAILED that later reverses it
// share (trade_id, maker_order_id) but must not collide, or the reversal
// would be suppressed as a duplicate of the fill it's supposed to undo.
func (f FillEvent) dedupKey() string {
	return f.TradeID + "\x00" + f.MakerOrderID + "\x00" + string(f.Status)
}

// Position is the derived, published inventory state.
type Position struct {
	YesQty, NoQty         float64
	YesAvgCost, NoAvgCost float64
	NetDiff               float64
	PortfolioCost         float64
	CanOpen               bool
	LastUpdated           time.Time
}

// Limits are the gate thresholds from configuration.
type Limits struct {
	MaxNetDiff       float64
	MaxPortfolioCost float64
	MaxPositionValue float64
}

// appliedFill records what a MATCHED fill applied, so a later FAILED for
// the same maker_order_id can reverse exactly that contribution.
type appliedFill struct {
	side  types.Outcome
	price float64
	size  float64
}

// Manager is the InventoryManager component.
type Manager struct {
	mu sync.Mutex

	limits Limits
	pos    Position

	applied map[string]appliedFill // maker_order_id -> its MATCHED contribution

	dedupList *list.List
	dedupMap  map[string]*list.Element
	dedupCap  int

	pub    *watch.Value[Position]
	logger *slog.Logger
}

// New creates an InventoryManager with a bounded fill-dedup set of size
// dedupCap.
func New(limits Limits, dedupCap int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		limits:    limits,
		applied:   make(map[string]appliedFill),
		dedupList: list.New(),
		dedupMap:  make(map[string]*list.Element),
		dedupCap:  dedupCap,
		logger:    logger.With("component", "inventory"),
	}
	m.pub = watch.New(Position{CanOpen: true})
	return m
}

// OnFill processes one FillEvent. Replaying the identical (trade_id,
// maker_order_id, status) triple twice leaves Inventory unchanged from
// processing it once; a FAILED sharing (trade_id, maker_order_id) with an
// earlier MATCHED is a distinct event and still reverses it.
func (m *Manager) OnFill(f FillEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := f.dedupKey()
	if m.seenLocked(key) {
		return
	}
	m.markSeenLocked(key)

	switch f.Status {
	case StatusMatched:
		m.applyMatchedLocked(f)
	case StatusConfirmed:
		// intentionally a no-op: the venue confirms an already-matched
		// trade and counting it again would double it.
		if _, ok := m.applied[f.MakerOrderID]; !ok {
			m.logger.Warn("anomaly: confirmed without matched",
				"maker_order_id", f.MakerOrderID, "trade_id", f.TradeID)
		}
	case StatusFailed:
		m.applyFailedLocked(f)
	}

	m.recomputeAndPublishLocked()
}

func (m *Manager) applyMatchedLocked(f FillEvent) {
	switch f.Side {
	case types.YES:
		newQty, newAvg := weightedAvg(m.pos.YesQty, m.pos.YesAvgCost, f.Size, f.Price)
		m.pos.YesQty, m.pos.YesAvgCost = newQty, newAvg
	case types.NO:
		newQty, newAvg := weightedAvg(m.pos.NoQty, m.pos.NoAvgCost, f.Size, f.Price)
		m.pos.NoQty, m.pos.NoAvgCost = newQty, newAvg
	}
	m.applied[f.MakerOrderID] = appliedFill{side: f.Side, price: f.Price, size: f.Size}
}

func (m *Manager) applyFailedLocked(f FillEvent) {
	prior, ok := m.applied[f.MakerOrderID]
	if !ok {
		m.logger.Warn("anomaly: failed fill without prior matched",
			"maker_order_id", f.MakerOrderID, "trade_id", f.TradeID)
		return
	}

	var newQty, newAvg float64
	var reversed bool
	switch prior.side {
	case types.YES:
		newQty, newAvg, reversed = reverseWeightedAvg(m.pos.YesQty, m.pos.YesAvgCost, prior.size, prior.price)
		if reversed {
			m.pos.YesQty, m.pos.YesAvgCost = newQty, newAvg
		}
	case types.NO:
		newQty, newAvg, reversed = reverseWeightedAvg(m.pos.NoQty, m.pos.NoAvgCost, prior.size, prior.price)
		if reversed {
			m.pos.NoQty, m.pos.NoAvgCost = newQty, newAvg
		}
	}
	if !reversed {
		m.logger.Warn("anomaly: failed fill reversal would drive position negative, refused",
			"maker_order_id", f.MakerOrderID, "trade_id", f.TradeID)
		return
	}
	delete(m.applied, f.MakerOrderID)
}

func (m *Manager) recomputeAndPublishLocked() {
	m.pos.NetDiff = m.pos.YesQty - m.pos.NoQty

	portfolioCost := 0.0
	if m.pos.YesQty > 0 && m.pos.NoQty > 0 {
		portfolioCost = m.pos.YesAvgCost + m.pos.NoAvgCost
	}
	m.pos.PortfolioCost = portfolioCost

	m.pos.CanOpen = abs(m.pos.NetDiff) < m.limits.MaxNetDiff &&
		(portfolioCost == 0 || portfolioCost < m.limits.MaxPortfolioCost) &&
		m.pos.YesQty*m.pos.YesAvgCost < m.limits.MaxPositionValue &&
		m.pos.NoQty*m.pos.NoAvgCost < m.limits.MaxPositionValue

	m.pos.LastUpdated = time.Now()
	m.pub.Set(m.pos)
}

// Snapshot returns the current position.
func (m *Manager) Snapshot() Position {
	v, _ := m.pub.Get()
	return v
}

// Watch returns a channel that closes the next time the position changes.
func (m *Manager) Watch() <-chan struct{} {
	return m.pub.Watch()
}

func (m *Manager) seenLocked(key string) bool {
	el, ok := m.dedupMap[key]
	if !ok {
		return false
	}
	m.dedupList.MoveToFront(el)
	return true
}

func (m *Manager) markSeenLocked(key string) {
	el := m.dedupList.PushFront(key)
	m.dedupMap[key] = el
	if m.dedupCap > 0 && m.dedupList.Len() > m.dedupCap {
		oldest := m.dedupList.Back()
		if oldest != nil {
			m.dedupList.Remove(oldest)
			delete(m.dedupMap, oldest.Value.(string))
		}
	}
}

// weightedAvg folds a buy of (size, price) into an existing (qty, avg)
// position using decimal arithmetic to avoid float drift in the cost
// basis.
func weightedAvg(qty, avg, size, price float64) (newQty, newAvg float64) {
	q := decimal.NewFromFloat(qty)
	a := decimal.NewFromFloat(avg)
	s := decimal.NewFromFloat(size)
	p := decimal.NewFromFloat(price)

	nq := q.Add(s)
	if nq.Sign() <= 0 {
		return 0, 0
	}
	totalCost := q.Mul(a).Add(s.Mul(p))
	na := totalCost.Div(nq)
	return nq.InexactFloat64(), na.InexactFloat64()
}

// reverseWeightedAvg undoes a prior weightedAvg contribution of (size,
// price). ok is false if the reversal would drive qty negative, in which
// case the caller must refuse the mutation (invariant: qty never negative).
func reverseWeightedAvg(qty, avg, size, price float64) (newQty, newAvg float64, ok bool) {
	q := decimal.NewFromFloat(qty)
	s := decimal.NewFromFloat(size)
	if s.GreaterThan(q) {
		return qty, avg, false
	}
	a := decimal.NewFromFloat(avg)
	p := decimal.NewFromFloat(price)

	nq := q.Sub(s)
	if nq.Sign() <= 0 {
		return 0, 0, true
	}
	totalCost := q.Mul(a).Sub(s.Mul(p))
	na := totalCost.Div(nq)
	return nq.InexactFloat64(), na.InexactFloat64(), true
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
