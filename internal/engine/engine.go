// Package engine is the top-level orchestrator: it resolves the next
// tradeable market window for a slug prefix, runs one full pipeline
// (BookState + OFIEngine + InventoryManager + Executor + Coordinator)
// against it until the window closes, drains and cancels, then rotates to
// the next window. Exactly one market pipeline runs at a time.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pmmaker/internal/api"
	"pmmaker/internal/book"
	"pmmaker/internal/config"
	"pmmaker/internal/coordinator"
	"pmmaker/internal/exchange"
	"pmmaker/internal/executor"
	"pmmaker/internal/flow"
	"pmmaker/internal/inventory"
	"pmmaker/internal/market"
	"pmmaker/pkg/types"
)

// fillDedupCap bounds the inventory manager's recent-fill LRU.
const fillDedupCap = 1024

// cancelAllTimeout and drainWindow implement the rotation/shutdown sequence
// of §5: cancel-all, then a window for trailing fills to arrive, before the
// pipeline's tasks are aborted.
const (
	cancelAllTimeout = 3 * time.Second
	drainWindow      = 2 * time.Second
)

// Engine owns the long-lived collaborators (REST client, WS feeds, market
// resolver) that persist across market rotations.
type Engine struct {
	cfg      config.Config
	client   *exchange.Client
	auth     *exchange.Auth
	resolver *market.Resolver
	mktFeed  *exchange.WSFeed
	usrFeed  *exchange.WSFeed
	logger   *slog.Logger

	current atomic.Pointer[runningMarket]
}

// runningMarket is the currently active market window's collaborators,
// published for Status() to read without synchronizing with runMarket.
type runningMarket struct {
	info   types.MarketInfo
	expiry time.Time
	coord  *coordinator.Coordinator
	inv    *inventory.Manager
}

var _ api.StatusProvider = (*Engine)(nil)

// Status reports the currently running market window, or Running=false
// between rotations while the next window is being resolved.
func (e *Engine) Status() api.Status {
	r := e.current.Load()
	if r == nil {
		return api.Status{Running: false}
	}
	pos := r.inv.Snapshot()
	return api.Status{
		Running:     true,
		Slug:        r.info.Slug,
		ConditionID: r.info.ConditionID,
		Expiry:      r.expiry,
		State:       string(r.coord.State()),
		NetDiff:     pos.NetDiff,
		CanOpen:     pos.CanOpen,
	}
}

// New wires the engine's long-lived collaborators and, if L2 trading
// credentials are not configured, derives them via L1 wallet auth.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, err
	}

	client := exchange.NewClient(cfg, auth, logger)

	if !auth.HasL2Credentials() {
		logger.Info("no L2 credentials configured, deriving via L1")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		creds, err := client.DeriveAPIKey(ctx)
		if err != nil {
			return nil, err
		}
		auth.SetCredentials(*creds)
	}

	return &Engine{
		cfg:      cfg,
		client:   client,
		auth:     auth,
		resolver: market.NewResolver(cfg, logger),
		mktFeed:  exchange.NewMarketFeed(cfg.WSMarketURL, logger),
		usrFeed:  exchange.NewUserFeed(cfg.WSUserURL, auth, logger),
		logger:   logger.With("component", "engine"),
	}, nil
}

// Run starts the WebSocket feeds and rotates market pipelines until ctx is
// cancelled, returning nil (normal/drained exit) unless a fatal
// authentication failure occurs mid-session or a feed exhausts its
// reconnect budget (exchange.ErrStreamExhausted).
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var streamErr atomic.Pointer[error]
	reportStreamFailure := func(err error) {
		if streamErr.CompareAndSwap(nil, &err) {
			cancel()
		}
	}

	var feedWG sync.WaitGroup
	feedWG.Add(2)
	go func() {
		defer feedWG.Done()
		if err := e.mktFeed.Run(runCtx); err != nil && ctx.Err() == nil {
			e.logger.Error("market feed terminated", "error", err)
			reportStreamFailure(err)
		}
	}()
	go func() {
		defer feedWG.Done()
		if err := e.usrFeed.Run(runCtx); err != nil && ctx.Err() == nil {
			e.logger.Error("user feed terminated", "error", err)
			reportStreamFailure(err)
		}
	}()
	defer func() {
		e.mktFeed.Close()
		e.usrFeed.Close()
		feedWG.Wait()
	}()

	for runCtx.Err() == nil {
		resolved, err := e.resolver.ResolveWithRetry(runCtx, e.cfg.SlugPrefix)
		if err != nil {
			break // runCtx cancelled while resolving
		}

		info := toMarketInfo(resolved)
		if err := e.runMarket(runCtx, info, resolved.Expiry); err != nil {
			if errors.Is(err, exchange.ErrAuthFailed) {
				return err
			}
			e.logger.Error("market pipeline ended with error", "slug", info.Slug, "error", err)
		}
	}

	if ctx.Err() == nil {
		if p := streamErr.Load(); p != nil {
			return *p
		}
	}
	return nil
}

func toMarketInfo(r *market.Resolved) types.MarketInfo {
	return types.MarketInfo{
		ConditionID:    r.ConditionID,
		Slug:           r.Slug,
		YesTokenID:     r.YesTokenID,
		NoTokenID:      r.NoTokenID,
		NegRisk:        r.NegRisk,
		WindowOpenUnix: r.WindowOpen.Unix(),
		ExpiryUnix:     r.Expiry.Unix(),
	}
}

// runMarket runs one market's full pipeline until ctx is cancelled or the
// window expires, then drains and cancels before returning.
func (e *Engine) runMarket(ctx context.Context, info types.MarketInfo, expiry time.Time) error {
	marketCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := e.logger.With("market", info.Slug)

	bookState := book.New(info.YesTokenID, info.NoTokenID)
	ofiEngine := flow.New(info.YesTokenID, info.NoTokenID, e.cfg.OFIWindowDuration(), e.cfg.OFIToxicityThreshold)
	invMgr := inventory.New(inventory.Limits{
		MaxNetDiff:       e.cfg.MaxNetDiff,
		MaxPortfolioCost: e.cfg.MaxPortfolioCost,
		MaxPositionValue: e.cfg.MaxPositionValue,
	}, fillDedupCap, logger)
	exec := executor.New(e.client, info, executor.Config{
		TickSize:         e.cfg.TickSize,
		RepriceThreshold: e.cfg.RepriceThreshold,
		DebounceMS:       e.cfg.DebounceMS,
	}, logger)
	coord := coordinator.New(bookState, ofiEngine, invMgr, exec, coordinator.Config{
		PairTarget: e.cfg.PairTarget,
		BidSize:    e.cfg.BidSize,
		Tick:       e.cfg.TickSize,
	}, logger)

	if err := e.mktFeed.Subscribe(marketCtx, []string{info.YesTokenID, info.NoTokenID}); err != nil {
		logger.Warn("market feed subscribe failed", "error", err)
	}
	if err := e.usrFeed.Subscribe(marketCtx, []string{info.ConditionID}); err != nil {
		logger.Warn("user feed subscribe failed", "error", err)
	}
	defer func() {
		_ = e.mktFeed.Unsubscribe(context.Background(), []string{info.YesTokenID, info.NoTokenID})
		_ = e.usrFeed.Unsubscribe(context.Background(), []string{info.ConditionID})
	}()

	e.seedInitialBook(marketCtx, info, bookState)

	e.current.Store(&runningMarket{info: info, expiry: expiry, coord: coord, inv: invMgr})
	defer e.current.Store(nil)

	// coord runs under its own cancellation so it can be stopped ahead of
	// marketCtx: the drain window after rotation is for trailing fills to
	// arrive, not for the coordinator to keep placing fresh quotes.
	coordCtx, coordCancel := context.WithCancel(marketCtx)
	defer coordCancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ofiEngine.Run(marketCtx, e.cfg.OFIHeartbeatDuration())
	}()
	go func() {
		defer wg.Done()
		coord.Run(coordCtx)
	}()
	go func() {
		e.routeEvents(marketCtx, info, bookState, ofiEngine, invMgr)
	}()

	logger.Info("market pipeline started", "expiry", expiry)

	expiryTimer := time.NewTimer(time.Until(expiry))
	defer expiryTimer.Stop()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case <-expiryTimer.C:
		logger.Info("market window expired, rotating")
	}

	coordCancel()
	e.drainAndCancel(exec, logger)
	cancel()
	wg.Wait()
	return runErr
}

// seedInitialBook fetches both tokens' current book via REST so the
// coordinator has a usable snapshot before the first WebSocket delta
// arrives, rather than waiting out the public stream's first push.
func (e *Engine) seedInitialBook(ctx context.Context, info types.MarketInfo, bookState *book.BookState) {
	for _, tok := range []string{info.YesTokenID, info.NoTokenID} {
		resp, err := e.client.GetOrderBook(ctx, tok)
		if err != nil {
			e.logger.Warn("initial book fetch failed", "token", tok, "error", err)
			continue
		}
		bookState.ApplyBook(types.WSBookEvent{
			AssetID: resp.AssetID,
			Market:  resp.Market,
			Hash:    resp.Hash,
			Buys:    resp.Bids,
			Sells:   resp.Asks,
		})
	}
}

// routeEvents forwards the shared WS feeds' events to this market's
// components, filtering by token/condition ID since the feeds may carry
// stragglers from the market just rotated out of.
func (e *Engine) routeEvents(ctx context.Context, info types.MarketInfo, bookState *book.BookState, ofiEngine *flow.OFIEngine, invMgr *inventory.Manager) {
	isOurToken := func(id string) bool { return id == info.YesTokenID || id == info.NoTokenID }

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-e.mktFeed.BookEvents():
			if isOurToken(evt.AssetID) {
				bookState.ApplyBook(evt)
			}
		case evt := <-e.mktFeed.PriceChangeEvents():
			bookState.ApplyPriceChange(evt)
		case evt := <-e.mktFeed.LastTradeEvents():
			if isOurToken(evt.AssetID) {
				ofiEngine.AddTrade(evt)
			}
		case evt := <-e.usrFeed.TradeEvents():
			if evt.Market == info.ConditionID {
				invMgr.OnFill(toFillEvent(evt))
			}
		case <-e.usrFeed.OrderEvents():
			// order lifecycle events are informational; the executor tracks
			// its own slot state from REST responses, not from this stream.
		}
	}
}

func toFillEvent(evt types.WSTradeEvent) inventory.FillEvent {
	side := types.YES
	if strings.EqualFold(evt.Outcome, "No") {
		side = types.NO
	}
	price, _ := strconv.ParseFloat(evt.Price, 64)
	size, _ := strconv.ParseFloat(evt.Size, 64)
	return inventory.FillEvent{
		TradeID:      evt.ID,
		MakerOrderID: evt.OrderID,
		Side:         side,
		Price:        price,
		Size:         size,
		Status:       inventory.FillStatus(evt.Status),
	}
}

// drainAndCancel implements the rotation/shutdown sequence: best-effort
// cancel-all, then a window for trailing fills before the caller aborts
// this market's tasks.
func (e *Engine) drainAndCancel(exec *executor.Executor, logger *slog.Logger) {
	cancelCtx, cancel := context.WithTimeout(context.Background(), cancelAllTimeout)
	if err := exec.CancelAll(cancelCtx); err != nil {
		logger.Warn("cancel-all on rotation failed", "error", err)
	}
	cancel()

	time.Sleep(drainWindow)
}
