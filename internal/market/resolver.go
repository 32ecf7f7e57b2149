// Package market resolves market windows by slug prefix via the Gamma API.
// The real-time order book is kept by internal/book, not here.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"pmmaker/internal/config"
)

// gammaMarket is the subset of the Gamma API market JSON shape the resolver
// needs to pick the next tradeable window for a slug prefix.
type gammaMarket struct {
	ConditionID     string `json:"conditionId"`
	Slug            string `json:"slug"`
	Active          bool   `json:"active"`
	Closed          bool   `json:"closed"`
	AcceptingOrders bool   `json:"acceptingOrders"`
	EnableOrderBook bool   `json:"enableOrderBook"`
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate"`
	ClobTokenIds    string `json:"clobTokenIds"`
	NegRisk         bool   `json:"negRisk"`
}

// Resolved is the outcome of resolving a slug prefix to a concrete,
// currently-tradeable market window.
type Resolved struct {
	ConditionID string
	Slug        string
	YesTokenID  string
	NoTokenID   string
	NegRisk     bool
	WindowOpen  time.Time
	Expiry      time.Time
}

// Resolver implements market discovery against the Gamma API: given a slug
// prefix shared by a family of short-duration rotating markets, it finds
// the window currently inside its entry grace period.
type Resolver struct {
	http       *resty.Client
	entryGrace time.Duration
	logger     *slog.Logger
}

// NewResolver creates a Resolver pointed at the configured Gamma base URL.
func NewResolver(cfg config.Config, logger *slog.Logger) *Resolver {
	client := resty.New().
		SetBaseURL(cfg.GammaBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &Resolver{
		http:       client,
		entryGrace: cfg.EntryGraceDuration(),
		logger:     logger.With("component", "resolver"),
	}
}

// Resolve finds the market window for slugPrefix currently inside its entry
// grace period: opened no more than PM_ENTRY_GRACE_SECONDS ago and not yet
// expired. Failure is retriable — callers should back off and retry rather
// than treat it as fatal.
func (r *Resolver) Resolve(ctx context.Context, slugPrefix string) (*Resolved, error) {
	markets, err := r.fetchCandidates(ctx, slugPrefix)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}

	now := time.Now()
	var best *gammaMarket
	var bestOpen time.Time

	for i := range markets {
		m := &markets[i]
		if !m.Active || m.Closed || !m.AcceptingOrders || !m.EnableOrderBook {
			continue
		}
		if !strings.HasPrefix(m.Slug, slugPrefix) {
			continue
		}
		open, err := time.Parse(time.RFC3339, m.StartDate)
		if err != nil {
			continue
		}
		expiry, err := time.Parse(time.RFC3339, m.EndDate)
		if err != nil {
			continue
		}
		if expiry.Before(now) {
			continue
		}
		if open.After(now) {
			continue // window hasn't opened yet
		}
		if now.Sub(open) > r.entryGrace {
			continue // opened too long ago, entry grace expired
		}
		if best == nil || open.After(bestOpen) {
			best = m
			bestOpen = open
		}
	}

	if best == nil {
		return nil, fmt.Errorf("no eligible window for prefix %q within entry grace", slugPrefix)
	}

	yes, no, err := splitTokenIDs(best.ClobTokenIds)
	if err != nil {
		return nil, fmt.Errorf("parse token ids for %q: %w", best.Slug, err)
	}
	expiry, _ := time.Parse(time.RFC3339, best.EndDate)

	resolved := &Resolved{
		ConditionID: best.ConditionID,
		Slug:        best.Slug,
		YesTokenID:  yes,
		NoTokenID:   no,
		NegRisk:     best.NegRisk,
		WindowOpen:  bestOpen,
		Expiry:      expiry,
	}
	r.logger.Info("resolved market window", "slug", resolved.Slug, "condition_id", resolved.ConditionID)
	return resolved, nil
}

// ResolveWithRetry retries Resolve with exponential backoff (1s -> 30s cap)
// until it succeeds or ctx is cancelled.
func (r *Resolver) ResolveWithRetry(ctx context.Context, slugPrefix string) (*Resolved, error) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		resolved, err := r.Resolve(ctx, slugPrefix)
		if err == nil {
			return resolved, nil
		}

		r.logger.Warn("market resolution failed, retrying", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (r *Resolver) fetchCandidates(ctx context.Context, slugPrefix string) ([]gammaMarket, error) {
	var markets []gammaMarket
	resp, err := r.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"active":        "true",
			"closed":        "false",
			"limit":         "100",
			"slug_contains": slugPrefix,
			"order":         "startDate",
			"ascending":     "true",
		}).
		SetResult(&markets).
		Get("/markets")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("gamma markets: status %d", resp.StatusCode())
	}

	sort.Slice(markets, func(i, j int) bool { return markets[i].StartDate < markets[j].StartDate })
	return markets, nil
}

// splitTokenIDs parses the Gamma API's JSON-encoded clobTokenIds array
// ("[\"yes\",\"no\"]") into its two constituent token IDs.
func splitTokenIDs(raw string) (yes, no string, err error) {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return "", "", err
	}
	if len(ids) < 2 {
		return "", "", fmt.Errorf("expected 2 token ids, got %d", len(ids))
	}
	return ids[0], ids[1], nil
}
