// Package config defines the engine's configuration, loaded entirely from
// process environment variables via spf13/viper — no YAML file, since the
// tunables are all of what spec.md calls the PM_* table plus the wallet/API
// secrets the kept exchange.Auth collaborator needs to sign requests.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"pmmaker/pkg/types"
)

// Config is the top-level engine configuration.
type Config struct {
	DryRun bool

	SlugPrefix         string
	ClobBaseURL        string
	GammaBaseURL       string
	WSMarketURL        string
	WSUserURL          string
	EntryGraceSeconds  int
	DataAPIPort        int

	PairTarget           float64
	BidSize              float64
	TickSize             types.TickSize
	RepriceThreshold     float64
	DebounceMS           int
	MaxNetDiff           float64
	MaxPortfolioCost     float64
	MaxPositionValue     float64
	OFIWindowMS          int
	OFIToxicityThreshold float64
	OFIHeartbeatMS       int

	Wallet  WalletConfig
	API     APIConfig
	Logging LoggingConfig
}

// WalletConfig holds the Ethereum wallet used for signing orders, consumed
// by the opaque Signer capability (internal/exchange.Auth).
type WalletConfig struct {
	PrivateKey    string
	SignatureType int
	FunderAddress string
	ChainID       int
}

// APIConfig holds venue endpoints and optional pre-derived L2 credentials.
// If ApiKey/Secret/Passphrase are empty, the engine derives them via L1
// auth on startup.
type APIConfig struct {
	ApiKey     string
	Secret     string
	Passphrase string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// DebounceDuration returns PM_DEBOUNCE_MS as a time.Duration.
func (c Config) DebounceDuration() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// OFIWindowDuration returns PM_OFI_WINDOW_MS as a time.Duration.
func (c Config) OFIWindowDuration() time.Duration {
	return time.Duration(c.OFIWindowMS) * time.Millisecond
}

// OFIHeartbeatDuration returns PM_OFI_HEARTBEAT_MS as a time.Duration.
func (c Config) OFIHeartbeatDuration() time.Duration {
	return time.Duration(c.OFIHeartbeatMS) * time.Millisecond
}

// EntryGraceDuration returns PM_ENTRY_GRACE_SECONDS as a time.Duration.
func (c Config) EntryGraceDuration() time.Duration {
	return time.Duration(c.EntryGraceSeconds) * time.Second
}

// Load reads configuration from the process environment. slugPrefix is the
// one required positional argument (which market family to trade); every
// other key has a default matching spec.md's PM_* table.
func Load(slugPrefix string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PM")
	v.AutomaticEnv()

	v.SetDefault("dry_run", false)
	v.SetDefault("clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("gamma_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("ws_market_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("ws_user_url", "wss://ws-subscriptions-clob.polymarket.com/ws/user")
	v.SetDefault("entry_grace_seconds", 30)
	v.SetDefault("status_port", 8090)

	v.SetDefault("pair_target", 0.99)
	v.SetDefault("bid_size", 2.0)
	v.SetDefault("tick_size", 0.001)
	v.SetDefault("reprice_threshold", 0.010)
	v.SetDefault("debounce_ms", 500)
	v.SetDefault("max_net_diff", 5.0)
	v.SetDefault("max_portfolio_cost", 1.02)
	v.SetDefault("max_position_value", 5.0)
	v.SetDefault("ofi_window_ms", 3000)
	v.SetDefault("ofi_toxicity_threshold", 50.0)
	v.SetDefault("ofi_heartbeat_ms", 200)

	v.SetDefault("wallet_signature_type", 0)
	v.SetDefault("wallet_chain_id", 137)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	cfg := &Config{
		DryRun:       v.GetBool("dry_run"),
		SlugPrefix:   slugPrefix,
		ClobBaseURL:  v.GetString("clob_base_url"),
		GammaBaseURL: v.GetString("gamma_base_url"),
		WSMarketURL:  v.GetString("ws_market_url"),
		WSUserURL:    v.GetString("ws_user_url"),

		EntryGraceSeconds: v.GetInt("entry_grace_seconds"),
		DataAPIPort:       v.GetInt("status_port"),

		PairTarget:           v.GetFloat64("pair_target"),
		BidSize:              v.GetFloat64("bid_size"),
		TickSize:             types.TickSize(v.GetFloat64("tick_size")),
		RepriceThreshold:     v.GetFloat64("reprice_threshold"),
		DebounceMS:           v.GetInt("debounce_ms"),
		MaxNetDiff:           v.GetFloat64("max_net_diff"),
		MaxPortfolioCost:     v.GetFloat64("max_portfolio_cost"),
		MaxPositionValue:     v.GetFloat64("max_position_value"),
		OFIWindowMS:          v.GetInt("ofi_window_ms"),
		OFIToxicityThreshold: v.GetFloat64("ofi_toxicity_threshold"),
		OFIHeartbeatMS:       v.GetInt("ofi_heartbeat_ms"),

		Wallet: WalletConfig{
			PrivateKey:    v.GetString("wallet_private_key"),
			SignatureType: v.GetInt("wallet_signature_type"),
			FunderAddress: v.GetString("wallet_funder_address"),
			ChainID:       v.GetInt("wallet_chain_id"),
		},
		API: APIConfig{
			ApiKey:     v.GetString("api_key"),
			Secret:     v.GetString("api_secret"),
			Passphrase: v.GetString("api_passphrase"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("log_level"),
			Format: v.GetString("log_format"),
		},
	}

	return cfg, nil
}

// Validate checks all required fields and value ranges. Failure here maps
// to exit code 2 (config invalid).
func (c *Config) Validate() error {
	if c.SlugPrefix == "" {
		return fmt.Errorf("a market slug prefix is required")
	}
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("PM_WALLET_PRIVATE_KEY is required")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("PM_WALLET_CHAIN_ID is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("PM_WALLET_SIGNATURE_TYPE must be one of: 0 (EOA), 1 (PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("PM_WALLET_FUNDER_ADDRESS is required when PM_WALLET_SIGNATURE_TYPE is 1 or 2")
	}
	if c.ClobBaseURL == "" {
		return fmt.Errorf("clob base URL is required")
	}
	if c.TickSize <= 0 {
		return fmt.Errorf("PM_TICK_SIZE must be > 0")
	}
	if c.PairTarget <= 0 || c.PairTarget > 1 {
		return fmt.Errorf("PM_PAIR_TARGET must be in (0, 1]")
	}
	if c.BidSize <= 0 {
		return fmt.Errorf("PM_BID_SIZE must be > 0")
	}
	if c.MaxNetDiff <= 0 {
		return fmt.Errorf("PM_MAX_NET_DIFF must be > 0")
	}
	if c.MaxPortfolioCost <= 0 {
		return fmt.Errorf("PM_MAX_PORTFOLIO_COST must be > 0")
	}
	if c.MaxPositionValue <= 0 {
		return fmt.Errorf("PM_MAX_POSITION_VALUE must be > 0")
	}
	if c.OFIWindowMS <= 0 {
		return fmt.Errorf("PM_OFI_WINDOW_MS must be > 0")
	}
	if c.OFIHeartbeatMS <= 0 {
		return fmt.Errorf("PM_OFI_HEARTBEAT_MS must be > 0")
	}
	return nil
}
