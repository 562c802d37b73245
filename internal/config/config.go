package config

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/openliq/aggregator/internal/token"
)

// Config is the service configuration for the aggregation engine.
type Config struct {
	LogLevel      string `mapstructure:"log_level"`
	LogFile       string `mapstructure:"log_file"`
	DebugLogging  bool   `mapstructure:"debug_logging"`
	HTTPListen    string `mapstructure:"http_listen"`
	PostgresURL   string `mapstructure:"postgres_url"`
	EventBuffer   int    `mapstructure:"event_buffer"`
	QuoteRefresh  int    `mapstructure:"quote_refresh"`
	AggregatorURL string `mapstructure:"aggregator_url"`

	RouterAccount  string `mapstructure:"router_account"`
	AdminAccount   string `mapstructure:"admin_account"`
	FeeBasisPoints uint64 `mapstructure:"fee_basis_points"`
	FeeRecipient   string `mapstructure:"fee_recipient"`
	WrappedNative  string `mapstructure:"wrapped_native"`
	WrapperAccount string `mapstructure:"wrapper_account"`

	Tokens   []TokenConfig   `mapstructure:"tokens"`
	Balances []BalanceConfig `mapstructure:"balances"`
	Pools    []PoolConfig    `mapstructure:"pools"`
}

// TokenConfig registers one fungible token in the ledger at startup.
type TokenConfig struct {
	Address              string `mapstructure:"address"`
	Symbol               string `mapstructure:"symbol"`
	Decimals             uint8  `mapstructure:"decimals"`
	RequireZeroAllowance bool   `mapstructure:"require_zero_allowance"`
}

// BalanceConfig seeds one account balance at startup. An empty token means
// the native asset.
type BalanceConfig struct {
	Account string `mapstructure:"account"`
	Token   string `mapstructure:"token"`
	Amount  string `mapstructure:"amount"`
}

// PoolConfig declares one venue pool. Fields beyond the common set apply
// per venue family and are ignored elsewhere.
type PoolConfig struct {
	Venue   string `mapstructure:"venue"`
	Name    string `mapstructure:"name"`
	Account string `mapstructure:"account"`
	TokenA  string `mapstructure:"token_a"`
	TokenB  string `mapstructure:"token_b"`
	FeeBps  uint64 `mapstructure:"fee_bps"`

	// clmm
	FeeTier      uint32 `mapstructure:"fee_tier"`
	Liquidity    string `mapstructure:"liquidity"`
	SqrtPriceX96 string `mapstructure:"sqrt_price_x96"`

	// stableswap
	Amp int64 `mapstructure:"amp"`

	// vaultswap
	ReserveA string `mapstructure:"reserve_a"`
	ReserveB string `mapstructure:"reserve_b"`

	// poolmgr
	FeePips uint32 `mapstructure:"fee_pips"`
	Depth   string `mapstructure:"depth"`
}

const (
	DefaultHTTPListen   = ":8080"
	DefaultEventBuffer  = 100
	DefaultQuoteRefresh = 2000
	DefaultLogLevel     = "info"
)

// LoadConfig reads, defaults, env-overrides and validates a config file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"log_level":     DefaultLogLevel,
		"http_listen":   DefaultHTTPListen,
		"event_buffer":  DefaultEventBuffer,
		"quote_refresh": DefaultQuoteRefresh,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if !common.IsHexAddress(cfg.RouterAccount) {
		return errors.New("invalid router_account address")
	}
	if !common.IsHexAddress(cfg.AdminAccount) {
		return errors.New("invalid admin_account address")
	}
	if cfg.FeeBasisPoints > token.MaxFeeBasisPoints {
		return errors.New("fee_basis_points above maximum")
	}
	if cfg.FeeBasisPoints > 0 && !common.IsHexAddress(cfg.FeeRecipient) {
		return errors.New("fee_recipient required when fee_basis_points is set")
	}
	if cfg.WrappedNative != "" {
		if !common.IsHexAddress(cfg.WrappedNative) {
			return errors.New("invalid wrapped_native address")
		}
		if !common.IsHexAddress(cfg.WrapperAccount) {
			return errors.New("wrapper_account required with wrapped_native")
		}
	}
	if cfg.EventBuffer <= 0 {
		return errors.New("invalid event_buffer")
	}
	if cfg.QuoteRefresh <= 0 {
		return errors.New("invalid quote_refresh")
	}
	if cfg.AggregatorURL != "" {
		if err := validateURLWithCache(cfg.AggregatorURL, "http"); err != nil {
			return errors.New("invalid aggregator_url protocol")
		}
	}
	for _, t := range cfg.Tokens {
		if !common.IsHexAddress(t.Address) {
			return errors.New("invalid token address: " + t.Address)
		}
		if t.Symbol == "" {
			return errors.New("token symbol missing for " + t.Address)
		}
	}
	for _, b := range cfg.Balances {
		if !common.IsHexAddress(b.Account) {
			return errors.New("invalid balance account: " + b.Account)
		}
		if b.Token != "" && !common.IsHexAddress(b.Token) {
			return errors.New("invalid balance token: " + b.Token)
		}
	}
	for _, p := range cfg.Pools {
		switch p.Venue {
		case "constprod", "clmm", "stableswap", "vaultswap", "poolmgr":
		default:
			return errors.New("unknown pool venue: " + p.Venue)
		}
		if !common.IsHexAddress(p.TokenA) || !common.IsHexAddress(p.TokenB) {
			return errors.New("invalid pool token pair")
		}
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if _, ok := urlCache.Load(rawURL); ok {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	urlCache.Store(rawURL, parsed)
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("AGGREGATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if pg := v.GetString("POSTGRES_URL"); pg != "" {
		cfg.PostgresURL = pg
	}
	if listen := v.GetString("HTTP_LISTEN"); listen != "" {
		cfg.HTTPListen = listen
	}
	if agg := v.GetString("AGGREGATOR_URL"); agg != "" {
		cfg.AggregatorURL = agg
	}
	return nil
}
