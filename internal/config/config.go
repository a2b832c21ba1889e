// Package config exposes the read-only protocol parameters consumed by the
// engines and the service settings read from the environment.
package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"

	"github.com/atmx/perp-engine/internal/model"
)

var (
	ErrUnknownMarket        = errors.New("config: unknown market")
	ErrUnknownAssetClass    = errors.New("config: unknown asset class")
	ErrUnknownToken         = errors.New("config: unknown collateral token")
	ErrUnauthorizedExecutor = errors.New("config: caller is not a service executor")
	ErrInvalidSetting       = errors.New("config: invalid service setting")
)

// Provider is the read-only configuration store. Implementations must be
// safe for concurrent use.
type Provider interface {
	MarketConfig(index uint64) (model.MarketConfig, error)
	AssetClassConfig(index uint8) (model.AssetClassConfig, error)
	LiquidityConfig() model.LiquidityConfig
	TradingConfig() model.TradingConfig
	LiquidationConfig() model.LiquidationConfig

	// Markets returns every configured market index in ascending order.
	Markets() []uint64

	// CollateralToken returns the configuration of one token.
	CollateralToken(token common.Address) (model.CollateralTokenConfig, error)

	// CollateralTokens returns the collateral whitelist in configured order.
	CollateralTokens() []common.Address

	// PLPTokens returns the liquidity tokens in settlement order.
	PLPTokens() []common.Address

	// ValidateServiceExecutor rejects callers that may not mutate state.
	ValidateServiceExecutor(caller common.Address) error
}

// Registry is an in-memory Provider. It is populated once at startup from
// a YAML file (see LoadRegistry) or programmatically in tests.
type Registry struct {
	mu           sync.RWMutex
	markets      map[uint64]model.MarketConfig
	assetClasses map[uint8]model.AssetClassConfig
	tokens       map[common.Address]model.CollateralTokenConfig
	tokenOrder   []common.Address
	plpTokens    []common.Address
	executors    map[common.Address]bool
	trading      model.TradingConfig
	liquidity    model.LiquidityConfig
	liquidation  model.LiquidationConfig
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		markets:      make(map[uint64]model.MarketConfig),
		assetClasses: make(map[uint8]model.AssetClassConfig),
		tokens:       make(map[common.Address]model.CollateralTokenConfig),
		executors:    make(map[common.Address]bool),
	}
}

func (r *Registry) MarketConfig(index uint64) (model.MarketConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.markets[index]
	if !ok {
		return model.MarketConfig{}, fmt.Errorf("%w: %d", ErrUnknownMarket, index)
	}
	return cfg, nil
}

func (r *Registry) AssetClassConfig(index uint8) (model.AssetClassConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.assetClasses[index]
	if !ok {
		return model.AssetClassConfig{}, fmt.Errorf("%w: %d", ErrUnknownAssetClass, index)
	}
	return cfg, nil
}

func (r *Registry) LiquidityConfig() model.LiquidityConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liquidity
}

func (r *Registry) TradingConfig() model.TradingConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trading
}

func (r *Registry) LiquidationConfig() model.LiquidationConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.liquidation
}

func (r *Registry) CollateralToken(token common.Address) (model.CollateralTokenConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.tokens[token]
	if !ok {
		return model.CollateralTokenConfig{}, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
	}
	return cfg, nil
}

func (r *Registry) CollateralTokens() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]common.Address(nil), r.tokenOrder...)
}

func (r *Registry) PLPTokens() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]common.Address(nil), r.plpTokens...)
}

func (r *Registry) ValidateServiceExecutor(caller common.Address) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.executors[caller] {
		return fmt.Errorf("%w: %s", ErrUnauthorizedExecutor, caller.Hex())
	}
	return nil
}

// --- Setters (startup and tests only) ---

func (r *Registry) SetMarket(index uint64, cfg model.MarketConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets[index] = cfg
}

func (r *Registry) SetAssetClass(index uint8, cfg model.AssetClassConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assetClasses[index] = cfg
}

// AddCollateralToken appends a token to the whitelist. Re-adding a token
// replaces its configuration without changing its position.
func (r *Registry) AddCollateralToken(cfg model.CollateralTokenConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[cfg.Token]; !ok {
		r.tokenOrder = append(r.tokenOrder, cfg.Token)
	}
	r.tokens[cfg.Token] = cfg
}

func (r *Registry) SetPLPTokens(tokens []common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plpTokens = append([]common.Address(nil), tokens...)
}

func (r *Registry) AddExecutor(addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[addr] = true
}

func (r *Registry) SetTradingConfig(cfg model.TradingConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trading = cfg
}

func (r *Registry) SetLiquidityConfig(cfg model.LiquidityConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.liquidity = cfg
}

func (r *Registry) SetLiquidationConfig(cfg model.LiquidationConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.liquidation = cfg
}

func (r *Registry) Markets() []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]uint64, 0, len(r.markets))
	for idx := range r.markets {
		out = append(out, idx)
	}
	slices.Sort(out)
	return out
}

// Service holds process settings read from the environment.
type Service struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	DatabaseURL    string        `envconfig:"DATABASE_URL"`
	RedisURL       string        `envconfig:"REDIS_URL"`
	RedisTTL       time.Duration `envconfig:"REDIS_TTL" default:"30s"`
	ProtocolConfig string        `envconfig:"PROTOCOL_CONFIG" default:"config/protocol.yaml"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	MaxPriceAge    time.Duration `envconfig:"MAX_PRICE_AGE" default:"1m"`
	KeeperInterval time.Duration `envconfig:"KEEPER_INTERVAL" default:"5s"`
	// KeeperExecutor enables the liquidation keeper when set.
	KeeperExecutor string `envconfig:"KEEPER_EXECUTOR"`
}

// LoadService reads Service from the environment.
func LoadService() (Service, error) {
	var cfg Service
	if err := envconfig.Process("", &cfg); err != nil {
		return Service{}, fmt.Errorf("process env config: %w", err)
	}
	if cfg.KeeperInterval <= 0 {
		return Service{}, fmt.Errorf("%w: KEEPER_INTERVAL must be positive, got %s", ErrInvalidSetting, cfg.KeeperInterval)
	}
	if cfg.MaxPriceAge < 0 {
		return Service{}, fmt.Errorf("%w: MAX_PRICE_AGE must not be negative, got %s", ErrInvalidSetting, cfg.MaxPriceAge)
	}
	return cfg, nil
}
