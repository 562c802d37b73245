// Package service assembles the aggregation engine from configuration:
// ledger, tokens, venue adapters, event bus, persistence and the HTTP API.
package service

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/openliq/aggregator/internal/config"
	"github.com/openliq/aggregator/internal/dex"
	"github.com/openliq/aggregator/internal/dex/aggbridge"
	"github.com/openliq/aggregator/internal/dex/clmm"
	"github.com/openliq/aggregator/internal/dex/constprod"
	"github.com/openliq/aggregator/internal/dex/poolmgr"
	"github.com/openliq/aggregator/internal/dex/stableswap"
	"github.com/openliq/aggregator/internal/dex/vaultswap"
	"github.com/openliq/aggregator/internal/events"
	"github.com/openliq/aggregator/internal/httpapi"
	"github.com/openliq/aggregator/internal/ledger"
	"github.com/openliq/aggregator/internal/logger"
	"github.com/openliq/aggregator/internal/metrics"
	"github.com/openliq/aggregator/internal/router"
	"github.com/openliq/aggregator/internal/storage"
	"github.com/openliq/aggregator/internal/storage/models"
	"github.com/openliq/aggregator/internal/storage/postgres"
	"github.com/openliq/aggregator/internal/token"
)

// Runner owns the lifecycle of one engine instance.
type Runner struct {
	cfg *config.Config
	log *logger.Logger

	book    *ledger.Book
	bus     *events.Bus
	engine  *router.Router
	store   storage.Storage
	api     *httpapi.Server
	metrics *metrics.Metrics
	promReg *prometheus.Registry

	admin      common.Address
	shutdownCh chan os.Signal
}

// NewRunner creates an unassembled runner.
func NewRunner(cfg *config.Config, log *logger.Logger) *Runner {
	return &Runner{
		cfg:        cfg,
		log:        log,
		shutdownCh: make(chan os.Signal, 1),
	}
}

// Engine exposes the assembled router, for the TUI and tests.
func (r *Runner) Engine() *router.Router {
	return r.engine
}

// Book exposes the assembled ledger.
func (r *Runner) Book() *ledger.Book {
	return r.book
}

// Initialize assembles the engine: ledger, tokens, balances, venues,
// persistence and the HTTP API.
func (r *Runner) Initialize(ctx context.Context) error {
	r.bus = events.NewBus(r.log.Logger, r.cfg.EventBuffer)
	r.promReg = prometheus.NewRegistry()
	r.metrics = metrics.New(r.promReg)
	r.book = ledger.NewBook(r.log.Logger)
	r.admin = common.HexToAddress(r.cfg.AdminAccount)

	if err := r.registerTokens(); err != nil {
		return err
	}
	if err := r.seedBalances(); err != nil {
		return err
	}

	engine, err := router.New(r.book, r.log.Logger, router.Config{
		Account: common.HexToAddress(r.cfg.RouterAccount),
		Admin:   r.admin,
		Fee: router.FeeConfig{
			BasisPoints: r.cfg.FeeBasisPoints,
			Recipient:   common.HexToAddress(r.cfg.FeeRecipient),
		},
		Bus:     r.bus,
		Metrics: r.metrics,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}
	r.engine = engine

	if r.cfg.WrappedNative != "" {
		wrapper, err := ledger.NewWrappedNative(r.book,
			token.FromHex(r.cfg.WrappedNative),
			common.HexToAddress(r.cfg.WrapperAccount))
		if err != nil {
			return err
		}
		if err := r.engine.SetNativeWrapper(r.admin, wrapper); err != nil {
			return err
		}
	}

	if r.cfg.PostgresURL != "" {
		store, err := postgres.NewStorage(r.cfg.PostgresURL, r.log.Logger)
		if err != nil {
			return fmt.Errorf("connect storage: %w", err)
		}
		if err := store.RunMigrations(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		r.store = store
		r.subscribeStorage()
	}

	if err := r.registerVenues(); err != nil {
		return err
	}

	r.api = httpapi.New(r.engine, r.book, r.log.Logger, r.cfg.HTTPListen, r.promReg)
	r.log.Info("Engine initialized",
		zap.Int("tokens", len(r.cfg.Tokens)),
		zap.Int("pools", len(r.cfg.Pools)),
		zap.Bool("storage", r.store != nil))
	return nil
}

// Run serves until the context is cancelled or a termination signal lands.
func (r *Runner) Run(ctx context.Context) error {
	signal.Notify(r.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.api.Start()
	}()

	select {
	case sig := <-r.shutdownCh:
		r.log.Info("Signal received: " + sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http api: %w", err)
		}
	case <-runCtx.Done():
	}
	return r.Shutdown(context.Background())
}

// Shutdown drains the HTTP server and the event bus.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.log.Info("Shutting down")
	if r.api != nil {
		if err := r.api.Shutdown(ctx); err != nil {
			r.log.Warn("HTTP shutdown", zap.Error(err))
		}
	}
	if r.bus != nil {
		if err := r.bus.Shutdown(ctx); err != nil {
			r.log.Warn("Bus shutdown", zap.Error(err))
		}
	}
	return r.log.Sync()
}

func (r *Runner) registerTokens() error {
	for _, t := range r.cfg.Tokens {
		err := r.book.RegisterToken(token.FromHex(t.Address), ledger.TokenInfo{
			Symbol:               t.Symbol,
			Decimals:             t.Decimals,
			RequireZeroAllowance: t.RequireZeroAllowance,
		})
		if err != nil {
			return fmt.Errorf("register token %s: %w", t.Symbol, err)
		}
	}
	return nil
}

func (r *Runner) seedBalances() error {
	for _, b := range r.cfg.Balances {
		amount, err := parseAmount(b.Amount)
		if err != nil {
			return fmt.Errorf("balance for %s: %w", b.Account, err)
		}
		t := token.Native()
		if b.Token != "" {
			t = token.FromHex(b.Token)
		}
		if err := r.book.Mint(t, common.HexToAddress(b.Account), amount); err != nil {
			return fmt.Errorf("seed balance for %s: %w", b.Account, err)
		}
	}
	return nil
}

// registerVenues builds one adapter per venue family that has pools
// configured and registers it with the router.
func (r *Runner) registerVenues() error {
	adapters := make(map[string]dex.Adapter)

	for _, p := range r.cfg.Pools {
		tokenA := token.FromHex(p.TokenA)
		tokenB := token.FromHex(p.TokenB)

		switch p.Venue {
		case "constprod":
			a, err := venueAdapter(adapters, p.Venue, func() (dex.Adapter, error) {
				return constprod.New(r.book, r.log.Logger, venueAccount("constprod")), nil
			})
			if err != nil {
				return err
			}
			if err := a.(*constprod.Adapter).AddPool(tokenA, tokenB, common.HexToAddress(p.Account), p.FeeBps); err != nil {
				return fmt.Errorf("constprod pool: %w", err)
			}

		case "clmm":
			a, err := venueAdapter(adapters, p.Venue, func() (dex.Adapter, error) {
				return clmm.New(r.book, r.log.Logger, venueAccount("clmm")), nil
			})
			if err != nil {
				return err
			}
			liquidity, err := parseAmount(p.Liquidity)
			if err != nil {
				return fmt.Errorf("clmm liquidity: %w", err)
			}
			sqrtPrice, err := parseAmount(p.SqrtPriceX96)
			if err != nil {
				return fmt.Errorf("clmm sqrt price: %w", err)
			}
			if err := a.(*clmm.Adapter).AddPool(tokenA, tokenB, p.FeeTier, common.HexToAddress(p.Account), liquidity, sqrtPrice); err != nil {
				return fmt.Errorf("clmm pool: %w", err)
			}

		case "stableswap":
			a, err := venueAdapter(adapters, p.Venue, func() (dex.Adapter, error) {
				return stableswap.New(r.book, r.log.Logger, venueAccount("stableswap")), nil
			})
			if err != nil {
				return err
			}
			if err := a.(*stableswap.Adapter).RegisterPool(tokenA, tokenB, common.HexToAddress(p.Account), uint64(p.Amp), p.FeeBps); err != nil {
				return fmt.Errorf("stableswap pool: %w", err)
			}

		case "vaultswap":
			a, err := venueAdapter(adapters, p.Venue, func() (dex.Adapter, error) {
				return vaultswap.New(r.book, r.log.Logger, venueAccount("vaultswap"), common.HexToAddress(p.Account)), nil
			})
			if err != nil {
				return err
			}
			reserveA, err := parseAmount(p.ReserveA)
			if err != nil {
				return fmt.Errorf("vaultswap reserve A: %w", err)
			}
			reserveB, err := parseAmount(p.ReserveB)
			if err != nil {
				return fmt.Errorf("vaultswap reserve B: %w", err)
			}
			if err := a.(*vaultswap.Adapter).RegisterPool(p.Name, tokenA, tokenB, reserveA, reserveB, p.FeeBps); err != nil {
				return fmt.Errorf("vaultswap pool: %w", err)
			}

		case "poolmgr":
			a, err := venueAdapter(adapters, p.Venue, func() (dex.Adapter, error) {
				return poolmgr.New(r.book, r.log.Logger, venueAccount("poolmgr"), common.HexToAddress(p.Account)), nil
			})
			if err != nil {
				return err
			}
			depth, err := parseAmount(p.Depth)
			if err != nil {
				return fmt.Errorf("poolmgr depth: %w", err)
			}
			if err := a.(*poolmgr.Adapter).InitializePool(tokenA, tokenB, p.FeePips, depth); err != nil {
				return fmt.Errorf("poolmgr pool: %w", err)
			}
		}
	}

	names := []string{"constprod", "clmm", "stableswap", "vaultswap", "poolmgr"}
	for _, name := range names {
		adapter, ok := adapters[name]
		if !ok {
			continue
		}
		if _, err := r.engine.RegisterAdapter(r.admin, name, adapter); err != nil {
			return fmt.Errorf("register venue %s: %w", name, err)
		}
	}

	// The aggregator bridge quotes remotely and settles through the local
	// constant-product venue.
	if r.cfg.AggregatorURL != "" {
		inner, ok := adapters["constprod"]
		if !ok {
			return fmt.Errorf("aggregator_url set but no constprod pools to settle against")
		}
		bridge := aggbridge.New(inner, r.log.Logger, r.cfg.AggregatorURL)
		if _, err := r.engine.RegisterAdapter(r.admin, "aggbridge", bridge); err != nil {
			return fmt.Errorf("register venue aggbridge: %w", err)
		}
	}
	return nil
}

func venueAdapter(adapters map[string]dex.Adapter, name string, build func() (dex.Adapter, error)) (dex.Adapter, error) {
	if a, ok := adapters[name]; ok {
		return a, nil
	}
	a, err := build()
	if err != nil {
		return nil, err
	}
	adapters[name] = a
	return a, nil
}

// venueAccount derives a stable ledger account for an adapter from its
// venue family name.
func venueAccount(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("venue-account:" + name))[12:])
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// subscribeStorage feeds the persistence layer from the event bus.
func (r *Runner) subscribeStorage() {
	saveOp := func(ctx context.Context, ev events.Event) error {
		swap, ok := ev.(events.SwapExecutedEvent)
		if !ok {
			return nil
		}
		return r.store.SaveOperation(ctx, swapToRecord(swap))
	}
	r.bus.SubscribeFunc(events.SwapExecuted, saveOp)
	r.bus.SubscribeFunc(events.MultiRouteSwapExecuted, saveOp)
	r.bus.SubscribeFunc(events.SequentialSwapExecuted, saveOp)

	r.bus.SubscribeFunc(events.AdapterRegistered, func(ctx context.Context, ev events.Event) error {
		reg, ok := ev.(events.AdapterRegisteredEvent)
		if !ok {
			return nil
		}
		return r.store.SaveVenue(ctx, &models.VenueRecord{
			VenueID: reg.VenueID.Hex(),
			Name:    reg.Name,
			Address: reg.Adapter.Hex(),
			Active:  true,
		})
	})
	r.bus.SubscribeFunc(events.AdapterRemoved, func(ctx context.Context, ev events.Event) error {
		rem, ok := ev.(events.AdapterRemovedEvent)
		if !ok {
			return nil
		}
		return r.store.DeactivateVenue(ctx, rem.VenueID.Hex())
	})
}

func swapToRecord(ev events.SwapExecutedEvent) *models.OperationRecord {
	return &models.OperationRecord{
		OperationID: ev.OperationID.Hex(),
		Mode:        ev.Mode,
		Caller:      ev.Caller.Hex(),
		VenueID:     ev.VenueID.Hex(),
		TokenIn:     ev.TokenIn,
		TokenOut:    ev.TokenOut,
		AmountIn:    ev.AmountIn.String(),
		AmountOut:   ev.AmountOut.String(),
		Fee:         ev.Fee.String(),
		Steps:       ev.Steps,
	}
}
