// Package server parses server command flags and starts the execution core
// behind its HTTP surface.
package server

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stagegate/stagegate/internal/arena"
	"github.com/stagegate/stagegate/internal/collab/local"
	"github.com/stagegate/stagegate/internal/identity"
	"github.com/stagegate/stagegate/internal/modules/event"
	"github.com/stagegate/stagegate/internal/modules/purchase"
	"github.com/stagegate/stagegate/internal/modules/resale"
	"github.com/stagegate/stagegate/internal/modules/staff"
	"github.com/stagegate/stagegate/internal/platform/config"
	"github.com/stagegate/stagegate/internal/platform/otel"
	"github.com/stagegate/stagegate/internal/platform/timeouts"
	"github.com/stagegate/stagegate/internal/router"
	transport "github.com/stagegate/stagegate/internal/transport/http"
)

// Config holds server command configuration.
type Config struct {
	Addr            string `env:"STAGEGATE_HTTP_ADDR"       envDefault:":8080"`
	DBPath          string `env:"STAGEGATE_DB_PATH"         envDefault:"stagegate.db"`
	Creator         string `env:"STAGEGATE_CREATOR"`
	InstanceAccount string `env:"STAGEGATE_INSTANCE_ACCOUNT" envDefault:"acct-stagegate"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "The arena database path")
	fs.StringVar(&cfg.Creator, "creator", cfg.Creator, "The account bootstrapped as creator and first owner")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(cfg.Creator) == "" {
		return Config{}, errors.New("a creator account is required (STAGEGATE_CREATOR or -creator)")
	}
	return cfg, nil
}

// Run starts the core and serves until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	shutdownTracing, err := otel.Setup(ctx, "stagegate")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("shutdown tracing", "error", err)
		}
	}()

	idCfg, err := identity.LoadConfigFromEnv(nil)
	if err != nil {
		return fmt.Errorf("load identity config: %w", err)
	}

	store, err := arena.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open arena store: %w", err)
	}
	defer store.Close()

	dispatcher, err := wireCore(ctx, store, cfg)
	if err != nil {
		return err
	}

	handler := transport.NewHandler(dispatcher, store, idCfg)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           transport.NewRouter(handler),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", cfg.Addr, "db", cfg.DBPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// wireCore registers the business modules, bootstraps ownership, and seeds
// the routing table on first start. Reopening an existing arena leaves its
// routing table as routed; route changes after genesis go through the route
// mutation operation.
func wireCore(ctx context.Context, store *arena.Store, cfg Config) (*router.Dispatcher, error) {
	token := local.NewToken()
	ledger := local.NewLedger(nil)

	registry := router.NewRegistry()
	registry.Register(event.Address, event.New())
	registry.Register(purchase.Address, purchase.New(token, ledger, cfg.InstanceAccount))
	registry.Register(resale.Address, resale.New(token, ledger, cfg.InstanceAccount))
	registry.Register(staff.Address, staff.New(token))

	dispatcher := router.New(store, registry)
	if err := dispatcher.Bootstrap(ctx, cfg.Creator); err != nil {
		return nil, fmt.Errorf("bootstrap core: %w", err)
	}

	modules, err := dispatcher.Modules(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspect routing table: %w", err)
	}
	if len(modules) == 0 {
		owner, err := dispatcher.Owner(ctx)
		if err != nil {
			return nil, fmt.Errorf("read owner: %w", err)
		}
		genesis := []router.Change{
			{Action: router.ActionAdd, Address: event.Address, Ops: event.Routes()},
			{Action: router.ActionAdd, Address: purchase.Address, Ops: purchase.Routes()},
			{Action: router.ActionAdd, Address: resale.Address, Ops: resale.Routes()},
			{Action: router.ActionAdd, Address: staff.Address, Ops: staff.Routes()},
		}
		if err := dispatcher.SubmitRouteChanges(ctx, owner, genesis, nil); err != nil {
			return nil, fmt.Errorf("seed routes: %w", err)
		}
		slog.Info("routing table seeded", "modules", len(genesis))
	}

	return dispatcher, nil
}
