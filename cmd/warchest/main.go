// Command warchest runs the wallet HUD service: it aggregates live
// on-chain state for the configured wallets and serves it through the
// terminal HUD or, in daemon mode, the status file on disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/config"
	"github.com/scoundrelhq/warchest/internal/hud"
	"github.com/scoundrelhq/warchest/internal/hudtui"
	"github.com/scoundrelhq/warchest/internal/logger"
	"github.com/scoundrelhq/warchest/internal/service"
	"github.com/scoundrelhq/warchest/internal/storage/migrations"
	"github.com/scoundrelhq/warchest/internal/storage/postgres"
)

// walletFlags collects every --wallet alias:pubkey:color occurrence.
type walletFlags []string

func (w *walletFlags) String() string { return fmt.Sprint([]string(*w)) }

func (w *walletFlags) Set(value string) error {
	*w = append(*w, value)
	return nil
}

func main() {
	os.Exit(run())
}

func run() int {
	var wallets walletFlags
	hudMode := flag.Bool("hud", false, "mount the terminal HUD instead of running as a daemon")
	flag.Var(&wallets, "wallet", "wallet spec alias:pubkey:color (repeatable)")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warchest: invalid configuration: %v\n", err)
		return 1
	}

	log, err := logger.New(&logger.Config{
		LogFile:    cfg.LogFile,
		MaxSize:    100,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   true,
		Level:      cfg.LogLevel,
		// The HUD owns the terminal; daemons keep the console core.
		Console: !*hudMode,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warchest: failed to initialize logging: %v\n", err)
		return 1
	}
	defer logger.Sync(log)

	specs, dropped := hud.ParseWalletSpecs(wallets)
	for _, bad := range dropped {
		log.Warn("Dropping malformed wallet spec", zap.String("spec", bad))
	}
	if len(specs) == 0 {
		fmt.Fprintln(os.Stderr, "warchest: at least one valid --wallet alias:pubkey:color is required")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("Operational database init failed", zap.Error(err))
		return 1
	}
	defer pool.Close()
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		log.Error("Operational database migrations failed", zap.Error(err))
		return 1
	}
	store := postgres.NewWarchestStore(pool, log)

	svc, err := service.New(ctx, service.Options{
		Config:  cfg,
		Specs:   specs,
		HudMode: *hudMode,
		DB:      store,
		Logger:  log,
	})
	if err != nil {
		log.Error("Service startup failed", zap.Error(err))
		return 1
	}

	if *hudMode {
		return runHud(ctx, stop, svc, log)
	}

	if err := svc.Run(ctx); err != nil {
		log.Error("Service terminated", zap.Error(err))
		return 1
	}
	return 0
}

// runHud drives the service in the background while the terminal HUD
// owns the foreground. Quitting the HUD stops the service; a service
// failure tears the HUD down.
func runHud(ctx context.Context, stop context.CancelFunc, svc *service.Service, log *zap.Logger) int {
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	if err := hudtui.Run(ctx, svc.Store()); err != nil {
		log.Error("HUD terminated", zap.Error(err))
	}
	stop()

	if err := <-errCh; err != nil {
		log.Error("Service terminated", zap.Error(err))
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: warchest [flags]

Aggregates live Solana wallet state into the warchest HUD snapshot.

Flags:
  --wallet alias:pubkey:color   wallet to track (repeatable, required)
  --hud                         mount the terminal HUD (default: daemon mode)
  -h, --help                    print this help

Environment: see SOLANATRACKER_*, WARCHEST_*, HUD_* variables in the
project README.
`)
}
