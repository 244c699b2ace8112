package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/subcommands"
	"go.uber.org/zap"

	"github.com/zappabad/tickreplay/internal/api"
	"github.com/zappabad/tickreplay/internal/config"
	"github.com/zappabad/tickreplay/internal/exchange"
)

type serveCmd struct {
	config string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the exchange and its HTTP/websocket API" }
func (*serveCmd) Usage() string {
	return `tickreplay serve [-config <file>]

  Loads stocks, brokers and clock settings from the configured store and
  serves the exchange API until interrupted. Settings come from the
  optional config file, .env and APP_*/STORE_*/EXCHANGE_* variables.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.config, "config", "", "Optional config file (yaml, json or toml).")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(c.config)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	deps, err := config.NewDependencies(ctx, config.FromConfig(cfg)...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer deps.Close()
	logger := deps.Logger
	defer logger.Sync()

	ex, err := exchange.NewExchange(ctx, cfg.ExchangeConfig(), deps.Exchange())
	if err != nil {
		logger.Error("failed to start exchange", zap.Error(err))
		return subcommands.ExitFailure
	}
	defer ex.Close()

	apiCfg := api.DefaultConfig()
	apiCfg.Addr = cfg.App.Addr
	apiCfg.AuthToken = cfg.App.AuthToken
	apiCfg.CORSOrigin = cfg.App.CORSOrigin
	if apiCfg.AuthToken == "" {
		logger.Warn("no auth token configured, mutating endpoints are open")
	}

	srv := api.NewServer(apiCfg, ex, logger)
	logger.Info("exchange ready", zap.String("store", cfg.Store.Driver), zap.String("currency", cfg.App.Currency))
	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return subcommands.ExitFailure
	}

	logger.Info("shut down")
	return subcommands.ExitSuccess
}
