package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/internal/config"
	"github.com/zappabad/tickreplay/internal/date"
	"github.com/zappabad/tickreplay/internal/market"
)

// Opening prices of the generated series, in dollars.
var basePrices = map[string]float64{
	"AAPL":  175.00,
	"GOOGL": 140.00,
	"MSFT":  375.00,
	"AMZN":  178.00,
	"TSLA":  250.00,
}

type seedCmd struct {
	config  string
	start   string
	days    int
	seed    int64
	symbols string
	broker  string
	balance string
}

func (*seedCmd) Name() string     { return "seed" }
func (*seedCmd) Synopsis() string { return "write demo price histories and a demo broker to the store" }
func (*seedCmd) Usage() string {
	return `tickreplay seed [-start <date>] [-days <n>] [-seed <n>] [-symbols A,B] [-broker <id>] [-balance <amount>]

  Generates a deterministic business-day random walk for each symbol and
  writes it, together with a funded broker, to the configured store.
  Existing records with the same keys are replaced.
`
}

func (c *seedCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.config, "config", "", "Optional config file (yaml, json or toml).")
	f.StringVar(&c.start, "start", "2024-01-02", "First trading date of the generated histories.")
	f.IntVar(&c.days, "days", 250, "Number of business days to generate.")
	f.Int64Var(&c.seed, "seed", 69420, "Random seed.")
	f.StringVar(&c.symbols, "symbols", "AAPL,GOOGL,MSFT,AMZN,TSLA", "Comma-separated symbols.")
	f.StringVar(&c.broker, "broker", "demo", "Id of the demo broker; empty skips it.")
	f.StringVar(&c.balance, "balance", "100000", "Starting cash of the demo broker.")
}

func (c *seedCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	start, err := date.Parse(c.start)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	balance, err := decimal.NewFromString(c.balance)
	if err != nil || balance.IsNegative() {
		fmt.Fprintf(os.Stderr, "invalid balance %q\n", c.balance)
		return subcommands.ExitUsageError
	}
	if c.days <= 0 {
		fmt.Fprintln(os.Stderr, "days must be positive")
		return subcommands.ExitUsageError
	}

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

	rng := rand.New(rand.NewSource(c.seed))
	for _, sym := range strings.Split(c.symbols, ",") {
		sym = market.NormalizeSymbol(sym)
		if sym == "" {
			continue
		}
		st := market.Stock{
			Symbol:  sym,
			Name:    sym,
			Enabled: true,
			History: randomWalk(rng, start, c.days, basePrices[sym]),
		}
		if err := st.Validate(); err != nil {
			logger.Error("generated invalid stock", zap.String("symbol", sym), zap.Error(err))
			return subcommands.ExitFailure
		}
		if err := deps.Store.SaveStock(ctx, st); err != nil {
			logger.Error("failed to save stock", zap.String("symbol", sym), zap.Error(err))
			return subcommands.ExitFailure
		}
		last := st.History[len(st.History)-1]
		logger.Info("seeded stock",
			zap.String("symbol", sym),
			zap.Int("points", len(st.History)),
			zap.Stringer("last_date", last.Date),
			zap.Stringer("last_open", last.Open))
	}

	if c.broker != "" {
		b := broker.Broker{
			ID:        c.broker,
			Name:      c.broker,
			Balance:   balance,
			Holdings:  map[string]int64{},
			CostBasis: map[string]decimal.Decimal{},
		}
		if err := deps.Store.SaveBroker(ctx, b); err != nil {
			logger.Error("failed to save broker", zap.String("broker", c.broker), zap.Error(err))
			return subcommands.ExitFailure
		}
		logger.Info("seeded broker", zap.String("broker", b.ID), zap.Stringer("balance", b.Balance))
	}

	return subcommands.ExitSuccess
}

// randomWalk returns n business-day opens starting at start. Daily moves are
// normally distributed with a 2% standard deviation and prices stay above one
// cent.
func randomWalk(rng *rand.Rand, start date.Date, n int, base float64) market.History {
	if base <= 0 {
		base = 100
	}

	h := make(market.History, 0, n)
	price := base
	d := start
	for len(h) < n {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			h = append(h, market.PricePoint{
				Date: d,
				Open: decimal.NewFromFloat(price).Round(2),
			})
			price = math.Max(0.01, price*(1+rng.NormFloat64()*0.02))
		}
		d = d.Add(1)
	}
	return h
}
