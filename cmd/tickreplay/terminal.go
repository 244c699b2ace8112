package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/zappabad/tickreplay/internal/api"
	"github.com/zappabad/tickreplay/internal/api/client"
	"github.com/zappabad/tickreplay/internal/broker"
	"github.com/zappabad/tickreplay/tui"
)

type terminalCmd struct {
	addr    string
	token   string
	broker  string
	create  bool
	balance string
}

func (*terminalCmd) Name() string     { return "terminal" }
func (*terminalCmd) Synopsis() string { return "trade against a running exchange from the terminal" }
func (*terminalCmd) Usage() string {
	return `tickreplay terminal [-addr <url>] [-token <token>] [-broker <id>] [-create]

  Connects to the exchange at -addr, streams market snapshots and trades
  as the given broker. With -create the broker is opened if it does not
  exist yet.
`
}

func (c *terminalCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.addr, "addr", "http://localhost:8080", "Base URL of the exchange API.")
	f.StringVar(&c.token, "token", os.Getenv("APP_AUTH_TOKEN"), "Bearer token for orders and clock control.")
	f.StringVar(&c.broker, "broker", "demo", "Broker to trade as.")
	f.BoolVar(&c.create, "create", false, "Create the broker when it does not exist.")
	f.StringVar(&c.balance, "balance", "100000", "Starting cash when the broker is created.")
}

func (c *terminalCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cl, err := client.New(c.addr, c.token)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}

	if err := c.ensureBroker(ctx, cl); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	status, err := cl.Status(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	snapshots, err := cl.Subscribe(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	model := tui.NewModel(cl, snapshots, c.broker, status.Currency)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *terminalCmd) ensureBroker(ctx context.Context, cl *client.Client) error {
	_, err := cl.Broker(ctx, c.broker)
	var appErr *api.AppError
	if err == nil || !c.create || !errors.As(err, &appErr) || appErr.Code != http.StatusNotFound {
		return err
	}

	balance, err := decimal.NewFromString(c.balance)
	if err != nil {
		return fmt.Errorf("invalid balance %q: %w", c.balance, err)
	}
	_, err = cl.CreateBroker(ctx, broker.NewBroker{ID: c.broker, Name: c.broker, Balance: balance})
	return err
}
