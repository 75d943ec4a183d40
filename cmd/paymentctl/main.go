// Command paymentctl is a scriptable operator CLI for the outgoing-payment
// engine: get/list/requote/cancel against the Command API in-process,
// against the same database the engine process uses. Grounded on
// stronghold/cmd/cli/main.go's cobra root-command-plus-subcommands shape,
// trimmed to the operations this engine actually exposes — no TUI wizard,
// no wallet/proxy management.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rafikipay/outpay/internal/capability/inmemory"
	"github.com/rafikipay/outpay/internal/command"
	"github.com/rafikipay/outpay/internal/config"
	"github.com/rafikipay/outpay/internal/lifecycle"
	"github.com/rafikipay/outpay/internal/payment"
	"github.com/rafikipay/outpay/internal/store"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "paymentctl",
		Short:   "Operate outgoing payments against the engine's database",
		Long:    `paymentctl is an operator CLI for the outgoing-payment engine: inspect, list, requote, and cancel payments directly against the store the engine process uses.`,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	}

	getCmd := &cobra.Command{
		Use:   "get <payment-id>",
		Short: "Show a single payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid payment id %q: %w", args[0], err)
			}
			return withEngine(cmd, func(ctx context.Context, e *command.Engine) error {
				p, err := e.Get(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, p)
			})
		},
	}

	var listAccountID string
	var listAfter string
	var listLimit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List payments for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := uuid.Parse(listAccountID)
			if err != nil {
				return fmt.Errorf("invalid --account id %q: %w", listAccountID, err)
			}
			return withEngine(cmd, func(ctx context.Context, e *command.Engine) error {
				page, info, err := e.ListByAccount(ctx, accountID, listAfter, listLimit)
				if err != nil {
					return err
				}
				return printJSON(cmd, struct {
					Payments any `json:"payments"`
					PageInfo any `json:"pageInfo"`
				}{page, info})
			})
		},
	}
	listCmd.Flags().StringVar(&listAccountID, "account", "", "account id to list payments for (required)")
	listCmd.Flags().StringVar(&listAfter, "after", "", "opaque cursor from a previous page's pageInfo.endCursor")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum payments to return")
	listCmd.MarkFlagRequired("account") //nolint:errcheck

	requoteCmd := &cobra.Command{
		Use:   "requote <payment-id>",
		Short: "Reset a Cancelled payment back to Quoting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid payment id %q: %w", args[0], err)
			}
			return withEngine(cmd, func(ctx context.Context, e *command.Engine) error {
				p, err := e.Requote(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, p)
			})
		},
	}

	cancelCmd := &cobra.Command{
		Use:   "cancel <payment-id>",
		Short: "Cancel a Ready payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid payment id %q: %w", args[0], err)
			}
			return withEngine(cmd, func(ctx context.Context, e *command.Engine) error {
				p, err := e.Cancel(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, p)
			})
		},
	}

	root.AddCommand(getCmd, listCmd, requoteCmd, cancelCmd)
	return root
}

// withEngine opens a short-lived store connection and a Command engine
// wired the same way cmd/enginesrv wires one, runs fn, and tears the
// connection down. paymentctl never runs the worker pool — it only
// issues Command API calls, the administrative transitions that were
// always meant to come from outside the engine process.
func withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *command.Engine) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg := config.Load()
	st, err := store.New(ctx, store.Config(cfg.Database))
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer st.Close()

	ledger := inmemory.NewLedger()
	deps := lifecycle.Deps{
		Accounting: ledger,
		Rates:      inmemory.NewRates(),
		Streaming:  inmemory.NewStreaming(),
		Plugins:    inmemory.NewPluginFactory(),
		Limits: payment.Limits{
			MaxQuoteAttempts: cfg.Engine.MaxQuoteAttempts,
			MaxSendAttempts:  cfg.Engine.MaxSendAttempts,
		},
		Slippage:      cfg.Engine.Slippage,
		QuoteLifespan: cfg.Engine.QuoteLifespan,
		BackoffBase:   cfg.Engine.BackoffBase,
		BackoffMax:    cfg.Engine.BackoffMax,
	}
	engine := command.New(st, inmemory.NewSubAccounts(ledger), deps)

	return fn(ctx, engine)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
