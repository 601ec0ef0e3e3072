package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/brojonat/solsend/client"
	"github.com/brojonat/solsend/service/audit"
	"github.com/brojonat/solsend/service/config"
	"github.com/brojonat/solsend/service/db"
	natspkg "github.com/brojonat/solsend/service/nats"
	"github.com/brojonat/solsend/service/solana"
	"github.com/brojonat/solsend/service/transfer"
	"github.com/brojonat/solsend/service/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

// assetFlags select what is sent. They are shared by the local and HTTP send commands.
func assetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "mint",
			Aliases: []string{"m"},
			Usage:   "Token mint address (omit or 'native' for SOL)",
		},
		&cli.UintFlag{
			Name:  "decimals",
			Usage: "Token decimals (default: read from the mint)",
		},
		&cli.StringFlag{
			Name:  "program",
			Usage: "Token program hint: token or token-2022 (default: read from the mint)",
		},
		&cli.StringFlag{
			Name:    "balance",
			Aliases: []string{"b"},
			Usage:   "Known balance in display units; the amount may not exceed it",
		},
	}
}

// requestFromArgs reads RECIPIENT AMOUNT and the asset flags.
func requestFromArgs(c *cli.Context) (client.TransferRequest, error) {
	if c.NArg() != 2 {
		return client.TransferRequest{}, fmt.Errorf("recipient and amount are required")
	}
	req := client.TransferRequest{
		Recipient: c.Args().Get(0),
		Amount:    c.Args().Get(1),
		Mint:      c.String("mint"),
		Program:   c.String("program"),
	}
	if c.IsSet("decimals") {
		d := c.Uint("decimals")
		if d > 255 {
			return client.TransferRequest{}, fmt.Errorf("decimals must be between 0 and 255, got %d", d)
		}
		v := uint8(d)
		req.Decimals = &v
	}
	if c.IsSet("balance") {
		b := c.String("balance")
		req.Balance = &b
	}
	return req, nil
}

func sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Build, sign and submit a transfer with the locally configured wallet",
		ArgsUsage: "RECIPIENT AMOUNT",
		Description: `Runs one transfer attempt in-process. The wallet comes from the environment
(WALLET_KEYPAIR_PATH, WALLET_PRIVATE_KEY or REMOTE_SIGNER_*). When DATABASE_URL or
NATS_URL are set the attempt is recorded there too.

Examples:
  solsend send 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin 0.5
  solsend send 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin 12.5 --mint EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v
  solsend send 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin 0.5 --dry-run`,
		Flags: append(assetFlags(),
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Build the transaction and print its instructions without signing",
			},
		),
		Action: func(c *cli.Context) error {
			wire, err := requestFromArgs(c)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(c.String("log-level"))
			ctx := c.Context

			asset, err := transfer.ParseAssetRef(wire.Mint, wire.Decimals, wire.Program)
			if err != nil {
				outcome := transfer.Failure(err)
				return reportOutcome(c, outcome)
			}
			req := transfer.Request{
				Recipient: wire.Recipient,
				Amount:    wire.Amount,
				Asset:     asset,
				Balance:   wire.Balance,
			}

			solanaClient := solana.NewClient(solana.NewRPCClient(cfg.SolanaRPCURL), cfg.SolanaNetwork, nil, logger)
			session, err := wallet.FromConfig(cfg, solanaClient, logger)
			if err != nil {
				return fmt.Errorf("failed to open wallet: %w", err)
			}
			transferer := transfer.NewTransferer(nil, logger)

			if c.Bool("dry-run") {
				return dryRun(ctx, c, transferer, session, req)
			}

			recorder, closer, err := openRecorder(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closer()

			form := transfer.NewForm(transferer, session, transfer.WithResetDelay(0))
			defer form.Close()
			form.SetRecipient(req.Recipient)
			form.SetAmount(req.Amount)
			form.SetAsset(req.Asset)
			form.SetBalance(req.Balance)

			outcome, err := form.Submit(ctx)
			if err != nil {
				return err
			}

			sender := ""
			if session != nil {
				sender = session.Address().String()
			}
			if err := recorder.Record(ctx, audit.NewEntry(sender, string(cfg.SolanaNetwork), req, outcome)); err != nil {
				logger.Warn("transfer was not fully recorded", "error", err)
			}

			return reportOutcome(c, outcome)
		},
	}
}

func dryRun(ctx context.Context, c *cli.Context, t *transfer.Transferer, session transfer.Session, req transfer.Request) error {
	p, err := t.Prepare(ctx, session, req)
	if err != nil {
		return reportOutcome(c, transfer.Failure(err))
	}
	instructions, err := solana.DescribeTransaction(p.Transaction)
	if err != nil {
		return fmt.Errorf("failed to decode transaction: %w", err)
	}

	w := c.App.Writer
	if c.Bool("json") {
		return outputJSON(w, struct {
			Sender       string                      `json:"sender"`
			Recipient    string                      `json:"recipient"`
			Network      string                      `json:"network"`
			Asset        string                      `json:"asset"`
			BaseUnits    uint64                      `json:"base_units"`
			Decimals     uint8                       `json:"decimals"`
			Instructions []solana.InstructionSummary `json:"instructions"`
		}{
			Sender:       p.Sender.String(),
			Recipient:    p.Recipient.String(),
			Network:      string(p.Network),
			Asset:        p.Asset.String(),
			BaseUnits:    p.Amount,
			Decimals:     p.Decimals,
			Instructions: instructions,
		})
	}

	fmt.Fprintf(w, "Dry run (%s), nothing was signed\n", p.Network)
	fmt.Fprintf(w, "  Sender:     %s\n", p.Sender)
	fmt.Fprintf(w, "  Recipient:  %s\n", p.Recipient)
	fmt.Fprintf(w, "  Asset:      %s\n", p.Asset)
	fmt.Fprintf(w, "  Amount:     %d base units (%d decimals)\n", p.Amount, p.Decimals)
	printInstructions(w, instructions)
	return nil
}

func printInstructions(w io.Writer, instructions []solana.InstructionSummary) {
	fmt.Fprintf(w, "  Instructions:\n")
	for i, ix := range instructions {
		fmt.Fprintf(w, "    %d. %s (%s)\n", i+1, ix.Kind, ix.Program)
		if ix.Source != nil {
			fmt.Fprintf(w, "       source:      %s\n", ix.Source)
		}
		if ix.Destination != nil {
			fmt.Fprintf(w, "       destination: %s\n", ix.Destination)
		}
		if ix.Mint != nil {
			fmt.Fprintf(w, "       mint:        %s\n", ix.Mint)
		}
		if ix.Owner != nil {
			fmt.Fprintf(w, "       owner:       %s\n", ix.Owner)
		}
		if ix.Amount > 0 {
			fmt.Fprintf(w, "       amount:      %d\n", ix.Amount)
		}
	}
}

// reportOutcome prints the outcome and turns a failure into a command error.
func reportOutcome(c *cli.Context, outcome transfer.Outcome) error {
	if c.Bool("json") {
		if err := outputJSON(c.App.Writer, outcome); err != nil {
			return err
		}
	} else {
		printOutcome(c.App.Writer, client.Outcome{
			Status:      string(outcome.Status),
			Signature:   outcome.Signature,
			ExplorerURL: outcome.ExplorerURL,
			Kind:        string(outcome.Kind),
			Message:     outcome.Message,
			BaseUnits:   outcome.BaseUnits,
			Retryable:   outcome.Retryable,
		})
	}
	if !outcome.Succeeded() {
		return fmt.Errorf("transfer failed (%s): %s", outcome.Kind, outcome.Message)
	}
	return nil
}

func printOutcome(w io.Writer, o client.Outcome) {
	if o.Succeeded() {
		fmt.Fprintf(w, "✓ Transfer submitted\n")
		fmt.Fprintf(w, "  Signature: %s\n", o.Signature)
		fmt.Fprintf(w, "  Explorer:  %s\n", o.ExplorerURL)
		return
	}
	fmt.Fprintf(w, "✗ Transfer failed\n")
	fmt.Fprintf(w, "  Kind:    %s\n", o.Kind)
	fmt.Fprintf(w, "  Message: %s\n", o.Message)
	if o.Retryable {
		fmt.Fprintf(w, "  A new attempt may succeed.\n")
	}
}

// openRecorder connects the optional audit sinks named in cfg.
func openRecorder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*audit.Recorder, func(), error) {
	var (
		store     audit.Store
		publisher natspkg.Publisher
		closers   []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		closers = append(closers, pool.Close)
		s := db.NewStore(pool, nil)
		if err := s.EnsureSchema(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		store = s
	}

	if cfg.NATSURL != "" {
		p, err := natspkg.NewPublisher(cfg.NATSURL, nil, logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = p.Close() })
		publisher = p
	}

	return audit.NewRecorder(store, publisher, logger), closeAll, nil
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "Show the locally configured wallet's balance of SOL or a token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mint",
				Aliases: []string{"m"},
				Usage:   "Token mint address (omit or 'native' for SOL)",
			},
			&cli.StringFlag{
				Name:  "program",
				Usage: "Token program hint: token or token-2022 (default: read from the mint)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(c.String("log-level"))

			asset, err := transfer.ParseAssetRef(c.String("mint"), nil, c.String("program"))
			if err != nil {
				return err
			}
			solanaClient := solana.NewClient(solana.NewRPCClient(cfg.SolanaRPCURL), cfg.SolanaNetwork, nil, logger)
			session, err := wallet.FromConfig(cfg, solanaClient, logger)
			if err != nil {
				return fmt.Errorf("failed to open wallet: %w", err)
			}

			balance, err := transfer.NewTransferer(nil, logger).Balance(c.Context, session, asset)
			if err != nil {
				return fmt.Errorf("failed to read balance: %w", err)
			}
			info := client.BalanceInfo{
				Address: session.Address().String(),
				Network: string(cfg.SolanaNetwork),
				Asset:   asset.String(),
				Balance: balance,
			}
			return printBalance(c, info)
		},
	}
}

func printBalance(c *cli.Context, info client.BalanceInfo) error {
	if c.Bool("json") {
		return outputJSON(c.App.Writer, info)
	}
	fmt.Fprintf(c.App.Writer, "%s %s (%s on %s)\n", info.Balance, info.Asset, info.Address, info.Network)
	return nil
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check a recipient address and amount without touching the network",
		ArgsUsage: "RECIPIENT AMOUNT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "balance",
				Aliases: []string{"b"},
				Usage:   "Known balance in display units",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("recipient and amount are required")
			}
			var balance *string
			if c.IsSet("balance") {
				b := c.String("balance")
				balance = &b
			}

			v := validate(c.Args().Get(0), c.Args().Get(1), balance)
			if c.Bool("json") {
				if err := outputJSON(c.App.Writer, v); err != nil {
					return err
				}
			} else {
				printValidation(c.App.Writer, v)
			}
			if !v.RecipientValid || !v.AmountValid {
				return fmt.Errorf("invalid transfer input")
			}
			return nil
		},
	}
}

func validate(recipient, amount string, balance *string) client.Validation {
	var v client.Validation
	if _, err := transfer.CheckAddress(recipient); err != nil {
		v.RecipientError = err.Error()
	} else {
		v.RecipientValid = true
	}
	if _, err := transfer.CheckAmount(amount, balance); err != nil {
		v.AmountError = err.Error()
	} else {
		v.AmountValid = true
	}
	return v
}

func printValidation(w io.Writer, v client.Validation) {
	mark := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "✗"
	}
	fmt.Fprintf(w, "%s recipient", mark(v.RecipientValid))
	if v.RecipientError != "" {
		fmt.Fprintf(w, ": %s", v.RecipientError)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s amount", mark(v.AmountValid))
	if v.AmountError != "" {
		fmt.Fprintf(w, ": %s", v.AmountError)
	}
	fmt.Fprintln(w)
}
