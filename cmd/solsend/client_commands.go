package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/brojonat/solsend/client"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the solsend server",
		Subcommands: []*cli.Command{
			clientSendCommand(),
			clientStatusCommand(),
			clientListCommand(),
			clientWalletCommand(),
			clientBalanceCommand(),
		},
	}
}

func newHTTPClient(c *cli.Context) *client.Client {
	return client.NewClient(c.String("server-url"), nil, newLogger(c.String("log-level")))
}

func clientSendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send a transfer through the server's wallet",
		ArgsUsage: "RECIPIENT AMOUNT",
		Flags: append(assetFlags(),
			&cli.BoolFlag{
				Name:  "async",
				Usage: "Run the transfer as a workflow and print its id",
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "With --async, block until the workflow finishes",
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Value:   5 * time.Minute,
				Usage:   "How long to wait with --wait",
			},
		),
		Action: func(c *cli.Context) error {
			req, err := requestFromArgs(c)
			if err != nil {
				return err
			}
			cl := newHTTPClient(c)

			if !c.Bool("async") {
				outcome, err := cl.Send(c.Context, req)
				if errors.Is(err, client.ErrInFlight) {
					return fmt.Errorf("the server wallet already has a transfer in flight, try again shortly")
				}
				if err != nil {
					return err
				}
				return reportClientOutcome(c, *outcome)
			}

			workflowID, err := cl.StartAsync(c.Context, req)
			var rejected *client.OutcomeError
			if errors.As(err, &rejected) {
				return reportClientOutcome(c, rejected.Outcome)
			}
			if err != nil {
				return err
			}

			if !c.Bool("wait") {
				if c.Bool("json") {
					return outputJSON(c.App.Writer, map[string]string{"workflow_id": workflowID})
				}
				fmt.Fprintf(c.App.Writer, "Transfer started\n  Workflow ID: %s\n", workflowID)
				return nil
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()
			status, err := cl.Await(ctx, workflowID, time.Second)
			if err != nil {
				return fmt.Errorf("failed to await workflow %s: %w", workflowID, err)
			}
			return reportStatus(c, status)
		},
	}
}

func clientStatusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the state of an async transfer",
		ArgsUsage: "WORKFLOW_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("workflow id is required")
			}
			status, err := newHTTPClient(c).Status(c.Context, c.Args().Get(0))
			if errors.Is(err, client.ErrNotFound) {
				return fmt.Errorf("workflow %s not found", c.Args().Get(0))
			}
			if err != nil {
				return err
			}
			return reportStatus(c, status)
		},
	}
}

func clientListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List recorded transfers from the server",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "sender",
				Aliases: []string{"s"},
				Usage:   "Only transfers from this wallet",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum number of transfers",
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of transfers to skip",
			},
		},
		Action: func(c *cli.Context) error {
			transfers, err := newHTTPClient(c).List(c.Context, client.ListParams{
				Sender: c.String("sender"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, transfers)
			}
			printTransfers(c.App.Writer, transfers)
			return nil
		},
	}
}

func clientWalletCommand() *cli.Command {
	return &cli.Command{
		Name:  "wallet",
		Usage: "Show the wallet the server sends from",
		Action: func(c *cli.Context) error {
			info, err := newHTTPClient(c).Wallet(c.Context)
			if err != nil {
				return err
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, info)
			}
			w := c.App.Writer
			if !info.Connected {
				fmt.Fprintf(w, "No wallet connected (network: %s)\n", info.Network)
				return nil
			}
			fmt.Fprintf(w, "Address: %s\n", info.Address)
			fmt.Fprintf(w, "Network: %s\n", info.Network)
			fmt.Fprintf(w, "Mode:    %s\n", info.Mode)
			return nil
		},
	}
}

func clientBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "Show the server wallet's balance of SOL or a token",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mint",
				Aliases: []string{"m"},
				Usage:   "Token mint address (omit for SOL)",
			},
		},
		Action: func(c *cli.Context) error {
			info, err := newHTTPClient(c).Balance(c.Context, c.String("mint"))
			if err != nil {
				return err
			}
			return printBalance(c, *info)
		},
	}
}

func reportClientOutcome(c *cli.Context, outcome client.Outcome) error {
	if c.Bool("json") {
		if err := outputJSON(c.App.Writer, outcome); err != nil {
			return err
		}
	} else {
		printOutcome(c.App.Writer, outcome)
	}
	if !outcome.Succeeded() {
		return fmt.Errorf("transfer failed (%s): %s", outcome.Kind, outcome.Message)
	}
	return nil
}

func reportStatus(c *cli.Context, status *client.AsyncStatus) error {
	if c.Bool("json") {
		return outputJSON(c.App.Writer, status)
	}
	w := c.App.Writer
	fmt.Fprintf(w, "Workflow: %s\n", status.WorkflowID)
	fmt.Fprintf(w, "Status:   %s\n", status.Status)
	if status.Result == nil {
		return nil
	}
	if !status.Result.Recorded {
		fmt.Fprintf(w, "Recorded: no\n")
	}
	printOutcome(w, status.Result.Outcome)
	return nil
}

func printTransfers(w io.Writer, transfers []*client.Transfer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tSENDER\tRECIPIENT\tASSET\tAMOUNT\tSTATUS\tDETAIL")
	for _, t := range transfers {
		detail := ""
		switch {
		case t.Signature != nil:
			detail = *t.Signature
		case t.ErrorKind != nil:
			detail = *t.ErrorKind
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.CreatedAt.Format(time.RFC3339),
			t.Sender,
			t.Recipient,
			t.Asset,
			t.Amount,
			t.Status,
			detail,
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nTotal: %d transfers\n", len(transfers))
}
