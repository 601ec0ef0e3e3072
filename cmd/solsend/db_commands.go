package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/brojonat/solsend/client"
	"github.com/brojonat/solsend/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-transfers",
		Usage:   "List recorded transfer attempts, newest first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "sender",
				Aliases: []string{"s"},
				Usage:   "Only attempts from this wallet",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum number of attempts",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of attempts to skip",
			},
		},
		Action: func(c *cli.Context) error {
			limit, offset := c.Int("limit"), c.Int("offset")
			if limit <= 0 || limit > 1000 {
				return fmt.Errorf("limit must be between 1 and 1000")
			}
			if offset < 0 {
				return fmt.Errorf("offset must not be negative")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			rows, err := store.ListTransfers(c.Context, db.ListTransfersParams{
				Sender: c.String("sender"),
				Limit:  int32(limit),
				Offset: int32(offset),
			})
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}

			transfers := make([]*client.Transfer, len(rows))
			for i, t := range rows {
				transfers[i] = toClientTransfer(t)
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, transfers)
			}
			printTransfers(c.App.Writer, transfers)
			return nil
		},
	}
}

func getTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-transfer",
		Usage:     "Show a recorded transfer by signature",
		ArgsUsage: "SIGNATURE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("signature is required")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			t, err := store.GetTransferBySignature(c.Context, c.Args().Get(0))
			if errors.Is(err, db.ErrNotFound) {
				return fmt.Errorf("no transfer recorded with signature %s", c.Args().Get(0))
			}
			if err != nil {
				return fmt.Errorf("failed to get transfer: %w", err)
			}

			out := toClientTransfer(t)
			if c.Bool("json") {
				return outputJSON(c.App.Writer, out)
			}
			printTransferDetailed(c.App.Writer, out)
			return nil
		},
	}
}

func toClientTransfer(t *db.Transfer) *client.Transfer {
	return &client.Transfer{
		ID:           t.ID,
		Sender:       t.Sender,
		Recipient:    t.Recipient,
		Network:      t.Network,
		Asset:        t.Asset,
		Amount:       t.Amount,
		BaseUnits:    t.BaseUnits,
		Status:       t.Status,
		Signature:    t.Signature,
		ExplorerURL:  t.ExplorerURL,
		ErrorKind:    t.ErrorKind,
		ErrorMessage: t.ErrorMessage,
		WorkflowID:   t.WorkflowID,
		CreatedAt:    t.CreatedAt,
	}
}

func printTransferDetailed(w io.Writer, t *client.Transfer) {
	fmt.Fprintf(w, "ID:          %d\n", t.ID)
	fmt.Fprintf(w, "Created:     %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Status:      %s\n", t.Status)
	fmt.Fprintf(w, "Sender:      %s\n", t.Sender)
	fmt.Fprintf(w, "Recipient:   %s\n", t.Recipient)
	fmt.Fprintf(w, "Network:     %s\n", t.Network)
	fmt.Fprintf(w, "Asset:       %s\n", t.Asset)
	fmt.Fprintf(w, "Amount:      %s\n", t.Amount)
	fmt.Fprintf(w, "Base Units:  %s\n", formatOptionalInt(t.BaseUnits))
	fmt.Fprintf(w, "Signature:   %s\n", formatOptional(t.Signature))
	fmt.Fprintf(w, "Explorer:    %s\n", formatOptional(t.ExplorerURL))
	if t.ErrorKind != nil {
		fmt.Fprintf(w, "Error:       %s: %s\n", *t.ErrorKind, formatOptional(t.ErrorMessage))
	}
	if t.WorkflowID != nil {
		fmt.Fprintf(w, "Workflow:    %s\n", *t.WorkflowID)
	}
}

func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(c.Context, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(c.Context); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool, nil), pool.Close, nil
}

func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}

func formatOptionalInt(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}
