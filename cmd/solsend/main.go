package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:  "solsend",
		Usage: "Send SOL and SPL tokens from a connected Solana wallet",
		Description: `solsend builds, signs and submits single transfers of SOL or SPL tokens
(Token and Token-2022), and inspects the transfer audit log and event stream.

Local commands (send, balance, validate) read the same environment as the server:
SOLANA_RPC_URL plus one of WALLET_KEYPAIR_PATH, WALLET_PRIVATE_KEY or
REMOTE_SIGNER_URL/REMOTE_SIGNER_ADDRESS.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			sendCommand(),
			balanceCommand(),
			validateCommand(),
			clientCommands(),
			{
				Name:  "nats",
				Usage: "Transfer event stream commands",
				Subcommands: []*cli.Command{
					watchCommand(),
					inspectStreamCommand(),
				},
			},
			{
				Name:  "db",
				Usage: "Transfer audit log commands",
				Subcommands: []*cli.Command{
					listTransfersCommand(),
					getTransferCommand(),
				},
			},
			{
				Name:  "server",
				Usage: "Server management commands",
				Subcommands: []*cli.Command{
					healthCommand(),
					versionCommand(),
				},
			},
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "solsend server URL",
				EnvVars: []string{"SOLSEND_SERVER_URL", "SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
				Value:   "nats://localhost:4222",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level for local commands (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "error",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// newLogger writes to stderr so stdout stays parseable.
func newLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	default:
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
