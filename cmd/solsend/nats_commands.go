package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	natspkg "github.com/brojonat/solsend/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// watchCommand streams transfer events, optionally filtered by jq expressions.
func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream transfer events from the TRANSFERS stream",
		Description: `Subscribe to transfer outcome events published to NATS JetStream.

Events are published to the subject transfers.{sender}. Without --sender every
sender is watched. Each --must-jq expression is evaluated against the event JSON
and the event is printed only when all of them produce a truthy value.

Examples:
  solsend nats watch --sender 9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin
  solsend nats watch --must-jq '.status == "failure"' --must-jq '.error_kind != "InvalidAmount"' --json
  solsend nats watch --must-jq '.signature == "5VERv8..."' --count 1 --timeout 2m`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "sender",
				Aliases: []string{"s"},
				Usage:   "Only events for this sending wallet",
			},
			&cli.StringSliceFlag{
				Name:  "must-jq",
				Usage: "jq expression that must evaluate truthy (repeatable)",
			},
			&cli.IntFlag{
				Name:  "count",
				Usage: "Exit after this many matching events (0 means run until interrupted)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up after this long (0 means no timeout)",
			},
			&cli.BoolFlag{
				Name:  "new-only",
				Usage: "Skip events already in the stream",
			},
		},
		Action: func(c *cli.Context) error {
			filters, err := compileFilters(c.StringSlice("must-jq"))
			if err != nil {
				return err
			}

			subject := natspkg.StreamSubjects
			if sender := c.String("sender"); sender != "" {
				subject = natspkg.SubjectFor(sender)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout := c.Duration("timeout"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			return watchTransfers(ctx, c, watchOptions{
				natsURL: c.String("nats-url"),
				subject: subject,
				filters: filters,
				count:   c.Int("count"),
				newOnly: c.Bool("new-only"),
			})
		},
	}
}

type watchOptions struct {
	natsURL string
	subject string
	filters []*gojq.Code
	count   int
	newOnly bool
}

func watchTransfers(ctx context.Context, c *cli.Context, opts watchOptions) error {
	nc, err := nats.Connect(opts.natsURL, nats.Name("solsend-cli"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	deliver := jetstream.DeliverAllPolicy
	if opts.newOnly {
		deliver = jetstream.DeliverNewPolicy
	}
	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, jetstream.ConsumerConfig{
		FilterSubject: opts.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: deliver,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	jsonOutput := c.Bool("json")
	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "Watching %s on %s (Ctrl-C to exit)\n\n", opts.subject, opts.natsURL)
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case msgChan <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	matched := 0
	for {
		select {
		case msg := <-msgChan:
			_ = msg.Ack()

			ok, err := matchesAll(opts.filters, msg.Data())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error filtering event: %v\n", err)
				continue
			}
			if !ok {
				continue
			}

			var event natspkg.TransferEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				continue
			}

			matched++
			if jsonOutput {
				fmt.Fprintln(c.App.Writer, string(msg.Data()))
			} else {
				printEvent(c.App.Writer, matched, &event)
			}
			if opts.count > 0 && matched >= opts.count {
				return nil
			}

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\nReceived %d matching events\n", matched)
			}
			if opts.count > 0 && matched < opts.count && ctx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("timed out after %d of %d events", matched, opts.count)
			}
			return nil
		}
	}
}

// compileFilters parses and compiles each jq expression.
func compileFilters(exprs []string) ([]*gojq.Code, error) {
	codes := make([]*gojq.Code, 0, len(exprs))
	for _, expr := range exprs {
		query, err := gojq.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// matchesAll reports whether every filter yields a truthy first value for the
// JSON document. A filter that yields nothing does not match.
func matchesAll(filters []*gojq.Code, data []byte) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("event is not valid JSON: %w", err)
	}
	for _, code := range filters {
		v, ok := code.Run(doc).Next()
		if !ok {
			return false, nil
		}
		if err, isErr := v.(error); isErr {
			return false, err
		}
		if v == nil || v == false {
			return false, nil
		}
	}
	return true, nil
}

func printEvent(w io.Writer, n int, e *natspkg.TransferEvent) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Transfer #%d (%s)\n", n, e.Status)
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Sender:       %s\n", e.Sender)
	fmt.Fprintf(w, "Recipient:    %s\n", e.Recipient)
	fmt.Fprintf(w, "Network:      %s\n", e.Network)
	fmt.Fprintf(w, "Asset:        %s\n", e.Asset)
	fmt.Fprintf(w, "Amount:       %s\n", e.Amount)
	if e.Signature != "" {
		fmt.Fprintf(w, "Signature:    %s\n", e.Signature)
		fmt.Fprintf(w, "Explorer:     %s\n", e.ExplorerURL)
	}
	if e.ErrorKind != "" {
		fmt.Fprintf(w, "Error:        %s: %s\n", e.ErrorKind, e.ErrorMessage)
	}
	if e.WorkflowID != "" {
		fmt.Fprintf(w, "Workflow:     %s\n", e.WorkflowID)
	}
	fmt.Fprintf(w, "Timestamp:    %s\n", e.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "\n")
}

// inspectStreamCommand shows information about the TRANSFERS stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the TRANSFERS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(c.String("nats-url"), nats.Name("solsend-cli"))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, info)
			}
			w := c.App.Writer
			fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Description:  %s\n", info.Config.Description)
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			return nil
		},
	}
}
