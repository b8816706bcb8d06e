package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	natspkg "github.com/brojonat/dustpan/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// tailEventsCommand streams cleanup events.
func tailEventsCommand() *cli.Command {
	return &cli.Command{
		Name:      "tail",
		Usage:     "Stream cleanup events, optionally for one wallet",
		ArgsUsage: "[wallet_address]",
		Description: `Stream run outcomes published to NATS JetStream.

Events are published to the subject: cleanups.{wallet_address}

Example:
  dustpan events tail --filter '.net_change_lamports < 0'`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Replay the whole stream instead of only new events",
			},
			&cli.StringFlag{
				Name:  "filter",
				Usage: "jq expression; only events for which it is true are shown",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.NATSURL == "" {
				return fmt.Errorf("nats-url is required (set NATS_URL env var or use --nats-url)")
			}

			subject := natspkg.StreamSubjects
			if c.NArg() > 0 {
				subject = natspkg.SubjectPrefix + c.Args().First()
			}

			var filter *gojq.Code
			if expr := c.String("filter"); expr != "" {
				if filter, err = compileFilter(expr); err != nil {
					return err
				}
			}

			return streamEvents(c.Context, c.App.Writer, c.App.ErrWriter, cfg.NATSURL, subject, c.Bool("all"), filter, c.Bool("json"))
		},
	}
}

func compileFilter(expr string) (*gojq.Code, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	return code, nil
}

// matchesFilter runs the filter against the raw event JSON.
func matchesFilter(code *gojq.Code, data []byte) (bool, error) {
	if code == nil {
		return true, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("event is not a JSON object: %w", err)
	}
	v, ok := code.Run(doc).Next()
	if !ok {
		return false, nil
	}
	if err, isErr := v.(error); isErr {
		return false, err
	}
	match, _ := v.(bool)
	return match, nil
}

// streamEvents connects to NATS and prints cleanup events until ctx is done.
func streamEvents(ctx context.Context, out, errOut io.Writer, natsURL, subject string, replay bool, filter *gojq.Code, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if replay {
		consumerConfig.DeliverPolicy = jetstream.DeliverAllPolicy
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(out, "📡 Subscribing to: %s\n", subject)
		fmt.Fprintf(out, "\nWaiting for cleanup events... (Ctrl-C to exit)\n\n")
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			data := msg.Data()
			msg.Ack()

			match, err := matchesFilter(filter, data)
			if err != nil {
				fmt.Fprintf(errOut, "Error filtering event: %v\n", err)
				continue
			}
			if !match {
				continue
			}

			var event natspkg.CleanupEvent
			if err := json.Unmarshal(data, &event); err != nil {
				fmt.Fprintf(errOut, "Error parsing event: %v\n", err)
				continue
			}
			count++

			if jsonOutput {
				fmt.Fprintln(out, string(data))
				continue
			}
			printEvent(out, count, &event)

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(out, "\n✅ Received %d events\n", count)
			}
			return nil
		}
	}
}

func printEvent(w io.Writer, n int, event *natspkg.CleanupEvent) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Cleanup #%d\n", n)
	fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Wallet:       %s\n", event.WalletAddress)
	fmt.Fprintf(w, "Endpoint:     %s\n", event.Endpoint)
	fmt.Fprintf(w, "Mode:         %s\n", event.Mode)
	fmt.Fprintf(w, "Status:       %s\n", event.Status)
	if event.Signature != "" {
		fmt.Fprintf(w, "Signature:    %s\n", event.Signature)
	}
	fmt.Fprintf(w, "Accounts:     %d (dust %d, idle %d, keep %d)\n",
		event.AccountsEnumerated, event.DustCount, event.IdleCount, event.KeepCount)
	fmt.Fprintf(w, "Est. reclaim: %d lamports\n", event.EstimatedReclaim)
	if event.NetChange != nil {
		fmt.Fprintf(w, "Net change:   %+d lamports\n", *event.NetChange)
	}
	if event.Error != "" {
		fmt.Fprintf(w, "Error:        %s\n", event.Error)
	}
	fmt.Fprintf(w, "Published:    %s\n\n", event.PublishedAt.Format(time.RFC3339))
}

// inspectStreamCommand shows information about the NATS JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the CLEANUPS JetStream stream",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.NATSURL == "" {
				return fmt.Errorf("nats-url is required (set NATS_URL env var or use --nats-url)")
			}

			nc, err := nats.Connect(cfg.NATSURL)
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

			w := c.App.Writer
			if c.Bool("json") {
				return outputJSON(w, info)
			}
			fmt.Fprintf(w, "Stream: %s\n", info.Config.Name)
			fmt.Fprintf(w, "─────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Subjects:     %v\n", info.Config.Subjects)
			fmt.Fprintf(w, "Messages:     %d\n", info.State.Msgs)
			fmt.Fprintf(w, "Bytes:        %d\n", info.State.Bytes)
			fmt.Fprintf(w, "Consumers:    %d\n", info.State.Consumers)
			fmt.Fprintf(w, "Max Age:      %s\n", info.Config.MaxAge)
			fmt.Fprintf(w, "Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
