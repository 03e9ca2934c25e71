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

	natspkg "github.com/brojonat/launchbundle/service/nats"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

// eventsSubscribeCommand streams launch progress events.
func eventsSubscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Stream launch progress events",
		ArgsUsage: "[mint]",
		Description: `Subscribe to launch events published to NATS JetStream.

Events are published to the subject: launches.{mint}
Without a mint, events for every launch are shown.

Example:
  launchbundle events subscribe 7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "launchbundle-cli",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() > 1 {
				return fmt.Errorf("at most one mint address may be given")
			}
			subject := natspkg.StreamSubjects
			if mint := c.Args().First(); mint != "" {
				subject = natspkg.SubjectPrefix + mint
			}
			return streamEvents(c.App.Writer, c.String("nats-url"), subject, c.Bool("durable"), c.String("consumer-name"), c.Bool("json"))
		},
	}
}

// streamEvents connects to NATS and prints launch events until interrupted.
func streamEvents(out io.Writer, natsURL, subject string, durable bool, consumerName string, jsonOutput bool) error {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(out, "Subscribing to: %s\n", subject)
		fmt.Fprintf(out, "   NATS: %s\n", natsURL)
		if durable {
			fmt.Fprintf(out, "   Consumer: %s (durable)\n", consumerName)
		}
		fmt.Fprintf(out, "\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if durable {
		consumerConfig.Durable = consumerName
		consumerConfig.Name = consumerName
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	msgChan := make(chan jetstream.Msg, 10)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	defer cc.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.LaunchEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				if !jsonOutput {
					fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				}
				msg.Ack()
				continue
			}

			count++
			if jsonOutput {
				data, _ := json.Marshal(event)
				fmt.Fprintln(out, string(data))
			} else {
				printEvent(out, &event)
			}
			msg.Ack()

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(out, "\nReceived %d events\n", count)
			}
			return nil
		}
	}
}

func printEvent(out io.Writer, e *natspkg.LaunchEvent) {
	fmt.Fprintf(out, "[%s] %-12s launch=%s mint=%s\n",
		e.PublishedAt.Format(time.RFC3339), e.Stage, e.LaunchID, e.Mint)
	if e.LookupTable != "" {
		fmt.Fprintf(out, "    table:   %s\n", e.LookupTable)
	}
	if e.BundleID != "" {
		fmt.Fprintf(out, "    bundle:  %s (%d txs, %dms)\n", e.BundleID, e.Transactions, e.LatencyMillis)
	}
	if e.AnchorSignature != "" {
		fmt.Fprintf(out, "    anchor:  %s\n", e.AnchorSignature)
	}
	if e.Error != "" {
		fmt.Fprintf(out, "    error:   %s\n", e.Error)
	}
}
