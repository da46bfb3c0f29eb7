package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Shugur-Network/publisher/internal/batch"
	"github.com/Shugur-Network/publisher/internal/constants"
	"github.com/Shugur-Network/publisher/internal/event"

	"github.com/spf13/cobra"
)

type publishOptions struct {
	file    string
	kind    int
	content string
	tags    []string
}

func newPublishCmd() *cobra.Command {
	opts := &publishOptions{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Sign and broadcast events to the relay set",
		Long: `Publish a single event built from flags, or a batch of events read as
JSON lines from a file ("-" for stdin). Events without a signature are signed
with the configured key. Exits with status 2 when some event reached no relay.`,
		Example: `
  publisher publish --content "gm" --tag t,nostr
  publisher publish --kind 0 --content '{"name":"bot"}'
  cat events.jsonl | publisher publish --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			evts, err := opts.events(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(evts) == 0 {
				return fmt.Errorf("no events to publish")
			}

			ctx := cmd.Context()
			app, err := oneShot(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = app.Shutdown() }()

			connected := app.Manager().OpenRelayConnections(ctx)
			if len(connected) == 0 {
				return fmt.Errorf("could not connect to any of %d relays", len(app.Manager().DefaultRelays()))
			}

			failed := 0
			out := cmd.OutOrStdout()
			for _, res := range app.PublishEvents(ctx, evts) {
				if res.Err != nil {
					failed++
					fmt.Fprintf(out, "%s\tFAILED\t%v\n", displayID(res.EventID), res.Err)
					continue
				}
				fmt.Fprintf(out, "%s\t%d/%d\t%s\n", res.EventID, len(res.Accepted), res.Targets,
					strings.Join(res.Accepted, ","))
			}
			fmt.Fprintf(out, "published %d/%d events to %d relays\n", len(evts)-failed, len(evts), len(connected))

			if failed > 0 {
				return errPartialFailure
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", `JSON lines file of events, "-" for stdin`)
	cmd.Flags().IntVarP(&opts.kind, "kind", "k", constants.KindTextNote, "Event kind when building from flags")
	cmd.Flags().StringVar(&opts.content, "content", "", "Event content when building from flags")
	cmd.Flags().StringArrayVarP(&opts.tags, "tag", "t", nil, `Tag as comma separated values, e.g. "t,nostr" (repeatable)`)
	return cmd
}

func (o *publishOptions) events(stdin io.Reader) ([]event.Event, error) {
	if o.file == "" {
		if len(o.content) > constants.MaxContentSize {
			return nil, fmt.Errorf("content exceeds %d bytes", constants.MaxContentSize)
		}
		tags := make(event.Tags, 0, len(o.tags))
		for _, t := range o.tags {
			tags = append(tags, strings.Split(t, ","))
		}
		return []event.Event{{Kind: o.kind, Tags: tags, Content: o.content}}, nil
	}

	var r io.Reader = stdin
	if o.file != "-" {
		f, err := os.Open(o.file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return batch.ReadAll(r)
}

func displayID(id string) string {
	if id == "" {
		return "-"
	}
	return id
}
