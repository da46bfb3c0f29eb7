package main

import (
	"fmt"
	"slices"

	"github.com/Shugur-Network/publisher/internal/application"

	"github.com/spf13/cobra"
)

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect [relay...]",
		Short: "Check which relays accept a connection",
		Long:  "Open connections to the given relays, or the defaults, report which succeeded and close them again",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := oneShot(ctx, application.WithoutIdentity())
			if err != nil {
				return err
			}
			defer func() { _ = app.Shutdown() }()

			targets := args
			if len(targets) == 0 {
				targets = app.Manager().DefaultRelays()
			}
			connected := app.Manager().OpenRelayConnections(ctx, targets...)

			out := cmd.OutOrStdout()
			for _, uri := range targets {
				status := "unreachable"
				if slices.Contains(connected, uri) {
					status = "ok"
				}
				fmt.Fprintf(out, "%-11s %s\n", status, uri)
			}
			closed := app.Manager().CloseRelayConnections(ctx)
			fmt.Fprintf(out, "%d/%d relays reachable, %d closed\n", len(connected), len(targets), len(closed))

			if len(connected) == 0 {
				return fmt.Errorf("no relay reachable")
			}
			return nil
		},
	}
}
