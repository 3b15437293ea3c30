package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
	"github.com/lisacharuel/Hackaton-Battery-Passport/pkg/natsutil"
)

func (c *cli) watchCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "watch [status]",
		Short: "Print lifecycle events as they are published",
		Long: `Watch subscribes to passport.events.<status> on NATS and prints every
event until interrupted. Without a status every event is shown.

Requires PASSPORT_NATS_URL.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.b.nats == nil {
				return errors.New("watch: nats.url is not configured")
			}
			var status domain.Status
			if len(args) == 1 {
				status = domain.Status(args[0])
				if !status.Valid() {
					return fmt.Errorf("watch: unknown status %q", args[0])
				}
			}

			events := make(chan domain.Event, 64)
			sub, err := natsutil.SubscribeEvents(c.b.nats, status, func(_ context.Context, ev domain.Event) {
				select {
				case events <- ev:
				default: // drop when the terminal cannot keep up
				}
			}, natsutil.OnDecodeError(func(msg *nats.Msg, err error) {
				fmt.Fprintf(c.errOut, "skipping message on %s: %v\n", msg.Subject, err)
			}))
			if err != nil {
				return fmt.Errorf("watch: subscribe: %w", err)
			}
			defer sub.Unsubscribe()

			fmt.Fprintf(c.errOut, "watching %s\n", natsutil.WatchSubject(status))
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case ev := <-events:
					if err := c.printEvent(ev, asJSON); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print full events as JSON")
	return cmd
}

// printEvent writes one line per event, or the full event with --json.
func (c *cli) printEvent(ev domain.Event, asJSON bool) error {
	if asJSON {
		return c.printJSON(ev)
	}
	_, err := fmt.Fprintf(c.out, "%s %-14s %s %s -> %s by %s\n",
		ev.Timestamp.Format(time.RFC3339), ev.Transition, ev.PassportID,
		ev.FromStatus, ev.ToStatus, ev.ActorID)
	return err
}
