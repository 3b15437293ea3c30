package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
)

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <serial-number>",
		Short: "Show the consolidated passport view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.b.query.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printJSON(v)
		},
	}
}

func (c *cli) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <serial-number>",
		Short: "List the passport's events in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := c.b.query.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if events == nil {
				events = []domain.Event{}
			}
			return c.printJSON(events)
		},
	}
}

func (c *cli) integrityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integrity <serial-number>",
		Short: "Check the cached status against the event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.b.query.CheckIntegrity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := c.printJSON(report); err != nil {
				return err
			}
			if !report.OK {
				return fmt.Errorf("passport %s failed integrity check", report.PassportID)
			}
			return nil
		},
	}
}
