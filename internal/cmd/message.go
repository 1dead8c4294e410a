package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
)

func newInFlightCommand(app func() *App) *cobra.Command {
	inflight := &cobra.Command{Use: "inflight", Short: "Unacknowledged messages per client"}

	inflight.AddCommand(&cobra.Command{
		Use:   "list <client>",
		Short: "List pending message ids in ascending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := app().InFlight.ListIDs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printIDs(cmd.OutOrStdout(), ids)
			return nil
		},
	})
	inflight.AddCommand(&cobra.Command{
		Use:   "get <client> <id>",
		Short: "Show one pending message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			msg, err := app().InFlight.Get(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), msg)
			return nil
		},
	})
	inflight.AddCommand(&cobra.Command{
		Use:   "remove <client> <id>",
		Short: "Acknowledge a pending message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			return app().InFlight.Remove(cmd.Context(), args[0], id)
		},
	})
	return inflight
}

func newRetainCommand(app func() *App) *cobra.Command {
	retain := &cobra.Command{Use: "retain", Short: "Retained messages per topic"}

	retain.AddCommand(&cobra.Command{
		Use:   "list <topic>",
		Short: "List retained message ids in ascending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := app().Retained.ListIDs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printIDs(cmd.OutOrStdout(), ids)
			return nil
		},
	})
	retain.AddCommand(&cobra.Command{
		Use:   "get <topic> [id]",
		Short: "Show a retained message (default: the latest)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			if len(args) == 1 {
				msg, err := a.Retained.Latest(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printMessage(cmd.OutOrStdout(), msg)
				return nil
			}
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			msg, err := a.Retained.Get(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), msg)
			return nil
		},
	})
	retain.AddCommand(&cobra.Command{
		Use:   "remove <topic> <id>",
		Short: "Delete a retained message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			return app().Retained.Remove(cmd.Context(), args[0], id)
		},
	})
	return retain
}
