package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newOwnerCommand(app func() *App) *cobra.Command {
	owner := &cobra.Command{Use: "owner", Short: "Client ownership by node"}

	owner.AddCommand(&cobra.Command{
		Use:   "set <client> [node]",
		Short: "Assign a client to a node (default: this node)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			node := a.Config.NodeID
			if len(args) == 2 {
				node = args[1]
			}
			return a.Registry.SetOwner(cmd.Context(), args[0], node)
		},
	})
	owner.AddCommand(&cobra.Command{
		Use:   "get <client>",
		Short: "Show the node owning a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			node, ok, err := app().Registry.GetOwner(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "(none)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), node)
			return nil
		},
	})
	owner.AddCommand(&cobra.Command{
		Use:   "clear <client> [node]",
		Short: "Release a client if the node owns it (default: this node)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			node := a.Config.NodeID
			if len(args) == 2 {
				node = args[1]
			}
			return a.Registry.ClearOwner(cmd.Context(), args[0], node)
		},
	})

	var (
		cursor string
		limit  int
	)
	list := &cobra.Command{
		Use:   "list [node]",
		Short: "List the clients of a node (default: this node)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			node := a.Config.NodeID
			if len(args) == 1 {
				node = args[0]
			}
			out := cmd.OutOrStdout()
			if limit <= 0 {
				clients, err := a.Registry.Owned(cmd.Context(), node)
				if err != nil {
					return err
				}
				for _, c := range clients {
					fmt.Fprintln(out, c)
				}
				return nil
			}
			clients, next, err := a.Registry.ListOwned(cmd.Context(), node, cursor, limit)
			if err != nil {
				return err
			}
			for _, c := range clients {
				fmt.Fprintln(out, c)
			}
			if next != "" {
				fmt.Fprintf(out, "next cursor: %s\n", next)
			}
			return nil
		},
	}
	list.Flags().StringVar(&cursor, "cursor", "", "resume after this client")
	list.Flags().IntVar(&limit, "limit", 0, "page size; 0 lists everything")
	owner.AddCommand(list)
	return owner
}

func newPersistentCommand(app func() *App) *cobra.Command {
	persistent := &cobra.Command{Use: "persistent", Short: "Session persistence flag"}

	persistent.AddCommand(&cobra.Command{
		Use:   "set <client> <true|false>",
		Short: "Set the persistence flag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.ParseBool(args[1])
			if err != nil {
				return err
			}
			return app().Registry.SetPersistent(cmd.Context(), args[0], v)
		},
	})
	persistent.AddCommand(&cobra.Command{
		Use:   "get <client>",
		Short: "Show the persistence flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, known, err := app().Registry.GetPersistent(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !known {
				fmt.Fprintln(cmd.OutOrStdout(), "(unknown)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	})
	persistent.AddCommand(&cobra.Command{
		Use:   "clear <client>",
		Short: "Forget the persistence flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app().Registry.ClearPersistent(cmd.Context(), args[0])
		},
	})
	return persistent
}

func newPacketIDCommand(app func() *App) *cobra.Command {
	packetID := &cobra.Command{Use: "packet-id", Short: "Per-client packet id counter"}

	packetID.AddCommand(&cobra.Command{
		Use:   "next <client>",
		Short: "Allocate the next packet id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := app().PacketIDs.Next(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})
	packetID.AddCommand(&cobra.Command{
		Use:   "reset <client>",
		Short: "Restart the counter at 1",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app().PacketIDs.Reset(cmd.Context(), args[0])
		},
	})
	return packetID
}

func newQoS2Command(app func() *App) *cobra.Command {
	qos2 := &cobra.Command{Use: "qos2", Short: "QoS 2 message ids in progress"}

	qos2.AddCommand(&cobra.Command{
		Use:   "add <client> <id>",
		Short: "Mark a message id as in progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			added, err := app().QoS2.Add(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), added)
			return nil
		},
	})
	qos2.AddCommand(&cobra.Command{
		Use:   "remove <client> <id>",
		Short: "Complete a message id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			removed, err := app().QoS2.Remove(cmd.Context(), args[0], id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), removed)
			return nil
		},
	})
	qos2.AddCommand(&cobra.Command{
		Use:   "clear <client>",
		Short: "Drop every id of a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app().QoS2.Clear(cmd.Context(), args[0])
		},
	})
	return qos2
}
