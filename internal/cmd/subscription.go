package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/mqtt"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/topic"
)

func newSubscriptionCommand(app func() *App) *cobra.Command {
	sub := &cobra.Command{Use: "sub", Short: "Subscriptions and topic matching"}

	sub.AddCommand(&cobra.Command{
		Use:   "add <client> <filter> <qos>",
		Short: "Subscribe a client to a filter",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			qos, err := strconv.Atoi(args[2])
			if err != nil {
				return err
			}
			return app().Tree.Subscribe(cmd.Context(), args[0], args[1], mqtt.QoS(qos))
		},
	})
	sub.AddCommand(&cobra.Command{
		Use:   "remove <client> <filter>",
		Short: "Unsubscribe a client from a filter",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := app().Tree.Unsubscribe(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), removed)
			return nil
		},
	})
	sub.AddCommand(&cobra.Command{
		Use:   "remove-client <client>",
		Short: "Drop every subscription of a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := app().Tree.RemoveClient(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	})
	sub.AddCommand(&cobra.Command{
		Use:   "client <client>",
		Short: "List the filters of a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			grants, err := app().Tree.ClientSubscriptions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			filters := make(map[string]mqtt.QoS, len(grants))
			for encoded, qos := range grants {
				filters[topic.Decode(encoded).Topic()] = qos
			}
			printGrants(cmd.OutOrStdout(), filters)
			return nil
		},
	})
	sub.AddCommand(&cobra.Command{
		Use:   "topic <filter>",
		Short: "List the clients subscribed to exactly this filter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			grants, err := app().Tree.TopicSubscriptions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printGrants(cmd.OutOrStdout(), grants)
			return nil
		},
	})
	sub.AddCommand(&cobra.Command{
		Use:   "match <topic>",
		Short: "List the clients whose filters match a topic name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			grants, err := app().Tree.Match(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printGrants(cmd.OutOrStdout(), grants)
			return nil
		},
	})
	sub.AddCommand(&cobra.Command{
		Use:   "node <topic> <index>",
		Short: "Show the trie counters at one level of a topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			levels, err := topic.SanitizeTopicName(args[0])
			if err != nil {
				return err
			}
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			c, err := app().Tree.QueryNode(cmd.Context(), levels, index)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "last=%t literal=%d hash=%d plus=%d\n", c.Last, c.Literal, c.Hash, c.Plus)
			return nil
		},
	})
	return sub
}
