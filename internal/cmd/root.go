// Package cmd implements the mqtt-storage command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/config"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/database"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/event"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/logger"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/message"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/metrics"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/mqtt"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/session"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/storage"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/subscription"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/topic"
	"github.com/life-stream-dev/life-stream-mqtt-storage/internal/utils"
)

// App wires every component to one store.
type App struct {
	Config    config.Config
	Store     storage.Store
	Metrics   *metrics.Collector
	Registry  *session.Registry
	PacketIDs *session.PacketIDs
	QoS2      *session.QoS2
	InFlight  *message.InFlight
	Retained  *message.Retained
	Tree      *subscription.Tree
}

func NewApp(cfg config.Config, store storage.Store, collector *metrics.Collector) *App {
	timeout := cfg.OperationTimeout()
	return &App{
		Config:    cfg,
		Store:     store,
		Metrics:   collector,
		Registry:  session.NewRegistry(store, timeout),
		PacketIDs: session.NewPacketIDs(store, timeout),
		QoS2:      session.NewQoS2(store, timeout),
		InFlight:  message.NewInFlight(store, timeout),
		Retained:  message.NewRetained(store, timeout),
		Tree:      subscription.NewTree(store, timeout),
	}
}

// Setup builds the App before a subcommand runs.
type Setup func(ctx context.Context, configPath string) (*App, error)

// OpenApp reads the configuration, starts logging and the shutdown cleaner,
// and connects the configured backend.
func OpenApp(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("error occured while reading config: %w", err)
	}
	loggerCallback := logger.Init(cfg)
	event.Default().Init(loggerCallback)

	ttl, _ := utils.ParseStringTime(cfg.Topic.CacheTTL)
	topic.ConfigureCache(cfg.Topic.CacheSize, ttl)

	collector := metrics.New(cfg.NodeID)
	store, err := database.Connect(ctx, cfg, collector)
	if err != nil {
		return nil, err
	}
	return NewApp(cfg, store, collector), nil
}

// NewRootCommand returns the command tree. A nil setup uses OpenApp.
func NewRootCommand(setup Setup) *cobra.Command {
	if setup == nil {
		setup = OpenApp
	}
	var (
		app         *App
		configPath  string
		dumpMetrics bool
	)
	current := func() *App { return app }

	root := &cobra.Command{
		Use:           "mqtt-storage",
		Short:         "Inspect and edit MQTT cluster session state",
		Long:          "mqtt-storage reads and writes the shared state of an MQTT broker cluster: client ownership, packet ids, QoS 2 ids, in-flight and retained messages, and subscriptions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			app, err = setup(cmd.Context(), configPath)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if dumpMetrics && app != nil && app.Metrics != nil {
				return app.Metrics.WriteText(cmd.OutOrStdout())
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path of the JSON configuration file")
	root.PersistentFlags().BoolVar(&dumpMetrics, "dump-metrics", false, "print storage metrics after the command")

	root.AddCommand(
		newOwnerCommand(current),
		newPersistentCommand(current),
		newPacketIDCommand(current),
		newQoS2Command(current),
		newSubscriptionCommand(current),
		newInFlightCommand(current),
		newRetainCommand(current),
	)
	return root
}

// Execute runs the command line and the shutdown cleaner.
func Execute(ctx context.Context) error {
	err := NewRootCommand(nil).ExecuteContext(ctx)
	if cerr := event.Default().Clean(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func printGrants(w io.Writer, grants map[string]mqtt.QoS) {
	names := make([]string, 0, len(grants))
	for name := range grants {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%d\n", name, grants[name])
	}
}

func printMessage(w io.Writer, msg *mqtt.Message) {
	if msg == nil {
		fmt.Fprintln(w, "(none)")
		return
	}
	fmt.Fprintf(w, "type=%s dup=%t qos=%d retain=%t topic=%s id=%d\n",
		msg.FixedHeader.Type, msg.FixedHeader.Dup(), msg.FixedHeader.QoS(), msg.FixedHeader.Retain(),
		msg.VariableHeader.TopicName, msg.VariableHeader.PacketID)
	fmt.Fprintf(w, "%s\n", msg.Payload)
}

func printIDs(w io.Writer, ids []int) {
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
}
