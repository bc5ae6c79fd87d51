package app

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/autopeer-io/mavbridge/cmd/mavbridge/app/options"
	"github.com/autopeer-io/mavbridge/pkg/app"
	"github.com/autopeer-io/mavbridge/pkg/mqtt/topic"
)

func newTopicsCommand() *cobra.Command {
	opts := options.NewTopicsOptions()
	var a *app.App
	a = app.NewApp(
		"topics",
		"Print every topic the bridge serves and publishes",
		app.WithOptions(opts),
		app.WithConfigName(commandName),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(func() error {
			return printTopics(a.Command().OutOrStdout(), opts)
		}),
	)
	return a.Command()
}

func printTopics(w io.Writer, opts *options.TopicsOptions) error {
	b := opts.MqttOptions.Topics()

	tbl := app.NewTable("ROLE", "TOPIC", "PAYLOAD")
	tbl.AddRow("rudder command", b.CommandWildcard(topic.SubjectRudder, topic.FamilyRudder), "query: float32 percent")
	tbl.AddRow("engine command", b.CommandWildcard(topic.SubjectEngine, topic.FamilyEngine), "query: float32 percent")
	tbl.AddRow("thruster command", b.CommandWildcard(topic.SubjectThruster, topic.FamilyThruster), "query: float32 percent")
	tbl.AddRow("rudder listener", b.Listener(topic.SubjectRudderListener), "query: topic")
	tbl.AddRow("rudder listener key", b.Listener(topic.SubjectRudderListenerKey), "query: key under realm")
	tbl.AddRow("engine listener", b.Listener(topic.SubjectEngineListener), "query: topic")
	tbl.AddRow("engine listener key", b.Listener(topic.SubjectEngineListenerKey), "query: key under realm")
	for _, kind := range opts.TelemetryOptions.Kinds {
		tbl.AddRow("telemetry", b.Telemetry(kind), opts.TelemetryOptions.Format)
	}
	tbl.AddRow("presence", b.Online(), "retained: true|false")

	if _, err := tbl.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write topics: %w", err)
	}
	return nil
}
