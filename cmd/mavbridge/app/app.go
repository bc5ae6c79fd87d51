package app

import (
	"fmt"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	"github.com/autopeer-io/mavbridge/cmd/mavbridge/app/options"
	"github.com/autopeer-io/mavbridge/internal/bridge"
	"github.com/autopeer-io/mavbridge/pkg/app"
	"github.com/autopeer-io/mavbridge/pkg/log"
)

const (
	commandName = "mavbridge"
	commandDesc = `mavbridge connects to a MAVLink autopilot over serial, UDP or TCP and
exposes it on an MQTT v5 bus. Rudder, engine and thruster percentages received
as queries are mapped to RC overrides; selected telemetry is republished at a
fixed rate. A failed first heartbeat is fatal.

Configuration is read from mavbridge.yaml (or --config), overridden by
MAVBRIDGE_* environment variables and then by flags. Changing
vehicle.allow-override in the file takes effect without a restart.`
)

func NewApp() *app.App {
	opts := options.NewBridgeOptions()
	var running atomic.Pointer[bridge.Bridge]

	application := app.NewApp(
		commandName,
		"Bridge a MAVLink vehicle onto an MQTT bus",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts, &running)),
		app.WithConfigWatcher(reload(&running)),
		app.WithSubCommands(newTopicsCommand(), newPortsCommand()),
	)
	return application
}

func run(opts *options.BridgeOptions, running *atomic.Pointer[bridge.Bridge]) app.RunFunc {
	return func() error {
		bindLibraryLoggers(log.Logr())
		ctx := signals.SetupSignalHandler()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		b, err := cfg.NewBridge()
		if err != nil {
			return fmt.Errorf("failed to create bridge: %w", err)
		}
		running.Store(b)

		return b.Run(ctx)
	}
}

// bindLibraryLoggers routes klog and controller-runtime output, e.g. from
// apimachinery wait loops, through the bridge logger.
func bindLibraryLoggers(l logr.Logger) {
	ctrllog.SetLogger(l)
	klog.SetLogger(l.WithName("klog"))
}

// reload applies the settings that may change while running.
func reload(running *atomic.Pointer[bridge.Bridge]) func(*viper.Viper) {
	return func(v *viper.Viper) {
		b := running.Load()
		if b == nil {
			return
		}
		allow := v.GetBool("vehicle.allow-override")
		log.Info("Reloaded allow-override from configuration", "allowOverride", allow)
		b.SetAllowOverride(allow)
	}
}
