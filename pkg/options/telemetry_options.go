package options

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*TelemetryOptions)(nil)

var (
	// TelemetryKinds are the MAVLink messages the bridge can relay.
	TelemetryKinds = []string{"VFR_HUD", "RAW_IMU", "AHRS", "VIBRATION", "BATTERY_STATUS"}

	telemetryFormats = []string{"protobuf", "json", "cbor"}
)

// TelemetryOptions configures the telemetry relay.
type TelemetryOptions struct {
	// Interval between publish cycles.
	Interval time.Duration `json:"interval" mapstructure:"interval"`

	// Kinds relayed onto the bus.
	Kinds []string `json:"kinds" mapstructure:"kinds"`

	// Format of the enclosed payload: protobuf, json or cbor.
	Format string `json:"format" mapstructure:"format"`
}

// NewTelemetryOptions creates a new TelemetryOptions with default values.
func NewTelemetryOptions() *TelemetryOptions {
	return &TelemetryOptions{
		Interval: time.Second,
		Kinds:    slices.Clone(TelemetryKinds),
		Format:   "protobuf",
	}
}

func (o *TelemetryOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.Interval <= 0 {
		errors = append(errors, fmt.Errorf("--telemetry.interval must be positive"))
	}
	for _, k := range o.Kinds {
		if !slices.Contains(TelemetryKinds, k) {
			errors = append(errors, fmt.Errorf("--telemetry.kinds: unknown kind %q, expected one of %v", k, TelemetryKinds))
		}
	}
	if !slices.Contains(telemetryFormats, o.Format) {
		errors = append(errors, fmt.Errorf("--telemetry.format must be one of %v, got %q", telemetryFormats, o.Format))
	}

	return errors
}

func (o *TelemetryOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.Interval, "telemetry.interval", o.Interval, "Interval between telemetry publish cycles.")
	fs.StringSliceVar(&o.Kinds, "telemetry.kinds", o.Kinds, "Telemetry kinds relayed onto the bus.")
	fs.StringVar(&o.Format, "telemetry.format", o.Format, "Encoding of enclosed telemetry payloads: protobuf, json or cbor.")
}
