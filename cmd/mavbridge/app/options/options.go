package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/mavbridge/internal/bridge"
	"github.com/autopeer-io/mavbridge/pkg/app"
	"github.com/autopeer-io/mavbridge/pkg/log"
	"github.com/autopeer-io/mavbridge/pkg/options"
)

type BridgeOptions struct {
	MqttOptions      *options.MqttOptions      `json:"mqtt" mapstructure:"mqtt"`
	MavlinkOptions   *options.MavlinkOptions   `json:"mavlink" mapstructure:"mavlink"`
	VehicleOptions   *options.VehicleOptions   `json:"vehicle" mapstructure:"vehicle"`
	RouterOptions    *options.RouterOptions    `json:"router" mapstructure:"router"`
	TelemetryOptions *options.TelemetryOptions `json:"telemetry" mapstructure:"telemetry"`
	HttpOptions      *options.HttpOptions      `json:"http" mapstructure:"http"`
	S3Options        *options.S3Options        `json:"s3" mapstructure:"s3"`
	Log              *log.Options              `json:"log" mapstructure:"log"`
}

var (
	_ app.NamedFlagSetOptions = (*BridgeOptions)(nil)
	_ app.LogOptionsGetter    = (*BridgeOptions)(nil)
)

func NewBridgeOptions() *BridgeOptions {
	o := &BridgeOptions{
		MqttOptions:      options.NewMqttOptions(),
		MavlinkOptions:   options.NewMavlinkOptions(),
		VehicleOptions:   options.NewVehicleOptions(),
		RouterOptions:    options.NewRouterOptions(),
		TelemetryOptions: options.NewTelemetryOptions(),
		HttpOptions:      options.NewHttpOptions(),
		S3Options:        options.NewS3Options(),
		Log:              log.NewOptions(),
	}

	return o
}

func (o *BridgeOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.MavlinkOptions.AddFlags(fss.FlagSet("mavlink"))
	o.VehicleOptions.AddFlags(fss.FlagSet("vehicle"))
	o.RouterOptions.AddFlags(fss.FlagSet("router"))
	o.TelemetryOptions.AddFlags(fss.FlagSet("telemetry"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *BridgeOptions) Complete() error {
	return nil
}

func (o *BridgeOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.MavlinkOptions.Validate()...)
	errs = append(errs, o.VehicleOptions.Validate()...)
	errs = append(errs, o.RouterOptions.Validate()...)
	errs = append(errs, o.TelemetryOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *BridgeOptions) LogOptions() *log.Options {
	return o.Log
}

func (o *BridgeOptions) Config() (*bridge.Config, error) {
	return &bridge.Config{
		MqttOptions:      o.MqttOptions,
		MavlinkOptions:   o.MavlinkOptions,
		VehicleOptions:   o.VehicleOptions,
		RouterOptions:    o.RouterOptions,
		TelemetryOptions: o.TelemetryOptions,
		HttpOptions:      o.HttpOptions,
		S3Options:        o.S3Options,
		TransportDebug:   o.Log.TransportDebug,
	}, nil
}

// TopicsOptions holds what the topics listing needs to build the key space.
type TopicsOptions struct {
	MqttOptions      *options.MqttOptions      `json:"mqtt" mapstructure:"mqtt"`
	TelemetryOptions *options.TelemetryOptions `json:"telemetry" mapstructure:"telemetry"`
}

var _ app.NamedFlagSetOptions = (*TopicsOptions)(nil)

func NewTopicsOptions() *TopicsOptions {
	return &TopicsOptions{
		MqttOptions:      options.NewMqttOptions(),
		TelemetryOptions: options.NewTelemetryOptions(),
	}
}

func (o *TopicsOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.TelemetryOptions.AddFlags(fss.FlagSet("telemetry"))
	return fss
}

func (o *TopicsOptions) Complete() error {
	return nil
}

func (o *TopicsOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.TelemetryOptions.Validate()...)
	return utilerrors.NewAggregate(errs)
}
