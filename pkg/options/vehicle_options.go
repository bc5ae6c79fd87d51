package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*VehicleOptions)(nil)

// VehicleOptions configures actuation on the vehicle.
type VehicleOptions struct {
	// AllowOverride opens the RC override gate at startup.
	AllowOverride bool `json:"allow-override" mapstructure:"allow-override"`

	// RC channels (1-based) driven by steering and throttle commands.
	SteeringChannel int `json:"steering-channel" mapstructure:"steering-channel"`
	ThrottleChannel int `json:"throttle-channel" mapstructure:"throttle-channel"`

	// PropulsionRelay is the relay index that powers propulsion.
	PropulsionRelay int `json:"propulsion-relay" mapstructure:"propulsion-relay"`

	// Bounded-retry arm/disarm.
	ArmRetries       int           `json:"arm-retries" mapstructure:"arm-retries"`
	ArmRetryInterval time.Duration `json:"arm-retry-interval" mapstructure:"arm-retry-interval"`
}

// NewVehicleOptions creates a new VehicleOptions with default values.
func NewVehicleOptions() *VehicleOptions {
	return &VehicleOptions{
		SteeringChannel:  1,
		ThrottleChannel:  3,
		PropulsionRelay:  0,
		ArmRetries:       3,
		ArmRetryInterval: time.Second,
	}
}

func (o *VehicleOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	for name, ch := range map[string]int{"steering-channel": o.SteeringChannel, "throttle-channel": o.ThrottleChannel} {
		if ch < 1 || ch > 8 {
			errors = append(errors, fmt.Errorf("--vehicle.%s must be within [1,8], got %d", name, ch))
		}
	}
	if o.SteeringChannel == o.ThrottleChannel {
		errors = append(errors, fmt.Errorf("--vehicle.steering-channel and --vehicle.throttle-channel must differ"))
	}
	if o.PropulsionRelay < 0 {
		errors = append(errors, fmt.Errorf("--vehicle.propulsion-relay must not be negative"))
	}
	if o.ArmRetries < 1 {
		errors = append(errors, fmt.Errorf("--vehicle.arm-retries must be at least 1"))
	}

	return errors
}

func (o *VehicleOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.AllowOverride, "vehicle.allow-override", o.AllowOverride, "Allow RC override commands to reach the vehicle.")
	fs.IntVar(&o.SteeringChannel, "vehicle.steering-channel", o.SteeringChannel, "RC channel used for steering.")
	fs.IntVar(&o.ThrottleChannel, "vehicle.throttle-channel", o.ThrottleChannel, "RC channel used for throttle.")
	fs.IntVar(&o.PropulsionRelay, "vehicle.propulsion-relay", o.PropulsionRelay, "Relay index that powers propulsion.")
	fs.IntVar(&o.ArmRetries, "vehicle.arm-retries", o.ArmRetries, "Attempts made by the retrying arm/disarm operations.")
	fs.DurationVar(&o.ArmRetryInterval, "vehicle.arm-retry-interval", o.ArmRetryInterval, "Delay between retrying arm/disarm attempts.")
}
