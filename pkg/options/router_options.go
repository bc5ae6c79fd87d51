package options

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

var _ IOptions = (*RouterOptions)(nil)

// RouterOptions configures command translation and the listener channels.
type RouterOptions struct {
	// Percentage domain accepted on command topics.
	PercentMin float64 `json:"percent-min" mapstructure:"percent-min"`
	PercentMax float64 `json:"percent-max" mapstructure:"percent-max"`

	// PWM codomain sent to the vehicle.
	PWMMin float64 `json:"pwm-min" mapstructure:"pwm-min"`
	PWMMax float64 `json:"pwm-max" mapstructure:"pwm-max"`

	// Channels overrides the RC channel of one unit, keyed "family.target"
	// (e.g. "rudder.starboard=2").
	Channels map[string]int `json:"channels" mapstructure:"channels"`

	// Listener topics followed from startup.
	RudderListener string `json:"rudder-listener" mapstructure:"rudder-listener"`
	EngineListener string `json:"engine-listener" mapstructure:"engine-listener"`
}

// NewRouterOptions creates a new RouterOptions with default values.
func NewRouterOptions() *RouterOptions {
	return &RouterOptions{
		PercentMin: -100,
		PercentMax: 100,
		PWMMin:     1100,
		PWMMax:     1900,
		Channels:   map[string]int{},
	}
}

func (o *RouterOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.PercentMin >= o.PercentMax {
		errors = append(errors, fmt.Errorf("--router.percent-min must be below --router.percent-max"))
	}
	if o.PWMMin >= o.PWMMax {
		errors = append(errors, fmt.Errorf("--router.pwm-min must be below --router.pwm-max"))
	}
	for key, ch := range o.Channels {
		if _, _, ok := strings.Cut(key, "."); !ok {
			errors = append(errors, fmt.Errorf("--router.channels key %q must look like family.target", key))
		}
		if ch < 1 || ch > 8 {
			errors = append(errors, fmt.Errorf("--router.channels %s must be within [1,8], got %d", key, ch))
		}
	}

	return errors
}

func (o *RouterOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.Float64Var(&o.PercentMin, "router.percent-min", o.PercentMin, "Lowest accepted command percentage.")
	fs.Float64Var(&o.PercentMax, "router.percent-max", o.PercentMax, "Highest accepted command percentage.")
	fs.Float64Var(&o.PWMMin, "router.pwm-min", o.PWMMin, "PWM sent for the lowest percentage.")
	fs.Float64Var(&o.PWMMax, "router.pwm-max", o.PWMMax, "PWM sent for the highest percentage.")
	fs.StringToIntVar(&o.Channels, "router.channels", o.Channels, "Per-unit RC channel, e.g. rudder.starboard=2,engine.port=3.")
	fs.StringVar(&o.RudderListener, "router.rudder-listener", o.RudderListener, "Topic followed as rudder lever input from startup.")
	fs.StringVar(&o.EngineListener, "router.engine-listener", o.EngineListener, "Topic followed as engine lever input from startup.")
}
