package vehicle

import (
	"fmt"
	"math"
)

// RC override channel sentinels.
const (
	// ChannelIgnore leaves the channel under its current source.
	ChannelIgnore uint16 = math.MaxUint16
	// ChannelRelease hands the channel back to the RC transmitter.
	ChannelRelease uint16 = 0

	// OverrideChannels is the number of channels an override carries.
	OverrideChannels = 8
)

// Command is an actuator command accepted by a Link.
type Command interface {
	fmt.Stringer
	command()
}

// ArmDisarm arms or disarms the vehicle.
type ArmDisarm struct {
	Arm bool
}

// SetRelay switches one relay.
type SetRelay struct {
	Index int
	On    bool
}

// RCOverride overrides RC channels. Channels[0] is channel 1.
type RCOverride struct {
	Channels [OverrideChannels]uint16
}

// ValidChannel reports whether channel is a 1-based overridable channel.
func ValidChannel(channel int) bool {
	return channel >= 1 && channel <= OverrideChannels
}

// NewRCOverride overrides a single 1-based channel and ignores the rest.
// Callers check the channel with ValidChannel first.
func NewRCOverride(channel int, pwm uint16) RCOverride {
	var o RCOverride
	for i := range o.Channels {
		o.Channels[i] = ChannelIgnore
	}
	if ValidChannel(channel) {
		o.Channels[channel-1] = pwm
	}
	return o
}

func (ArmDisarm) command()  {}
func (SetRelay) command()   {}
func (RCOverride) command() {}

func (c ArmDisarm) String() string {
	if c.Arm {
		return "arm"
	}
	return "disarm"
}

func (c SetRelay) String() string {
	state := "off"
	if c.On {
		state = "on"
	}
	return fmt.Sprintf("relay %d %s", c.Index, state)
}

func (c RCOverride) String() string {
	return fmt.Sprintf("rc override %v", c.Channels)
}
