package link

import (
	"slices"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// telemetryMessages maps each relayed kind to a prototype of its message.
var telemetryMessages = map[string]message.Message{
	"VFR_HUD":        &ardupilotmega.MessageVfrHud{},
	"RAW_IMU":        &ardupilotmega.MessageRawImu{},
	"AHRS":           &ardupilotmega.MessageAhrs{},
	"VIBRATION":      &ardupilotmega.MessageVibration{},
	"BATTERY_STATUS": &ardupilotmega.MessageBatteryStatus{},
}

// Kinds returns the telemetry kinds the link can decode, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(telemetryMessages))
	for k := range telemetryMessages {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
