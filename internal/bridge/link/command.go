package link

import (
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/ardupilotmega"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/autopeer-io/mavbridge/internal/bridge/vehicle"
)

// encodeCommand turns an actuator command into the MAVLink message sent to
// the target system and component.
func encodeCommand(cmd vehicle.Command, sys, comp uint8) (message.Message, error) {
	switch c := cmd.(type) {
	case vehicle.ArmDisarm:
		return &ardupilotmega.MessageCommandLong{
			TargetSystem:    sys,
			TargetComponent: comp,
			Command:         common.MAV_CMD_COMPONENT_ARM_DISARM,
			Param1:          boolParam(c.Arm),
		}, nil
	case vehicle.SetRelay:
		return &ardupilotmega.MessageCommandLong{
			TargetSystem:    sys,
			TargetComponent: comp,
			Command:         common.MAV_CMD_DO_SET_RELAY,
			Param1:          float32(c.Index),
			Param2:          boolParam(c.On),
		}, nil
	case vehicle.RCOverride:
		ch := c.Channels
		return &ardupilotmega.MessageRcChannelsOverride{
			TargetSystem:    sys,
			TargetComponent: comp,
			Chan1Raw:        ch[0],
			Chan2Raw:        ch[1],
			Chan3Raw:        ch[2],
			Chan4Raw:        ch[3],
			Chan5Raw:        ch[4],
			Chan6Raw:        ch[5],
			Chan7Raw:        ch[6],
			Chan8Raw:        ch[7],
		}, nil
	default:
		return nil, fmt.Errorf("unsupported command %T", cmd)
	}
}

func boolParam(b bool) float32 {
	if b {
		return 1
	}
	return 0
}
