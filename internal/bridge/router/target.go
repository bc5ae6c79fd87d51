package router

import (
	"errors"
	"fmt"

	"github.com/autopeer-io/mavbridge/pkg/mqtt/topic"
)

var (
	// ErrUnknownTarget is returned when the family or target level of a
	// command topic is missing or not recognized.
	ErrUnknownTarget = errors.New("unknown actuation target")

	// ErrNotWired is returned for recognized targets with no actuation path.
	ErrNotWired = errors.New("actuation target not wired")
)

// Family is an actuator family.
type Family string

const (
	Rudder   Family = topic.FamilyRudder
	Engine   Family = topic.FamilyEngine
	Thruster Family = topic.FamilyThruster
)

// ParseFamily recognizes a family name.
func ParseFamily(s string) (Family, error) {
	switch f := Family(s); f {
	case Rudder, Engine, Thruster:
		return f, nil
	default:
		return "", fmt.Errorf("%w: family %q", ErrUnknownTarget, s)
	}
}

// TargetKind distinguishes the units of a family.
type TargetKind int

const (
	Combined TargetKind = iota
	Port
	Starboard
	Bow
	Stern
)

// Target addresses one unit of a family, or all of them.
type Target struct {
	Kind TargetKind
	// Index is the unit index for Port (0) and Starboard (1).
	Index int
}

var (
	CombinedTarget  = Target{Kind: Combined}
	PortTarget      = Target{Kind: Port, Index: 0}
	StarboardTarget = Target{Kind: Starboard, Index: 1}
	BowTarget       = Target{Kind: Bow}
	SternTarget     = Target{Kind: Stern}
)

func (t Target) String() string {
	switch t.Kind {
	case Combined:
		return "combined"
	case Port:
		return "port"
	case Starboard:
		return "starboard"
	case Bow:
		return "bow"
	case Stern:
		return "stern"
	default:
		return fmt.Sprintf("target(%d)", t.Kind)
	}
}

// ParseTarget parses a target level. Port and starboard are told apart by
// index or by name; bow and stern only exist for thrusters.
func ParseTarget(family Family, s string) (Target, error) {
	switch s {
	case "combined", "*":
		return CombinedTarget, nil
	case "0", "port":
		return PortTarget, nil
	case "1", "starboard":
		return StarboardTarget, nil
	case "bow":
		if family == Thruster {
			return BowTarget, nil
		}
	case "stern":
		if family == Thruster {
			return SternTarget, nil
		}
	}
	return Target{}, fmt.Errorf("%w: %s target %q", ErrUnknownTarget, family, s)
}
