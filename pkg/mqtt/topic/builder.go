package topic

import (
	"fmt"
	"strings"
)

// TopicBuilder encapsulates the logic for constructing bridge topic strings.
// Every topic hangs off a base of {realm}/{version}/{entity}.
type TopicBuilder struct {
	// base is the common prefix, e.g. "vessel/v1/boat".
	base string
}

// NewTopicBuilder creates a TopicBuilder rooted at {realm}/{version}/{entity}.
func NewTopicBuilder(realm, version, entity string) *TopicBuilder {
	return &TopicBuilder{base: strings.Join([]string{realm, version, entity}, Separator)}
}

// Base returns the {realm}/{version}/{entity} prefix.
func (b *TopicBuilder) Base() string {
	return b.base
}

// -----------------------------------------------------------------------------
// Commands
// -----------------------------------------------------------------------------

// Command returns the topic addressing one target of an actuator family.
func (b *TopicBuilder) Command(subject, family, target string) string {
	return b.build(subject, family, target)
}

// CommandWildcard returns the filter served for all targets of a family.
// Result: {base}/{subject}/{family}/+
func (b *TopicBuilder) CommandWildcard(subject, family string) string {
	return b.build(subject, family, Wildcard)
}

// Rudder returns the rudder command topic for a target.
func (b *TopicBuilder) Rudder(target string) string {
	return b.Command(SubjectRudder, FamilyRudder, target)
}

// Engine returns the engine command topic for a target.
func (b *TopicBuilder) Engine(target string) string {
	return b.Command(SubjectEngine, FamilyEngine, target)
}

// Thruster returns the thruster command topic for a target.
func (b *TopicBuilder) Thruster(target string) string {
	return b.Command(SubjectThruster, FamilyThruster, target)
}

// -----------------------------------------------------------------------------
// Listeners and telemetry
// -----------------------------------------------------------------------------

// Listener returns the topic used to (re)point a channel's listener.
func (b *TopicBuilder) Listener(subject string) string {
	return b.build(subject)
}

// Telemetry returns the publish topic for a telemetry kind such as "VFR_HUD".
func (b *TopicBuilder) Telemetry(kind string) string {
	return b.build(SubjectTelemetry, kind)
}

// Online returns the retained presence topic carried by the last will.
func (b *TopicBuilder) Online() string {
	return b.build("online")
}

// build joins the base with the given levels.
func (b *TopicBuilder) build(levels ...string) string {
	return fmt.Sprintf("%s/%s", b.base, strings.Join(levels, Separator))
}

// -----------------------------------------------------------------------------
// Parsing
// -----------------------------------------------------------------------------

// Segment returns the level at index i of topic, or false when the topic is too short.
func Segment(topic string, i int) (string, bool) {
	parts := strings.Split(topic, Separator)
	if i < 0 || i >= len(parts) {
		return "", false
	}
	return parts[i], true
}

// Target returns the actuation target level of a command topic.
func Target(topic string) (string, bool) {
	s, ok := Segment(topic, TargetIndex)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
