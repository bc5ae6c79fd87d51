package topic

// Standard MQTT wildcard definitions.
const (
	// Wildcard is the single-level wildcard "+".
	// It matches exactly one topic level.
	Wildcard = "+"

	// MultiWildcard is the multi-level wildcard "#".
	// It must be the last segment of a filter.
	MultiWildcard = "#"

	// Separator delimits topic levels.
	Separator = "/"
)

// Command subjects and the actuator family segment that follows each one.
// These form the contract with whatever sends commands to the vessel;
// changing them breaks existing publishers.
const (
	// SubjectRudder carries a rudder angle percentage.
	// Structure: {base}/set_rudder_angle_pct/rudder/{target}
	SubjectRudder = "set_rudder_angle_pct"
	FamilyRudder  = "rudder"

	// SubjectEngine carries an engine power percentage (astern/ahead).
	// Structure: {base}/set_engine_power_percentage/engine/{target}
	SubjectEngine = "set_engine_power_percentage"
	FamilyEngine  = "engine"

	// SubjectThruster carries a lateral thruster power percentage.
	// Structure: {base}/set_thruster_power_percentage/thruster/{target}
	SubjectThruster = "set_thruster_power_percentage"
	FamilyThruster  = "thruster"
)

// Listener subjects carry the name of a topic to follow (or an empty string to stop).
const (
	SubjectRudderListener    = "set_rudder_listener"
	SubjectRudderListenerKey = "set_rudder_listener_key"
	SubjectEngineListener    = "set_engine_listener"
	SubjectEngineListenerKey = "set_engine_listener_key"
)

// SubjectTelemetry prefixes every telemetry publication.
// Structure: {base}/telemetry/{KIND}
const SubjectTelemetry = "telemetry"

// TargetIndex is the zero-based level of the actuation target in a command topic:
// realm/version/entity/subject/family/target.
const TargetIndex = 5
