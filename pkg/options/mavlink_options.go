package options

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*MavlinkOptions)(nil)

// Endpoint kinds understood by ParseEndpoint.
const (
	EndpointSerial    = "serial"
	EndpointUDPServer = "udp"
	EndpointUDPClient = "udpc"
	EndpointTCPServer = "tcps"
	EndpointTCPClient = "tcp"
)

const defaultBaud = 57600

// Endpoint is one parsed vehicle link endpoint.
type Endpoint struct {
	Kind    string
	Address string
	Baud    int
}

func (e Endpoint) String() string {
	if e.Kind == EndpointSerial {
		return fmt.Sprintf("%s:%s:%d", e.Kind, e.Address, e.Baud)
	}
	return e.Kind + ":" + e.Address
}

// ParseEndpoint parses "serial:/dev/ttyACM0[:baud]", "udp:host:port",
// "udpc:host:port", "tcp:host:port" or "tcps:host:port". A bare device path
// is taken as a serial port at the default baud rate.
func ParseEndpoint(s string) (Endpoint, error) {
	if strings.HasPrefix(s, "/") {
		return Endpoint{Kind: EndpointSerial, Address: s, Baud: defaultBaud}, nil
	}

	kind, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q: expected kind:address", s)
	}

	switch kind {
	case EndpointSerial:
		dev, baudStr, hasBaud := strings.Cut(rest, ":")
		baud := defaultBaud
		if hasBaud {
			b, err := strconv.Atoi(baudStr)
			if err != nil || b <= 0 {
				return Endpoint{}, fmt.Errorf("endpoint %q: invalid baud rate %q", s, baudStr)
			}
			baud = b
		}
		return Endpoint{Kind: kind, Address: dev, Baud: baud}, nil
	case EndpointUDPServer, EndpointUDPClient, EndpointTCPServer, EndpointTCPClient:
		if err := ValidateAddress(rest); err != nil {
			return Endpoint{}, fmt.Errorf("endpoint %q: %w", s, err)
		}
		return Endpoint{Kind: kind, Address: rest}, nil
	default:
		return Endpoint{}, fmt.Errorf("endpoint %q: unknown kind %q", s, kind)
	}
}

// MavlinkOptions configures the vehicle link.
type MavlinkOptions struct {
	// Endpoints the node listens on or dials, see ParseEndpoint.
	Endpoints []string `json:"endpoints" mapstructure:"endpoints"`

	// SystemID is the MAVLink system id the bridge sends as.
	SystemID int `json:"system-id" mapstructure:"system-id"`

	// HeartbeatTimeout bounds the startup wait for the first heartbeat.
	HeartbeatTimeout time.Duration `json:"heartbeat-timeout" mapstructure:"heartbeat-timeout"`

	// StatusTimeout bounds a single arm-state query.
	StatusTimeout time.Duration `json:"status-timeout" mapstructure:"status-timeout"`

	// LinkLossTimeout is how long without a heartbeat before the link is declared lost.
	LinkLossTimeout time.Duration `json:"link-loss-timeout" mapstructure:"link-loss-timeout"`

	// Reconnect backoff used by the supervisor.
	ReconnectInitial time.Duration `json:"reconnect-initial" mapstructure:"reconnect-initial"`
	ReconnectMax     time.Duration `json:"reconnect-max" mapstructure:"reconnect-max"`
	ReconnectSteps   int           `json:"reconnect-steps" mapstructure:"reconnect-steps"`
}

// NewMavlinkOptions creates a new MavlinkOptions with default values.
func NewMavlinkOptions() *MavlinkOptions {
	return &MavlinkOptions{
		Endpoints:        []string{"serial:/dev/ttyACM0:57600"},
		SystemID:         255,
		HeartbeatTimeout: 10 * time.Second,
		StatusTimeout:    time.Second,
		LinkLossTimeout:  5 * time.Second,
		ReconnectInitial: time.Second,
		ReconnectMax:     30 * time.Second,
		ReconnectSteps:   6,
	}
}

// ParsedEndpoints returns the parsed form of Endpoints.
func (o *MavlinkOptions) ParsedEndpoints() ([]Endpoint, error) {
	eps := make([]Endpoint, 0, len(o.Endpoints))
	for _, s := range o.Endpoints {
		ep, err := ParseEndpoint(s)
		if err != nil {
			return nil, err
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *MavlinkOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if len(o.Endpoints) == 0 {
		errors = append(errors, fmt.Errorf("at least one --mavlink.endpoints is required"))
	}
	for _, s := range o.Endpoints {
		if _, err := ParseEndpoint(s); err != nil {
			errors = append(errors, err)
		}
	}
	if o.SystemID < 1 || o.SystemID > 255 {
		errors = append(errors, fmt.Errorf("--mavlink.system-id must be within [1,255], got %d", o.SystemID))
	}
	for name, d := range map[string]time.Duration{
		"heartbeat-timeout": o.HeartbeatTimeout,
		"status-timeout":    o.StatusTimeout,
		"link-loss-timeout": o.LinkLossTimeout,
		"reconnect-initial": o.ReconnectInitial,
	} {
		if d <= 0 {
			errors = append(errors, fmt.Errorf("--mavlink.%s must be positive", name))
		}
	}
	if o.ReconnectMax < o.ReconnectInitial {
		errors = append(errors, fmt.Errorf("--mavlink.reconnect-max must not be below --mavlink.reconnect-initial"))
	}
	if o.ReconnectSteps < 1 {
		errors = append(errors, fmt.Errorf("--mavlink.reconnect-steps must be at least 1"))
	}

	return errors
}

// AddFlags adds flags for MavlinkOptions to the specified FlagSet.
func (o *MavlinkOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringSliceVar(&o.Endpoints, "mavlink.endpoints", o.Endpoints,
		"Vehicle link endpoints: serial:/dev/ttyACM0[:baud], udp:0.0.0.0:14550, udpc:host:port, tcp:host:5760, tcps:0.0.0.0:5760.")
	fs.IntVar(&o.SystemID, "mavlink.system-id", o.SystemID, "MAVLink system id used by the bridge.")
	fs.DurationVar(&o.HeartbeatTimeout, "mavlink.heartbeat-timeout", o.HeartbeatTimeout, "How long to wait for the first vehicle heartbeat.")
	fs.DurationVar(&o.StatusTimeout, "mavlink.status-timeout", o.StatusTimeout, "Bound on a single arm-state query.")
	fs.DurationVar(&o.LinkLossTimeout, "mavlink.link-loss-timeout", o.LinkLossTimeout, "Heartbeat silence after which the link is reconnected.")
	fs.DurationVar(&o.ReconnectInitial, "mavlink.reconnect-initial", o.ReconnectInitial, "First reconnect delay.")
	fs.DurationVar(&o.ReconnectMax, "mavlink.reconnect-max", o.ReconnectMax, "Upper bound of the reconnect delay.")
	fs.IntVar(&o.ReconnectSteps, "mavlink.reconnect-steps", o.ReconnectSteps, "Reconnect attempts before the bridge gives up.")
}
