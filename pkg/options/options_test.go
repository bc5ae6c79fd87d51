package options

import (
	"net"
	"testing"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    Endpoint
		wantErr bool
	}{
		{in: "/dev/ttyACM0", want: Endpoint{Kind: EndpointSerial, Address: "/dev/ttyACM0", Baud: 57600}},
		{in: "serial:/dev/ttyUSB0:115200", want: Endpoint{Kind: EndpointSerial, Address: "/dev/ttyUSB0", Baud: 115200}},
		{in: "serial:/dev/ttyUSB0", want: Endpoint{Kind: EndpointSerial, Address: "/dev/ttyUSB0", Baud: 57600}},
		{in: "udp:0.0.0.0:14550", want: Endpoint{Kind: EndpointUDPServer, Address: "0.0.0.0:14550"}},
		{in: "tcp:127.0.0.1:5760", want: Endpoint{Kind: EndpointTCPClient, Address: "127.0.0.1:5760"}},
		{in: "serial:/dev/ttyUSB0:fast", wantErr: true},
		{in: "udp:nope", wantErr: true},
		{in: "carrier-pigeon:coop", wantErr: true},
		{in: "udp", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEndpoint(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseEndpoint(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseEndpoint(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateAddress(t *testing.T) {
	for _, addr := range []string{"0.0.0.0:8080", ":8080", "127.0.0.1:0"} {
		if err := ValidateAddress(addr); err != nil {
			t.Errorf("ValidateAddress(%q) = %v", addr, err)
		}
	}
	for _, addr := range []string{"8080", "127.0.0.1:http-alt", "127.0.0.1:70000"} {
		if err := ValidateAddress(addr); err == nil {
			t.Errorf("ValidateAddress(%q) should fail", addr)
		}
	}
}

func TestDefaultsValidate(t *testing.T) {
	mqtt := NewMqttOptions()
	mqtt.Realm, mqtt.Entity = "vessel", "boat"

	groups := map[string]IOptions{
		"mqtt":      mqtt,
		"mavlink":   NewMavlinkOptions(),
		"vehicle":   NewVehicleOptions(),
		"router":    NewRouterOptions(),
		"telemetry": NewTelemetryOptions(),
		"http":      NewHttpOptions(),
		"s3":        NewS3Options(),
	}
	for name, o := range groups {
		if errs := o.Validate(); len(errs) != 0 {
			t.Errorf("%s defaults invalid: %v", name, errs)
		}
	}
}

func TestHttpDefaultsStayLocal(t *testing.T) {
	o := NewHttpOptions()
	host, _, err := net.SplitHostPort(o.Addr)
	if err != nil {
		t.Fatal(err)
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		t.Errorf("default addr %q is not a loopback address", o.Addr)
	}
	if o.EnableActions {
		t.Error("vehicle actions enabled by default")
	}
}

func TestValidateRejects(t *testing.T) {
	mqtt := NewMqttOptions()
	mqtt.Realm, mqtt.Entity = "vessel/x", ""

	vehicle := NewVehicleOptions()
	vehicle.ThrottleChannel = vehicle.SteeringChannel

	router := NewRouterOptions()
	router.PWMMin = router.PWMMax
	router.Channels["rudder"] = 9

	telemetry := NewTelemetryOptions()
	telemetry.Kinds = append(telemetry.Kinds, "GPS_RAW_INT")
	telemetry.Format = "xml"

	s3 := NewS3Options()
	s3.Endpoint = "minio.local:9000"
	s3.BucketName = ""

	tests := []struct {
		name string
		opts IOptions
		min  int
	}{
		{"mqtt", mqtt, 2},
		{"vehicle", vehicle, 1},
		{"router", router, 3},
		{"telemetry", telemetry, 2},
		{"s3", s3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if errs := tt.opts.Validate(); len(errs) < tt.min {
				t.Errorf("expected at least %d errors, got %v", tt.min, errs)
			}
		})
	}
}

func TestToClientConfig(t *testing.T) {
	o := NewMqttOptions()
	o.Realm, o.Entity = "vessel", "boat"

	cfg := o.ToClientConfig()
	if cfg.ClientID != "mavbridge-boat" {
		t.Errorf("ClientID = %q", cfg.ClientID)
	}
	if cfg.WillTopic != "vessel/v0/boat/online" || !cfg.WillRetain {
		t.Errorf("unexpected will: %q retain=%v", cfg.WillTopic, cfg.WillRetain)
	}
	if cfg.KeepAlive != 60 {
		t.Errorf("KeepAlive = %d", cfg.KeepAlive)
	}
}
