package router

import (
	"errors"
	"testing"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		family  Family
		in      string
		want    Target
		wantErr bool
	}{
		{Rudder, "*", CombinedTarget, false},
		{Engine, "combined", CombinedTarget, false},
		{Engine, "0", PortTarget, false},
		{Rudder, "port", PortTarget, false},
		{Rudder, "1", StarboardTarget, false},
		{Engine, "starboard", StarboardTarget, false},
		{Thruster, "bow", BowTarget, false},
		{Thruster, "stern", SternTarget, false},
		{Rudder, "bow", Target{}, true},
		{Engine, "stern", Target{}, true},
		{Rudder, "+", Target{}, true},
		{Rudder, "", Target{}, true},
		{Engine, "2", Target{}, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.family)+"/"+tt.in, func(t *testing.T) {
			got, err := ParseTarget(tt.family, tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownTarget) {
					t.Fatalf("ParseTarget() error = %v, want ErrUnknownTarget", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTarget() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseTarget() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPortAndStarboardAreDistinct(t *testing.T) {
	if PortTarget == StarboardTarget || PortTarget.String() == StarboardTarget.String() {
		t.Fatal("port and starboard targets collide")
	}
}

func TestParseFamily(t *testing.T) {
	for _, s := range []string{"rudder", "engine", "thruster"} {
		if _, err := ParseFamily(s); err != nil {
			t.Errorf("ParseFamily(%q) error = %v", s, err)
		}
	}
	if _, err := ParseFamily("flaps"); !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("ParseFamily(flaps) error = %v", err)
	}
}
