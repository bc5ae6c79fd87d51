package envelope

import (
	"errors"
	"math"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	clocktesting "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)

func TestEncloseUncover(t *testing.T) {
	clk := clocktesting.NewFakePassiveClock(epoch)
	codec := NewCodec(clk)

	data := codec.Enclose([]byte("payload"))

	clk.SetTime(epoch.Add(time.Second))
	env, err := codec.Uncover(data)
	if err != nil {
		t.Fatalf("Uncover() error = %v", err)
	}
	if !env.EnclosedAt.Equal(epoch) {
		t.Errorf("EnclosedAt = %v, want %v", env.EnclosedAt, epoch)
	}
	if !env.ReceivedAt.Equal(epoch.Add(time.Second)) {
		t.Errorf("ReceivedAt = %v", env.ReceivedAt)
	}
	if string(env.Payload) != "payload" {
		t.Errorf("Payload = %q", env.Payload)
	}
}

func TestUncoverMalformed(t *testing.T) {
	codec := NewCodec(clocktesting.NewFakePassiveClock(epoch))

	tests := map[string][]byte{
		"truncated tag":     {0x80},
		"truncated length":  {0x12, 0x05, 'a'},
		"bad timestamp":     {0x0a, 0x02, 0x08, 0x80},
		"invalid wire type": {0x0f},
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := codec.Uncover(data); !errors.Is(err, ErrDecode) {
				t.Errorf("Uncover() error = %v, want ErrDecode", err)
			}
		})
	}
}

func TestFloat(t *testing.T) {
	ts, v, err := DecodeFloat(EncodeFloat(epoch, 50))
	if err != nil {
		t.Fatalf("DecodeFloat() error = %v", err)
	}
	if v != 50 || !ts.Equal(epoch) {
		t.Errorf("DecodeFloat() = (%v, %v)", ts, v)
	}
}

func TestFloatAcceptsDouble(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, fieldValue, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(-42.5))

	_, v, err := DecodeFloat(b)
	if err != nil {
		t.Fatalf("DecodeFloat() error = %v", err)
	}
	if v != -42.5 {
		t.Errorf("value = %v, want -42.5", v)
	}
}

func TestFloatRejects(t *testing.T) {
	var wrongType []byte
	wrongType = protowire.AppendTag(wrongType, fieldValue, protowire.BytesType)
	wrongType = protowire.AppendString(wrongType, "50")

	var nan []byte
	nan = protowire.AppendTag(nan, fieldValue, protowire.Fixed32Type)
	nan = protowire.AppendFixed32(nan, math.Float32bits(float32(math.NaN())))

	var noValue []byte
	noValue = appendTimestamp(noValue, fieldTimestamp, epoch)

	for name, data := range map[string][]byte{
		"string value": wrongType,
		"nan":          nan,
		"garbage":      {0xff, 0xff},
		"empty":        {},
		"no value":     noValue,
	} {
		t.Run(name, func(t *testing.T) {
			if _, _, err := DecodeFloat(data); !errors.Is(err, ErrDecode) {
				t.Errorf("DecodeFloat() error = %v, want ErrDecode", err)
			}
		})
	}
}

func TestFloatZeroIsExplicit(t *testing.T) {
	_, v, err := DecodeFloat(EncodeFloat(epoch, 0))
	if err != nil {
		t.Fatalf("DecodeFloat() error = %v", err)
	}
	if v != 0 {
		t.Errorf("value = %v, want 0", v)
	}
}

func TestString(t *testing.T) {
	ts, s, err := DecodeString(EncodeString(epoch, "vessel/v1/joystick/lever"))
	if err != nil {
		t.Fatalf("DecodeString() error = %v", err)
	}
	if s != "vessel/v1/joystick/lever" || !ts.Equal(epoch) {
		t.Errorf("DecodeString() = (%v, %q)", ts, s)
	}

	_, s, err = DecodeString(nil)
	if err != nil || s != "" {
		t.Errorf("DecodeString(nil) = (%q, %v), want empty", s, err)
	}
}

func TestEnvelopeAroundFloat(t *testing.T) {
	codec := NewCodec(clocktesting.NewFakePassiveClock(epoch))
	env, err := codec.Uncover(codec.Enclose(EncodeFloat(epoch, 12.5)))
	if err != nil {
		t.Fatal(err)
	}
	if _, v, err := DecodeFloat(env.Payload); err != nil || v != 12.5 {
		t.Errorf("DecodeFloat(payload) = (%v, %v)", v, err)
	}
}
