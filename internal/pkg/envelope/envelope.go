// Package envelope implements the framing used on the bus: an outer
// envelope stamped with the time it was enclosed, wrapping a payload that is
// itself a small timestamped protobuf message.
//
// The messages are encoded field by field with protowire so that the bridge
// stays wire compatible with keelson publishers without generated code:
//
//	Envelope          { Timestamp enclosed_at = 1; bytes payload = 2; }
//	TimestampedFloat  { Timestamp timestamp = 1;  float value = 2; }
//	TimestampedString { Timestamp timestamp = 1;  string value = 2; }
package envelope

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
	"k8s.io/utils/clock"
)

// ErrDecode is returned for any malformed envelope or payload.
var ErrDecode = errors.New("decode error")

const (
	fieldTimestamp protowire.Number = 1
	fieldValue     protowire.Number = 2
)

// Envelope is an uncovered bus message.
type Envelope struct {
	// ReceivedAt is the local time the envelope was uncovered.
	ReceivedAt time.Time
	// EnclosedAt is the sender's stamp; zero when absent.
	EnclosedAt time.Time
	Payload    []byte
}

// Codec encloses and uncovers envelopes using its clock for stamps.
type Codec struct {
	clock clock.PassiveClock
}

// NewCodec returns a Codec. A nil clock means the real clock.
func NewCodec(c clock.PassiveClock) *Codec {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Codec{clock: c}
}

// Now returns the codec's current time.
func (c *Codec) Now() time.Time {
	return c.clock.Now()
}

// Enclose wraps payload in an envelope stamped with the current time.
func (c *Codec) Enclose(payload []byte) []byte {
	var b []byte
	b = appendTimestamp(b, fieldTimestamp, c.clock.Now())
	b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b
}

// Uncover parses an envelope.
func (c *Codec) Uncover(data []byte) (Envelope, error) {
	env := Envelope{ReceivedAt: c.clock.Now()}
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == fieldTimestamp && typ == protowire.BytesType:
			ts, err := parseTimestamp(v)
			if err != nil {
				return err
			}
			env.EnclosedAt = ts
		case num == fieldValue && typ == protowire.BytesType:
			env.Payload = v
		}
		return nil
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}
	return env, nil
}

// EncodeFloat encodes a TimestampedFloat.
func EncodeFloat(ts time.Time, v float32) []byte {
	var b []byte
	b = appendTimestamp(b, fieldTimestamp, ts)
	b = protowire.AppendTag(b, fieldValue, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(v))
	return b
}

// DecodeFloat decodes a TimestampedFloat. Both float and double encodings
// of the value are accepted. The value field must be present, so a zero
// setpoint has to be encoded explicitly as EncodeFloat does.
func DecodeFloat(data []byte) (time.Time, float64, error) {
	var (
		ts    time.Time
		value float64
		seen  bool
	)
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldTimestamp:
			if typ != protowire.BytesType {
				return fmt.Errorf("%w: timestamp has wire type %d", ErrDecode, typ)
			}
			t, err := parseTimestamp(v)
			if err != nil {
				return err
			}
			ts = t
		case fieldValue:
			switch typ {
			case protowire.Fixed32Type:
				bits, _ := protowire.ConsumeFixed32(v)
				value = float64(math.Float32frombits(bits))
			case protowire.Fixed64Type:
				bits, _ := protowire.ConsumeFixed64(v)
				value = math.Float64frombits(bits)
			default:
				return fmt.Errorf("%w: float value has wire type %d", ErrDecode, typ)
			}
			seen = true
		}
		return nil
	})
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("timestamped float: %w", err)
	}
	if !seen {
		return time.Time{}, 0, fmt.Errorf("timestamped float: %w: missing value", ErrDecode)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return time.Time{}, 0, fmt.Errorf("timestamped float: %w: value is not finite", ErrDecode)
	}
	return ts, value, nil
}

// EncodeString encodes a TimestampedString.
func EncodeString(ts time.Time, s string) []byte {
	var b []byte
	b = appendTimestamp(b, fieldTimestamp, ts)
	b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
	b = protowire.AppendString(b, s)
	return b
}

// DecodeString decodes a TimestampedString.
func DecodeString(data []byte) (time.Time, string, error) {
	var (
		ts    time.Time
		value string
	)
	err := walk(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			if num == fieldTimestamp || num == fieldValue {
				return fmt.Errorf("%w: field %d has wire type %d", ErrDecode, num, typ)
			}
			return nil
		}
		switch num {
		case fieldTimestamp:
			t, err := parseTimestamp(v)
			if err != nil {
				return err
			}
			ts = t
		case fieldValue:
			value = string(v)
		}
		return nil
	})
	if err != nil {
		return time.Time{}, "", fmt.Errorf("timestamped string: %w", err)
	}
	return ts, value, nil
}

// walk visits every field of a protobuf message. For length-delimited fields
// v is the field content; for fixed fields v holds the raw little-endian
// bytes; varints are skipped.
func walk(data []byte, visit func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
		}
		data = data[n:]

		m := protowire.ConsumeFieldValue(num, typ, data)
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(m))
		}
		raw := data[:m]
		data = data[m:]

		var v []byte
		switch typ {
		case protowire.BytesType:
			v, _ = protowire.ConsumeBytes(raw)
		case protowire.Fixed32Type, protowire.Fixed64Type:
			v = raw
		default:
			continue
		}
		if err := visit(num, typ, v); err != nil {
			return err
		}
	}
	return nil
}

func appendTimestamp(b []byte, num protowire.Number, t time.Time) []byte {
	ts, _ := proto.Marshal(timestamppb.New(t))
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, ts)
}

func parseTimestamp(v []byte) (time.Time, error) {
	var ts timestamppb.Timestamp
	if err := proto.Unmarshal(v, &ts); err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp: %v", ErrDecode, err)
	}
	if err := ts.CheckValid(); err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp: %v", ErrDecode, err)
	}
	return ts.AsTime(), nil
}
