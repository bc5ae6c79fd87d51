package telemetry

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Payload formats.
const (
	FormatProtobuf = "protobuf"
	FormatJSON     = "json"
	FormatCBOR     = "cbor"
)

// Encoder serializes the fields of a telemetry frame.
type Encoder interface {
	Encode(fields map[string]any) ([]byte, error)
	Format() string
}

// NewEncoder returns the encoder for format.
func NewEncoder(format string) (Encoder, error) {
	switch format {
	case FormatProtobuf, "":
		return protobufEncoder{}, nil
	case FormatJSON:
		return jsonEncoder{}, nil
	case FormatCBOR:
		mode, err := cbor.CanonicalEncOptions().EncMode()
		if err != nil {
			return nil, err
		}
		return cborEncoder{mode: mode}, nil
	default:
		return nil, fmt.Errorf("unknown telemetry format %q", format)
	}
}

// protobufEncoder writes a google.protobuf.Struct.
type protobufEncoder struct{}

func (protobufEncoder) Format() string { return FormatProtobuf }

func (protobufEncoder) Encode(fields map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(s)
}

// jsonEncoder writes the protojson rendering of a google.protobuf.Struct.
type jsonEncoder struct{}

func (jsonEncoder) Format() string { return FormatJSON }

func (jsonEncoder) Encode(fields map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(s)
}

type cborEncoder struct {
	mode cbor.EncMode
}

func (cborEncoder) Format() string { return FormatCBOR }

func (e cborEncoder) Encode(fields map[string]any) ([]byte, error) {
	return e.mode.Marshal(fields)
}
