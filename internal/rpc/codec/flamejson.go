// Package codec registers "flamejson", the wire codec used in place of
// protoc-generated protobuf marshalling (§6.4). Frontend and Backend
// messages are plain Go structs tagged for encoding/json; the codec plugs
// them into google.golang.org/grpc's existing framing, compression, and
// streaming machinery so the rest of the transport stack is unchanged from
// a conventional protobuf service.
package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// Name is the codec identifier, carried as the content-subtype of the
// content-type header (application/grpc+flamejson).
const Name = "flamejson"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec. Unlike the
// built-in "proto" codec, it requires no generated message types: any Go
// struct with json tags round-trips, which is what lets the Frontend and
// Backend services be defined as hand-written grpc.ServiceDesc values over
// pkg/flameapi types directly.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("flamejson: marshal: %w", err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("flamejson: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string {
	return Name
}
