package grpcapi

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is registered as a gRPC wire-format subtype so this service's
// requests/responses travel as JSON frames instead of protobuf-encoded
// bytes, since the request/response types here are plain Go structs, not
// protoc-generated messages (see tokenexchange.proto's doc comment).
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec implements google.golang.org/grpc/encoding.Codec over
// encoding/json. Registered globally under the "json" subtype; a client
// selects it via grpc.CallContentSubtype("json") or grpc.ForceCodec.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}
