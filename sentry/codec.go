package sentry

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec is a grpc codec that marshals request/response payloads with
// encoding/json instead of protobuf. The sentry's message payloads are
// themselves opaque RLP blobs (the wire protocol defined in §6), so the
// envelope gRPC carries them in gains nothing from a protobuf schema; JSON
// keeps the envelope human-inspectable on the wire, which is valuable given
// how much of debugging a sync is staring at what a peer actually sent.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
