// Package format holds the serialization formats used for request, reply and
// one-way message bodies. Header text is always UTF-8 regardless of format.
package format

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"gopkg.in/yaml.v3"

	"github.com/drblury/traceflow/internal/runtime/jsoncodec"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeYAML = "application/x-yaml"
)

// Format converts objects to bytes and back and declares the content type
// stamped on every message it produces.
type Format interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonFormat struct{}

// JSON returns the sonic backed JSON format.
func JSON() Format { return jsonFormat{} }

func (jsonFormat) ContentType() string { return ContentTypeJSON }

func (jsonFormat) Marshal(v any) ([]byte, error) { return jsoncodec.Marshal(v) }

func (jsonFormat) Unmarshal(data []byte, v any) error { return jsoncodec.Unmarshal(data, v) }

type yamlFormat struct{}

// YAML returns the YAML format. Reply types that embed Reply must tag the
// embedded field with `yaml:",inline"`.
func YAML() Format { return yamlFormat{} }

func (yamlFormat) ContentType() string { return ContentTypeYAML }

func (yamlFormat) Marshal(v any) ([]byte, error) { return yaml.Marshal(v) }

func (yamlFormat) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

var protoJSONUnmarshalOptions = protojson.UnmarshalOptions{
	DiscardUnknown: true,
}

type protoJSONFormat struct{}

// ProtoJSON returns a JSON format that encodes proto.Message values with
// protojson and everything else with the plain JSON codec.
func ProtoJSON() Format { return protoJSONFormat{} }

func (protoJSONFormat) ContentType() string { return ContentTypeJSON }

func (protoJSONFormat) Marshal(v any) ([]byte, error) {
	if msg, ok := v.(proto.Message); ok {
		return protoJSONMarshalOptions.Marshal(msg)
	}
	return jsoncodec.Marshal(v)
}

func (protoJSONFormat) Unmarshal(data []byte, v any) error {
	if msg, ok := v.(proto.Message); ok {
		return protoJSONUnmarshalOptions.Unmarshal(data, msg)
	}
	return jsoncodec.Unmarshal(data, v)
}

// ByName resolves a configured format name.
func ByName(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON(), nil
	case "yaml", "yml":
		return YAML(), nil
	case "protojson", "proto":
		return ProtoJSON(), nil
	default:
		return nil, fmt.Errorf("unknown format: %q", name)
	}
}
