package configtx

import (
	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
)

// SchemaType names one of the config messages the codec understands. The set
// is closed: the only values are the ones declared below.
type SchemaType struct {
	name       string
	newMessage func() proto.Message
}

var (
	SchemaEnvelope       = SchemaType{name: "common.Envelope", newMessage: func() proto.Message { return &common.Envelope{} }}
	SchemaConfigEnvelope = SchemaType{name: "common.ConfigEnvelope", newMessage: func() proto.Message { return &common.ConfigEnvelope{} }}
	SchemaConfig         = SchemaType{name: "common.Config", newMessage: func() proto.Message { return &common.Config{} }}
	SchemaConfigUpdate   = SchemaType{name: "common.ConfigUpdate", newMessage: func() proto.Message { return &common.ConfigUpdate{} }}
)

// SchemaTypes lists every declared schema type.
var SchemaTypes = []SchemaType{SchemaEnvelope, SchemaConfigEnvelope, SchemaConfig, SchemaConfigUpdate}

// String returns the protobuf message name, as configtxlator expects it.
func (s SchemaType) String() string {
	return s.name
}

func (s SchemaType) valid() bool {
	return s.newMessage != nil
}

func (s SchemaType) is(other SchemaType) bool {
	return s.name == other.name
}

// ParseSchemaType looks a schema type up by its message name.
func ParseSchemaType(name string) (SchemaType, bool) {
	for _, s := range SchemaTypes {
		if s.name == name {
			return s, true
		}
	}
	return SchemaType{}, false
}
