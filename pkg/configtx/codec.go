package configtx

import (
	"bytes"

	"github.com/golang/protobuf/proto"
	fabconfig "github.com/hyperledger/fabric-config/configtx"
	"github.com/hyperledger/fabric-config/protolator"
	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
)

// Codec converts config documents to and from their binary form and computes
// the update between two of them. Every failure is fatal to the caller.
type Codec interface {
	Encode(doc Snapshot, schema SchemaType) ([]byte, error)
	Decode(data []byte, schema SchemaType) (Snapshot, error)
	ComputeUpdate(channel string, schema SchemaType, original, modified Snapshot) ([]byte, error)
}

// ProtoCodec does all conversions in process.
type ProtoCodec struct{}

func NewProtoCodec() *ProtoCodec {
	return &ProtoCodec{}
}

func (c *ProtoCodec) Encode(doc Snapshot, schema SchemaType) ([]byte, error) {
	msg, err := c.unmarshalJSON(doc, schema)
	if err != nil {
		return nil, err
	}
	data, err := proto.Marshal(msg)
	if err != nil {
		return nil, &fab.EncodingError{Schema: schema.String(), Err: err}
	}
	return data, nil
}

func (c *ProtoCodec) Decode(data []byte, schema SchemaType) (Snapshot, error) {
	if !schema.valid() {
		return Snapshot{}, &fab.DecodingError{Schema: schema.String(), Err: errors.New("unknown schema type")}
	}

	msg := schema.newMessage()
	if err := proto.Unmarshal(data, msg); err != nil {
		return Snapshot{}, &fab.DecodingError{Schema: schema.String(), Err: err}
	}

	var buf bytes.Buffer
	if err := protolator.DeepMarshalJSON(&buf, msg); err != nil {
		return Snapshot{}, &fab.DecodingError{Schema: schema.String(), Err: err}
	}

	doc, err := NewSnapshot(buf.Bytes())
	if err != nil {
		return Snapshot{}, &fab.DecodingError{Schema: schema.String(), Err: err}
	}
	return doc, nil
}

// ComputeUpdate only diffs Config documents, like configtxlator compute_update.
func (c *ProtoCodec) ComputeUpdate(channel string, schema SchemaType, original, modified Snapshot) ([]byte, error) {
	if !schema.is(SchemaConfig) {
		return nil, &fab.EncodingError{Schema: schema.String(), Err: errors.New("updates can only be computed between common.Config documents")}
	}

	originalMsg, err := c.unmarshalJSON(original, schema)
	if err != nil {
		return nil, err
	}
	modifiedMsg, err := c.unmarshalJSON(modified, schema)
	if err != nil {
		return nil, err
	}

	tx := fabconfig.New(originalMsg.(*common.Config))
	updated := tx.UpdatedConfig()
	updated.Reset()
	proto.Merge(updated, modifiedMsg)

	update, err := tx.ComputeMarshaledUpdate(channel)
	if err != nil {
		return nil, &fab.EncodingError{Schema: SchemaConfigUpdate.String(), Err: err}
	}
	return update, nil
}

func (c *ProtoCodec) unmarshalJSON(doc Snapshot, schema SchemaType) (proto.Message, error) {
	if !schema.valid() {
		return nil, &fab.EncodingError{Schema: schema.String(), Err: errors.New("unknown schema type")}
	}

	raw, err := doc.Bytes()
	if err != nil {
		return nil, &fab.EncodingError{Schema: schema.String(), Err: err}
	}

	msg := schema.newMessage()
	if err := protolator.DeepUnmarshalJSON(bytes.NewReader(raw), msg); err != nil {
		return nil, &fab.EncodingError{Schema: schema.String(), Err: err}
	}
	return msg, nil
}
