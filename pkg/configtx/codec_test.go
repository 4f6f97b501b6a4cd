package configtx

import (
	"testing"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtoCodecRoundTrip(t *testing.T) {
	codec := NewProtoCodec()
	raw, err := proto.Marshal(applicationConfig(t))
	require.NoError(t, err)

	doc, err := codec.Decode(raw, SchemaConfig)
	require.NoError(t, err)
	assert.True(t, doc.Has(applicationOrgPath("Org1MSP")))

	encoded, err := codec.Encode(doc, SchemaConfig)
	require.NoError(t, err)

	cfg := &common.Config{}
	require.NoError(t, proto.Unmarshal(encoded, cfg))
	assert.True(t, proto.Equal(applicationConfig(t), cfg))
}

func TestProtoCodecDecodeMalformed(t *testing.T) {
	_, err := NewProtoCodec().Decode([]byte{0xff, 0xff, 0xff}, SchemaConfigEnvelope)
	var decoding *fab.DecodingError
	require.True(t, errors.As(err, &decoding))
	assert.Equal(t, "common.ConfigEnvelope", decoding.Schema)
}

func TestProtoCodecRejectsUnknownSchema(t *testing.T) {
	doc, err := NewSnapshot([]byte(`{}`))
	require.NoError(t, err)

	_, err = NewProtoCodec().Encode(doc, SchemaType{})
	var encoding *fab.EncodingError
	require.True(t, errors.As(err, &encoding))
}

func TestProtoCodecComputeUpdate(t *testing.T) {
	codec := NewProtoCodec()
	raw, err := proto.Marshal(applicationConfig(t))
	require.NoError(t, err)
	current, err := codec.Decode(raw, SchemaConfig)
	require.NoError(t, err)

	group, err := testOrg(t, "Org2MSP").Group()
	require.NoError(t, err)
	modified, err := current.WithChange(applicationOrgPath("Org2MSP"), group)
	require.NoError(t, err)

	update, err := codec.ComputeUpdate("mychannel", SchemaConfig, current, modified)
	require.NoError(t, err)

	cu := &common.ConfigUpdate{}
	require.NoError(t, proto.Unmarshal(update, cu))
	assert.Equal(t, "mychannel", cu.ChannelId)
	assert.Contains(t, cu.WriteSet.Groups["Application"].Groups, "Org2MSP")
	assert.NotContains(t, cu.WriteSet.Groups["Application"].Groups, "Org1MSP")
}

func TestOrgGroupPolicies(t *testing.T) {
	group, err := testOrg(t, "Org2MSP").Group()
	require.NoError(t, err)

	for _, name := range []string{"Admins", "Readers", "Writers", "Endorsement"} {
		assert.True(t, group.Has(Path{"policies", name}), name)
	}
	assert.True(t, group.Has(Path{"values", "MSP"}))
	assert.False(t, group.Has(Path{"values", "AnchorPeers"}))

	var name string
	require.NoError(t, group.Decode(Path{"values", "MSP", "value", "config", "name"}, &name))
	assert.Equal(t, "Org2MSP", name)
}

func TestOrgGroupRequiresMSPID(t *testing.T) {
	_, err := OrgDefinition{}.Group()
	assert.Error(t, err)

	_, err = OrgDefinition{MSPID: "Org2MSP", RootCerts: [][]byte{[]byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n")}}.Group()
	assert.Error(t, err)
}
