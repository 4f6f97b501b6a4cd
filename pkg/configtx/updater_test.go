package configtx

import (
	"bytes"
	"context"
	"testing"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/osdi23p228/azhlf/pkg/fab/mocks"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUpdater(client *mocks.MockClient) (*Updater, *countingCodec) {
	logger, _ := test.NewNullLogger()
	codec := &countingCodec{Codec: NewProtoCodec()}
	return NewUpdater(client, codec, logger), codec
}

func TestAddOrgToConsortiumIsIdempotent(t *testing.T) {
	client := mocks.NewMockClient()
	client.ConfigByChannel[DefaultSystemChannel] = configEnvelope(t, systemConfig())
	u, codec := newTestUpdater(client)
	org := testOrg(t, "Org2MSP")

	result, err := u.AddOrgToConsortium(context.Background(), "", org)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, codec.updates)
	require.Len(t, client.ConfigUpdates, 1)
	assert.Equal(t, []string{DefaultSystemChannel}, client.ConfigChannels)
	assert.True(t, codec.lastModified.Has(consortiumOrgPath(DefaultConsortium, "Org2MSP")))

	// the ordering service applied the update
	client.ConfigByChannel[DefaultSystemChannel] = envelopeOf(t, codec.lastModified)

	result, err = u.AddOrgToConsortium(context.Background(), "", org)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, 1, codec.updates)
	assert.Len(t, client.ConfigUpdates, 1)
	assert.Equal(t, 2, client.ConfigFetches)
}

func TestAddOrgToConsortiumWriteSet(t *testing.T) {
	client := mocks.NewMockClient()
	client.ConfigByChannel[DefaultSystemChannel] = configEnvelope(t, systemConfig())
	u, _ := newTestUpdater(client)

	_, err := u.AddOrgToConsortium(context.Background(), DefaultSystemChannel, testOrg(t, "Org2MSP"))
	require.NoError(t, err)
	require.Len(t, client.ConfigUpdates, 1)

	update := &common.ConfigUpdate{}
	require.NoError(t, proto.Unmarshal(client.ConfigUpdates[0], update))
	assert.Equal(t, DefaultSystemChannel, update.ChannelId)
	consortium := update.WriteSet.Groups["Consortiums"].Groups[DefaultConsortium]
	require.NotNil(t, consortium)
	assert.Contains(t, consortium.Groups, "Org2MSP")
	assert.Contains(t, consortium.Groups["Org2MSP"].Values, "MSP")
}

func TestAddOrgToConsortiumScope(t *testing.T) {
	client := mocks.NewMockClient()
	u, codec := newTestUpdater(client)

	_, err := u.AddOrgToConsortium(context.Background(), "mychannel", testOrg(t, "Org2MSP"))
	var precondition *fab.PreconditionError
	require.True(t, errors.As(err, &precondition))
	assert.Zero(t, client.ConfigFetches)
	assert.Zero(t, codec.updates)
}

func TestAddOrgToConsortiumUnknownConsortium(t *testing.T) {
	client := mocks.NewMockClient()
	client.ConfigByChannel[DefaultSystemChannel] = configEnvelope(t, systemConfig())
	logger, _ := test.NewNullLogger()
	u := NewUpdater(client, NewProtoCodec(), logger, WithConsortium("OtherConsortium"))

	_, err := u.AddOrgToConsortium(context.Background(), "", testOrg(t, "Org2MSP"))
	var precondition *fab.PreconditionError
	require.True(t, errors.As(err, &precondition))
	assert.Empty(t, client.ConfigUpdates)
}

func TestAddOrgToChannel(t *testing.T) {
	client := mocks.NewMockClient()
	client.ConfigByChannel["mychannel"] = configEnvelope(t, applicationConfig(t))
	u, codec := newTestUpdater(client)

	result, err := u.AddOrgToChannel(context.Background(), "mychannel", testOrg(t, "Org2MSP"))
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.True(t, result.Outcome.Succeeded())
	assert.True(t, codec.lastModified.Has(applicationOrgPath("Org2MSP")))

	result, err = u.AddOrgToChannel(context.Background(), "mychannel", testOrg(t, "Org1MSP"))
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, 1, codec.updates)
	assert.Len(t, client.ConfigUpdates, 1)
}

func TestApplicationOperationsRejectSystemChannel(t *testing.T) {
	client := mocks.NewMockClient()
	u, _ := newTestUpdater(client)
	ctx := context.Background()
	var precondition *fab.PreconditionError

	_, err := u.AddOrgToChannel(ctx, DefaultSystemChannel, testOrg(t, "Org2MSP"))
	assert.True(t, errors.As(err, &precondition))

	_, err = u.SetAnchorPeers(ctx, DefaultSystemChannel, "Org1MSP", nil)
	assert.True(t, errors.As(err, &precondition))

	_, err = u.CreateChannel(ctx, DefaultSystemChannel, []string{"Org1MSP"})
	assert.True(t, errors.As(err, &precondition))

	_, err = u.JoinChannel(ctx, "", "Org1MSP")
	assert.True(t, errors.As(err, &precondition))

	assert.Zero(t, client.ConfigFetches)
}

func TestSetAnchorPeersOrderInsensitive(t *testing.T) {
	client := mocks.NewMockClient()
	client.ConfigByChannel["mychannel"] = configEnvelope(t, applicationConfig(t,
		&pb.AnchorPeer{Host: "peer1.org1", Port: 7051},
		&pb.AnchorPeer{Host: "peer2.org1", Port: 7051},
	))
	u, codec := newTestUpdater(client)

	result, err := u.SetAnchorPeers(context.Background(), "mychannel", "Org1MSP", []AnchorPeer{
		{Host: "peer2.org1", Port: 7051},
		{Host: "peer1.org1", Port: 7051},
	})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Zero(t, codec.updates)
	assert.Empty(t, client.ConfigUpdates)
}

func TestSetAnchorPeersEmptyListClears(t *testing.T) {
	client := mocks.NewMockClient()
	client.ConfigByChannel["mychannel"] = configEnvelope(t, applicationConfig(t,
		&pb.AnchorPeer{Host: "peer1.org1", Port: 7051},
	))
	u, codec := newTestUpdater(client)

	result, err := u.SetAnchorPeers(context.Background(), "mychannel", "Org1MSP", []AnchorPeer{})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, codec.updates)
	require.Len(t, client.ConfigUpdates, 1)

	update := &common.ConfigUpdate{}
	require.NoError(t, proto.Unmarshal(client.ConfigUpdates[0], update))
	value := update.WriteSet.Groups["Application"].Groups["Org1MSP"].Values["AnchorPeers"]
	require.NotNil(t, value)
	anchors := &pb.AnchorPeers{}
	require.NoError(t, proto.Unmarshal(value.Value, anchors))
	assert.Empty(t, anchors.AnchorPeers)
}

func TestSetAnchorPeersAddsValue(t *testing.T) {
	client := mocks.NewMockClient()
	client.ConfigByChannel["mychannel"] = configEnvelope(t, applicationConfig(t))
	u, _ := newTestUpdater(client)

	_, err := u.SetAnchorPeers(context.Background(), "mychannel", "Org1MSP", []AnchorPeer{{Host: "peer0.org1", Port: 7051}})
	require.NoError(t, err)
	require.Len(t, client.ConfigUpdates, 1)

	update := &common.ConfigUpdate{}
	require.NoError(t, proto.Unmarshal(client.ConfigUpdates[0], update))
	value := update.WriteSet.Groups["Application"].Groups["Org1MSP"].Values["AnchorPeers"]
	require.NotNil(t, value)
	assert.Equal(t, "Admins", value.ModPolicy)
	anchors := &pb.AnchorPeers{}
	require.NoError(t, proto.Unmarshal(value.Value, anchors))
	require.Len(t, anchors.AnchorPeers, 1)
	assert.Equal(t, "peer0.org1", anchors.AnchorPeers[0].Host)
	assert.EqualValues(t, 7051, anchors.AnchorPeers[0].Port)
}

func TestSetAnchorPeersEmptyOnEmptyIsNoop(t *testing.T) {
	client := mocks.NewMockClient()
	client.ConfigByChannel["mychannel"] = configEnvelope(t, applicationConfig(t))
	u, codec := newTestUpdater(client)

	result, err := u.SetAnchorPeers(context.Background(), "mychannel", "Org1MSP", nil)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Zero(t, codec.updates)
}

func TestSetAnchorPeersUnknownOrg(t *testing.T) {
	client := mocks.NewMockClient()
	client.ConfigByChannel["mychannel"] = configEnvelope(t, applicationConfig(t))
	u, _ := newTestUpdater(client)

	_, err := u.SetAnchorPeers(context.Background(), "mychannel", "Org9MSP", []AnchorPeer{{Host: "peer0.org9", Port: 7051}})
	var precondition *fab.PreconditionError
	require.True(t, errors.As(err, &precondition))
}

func TestConfigUpdateRejectedByOrderer(t *testing.T) {
	client := mocks.NewMockClient()
	client.ConfigByChannel["mychannel"] = configEnvelope(t, applicationConfig(t))
	client.ConfigUpdateStatus = common.Status_BAD_REQUEST
	u, _ := newTestUpdater(client)

	_, err := u.AddOrgToChannel(context.Background(), "mychannel", testOrg(t, "Org2MSP"))
	var ordering *fab.OrderingError
	require.True(t, errors.As(err, &ordering))
	assert.Equal(t, common.Status_BAD_REQUEST, ordering.Status)
}

func TestFetchConfigMalformed(t *testing.T) {
	client := mocks.NewMockClient()
	client.ConfigByChannel["mychannel"] = []byte("not a config envelope")
	u, _ := newTestUpdater(client)

	_, err := u.FetchConfig(context.Background(), "mychannel")
	var decoding *fab.DecodingError
	require.True(t, errors.As(err, &decoding))
}

func TestCreateChannel(t *testing.T) {
	client := mocks.NewMockClient()
	u, _ := newTestUpdater(client)

	result, err := u.CreateChannel(context.Background(), "mychannel", []string{"Org1MSP", "Org2MSP"})
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	require.Len(t, client.ConfigUpdates, 1)

	update := &common.ConfigUpdate{}
	require.NoError(t, proto.Unmarshal(client.ConfigUpdates[0], update))
	assert.Equal(t, "mychannel", update.ChannelId)
	assert.Contains(t, update.WriteSet.Values, "Consortium")
	app := update.WriteSet.Groups["Application"]
	require.NotNil(t, app)
	assert.Contains(t, app.Groups, "Org1MSP")
	assert.Contains(t, app.Groups, "Org2MSP")
}

func TestCreateChannelExisting(t *testing.T) {
	client := mocks.NewMockClient()
	client.ConfigByChannel["mychannel"] = configEnvelope(t, applicationConfig(t))
	u, _ := newTestUpdater(client)

	result, err := u.CreateChannel(context.Background(), "mychannel", []string{"Org1MSP"})
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, client.ConfigUpdates)
}

func TestJoinChannel(t *testing.T) {
	client := mocks.NewMockClient(mocks.NewMockPeer("peer0.Org1"), mocks.NewMockPeer("peer1.Org1"))
	client.Genesis = []byte("genesis")
	u, _ := newTestUpdater(client)

	result, err := u.JoinChannel(context.Background(), "mychannel", "Org1")
	require.NoError(t, err)
	assert.Len(t, result.Responses, 2)
	require.Len(t, client.Proposals, 1)
	assert.Equal(t, fab.KindJoinChain, client.Proposals[0].Kind)
	assert.Equal(t, []byte("genesis"), client.Proposals[0].Block)
}

func TestJoinChannelAllOrNothing(t *testing.T) {
	bad := mocks.NewMockPeer("peer1.Org1")
	bad.Status = 500
	bad.Message = "cannot create ledger"
	client := mocks.NewMockClient(mocks.NewMockPeer("peer0.Org1"), bad)
	client.Genesis = []byte("genesis")
	u, _ := newTestUpdater(client)

	_, err := u.JoinChannel(context.Background(), "mychannel", "Org1")
	var endorsement *fab.EndorsementError
	require.True(t, errors.As(err, &endorsement))
	assert.Len(t, endorsement.Bad, 1)
	assert.Equal(t, 1, endorsement.Good)
}

func TestPrintChannel(t *testing.T) {
	client := mocks.NewMockClient()
	client.ConfigByChannel["mychannel"] = configEnvelope(t, applicationConfig(t))
	u, _ := newTestUpdater(client)

	var buf bytes.Buffer
	require.NoError(t, u.PrintChannel(context.Background(), "mychannel", &buf))
	assert.Contains(t, buf.String(), `"Org1MSP"`)
	assert.Contains(t, buf.String(), `"channel_group"`)
}
