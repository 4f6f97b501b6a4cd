package infra

import (
	"context"
	"sync"
	"testing"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/hyperledger/fabric-protos-go/orderer"
	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/osdi23p228/azhlf/pkg/fab/mocks"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

var responsePayload = []byte("proposal response payload")

func newTestCrypto(t *testing.T, mspID string) *Crypto {
	id, err := mocks.NewIdentity(mspID, "Admin")
	require.NoError(t, err)
	c, err := NewCrypto(id)
	require.NoError(t, err)
	return c
}

// fakeEndorser answers every proposal with a fixed status.
type fakeEndorser struct {
	address string
	status  int32
	message string
	payload []byte
	err     error

	mu       sync.Mutex
	received []*peer.SignedProposal
}

func (e *fakeEndorser) ProcessProposal(ctx context.Context, in *peer.SignedProposal, opts ...grpc.CallOption) (*peer.ProposalResponse, error) {
	e.mu.Lock()
	e.received = append(e.received, in)
	e.mu.Unlock()

	if e.err != nil {
		return nil, e.err
	}
	return &peer.ProposalResponse{
		Response:    &peer.Response{Status: e.status, Message: e.message, Payload: e.payload},
		Payload:     responsePayload,
		Endorsement: &peer.Endorsement{Endorser: []byte(e.address), Signature: []byte("sig-" + e.address)},
	}, nil
}

// fakeConnector serves every node from memory. Addresses in down refuse
// connections.
type fakeConnector struct {
	mu sync.Mutex

	endorsers map[string]*fakeEndorser
	down      map[string]bool

	broadcastStatus common.Status
	envelopes       []*common.Envelope
	broadcastTo     []string

	blocks        []*common.Block
	deliverStatus common.Status
	seeks         []*orderer.SeekInfo
	deliverTo     []string

	filtered map[string][]*peer.DeliverResponse

	closed bool
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		endorsers:       map[string]*fakeEndorser{},
		down:            map[string]bool{},
		broadcastStatus: common.Status_SUCCESS,
		filtered:        map[string][]*peer.DeliverResponse{},
	}
}

func (c *fakeConnector) endorser(address string) *fakeEndorser {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.endorsers[address]
	if !ok {
		e = &fakeEndorser{address: address, status: fab.StatusOK}
		c.endorsers[address] = e
	}
	return e
}

func (c *fakeConnector) reachable(node fab.Node) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down[node.Address] {
		return errors.Errorf("connection refused: %s", node.Address)
	}
	return nil
}

func (c *fakeConnector) Endorser(ctx context.Context, node fab.Node) (peer.EndorserClient, error) {
	if err := c.reachable(node); err != nil {
		return nil, err
	}
	return c.endorser(node.Address), nil
}

func (c *fakeConnector) Broadcast(ctx context.Context, node fab.Node) (orderer.AtomicBroadcast_BroadcastClient, error) {
	if err := c.reachable(node); err != nil {
		return nil, err
	}
	return &fakeBroadcastStream{c: c, address: node.Address}, nil
}

func (c *fakeConnector) Deliver(ctx context.Context, node fab.Node) (orderer.AtomicBroadcast_DeliverClient, error) {
	c.mu.Lock()
	c.deliverTo = append(c.deliverTo, node.Address)
	c.mu.Unlock()
	if err := c.reachable(node); err != nil {
		return nil, err
	}
	return &fakeDeliverStream{c: c}, nil
}

func (c *fakeConnector) DeliverFiltered(ctx context.Context, node fab.Node) (peer.Deliver_DeliverFilteredClient, error) {
	if err := c.reachable(node); err != nil {
		return nil, err
	}
	c.mu.Lock()
	responses := append([]*peer.DeliverResponse(nil), c.filtered[node.Address]...)
	c.mu.Unlock()
	return &fakeFilteredStream{ctx: ctx, responses: responses}, nil
}

func (c *fakeConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeBroadcastStream struct {
	grpc.ClientStream
	c       *fakeConnector
	address string
}

func (s *fakeBroadcastStream) Send(env *common.Envelope) error {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.envelopes = append(s.c.envelopes, env)
	s.c.broadcastTo = append(s.c.broadcastTo, s.address)
	return nil
}

func (s *fakeBroadcastStream) Recv() (*orderer.BroadcastResponse, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	return &orderer.BroadcastResponse{Status: s.c.broadcastStatus, Info: "fake"}, nil
}

func (s *fakeBroadcastStream) CloseSend() error { return nil }

// fakeDeliverStream answers one seek from the connector's blocks.
type fakeDeliverStream struct {
	grpc.ClientStream
	c    *fakeConnector
	seek *orderer.SeekInfo
}

func (s *fakeDeliverStream) Send(env *common.Envelope) error {
	payload := &common.Payload{}
	if err := proto.Unmarshal(env.Payload, payload); err != nil {
		return err
	}
	seek := &orderer.SeekInfo{}
	if err := proto.Unmarshal(payload.Data, seek); err != nil {
		return err
	}
	s.seek = seek

	s.c.mu.Lock()
	s.c.seeks = append(s.c.seeks, seek)
	s.c.mu.Unlock()
	return nil
}

func (s *fakeDeliverStream) Recv() (*orderer.DeliverResponse, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	status := func(st common.Status) *orderer.DeliverResponse {
		return &orderer.DeliverResponse{Type: &orderer.DeliverResponse_Status{Status: st}}
	}
	if s.c.deliverStatus != common.Status_UNKNOWN {
		return status(s.c.deliverStatus), nil
	}
	if len(s.c.blocks) == 0 {
		return status(common.Status_NOT_FOUND), nil
	}

	var number uint64
	switch start := s.seek.Start.Type.(type) {
	case *orderer.SeekPosition_Newest:
		number = uint64(len(s.c.blocks) - 1)
	case *orderer.SeekPosition_Specified:
		number = start.Specified.Number
	}
	if number >= uint64(len(s.c.blocks)) {
		return status(common.Status_NOT_FOUND), nil
	}
	return &orderer.DeliverResponse{Type: &orderer.DeliverResponse_Block{Block: s.c.blocks[number]}}, nil
}

func (s *fakeDeliverStream) CloseSend() error { return nil }

// fakeFilteredStream replays its responses and then blocks until the stream
// context ends.
type fakeFilteredStream struct {
	grpc.ClientStream
	ctx       context.Context
	responses []*peer.DeliverResponse
	sent      *common.Envelope
}

func (s *fakeFilteredStream) Send(env *common.Envelope) error {
	s.sent = env
	return nil
}

func (s *fakeFilteredStream) Recv() (*peer.DeliverResponse, error) {
	if len(s.responses) > 0 {
		r := s.responses[0]
		s.responses = s.responses[1:]
		return r, nil
	}
	<-s.ctx.Done()
	return nil, s.ctx.Err()
}

func (s *fakeFilteredStream) CloseSend() error { return nil }

func filteredBlock(number uint64, txs ...*peer.FilteredTransaction) *peer.DeliverResponse {
	return &peer.DeliverResponse{Type: &peer.DeliverResponse_FilteredBlock{
		FilteredBlock: &peer.FilteredBlock{ChannelId: "mychannel", Number: number, FilteredTransactions: txs},
	}}
}

func filteredTx(txID string, code peer.TxValidationCode) *peer.FilteredTransaction {
	return &peer.FilteredTransaction{Txid: txID, TxValidationCode: code}
}

// signaturesMetadata records lastConfig the way orderers since v2.0 do.
func signaturesMetadata(t *testing.T, lastConfig uint64) *common.BlockMetadata {
	obm, err := proto.Marshal(&common.OrdererBlockMetadata{LastConfig: &common.LastConfig{Index: lastConfig}})
	require.NoError(t, err)
	sig, err := proto.Marshal(&common.Metadata{Value: obm})
	require.NoError(t, err)
	return &common.BlockMetadata{Metadata: [][]byte{sig, {}, {}, {}}}
}

// legacyMetadata only fills the LAST_CONFIG slot.
func legacyMetadata(t *testing.T, lastConfig uint64) *common.BlockMetadata {
	sig, err := proto.Marshal(&common.Metadata{})
	require.NoError(t, err)
	lc, err := proto.Marshal(&common.LastConfig{Index: lastConfig})
	require.NoError(t, err)
	md, err := proto.Marshal(&common.Metadata{Value: lc})
	require.NoError(t, err)
	return &common.BlockMetadata{Metadata: [][]byte{sig, md, {}, {}}}
}

func envelopeBytes(t *testing.T, typ common.HeaderType, data []byte) []byte {
	chdr, err := proto.Marshal(&common.ChannelHeader{Type: int32(typ), ChannelId: "mychannel"})
	require.NoError(t, err)
	payload, err := proto.Marshal(&common.Payload{Header: &common.Header{ChannelHeader: chdr}, Data: data})
	require.NoError(t, err)
	env, err := proto.Marshal(&common.Envelope{Payload: payload})
	require.NoError(t, err)
	return env
}

func configBlock(t *testing.T, number uint64, configEnvelope []byte) *common.Block {
	return &common.Block{
		Header:   &common.BlockHeader{Number: number},
		Data:     &common.BlockData{Data: [][]byte{envelopeBytes(t, common.HeaderType_CONFIG, configEnvelope)}},
		Metadata: signaturesMetadata(t, number),
	}
}

func dataBlock(t *testing.T, number, lastConfig uint64) *common.Block {
	return &common.Block{
		Header:   &common.BlockHeader{Number: number},
		Data:     &common.BlockData{Data: [][]byte{envelopeBytes(t, common.HeaderType_ENDORSER_TRANSACTION, []byte("tx"))}},
		Metadata: signaturesMetadata(t, lastConfig),
	}
}

var (
	peer0    = fab.Node{Name: "peer0.org1.example.com", Address: "peer0.org1.example.com:7051"}
	peer1    = fab.Node{Name: "peer1.org1.example.com", Address: "peer1.org1.example.com:8051"}
	orderer0 = fab.Node{Name: "orderer0.example.com", Address: "orderer0.example.com:7050"}
	orderer1 = fab.Node{Name: "orderer1.example.com", Address: "orderer1.example.com:8050"}
)

func testNetwork() *Network {
	return &Network{
		Org:      "Org1",
		Peers:    map[string][]fab.Node{"Org1": {peer0, peer1}},
		Orderers: []fab.Node{orderer0, orderer1},
	}
}

func newTestGateway(t *testing.T, conn *fakeConnector) *Gateway {
	id, err := mocks.NewIdentity("Org1MSP", "Admin")
	require.NoError(t, err)
	logger, _ := test.NewNullLogger()
	g, err := NewGateway(testNetwork(), id, logger, withConnector(conn))
	require.NoError(t, err)
	return g
}
