package infra

import (
	"context"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/hyperledger/fabric-sdk-go/pkg/common/errors/multi"
	"github.com/hyperledger/fabric/protoutil"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Network is the part of a connection profile a Gateway needs: the peers of
// each organization and the ordering service endpoints.
type Network struct {
	Org      string
	Peers    map[string][]fab.Node
	Orderers []fab.Node
}

type GatewayOption func(*Gateway)

func WithDialTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.dialTimeout = d
	}
}

func withConnector(c connector) GatewayOption {
	return func(g *Gateway) {
		g.conn = c
	}
}

// Gateway is the gRPC NodeClient of one identity.
type Gateway struct {
	network     *Network
	identity    *fab.Identity
	crypto      *Crypto
	conn        connector
	dialTimeout time.Duration
	logger      *log.Logger
}

var _ fab.NodeClient = (*Gateway)(nil)

// NewGateway loads the signing material of identity. No connection is opened
// until the first call that needs one.
func NewGateway(network *Network, identity *fab.Identity, logger *log.Logger, opts ...GatewayOption) (*Gateway, error) {
	if network == nil {
		return nil, errors.New("network is required")
	}
	crypto, err := NewCrypto(identity)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		network:  network,
		identity: identity,
		crypto:   crypto,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.conn == nil {
		g.conn = newGRPCConnector(identity, g.dialTimeout, logger)
	}
	return g, nil
}

func (g *Gateway) PeersForOrg(org string) ([]fab.Node, error) {
	peers, ok := g.network.Peers[org]
	if !ok {
		return nil, fab.Preconditionf("organization %s is not part of the connection profile of %s", org, g.network.Org)
	}
	return append([]fab.Node(nil), peers...), nil
}

func (g *Gateway) NewTransactionID() (fab.TransactionID, error) {
	return g.crypto.NewTransactionID()
}

// SendProposal signs p and sends it to every target concurrently. Targets
// that cannot be reached are reported as failed responses.
func (g *Gateway) SendProposal(ctx context.Context, p *fab.Proposal) (*fab.NodeResponseSet, error) {
	if len(p.Targets) == 0 {
		return nil, fab.Preconditionf("no targets for proposal %s", p.TxID.ID)
	}

	prop, err := CreateProposal(p)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create %s proposal", p.Kind)
	}
	signed, err := protoutil.GetSignedProposal(prop, g.crypto)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to sign proposal")
	}

	responses := make([]*fab.NodeResponse, len(p.Targets))
	var (
		proposers []*Proposer
		slots     []int
	)
	for i, target := range p.Targets {
		proposer, err := NewProposer(ctx, g.conn, target, g.logger)
		if err != nil {
			responses[i] = &fab.NodeResponse{Node: target, Err: err}
			continue
		}
		proposers = append(proposers, proposer)
		slots = append(slots, i)
	}

	for i, r := range endorseAll(ctx, proposers, signed) {
		responses[slots[i]] = r
	}

	return &fab.NodeResponseSet{Proposal: p, Raw: prop, Responses: responses}, nil
}

// SubmitToOrderer turns an endorsed response set into a transaction and
// broadcasts it.
func (g *Gateway) SubmitToOrderer(ctx context.Context, set *fab.NodeResponseSet) (*fab.OrderingOutcome, error) {
	if set == nil || set.Raw == nil {
		return nil, errors.New("response set carries no proposal")
	}

	var endorsed []*peer.ProposalResponse
	for _, r := range set.Responses {
		if r != nil && r.Good() && r.Response != nil {
			endorsed = append(endorsed, r.Response)
		}
	}

	env, err := protoutil.CreateSignedTx(set.Raw, g.crypto, endorsed...)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create signed transaction")
	}
	return g.broadcast(ctx, env)
}

func (g *Gateway) EventSources(org string) ([]fab.EventSource, error) {
	peers, err := g.PeersForOrg(org)
	if err != nil {
		return nil, err
	}
	sources := make([]fab.EventSource, 0, len(peers))
	for _, p := range peers {
		sources = append(sources, NewObserver(p, g.conn, g.crypto, g.logger))
	}
	return sources, nil
}

func (g *Gateway) InstalledChaincodes(ctx context.Context, target fab.Node) ([]fab.ChaincodeInfo, error) {
	return g.queryChaincodes(ctx, "", "getinstalledchaincodes", target)
}

func (g *Gateway) InstantiatedChaincodes(ctx context.Context, channel string, target fab.Node) ([]fab.ChaincodeInfo, error) {
	return g.queryChaincodes(ctx, channel, "getchaincodes", target)
}

func (g *Gateway) queryChaincodes(ctx context.Context, channel, fn string, target fab.Node) ([]fab.ChaincodeInfo, error) {
	prop, err := createQueryProposal(channel, g.crypto.Creator)
	if err != nil {
		return nil, err
	}
	signed, err := protoutil.GetSignedProposal(prop, g.crypto)
	if err != nil {
		return nil, err
	}

	proposer, err := NewProposer(ctx, g.conn, target, g.logger)
	if err != nil {
		return nil, err
	}
	r := proposer.Endorse(ctx, signed)
	if r.Err != nil {
		return nil, r.Err
	}
	if !r.Good() {
		return nil, errors.Errorf("%s on %s failed: status %d, message %s", fn, target.Name, r.Status, r.Message)
	}

	resp := &peer.ChaincodeQueryResponse{}
	if err := proto.Unmarshal(r.Payload, resp); err != nil {
		return nil, &fab.DecodingError{Schema: "protos.ChaincodeQueryResponse", Err: err}
	}
	infos := make([]fab.ChaincodeInfo, 0, len(resp.Chaincodes))
	for _, cc := range resp.Chaincodes {
		infos = append(infos, fab.ChaincodeInfo{Name: cc.Name, Version: cc.Version, Path: cc.Path})
	}
	return infos, nil
}

// ChannelConfig returns the marshaled ConfigEnvelope of the channel's latest
// config block.
func (g *Gateway) ChannelConfig(ctx context.Context, channel string) ([]byte, error) {
	var config []byte
	err := g.eachOrderer(func(node fab.Node) error {
		block, err := NewBlockFetcher(g.conn, node, g.crypto, channel, g.logger).GetConfigBlock(ctx)
		if err != nil {
			return err
		}
		config, err = ExtractConfigEnvelope(block)
		return err
	})
	return config, err
}

// GenesisBlock returns block 0 of channel, marshaled.
func (g *Gateway) GenesisBlock(ctx context.Context, channel string) ([]byte, error) {
	var raw []byte
	err := g.eachOrderer(func(node fab.Node) error {
		block, err := NewBlockFetcher(g.conn, node, g.crypto, channel, g.logger).GetSpecifiedBlock(ctx, 0)
		if err != nil {
			return err
		}
		raw, err = proto.Marshal(block)
		return errors.Wrap(err, "error marshaling genesis block")
	})
	return raw, err
}

func (g *Gateway) SignConfigUpdate(update []byte) (*common.ConfigSignature, error) {
	return g.crypto.SignConfigUpdate(update)
}

func (g *Gateway) SubmitConfigUpdate(ctx context.Context, channel string, update []byte, signatures []*common.ConfigSignature) (*fab.OrderingOutcome, error) {
	env, err := protoutil.CreateSignedEnvelope(common.HeaderType_CONFIG_UPDATE, channel, g.crypto, &common.ConfigUpdateEnvelope{
		ConfigUpdate: update,
		Signatures:   signatures,
	}, 0, 0)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create config update envelope")
	}
	return g.broadcast(ctx, env)
}

func (g *Gateway) broadcast(ctx context.Context, env *common.Envelope) (*fab.OrderingOutcome, error) {
	var outcome *fab.OrderingOutcome
	err := g.eachOrderer(func(node fab.Node) error {
		b, err := NewBroadcaster(ctx, g.conn, node, g.logger)
		if err != nil {
			return err
		}
		outcome, err = b.Broadcast(env)
		return err
	})
	return outcome, err
}

// eachOrderer runs fn against the orderers in profile order until one
// succeeds. ErrChannelNotFound is final since every orderer shares the same
// channels.
func (g *Gateway) eachOrderer(fn func(node fab.Node) error) error {
	if len(g.network.Orderers) == 0 {
		return fab.Preconditionf("connection profile of %s lists no orderers", g.network.Org)
	}

	var errs error
	for _, node := range g.network.Orderers {
		err := fn(node)
		if err == nil {
			return nil
		}
		if errors.Is(err, fab.ErrChannelNotFound) {
			return err
		}
		g.logger.WithError(err).WithField("orderer", node.Address).Warn("Orderer call failed")
		errs = multi.Append(errs, err)
	}
	return errs
}

func (g *Gateway) Close() error {
	return g.conn.Close()
}
