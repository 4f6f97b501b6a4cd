package infra

import (
	"context"

	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/hyperledger/fabric-protos-go/orderer"
	"github.com/hyperledger/fabric/protoutil"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// BlockFetcher reads single blocks of a channel from one orderer.
type BlockFetcher struct {
	conn    connector
	node    fab.Node
	signer  *Crypto
	channel string
	logger  *log.Entry
}

func NewBlockFetcher(conn connector, node fab.Node, signer *Crypto, channel string, logger *log.Logger) *BlockFetcher {
	return &BlockFetcher{
		conn:    conn,
		node:    node,
		signer:  signer,
		channel: channel,
		logger:  logger.WithFields(log.Fields{"orderer": node.Address, "channel": channel}),
	}
}

func (f *BlockFetcher) GetNewestBlock(ctx context.Context) (*common.Block, error) {
	block, err := f.readBlock(ctx, seekNewest())
	return block, errors.WithMessage(err, "error getting newest block")
}

func (f *BlockFetcher) GetSpecifiedBlock(ctx context.Context, num uint64) (*common.Block, error) {
	block, err := f.readBlock(ctx, seekSpecified(num))
	return block, errors.WithMessagef(err, "error getting block %d", num)
}

// GetConfigBlock returns the block holding the latest config transaction.
func (f *BlockFetcher) GetConfigBlock(ctx context.Context) (*common.Block, error) {
	newest, err := f.GetNewestBlock(ctx)
	if err != nil {
		return nil, err
	}
	index, err := protoutil.GetLastConfigIndexFromBlock(newest)
	if err != nil {
		return nil, err
	}
	if index == newest.GetHeader().GetNumber() {
		return newest, nil
	}
	return f.GetSpecifiedBlock(ctx, index)
}

func (f *BlockFetcher) readBlock(ctx context.Context, position *orderer.SeekPosition) (*common.Block, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client, err := f.conn.Deliver(ctx, f.node)
	if err != nil {
		return nil, err
	}
	defer client.CloseSend()

	env, err := CreateSignedDeliverEnv(f.channel, f.signer, position, position)
	if err != nil {
		return nil, err
	}
	if err = client.Send(env); err != nil {
		return nil, errors.Wrap(err, "error sending seek request")
	}

	msg, err := client.Recv()
	if err != nil {
		return nil, errors.Wrap(err, "error receiving")
	}
	switch t := msg.Type.(type) {
	case *orderer.DeliverResponse_Status:
		f.logger.Debugf("Got status: %s", t.Status)
		if t.Status == common.Status_NOT_FOUND {
			return nil, errors.Wrapf(fab.ErrChannelNotFound, "channel %s", f.channel)
		}
		return nil, errors.Errorf("can't read the block: %s", t.Status)
	case *orderer.DeliverResponse_Block:
		f.logger.Debugf("Received block: %d", t.Block.GetHeader().GetNumber())
		return t.Block, nil
	default:
		return nil, errors.Errorf("response error: unknown type %T", t)
	}
}

// ExtractConfigEnvelope returns the marshaled ConfigEnvelope carried by a
// config block.
func ExtractConfigEnvelope(block *common.Block) ([]byte, error) {
	if len(block.GetData().GetData()) != 1 {
		return nil, errors.New("config block must contain exactly one transaction")
	}

	env, err := protoutil.ExtractEnvelope(block, 0)
	if err != nil {
		return nil, err
	}
	payload, err := protoutil.UnmarshalPayload(env.Payload)
	if err != nil {
		return nil, err
	}
	chdr, err := protoutil.UnmarshalChannelHeader(payload.GetHeader().GetChannelHeader())
	if err != nil {
		return nil, err
	}
	if chdr.Type != int32(common.HeaderType_CONFIG) {
		return nil, errors.Errorf("block carries a %s transaction, not a config", common.HeaderType(chdr.Type))
	}
	return payload.Data, nil
}
