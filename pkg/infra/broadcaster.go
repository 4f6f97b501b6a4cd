package infra

import (
	"context"
	"io"

	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/hyperledger/fabric-protos-go/orderer"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Broadcaster submits envelopes to one orderer.
type Broadcaster struct {
	client  orderer.AtomicBroadcast_BroadcastClient
	address string
	logger  *log.Entry
}

func NewBroadcaster(ctx context.Context, conn connector, node fab.Node, logger *log.Logger) (*Broadcaster, error) {
	client, err := conn.Broadcast(ctx, node)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create broadcast client for %s", node.Address)
	}
	return &Broadcaster{
		client:  client,
		address: node.Address,
		logger:  logger.WithField("orderer", node.Address),
	}, nil
}

// Broadcast sends env and waits for the orderer's answer. The stream is closed
// afterwards.
func (b *Broadcaster) Broadcast(env *common.Envelope) (*fab.OrderingOutcome, error) {
	defer b.client.CloseSend()

	if err := b.client.Send(env); err != nil {
		return nil, errors.Wrapf(err, "failed to send envelope to %s", b.address)
	}

	res, err := b.client.Recv()
	if err != nil {
		if err == io.EOF {
			return nil, errors.Errorf("orderer %s closed the stream without answering", b.address)
		}
		return nil, errors.Wrapf(err, "failed to receive broadcast response from %s", b.address)
	}

	if res.Status != common.Status_SUCCESS {
		b.logger.Errorf("Receive error status %s: %s", res.Status, res.Info)
	}
	return &fab.OrderingOutcome{Status: res.Status, Info: res.Info}, nil
}
