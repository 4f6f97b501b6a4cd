package infra

import (
	"context"
	"sync"

	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Observer is the filtered block stream of one peer.
type Observer struct {
	node   fab.Node
	conn   connector
	signer *Crypto
	logger *log.Logger
}

func NewObserver(node fab.Node, conn connector, signer *Crypto, logger *log.Logger) *Observer {
	return &Observer{node: node, conn: conn, signer: signer, logger: logger}
}

func (o *Observer) Address() string {
	return o.node.Address
}

// RegisterCommitListener opens a stream positioned after the newest block so
// that only blocks cut from now on are observed.
func (o *Observer) RegisterCommitListener(ctx context.Context, channel, txID string) (fab.CommitListener, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	deliverer, err := o.conn.DeliverFiltered(streamCtx, o.node)
	if err != nil {
		cancel()
		return nil, errors.WithMessagef(err, "failed to create DeliverFilteredClient for %s", o.node.Address)
	}

	envelope, err := CreateSignedDeliverEnv(channel, o.signer, seekNewest(), seekMax())
	if err != nil {
		cancel()
		return nil, errors.WithMessage(err, "failed to create SignedEnvelope")
	}

	if err = deliverer.Send(envelope); err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to send SignedEnvelope")
	}

	// drain the first response
	first, err := deliverer.Recv()
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to receive the first response")
	}
	if status, ok := first.Type.(*peer.DeliverResponse_Status); ok {
		cancel()
		return nil, errors.Errorf("peer %s refused to deliver %s: %s", o.node.Address, channel, status.Status)
	}

	return &commitListener{
		client:  deliverer,
		cancel:  cancel,
		address: o.node.Address,
		txID:    txID,
		logger:  o.logger.WithFields(log.Fields{"peer": o.node.Address, "txid": txID}),
	}, nil
}

type commitListener struct {
	client  peer.Deliver_DeliverFilteredClient
	cancel  context.CancelFunc
	address string
	txID    string
	logger  *log.Entry

	once sync.Once
}

type observed struct {
	notification *fab.CommitNotification
	err          error
}

func (l *commitListener) Wait(ctx context.Context) (*fab.CommitNotification, error) {
	resultCh := make(chan observed, 1)
	go func() {
		n, err := l.receiveFilteredBlocks()
		resultCh <- observed{notification: n, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.notification, r.err
	case <-ctx.Done():
		l.Close()
		return nil, ctx.Err()
	}
}

func (l *commitListener) receiveFilteredBlocks() (*fab.CommitNotification, error) {
	for {
		deliverResponse, err := l.client.Recv()
		if err != nil {
			return nil, errors.Wrap(err, "failed to receive deliver response")
		}

		switch t := deliverResponse.Type.(type) {
		case *peer.DeliverResponse_FilteredBlock:
			for _, tx := range t.FilteredBlock.FilteredTransactions {
				if tx.GetTxid() != l.txID {
					continue
				}
				return &fab.CommitNotification{
					PeerAddress:    l.address,
					TxID:           l.txID,
					ValidationCode: tx.TxValidationCode,
					BlockNumber:    t.FilteredBlock.Number,
				}, nil
			}
		case *peer.DeliverResponse_Status:
			if t.Status != common.Status_SUCCESS {
				return nil, errors.Errorf("deliver stream ended with status %s", t.Status)
			}
			return nil, errors.New("deliver stream ended before the transaction committed")
		default:
			l.logger.Debug("Unknown DeliverResponse type")
		}
	}
}

func (l *commitListener) Close() error {
	l.once.Do(func() {
		l.client.CloseSend()
		l.cancel()
	})
	return nil
}
