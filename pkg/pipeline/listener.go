package pipeline

import (
	"context"
	"sync"

	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/hyperledger/fabric-sdk-go/pkg/common/errors/multi"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// commitResult is what one listener settles with.
type commitResult struct {
	peer         string
	notification *fab.CommitNotification
	err          error
}

// listenerGroup holds the listeners of one transaction, one per event source.
type listenerGroup struct {
	channel   string
	txID      string
	peers     []string
	listeners []fab.CommitListener
	logger    *log.Entry
}

// registerListeners subscribes on every source before anything is ordered so
// that no commit can slip past. On error the listeners registered so far are
// closed.
func registerListeners(ctx context.Context, sources []fab.EventSource, channel, txID string, logger *log.Entry) (*listenerGroup, error) {
	lg := &listenerGroup{channel: channel, txID: txID, logger: logger}
	for _, source := range sources {
		l, err := source.RegisterCommitListener(ctx, channel, txID)
		if err != nil {
			lg.closeAll()
			return nil, errors.Wrapf(err, "failed to register commit listener on %s", source.Address())
		}
		lg.peers = append(lg.peers, source.Address())
		lg.listeners = append(lg.listeners, l)
	}
	return lg, nil
}

func (lg *listenerGroup) closeAll() {
	for _, l := range lg.listeners {
		l.Close()
	}
}

// orderAndListen submits the endorsed transaction and waits on every listener
// concurrently, returning once all of them have settled. An ordering failure
// cancels the listeners since the transaction can no longer commit.
func orderAndListen(ctx context.Context, client fab.TransactionClient, set *fab.NodeResponseSet, lg *listenerGroup, tk *TimeKeeper) (*fab.OrderingOutcome, []commitResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		outcome  *fab.OrderingOutcome
		orderErr error
		results  = make([]commitResult, len(lg.listeners))
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		outcome, orderErr = client.SubmitToOrderer(ctx, set)
		tk.keepBroadcastTime()
		if orderErr == nil && !outcome.Succeeded() {
			orderErr = &fab.OrderingError{TxID: lg.txID, Status: outcome.Status, Info: outcome.Info}
		}
		if orderErr != nil {
			lg.logger.WithError(orderErr).Warn("Ordering failed, cancelling commit listeners")
			cancel()
		}
	}()

	for i, l := range lg.listeners {
		wg.Add(1)
		go func(i int, l fab.CommitListener) {
			defer wg.Done()
			defer l.Close()
			results[i] = lg.wait(ctx, lg.peers[i], l)
		}(i, l)
	}

	wg.Wait()
	if len(lg.listeners) > 0 {
		tk.keepObservedTime()
	}

	if orderErr != nil {
		if _, ok := orderErr.(*fab.OrderingError); !ok {
			orderErr = errors.Wrapf(orderErr, "failed to submit %s to the ordering service", lg.txID)
		}
		return outcome, results, orderErr
	}

	var errs error
	for _, r := range results {
		if r.err != nil {
			errs = multi.Append(errs, r.err)
		}
	}
	return outcome, results, errs
}

func (lg *listenerGroup) wait(ctx context.Context, peer string, l fab.CommitListener) commitResult {
	logger := lg.logger.WithField("peer", peer)

	n, err := l.Wait(ctx)
	switch {
	case err != nil && ctx.Err() == context.DeadlineExceeded:
		logger.Warn("Timed out waiting for commit")
		return commitResult{peer: peer, err: &fab.CommitTimeoutError{Peer: peer, TxID: lg.txID}}
	case err != nil:
		logger.WithError(err).Warn("Commit listener failed")
		return commitResult{peer: peer, err: errors.Wrapf(err, "commit listener on %s failed", peer)}
	case n == nil:
		logger.Warn("Commit listener settled without a notification")
		return commitResult{peer: peer, err: &fab.CommitInvalidError{Peer: peer, TxID: lg.txID, Code: pb.TxValidationCode_INVALID_OTHER_REASON}}
	case !n.Valid():
		logger.WithField("code", n.ValidationCode).Warn("Transaction committed as invalid")
		return commitResult{peer: peer, notification: n, err: &fab.CommitInvalidError{Peer: peer, TxID: lg.txID, Code: n.ValidationCode}}
	}

	logger.WithField("block", n.BlockNumber).Info("Transaction committed")
	return commitResult{peer: peer, notification: n}
}
