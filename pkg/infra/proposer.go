package infra

import (
	"context"
	"sync"

	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Proposer sends signed proposals to one endorser.
type Proposer struct {
	node   fab.Node
	client peer.EndorserClient
	logger *log.Entry
}

func NewProposer(ctx context.Context, conn connector, node fab.Node, logger *log.Logger) (*Proposer, error) {
	client, err := conn.Endorser(ctx, node)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create endorser client for %s", node.Address)
	}
	return &Proposer{
		node:   node,
		client: client,
		logger: logger.WithField("peer", node.Name),
	}, nil
}

// Endorse never fails: transport errors are recorded on the response so that
// the quorum sees every target.
func (p *Proposer) Endorse(ctx context.Context, signed *peer.SignedProposal) *fab.NodeResponse {
	resp, err := p.client.ProcessProposal(ctx, signed)
	if err != nil {
		p.logger.WithError(err).Error("Error processing proposal")
		return &fab.NodeResponse{Node: p.node, Err: err}
	}
	if resp.Response == nil {
		return &fab.NodeResponse{Node: p.node, Response: resp, Err: errors.New("proposal response carries no response")}
	}

	r := &fab.NodeResponse{
		Node:     p.node,
		Status:   resp.Response.Status,
		Message:  resp.Response.Message,
		Payload:  resp.Response.Payload,
		Response: resp,
	}
	if !r.Good() {
		p.logger.Errorf("Error processing proposal: status: %d, message: %s", r.Status, r.Message)
	}
	return r
}

// endorseAll sends signed to every proposer at once and returns the responses
// in proposer order.
func endorseAll(ctx context.Context, proposers []*Proposer, signed *peer.SignedProposal) []*fab.NodeResponse {
	responses := make([]*fab.NodeResponse, len(proposers))

	var wg sync.WaitGroup
	for i, p := range proposers {
		wg.Add(1)
		go func(i int, p *Proposer) {
			defer wg.Done()
			responses[i] = p.Endorse(ctx, signed)
		}(i, p)
	}
	wg.Wait()

	return responses
}
