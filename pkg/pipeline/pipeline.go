// Package pipeline drives chaincode transactions through
// propose, endorse, order and commit.
package pipeline

import (
	"context"
	"time"

	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/osdi23p228/azhlf/pkg/quorum"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultCommitTimeout bounds how long an invoke waits for peer commits.
const DefaultCommitTimeout = 10 * time.Second

// State is a step of a single pipeline run.
type State int

const (
	StateBuilt State = iota
	StateEndorsing
	StateEndorsed
	StateOrderingAndListening
	StateCommitted
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "Built"
	case StateEndorsing:
		return "Endorsing"
	case StateEndorsed:
		return "Endorsed"
	case StateOrderingAndListening:
		return "OrderingAndListening"
	case StateCommitted:
		return "Committed"
	case StateFailed:
		return "Failed"
	case StateTimedOut:
		return "TimedOut"
	}
	return "Unknown"
}

// Result describes how a run ended.
type Result struct {
	TxID      string
	State     State
	Skipped   bool
	Responses []*fab.NodeResponse
	Outcome   *fab.OrderingOutcome
	Commits   []*fab.CommitNotification
	Latency   time.Duration
}

// Request is an invoke or query of a user chaincode.
type Request struct {
	Org            string
	Channel        string
	ChaincodeID    string
	Function       string
	Args           [][]byte
	TransientMap   map[string][]byte
	EndorsingPeers []string
}

// InstallRequest installs a code package on every peer of the organization.
type InstallRequest struct {
	Org         string
	Name        string
	Version     string
	Path        string
	CodePackage []byte
}

// InstantiateRequest instantiates an installed chaincode on a channel.
type InstantiateRequest struct {
	Org               string
	Channel           string
	Name              string
	Version           string
	Function          string
	Args              [][]byte
	TransientMap      map[string][]byte
	EndorsementPolicy []byte
	CollectionConfig  []byte
}

// QueryResult is one peer's answer to a query.
type QueryResult struct {
	Peer    string
	Payload []byte
}

type Option func(*Pipeline)

func WithCommitTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.commitTimeout = d
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// Pipeline runs transactions for the identity its client was opened with.
type Pipeline struct {
	client        fab.TransactionClient
	logger        *log.Logger
	metrics       *Metrics
	commitTimeout time.Duration
}

func New(client fab.TransactionClient, logger *log.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		client:        client,
		logger:        logger,
		commitTimeout: DefaultCommitTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics()
	}
	return p
}

// Metrics returns the collector the pipeline reports into.
func (p *Pipeline) Metrics() *Metrics {
	return p.metrics
}

// run tracks the state of one pipeline execution.
type run struct {
	operation string
	state     State
	result    *Result
	logger    *log.Entry
	tk        *TimeKeeper
	metrics   *Metrics
}

func (p *Pipeline) newRun(operation string, fields log.Fields) *run {
	logger := p.logger.WithFields(fields).WithField("operation", operation)
	return &run{
		operation: operation,
		result:    &Result{},
		logger:    logger,
		tk:        newTimeKeeper(operation, logger, p.metrics),
		metrics:   p.metrics,
	}
}

func (r *run) transition(s State) {
	r.logger.WithFields(log.Fields{"from": r.state, "to": s}).Debug("State transition")
	r.state = s
	r.result.State = s
}

// finish records the terminal state and returns the result with err.
func (r *run) finish(s State, err error) (*Result, error) {
	r.transition(s)
	r.result.Latency = r.tk.Latency()
	r.metrics.observeOutcome(r.operation, s)
	if err != nil {
		r.logger.WithError(err).WithField("state", s).Error("Transaction did not complete")
	} else {
		r.logger.WithField("latency", r.result.Latency).Info("Transaction completed")
	}
	return r.result, err
}

func (r *run) setTxID(id string) {
	r.result.TxID = id
	r.logger = r.logger.WithField("txid", id)
	r.tk.logger = r.logger
}

// endorse mints a fresh transaction id, sends the proposal and applies the
// all-respond quorum. A transaction id is never reused, not even on retry.
func (p *Pipeline) endorse(ctx context.Context, r *run, proposal *fab.Proposal) (*fab.NodeResponseSet, error) {
	txID, err := p.client.NewTransactionID()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create transaction id")
	}
	proposal.TxID = txID
	r.setTxID(txID.ID)
	r.transition(StateBuilt)

	r.transition(StateEndorsing)
	r.tk.keepProposedTime()
	set, err := p.client.SendProposal(ctx, proposal)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to send proposal %s", txID.ID)
	}
	r.result.Responses = set.Responses

	verdict, err := quorum.Check(set)
	for _, good := range verdict.Good {
		r.logger.WithField("peer", good.Node.Name).Debug("Endorsed")
	}
	if err != nil {
		return nil, err
	}

	r.tk.keepEndorsedTime()
	r.transition(StateEndorsed)
	return set, nil
}

// Invoke endorses on the organization's peers (or the named subset), then
// orders the transaction while listening for its commit on every peer.
func (p *Pipeline) Invoke(ctx context.Context, req *Request) (*Result, error) {
	r := p.newRun("invoke", log.Fields{"channel": req.Channel, "chaincode": req.ChaincodeID, "function": req.Function})

	targets, err := resolveTargets(p.client, req.Org, req.EndorsingPeers)
	if err != nil {
		return r.finish(StateFailed, err)
	}

	set, err := p.endorse(ctx, r, &fab.Proposal{
		Kind:         fab.KindInvoke,
		Channel:      req.Channel,
		ChaincodeID:  req.ChaincodeID,
		Function:     req.Function,
		Args:         req.Args,
		TransientMap: req.TransientMap,
		Targets:      targets,
	})
	if err != nil {
		return r.finish(StateFailed, err)
	}

	sources, err := p.client.EventSources(req.Org)
	if err != nil {
		return r.finish(StateFailed, errors.WithMessage(err, "failed to get event sources"))
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.commitTimeout)
	defer cancel()

	lg, err := registerListeners(waitCtx, sources, req.Channel, r.result.TxID, r.logger)
	if err != nil {
		return r.finish(StateFailed, err)
	}

	r.transition(StateOrderingAndListening)
	outcome, commits, err := orderAndListen(waitCtx, p.client, set, lg, r.tk)
	r.result.Outcome = outcome
	for _, c := range commits {
		if c.notification != nil {
			r.result.Commits = append(r.result.Commits, c.notification)
		}
	}
	if err != nil {
		if onlyTimeouts(commits) && outcome.Succeeded() {
			return r.finish(StateTimedOut, err)
		}
		return r.finish(StateFailed, err)
	}
	return r.finish(StateCommitted, nil)
}

// Query endorses on the target peers and returns every peer's payload without
// ordering anything.
func (p *Pipeline) Query(ctx context.Context, req *Request) ([]QueryResult, error) {
	r := p.newRun("query", log.Fields{"channel": req.Channel, "chaincode": req.ChaincodeID, "function": req.Function})

	targets, err := resolveTargets(p.client, req.Org, req.EndorsingPeers)
	if err != nil {
		_, err = r.finish(StateFailed, err)
		return nil, err
	}

	set, err := p.endorse(ctx, r, &fab.Proposal{
		Kind:         fab.KindInvoke,
		Channel:      req.Channel,
		ChaincodeID:  req.ChaincodeID,
		Function:     req.Function,
		Args:         req.Args,
		TransientMap: req.TransientMap,
		Targets:      targets,
	})
	if err != nil {
		_, err = r.finish(StateFailed, err)
		return nil, err
	}

	results := make([]QueryResult, 0, len(set.Responses))
	for _, resp := range set.Responses {
		results = append(results, QueryResult{Peer: resp.Node.Name, Payload: resp.Payload})
	}
	r.finish(StateEndorsed, nil)
	return results, nil
}

// Install puts the code package on every peer of the organization. It is a
// no-op when the first peer already has the same name and version.
func (p *Pipeline) Install(ctx context.Context, req *InstallRequest) (*Result, error) {
	r := p.newRun("install", log.Fields{"chaincode": req.Name, "version": req.Version})

	peers, err := orgPeers(p.client, req.Org)
	if err != nil {
		return r.finish(StateFailed, err)
	}

	installed, err := p.client.InstalledChaincodes(ctx, peers[0])
	if err != nil {
		return r.finish(StateFailed, errors.WithMessagef(err, "failed to query installed chaincodes on %s", peers[0].Name))
	}
	if contains(installed, req.Name, req.Version) {
		r.logger.WithField("peer", peers[0].Name).Info("Chaincode already installed")
		r.result.Skipped = true
		return r.finish(StateCommitted, nil)
	}

	_, err = p.endorse(ctx, r, &fab.Proposal{
		Kind:          fab.KindInstall,
		ChaincodeID:   req.Name,
		Version:       req.Version,
		ChaincodePath: req.Path,
		CodePackage:   req.CodePackage,
		Targets:       peers,
	})
	if err != nil {
		return r.finish(StateFailed, err)
	}
	return r.finish(StateCommitted, nil)
}

// Instantiate deploys an installed chaincode on a channel and orders the
// deployment without waiting for peer commits.
func (p *Pipeline) Instantiate(ctx context.Context, req *InstantiateRequest) (*Result, error) {
	r := p.newRun("instantiate", log.Fields{"channel": req.Channel, "chaincode": req.Name, "version": req.Version})

	peers, err := orgPeers(p.client, req.Org)
	if err != nil {
		return r.finish(StateFailed, err)
	}

	installed, err := p.client.InstalledChaincodes(ctx, peers[0])
	if err != nil {
		return r.finish(StateFailed, errors.WithMessagef(err, "failed to query installed chaincodes on %s", peers[0].Name))
	}
	if !contains(installed, req.Name, req.Version) {
		return r.finish(StateFailed, fab.Preconditionf("chaincode %s:%s is not installed on %s", req.Name, req.Version, peers[0].Name))
	}

	instantiated, err := p.client.InstantiatedChaincodes(ctx, req.Channel, peers[0])
	if err != nil {
		return r.finish(StateFailed, errors.WithMessagef(err, "failed to query instantiated chaincodes on %s", req.Channel))
	}
	if contains(instantiated, req.Name, req.Version) {
		r.logger.Info("Chaincode already instantiated")
		r.result.Skipped = true
		return r.finish(StateCommitted, nil)
	}

	set, err := p.endorse(ctx, r, &fab.Proposal{
		Kind:              fab.KindInstantiate,
		Channel:           req.Channel,
		ChaincodeID:       req.Name,
		Version:           req.Version,
		Function:          req.Function,
		Args:              req.Args,
		TransientMap:      req.TransientMap,
		EndorsementPolicy: req.EndorsementPolicy,
		CollectionConfig:  req.CollectionConfig,
		Targets:           peers,
	})
	if err != nil {
		return r.finish(StateFailed, err)
	}

	outcome, err := p.client.SubmitToOrderer(ctx, set)
	r.tk.keepBroadcastTime()
	if err != nil {
		return r.finish(StateFailed, errors.WithMessagef(err, "failed to submit %s to the ordering service", r.result.TxID))
	}
	r.result.Outcome = outcome
	if !outcome.Succeeded() {
		return r.finish(StateFailed, &fab.OrderingError{TxID: r.result.TxID, Status: outcome.Status, Info: outcome.Info})
	}
	return r.finish(StateCommitted, nil)
}

func onlyTimeouts(results []commitResult) bool {
	seen := false
	for _, r := range results {
		if r.err == nil {
			continue
		}
		if _, ok := r.err.(*fab.CommitTimeoutError); !ok {
			return false
		}
		seen = true
	}
	return seen
}

func contains(list []fab.ChaincodeInfo, name, version string) bool {
	for _, cc := range list {
		if cc.Name == name && cc.Version == version {
			return true
		}
	}
	return false
}
