// Package mocks provides in-memory fakes of the node client used in tests.
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
)

// MockPeer answers proposals with a fixed status and payload.
type MockPeer struct {
	Node         fab.Node
	Status       int32
	Message      string
	Payload      []byte
	Error        error
	Installed    []fab.ChaincodeInfo
	Instantiated []fab.ChaincodeInfo
}

// NewMockPeer creates a peer that endorses everything with status 200.
func NewMockPeer(name string) *MockPeer {
	return &MockPeer{
		Node:   fab.Node{Name: name, Address: name + ":7051"},
		Status: fab.StatusOK,
	}
}

// MockClient is a fab.NodeClient that records every call it receives.
type MockClient struct {
	mu sync.Mutex

	Peers   []*MockPeer
	Sources []*MockEventSource

	OrderingStatus common.Status
	OrderingInfo   string
	OrderingDelay  time.Duration
	OrderingError  error

	ConfigByChannel    map[string][]byte
	Genesis            []byte
	ConfigUpdateStatus common.Status

	txSeq          int
	TxIDs          []string
	Proposals      []*fab.Proposal
	SubmitCalls    int
	SubmittedAt    time.Time
	ConfigFetches  int
	ConfigUpdates  [][]byte
	ConfigChannels []string
	Closed         bool
}

// NewMockClient creates a client whose ordering service accepts everything.
func NewMockClient(peers ...*MockPeer) *MockClient {
	c := &MockClient{
		Peers:              peers,
		OrderingStatus:     common.Status_SUCCESS,
		ConfigUpdateStatus: common.Status_SUCCESS,
		ConfigByChannel:    map[string][]byte{},
	}
	for _, p := range peers {
		c.Sources = append(c.Sources, NewMockEventSource(p.Node.Address))
	}
	return c
}

func (c *MockClient) PeersForOrg(org string) ([]fab.Node, error) {
	nodes := make([]fab.Node, 0, len(c.Peers))
	for _, p := range c.Peers {
		nodes = append(nodes, p.Node)
	}
	return nodes, nil
}

func (c *MockClient) NewTransactionID() (fab.TransactionID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txSeq++
	id := fmt.Sprintf("tx-%04d", c.txSeq)
	return fab.TransactionID{ID: id, Nonce: []byte(id), Creator: []byte("creator")}, nil
}

func (c *MockClient) SendProposal(ctx context.Context, proposal *fab.Proposal) (*fab.NodeResponseSet, error) {
	if len(proposal.Targets) == 0 {
		return nil, fab.Preconditionf("no targets for proposal %s", proposal.TxID.ID)
	}

	c.mu.Lock()
	c.TxIDs = append(c.TxIDs, proposal.TxID.ID)
	c.Proposals = append(c.Proposals, proposal)
	c.mu.Unlock()

	set := &fab.NodeResponseSet{Proposal: proposal}
	for _, target := range proposal.Targets {
		p := c.peer(target)
		if p == nil {
			set.Responses = append(set.Responses, &fab.NodeResponse{Node: target, Err: errors.Errorf("unknown peer %s", target.Name)})
			continue
		}
		set.Responses = append(set.Responses, &fab.NodeResponse{
			Node:    target,
			Status:  p.Status,
			Message: p.Message,
			Payload: p.Payload,
			Err:     p.Error,
		})
	}
	return set, nil
}

func (c *MockClient) SubmitToOrderer(ctx context.Context, set *fab.NodeResponseSet) (*fab.OrderingOutcome, error) {
	c.mu.Lock()
	c.SubmitCalls++
	c.mu.Unlock()

	if c.OrderingDelay > 0 {
		time.Sleep(c.OrderingDelay)
	}
	if c.OrderingError != nil {
		return nil, c.OrderingError
	}

	c.mu.Lock()
	c.SubmittedAt = time.Now()
	c.mu.Unlock()
	return &fab.OrderingOutcome{Status: c.OrderingStatus, Info: c.OrderingInfo}, nil
}

func (c *MockClient) EventSources(org string) ([]fab.EventSource, error) {
	sources := make([]fab.EventSource, 0, len(c.Sources))
	for _, s := range c.Sources {
		sources = append(sources, s)
	}
	return sources, nil
}

func (c *MockClient) InstalledChaincodes(ctx context.Context, target fab.Node) ([]fab.ChaincodeInfo, error) {
	p := c.peer(target)
	if p == nil {
		return nil, errors.Errorf("unknown peer %s", target.Name)
	}
	return p.Installed, nil
}

func (c *MockClient) InstantiatedChaincodes(ctx context.Context, channel string, target fab.Node) ([]fab.ChaincodeInfo, error) {
	p := c.peer(target)
	if p == nil {
		return nil, errors.Errorf("unknown peer %s", target.Name)
	}
	return p.Instantiated, nil
}

func (c *MockClient) ChannelConfig(ctx context.Context, channel string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConfigFetches++
	cfg, ok := c.ConfigByChannel[channel]
	if !ok {
		return nil, fab.ErrChannelNotFound
	}
	return cfg, nil
}

func (c *MockClient) GenesisBlock(ctx context.Context, channel string) ([]byte, error) {
	if c.Genesis == nil {
		return nil, fab.ErrChannelNotFound
	}
	return c.Genesis, nil
}

func (c *MockClient) SignConfigUpdate(update []byte) (*common.ConfigSignature, error) {
	return &common.ConfigSignature{SignatureHeader: []byte("header"), Signature: []byte("signature")}, nil
}

func (c *MockClient) SubmitConfigUpdate(ctx context.Context, channel string, update []byte, signatures []*common.ConfigSignature) (*fab.OrderingOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConfigUpdates = append(c.ConfigUpdates, update)
	c.ConfigChannels = append(c.ConfigChannels, channel)
	return &fab.OrderingOutcome{Status: c.ConfigUpdateStatus}, nil
}

func (c *MockClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

func (c *MockClient) peer(target fab.Node) *MockPeer {
	for _, p := range c.Peers {
		if p.Node.Name == target.Name && p.Node.Address == target.Address {
			return p
		}
	}
	return nil
}

// MockEventSource delivers one notification per registered listener.
type MockEventSource struct {
	MockAddress string
	Code        pb.TxValidationCode
	Delay       time.Duration
	Silent      bool
	Empty       bool // Wait settles with neither a notification nor an error
	Error       error

	mu         sync.Mutex
	Registered int
	Closed     int
	Settled    time.Time
}

// NewMockEventSource creates a source that reports VALID immediately.
func NewMockEventSource(address string) *MockEventSource {
	return &MockEventSource{MockAddress: address, Code: pb.TxValidationCode_VALID}
}

func (s *MockEventSource) Address() string {
	return s.MockAddress
}

func (s *MockEventSource) RegisterCommitListener(ctx context.Context, channel, txID string) (fab.CommitListener, error) {
	if s.Error != nil {
		return nil, s.Error
	}
	s.mu.Lock()
	s.Registered++
	s.mu.Unlock()
	return &mockListener{source: s, txID: txID}, nil
}

type mockListener struct {
	source *MockEventSource
	txID   string
}

func (l *mockListener) Wait(ctx context.Context) (*fab.CommitNotification, error) {
	s := l.source
	if s.Silent {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	select {
	case <-time.After(s.Delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	s.Settled = time.Now()
	s.mu.Unlock()
	if s.Empty {
		return nil, nil
	}
	return &fab.CommitNotification{
		PeerAddress:    s.MockAddress,
		TxID:           l.txID,
		ValidationCode: s.Code,
		BlockNumber:    1,
	}, nil
}

func (l *mockListener) Close() error {
	l.source.mu.Lock()
	defer l.source.mu.Unlock()
	l.source.Closed++
	return nil
}
