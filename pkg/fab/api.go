// Package fab holds the data model shared by the transaction pipeline and the
// channel config updater, and the narrow client interfaces both consume.
package fab

import (
	"context"

	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/hyperledger/fabric-protos-go/peer"
)

// StatusOK is the only endorsement status treated as a good response.
const StatusOK = 200

// Node is a peer or orderer endpoint.
type Node struct {
	Name               string
	Address            string
	TLSCACert          []byte
	ServerHostOverride string
}

// Identity is a loaded user of an organization. It is never mutated after load.
type Identity struct {
	MSPID   string
	Name    string
	Cert    []byte
	Key     []byte
	TLSCert []byte
	TLSKey  []byte
}

// TransactionID is minted once per attempt and never reused.
type TransactionID struct {
	ID      string
	Nonce   []byte
	Creator []byte
}

// ProposalKind selects the system or user chaincode call a Proposal turns into.
type ProposalKind int

const (
	KindInvoke ProposalKind = iota
	KindInstall
	KindInstantiate
	KindJoinChain
)

func (k ProposalKind) String() string {
	switch k {
	case KindInvoke:
		return "invoke"
	case KindInstall:
		return "install"
	case KindInstantiate:
		return "instantiate"
	case KindJoinChain:
		return "joinchain"
	}
	return "unknown"
}

// Proposal is everything needed to build one signed proposal.
type Proposal struct {
	Kind         ProposalKind
	TxID         TransactionID
	Channel      string
	ChaincodeID  string
	Version      string
	Function     string
	Args         [][]byte
	TransientMap map[string][]byte
	Targets      []Node

	// install
	ChaincodePath string
	CodePackage   []byte

	// instantiate
	EndorsementPolicy []byte
	CollectionConfig  []byte

	// join
	Block []byte
}

// NodeResponse is one target's answer to a proposal.
type NodeResponse struct {
	Node     Node
	Status   int32
	Message  string
	Payload  []byte
	Response *peer.ProposalResponse
	Err      error
}

// Good reports whether the response counts towards the all-respond quorum.
func (r *NodeResponse) Good() bool {
	return r.Err == nil && r.Status == StatusOK
}

// NodeResponseSet echoes the proposal next to the collected responses, in
// target order.
type NodeResponseSet struct {
	Proposal  *Proposal
	Raw       *peer.Proposal
	Responses []*NodeResponse
}

// OrderingOutcome is the ordering service's answer to one submission.
type OrderingOutcome struct {
	Status common.Status
	Info   string
}

// Succeeded reports whether the ordering service accepted the submission.
func (o *OrderingOutcome) Succeeded() bool {
	return o != nil && o.Status == common.Status_SUCCESS
}

// CommitNotification is what a peer reports for a committed transaction.
type CommitNotification struct {
	PeerAddress    string
	TxID           string
	ValidationCode peer.TxValidationCode
	BlockNumber    uint64
}

// Valid reports whether the peer marked the transaction valid.
func (n *CommitNotification) Valid() bool {
	return n.ValidationCode == peer.TxValidationCode_VALID
}

// ChaincodeInfo identifies an installed or instantiated chaincode.
type ChaincodeInfo struct {
	Name    string
	Version string
	Path    string
}

// CommitListener is a one-shot subscription for a single transaction id.
type CommitListener interface {
	// Wait blocks until the peer commits the transaction or ctx is done.
	Wait(ctx context.Context) (*CommitNotification, error)
	// Close unregisters the listener and disconnects from the peer.
	Close() error
}

// EventSource is a peer-local commit event stream.
type EventSource interface {
	Address() string
	RegisterCommitListener(ctx context.Context, channel, txID string) (CommitListener, error)
}

// TransactionClient is the part of a node client the transaction pipeline uses.
type TransactionClient interface {
	PeersForOrg(org string) ([]Node, error)
	NewTransactionID() (TransactionID, error)
	SendProposal(ctx context.Context, proposal *Proposal) (*NodeResponseSet, error)
	SubmitToOrderer(ctx context.Context, set *NodeResponseSet) (*OrderingOutcome, error)
	EventSources(org string) ([]EventSource, error)
	InstalledChaincodes(ctx context.Context, target Node) ([]ChaincodeInfo, error)
	InstantiatedChaincodes(ctx context.Context, channel string, target Node) ([]ChaincodeInfo, error)
}

// ConfigClient is the part of a node client the channel config updater uses.
type ConfigClient interface {
	PeersForOrg(org string) ([]Node, error)
	NewTransactionID() (TransactionID, error)
	SendProposal(ctx context.Context, proposal *Proposal) (*NodeResponseSet, error)
	ChannelConfig(ctx context.Context, channel string) ([]byte, error)
	GenesisBlock(ctx context.Context, channel string) ([]byte, error)
	SignConfigUpdate(update []byte) (*common.ConfigSignature, error)
	SubmitConfigUpdate(ctx context.Context, channel string, update []byte, signatures []*common.ConfigSignature) (*OrderingOutcome, error)
}

// NodeClient is one identity's connection to its organization's peers and the
// ordering service.
type NodeClient interface {
	TransactionClient
	ConfigClient
	Close() error
}

// IdentityProvider resolves an organization and user to loaded credentials.
type IdentityProvider interface {
	Identity(org, user string) (*Identity, error)
}
