package infra

import (
	"math"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/hyperledger/fabric-protos-go/orderer"
	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/hyperledger/fabric/protoutil"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
)

const (
	lscc = "lscc"
	cscc = "cscc"
	escc = "escc"
	vscc = "vscc"

	defaultInitFunction = "init"
)

// CreateProposal builds the unsigned proposal for p. The header binds the
// transaction id, nonce and creator minted in p.TxID, so the lscc and cscc
// calls are wrapped here instead of through protoutil's CDS helpers, which
// mint their own.
func CreateProposal(p *fab.Proposal) (*peer.Proposal, error) {
	if p.TxID.ID == "" {
		return nil, errors.New("proposal has no transaction id")
	}

	var (
		cis     *peer.ChaincodeInvocationSpec
		channel = p.Channel
		typ     = common.HeaderType_ENDORSER_TRANSACTION
		err     error
	)

	switch p.Kind {
	case fab.KindInvoke:
		args := append([][]byte{[]byte(p.Function)}, p.Args...)
		cis = invocationSpec(p.ChaincodeID, args)

	case fab.KindInstall:
		cds := &peer.ChaincodeDeploymentSpec{
			ChaincodeSpec: &peer.ChaincodeSpec{
				Type:        peer.ChaincodeSpec_GOLANG,
				ChaincodeId: &peer.ChaincodeID{Name: p.ChaincodeID, Path: p.ChaincodePath, Version: p.Version},
			},
			CodePackage: p.CodePackage,
		}
		cis, err = lsccSpec("install", cds)
		channel = ""

	case fab.KindInstantiate:
		fn := p.Function
		if fn == "" {
			fn = defaultInitFunction
		}
		cds := &peer.ChaincodeDeploymentSpec{
			ChaincodeSpec: &peer.ChaincodeSpec{
				Type:        peer.ChaincodeSpec_GOLANG,
				ChaincodeId: &peer.ChaincodeID{Name: p.ChaincodeID, Version: p.Version},
				Input:       &peer.ChaincodeInput{Args: append([][]byte{[]byte(fn)}, p.Args...)},
			},
		}
		extra := [][]byte{p.EndorsementPolicy, []byte(escc), []byte(vscc)}
		if p.CollectionConfig != nil {
			extra = append(extra, p.CollectionConfig)
		}
		cis, err = lsccSpec("deploy", cds, append([][]byte{[]byte(p.Channel)}, extra...)...)

	case fab.KindJoinChain:
		if len(p.Block) == 0 {
			return nil, errors.New("join proposal has no genesis block")
		}
		channel = ""
		typ = common.HeaderType_CONFIG
		cis = invocationSpec(cscc, [][]byte{[]byte("JoinChain"), p.Block})

	default:
		return nil, errors.Errorf("unsupported proposal kind %s", p.Kind)
	}
	if err != nil {
		return nil, err
	}

	prop, _, err := protoutil.CreateChaincodeProposalWithTxIDNonceAndTransient(
		p.TxID.ID, typ, channel, cis, p.TxID.Nonce, p.TxID.Creator, p.TransientMap)
	return prop, err
}

// lsccSpec lays out the arguments the way lscc reads them: the function, any
// leading args, the marshaled deployment spec, then the trailing args. Only
// deploy has leading args (the channel).
func lsccSpec(fn string, cds *peer.ChaincodeDeploymentSpec, args ...[]byte) (*peer.ChaincodeInvocationSpec, error) {
	cdsBytes, err := proto.Marshal(cds)
	if err != nil {
		return nil, errors.Wrap(err, "error marshaling ChaincodeDeploymentSpec")
	}

	input := [][]byte{[]byte(fn)}
	if len(args) > 0 {
		input = append(input, args[0], cdsBytes)
		input = append(input, args[1:]...)
	} else {
		input = append(input, cdsBytes)
	}
	return invocationSpec(lscc, input), nil
}

func invocationSpec(name string, args [][]byte) *peer.ChaincodeInvocationSpec {
	return &peer.ChaincodeInvocationSpec{
		ChaincodeSpec: &peer.ChaincodeSpec{
			Type:        peer.ChaincodeSpec_GOLANG,
			ChaincodeId: &peer.ChaincodeID{Name: name},
			Input:       &peer.ChaincodeInput{Args: args},
		},
	}
}

// createQueryProposal builds an lscc chaincode listing. An empty channel asks
// for the chaincodes installed on the peer.
func createQueryProposal(channel string, creator []byte) (*peer.Proposal, error) {
	if channel == "" {
		prop, _, err := protoutil.CreateGetInstalledChaincodesProposal(creator)
		return prop, err
	}
	prop, _, err := protoutil.CreateGetChaincodesProposal(channel, creator)
	return prop, err
}

// CreateSignedDeliverEnv asks for the blocks between start and stop.
func CreateSignedDeliverEnv(channel string, signer protoutil.Signer, start, stop *orderer.SeekPosition) (*common.Envelope, error) {
	seekInfo := &orderer.SeekInfo{
		Start:    start,
		Stop:     stop,
		Behavior: orderer.SeekInfo_BLOCK_UNTIL_READY,
	}
	return protoutil.CreateSignedEnvelope(common.HeaderType_DELIVER_SEEK_INFO, channel, signer, seekInfo, 0, 0)
}

func seekNewest() *orderer.SeekPosition {
	return &orderer.SeekPosition{Type: &orderer.SeekPosition_Newest{Newest: &orderer.SeekNewest{}}}
}

func seekSpecified(number uint64) *orderer.SeekPosition {
	return &orderer.SeekPosition{Type: &orderer.SeekPosition_Specified{Specified: &orderer.SeekSpecified{Number: number}}}
}

func seekMax() *orderer.SeekPosition {
	return seekSpecified(math.MaxUint64)
}
