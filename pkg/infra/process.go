package infra

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/osdi23p228/azhlf/pkg/configtx"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/osdi23p228/azhlf/pkg/pipeline"
	"github.com/osdi23p228/azhlf/pkg/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const metricsJob = "azhlf"

// Caller names the identity a command runs as. OrdererOrg optionally names
// the organization whose connection profile supplies the orderers.
type Caller struct {
	Org        string
	User       string
	OrdererOrg string
}

// ChaincodeArgs are the chaincode command inputs as typed on the command line.
type ChaincodeArgs struct {
	Channel         string
	Name            string
	Version         string
	Path            string
	Function        string
	Args            []string
	Transient       string
	EndorsingPeers  []string
	CollectionsFile string
	PolicyFile      string
}

type clientFactory func(network *Network, identity *fab.Identity) (fab.NodeClient, error)

// Processor runs one command per call against the stores under its config.
type Processor struct {
	config      *Config
	store       *store.Store
	credentials fab.IdentityProvider
	metrics     *pipeline.Metrics
	logger      *log.Logger
	out         io.Writer
	newClient   clientFactory
}

func NewProcessor(config *Config, logger *log.Logger, out io.Writer) *Processor {
	s := store.New(config.StoresPath)
	p := &Processor{
		config:      config,
		store:       s,
		credentials: store.NewCredentialProvider(s, config.CredentialRefresh, logger),
		metrics:     pipeline.NewMetrics(),
		logger:      logger,
		out:         out,
	}
	p.newClient = func(network *Network, identity *fab.Identity) (fab.NodeClient, error) {
		return NewGateway(network, identity, logger, WithDialTimeout(config.DialTimeout))
	}
	return p
}

// connect opens a node client for caller over its organization's connection
// profile.
func (p *Processor) connect(caller Caller) (fab.NodeClient, error) {
	identity, err := p.credentials.Identity(caller.Org, caller.User)
	if err != nil {
		return nil, err
	}

	profile, err := p.store.GetProfile(caller.Org)
	if err != nil {
		return nil, err
	}
	peers, err := profile.PeersByOrg()
	if err != nil {
		return nil, err
	}
	if _, ok := peers[caller.Org]; !ok {
		if own, ok := peers[profile.Client.Organization]; ok {
			peers[caller.Org] = own
		}
	}

	ordererProfile := profile
	if caller.OrdererOrg != "" && caller.OrdererOrg != caller.Org {
		if ordererProfile, err = p.store.GetProfile(caller.OrdererOrg); err != nil {
			return nil, err
		}
	}
	orderers, err := ordererProfile.OrdererNodes()
	if err != nil {
		return nil, err
	}

	return p.newClient(&Network{Org: caller.Org, Peers: peers, Orderers: orderers}, identity)
}

func (p *Processor) codec() configtx.Codec {
	if p.config.ConfigtxlatorPath != "" {
		return configtx.NewTxlator(p.config.ConfigtxlatorPath, p.logger)
	}
	return configtx.NewProtoCodec()
}

func (p *Processor) updater(client fab.ConfigClient) *configtx.Updater {
	return configtx.NewUpdater(client, p.codec(), p.logger,
		configtx.WithSystemChannel(p.config.SystemChannel),
		configtx.WithConsortium(p.config.Consortium),
	)
}

func (p *Processor) pipeline(client fab.TransactionClient) *pipeline.Pipeline {
	return pipeline.New(client, p.logger,
		pipeline.WithCommitTimeout(p.config.CommitTimeout),
		pipeline.WithMetrics(p.metrics),
	)
}

func (p *Processor) pushMetrics() {
	if p.config.PushGateway == "" {
		return
	}
	if err := p.metrics.Push(p.config.PushGateway, metricsJob); err != nil {
		p.logger.WithError(err).Warn("Fail to push metrics")
	}
}

// withClient runs fn with a connected client and closes it on every path.
func (p *Processor) withClient(caller Caller, fn func(client fab.NodeClient) error) error {
	client, err := p.connect(caller)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			p.logger.WithError(err).Debug("Fail to close client")
		}
	}()
	return fn(client)
}

func toBytes(args []string) [][]byte {
	out := make([][]byte, 0, len(args))
	for _, a := range args {
		out = append(out, []byte(a))
	}
	return out
}

func readAbsolute(path, what string) ([]byte, error) {
	if !filepath.IsAbs(path) {
		return nil, fab.Preconditionf("please provide an absolute path to the %s file", what)
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fab.Preconditionf("could not find %s file %s", what, path)
	}
	return raw, errors.Wrapf(err, "fail to load %s", path)
}

func (p *Processor) InstallChaincode(ctx context.Context, caller Caller, cc ChaincodeArgs) error {
	ccPath, code, err := PackageChaincode(cc.Path)
	if err != nil {
		return err
	}

	return p.withClient(caller, func(client fab.NodeClient) error {
		defer p.pushMetrics()
		result, err := p.pipeline(client).Install(ctx, &pipeline.InstallRequest{
			Org:         caller.Org,
			Name:        cc.Name,
			Version:     cc.Version,
			Path:        ccPath,
			CodePackage: code,
		})
		if err != nil {
			return err
		}
		if result.Skipped {
			fmt.Fprintf(p.out, "Chaincode %s:%s is already installed\n", cc.Name, cc.Version)
			return nil
		}
		fmt.Fprintf(p.out, "Chaincode %s:%s installed\n", cc.Name, cc.Version)
		return nil
	})
}

func (p *Processor) InstantiateChaincode(ctx context.Context, caller Caller, cc ChaincodeArgs) error {
	req := &pipeline.InstantiateRequest{
		Org:      caller.Org,
		Channel:  cc.Channel,
		Name:     cc.Name,
		Version:  cc.Version,
		Function: cc.Function,
		Args:     toBytes(cc.Args),
	}

	var err error
	if req.TransientMap, err = ParseTransient(cc.Transient); err != nil {
		return err
	}
	if cc.PolicyFile != "" {
		raw, err := readAbsolute(cc.PolicyFile, "policy")
		if err != nil {
			return err
		}
		if req.EndorsementPolicy, err = ParsePolicy(raw); err != nil {
			return err
		}
	}
	if cc.CollectionsFile != "" {
		raw, err := readAbsolute(cc.CollectionsFile, "collections config")
		if err != nil {
			return err
		}
		if req.CollectionConfig, err = ParseCollectionConfig(raw); err != nil {
			return err
		}
	}

	return p.withClient(caller, func(client fab.NodeClient) error {
		defer p.pushMetrics()
		result, err := p.pipeline(client).Instantiate(ctx, req)
		if err != nil {
			return err
		}
		if result.Skipped {
			fmt.Fprintf(p.out, "Chaincode %s:%s is already instantiated on %s\n", cc.Name, cc.Version, cc.Channel)
			return nil
		}
		fmt.Fprintf(p.out, "Chaincode %s:%s instantiated on %s in transaction %s\n", cc.Name, cc.Version, cc.Channel, result.TxID)
		return nil
	})
}

func (p *Processor) InvokeChaincode(ctx context.Context, caller Caller, cc ChaincodeArgs) error {
	transient, err := ParseTransient(cc.Transient)
	if err != nil {
		return err
	}

	return p.withClient(caller, func(client fab.NodeClient) error {
		defer p.pushMetrics()
		result, err := p.pipeline(client).Invoke(ctx, &pipeline.Request{
			Org:          caller.Org,
			Channel:      cc.Channel,
			ChaincodeID:  cc.Name,
			Function:     cc.Function,
			Args:         toBytes(cc.Args),
			TransientMap: transient,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(p.out, "Transaction %s committed on %d peer(s) in %s\n", result.TxID, len(result.Commits), result.Latency)
		if len(result.Responses) > 0 && len(result.Responses[0].Payload) > 0 {
			fmt.Fprintf(p.out, "Result: %s\n", result.Responses[0].Payload)
		}
		return nil
	})
}

func (p *Processor) QueryChaincode(ctx context.Context, caller Caller, cc ChaincodeArgs) error {
	return p.withClient(caller, func(client fab.NodeClient) error {
		results, err := p.pipeline(client).Query(ctx, &pipeline.Request{
			Org:            caller.Org,
			Channel:        cc.Channel,
			ChaincodeID:    cc.Name,
			Function:       cc.Function,
			Args:           toBytes(cc.Args),
			EndorsingPeers: cc.EndorsingPeers,
		})
		if err != nil {
			return err
		}
		for _, r := range results {
			if len(r.Payload) == 0 {
				fmt.Fprintf(p.out, "Got empty query result from peer: %s\n", r.Peer)
				continue
			}
			fmt.Fprintf(p.out, "Query result from %s: %s\n", r.Peer, r.Payload)
		}
		return nil
	})
}

// CreateChannel creates an application channel whose only member is the
// caller's organization.
func (p *Processor) CreateChannel(ctx context.Context, caller Caller, channel string) error {
	return p.withClient(caller, func(client fab.NodeClient) error {
		result, err := p.updater(client).CreateChannel(ctx, channel, []string{caller.Org})
		if err != nil {
			return err
		}
		p.report(result, "Channel "+channel+" created", "Channel "+channel+" already exists")
		return nil
	})
}

// JoinChannel joins every peer of the caller's organization to channel.
func (p *Processor) JoinChannel(ctx context.Context, caller Caller, channel string) error {
	return p.withClient(caller, func(client fab.NodeClient) error {
		result, err := p.updater(client).JoinChannel(ctx, channel, caller.Org)
		if err != nil {
			return err
		}
		for _, r := range result.Responses {
			fmt.Fprintf(p.out, "Peer %s joined channel %s\n", r.Node.Name, channel)
		}
		return nil
	})
}

// JoinOrgToChannel adds peerOrg, whose MSP must be imported, to channel.
func (p *Processor) JoinOrgToChannel(ctx context.Context, caller Caller, channel, peerOrg string) error {
	msp, err := p.store.GetMSP(peerOrg)
	if err != nil {
		return err
	}
	return p.withClient(caller, func(client fab.NodeClient) error {
		result, err := p.updater(client).AddOrgToChannel(ctx, channel, msp.OrgDefinition())
		if err != nil {
			return err
		}
		p.report(result, fmt.Sprintf("Organization %s added to channel %s", peerOrg, channel), fmt.Sprintf("Organization %s is already a member of channel %s", peerOrg, channel))
		return nil
	})
}

// JoinConsortium adds peerOrg, whose MSP must be imported, to the consortium.
func (p *Processor) JoinConsortium(ctx context.Context, caller Caller, peerOrg string) error {
	msp, err := p.store.GetMSP(peerOrg)
	if err != nil {
		return err
	}
	return p.withClient(caller, func(client fab.NodeClient) error {
		result, err := p.updater(client).AddOrgToConsortium(ctx, "", msp.OrgDefinition())
		if err != nil {
			return err
		}
		p.report(result, fmt.Sprintf("Organization %s added to consortium %s", peerOrg, p.config.Consortium), fmt.Sprintf("Organization %s is already in consortium %s", peerOrg, p.config.Consortium))
		return nil
	})
}

// SetAnchorPeers makes the named peers of the caller's organization its
// anchor peers on channel.
func (p *Processor) SetAnchorPeers(ctx context.Context, caller Caller, channel string, peerNames []string) error {
	profile, err := p.store.GetProfile(caller.Org)
	if err != nil {
		return err
	}

	anchors := make([]configtx.AnchorPeer, 0, len(peerNames))
	for _, name := range peerNames {
		address, err := profile.PeerAddress(caller.Org, name)
		if err != nil {
			return err
		}
		anchor, err := configtx.ParseAnchorPeer(address)
		if err != nil {
			return err
		}
		anchors = append(anchors, anchor)
	}

	return p.withClient(caller, func(client fab.NodeClient) error {
		result, err := p.updater(client).SetAnchorPeers(ctx, channel, caller.Org, anchors)
		if err != nil {
			return err
		}
		p.report(result, fmt.Sprintf("Anchor peers of %s updated on channel %s", caller.Org, channel), fmt.Sprintf("Anchor peers of %s are already set on channel %s", caller.Org, channel))
		return nil
	})
}

func (p *Processor) PrintChannel(ctx context.Context, caller Caller, channel string) error {
	return p.withClient(caller, func(client fab.NodeClient) error {
		return p.updater(client).PrintChannel(ctx, channel, p.out)
	})
}

func (p *Processor) report(result *configtx.Result, done, skipped string) {
	if result.Skipped {
		fmt.Fprintln(p.out, skipped)
		return
	}
	fmt.Fprintln(p.out, done)
}

func (p *Processor) ImportMSP(org, adminCert, rootCert, tlsRootCert string) error {
	admin, err := os.ReadFile(adminCert)
	if err != nil {
		return errors.Wrapf(err, "fail to load %s", adminCert)
	}
	root, err := os.ReadFile(rootCert)
	if err != nil {
		return errors.Wrapf(err, "fail to load %s", rootCert)
	}
	tlsRoot, err := os.ReadFile(tlsRootCert)
	if err != nil {
		return errors.Wrapf(err, "fail to load %s", tlsRootCert)
	}

	path, err := p.store.ImportMSP(org, admin, root, tlsRoot)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "MSP of %s imported to %s\n", org, path)
	return nil
}

func (p *Processor) ImportProfile(org, file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrapf(err, "fail to load %s", file)
	}
	path, err := p.store.ImportProfile(org, raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "Connection profile of %s imported to %s\n", org, path)
	return nil
}

// ImportUser stores a user and, when both TLS files are given, its client TLS
// identity.
func (p *Processor) ImportUser(org, user, certPath, keyPath, tlsCertPath, tlsKeyPath string) error {
	cert, err := os.ReadFile(certPath)
	if err != nil {
		return errors.Wrapf(err, "fail to load %s", certPath)
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return errors.Wrapf(err, "fail to load %s", keyPath)
	}
	if _, err := NewCrypto(&fab.Identity{MSPID: org, Name: user, Cert: cert, Key: key}); err != nil {
		return err
	}

	path, err := p.store.ImportUser(org, user, org, cert, key)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "User %s of %s imported to %s\n", user, org, path)

	if tlsCertPath == "" || tlsKeyPath == "" {
		return nil
	}
	tlsCert, err := os.ReadFile(tlsCertPath)
	if err != nil {
		return errors.Wrapf(err, "fail to load %s", tlsCertPath)
	}
	tlsKey, err := os.ReadFile(tlsKeyPath)
	if err != nil {
		return errors.Wrapf(err, "fail to load %s", tlsKeyPath)
	}
	path, err = p.store.ImportUserTLS(org, user, org, tlsCert, tlsKey)
	if err != nil {
		return err
	}
	fmt.Fprintf(p.out, "TLS identity of %s imported to %s\n", user, path)
	return nil
}

func (p *Processor) ListMSPs() error {
	names, err := p.store.ListMSPs()
	if err != nil {
		return err
	}
	p.printList("MSPs", names)
	return nil
}

func (p *Processor) ListProfiles() error {
	names, err := p.store.ListProfiles()
	if err != nil {
		return err
	}
	p.printList("Connection profiles", names)
	return nil
}

func (p *Processor) ListUsers() error {
	users, err := p.store.ListUsers()
	if err != nil {
		return err
	}
	orgs := make([]string, 0, len(users))
	for org := range users {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)
	p.printList("Wallets", orgs)
	for _, org := range orgs {
		fmt.Fprintf(p.out, "%s: %s\n", org, strings.Join(users[org], ", "))
	}
	return nil
}

func (p *Processor) printList(title string, names []string) {
	if len(names) == 0 {
		fmt.Fprintf(p.out, "No %s found in %s\n", strings.ToLower(title), p.store.Root())
		return
	}
	fmt.Fprintf(p.out, "%s:\n", title)
	for _, n := range names {
		fmt.Fprintf(p.out, "  %s\n", n)
	}
}
