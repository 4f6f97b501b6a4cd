package configtx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	fabconfig "github.com/hyperledger/fabric-config/configtx"
	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/osdi23p228/azhlf/pkg/quorum"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultSystemChannel = "testchainid"
	DefaultConsortium    = "SampleConsortium"

	channelCapability = "V1_4_2"
)

// Result describes how a config operation ended.
type Result struct {
	Channel   string
	Skipped   bool
	Outcome   *fab.OrderingOutcome
	Responses []*fab.NodeResponse
}

type UpdaterOption func(*Updater)

func WithSystemChannel(name string) UpdaterOption {
	return func(u *Updater) {
		if name != "" {
			u.systemChannel = name
		}
	}
}

func WithConsortium(name string) UpdaterOption {
	return func(u *Updater) {
		if name != "" {
			u.consortium = name
		}
	}
}

// Updater evolves channel and consortium membership through config update
// transactions. Every operation fetches the latest config first.
type Updater struct {
	client        fab.ConfigClient
	codec         Codec
	logger        *log.Logger
	systemChannel string
	consortium    string
}

func NewUpdater(client fab.ConfigClient, codec Codec, logger *log.Logger, opts ...UpdaterOption) *Updater {
	u := &Updater{
		client:        client,
		codec:         codec,
		logger:        logger,
		systemChannel: DefaultSystemChannel,
		consortium:    DefaultConsortium,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// FetchConfig returns the current config of channel as a snapshot of common.Config.
func (u *Updater) FetchConfig(ctx context.Context, channel string) (Snapshot, error) {
	raw, err := u.client.ChannelConfig(ctx, channel)
	if err != nil {
		return Snapshot{}, errors.WithMessagef(err, "failed to fetch config of channel %s", channel)
	}
	envelope, err := u.codec.Decode(raw, SchemaConfigEnvelope)
	if err != nil {
		return Snapshot{}, err
	}
	cfg, ok := envelope.Sub(Path{"config"})
	if !ok {
		return Snapshot{}, &fab.DecodingError{Schema: SchemaConfigEnvelope.String(), Err: errors.New("config envelope carries no config")}
	}
	return cfg, nil
}

// change applies one edit to a fetched config. unchanged means the edit is
// already in place and nothing must be submitted.
type change func(current Snapshot) (modified Snapshot, unchanged bool, err error)

func (u *Updater) update(ctx context.Context, channel, op string, apply change) (*Result, error) {
	logger := u.logger.WithFields(log.Fields{"channel": channel, "operation": op})

	current, err := u.FetchConfig(ctx, channel)
	if err != nil {
		return nil, err
	}

	modified, unchanged, err := apply(current)
	if err != nil {
		return nil, err
	}
	if unchanged {
		logger.Info("Config already up to date, nothing to submit")
		return &Result{Channel: channel, Skipped: true}, nil
	}

	update, err := u.codec.ComputeUpdate(channel, SchemaConfig, current, modified)
	if err != nil {
		return nil, err
	}
	logger.Debugf("Computed config update of %d bytes", len(update))

	return u.submit(ctx, channel, update)
}

func (u *Updater) submit(ctx context.Context, channel string, update []byte) (*Result, error) {
	signature, err := u.client.SignConfigUpdate(update)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to sign config update")
	}

	outcome, err := u.client.SubmitConfigUpdate(ctx, channel, update, []*common.ConfigSignature{signature})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to submit config update of channel %s", channel)
	}
	if !outcome.Succeeded() {
		e := &fab.OrderingError{TxID: "config update of " + channel}
		if outcome != nil {
			e.Status = outcome.Status
			e.Info = outcome.Info
		}
		return nil, e
	}

	u.logger.WithField("channel", channel).Info("Config update accepted by the ordering service")
	return &Result{Channel: channel, Outcome: outcome}, nil
}

// AddOrgToConsortium adds org to the consortium of the system channel.
// An empty channel means the configured system channel.
func (u *Updater) AddOrgToConsortium(ctx context.Context, channel string, org OrgDefinition) (*Result, error) {
	if channel == "" {
		channel = u.systemChannel
	}
	if channel != u.systemChannel {
		return nil, fab.Preconditionf("consortium membership is managed on the system channel %s, not %s", u.systemChannel, channel)
	}

	group, err := org.Group()
	if err != nil {
		return nil, fab.Preconditionf("invalid organization definition: %v", err)
	}

	return u.update(ctx, channel, "add-org-to-consortium", func(current Snapshot) (Snapshot, bool, error) {
		if !current.Has(consortiumPath(u.consortium)) {
			return Snapshot{}, false, fab.Preconditionf("consortium %s not found on channel %s", u.consortium, channel)
		}
		path := consortiumOrgPath(u.consortium, org.MSPID)
		if current.Has(path) {
			return current, true, nil
		}
		modified, err := current.WithChange(path, group)
		return modified, false, err
	})
}

// AddOrgToChannel adds org to the application group of channel.
func (u *Updater) AddOrgToChannel(ctx context.Context, channel string, org OrgDefinition) (*Result, error) {
	if err := u.checkApplicationChannel(channel); err != nil {
		return nil, err
	}

	group, err := org.Group()
	if err != nil {
		return nil, fab.Preconditionf("invalid organization definition: %v", err)
	}

	return u.update(ctx, channel, "add-org-to-channel", func(current Snapshot) (Snapshot, bool, error) {
		if !current.Has(channelGroupPath.Join("groups", applicationGroupKey)) {
			return Snapshot{}, false, fab.Preconditionf("channel %s has no application group", channel)
		}
		path := applicationOrgPath(org.MSPID)
		if current.Has(path) {
			return current, true, nil
		}
		modified, err := current.WithChange(path, group)
		return modified, false, err
	})
}

// SetAnchorPeers replaces the anchor peers of org on channel. An empty list
// clears them.
func (u *Updater) SetAnchorPeers(ctx context.Context, channel, org string, peers []AnchorPeer) (*Result, error) {
	if err := u.checkApplicationChannel(channel); err != nil {
		return nil, err
	}
	desired := append([]AnchorPeer{}, peers...)

	return u.update(ctx, channel, "set-anchor-peers", func(current Snapshot) (Snapshot, bool, error) {
		if !current.Has(applicationOrgPath(org)) {
			return Snapshot{}, false, fab.Preconditionf("organization %s is not a member of channel %s", org, channel)
		}

		existing, present, err := currentAnchorPeers(current, org)
		if err != nil {
			return Snapshot{}, false, &fab.DecodingError{Schema: SchemaConfig.String(), Err: err}
		}
		if (!present && len(desired) == 0) || (present && sameAnchorSet(existing, desired)) {
			return current, true, nil
		}

		path := anchorPeersPath(org)
		if present {
			modified, err := current.WithChange(path.Join("value", "anchor_peers"), desired)
			return modified, false, err
		}
		modified, err := current.WithChange(path, map[string]interface{}{
			"mod_policy": adminsPolicyKey,
			"value":      anchorPeersValue{AnchorPeers: desired},
			"version":    "0",
		})
		return modified, false, err
	})
}

// CreateChannel creates channel for the given member organizations of the
// consortium. It does nothing if the ordering service already serves channel.
func (u *Updater) CreateChannel(ctx context.Context, channel string, orgs []string) (*Result, error) {
	if err := u.checkApplicationChannel(channel); err != nil {
		return nil, err
	}
	if len(orgs) == 0 {
		return nil, fab.Preconditionf("channel %s needs at least one member organization", channel)
	}

	_, err := u.client.ChannelConfig(ctx, channel)
	switch {
	case err == nil:
		u.logger.WithField("channel", channel).Info("Channel already exists, nothing to submit")
		return &Result{Channel: channel, Skipped: true}, nil
	case !errors.Is(err, fab.ErrChannelNotFound):
		return nil, errors.WithMessagef(err, "failed to look up channel %s", channel)
	}

	members := make([]fabconfig.Organization, 0, len(orgs))
	for _, name := range orgs {
		members = append(members, fabconfig.Organization{Name: name})
	}

	update, err := fabconfig.NewMarshaledCreateChannelTx(fabconfig.Channel{
		Consortium: u.consortium,
		Application: fabconfig.Application{
			Organizations: members,
			Capabilities:  []string{channelCapability},
			Policies: map[string]fabconfig.Policy{
				"Readers":     {Type: "ImplicitMeta", Rule: "ANY Readers"},
				"Writers":     {Type: "ImplicitMeta", Rule: "ANY Writers"},
				"Admins":      {Type: "ImplicitMeta", Rule: "MAJORITY Admins"},
				"Endorsement": {Type: "ImplicitMeta", Rule: "MAJORITY Endorsement"},
			},
		},
	}, channel)
	if err != nil {
		return nil, &fab.EncodingError{Schema: SchemaConfigUpdate.String(), Err: err}
	}

	return u.submit(ctx, channel, update)
}

// JoinChannel asks every peer of org to join channel. All peers must accept.
func (u *Updater) JoinChannel(ctx context.Context, channel, org string) (*Result, error) {
	if err := u.checkApplicationChannel(channel); err != nil {
		return nil, err
	}

	peers, err := u.client.PeersForOrg(org)
	if err != nil {
		return nil, err
	}
	if len(peers) == 0 {
		return nil, fab.Preconditionf("organization %s has no peers", org)
	}

	block, err := u.client.GenesisBlock(ctx, channel)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to fetch genesis block of channel %s", channel)
	}

	txID, err := u.client.NewTransactionID()
	if err != nil {
		return nil, err
	}
	set, err := u.client.SendProposal(ctx, &fab.Proposal{
		Kind:    fab.KindJoinChain,
		TxID:    txID,
		Block:   block,
		Targets: peers,
	})
	if err != nil {
		return nil, err
	}

	verdict, err := quorum.Check(set)
	if err != nil {
		return nil, err
	}
	for _, r := range verdict.Good {
		u.logger.WithFields(log.Fields{"channel": channel, "peer": r.Node.Name}).Info("Peer joined channel")
	}
	return &Result{Channel: channel, Responses: set.Responses}, nil
}

// PrintChannel writes the current config of channel as indented JSON.
func (u *Updater) PrintChannel(ctx context.Context, channel string, w io.Writer) error {
	if channel == "" {
		return fab.Preconditionf("channel name is required")
	}
	cfg, err := u.FetchConfig(ctx, channel)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to render channel config")
	}
	_, err = fmt.Fprintln(w, string(raw))
	return errors.Wrap(err, "failed to write channel config")
}

func (u *Updater) checkApplicationChannel(channel string) error {
	if channel == "" {
		return fab.Preconditionf("channel name is required")
	}
	if channel == u.systemChannel {
		return fab.Preconditionf("%s is the system channel, an application channel is required", channel)
	}
	return nil
}
