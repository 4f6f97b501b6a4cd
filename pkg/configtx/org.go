package configtx

import (
	"bytes"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/golang/protobuf/proto"
	fabconfig "github.com/hyperledger/fabric-config/configtx"
	"github.com/hyperledger/fabric-config/configtx/membership"
	"github.com/hyperledger/fabric-config/protolator"
	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/pkg/errors"
)

const (
	applicationGroupKey = "Application"
	consortiumsGroupKey = "Consortiums"
	anchorPeersKey      = "AnchorPeers"
	adminsPolicyKey     = "Admins"
)

var channelGroupPath = Path{"channel_group"}

// OrgDefinition is the membership material of an organization, PEM encoded.
type OrgDefinition struct {
	MSPID        string
	RootCerts    [][]byte
	AdminCerts   [][]byte
	TLSRootCerts [][]byte
}

func applicationOrgPath(org string) Path {
	return channelGroupPath.Join("groups", applicationGroupKey, "groups", org)
}

func consortiumPath(consortium string) Path {
	return channelGroupPath.Join("groups", consortiumsGroupKey, "groups", consortium)
}

func consortiumOrgPath(consortium, org string) Path {
	return consortiumPath(consortium).Join("groups", org)
}

// organization turns the definition into a fabric-config organization with
// the usual member based signature policies.
func (d OrgDefinition) organization() (fabconfig.Organization, error) {
	if d.MSPID == "" {
		return fabconfig.Organization{}, errors.New("MSP ID is required")
	}

	roots, err := parseCertificates(d.RootCerts)
	if err != nil {
		return fabconfig.Organization{}, errors.WithMessage(err, "invalid root certificate")
	}
	admins, err := parseCertificates(d.AdminCerts)
	if err != nil {
		return fabconfig.Organization{}, errors.WithMessage(err, "invalid admin certificate")
	}
	tlsRoots, err := parseCertificates(d.TLSRootCerts)
	if err != nil {
		return fabconfig.Organization{}, errors.WithMessage(err, "invalid TLS root certificate")
	}

	return fabconfig.Organization{
		Name: d.MSPID,
		MSP: fabconfig.MSP{
			Name:         d.MSPID,
			RootCerts:    roots,
			Admins:       admins,
			TLSRootCerts: tlsRoots,
			CryptoConfig: membership.CryptoConfig{
				SignatureHashFamily:            "SHA2",
				IdentityIdentifierHashFunction: "SHA256",
			},
		},
		Policies: map[string]fabconfig.Policy{
			adminsPolicyKey: {
				Type: "Signature",
				Rule: fmt.Sprintf("OR('%s.admin')", d.MSPID),
			},
			"Readers": {
				Type: "Signature",
				Rule: fmt.Sprintf("OR('%s.member')", d.MSPID),
			},
			"Writers": {
				Type: "Signature",
				Rule: fmt.Sprintf("OR('%s.member')", d.MSPID),
			},
			"Endorsement": {
				Type: "Signature",
				Rule: fmt.Sprintf("OR('%s.member')", d.MSPID),
			},
		},
	}, nil
}

// Group renders the organization's config group in the same JSON shape the
// codec produces for an existing channel.
func (d OrgDefinition) Group() (Snapshot, error) {
	org, err := d.organization()
	if err != nil {
		return Snapshot{}, err
	}

	scratch := &common.Config{
		ChannelGroup: &common.ConfigGroup{
			Groups: map[string]*common.ConfigGroup{
				applicationGroupKey: {
					Groups:   map[string]*common.ConfigGroup{},
					Values:   map[string]*common.ConfigValue{},
					Policies: map[string]*common.ConfigPolicy{},
				},
			},
			Values:   map[string]*common.ConfigValue{},
			Policies: map[string]*common.ConfigPolicy{},
		},
	}
	tx := fabconfig.New(scratch)
	if err := tx.Application().SetOrganization(org); err != nil {
		return Snapshot{}, errors.Wrapf(err, "failed to build config group of %s", d.MSPID)
	}

	doc, err := marshalConfig(tx.UpdatedConfig())
	if err != nil {
		return Snapshot{}, err
	}
	group, ok := doc.Sub(applicationOrgPath(d.MSPID))
	if !ok {
		return Snapshot{}, errors.Errorf("config group of %s is missing", d.MSPID)
	}
	return group, nil
}

func marshalConfig(msg proto.Message) (Snapshot, error) {
	var buf bytes.Buffer
	if err := protolator.DeepMarshalJSON(&buf, msg); err != nil {
		return Snapshot{}, errors.Wrap(err, "failed to render config")
	}
	return NewSnapshot(buf.Bytes())
}

func parseCertificates(pems [][]byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for _, raw := range pems {
		for rest := raw; len(rest) > 0; {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, errors.Wrap(err, "failed to parse certificate")
			}
			certs = append(certs, cert)
		}
	}
	return certs, nil
}
