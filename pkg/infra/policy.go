package infra

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/golang/protobuf/proto"
	"github.com/hyperledger/fabric-protos-go/common"
	"github.com/hyperledger/fabric-protos-go/msp"
	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
)

// PolicyDocument is an endorsement policy in the JSON layout of the node SDK:
//
//	{
//	  "identities": [{"role": {"name": "member", "mspId": "Org1MSP"}}],
//	  "policy": {"1-of": [{"signed-by": 0}]}
//	}
type PolicyDocument struct {
	Identities []PolicyIdentity `json:"identities"`
	Policy     json.RawMessage  `json:"policy"`
}

type PolicyIdentity struct {
	Role struct {
		Name  string `json:"name"`
		MSPID string `json:"mspId"`
	} `json:"role"`
}

var roles = map[string]msp.MSPRole_MSPRoleType{
	"member": msp.MSPRole_MEMBER,
	"admin":  msp.MSPRole_ADMIN,
	"client": msp.MSPRole_CLIENT,
	"peer":   msp.MSPRole_PEER,
}

// ParsePolicy decodes a JSON policy document into a marshaled
// SignaturePolicyEnvelope.
func ParsePolicy(raw []byte) ([]byte, error) {
	doc := &PolicyDocument{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, &fab.DecodingError{Schema: "policy", Err: err}
	}
	env, err := doc.Envelope()
	if err != nil {
		return nil, err
	}
	out, err := proto.Marshal(env)
	if err != nil {
		return nil, &fab.EncodingError{Schema: "common.SignaturePolicyEnvelope", Err: err}
	}
	return out, nil
}

// Envelope converts the document into its protobuf form.
func (d *PolicyDocument) Envelope() (*common.SignaturePolicyEnvelope, error) {
	if len(d.Identities) == 0 {
		return nil, errors.New("policy lists no identities")
	}

	principals := make([]*msp.MSPPrincipal, 0, len(d.Identities))
	for i, id := range d.Identities {
		role, ok := roles[id.Role.Name]
		if !ok {
			return nil, errors.Errorf("identity %d has unknown role %q", i, id.Role.Name)
		}
		if id.Role.MSPID == "" {
			return nil, errors.Errorf("identity %d has no mspId", i)
		}
		principal, err := proto.Marshal(&msp.MSPRole{MspIdentifier: id.Role.MSPID, Role: role})
		if err != nil {
			return nil, errors.Wrap(err, "error marshaling MSPRole")
		}
		principals = append(principals, &msp.MSPPrincipal{
			PrincipalClassification: msp.MSPPrincipal_ROLE,
			Principal:               principal,
		})
	}

	rule, err := parseRule(d.Policy, len(principals))
	if err != nil {
		return nil, err
	}
	return &common.SignaturePolicyEnvelope{Version: 0, Rule: rule, Identities: principals}, nil
}

// parseRule reads {"signed-by": i} or {"<n>-of": [rules...]}.
func parseRule(raw json.RawMessage, identities int) (*common.SignaturePolicy, error) {
	var node map[string]json.RawMessage
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, errors.Wrap(err, "malformed policy rule")
	}
	if len(node) != 1 {
		return nil, errors.Errorf("policy rule must have exactly one key, got %d", len(node))
	}

	for key, value := range node {
		if key == "signed-by" {
			var index int
			if err := json.Unmarshal(value, &index); err != nil {
				return nil, errors.Wrap(err, "signed-by must be an identity index")
			}
			if index < 0 || index >= identities {
				return nil, errors.Errorf("signed-by %d is out of range [0, %d)", index, identities)
			}
			return &common.SignaturePolicy{
				Type: &common.SignaturePolicy_SignedBy{SignedBy: int32(index)},
			}, nil
		}

		n, err := outOf(key)
		if err != nil {
			return nil, err
		}
		var children []json.RawMessage
		if err := json.Unmarshal(value, &children); err != nil {
			return nil, errors.Wrapf(err, "%s must list rules", key)
		}
		if n > len(children) {
			return nil, errors.Errorf("%s has only %d rules", key, len(children))
		}

		rules := make([]*common.SignaturePolicy, 0, len(children))
		for _, child := range children {
			rule, err := parseRule(child, identities)
			if err != nil {
				return nil, err
			}
			rules = append(rules, rule)
		}
		return &common.SignaturePolicy{
			Type: &common.SignaturePolicy_NOutOf_{NOutOf: &common.SignaturePolicy_NOutOf{N: int32(n), Rules: rules}},
		}, nil
	}
	return nil, errors.New("unreachable")
}

func outOf(key string) (int, error) {
	if !strings.HasSuffix(key, "-of") {
		return 0, errors.Errorf("unknown policy rule %q", key)
	}
	n, err := strconv.Atoi(strings.TrimSuffix(key, "-of"))
	if err != nil || n < 1 {
		return 0, errors.Errorf("invalid policy rule %q", key)
	}
	return n, nil
}

// CollectionDocument is one private data collection in the node SDK layout.
type CollectionDocument struct {
	Name              string         `json:"name"`
	Policy            PolicyDocument `json:"policy"`
	RequiredPeerCount int32          `json:"requiredPeerCount"`
	MaxPeerCount      int32          `json:"maxPeerCount"`
	BlockToLive       uint64         `json:"blockToLive"`
	MemberOnlyRead    bool           `json:"memberOnlyRead"`
}

// ParseCollectionConfig decodes a JSON array of collections into a marshaled
// CollectionConfigPackage.
func ParseCollectionConfig(raw []byte) ([]byte, error) {
	var docs []CollectionDocument
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, &fab.DecodingError{Schema: "collections", Err: err}
	}

	pkg := &peer.CollectionConfigPackage{}
	seen := make(map[string]bool, len(docs))
	for _, doc := range docs {
		if doc.Name == "" {
			return nil, errors.New("collection has no name")
		}
		if seen[doc.Name] {
			return nil, errors.Errorf("collection %s is defined twice", doc.Name)
		}
		seen[doc.Name] = true

		if doc.RequiredPeerCount > doc.MaxPeerCount {
			return nil, errors.Errorf("collection %s: requiredPeerCount %d exceeds maxPeerCount %d", doc.Name, doc.RequiredPeerCount, doc.MaxPeerCount)
		}
		env, err := doc.Policy.Envelope()
		if err != nil {
			return nil, errors.WithMessagef(err, "collection %s", doc.Name)
		}

		pkg.Config = append(pkg.Config, &peer.CollectionConfig{
			Payload: &peer.CollectionConfig_StaticCollectionConfig{
				StaticCollectionConfig: &peer.StaticCollectionConfig{
					Name: doc.Name,
					MemberOrgsPolicy: &peer.CollectionPolicyConfig{
						Payload: &peer.CollectionPolicyConfig_SignaturePolicy{SignaturePolicy: env},
					},
					RequiredPeerCount: doc.RequiredPeerCount,
					MaximumPeerCount:  doc.MaxPeerCount,
					BlockToLive:       doc.BlockToLive,
					MemberOnlyRead:    doc.MemberOnlyRead,
				},
			},
		})
	}

	out, err := proto.Marshal(pkg)
	if err != nil {
		return nil, &fab.EncodingError{Schema: "protos.CollectionConfigPackage", Err: err}
	}
	return out, nil
}
