package configtx

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// AnchorPeer is one advertised peer address of an organization.
type AnchorPeer struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (a AnchorPeer) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ParseAnchorPeer parses host:port.
func ParseAnchorPeer(address string) (AnchorPeer, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return AnchorPeer{}, errors.Wrapf(err, "invalid anchor peer %q", address)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return AnchorPeer{}, errors.Errorf("invalid anchor peer port in %q", address)
	}
	return AnchorPeer{Host: host, Port: p}, nil
}

type anchorPeersValue struct {
	AnchorPeers []AnchorPeer `json:"anchor_peers"`
}

func anchorPeersPath(org string) Path {
	return applicationOrgPath(org).Join("values", anchorPeersKey)
}

// currentAnchorPeers returns the anchor peers of org and whether the value is
// present in the config at all.
func currentAnchorPeers(doc Snapshot, org string) ([]AnchorPeer, bool, error) {
	path := anchorPeersPath(org)
	if !doc.Has(path) {
		return nil, false, nil
	}
	var v anchorPeersValue
	if err := doc.Decode(path.Join("value"), &v); err != nil {
		return nil, true, err
	}
	return v.AnchorPeers, true, nil
}

// sameAnchorSet compares two anchor peer lists as sets.
func sameAnchorSet(a, b []AnchorPeer) bool {
	as := anchorSet(a)
	bs := anchorSet(b)
	if len(as) != len(bs) {
		return false
	}
	for k := range as {
		if _, ok := bs[k]; !ok {
			return false
		}
	}
	return true
}

func anchorSet(peers []AnchorPeer) map[string]struct{} {
	set := make(map[string]struct{}, len(peers))
	for _, p := range peers {
		set[p.String()] = struct{}{}
	}
	return set
}
