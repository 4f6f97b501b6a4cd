package pipeline

import (
	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
)

func orgPeers(client fab.TransactionClient, org string) ([]fab.Node, error) {
	peers, err := client.PeersForOrg(org)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to get peers of %s", org)
	}
	if len(peers) == 0 {
		return nil, fab.Preconditionf("organization %s has no peers", org)
	}
	return peers, nil
}

// resolveTargets returns every peer of org, or only the named ones when names
// is not empty. A name matches either the full node name or "<name>.<org>".
func resolveTargets(client fab.TransactionClient, org string, names []string) ([]fab.Node, error) {
	peers, err := orgPeers(client, org)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return peers, nil
	}

	byName := make(map[string]fab.Node, len(peers))
	for _, p := range peers {
		byName[p.Name] = p
	}

	targets := make([]fab.Node, 0, len(names))
	for _, name := range names {
		if p, ok := byName[name+"."+org]; ok {
			targets = append(targets, p)
			continue
		}
		if p, ok := byName[name]; ok {
			targets = append(targets, p)
			continue
		}
		return nil, fab.Preconditionf("peer %s not found in organization %s", name, org)
	}
	return targets, nil
}
