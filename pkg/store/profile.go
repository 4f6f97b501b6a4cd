package store

import (
	"net/url"
	"sort"
	"strings"

	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Profile is the subset of a Fabric connection profile the tool reads. JSON
// gateway files decode too since JSON is valid YAML.
type Profile struct {
	Name          string                  `yaml:"name"`
	Version       string                  `yaml:"version,omitempty"`
	Client        ProfileClient           `yaml:"client"`
	Organizations map[string]Organization `yaml:"organizations"`
	Peers         map[string]Endpoint     `yaml:"peers,omitempty"`
	Orderers      map[string]Endpoint     `yaml:"orderers,omitempty"`
}

type ProfileClient struct {
	Organization string `yaml:"organization"`
}

type Organization struct {
	MSPID    string   `yaml:"mspid"`
	Peers    []string `yaml:"peers,omitempty"`
	Orderers []string `yaml:"orderers,omitempty"`
}

type Endpoint struct {
	URL         string      `yaml:"url"`
	TLSCACerts  TLSCACerts  `yaml:"tlsCACerts,omitempty"`
	GRPCOptions GRPCOptions `yaml:"grpcOptions,omitempty"`
}

type TLSCACerts struct {
	PEM string `yaml:"pem,omitempty"`
}

type GRPCOptions struct {
	SSLTargetNameOverride string `yaml:"ssl-target-name-override,omitempty"`
}

// Node resolves the endpoint named name. grpcs:// urls keep the TLS CA,
// grpc:// urls dial in plaintext.
func (e Endpoint) Node(name string) (fab.Node, error) {
	u, err := url.Parse(e.URL)
	if err != nil || u.Host == "" {
		return fab.Node{}, errors.Errorf("%s has an invalid url %q", name, e.URL)
	}

	node := fab.Node{Name: name, Address: u.Host}
	switch strings.ToLower(u.Scheme) {
	case "grpcs":
		if e.TLSCACerts.PEM == "" {
			return fab.Node{}, errors.Errorf("%s uses grpcs but has no TLS CA certificate", name)
		}
		node.TLSCACert = []byte(e.TLSCACerts.PEM)
		node.ServerHostOverride = e.GRPCOptions.SSLTargetNameOverride
	case "grpc":
	default:
		return fab.Node{}, errors.Errorf("%s has unsupported url scheme %q", name, u.Scheme)
	}
	return node, nil
}

// PeersByOrg maps every organization to its peers, in profile order.
func (p *Profile) PeersByOrg() (map[string][]fab.Node, error) {
	peers := make(map[string][]fab.Node, len(p.Organizations))
	for org, o := range p.Organizations {
		nodes := make([]fab.Node, 0, len(o.Peers))
		for _, name := range o.Peers {
			e, ok := p.Peers[name]
			if !ok {
				return nil, errors.Errorf("organization %s lists unknown peer %s", org, name)
			}
			node, err := e.Node(name)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
		peers[org] = nodes
	}
	return peers, nil
}

// OrdererNodes returns every orderer sorted by name.
func (p *Profile) OrdererNodes() ([]fab.Node, error) {
	names := make([]string, 0, len(p.Orderers))
	for name := range p.Orderers {
		names = append(names, name)
	}
	sort.Strings(names)

	nodes := make([]fab.Node, 0, len(names))
	for _, name := range names {
		node, err := p.Orderers[name].Node(name)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// PeerAddress resolves a peer named either fully or as "<peer>.<org>" to its
// host:port.
func (p *Profile) PeerAddress(org, peer string) (string, error) {
	for _, name := range []string{peer + "." + org, peer} {
		if e, ok := p.Peers[name]; ok {
			node, err := e.Node(name)
			if err != nil {
				return "", err
			}
			return node.Address, nil
		}
	}
	return "", fab.Preconditionf("peer %s not found in the connection profile of %s", peer, org)
}

func (p *Profile) validate() error {
	if len(p.Organizations) == 0 {
		return errors.New("connection profile lists no organizations")
	}
	if _, err := p.PeersByOrg(); err != nil {
		return err
	}
	_, err := p.OrdererNodes()
	return err
}

// ImportProfile parses raw as a connection profile and stores it for org.
func (s *Store) ImportProfile(org string, raw []byte) (string, error) {
	if err := checkName("organization", org); err != nil {
		return "", err
	}

	p := &Profile{}
	if err := yaml.Unmarshal(raw, p); err != nil {
		return "", &fab.DecodingError{Schema: "connection profile", Err: err}
	}
	if err := p.validate(); err != nil {
		return "", errors.WithMessagef(err, "invalid connection profile for %s", org)
	}

	path := s.path(profilesDir, org+ext)
	return path, writeYAML(path, p)
}

func (s *Store) GetProfile(org string) (*Profile, error) {
	if err := checkName("organization", org); err != nil {
		return nil, err
	}
	p := &Profile{}
	if err := readYAML(s.path(profilesDir, org+ext), "connection profile of "+org, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Store) ListProfiles() ([]string, error) {
	return listNames(s.path(profilesDir))
}
