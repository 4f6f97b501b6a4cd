package store

import (
	"os"
	"sort"
	"strings"

	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
)

// TLSSuffix marks the client TLS identity stored next to a user.
const TLSSuffix = "-tls"

// WalletEntry is one stored identity, PEM encoded.
type WalletEntry struct {
	MSPID string `yaml:"mspId"`
	Cert  string `yaml:"cert"`
	Key   string `yaml:"key"`
}

// ImportUser stores the signing identity of user in the wallet of org.
func (s *Store) ImportUser(org, user, mspID string, cert, key []byte) (string, error) {
	return s.importEntry(org, user, mspID, cert, key)
}

// ImportUserTLS stores the client TLS identity used for mutual TLS by user.
func (s *Store) ImportUserTLS(org, user, mspID string, cert, key []byte) (string, error) {
	return s.importEntry(org, user+TLSSuffix, mspID, cert, key)
}

func (s *Store) importEntry(org, name, mspID string, cert, key []byte) (string, error) {
	if err := checkName("organization", org); err != nil {
		return "", err
	}
	if err := checkName("user", name); err != nil {
		return "", err
	}
	if mspID == "" {
		mspID = org
	}
	if len(cert) == 0 || len(key) == 0 {
		return "", fab.Preconditionf("both certificate and private key are required for %s", name)
	}

	path := s.path(walletsDir, org, name+ext)
	return path, writeYAML(path, &WalletEntry{MSPID: mspID, Cert: string(cert), Key: string(key)})
}

// LoadIdentity reads user of org together with its TLS identity, if any.
func (s *Store) LoadIdentity(org, user string) (*fab.Identity, error) {
	if err := checkName("organization", org); err != nil {
		return nil, err
	}
	if err := checkName("user", user); err != nil {
		return nil, err
	}

	entry := &WalletEntry{}
	if err := readYAML(s.path(walletsDir, org, user+ext), "user "+user+" of "+org, entry); err != nil {
		return nil, err
	}
	id := &fab.Identity{
		MSPID: entry.MSPID,
		Name:  user,
		Cert:  []byte(entry.Cert),
		Key:   []byte(entry.Key),
	}

	tlsPath := s.path(walletsDir, org, user+TLSSuffix+ext)
	if _, err := os.Stat(tlsPath); err == nil {
		tls := &WalletEntry{}
		if err := readYAML(tlsPath, "TLS identity of "+user, tls); err != nil {
			return nil, err
		}
		id.TLSCert = []byte(tls.Cert)
		id.TLSKey = []byte(tls.Key)
	}
	return id, nil
}

// ListUsers returns the users of every wallet, TLS identities excluded.
func (s *Store) ListUsers() (map[string][]string, error) {
	entries, err := os.ReadDir(s.path(walletsDir))
	if os.IsNotExist(err) {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fail to list %s", s.path(walletsDir))
	}

	users := make(map[string][]string)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		names, err := listNames(s.path(walletsDir, e.Name()))
		if err != nil {
			return nil, err
		}
		var plain []string
		for _, n := range names {
			if !strings.HasSuffix(n, TLSSuffix) {
				plain = append(plain, n)
			}
		}
		sort.Strings(plain)
		users[e.Name()] = plain
	}
	return users, nil
}
