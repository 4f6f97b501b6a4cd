package store

import (
	"github.com/osdi23p228/azhlf/pkg/configtx"
)

// MSP is the public membership material of an organization, PEM encoded.
type MSP struct {
	MSPID        string `yaml:"mspId"`
	AdminCerts   string `yaml:"adminCerts"`
	RootCerts    string `yaml:"rootCerts"`
	TLSRootCerts string `yaml:"tlsRootCerts"`
}

// OrgDefinition is the MSP in the form the config updater consumes.
func (m *MSP) OrgDefinition() configtx.OrgDefinition {
	def := configtx.OrgDefinition{MSPID: m.MSPID}
	if m.RootCerts != "" {
		def.RootCerts = [][]byte{[]byte(m.RootCerts)}
	}
	if m.AdminCerts != "" {
		def.AdminCerts = [][]byte{[]byte(m.AdminCerts)}
	}
	if m.TLSRootCerts != "" {
		def.TLSRootCerts = [][]byte{[]byte(m.TLSRootCerts)}
	}
	return def
}

// ImportMSP stores the MSP of org, replacing any previous import, and returns
// the file written.
func (s *Store) ImportMSP(org string, adminCerts, rootCerts, tlsRootCerts []byte) (string, error) {
	if err := checkName("organization", org); err != nil {
		return "", err
	}

	m := &MSP{
		MSPID:        org,
		AdminCerts:   string(adminCerts),
		RootCerts:    string(rootCerts),
		TLSRootCerts: string(tlsRootCerts),
	}
	if _, err := m.OrgDefinition().Group(); err != nil {
		return "", err
	}

	path := s.path(mspDir, org+ext)
	return path, writeYAML(path, m)
}

func (s *Store) GetMSP(org string) (*MSP, error) {
	if err := checkName("organization", org); err != nil {
		return nil, err
	}
	m := &MSP{}
	if err := readYAML(s.path(mspDir, org+ext), "MSP of "+org, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) ListMSPs() ([]string, error) {
	return listNames(s.path(mspDir))
}
