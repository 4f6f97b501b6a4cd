// Package store keeps imported MSPs, connection profiles and user identities
// as YAML files under one root directory:
//
//	<root>/msp/<org>.yaml
//	<root>/profiles/<org>.yaml
//	<root>/wallets/<org>/<user>.yaml
package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/osdi23p228/azhlf/pkg/fab"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	mspDir      = "msp"
	profilesDir = "profiles"
	walletsDir  = "wallets"

	ext = ".yaml"
)

type Store struct {
	root string
}

func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) path(elem ...string) string {
	return filepath.Join(append([]string{s.root}, elem...)...)
}

func writeYAML(path string, v interface{}) error {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "fail to marshal %s", path)
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrapf(err, "fail to create %s", filepath.Dir(path))
	}
	return errors.Wrapf(os.WriteFile(path, raw, 0o600), "fail to write %s", path)
}

// readYAML decodes path into v. A missing file is a PreconditionError naming
// what has to be imported first.
func readYAML(path, what string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fab.Preconditionf("%s was not found in %s, import it first", what, path)
	}
	if err != nil {
		return errors.Wrapf(err, "fail to load %s", path)
	}
	return errors.Wrapf(yaml.Unmarshal(raw, v), "fail to unmarshal %s", path)
}

// listNames returns the sorted base names of the YAML files in dir. A missing
// dir is empty.
func listNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fail to list %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(names)
	return names, nil
}

// checkName rejects names that would escape their store directory.
func checkName(kind, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fab.Preconditionf("invalid %s name %q", kind, name)
	}
	return nil
}
