package infra

import (
	"os"
	"time"

	"github.com/osdi23p228/azhlf/pkg/pipeline"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	DefaultStoresPath    = "stores"
	DefaultSystemChannel = "testchainid"
	DefaultConsortium    = "SampleConsortium"
	DefaultCommitTimeout = pipeline.DefaultCommitTimeout
	DefaultDialTimeout   = 30 * time.Second
)

// Config holds the tool settings. Every field is optional.
type Config struct {
	StoresPath    string        `yaml:"storesPath"`    // root of the msp, profiles and wallets stores
	SystemChannel string        `yaml:"systemChannel"` // channel holding the consortiums
	Consortium    string        `yaml:"consortium"`    // consortium new channels are created in
	CommitTimeout time.Duration `yaml:"commitTimeout"` // how long to wait for peers to commit
	DialTimeout   time.Duration `yaml:"dialTimeout"`   // per connection attempt

	// Refresh interval of cached identities, zero disables caching
	CredentialRefresh time.Duration `yaml:"credentialRefresh"`

	// If set, config updates are computed by this configtxlator binary
	// instead of in process
	ConfigtxlatorPath string `yaml:"configtxlatorPath"`

	PushGateway string `yaml:"pushGateway"` // Prometheus push gateway url
}

func DefaultConfig() *Config {
	return &Config{
		StoresPath:    DefaultStoresPath,
		SystemChannel: DefaultSystemChannel,
		Consortium:    DefaultConsortium,
		CommitTimeout: DefaultCommitTimeout,
		DialTimeout:   DefaultDialTimeout,
	}
}

// LoadConfigFromFile reads filename over the defaults. An empty filename
// yields the defaults.
func LoadConfigFromFile(filename string) (*Config, error) {
	c := DefaultConfig()
	if filename == "" {
		return c, nil
	}

	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "fail to load %s", filename)
	}
	if err = yaml.UnmarshalStrict(raw, c); err != nil {
		return nil, errors.Wrapf(err, "fail to unmarshal %s", filename)
	}

	if err = c.valid(); err != nil {
		return nil, errors.WithMessagef(err, "invalid config %s", filename)
	}
	return c, nil
}

func (c *Config) valid() error {
	if c.StoresPath == "" {
		return errors.New("storesPath must not be empty")
	}
	if c.SystemChannel == "" {
		return errors.New("systemChannel must not be empty")
	}
	if c.Consortium == "" {
		return errors.New("consortium must not be empty")
	}
	if c.CommitTimeout <= 0 {
		return errors.Errorf("commitTimeout %s is not positive", c.CommitTimeout)
	}
	if c.DialTimeout <= 0 {
		return errors.Errorf("dialTimeout %s is not positive", c.DialTimeout)
	}
	if c.CredentialRefresh < 0 {
		return errors.Errorf("credentialRefresh %s is negative", c.CredentialRefresh)
	}
	return nil
}
