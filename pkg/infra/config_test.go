package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	c, err := LoadConfigFromFile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
	assert.Equal(t, 10*time.Second, c.CommitTimeout)
}

func TestLoadConfigFromFile(t *testing.T) {
	c, err := LoadConfigFromFile(writeConfig(t, `
storesPath: /var/azhlf
consortium: Finance
commitTimeout: 90s
credentialRefresh: 10m
pushGateway: http://localhost:9091
`))
	require.NoError(t, err)

	assert.Equal(t, "/var/azhlf", c.StoresPath)
	assert.Equal(t, "Finance", c.Consortium)
	assert.Equal(t, DefaultSystemChannel, c.SystemChannel)
	assert.Equal(t, 90*time.Second, c.CommitTimeout)
	assert.Equal(t, DefaultDialTimeout, c.DialTimeout)
	assert.Equal(t, 10*time.Minute, c.CredentialRefresh)
	assert.Equal(t, "http://localhost:9091", c.PushGateway)
}

func TestLoadConfigRejects(t *testing.T) {
	_, err := LoadConfigFromFile(writeConfig(t, "unknownKey: 1\n"))
	assert.Error(t, err)

	_, err = LoadConfigFromFile(writeConfig(t, "commitTimeout: -1s\n"))
	assert.Contains(t, err.Error(), "commitTimeout -1s is not positive")

	_, err = LoadConfigFromFile(writeConfig(t, "storesPath: \"\"\n"))
	assert.Contains(t, err.Error(), "storesPath must not be empty")

	_, err = LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
