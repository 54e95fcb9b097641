package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okpadd/phabricator/internal/cluster"
)

const validYAML = `
device: web001
database: /var/lib/phacluster/cluster.db
listen: "127.0.0.1:8460"
fetchUser: daemon
repositories:
  - id: REPO
    displayName: Example Repository
    clusterService: svc
    vcs: git
    path: /var/repo/REPO
`

func TestParse_Valid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, "web001", cfg.Device)
	assert.Equal(t, "/var/lib/phacluster/cluster.db", cfg.Database)
	assert.Equal(t, "daemon", cfg.FetchUser)
	require.Len(t, cfg.Repositories, 1)

	repo := cfg.Repositories[0].Repository()
	assert.Equal(t, cluster.Repository{
		ID:               "REPO",
		DisplayName:      "Example Repository",
		ClusterServiceID: "svc",
		VCS:              cluster.VCSGit,
		Hosted:           true, // defaulted
		WorkingCopyPath:  "/var/repo/REPO",
	}, repo)
}

func TestParse_HostedExplicitlyFalse(t *testing.T) {
	cfg, err := Parse([]byte(`
device: web001
database: cluster.db
repositories:
  - id: MIRROR
    vcs: git
    path: /var/repo/MIRROR
    hosted: false
`))
	require.NoError(t, err)
	assert.False(t, cfg.Repositories[0].Repository().Hosted)
}

func TestParse_MissingDevice(t *testing.T) {
	_, err := Parse([]byte(`
database: cluster.db
repositories: []
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device")
}

func TestParse_InvalidVCS(t *testing.T) {
	_, err := Parse([]byte(`
device: web001
database: cluster.db
repositories:
  - id: REPO
    vcs: cvs
    path: /var/repo/REPO
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vcs")
}

func TestParse_EmptyDeviceRejected(t *testing.T) {
	_, err := Parse([]byte(`
device: ""
database: cluster.db
repositories: []
`))
	require.Error(t, err)
}

func TestParse_NormalizesIdentifiers(t *testing.T) {
	// "cafe" + combining acute accent: the decomposed spelling of "café".
	cfg, err := Parse([]byte("device: \"café\"\ndatabase: cluster.db\nrepositories: []\n"))
	require.NoError(t, err)
	assert.Equal(t, "café", cfg.Device, "device name must be NFC-normalized")
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phacluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "web001", cfg.Device)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
