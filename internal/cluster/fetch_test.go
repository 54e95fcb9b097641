package cluster

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okpadd/phabricator/internal/store"
)

func sshBinding(device, host string) store.Binding {
	return store.Binding{ServiceID: testService, DeviceID: device, Protocol: "ssh", Host: host, Port: 22, Active: true}
}

func TestFetchFrom_FiltersToFetchableProtocols(t *testing.T) {
	env := newTestEnv(t)
	engine := env.engine("web001")

	err := engine.fetchFrom(context.Background(), []store.Binding{
		{DeviceID: "web002", Protocol: "http", Host: "host2", Port: 80},
	})
	require.Error(t, err)
	assert.True(t, IsLeaderLost(err), "got %v", err)
	assert.Contains(t, err.Error(), "no up-to-date fetchable nodes")
}

func TestFetchFrom_NoLeadersAtAll(t *testing.T) {
	env := newTestEnv(t)
	engine := env.engine("web001")

	err := engine.fetchFrom(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsLeaderLost(err), "got %v", err)
}

func TestFetchFrom_NonGitUnsupported(t *testing.T) {
	env := newTestEnv(t)
	env.repo.VCS = VCSMercurial
	engine := env.engine("web001")

	err := engine.fetchFrom(context.Background(), []store.Binding{sshBinding("web002", "host2")})
	require.Error(t, err)
	assert.True(t, IsUnsupported(err), "got %v", err)
	assert.Empty(t, env.fetch.calls())
}

func TestFetchFrom_MissingWorkingCopy(t *testing.T) {
	env := newTestEnv(t)
	env.repo.WorkingCopyPath = filepath.Join(t.TempDir(), "does-not-exist")
	engine := env.engine("web001")

	err := engine.fetchFrom(context.Background(), []store.Binding{sshBinding("web002", "host2")})
	require.Error(t, err)
	assert.True(t, IsNotInitialized(err), "got %v", err)
	assert.Contains(t, err.Error(), env.repo.WorkingCopyPath)
	assert.Empty(t, env.fetch.calls())
}

func TestFetchFrom_CustomProtocolPredicate(t *testing.T) {
	env := newTestEnv(t)
	engine := env.engine("web001", WithFetchProtocols("ssh", "ssh-alt"))

	err := engine.fetchFrom(context.Background(), []store.Binding{
		{DeviceID: "web002", Protocol: "ssh-alt", Host: "host2", Port: 2022},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ssh://repo-daemon@host2:2022/REPO"}, env.fetch.calls())
}

func TestFetchURI(t *testing.T) {
	env := newTestEnv(t)
	engine := env.engine("web001", WithFetchUser("daemon"))

	uri := engine.fetchURI(store.Binding{Host: "repo.example.com", Port: 2222})
	assert.Equal(t, "ssh://daemon@repo.example.com:2222/REPO", uri)
}

func TestFetchFrom_WritesProgressLine(t *testing.T) {
	env := newTestEnv(t)
	engine := env.engine("web001")

	require.NoError(t, engine.fetchFrom(context.Background(), []store.Binding{sshBinding("web002", "host2")}))

	lines := env.lines.Lines()
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[len(lines)-1], "web002")
}

func TestNewLineWriter_PrefixesLines(t *testing.T) {
	var buf bytes.Buffer
	w := NewLineWriter(&buf)
	w.WriteLog("Fetching from \"web002\"...")
	assert.Equal(t, "# Fetching from \"web002\"...\n", buf.String())
}
