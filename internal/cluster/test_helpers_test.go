package cluster

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/okpadd/phabricator/internal/store"
	"github.com/okpadd/phabricator/internal/testutil"
)

const testService = "svc"

// testEnv is a single-database cluster fixture. Engines for different
// devices share the store, which is how real devices coordinate.
type testEnv struct {
	t     *testing.T
	store *store.Store
	fetch *fakeFetcher
	clock *testutil.FakeClock
	lines *testutil.LogLines
	repo  Repository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "cluster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	require.NoError(t, s.UpsertClusterService(ctx, testService, "Test Service"))

	workdir := filepath.Join(t.TempDir(), "worktree")
	require.NoError(t, os.MkdirAll(workdir, 0o755))

	return &testEnv{
		t:     t,
		store: s,
		fetch: &fakeFetcher{},
		clock: testutil.NewFakeClock(time.Unix(1700000000, 0)),
		lines: &testutil.LogLines{},
		repo: Repository{
			ID:               "REPO",
			DisplayName:      "Example Repository",
			ClusterServiceID: testService,
			VCS:              VCSGit,
			Hosted:           true,
			WorkingCopyPath:  workdir,
		},
	}
}

func (env *testEnv) bind(deviceID, protocol, host string) {
	env.t.Helper()
	require.NoError(env.t, env.store.UpsertBinding(context.Background(), store.Binding{
		ServiceID: testService,
		DeviceID:  deviceID,
		Protocol:  protocol,
		Host:      host,
		Port:      22,
		Active:    true,
	}))
}

func (env *testEnv) setVersion(deviceID string, version int64) {
	env.t.Helper()
	require.NoError(env.t, env.store.UpdateVersion(context.Background(), env.repo.ID, deviceID, version))
}

func (env *testEnv) versions() map[string]store.VersionRow {
	env.t.Helper()
	rows, err := env.store.LoadVersions(context.Background(), env.repo.ID)
	require.NoError(env.t, err)
	return rows
}

// engine builds an engine for one device with compressed time budgets and
// deterministic tokens.
func (env *testEnv) engine(deviceID string, opts ...Option) *Engine {
	base := []Option{
		WithClock(env.clock),
		WithLogWriter(env.lines),
		WithLockWait(500 * time.Millisecond),
		WithTokenSource(testutil.NewFixedTokens(
			"100.aaaaaaaaaaaa",
			"100.bbbbbbbbbbbb",
			"100.cccccccccccc",
		)),
	}
	return New(env.repo, deviceID, StoreDeps(env.store, env.fetch), append(base, opts...)...)
}

// fakeFetcher records fetch URIs and fails the ones it is told to.
type fakeFetcher struct {
	mu    sync.Mutex
	uris  []string
	fails map[string]error // uri -> error
}

func (f *fakeFetcher) Fetch(ctx context.Context, dir, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uris = append(f.uris, uri)
	if err, ok := f.fails[uri]; ok {
		return err
	}
	return nil
}

func (f *fakeFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.uris))
	copy(out, f.uris)
	return out
}

// flakyVersions wraps a VersionStore and injects DidWrite failures: the
// queued errors fire first, then failAll, then the real store.
type flakyVersions struct {
	VersionStore
	mu       sync.Mutex
	didWrite []error
	failAll  error
	attempts int
}

func (f *flakyVersions) DidWrite(ctx context.Context, repositoryID, deviceID string, oldVersion, newVersion int64, owner string) (bool, error) {
	f.mu.Lock()
	f.attempts++
	var err error
	if len(f.didWrite) > 0 {
		err = f.didWrite[0]
		f.didWrite = f.didWrite[1:]
	} else {
		err = f.failAll
	}
	f.mu.Unlock()

	if err != nil {
		return false, err
	}
	return f.VersionStore.DidWrite(ctx, repositoryID, deviceID, oldVersion, newVersion, owner)
}

var _ VersionStore = (*flakyVersions)(nil)
