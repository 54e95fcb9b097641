package cluster

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okpadd/phabricator/internal/store"
)

// Defaults for the engine's time budgets.
const (
	// DefaultLockWait bounds how long an entry point blocks on an advisory
	// lock before failing with a transient error.
	DefaultLockWait = 120 * time.Second

	// DefaultReleaseBudget bounds the AfterWrite reconnect-and-retry loop.
	DefaultReleaseBudget = 300 * time.Second

	// DefaultRetryInterval is the pause between AfterWrite attempts.
	DefaultRetryInterval = time.Second
)

// VersionStore persists per-(repository, device) version rows.
// Implemented by *store.Store.
type VersionStore interface {
	LoadVersions(ctx context.Context, repositoryID string) (map[string]store.VersionRow, error)
	UpdateVersion(ctx context.Context, repositoryID, deviceID string, version int64) error
	WillWrite(ctx context.Context, conn *sql.Conn, repositoryID, deviceID string, props store.WriteProperties, owner string) error
	DidWrite(ctx context.Context, repositoryID, deviceID string, oldVersion, newVersion int64, owner string) (bool, error)
}

// Lock is a held advisory lock.
type Lock interface {
	// Conn is the pinned database connection, nil for pool locks.
	Conn() *sql.Conn
	// Release drops the lock. Idempotent; losing the lock first is not an
	// error.
	Release(ctx context.Context) error
}

// Locker hands out the repository read and write locks. A wait overrun
// must unwrap to store.ErrLockTimeout. StoreDeps adapts *store.Store.
type Locker interface {
	AcquireReadLock(ctx context.Context, repositoryID, deviceID string, wait time.Duration) (Lock, error)
	AcquireWriteLock(ctx context.Context, repositoryID string, wait time.Duration) (Lock, error)
}

// storeLocker adapts *store.Store's concrete lock handles to the Lock
// interface.
type storeLocker struct {
	s *store.Store
}

func (l storeLocker) AcquireReadLock(ctx context.Context, repositoryID, deviceID string, wait time.Duration) (Lock, error) {
	return l.s.AcquireReadLock(ctx, repositoryID, deviceID, wait)
}

func (l storeLocker) AcquireWriteLock(ctx context.Context, repositoryID string, wait time.Duration) (Lock, error) {
	return l.s.AcquireWriteLock(ctx, repositoryID, wait)
}

// BindingResolver enumerates the active devices bound to a cluster
// service. Implemented by *store.Store.
type BindingResolver interface {
	ActiveBindings(ctx context.Context, serviceID string) ([]store.Binding, error)
}

// PushLog supplies the monotonic event ids that mint post-write versions.
// Implemented by *store.Store.
type PushLog interface {
	MostRecentPushEvent(ctx context.Context, repositoryID string) (int64, bool, error)
}

// Fetcher performs the wire-level pull of a working copy from a peer URI.
// Implemented by gitexec.Executor.
type Fetcher interface {
	Fetch(ctx context.Context, dir, uri string) error
}

// Clock abstracts wall time for the retry loop so tests can compress the
// 300 second budget.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// LogWriter consumes one user-facing protocol line per event. These lines
// travel back to the pushing or pulling user, unlike the operational slog
// output.
type LogWriter interface {
	WriteLog(line string)
}

// NewLineWriter returns a LogWriter that prefixes every line with "# " and
// writes it to w, the convention for protocol side-channel messages.
func NewLineWriter(w io.Writer) LogWriter {
	return &lineWriter{w: w}
}

type lineWriter struct {
	w io.Writer
}

func (l *lineWriter) WriteLog(line string) {
	fmt.Fprintf(l.w, "# %s\n", line)
}

type nopLogWriter struct{}

func (nopLogWriter) WriteLog(string) {}

// TokenSource mints per-write owner tokens. The default implementation is
// collision-resistant across processes; tests substitute fixed tokens.
type TokenSource interface {
	Token() string
}

type processTokenSource struct{}

// Token returns "<pid>.<12 random chars>".
func (processTokenSource) Token() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d.%s", os.Getpid(), random)
}

// Deps bundles the engine's collaborators. A single *store.Store satisfies
// every database-backed field.
type Deps struct {
	Versions VersionStore
	Locks    Locker
	Bindings BindingResolver
	Pushes   PushLog
	Fetch    Fetcher
}

// StoreDeps builds Deps from one store plus a fetcher.
func StoreDeps(s *store.Store, f Fetcher) Deps {
	return Deps{Versions: s, Locks: storeLocker{s}, Bindings: s, Pushes: s, Fetch: f}
}

// Engine coordinates one repository's working copy with the rest of the
// cluster. It is driven by one task per repository operation; concurrency
// across processes is mediated entirely by the store's locks and rows.
//
// Lifecycle: BeforeWrite stores the held write lock, the pre-write cluster
// version, and the owner token on the engine; AfterWrite consumes them.
// An Engine must not be shared between concurrent operations.
type Engine struct {
	repo   Repository
	device string
	deps   Deps

	clock  Clock
	tokens TokenSource
	log    *slog.Logger
	sink   LogWriter

	lockWait       time.Duration
	releaseBudget  time.Duration
	retryInterval  time.Duration
	fetchProtocols map[string]bool
	fetchUser      string

	writeLock    Lock
	writeVersion int64
	writeOwner   string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the operational logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithLogWriter sets the user-facing protocol line sink. Defaults to
// discarding lines.
func WithLogWriter(w LogWriter) Option {
	return func(e *Engine) { e.sink = w }
}

// WithClock substitutes the wall clock, compressing time budgets in tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTokenSource substitutes the owner token source.
func WithTokenSource(t TokenSource) Option {
	return func(e *Engine) { e.tokens = t }
}

// WithLockWait overrides the 120 second advisory lock wait budget.
func WithLockWait(d time.Duration) Option {
	return func(e *Engine) { e.lockWait = d }
}

// WithReleaseBudget overrides the AfterWrite retry budget and interval.
func WithReleaseBudget(budget, interval time.Duration) Option {
	return func(e *Engine) {
		e.releaseBudget = budget
		e.retryInterval = interval
	}
}

// WithFetchUser sets the username presented when fetching from peers.
func WithFetchUser(user string) Option {
	return func(e *Engine) { e.fetchUser = user }
}

// WithFetchProtocols replaces the set of binding protocols considered
// fetchable. The default is the SSH family.
func WithFetchProtocols(protocols ...string) Option {
	return func(e *Engine) {
		e.fetchProtocols = make(map[string]bool, len(protocols))
		for _, p := range protocols {
			e.fetchProtocols[p] = true
		}
	}
}

// New creates an Engine for one repository on one device.
func New(repo Repository, deviceID string, deps Deps, opts ...Option) *Engine {
	e := &Engine{
		repo:           repo,
		device:         deviceID,
		deps:           deps,
		clock:          systemClock{},
		tokens:         processTokenSource{},
		log:            slog.Default(),
		sink:           nopLogWriter{},
		lockWait:       DefaultLockWait,
		releaseBudget:  DefaultReleaseBudget,
		retryInterval:  DefaultRetryInterval,
		fetchProtocols: map[string]bool{"ssh": true},
		fetchUser:      "repo-daemon",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// enabled reports whether this engine synchronizes at all.
func (e *Engine) enabled() bool {
	return ShouldSync(e.repo, e.device)
}

// AfterCreation initializes a version 0 row for every active binding, so
// later reads can pick leaders unambiguously instead of hitting the
// no-history bootstrap rules.
func (e *Engine) AfterCreation(ctx context.Context) error {
	if !e.enabled() {
		return nil
	}

	bindings, err := e.deps.Bindings.ActiveBindings(ctx, e.repo.ClusterServiceID)
	if err != nil {
		return wrapError(CodeConfig, e.repo.Name(), err, "unable to resolve cluster service %q", e.repo.ClusterServiceID)
	}

	for _, b := range bindings {
		if err := e.deps.Versions.UpdateVersion(ctx, e.repo.ID, b.DeviceID, 0); err != nil {
			return fmt.Errorf("initialize version row for device %q: %w", b.DeviceID, err)
		}
	}

	e.log.Info("initialized working copy versions",
		"repository", e.repo.ID,
		"devices", len(bindings))
	return nil
}
