package cluster

// VCS identifies a repository's version control family.
type VCS string

const (
	VCSGit        VCS = "git"
	VCSMercurial  VCS = "hg"
	VCSSubversion VCS = "svn"
)

// Repository is the slice of repository metadata the sync engine needs.
// The surrounding product owns the full record; the engine only reads.
type Repository struct {
	// ID is the stable repository identifier used in lock names, version
	// rows, and fetch URIs.
	ID string

	// DisplayName is the human-facing name used in operator messages.
	DisplayName string

	// ClusterServiceID names the cluster service whose bindings host this
	// repository. Empty when the repository is not clustered.
	ClusterServiceID string

	// VCS is the version control family. Only git is synchronized.
	VCS VCS

	// Hosted is true for repositories this cluster is the authority for.
	// Observed repositories (mirrors of an external origin) are not
	// synchronized.
	Hosted bool

	// WorkingCopyPath is the local on-disk working copy directory.
	WorkingCopyPath string
}

// Name returns the repository's display name, falling back to its id.
func (r Repository) Name() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.ID
}

// ShouldSync is the enablement predicate: synchronization runs only for
// hosted git repositories with an associated cluster service, on a process
// that knows its own device identity. Read-only and idempotent; every
// engine entry point is a no-op when this is false.
func ShouldSync(repo Repository, deviceID string) bool {
	if repo.ClusterServiceID == "" {
		return false
	}
	if repo.VCS != VCSGit {
		return false
	}
	if !repo.Hosted {
		return false
	}
	if deviceID == "" {
		return false
	}
	return true
}
