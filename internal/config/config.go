// Package config loads and validates per-node configuration for the
// cluster daemon and operator CLI.
//
// Configuration is YAML on disk. Before anything trusts it, the decoded
// document is unified with an embedded CUE schema; schema violations
// surface as load errors with CUE's field-level messages. Device and
// cluster service names are NFC-normalized so the advisory lock names
// derived from them are byte-stable across nodes.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/okpadd/phabricator/internal/cluster"
)

//go:embed schema.cue
var schemaCUE string

// Config is one node's configuration.
type Config struct {
	// Device is this device's identity, as bound in cluster services.
	Device string `yaml:"device"`

	// Database is the path of the shared coordination database.
	Database string `yaml:"database"`

	// Listen is the admin API address; empty disables the API.
	Listen string `yaml:"listen"`

	// FetchUser is the username presented when fetching from peers.
	FetchUser string `yaml:"fetchUser"`

	Repositories []RepositoryConfig `yaml:"repositories"`
}

// RepositoryConfig describes one repository served from this node.
type RepositoryConfig struct {
	ID             string `yaml:"id"`
	DisplayName    string `yaml:"displayName"`
	ClusterService string `yaml:"clusterService"`
	VCS            string `yaml:"vcs"`
	Path           string `yaml:"path"`
	Hosted         *bool  `yaml:"hosted"`
}

// Repository converts to the engine's repository model.
func (rc RepositoryConfig) Repository() cluster.Repository {
	hosted := true
	if rc.Hosted != nil {
		hosted = *rc.Hosted
	}
	return cluster.Repository{
		ID:               rc.ID,
		DisplayName:      rc.DisplayName,
		ClusterServiceID: rc.ClusterService,
		VCS:              cluster.VCS(rc.VCS),
		Hosted:           hosted,
		WorkingCopyPath:  rc.Path,
	}
}

// Load reads, validates, and normalizes the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse validates and normalizes a YAML configuration document.
func Parse(raw []byte) (*Config, error) {
	// Decode generically first: the schema check runs against what the
	// file actually says, not against what the Go struct kept.
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := validate(doc); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

// validate unifies the decoded document with the embedded schema.
func validate(doc map[string]any) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("config schema has no #Config: %w", err)
	}

	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// normalize NFC-normalizes the identifiers that feed lock names.
func (c *Config) normalize() {
	c.Device = norm.NFC.String(c.Device)
	for i := range c.Repositories {
		c.Repositories[i].ID = norm.NFC.String(c.Repositories[i].ID)
		c.Repositories[i].ClusterService = norm.NFC.String(c.Repositories[i].ClusterService)
	}
}
