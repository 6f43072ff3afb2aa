package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/gitmesh/gitmesh/internal/utils"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".gitmesh", "config.yaml")
	DefaultDataDir    = filepath.Join(home, ".gitmesh")

	// DefaultConflictBranchFormat names the branch a peer's divergent head is
	// renamed to before the retried push: the first %s is the pushing host id,
	// the second is the branch name.
	DefaultConflictBranchFormat = "lost+found/%s/%s"

	DefaultPushTimeout = 2 * time.Minute
)

// ControlPlane configures the local admin/status HTTP server.
type ControlPlane struct {
	Addr  string `mapstructure:"addr" json:"addr"`
	Token string `mapstructure:"token" json:"-"`
}

// Source describes one repository tracked across hosts: the local checkout
// and the map of peer host id -> repository path on that host.
type Source struct {
	Name  string            `mapstructure:"name" json:"name"`
	Path  string            `mapstructure:"path" json:"path"`
	Peers map[string]string `mapstructure:"peers" json:"peers"`
}

type Config struct {
	Host                 string        `mapstructure:"host" json:"host"`
	DataDir              string        `mapstructure:"data_dir" json:"data_dir"`
	ConflictBranchFormat string        `mapstructure:"conflict_branch_format" json:"conflict_branch_format"`
	PushTimeout          time.Duration `mapstructure:"push_timeout" json:"push_timeout"`
	ResetWorkingCopies   bool          `mapstructure:"reset_working_copies" json:"reset_working_copies"`
	ControlPlane         ControlPlane  `mapstructure:"control_plane" json:"control_plane"`
	Sources              []Source      `mapstructure:"sources" json:"sources"`
}

// DefaultHostID identifies this host for peers. A stable per-machine id is
// preferred so renaming the box doesn't orphan cached push state; hostname is
// the fallback.
func DefaultHostID() string {
	if id, err := machineid.ProtectedID("gitmesh"); err == nil && id != "" {
		// full protected ids are unwieldy in branch names
		return "host-" + id[:12]
	}
	name, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return name
}

func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHostID()
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.ConflictBranchFormat == "" {
		c.ConflictBranchFormat = DefaultConflictBranchFormat
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = DefaultPushTimeout
	}
}

func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host id cannot be empty")
	}
	if strings.Count(c.ConflictBranchFormat, "%s") != 2 {
		return fmt.Errorf("conflict_branch_format must contain exactly two %%s placeholders, got %q", c.ConflictBranchFormat)
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("no sources configured")
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Name == "" {
			return fmt.Errorf("source %d: name cannot be empty", i)
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("source %q: duplicate name", src.Name)
		}
		seen[src.Name] = struct{}{}

		path, err := utils.ResolvePath(src.Path)
		if err != nil {
			return fmt.Errorf("source %q: %w", src.Name, err)
		}
		src.Path = path

		for host, peerPath := range src.Peers {
			if host == "" {
				return fmt.Errorf("source %q: peer host cannot be empty", src.Name)
			}
			if host == c.Host {
				return fmt.Errorf("source %q: peer %q is this host", src.Name, host)
			}
			if peerPath == "" {
				return fmt.Errorf("source %q: peer %q has no path", src.Name, host)
			}
		}
	}

	return nil
}

// SourceByName returns the source config with the given name, or nil.
func (c *Config) SourceByName(name string) *Source {
	for i := range c.Sources {
		if c.Sources[i].Name == name {
			return &c.Sources[i]
		}
	}
	return nil
}
