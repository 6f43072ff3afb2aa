package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Host:                 "host-local",
		DataDir:              "/tmp/gitmesh",
		ConflictBranchFormat: DefaultConflictBranchFormat,
		PushTimeout:          time.Minute,
		Sources: []Source{
			{
				Name:  "proj",
				Path:  "/srv/proj",
				Peers: map[string]string{"host-a": "/a/proj"},
			},
		},
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.NotEmpty(t, cfg.Host)
	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, DefaultConflictBranchFormat, cfg.ConflictBranchFormat)
	assert.Equal(t, DefaultPushTimeout, cfg.PushTimeout)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		Host:        "host-x",
		DataDir:     "/data",
		PushTimeout: time.Second,
	}
	cfg.ApplyDefaults()

	assert.Equal(t, "host-x", cfg.Host)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.Equal(t, time.Second, cfg.PushTimeout)
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "empty host",
			mutate: func(c *Config) { c.Host = "" },
			want:   "host id",
		},
		{
			name:   "format missing placeholder",
			mutate: func(c *Config) { c.ConflictBranchFormat = "lost+found/%s" },
			want:   "conflict_branch_format",
		},
		{
			name:   "format too many placeholders",
			mutate: func(c *Config) { c.ConflictBranchFormat = "%s/%s/%s" },
			want:   "conflict_branch_format",
		},
		{
			name:   "no sources",
			mutate: func(c *Config) { c.Sources = nil },
			want:   "no sources",
		},
		{
			name:   "unnamed source",
			mutate: func(c *Config) { c.Sources[0].Name = "" },
			want:   "name cannot be empty",
		},
		{
			name:   "duplicate source name",
			mutate: func(c *Config) { c.Sources = append(c.Sources, c.Sources[0]) },
			want:   "duplicate name",
		},
		{
			name:   "peer is this host",
			mutate: func(c *Config) { c.Sources[0].Peers["host-local"] = "/x" },
			want:   "is this host",
		},
		{
			name:   "peer without path",
			mutate: func(c *Config) { c.Sources[0].Peers["host-b"] = "" },
			want:   "has no path",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateResolvesSourcePaths(t *testing.T) {
	cfg := validConfig()
	cfg.Sources[0].Path = "~/proj"
	require.NoError(t, cfg.Validate())
	assert.NotContains(t, cfg.Sources[0].Path, "~")
}

func TestSourceByName(t *testing.T) {
	cfg := validConfig()

	src := cfg.SourceByName("proj")
	require.NotNil(t, src)
	assert.Equal(t, "/srv/proj", src.Path)

	assert.Nil(t, cfg.SourceByName("missing"))
}

func TestDefaultHostID(t *testing.T) {
	id := DefaultHostID()
	assert.NotEmpty(t, id)
	assert.Equal(t, id, DefaultHostID(), "host id must be stable")
}
