// Package config resolves ruledeck settings from flags, RULEDECK_* env
// vars, a YAML file under the XDG config dir, and built-in defaults, in
// that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"ruledeck/internal/git"
)

// RelPath is the config file location relative to the XDG config dirs.
const RelPath = "ruledeck/config.yaml"

const envPrefix = "RULEDECK_"

type Config struct {
	BackendURL  string        `yaml:"backend_url"`
	RepoURL     string        `yaml:"repo_url"`
	BaseBranch  string        `yaml:"base_branch"`
	HomeBranch  string        `yaml:"home_branch"`
	Forge       string        `yaml:"forge"`        // backend | github | gitlab | auto
	BranchNames string        `yaml:"branch_names"` // remote | local
	DraftPRs    bool          `yaml:"draft_prs"`
	Timeout     time.Duration `yaml:"timeout"`
	LogFile     string        `yaml:"log_file"`
	LogLevel    string        `yaml:"log_level"`

	// Path is the file the config was read from, empty if none.
	Path string `yaml:"-"`
}

func Defaults() Config {
	return Config{
		BackendURL:  "http://localhost:8080",
		BaseBranch:  "main",
		HomeBranch:  "main",
		Forge:       "backend",
		BranchNames: "remote",
		Timeout:     30 * time.Second,
		LogLevel:    "info",
	}
}

// field ties a setting to its flag, env var and struct slot.
type field struct {
	flag  string
	usage string
	str   func(*Config) *string
	dur   func(*Config) *time.Duration
	bool  func(*Config) *bool
}

var fields = []field{
	{flag: "backend-url", usage: "rule backend base URL", str: func(c *Config) *string { return &c.BackendURL }},
	{flag: "repo-url", usage: "git repository the rules are published to", str: func(c *Config) *string { return &c.RepoURL }},
	{flag: "base-branch", usage: "branch pull requests target", str: func(c *Config) *string { return &c.BaseBranch }},
	{flag: "home-branch", usage: "branch re-pulled after a publish", str: func(c *Config) *string { return &c.HomeBranch }},
	{flag: "forge", usage: "who opens pull requests: backend, github, gitlab, auto", str: func(c *Config) *string { return &c.Forge }},
	{flag: "branch-names", usage: "branch naming: remote (backend) or local", str: func(c *Config) *string { return &c.BranchNames }},
	{flag: "draft-prs", usage: "open pull requests as drafts (github, gitlab)", bool: func(c *Config) *bool { return &c.DraftPRs }},
	{flag: "timeout", usage: "per-request timeout", dur: func(c *Config) *time.Duration { return &c.Timeout }},
	{flag: "log-file", usage: "log file path", str: func(c *Config) *string { return &c.LogFile }},
	{flag: "log-level", usage: "log level: debug, info, warn, error", str: func(c *Config) *string { return &c.LogLevel }},
}

func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// RegisterFlags defines the config flags on flags, plus --config.
func RegisterFlags(flags *pflag.FlagSet) {
	d := Defaults()
	flags.String("config", "", "config file (default $XDG_CONFIG_HOME/"+RelPath+")")
	for _, f := range fields {
		switch {
		case f.dur != nil:
			flags.Duration(f.flag, *f.dur(&d), f.usage)
			continue
		case f.bool != nil:
			flags.Bool(f.flag, *f.bool(&d), f.usage)
			continue
		}
		flags.String(f.flag, *f.str(&d), f.usage)
	}
}

// Load resolves the config. flags must have been set up by RegisterFlags and
// parsed; getenv is usually os.Getenv.
func Load(flags *pflag.FlagSet, getenv func(string) string) (Config, error) {
	cfg := Defaults()

	path, _ := flags.GetString("config")
	if path == "" {
		path = getenv(envPrefix + "CONFIG")
	}
	explicit := path != ""
	if !explicit {
		if p, err := xdg.SearchConfigFile(RelPath); err == nil {
			path = p
		}
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return cfg, err
			}
		} else {
			cfg.Path = path
		}
	}

	for _, f := range fields {
		v := getenv(envName(f.flag))
		if v == "" {
			continue
		}
		if f.dur != nil {
			d, err := time.ParseDuration(v)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", envName(f.flag), err)
			}
			*f.dur(&cfg) = d
			continue
		}
		if f.bool != nil {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return cfg, fmt.Errorf("%s: %w", envName(f.flag), err)
			}
			*f.bool(&cfg) = b
			continue
		}
		*f.str(&cfg) = v
	}

	for _, f := range fields {
		if !flags.Changed(f.flag) {
			continue
		}
		if f.dur != nil {
			d, err := flags.GetDuration(f.flag)
			if err != nil {
				return cfg, err
			}
			*f.dur(&cfg) = d
			continue
		}
		if f.bool != nil {
			b, err := flags.GetBool(f.flag)
			if err != nil {
				return cfg, err
			}
			*f.bool(&cfg) = b
			continue
		}
		v, err := flags.GetString(f.flag)
		if err != nil {
			return cfg, err
		}
		*f.str(&cfg) = v
	}

	return cfg, cfg.Validate()
}

func (c *Config) readFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend url %q: must be an http(s) URL", c.BackendURL)
	}
	if c.RepoURL != "" {
		if _, err := transport.NewEndpoint(c.RepoURL); err != nil {
			return fmt.Errorf("repo url %q: %w", c.RepoURL, err)
		}
	}
	for _, b := range []struct{ name, v string }{{"base branch", c.BaseBranch}, {"home branch", c.HomeBranch}} {
		if err := git.ValidateBranch(b.v); err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
	}
	switch c.Forge {
	case "backend", "github", "gitlab", "auto":
	default:
		return fmt.Errorf("forge %q: want backend, github, gitlab or auto", c.Forge)
	}
	switch c.BranchNames {
	case "remote", "local":
	default:
		return fmt.Errorf("branch names %q: want remote or local", c.BranchNames)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// RequireRepo reports an error when no repository is configured; publishing
// needs one.
func (c Config) RequireRepo() error {
	if c.RepoURL == "" {
		return fmt.Errorf("no repository configured: set --repo-url, %sREPO_URL or repo_url in %s", envPrefix, RelPath)
	}
	return nil
}
