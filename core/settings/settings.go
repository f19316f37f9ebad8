package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"loomctl/core/log"
)

const (
	DefaultMainBranch = "main"
	DefaultBasePort   = 3000
	DefaultEnvVar     = "DATABASE_URL"

	settingsDir       = ".loom"
	settingsFile      = "settings.toml"
	localSettingsFile = "settings.local.toml"
)

var defaultProtectedBranches = []string{"main", "master", "develop"}

// Settings is the project configuration read from .loom/settings.toml,
// overlaid by the untracked .loom/settings.local.toml.
type Settings struct {
	MainBranch        string            `toml:"main_branch"`
	ProtectedBranches []string          `toml:"protected_branches"`
	ParentBranch      string            `toml:"parent_branch"`
	Database          DatabaseSettings  `toml:"database"`
	DevServer         DevServerSettings `toml:"dev_server"`
}

type DatabaseSettings struct {
	Provider  string `toml:"provider"`
	EnvVar    string `toml:"env_var"`
	ProjectID string `toml:"project_id"`
}

type DevServerSettings struct {
	BasePort int `toml:"base_port"`
}

// Load reads the settings for the project checked out at dir. Missing files
// are not an error; defaults are applied to whatever is absent.
func Load(dir string) (*Settings, error) {
	s := &Settings{}

	for _, name := range []string{settingsFile, localSettingsFile} {
		path := filepath.Join(dir, settingsDir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		if _, err := toml.DecodeFile(path, s); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		log.Debug("Loaded settings from %s", path)
	}

	s.applyDefaults()
	return s, nil
}

func (s *Settings) applyDefaults() {
	s.MainBranch = strings.TrimSpace(s.MainBranch)
	if s.MainBranch == "" {
		s.MainBranch = DefaultMainBranch
	}
	if s.ProtectedBranches == nil {
		s.ProtectedBranches = append([]string(nil), defaultProtectedBranches...)
	}
	s.ProtectedBranches = ProtectedSet(s.MainBranch, s.ProtectedBranches)
	if s.Database.EnvVar == "" {
		s.Database.EnvVar = DefaultEnvVar
	}
}

// ProtectedSet returns main followed by the configured branches, without
// duplicates or blanks.
func ProtectedSet(mainBranch string, configured []string) []string {
	seen := make(map[string]bool, len(configured)+1)
	set := make([]string, 0, len(configured)+1)

	for _, branch := range append([]string{mainBranch}, configured...) {
		branch = strings.TrimSpace(branch)
		if branch == "" || seen[branch] {
			continue
		}
		seen[branch] = true
		set = append(set, branch)
	}
	return set
}

// Provider answers branch-policy questions for a given directory.
type Provider struct{}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) MainBranch(cwd string) (string, error) {
	s, err := Load(cwd)
	if err != nil {
		return "", err
	}
	return s.MainBranch, nil
}

// ProtectedBranches always includes the main branch.
func (p *Provider) ProtectedBranches(cwd string) ([]string, error) {
	s, err := Load(cwd)
	if err != nil {
		return nil, err
	}
	return s.ProtectedBranches, nil
}

// MergeTargetBranch is the parent loom's branch for nested looms, otherwise
// the main branch. It must be called while worktreePath still exists.
func (p *Provider) MergeTargetBranch(worktreePath string) (string, error) {
	s, err := Load(worktreePath)
	if err != nil {
		return "", err
	}
	if parent := strings.TrimSpace(s.ParentBranch); parent != "" {
		return parent, nil
	}
	return s.MainBranch, nil
}
