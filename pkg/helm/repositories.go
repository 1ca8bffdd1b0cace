package helm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"sigs.k8s.io/yaml"
)

// RegisteredRepositories answers whether helm already knows a repository name.
type RegisteredRepositories interface {
	Registered(name string) bool
}

// RepositorySet is a fixed set of registered repository names.
type RepositorySet map[string]bool

func (s RepositorySet) Registered(name string) bool { return s[name] }

// RepositoryEntry is one repository listed in repositories.yaml.
type RepositoryEntry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type repositoryFileContent struct {
	Repositories []RepositoryEntry `json:"repositories"`
}

// RepositoryFile reads helm's repositories.yaml on every lookup so that
// repositories added by concurrent commands are seen immediately.
type RepositoryFile struct {
	path string
}

func NewRepositoryFile(path string) *RepositoryFile {
	if path == "" {
		path = DefaultRepositoryConfigPath()
	}
	return &RepositoryFile{path: path}
}

func (f *RepositoryFile) Path() string { return f.path }

// Registered returns false when the file is missing or unreadable; the
// add step is then emitted and helm itself decides.
func (f *RepositoryFile) Registered(name string) bool {
	entries, err := f.Entries()
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// Entries returns the name/url pairs listed in the file.
func (f *RepositoryFile) Entries() ([]RepositoryEntry, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	var content repositoryFileContent
	if err := yaml.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return content.Repositories, nil
}

// DefaultRepositoryConfigPath mirrors helm's lookup: $HELM_REPOSITORY_CONFIG,
// then $XDG_CONFIG_HOME/helm, then the user config directory.
func DefaultRepositoryConfigPath() string {
	if p := os.Getenv("HELM_REPOSITORY_CONFIG"); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			base = dir
		} else {
			base = "."
		}
	}
	return filepath.Join(base, "helm", "repositories.yaml")
}
