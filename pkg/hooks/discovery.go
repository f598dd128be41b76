package hooks

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"

	"github.com/ollm-run/ollmcore/pkg/plugins"
	"github.com/ollm-run/ollmcore/pkg/types"
)

// DirSource pairs a directory to scan with the trust source its hooks
// are registered under and an optional name prefix for extension hooks.
type DirSource struct {
	Dir    string
	Source types.HookSource
	Prefix string
}

// Discovery handles hook discovery from configured directories.
type Discovery struct {
	dirs []DirSource
}

// DiscoveryOption is a function that configures a Discovery
type DiscoveryOption func(*Discovery) error

// WithDefaultDirs initializes the standard scan order: workspace
// standalone hooks, workspace extension packages, user standalone
// hooks, then user extension packages. Standalone workspace hooks
// carry the workspace source; the user's own hooks directory carries
// the user source; extension package hooks carry the extension source.
func WithDefaultDirs() DiscoveryOption {
	return func(d *Discovery) error {
		discovery, err := plugins.NewDiscovery()
		if err != nil {
			return errors.Wrap(err, "failed to create extension discovery")
		}

		homeDir, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, "failed to get user home directory")
		}
		userHooksDir := filepath.Join(homeDir, ".ollm", "hooks")

		for _, cfg := range discovery.HookDirs() {
			source := types.HookSourceExtension
			if cfg.Prefix == "" {
				if cfg.Dir == userHooksDir {
					source = types.HookSourceUser
				} else {
					source = types.HookSourceWorkspace
				}
			}
			d.dirs = append(d.dirs, DirSource{Dir: cfg.Dir, Source: source, Prefix: cfg.Prefix})
		}
		return nil
	}
}

// WithDirSources sets custom hook directories (for testing).
func WithDirSources(dirs ...DirSource) DiscoveryOption {
	return func(d *Discovery) error {
		d.dirs = dirs
		return nil
	}
}

// NewDiscovery creates a new hook discovery instance
func NewDiscovery(opts ...DiscoveryOption) (*Discovery, error) {
	d := &Discovery{}

	if len(opts) == 0 {
		if err := WithDefaultDirs()(d); err != nil {
			return nil, err
		}
	} else {
		for _, opt := range opts {
			if err := opt(d); err != nil {
				return nil, err
			}
		}
	}

	return d, nil
}

// Discover finds all available hooks from the configured directories
// and registers them into a fresh Registry. Hooks are discovered in
// precedence order, with earlier directories shadowing later ones for
// the same hook name.
func (d *Discovery) Discover() (*Registry, error) {
	registry := NewRegistry()
	seen := make(map[string]bool)

	for _, dirSource := range d.dirs {
		entries, err := os.ReadDir(dirSource.Dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "failed to read hook directory %s", dirSource.Dir)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			// Skip disabled hooks (names ending with .disable)
			if ok, _ := doublestar.Match("*.disable", entry.Name()); ok {
				continue
			}

			hookPath := filepath.Join(dirSource.Dir, entry.Name())

			// Check if executable
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.Mode()&0o111 == 0 {
				continue
			}

			hookName := entry.Name()
			if dirSource.Prefix != "" {
				hookName = dirSource.Prefix + entry.Name()
			}

			// Earlier directories have precedence
			if seen[hookName] {
				continue
			}
			seen[hookName] = true

			event, err := queryHookEvent(hookPath)
			if err != nil {
				continue
			}

			extensionName := strings.TrimSuffix(dirSource.Prefix, "/")
			registry.Register(types.Hook{
				Name:          hookName,
				Event:         event,
				Command:       hookPath,
				Source:        dirSource.Source,
				SourcePath:    hookPath,
				ExtensionName: extensionName,
			})
		}
	}

	return registry, nil
}

// queryHookEvent executes the hook with the "hook" argument to
// determine which lifecycle event it subscribes to.
func queryHookEvent(hookPath string) (types.HookEvent, error) {
	cmd := exec.Command(hookPath, "hook")
	output, err := cmd.Output()
	if err != nil {
		return "", errors.Wrap(err, "failed to query hook event")
	}

	event := types.HookEvent(strings.TrimSpace(string(output)))
	for _, known := range types.AllHookEvents {
		if event == known {
			return event, nil
		}
	}
	return "", errors.Errorf("invalid hook event: %s", event)
}
