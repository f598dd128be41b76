package plugins

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

const (
	skillFileName = "SKILL.md"
	extensionsDir = "extensions"
	skillsSubdir  = "skills"
	hooksSubdir   = "hooks"
	ollmDir       = ".ollm"

	// disabledGlob matches entries switched off by renaming, e.g.
	// "audit.sh.disable" or a whole "org@repo.disable" package.
	disabledGlob = "*.disable"
)

// DirConfig is one directory to scan, with the name prefix its entries
// receive ("org@repo/" for extension packages, empty for standalone).
type DirConfig struct {
	Dir    string
	Prefix string
}

// Discovery locates skills and hooks contributed by installed extension
// packages and by the standalone .ollm directories, in precedence order:
// workspace standalone > workspace extensions > user standalone > user
// extensions.
type Discovery struct {
	baseDir string // workspace-local base, normally ".ollm"
	homeDir string
}

// DiscoveryOption configures a Discovery instance
type DiscoveryOption func(*Discovery) error

// WithBaseDir sets a custom workspace base directory (for testing)
func WithBaseDir(dir string) DiscoveryOption {
	return func(d *Discovery) error {
		d.baseDir = dir
		return nil
	}
}

// WithHomeDir sets a custom home directory (for testing)
func WithHomeDir(dir string) DiscoveryOption {
	return func(d *Discovery) error {
		d.homeDir = dir
		return nil
	}
}

// NewDiscovery creates a new extension discovery instance
func NewDiscovery(opts ...DiscoveryOption) (*Discovery, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user home directory")
	}

	d := &Discovery{
		baseDir: ollmDir,
		homeDir: homeDir,
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// disabled reports whether a directory entry has been switched off by
// the ".disable" rename convention.
func disabled(name string) bool {
	ok, err := doublestar.Match(disabledGlob, name)
	return err == nil && ok
}

// packagePrefix converts an extension directory name to a skill/hook
// name prefix: "org@repo" becomes "org/repo/".
func packagePrefix(dirName string) string {
	return strings.ReplaceAll(dirName, "@", "/") + "/"
}

// SkillDirs returns the skill discovery directories in precedence order.
func (d *Discovery) SkillDirs() []DirConfig {
	dirs := []DirConfig{
		{Dir: filepath.Join(d.baseDir, skillsSubdir)},
	}
	dirs = append(dirs, d.packageSubdirs(d.baseDir, skillsSubdir)...)
	dirs = append(dirs, DirConfig{Dir: filepath.Join(d.homeDir, ollmDir, skillsSubdir)})
	dirs = append(dirs, d.packageSubdirs(filepath.Join(d.homeDir, ollmDir), skillsSubdir)...)
	return dirs
}

// HookDirs returns the hook discovery directories in precedence order.
func (d *Discovery) HookDirs() []DirConfig {
	dirs := []DirConfig{
		{Dir: filepath.Join(d.baseDir, hooksSubdir)},
	}
	dirs = append(dirs, d.packageSubdirs(d.baseDir, hooksSubdir)...)
	dirs = append(dirs, DirConfig{Dir: filepath.Join(d.homeDir, ollmDir, hooksSubdir)})
	dirs = append(dirs, d.packageSubdirs(filepath.Join(d.homeDir, ollmDir), hooksSubdir)...)
	return dirs
}

// packageSubdirs returns the <extensions>/<org@repo>/<subdir> directories
// under baseDir that exist and are not disabled.
func (d *Discovery) packageSubdirs(baseDir, subdir string) []DirConfig {
	pkgRoot := filepath.Join(baseDir, extensionsDir)
	entries, err := os.ReadDir(pkgRoot)
	if err != nil {
		return nil
	}

	var dirs []DirConfig
	for _, entry := range entries {
		if !entry.IsDir() || disabled(entry.Name()) {
			continue
		}
		dir := filepath.Join(pkgRoot, entry.Name(), subdir)
		if _, err := os.Stat(dir); err == nil {
			dirs = append(dirs, DirConfig{Dir: dir, Prefix: packagePrefix(entry.Name())})
		}
	}
	return dirs
}

// Packages lists the installed extension packages under both the
// workspace and user extension roots, with the skills and hooks each
// contributes.
func (d *Discovery) Packages() []InstalledPackage {
	var pkgs []InstalledPackage
	seen := make(map[string]bool)
	for _, root := range []string{
		filepath.Join(d.baseDir, extensionsDir),
		filepath.Join(d.homeDir, ollmDir, extensionsDir),
	} {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || disabled(entry.Name()) || seen[entry.Name()] {
				continue
			}
			seen[entry.Name()] = true
			path := filepath.Join(root, entry.Name())
			pkgs = append(pkgs, InstalledPackage{
				Name:   entry.Name(),
				Path:   path,
				Skills: d.listSkills(filepath.Join(path, skillsSubdir)),
				Hooks:  d.listHooks(filepath.Join(path, hooksSubdir)),
			})
		}
	}
	return pkgs
}

// DiscoverAll discovers every skill and hook extension visible from the
// configured roots, standalone entries first so they shadow package
// entries of the same name.
func (d *Discovery) DiscoverAll() ([]Extension, error) {
	var exts []Extension
	seen := make(map[string]bool)

	for _, cfg := range d.SkillDirs() {
		for _, ext := range d.discoverSkillsFromDir(cfg) {
			if !seen[ext.Kind.String()+":"+ext.Name] {
				seen[ext.Kind.String()+":"+ext.Name] = true
				exts = append(exts, ext)
			}
		}
	}
	for _, cfg := range d.HookDirs() {
		for _, ext := range d.discoverHooksFromDir(cfg) {
			if !seen[ext.Kind.String()+":"+ext.Name] {
				seen[ext.Kind.String()+":"+ext.Name] = true
				exts = append(exts, ext)
			}
		}
	}
	return exts, nil
}

// String renders the extension kind for logging and dedupe keys.
func (k Kind) String() string { return string(k) }

func (d *Discovery) discoverSkillsFromDir(cfg DirConfig) []Extension {
	entries, err := os.ReadDir(cfg.Dir)
	if err != nil {
		return nil
	}

	var exts []Extension
	for _, entry := range entries {
		if !entry.IsDir() || disabled(entry.Name()) {
			continue
		}
		skillPath := filepath.Join(cfg.Dir, entry.Name(), skillFileName)
		name, description, err := parseSkillFrontmatter(skillPath)
		if err != nil {
			logrus.WithError(err).WithField("path", skillPath).Debug("skipping invalid skill")
			continue
		}
		exts = append(exts, Extension{
			Name:        cfg.Prefix + name,
			Description: description,
			Directory:   filepath.Join(cfg.Dir, entry.Name()),
			Kind:        KindSkill,
			Package:     strings.TrimSuffix(cfg.Prefix, "/"),
		})
	}
	return exts
}

func (d *Discovery) discoverHooksFromDir(cfg DirConfig) []Extension {
	var exts []Extension
	for _, name := range d.listHooks(cfg.Dir) {
		exts = append(exts, Extension{
			Name:      cfg.Prefix + name,
			Directory: cfg.Dir,
			Kind:      KindHook,
			Package:   strings.TrimSuffix(cfg.Prefix, "/"),
		})
	}
	return exts
}

func (d *Discovery) listSkills(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || disabled(entry.Name()) {
			continue
		}
		name, _, err := parseSkillFrontmatter(filepath.Join(dir, entry.Name(), skillFileName))
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (d *Discovery) listHooks(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || disabled(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Mode()&0o111 == 0 {
			continue
		}
		names = append(names, entry.Name())
	}
	return names
}

// parseSkillFrontmatter reads the name and description out of a
// SKILL.md's YAML frontmatter.
func parseSkillFrontmatter(path string) (string, string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to read skill file")
	}

	md := goldmark.New(goldmark.WithExtensions(meta.Meta))
	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return "", "", errors.Wrap(err, "failed to parse markdown")
	}

	metaData := meta.Get(pctx)
	if metaData == nil {
		return "", "", errors.New("missing frontmatter")
	}
	name, _ := metaData["name"].(string)
	description, _ := metaData["description"].(string)
	if name == "" {
		return "", "", errors.New("skill name is required in frontmatter")
	}
	if description == "" {
		return "", "", errors.New("skill description is required in frontmatter")
	}
	return name, description, nil
}
