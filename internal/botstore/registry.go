package botstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when no available package has the given name.
var ErrNotFound = errors.New("package not found")

const (
	ReasonAlreadyInstalled = "already-installed"
	ReasonNotInstalled     = "not-installed"

	// CatalogFile is written into the public directory by BuildCatalog.
	CatalogFile = "catalog.json"
)

// Package is a directory holding a manifest. Manifest is nil and Err is set
// when the descriptor exists but does not validate.
type Package struct {
	Name         string // directory name
	Path         string
	ManifestPath string
	Manifest     *Manifest
	Err          error
}

// Result reports whether an install or uninstall changed anything.
type Result struct {
	Changed bool   `json:"changed"`
	Reason  string `json:"reason,omitempty"`
}

// Catalog is the document written by BuildCatalog.
type Catalog struct {
	GeneratedAt string      `json:"generatedAt"`
	Packages    []*Manifest `json:"packages"`
}

// Registry manages the available and installed package directories.
type Registry struct {
	packagesDir  string
	installedDir string
	publicDir    string
	now          func() time.Time

	mu sync.Mutex
}

// NewRegistry creates a registry over the given directories. They are created
// on first use.
func NewRegistry(packagesDir, installedDir, publicDir string) *Registry {
	return &Registry{
		packagesDir:  packagesDir,
		installedDir: installedDir,
		publicDir:    publicDir,
		now:          time.Now,
	}
}

func (r *Registry) PackagesDir() string  { return r.packagesDir }
func (r *Registry) InstalledDir() string { return r.installedDir }
func (r *Registry) PublicDir() string    { return r.publicDir }

func (r *Registry) ensureDirs() error {
	for _, dir := range []string{r.packagesDir, r.installedDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Available lists the packages that can be installed, sorted by name.
func (r *Registry) Available() ([]Package, error) {
	if err := r.ensureDirs(); err != nil {
		return nil, err
	}
	return scan(r.packagesDir)
}

// Installed lists the installed packages, sorted by name.
func (r *Registry) Installed() ([]Package, error) {
	if err := r.ensureDirs(); err != nil {
		return nil, err
	}
	return scan(r.installedDir)
}

// scan reads every subdirectory of dir that holds a manifest. Hidden
// directories and directories without one are skipped.
func scan(dir string) ([]Package, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	pkgs := []Package{}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p := Package{Name: e.Name(), Path: filepath.Join(dir, e.Name())}
		m, manifestPath, err := LoadManifest(p.Path)
		if errors.Is(err, ErrNoManifest) {
			continue
		}
		p.Manifest, p.ManifestPath, p.Err = m, manifestPath, err
		if err != nil {
			slog.Warn("Skipping invalid package manifest", "path", manifestPath, "error", err)
		}
		pkgs = append(pkgs, p)
	}

	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	return pkgs, nil
}

// Find returns the available package with the given directory name.
func (r *Registry) Find(name string) (*Package, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err := r.ensureDirs(); err != nil {
		return nil, err
	}
	p := Package{Name: name, Path: filepath.Join(r.packagesDir, name)}
	if info, err := os.Stat(p.Path); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	m, manifestPath, err := LoadManifest(p.Path)
	if errors.Is(err, ErrNoManifest) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	p.Manifest, p.ManifestPath = m, manifestPath
	return &p, nil
}

// IsInstalled reports whether an installed copy of name exists.
func (r *Registry) IsInstalled(name string) bool {
	if !validName(name) {
		return false
	}
	info, err := os.Stat(filepath.Join(r.installedDir, name))
	return err == nil && info.IsDir()
}

// Install copies the package directory into the installed directory. Nothing
// in the package is executed. An existing installed copy is left alone.
func (r *Registry) Install(name string) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.Find(name)
	if err != nil {
		return Result{}, err
	}
	dest := filepath.Join(r.installedDir, name)
	if _, err := os.Stat(dest); err == nil {
		return Result{Reason: ReasonAlreadyInstalled}, nil
	}

	staging, err := os.MkdirTemp(r.installedDir, "."+name+"-")
	if err != nil {
		return Result{}, fmt.Errorf("failed to stage install of %s: %w", name, err)
	}
	if err := copyDir(p.Path, staging); err != nil {
		_ = os.RemoveAll(staging)
		return Result{}, fmt.Errorf("failed to copy %s: %w", name, err)
	}
	if err := os.Rename(staging, dest); err != nil {
		_ = os.RemoveAll(staging)
		return Result{}, fmt.Errorf("failed to install %s: %w", name, err)
	}

	slog.Info("Installed package", "name", name, "version", p.Manifest.Version)
	return Result{Changed: true}, nil
}

// Uninstall removes the installed copy of name.
func (r *Registry) Uninstall(name string) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.IsInstalled(name) {
		return Result{Reason: ReasonNotInstalled}, nil
	}
	if err := os.RemoveAll(filepath.Join(r.installedDir, name)); err != nil {
		return Result{}, fmt.Errorf("failed to uninstall %s: %w", name, err)
	}
	slog.Info("Uninstalled package", "name", name)
	return Result{Changed: true}, nil
}

// BuildCatalog writes the manifests of all valid available packages to
// CatalogFile in the public directory and returns its path.
func (r *Registry) BuildCatalog() (string, error) {
	pkgs, err := r.Available()
	if err != nil {
		return "", err
	}
	catalog := Catalog{
		GeneratedAt: r.now().UTC().Format(time.RFC3339Nano),
		Packages:    []*Manifest{},
	}
	for _, p := range pkgs {
		if p.Manifest != nil {
			catalog.Packages = append(catalog.Packages, p.Manifest)
		}
	}

	data, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode catalog: %w", err)
	}
	if err := os.MkdirAll(r.publicDir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", r.publicDir, err)
	}
	path := filepath.Join(r.publicDir, CatalogFile)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write catalog: %w", err)
	}
	return path, nil
}

// Checksum returns the hex SHA-256 of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// validName rejects names that would escape the package directories.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		filepath.Base(name) == name && pkgName.MatchString(name)
}

// copyDir copies regular files and directories from src into dest, which
// must exist. Symlinks and other special files are skipped.
func copyDir(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case d.IsDir():
			if rel == "." {
				return nil
			}
			return os.MkdirAll(target, 0o750)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dest string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
