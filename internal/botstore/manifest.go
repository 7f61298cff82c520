package botstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ManifestFiles are the descriptor names looked up in a package directory, in
// order of preference.
var ManifestFiles = []string{"manifest.json", "manifest.yaml", "manifest.yml"}

// ErrNoManifest is returned for a directory without any descriptor file.
var ErrNoManifest = errors.New("no manifest")

// ErrInvalidManifest wraps every schema violation.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest declares a package and the capabilities it asks for.
type Manifest struct {
	Name         string       `json:"name" yaml:"name" validate:"required,pkgname"`
	DisplayName  string       `json:"displayName" yaml:"displayName" validate:"required"`
	Version      string       `json:"version" yaml:"version" validate:"required"`
	Description  string       `json:"description" yaml:"description" validate:"required"`
	Author       string       `json:"author,omitempty" yaml:"author,omitempty"`
	Homepage     string       `json:"homepage,omitempty" yaml:"homepage,omitempty" validate:"omitempty,url"`
	License      string       `json:"license,omitempty" yaml:"license,omitempty"`
	Tags         []string     `json:"tags" yaml:"tags"`
	Capabilities []string     `json:"capabilities" yaml:"capabilities"`
	Permissions  *Permissions `json:"permissions" yaml:"permissions" validate:"required"`
	Entrypoints  *Entrypoints `json:"entrypoints,omitempty" yaml:"entrypoints,omitempty"`
}

// Permissions is the allowlist a package requests. Empty lists grant nothing.
type Permissions struct {
	Tools   []string            `json:"tools" yaml:"tools" validate:"dive,required"`
	Files   *FilePermissions    `json:"files,omitempty" yaml:"files,omitempty"`
	Network *NetworkPermissions `json:"network,omitempty" yaml:"network,omitempty"`
}

type FilePermissions struct {
	Read  []string `json:"read" yaml:"read" validate:"dive,required,glob"`
	Write []string `json:"write" yaml:"write" validate:"dive,required,glob"`
}

type NetworkPermissions struct {
	Allow []string `json:"allow" yaml:"allow" validate:"dive,required,glob"`
}

type Entrypoints struct {
	Runbook  string    `json:"runbook,omitempty" yaml:"runbook,omitempty"`
	Commands []Command `json:"commands" yaml:"commands" validate:"dive"`
}

// Command is a named script a package offers. Scripts are listed, never run.
type Command struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	Description string `json:"description" yaml:"description" validate:"required"`
	Script      string `json:"script" yaml:"script" validate:"required"`
}

var pkgName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func manifestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("glob", func(fl validator.FieldLevel) bool {
			return doublestar.ValidatePattern(fl.Field().String())
		})
		_ = validate.RegisterValidation("pkgname", func(fl validator.FieldLevel) bool {
			return pkgName.MatchString(fl.Field().String())
		})
	})
	return validate
}

// Validate checks the manifest against the schema and fills in empty lists.
func (m *Manifest) Validate() error {
	if err := manifestValidator().Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: %s", strings.TrimPrefix(fe.Namespace(), "Manifest."), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidManifest, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	m.normalize()
	return nil
}

func (m *Manifest) normalize() {
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if m.Capabilities == nil {
		m.Capabilities = []string{}
	}
	if m.Permissions.Tools == nil {
		m.Permissions.Tools = []string{}
	}
	if f := m.Permissions.Files; f != nil {
		if f.Read == nil {
			f.Read = []string{}
		}
		if f.Write == nil {
			f.Write = []string{}
		}
	}
	if n := m.Permissions.Network; n != nil && n.Allow == nil {
		n.Allow = []string{}
	}
	if e := m.Entrypoints; e != nil && e.Commands == nil {
		e.Commands = []Command{}
	}
}

// ParseManifest decodes data as JSON or YAML, chosen by the file name's
// extension, and validates the result.
func ParseManifest(name string, data []byte) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, name, err)
		}
	default:
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, name, err)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindManifest returns the path of the descriptor in dir.
func FindManifest(dir string) (string, error) {
	for _, name := range ManifestFiles {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoManifest, dir)
}

// LoadManifest reads and validates the descriptor in dir.
func LoadManifest(dir string) (*Manifest, string, error) {
	path, err := FindManifest(dir)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	m, err := ParseManifest(path, data)
	if err != nil {
		return nil, path, err
	}
	return m, path, nil
}

// AllowsTool reports whether the package declared the named tool.
func (p *Permissions) AllowsTool(tool string) bool {
	for _, t := range p.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

// AllowsRead reports whether path matches one of the read globs.
func (p *Permissions) AllowsRead(path string) bool {
	if p.Files == nil {
		return false
	}
	return matchAny(p.Files.Read, filepath.ToSlash(path))
}

// AllowsWrite reports whether path matches one of the write globs.
func (p *Permissions) AllowsWrite(path string) bool {
	if p.Files == nil {
		return false
	}
	return matchAny(p.Files.Write, filepath.ToSlash(path))
}

// AllowsHost reports whether host matches one of the network globs, for
// example "*.github.com".
func (p *Permissions) AllowsHost(host string) bool {
	if p.Network == nil {
		return false
	}
	return matchAny(p.Network.Allow, strings.ToLower(host))
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
