package profile

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed profiles/*.yaml
var embedded embed.FS

var ErrUnknownProfile = errors.New("unknown call profile")

// Profile is the per-call-type configuration of the assistant.
type Profile struct {
	Name         string   `yaml:"name"`
	Greeting     string   `yaml:"greeting"`
	Tools        []string `yaml:"tools"`
	Instructions string   `yaml:"instructions"`

	tmpl *template.Template
}

// Hotel is one entry of the directory rendered into instructions.
type Hotel struct {
	Name string
	Area string
}

// Vars are the values available to instruction templates.
type Vars struct {
	CustomerNumber string
	Hotels         []Hotel
}

// Render produces the system instructions for one call.
func (p *Profile) Render(vars Vars) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render profile %s: %w", p.Name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Set holds the loaded profiles keyed by name.
type Set struct {
	profiles map[string]*Profile
}

// Load reads the built-in profiles, then overlays every *.yaml file in dir
// when dir is non-empty.
func Load(dir string) (*Set, error) {
	set := &Set{profiles: make(map[string]*Profile)}
	if err := set.loadFS(embedded, "profiles"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(dir) != "" {
		if err := set.loadFS(os.DirFS(dir), "."); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (s *Set) loadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read profiles: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read profile %s: %w", e.Name(), err)
		}
		p, err := Parse(raw)
		if err != nil {
			return fmt.Errorf("profile %s: %w", e.Name(), err)
		}
		s.profiles[p.Name] = p
	}
	return nil
}

// Parse decodes and validates one YAML profile.
func Parse(raw []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, errors.New("name is required")
	}
	if strings.TrimSpace(p.Instructions) == "" {
		return nil, errors.New("instructions are required")
	}
	tmpl, err := template.New(p.Name).Option("missingkey=error").Parse(p.Instructions)
	if err != nil {
		return nil, fmt.Errorf("parse instructions: %w", err)
	}
	p.tmpl = tmpl
	return &p, nil
}

// Get returns the named profile.
func (s *Set) Get(name string) (*Profile, error) {
	p, ok := s.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// Names lists loaded profile names in sorted order.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.profiles))
	for name := range s.profiles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
