// Package preset holds the named prompt templates reports are generated
// from. Presets are static: they are loaded once at startup and read-only
// afterwards.
package preset

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sakif/github-report/internal/model"
)

// Placeholders recognized in prompt templates.
const (
	PlaceholderCommitData = "{{commit_data}}"
	PlaceholderUsername   = "{{username}}"
)

//go:embed presets.yaml
var builtin []byte

type file struct {
	Default string         `yaml:"default"`
	Presets []model.Preset `yaml:"presets"`
}

// Registry is an ordered, immutable set of presets.
type Registry struct {
	order      []string
	byKey      map[string]model.Preset
	defaultKey string
}

// Load returns the built-in presets, overlaid with the presets in path when
// path is non-empty. A preset in path replaces the built-in one with the same
// key; new keys are appended.
func Load(path string) (*Registry, error) {
	r := &Registry{byKey: make(map[string]model.Preset)}
	if err := r.merge(builtin); err != nil {
		return nil, fmt.Errorf("preset: parsing built-in presets: %w", err)
	}

	if path == "" {
		return r, r.validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("preset: presets file %s does not exist", path)
		}
		return nil, fmt.Errorf("preset: reading %s: %w", path, err)
	}
	if err := r.merge(data); err != nil {
		return nil, fmt.Errorf("preset: parsing %s: %w", path, err)
	}
	return r, r.validate()
}

func (r *Registry) merge(data []byte) error {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}

	for _, p := range f.Presets {
		p.Key = strings.TrimSpace(p.Key)
		if p.Key == "" {
			return errors.New("preset with empty key")
		}
		if _, exists := r.byKey[p.Key]; !exists {
			r.order = append(r.order, p.Key)
		}
		r.byKey[p.Key] = p
	}
	if f.Default != "" {
		r.defaultKey = f.Default
	}
	return nil
}

func (r *Registry) validate() error {
	if _, ok := r.byKey[r.defaultKey]; !ok {
		return fmt.Errorf("preset: default preset %q is not defined", r.defaultKey)
	}
	return nil
}

// Default returns the key used when a request names no preset.
func (r *Registry) Default() string {
	return r.defaultKey
}

// Lookup returns the preset for key.
func (r *Registry) Lookup(key string) (model.Preset, bool) {
	p, ok := r.byKey[key]
	return p, ok
}

// Has reports whether key names a preset.
func (r *Registry) Has(key string) bool {
	_, ok := r.byKey[key]
	return ok
}

// List returns every preset in definition order.
func (r *Registry) List() []model.Preset {
	out := make([]model.Preset, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byKey[k])
	}
	return out
}

// Render substitutes the activity digest and username into p's prompt.
func Render(p model.Preset, commitData, username string) string {
	return strings.NewReplacer(
		PlaceholderCommitData, commitData,
		PlaceholderUsername, username,
	).Replace(p.Prompt)
}
