// Package agents binds each role to its instructions and model tier and
// adapts roles to the debate engine and the analyst stage.
package agents

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dyike/cortexdesk/consts"
)

//go:embed roles.yaml prompts
var assets embed.FS

type Tier string

const (
	TierQuick Tier = "quick"
	TierDeep  Tier = "deep"
)

// RoleSpec is one entry of roles.yaml with its prompt loaded.
type RoleSpec struct {
	Role         consts.Role `yaml:"-"`
	Title        string      `yaml:"title"`
	Prompt       string      `yaml:"prompt"`
	Tier         Tier        `yaml:"tier"`
	Memory       bool        `yaml:"memory"`
	Instructions string      `yaml:"-"`
}

type Registry struct {
	roles map[consts.Role]RoleSpec
}

// LoadRegistry parses the embedded role table.
func LoadRegistry() (*Registry, error) {
	return loadRegistry(assets)
}

// LoadPrompt reads prompts/<path>.md from fsys.
func LoadPrompt(fsys fs.FS, path string) (string, error) {
	content, err := fs.ReadFile(fsys, fmt.Sprintf("prompts/%s.md", path))
	if err != nil {
		return "", fmt.Errorf("failed to load prompt %s: %w", path, err)
	}
	return strings.TrimSpace(string(content)), nil
}

func loadRegistry(fsys fs.FS) (*Registry, error) {
	data, err := fs.ReadFile(fsys, "roles.yaml")
	if err != nil {
		return nil, fmt.Errorf("read roles.yaml: %w", err)
	}
	var doc struct {
		Roles map[string]RoleSpec `yaml:"roles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse roles.yaml: %w", err)
	}

	reg := &Registry{roles: make(map[consts.Role]RoleSpec, len(doc.Roles))}
	for name, spec := range doc.Roles {
		role := consts.Role(name)
		if !role.Valid() {
			return nil, fmt.Errorf("roles.yaml: unknown role %q", name)
		}
		switch spec.Tier {
		case "":
			spec.Tier = TierQuick
		case TierQuick, TierDeep:
		default:
			return nil, fmt.Errorf("roles.yaml: role %s has unknown tier %q", name, spec.Tier)
		}
		if spec.Title == "" {
			spec.Title = name
		}
		spec.Role = role
		if spec.Instructions, err = LoadPrompt(fsys, spec.Prompt); err != nil {
			return nil, err
		}
		reg.roles[role] = spec
	}

	var missing []string
	for _, role := range consts.Roles() {
		if _, ok := reg.roles[role]; !ok {
			missing = append(missing, string(role))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("roles.yaml: missing roles %s", strings.Join(missing, ", "))
	}
	return reg, nil
}

func (r *Registry) Spec(role consts.Role) (RoleSpec, bool) {
	spec, ok := r.roles[role]
	return spec, ok
}

// Title returns the display name of role, or the role id when unknown.
func (r *Registry) Title(role consts.Role) string {
	if spec, ok := r.roles[role]; ok {
		return spec.Title
	}
	return string(role)
}
