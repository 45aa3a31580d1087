package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Prompt placeholders expanded at the start of every run.
const (
	PlaceholderDateTime = "{{datetime}}"
	PlaceholderDate     = "{{date}}"
)

// Definition overrides the built-in prompt and display names of one agent
// variant. Empty fields keep the built-in values.
type Definition struct {
	Type         Type              `json:"type" yaml:"type"`
	Prompt       string            `json:"prompt" yaml:"prompt"`
	DisplayNames map[string]string `json:"display_names" yaml:"display_names"`
}

type definitionsFile struct {
	Agents []Definition `json:"agents" yaml:"agents"`
}

// Definitions is a set of validated overrides keyed by variant. The zero
// value serves the built-ins.
type Definitions struct {
	byType map[Type]Definition
}

// LoadDefinitions reads agent definitions from a JSON or YAML file and
// validates them.
func LoadDefinitions(path string) (Definitions, error) {
	if path == "" {
		return Definitions{}, fmt.Errorf("definitions file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("failed to read definitions file: %w", err)
	}

	var file definitionsFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return Definitions{}, fmt.Errorf("failed to parse JSON definitions: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Definitions{}, fmt.Errorf("failed to parse YAML definitions: %w", err)
		}
	default:
		return Definitions{}, fmt.Errorf("unsupported definitions format: %s (supported: .json, .yaml, .yml)", ext)
	}

	return NewDefinitions(file.Agents)
}

// NewDefinitions validates defs: every type must be a known variant and
// appear once, and every entry must override something.
func NewDefinitions(defs []Definition) (Definitions, error) {
	byType := make(map[Type]Definition, len(defs))
	for i, def := range defs {
		if strings.TrimSpace(string(def.Type)) == "" {
			return Definitions{}, fmt.Errorf("agent definition at index %d: type is required", i)
		}
		t, err := ParseType(string(def.Type))
		if err != nil {
			return Definitions{}, fmt.Errorf("agent definition at index %d: %w", i, err)
		}
		if _, dup := byType[t]; dup {
			return Definitions{}, fmt.Errorf("duplicate agent definition: %s", t)
		}
		if strings.TrimSpace(def.Prompt) == "" && len(def.DisplayNames) == 0 {
			return Definitions{}, fmt.Errorf("agent definition %s overrides nothing", t)
		}
		def.Type = t
		byType[t] = def
	}
	return Definitions{byType: byType}, nil
}

// Len returns the number of overridden variants.
func (d Definitions) Len() int {
	return len(d.byType)
}

// Prompt returns the prompt builder for t.
func (d Definitions) Prompt(t Type) PromptFunc {
	def, ok := d.byType[t]
	if !ok || strings.TrimSpace(def.Prompt) == "" {
		return SystemPrompt(t)
	}
	template := def.Prompt
	return func(now time.Time) string {
		local := now.In(beijing)
		return strings.NewReplacer(
			PlaceholderDateTime, local.Format("2006年01月02日 15:04:05"),
			PlaceholderDate, local.Format("2006-01-02"),
		).Replace(template)
	}
}

// DisplayName returns the user-facing name of t in locale.
func (d Definitions) DisplayName(t Type, locale string) string {
	if def, ok := d.byType[t]; ok {
		if name := def.DisplayNames[locale]; name != "" {
			return name
		}
	}
	return t.DisplayName(locale)
}
