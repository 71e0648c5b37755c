package tree

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Template is the project template and workflow scheme a project is
// recreated with.
type Template struct {
	Template string `yaml:"template"`
	Workflow string `yaml:"workflow"`
}

// Templates maps projects to templates, by key first and then by project type.
//
//	projects:
//	  IT: {template: com.pyxis.greenhopper.jira:gh-simplified-scrum-classic, workflow: IT Workflow}
//	types:
//	  software: {template: com.pyxis.greenhopper.jira:gh-simplified-kanban-classic}
type Templates struct {
	Projects map[string]Template `yaml:"projects"`
	Types    map[string]Template `yaml:"types"`
}

// LoadTemplates reads a template mapping file.
func LoadTemplates(path string) (Templates, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Templates{}, fmt.Errorf("read templates: %w", err)
	}
	var t Templates
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Templates{}, fmt.Errorf("parse templates %s: %w", path, err)
	}
	return t, nil
}

// For returns the template of a project.
func (t Templates) For(key, projectType string) (Template, bool) {
	if tpl, ok := t.Projects[key]; ok {
		return tpl, true
	}
	tpl, ok := t.Types[projectType]
	return tpl, ok
}
