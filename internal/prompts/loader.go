// Package prompts embeds the markdown instruction templates behind the
// LLM-backed pipeline stages and renders them by literal placeholder
// substitution.
package prompts

import (
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed templates/*.md
var templateFS embed.FS

// Template is one named prompt with its raw markdown body.
type Template struct {
	Name    string
	Content string
}

// Loader holds the embedded prompt templates addressed by name.
type Loader struct {
	templates map[string]*Template
}

// New loads every embedded template. The template name is the file name
// without the .md suffix.
func New() (*Loader, error) {
	loader := &Loader{templates: make(map[string]*Template)}

	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("read prompt templates: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		content, err := templateFS.ReadFile("templates/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read prompt template %s: %w", entry.Name(), err)
		}
		name := strings.TrimSuffix(entry.Name(), ".md")
		loader.templates[name] = &Template{Name: name, Content: string(content)}
	}

	return loader, nil
}

// Get returns the raw template by name.
func (l *Loader) Get(name string) (*Template, error) {
	template, ok := l.templates[name]
	if !ok {
		return nil, fmt.Errorf("prompt template %q not found", name)
	}
	return template, nil
}

// Render substitutes {{name}} placeholders with the given values. Placeholders
// without a value are left in place so a missing variable shows up in the
// rendered prompt instead of vanishing silently.
func (l *Loader) Render(name string, vars map[string]string) (string, error) {
	template, err := l.Get(name)
	if err != nil {
		return "", err
	}

	content := template.Content
	for key, value := range vars {
		content = strings.ReplaceAll(content, "{{"+key+"}}", value)
	}
	return content, nil
}

// Names returns the available template names in sorted order.
func (l *Loader) Names() []string {
	names := make([]string, 0, len(l.templates))
	for name := range l.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
