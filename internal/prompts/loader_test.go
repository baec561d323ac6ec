package prompts

import (
	"regexp"
	"sort"
	"strings"
	"testing"
)

func TestNewLoadsEmbeddedTemplates(t *testing.T) {
	loader, err := New()
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	want := []string{"breakdown_task", "extract_task"}
	got := loader.Names()
	if len(got) != len(want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", got, want)
		}
	}

	for _, name := range want {
		template, err := loader.Get(name)
		if err != nil {
			t.Fatalf("Get(%q) returned error: %v", name, err)
		}
		if strings.TrimSpace(template.Content) == "" {
			t.Fatalf("template %q is empty", name)
		}
	}
}

func TestGetUnknownTemplate(t *testing.T) {
	loader, err := New()
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := loader.Get("summarize_week"); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestRenderSubstitutesPlaceholders(t *testing.T) {
	loader, err := New()
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	rendered, err := loader.Render("extract_task", map[string]string{
		"current_time_utc":    "2025-06-02T10:00:00Z",
		"existing_tasks_json": "[]",
		"user_input":          "finish the report by Friday",
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if strings.Contains(rendered, "{{") {
		t.Fatalf("rendered prompt still contains placeholders:\n%s", rendered)
	}
	if !strings.Contains(rendered, "finish the report by Friday") {
		t.Fatal("rendered prompt missing user input")
	}
	if !strings.Contains(rendered, "2025-06-02T10:00:00Z") {
		t.Fatal("rendered prompt missing current time")
	}
}

func TestRenderLeavesUnknownPlaceholders(t *testing.T) {
	loader, err := New()
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	rendered, err := loader.Render("extract_task", map[string]string{
		"user_input": "add a task",
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if !strings.Contains(rendered, "{{existing_tasks_json}}") {
		t.Fatal("expected unsupplied placeholder to stay visible")
	}
}

// Each template must declare exactly the variables its caller supplies, or
// prompts drift out from under the agents rendering them.
func TestTemplateVariables(t *testing.T) {
	loader, err := New()
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	want := map[string][]string{
		"extract_task":   {"current_time_utc", "existing_tasks_json", "user_input"},
		"breakdown_task": {"current_time_utc", "preferences_json", "task_json"},
	}

	placeholder := regexp.MustCompile(`\{\{([a-z_]+)\}\}`)
	for name, wantVars := range want {
		template, err := loader.Get(name)
		if err != nil {
			t.Fatalf("Get(%q) returned error: %v", name, err)
		}

		seen := map[string]bool{}
		for _, match := range placeholder.FindAllStringSubmatch(template.Content, -1) {
			seen[match[1]] = true
		}
		got := make([]string, 0, len(seen))
		for v := range seen {
			got = append(got, v)
		}
		sort.Strings(got)

		if len(got) != len(wantVars) {
			t.Fatalf("template %q variables = %v, want %v", name, got, wantVars)
		}
		for i := range wantVars {
			if got[i] != wantVars[i] {
				t.Fatalf("template %q variables = %v, want %v", name, got, wantVars)
			}
		}
	}
}
