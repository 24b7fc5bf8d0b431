// Package prompt renders the natural-language requests sent to the executor.
package prompt

import (
	"embed"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Template names.
const (
	Analyze     = "analyze.tmpl"
	Competition = "competition.tmpl"
	Plan        = "plan.tmpl"
	Execute     = "execute.tmpl"
	Sync        = "sync.tmpl"
	Lesson      = "lesson.tmpl"
)

// Target identifies the issue and repository a prompt is about.
type Target struct {
	IssueURL string
	Repo     string
}

type AnalyzeData struct {
	Target
	// Lessons from earlier submissions to the same repository.
	Lessons []string
}

type PlanData struct {
	Target
	Analysis any
}

type ExecuteData struct {
	Target
	Guidelines  string
	Plan        any
	StyleRules  map[string]string
	LintCommand string
	TestCommand string
	Gotchas     []string
}

type SyncData struct {
	RepoURL string
}

type LessonData struct {
	Repo     string
	Feedback string
}

// Renderer executes the embedded templates. It is safe for concurrent use.
type Renderer struct {
	tmpl *template.Template
}

var funcs = template.FuncMap{
	"bullets": bullets,
	"json":    indentJSON,
	"kv":      keyValues,
	"orNone":  orNone,
}

func New() (*Renderer, error) {
	tmpl, err := template.New("prompts").Funcs(funcs).ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Render executes the named template with data.
func (r *Renderer) Render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := r.tmpl.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return sb.String(), nil
}

func (r *Renderer) Analyze(d AnalyzeData) (string, error) { return r.Render(Analyze, d) }
func (r *Renderer) Competition(t Target) (string, error)   { return r.Render(Competition, t) }
func (r *Renderer) Plan(d PlanData) (string, error)        { return r.Render(Plan, d) }
func (r *Renderer) Execute(d ExecuteData) (string, error)  { return r.Render(Execute, d) }
func (r *Renderer) Sync(d SyncData) (string, error)        { return r.Render(Sync, d) }
func (r *Renderer) Lesson(d LessonData) (string, error)    { return r.Render(Lesson, d) }

func bullets(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "- " + it
	}
	return strings.Join(lines, "\n")
}

func indentJSON(v any) string {
	if raw, ok := v.(json.RawMessage); ok && len(raw) == 0 {
		return "{}"
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil || string(b) == "null" {
		return "{}"
	}
	return string(b)
}

func keyValues(m map[string]string) string {
	if len(m) == 0 {
		return "None"
	}
	keys := slices.Sorted(maps.Keys(m))
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = fmt.Sprintf("- %s: %s", k, m[k])
	}
	return strings.Join(lines, "\n")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
