package gemini

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/dvloznov/finance-analyst/internal/agent"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var promptsYAML []byte

// Prompts is a parsed set of prompt templates.
type Prompts struct {
	tmpl *template.Template
}

var requiredPrompts = []string{"dates", "financial_context", "system", "write", "check", "repair", "respond"}

// LoadPrompts parses a YAML document of named templates.
func LoadPrompts(data []byte) (*Prompts, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("LoadPrompts: decoding yaml: %w", err)
	}

	root := template.New("prompts").Funcs(template.FuncMap{
		"sub": func(a, b int) int { return a - b },
	})
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := root.New(name).Parse(raw[name]); err != nil {
			return nil, fmt.Errorf("LoadPrompts: parsing %s: %w", name, err)
		}
	}

	for _, name := range requiredPrompts {
		if root.Lookup(name) == nil {
			return nil, fmt.Errorf("LoadPrompts: missing template %q", name)
		}
	}
	return &Prompts{tmpl: root}, nil
}

// DefaultPrompts returns the embedded templates. It panics if they do not
// parse, which only a broken build can cause.
func DefaultPrompts() *Prompts {
	p, err := LoadPrompts(promptsYAML)
	if err != nil {
		panic(err)
	}
	return p
}

// Render executes the named template.
func (p *Prompts) Render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

type systemData struct {
	Dates agent.DateContext
}

type writeData struct {
	agent.QueryRequest
}

type checkData struct {
	agent.CheckRequest
}

type repairData struct {
	agent.RepairRequest
}

type respondData struct {
	Question  string
	SQL       string
	Rows      []map[string]interface{}
	Truncated bool
	Table     string
}

const maxPromptRows = 50

// resultTable renders rows as a pipe-separated table, at most maxPromptRows.
func resultTable(columns []string, rows []map[string]interface{}) string {
	if len(rows) == 0 {
		return "(no rows)\n"
	}
	if len(columns) == 0 {
		for k := range rows[0] {
			columns = append(columns, k)
		}
		sort.Strings(columns)
	}

	var b strings.Builder
	b.WriteString(strings.Join(columns, " | "))
	b.WriteString("\n")
	for i, row := range rows {
		if i == maxPromptRows {
			fmt.Fprintf(&b, "... %d more rows\n", len(rows)-maxPromptRows)
			break
		}
		cells := make([]string, len(columns))
		for j, col := range columns {
			if v, ok := row[col]; ok && v != nil {
				cells[j] = fmt.Sprint(v)
			} else {
				cells[j] = "NULL"
			}
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	return b.String()
}
