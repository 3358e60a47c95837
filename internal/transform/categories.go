package transform

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var defaultCategoriesYAML string

// Category is one entry of the keyword table.
type Category struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type categoryFile struct {
	Fallback   string     `yaml:"fallback"`
	Categories []Category `yaml:"categories"`
}

// CategoryTable resolves account categories. It is read-only after loading
// and safe for concurrent use.
type CategoryTable struct {
	fallback   string
	categories []Category
}

// LoadCategories parses a YAML keyword table.
func LoadCategories(r io.Reader) (*CategoryTable, error) {
	var f categoryFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("LoadCategories: decoding yaml: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, errors.New("LoadCategories: no categories defined")
	}

	t := &CategoryTable{fallback: strings.TrimSpace(f.Fallback)}
	if t.fallback == "" {
		t.fallback = "Other"
	}
	for i, c := range f.Categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("LoadCategories: category %d has no name", i)
		}
		kws := make([]string, 0, len(c.Keywords))
		for _, kw := range c.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				kws = append(kws, kw)
			}
		}
		t.categories = append(t.categories, Category{Name: name, Keywords: kws})
	}
	return t, nil
}

// LoadCategoriesFile reads a keyword table from path.
func LoadCategoriesFile(path string) (*CategoryTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadCategoriesFile: %w", err)
	}
	defer f.Close()
	return LoadCategories(f)
}

// DefaultCategories returns the embedded keyword table.
func DefaultCategories() *CategoryTable {
	t, err := LoadCategories(strings.NewReader(defaultCategoriesYAML))
	if err != nil {
		panic(fmt.Sprintf("embedded categories.yaml: %v", err))
	}
	return t
}

// Resolve returns the parent name verbatim when present, otherwise the first
// keyword match on the account name, otherwise the fallback.
func (t *CategoryTable) Resolve(parent, accountName string) string {
	if p := strings.TrimSpace(parent); p != "" {
		return p
	}
	return t.Match(accountName)
}

// Match does a case-insensitive keyword search over name.
func (t *CategoryTable) Match(name string) string {
	lower := strings.ToLower(name)
	for _, c := range t.categories {
		for _, kw := range c.Keywords {
			if strings.Contains(lower, kw) {
				return c.Name
			}
		}
	}
	return t.fallback
}

// Fallback is the category assigned when nothing matches.
func (t *CategoryTable) Fallback() string { return t.fallback }

// Names lists the categories in match order, followed by the fallback.
func (t *CategoryTable) Names() []string {
	names := make([]string, 0, len(t.categories)+1)
	for _, c := range t.categories {
		names = append(names, c.Name)
	}
	return append(names, t.fallback)
}
