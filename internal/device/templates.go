package device

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template is a named topic table for generic devices.
type Template struct {
	Name        string                   `yaml:"name" json:"name"`
	Description string                   `yaml:"description,omitempty" json:"description,omitempty"`
	Topics      map[string]TemplateTopic `yaml:"topics" json:"topics"`
}

// TemplateDB holds templates keyed by name.
type TemplateDB struct {
	defs map[string]*Template
}

// NewTemplateDB creates an empty template database.
func NewTemplateDB() *TemplateDB {
	return &TemplateDB{defs: make(map[string]*Template)}
}

// Add inserts a template, replacing any template of the same name.
func (db *TemplateDB) Add(t Template) {
	cp := t
	db.defs[t.Name] = &cp
}

// Lookup finds a template by name.
func (db *TemplateDB) Lookup(name string) *Template {
	return db.defs[name]
}

// Names returns the template names, sorted.
func (db *TemplateDB) Names() []string {
	names := make([]string, 0, len(db.defs))
	for n := range db.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of templates.
func (db *TemplateDB) Len() int {
	return len(db.defs)
}

// templateFile is the structure of files in the templates directory.
type templateFile struct {
	Templates []Template `yaml:"templates" json:"templates"`
}

// LoadTemplateDir reads every *.json, *.yaml and *.yml file in dir. Each
// template is checked by building its schema. A missing or empty directory
// yields an empty database, not an error.
func LoadTemplateDir(dir string, logger *slog.Logger) (*TemplateDB, error) {
	db := NewTemplateDB()
	if dir == "" {
		return db, nil
	}

	var matches []string
	for _, pattern := range []string{"*.json", "*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return db, fmt.Errorf("glob templates dir: %w", err)
		}
		matches = append(matches, m...)
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		logger.Info("no device template files found", "dir", dir)
		return db, nil
	}

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return db, fmt.Errorf("read %s: %w", path, err)
		}

		var tf templateFile
		if strings.HasSuffix(path, ".json") {
			err = json.Unmarshal(data, &tf)
		} else {
			err = yaml.Unmarshal(data, &tf)
		}
		if err != nil {
			return db, fmt.Errorf("parse %s: %w", path, err)
		}

		for _, t := range tf.Templates {
			if t.Name == "" {
				return db, fmt.Errorf("%s: template without name", path)
			}
			if _, err := BuildTemplate(t.Topics); err != nil {
				return db, fmt.Errorf("%s: template %s: %w", path, t.Name, err)
			}
			db.Add(t)
		}
		logger.Info("loaded template file", "path", filepath.Base(path), "templates", len(tf.Templates))
	}

	logger.Info("template database loaded", "files", len(matches), "templates", db.Len())
	return db, nil
}
