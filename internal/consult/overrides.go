package consult

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"mediinterpret/internal/domain"
)

// overrideFile is the YAML schema for catalog overrides. Every field is
// optional; empty values keep the built-in text.
//
//	disclaimer: |
//	  ...
//	categories:
//	  imaging:
//	    title: Radiology
//	    suggestions: ["..."]
type overrideFile struct {
	Disclaimer *string                      `yaml:"disclaimer"`
	Formatting *string                      `yaml:"formatting"`
	Categories map[string]categoryOverrides `yaml:"categories"`
}

type categoryOverrides struct {
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Icon        string   `yaml:"icon"`
	Accent      string   `yaml:"accent"`
	Welcome     string   `yaml:"welcome"`
	Suggestions []string `yaml:"suggestions"`
	Role        string   `yaml:"role"`
}

// Load returns the built-in catalog with overrides from path applied. A
// missing file is not an error.
func Load(path string, logger *slog.Logger) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("catalog overrides not found, using built-in categories", "path", path)
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog overrides: %w", err)
	}

	if err := c.ApplyYAML(data); err != nil {
		return nil, fmt.Errorf("catalog overrides %s: %w", path, err)
	}
	logger.Info("loaded catalog overrides", "path", path)
	return c, nil
}

// ApplyYAML merges YAML overrides into the catalog. Unknown category keys
// are rejected so typos do not go unnoticed.
func (c *Catalog) ApplyYAML(data []byte) error {
	var f overrideFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	if f.Disclaimer != nil {
		c.disclaimer = *f.Disclaimer
	}
	if f.Formatting != nil {
		c.formatting = *f.Formatting
	}

	for key, o := range f.Categories {
		t, err := ParseType(key)
		if err != nil {
			return err
		}
		c.categories[t] = mergeCategory(c.categories[t], o)
	}
	return nil
}

func mergeCategory(base Category, o categoryOverrides) Category {
	if o.Title != "" {
		base.Title = o.Title
	}
	if o.Description != "" {
		base.Description = o.Description
	}
	if o.Icon != "" {
		base.Icon = o.Icon
	}
	if o.Accent != "" {
		base.Accent = o.Accent
	}
	if o.Welcome != "" {
		base.Welcome = o.Welcome
	}
	if len(o.Suggestions) > 0 {
		base.Suggestions = append([]string(nil), o.Suggestions...)
	}
	if o.Role != "" {
		base.Role = o.Role
	}
	return base
}

// Types returns the category identifiers in display order.
func (c *Catalog) Types() []domain.ConsultationType {
	return append([]domain.ConsultationType(nil), c.order...)
}
