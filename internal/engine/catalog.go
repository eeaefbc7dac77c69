package engine

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/davidmoltin/site-integrations/internal/models"
)

//go:embed templates.yaml
var defaultTemplates []byte

type catalogFile struct {
	Templates []models.ActionTemplate `yaml:"templates"`
}

// Catalog is the immutable set of action templates, keyed by action type
type Catalog struct {
	templates map[string]models.ActionTemplate
	order     []string
}

// NewCatalog builds a catalog. Template ids must be unique.
func NewCatalog(templates ...models.ActionTemplate) (*Catalog, error) {
	c := &Catalog{templates: make(map[string]models.ActionTemplate, len(templates))}
	for _, t := range templates {
		if t.ID == "" {
			return nil, fmt.Errorf("%w: template without id", ErrInvalidCatalog)
		}
		if _, dup := c.templates[t.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate template %s", ErrInvalidCatalog, t.ID)
		}
		c.templates[t.ID] = t
		c.order = append(c.order, t.ID)
	}
	return c, nil
}

// ParseCatalog decodes a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return NewCatalog(file.Templates...)
}

// LoadCatalog reads the catalog at path, or the built-in catalog when path is empty
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(defaultTemplates)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read action templates: %w", err)
	}
	return ParseCatalog(data)
}

// Get returns the template for an action type
func (c *Catalog) Get(actionType string) (models.ActionTemplate, bool) {
	t, ok := c.templates[actionType]
	return t, ok
}

// List returns all templates in declaration order
func (c *Catalog) List() []models.ActionTemplate {
	out := make([]models.ActionTemplate, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.templates[id])
	}
	return out
}

// Len returns the number of templates
func (c *Catalog) Len() int {
	return len(c.order)
}

// Validate checks every step against the operation registry. Steps may only
// depend on steps declared before them.
func (c *Catalog) Validate(ops *OperationRegistry) error {
	var errs []error
	for _, id := range c.order {
		t := c.templates[id]
		if len(t.Steps) == 0 {
			errs = append(errs, fmt.Errorf("template %s has no steps", id))
		}

		seen := make(map[string]bool, len(t.Steps))
		for _, step := range t.Steps {
			where := fmt.Sprintf("template %s step %s", id, step.StepID)
			switch {
			case step.StepID == "":
				errs = append(errs, fmt.Errorf("template %s has a step without step_id", id))
				continue
			case seen[step.StepID]:
				errs = append(errs, fmt.Errorf("%s: duplicate step id", where))
			}

			if !ops.Has(step.Platform, step.Operation) {
				errs = append(errs, fmt.Errorf("%s: %w %s.%s", where, ErrUnknownOperation, step.Platform, step.Operation))
			}
			if step.RollbackOperation != "" && !ops.Has(step.Platform, step.RollbackOperation) {
				errs = append(errs, fmt.Errorf("%s: rollback %w %s.%s", where, ErrUnknownOperation, step.Platform, step.RollbackOperation))
			}
			if step.Timeout < 0 {
				errs = append(errs, fmt.Errorf("%s: negative timeout", where))
			}
			for _, dep := range step.DependsOn {
				if !seen[dep] {
					errs = append(errs, fmt.Errorf("%s: depends on %q which is not declared before it", where, dep))
				}
			}
			seen[step.StepID] = true
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidCatalog, errors.Join(errs...))
	}
	return nil
}
