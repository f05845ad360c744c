// Package workflow loads the catalog of operator-runnable workflows and
// triggers them over webhooks.
package workflow

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Spec describes one runnable workflow from the catalog file.
type Spec struct {
	ID         string        `mapstructure:"id" validate:"required"`
	Title      string        `mapstructure:"title" validate:"required"`
	WebhookURL string        `mapstructure:"webhook_url" validate:"required,url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type catalogFile struct {
	Workflows []Spec `mapstructure:"workflows" validate:"required,dive"`
}

// Catalog holds the loaded workflow specs, keyed by id.
type Catalog struct {
	specs map[string]Spec
	order []string
}

// LoadCatalog reads and validates a YAML workflow catalog.
func LoadCatalog(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read workflow catalog: %w", err)
	}

	var file catalogFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("unmarshal workflow catalog: %w", err)
	}

	valid := validator.New()
	if err := valid.Struct(file); err != nil {
		return nil, fmt.Errorf("validate workflow catalog: %w", err)
	}

	c := &Catalog{specs: make(map[string]Spec, len(file.Workflows))}
	for _, spec := range file.Workflows {
		if _, dup := c.specs[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate workflow id %q", spec.ID)
		}
		c.specs[spec.ID] = spec
		c.order = append(c.order, spec.ID)
	}
	return c, nil
}

// EmptyCatalog returns a catalog with no workflows, for running without a
// catalog file.
func EmptyCatalog() *Catalog {
	return &Catalog{specs: make(map[string]Spec)}
}

// Find returns the spec for an id.
func (c *Catalog) Find(id string) (Spec, bool) {
	s, ok := c.specs[id]
	return s, ok
}

// Specs returns the specs in file order.
func (c *Catalog) Specs() []Spec {
	out := make([]Spec, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.specs[id])
	}
	return out
}

// Len returns the number of workflows.
func (c *Catalog) Len() int {
	return len(c.specs)
}
