// Package interview holds the catalog of consulting firms, their interview
// formats and the scenario bank the coach runs for each format.
//
// The catalog ships embedded in the binary. [Catalog.BuildPrompt] turns a
// (firm, interview type) pair into the block of instructions appended to the
// coach's system prompt.
package interview

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embedded string

// Company is one consulting firm and the interview formats it runs.
type Company struct {
	Slug       string      `yaml:"slug"       json:"slug"`
	Name       string      `yaml:"name"       json:"company"`
	Interviews []Interview `yaml:"interviews" json:"interviews"`
}

// Interview describes a single interview format.
type Interview struct {
	Type        string `yaml:"type"        json:"type"`
	Description string `yaml:"description" json:"description"`
	Phrasing    string `yaml:"phrasing"    json:"phrasing"`
	Evaluation  string `yaml:"evaluation"  json:"evaluation"`
	Tips        string `yaml:"tips"        json:"tips"`

	// Case is the scenario the coach runs. Nil when the format has none.
	Case *Case `yaml:"case" json:"-"`
}

// Case is a firm-authentic scenario. Only the facilitator sees it; the
// candidate has to earn the held-back blocks.
type Case struct {
	Roleplay        string     `yaml:"roleplay"`
	Title           string     `yaml:"title"`
	InitialPrompt   string     `yaml:"initial_prompt"`
	OpeningQuestion string     `yaml:"opening_question"`
	Clarifications  []string   `yaml:"clarifications"`
	Followups       []string   `yaml:"followups"`
	HeldBack        []HeldBack `yaml:"held_back"`
	Instructions    string     `yaml:"instructions"`
	Notes           string     `yaml:"notes"`
}

// HeldBack is a block of data revealed only on request. In YAML it is either
// a plain string or a mapping with label and details.
type HeldBack struct {
	Label   string `yaml:"label"`
	Details string `yaml:"details"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *HeldBack) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		h.Label = ""
		h.Details = value.Value
		return nil
	}
	type plain HeldBack
	return value.Decode((*plain)(h))
}

// Catalog is an immutable set of companies.
type Catalog struct {
	companies []Company
	bySlug    map[string]int
}

// Load decodes and validates a catalog from r.
func Load(r io.Reader) (*Catalog, error) {
	var doc struct {
		Companies []Company `yaml:"companies"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("interview: decode catalog: %w", err)
	}

	var errs []error
	c := &Catalog{companies: doc.Companies, bySlug: make(map[string]int, len(doc.Companies))}
	for i, co := range doc.Companies {
		if co.Slug == "" || co.Name == "" {
			errs = append(errs, fmt.Errorf("companies[%d]: slug and name are required", i))
			continue
		}
		if _, dup := c.bySlug[co.Slug]; dup {
			errs = append(errs, fmt.Errorf("companies[%d]: duplicate slug %q", i, co.Slug))
			continue
		}
		c.bySlug[co.Slug] = i
		seen := make(map[string]bool, len(co.Interviews))
		for j, iv := range co.Interviews {
			switch {
			case iv.Type == "":
				errs = append(errs, fmt.Errorf("%s.interviews[%d]: type is required", co.Slug, j))
			case seen[iv.Type]:
				errs = append(errs, fmt.Errorf("%s.interviews[%d]: duplicate type %q", co.Slug, j, iv.Type))
			}
			seen[iv.Type] = true
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("interview: invalid catalog: %w", err)
	}
	return c, nil
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	return Load(strings.NewReader(embedded))
})

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return defaultCatalog()
}

// Companies returns every company in catalog order.
func (c *Catalog) Companies() []Company {
	out := make([]Company, len(c.companies))
	copy(out, c.companies)
	return out
}

// Lookup returns the company and interview format for the pair.
func (c *Catalog) Lookup(slug, interviewType string) (Company, Interview, bool) {
	i, ok := c.bySlug[slug]
	if !ok {
		return Company{}, Interview{}, false
	}
	co := c.companies[i]
	for _, iv := range co.Interviews {
		if iv.Type == interviewType {
			return co, iv, true
		}
	}
	return Company{}, Interview{}, false
}

// Valid reports whether the pair exists in the catalog.
func (c *Catalog) Valid(slug, interviewType string) bool {
	_, _, ok := c.Lookup(slug, interviewType)
	return ok
}
