// Package catalogue loads the static indicator templates, one per meeting
// kind. A catalogue seeds a scope's first records and re-attaches the
// explanations the store does not keep.
package catalogue

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"agendas/api/internal/board"
)

//go:embed catalogues/*.yaml
var builtinFiles embed.FS

var ErrUnknownKind = errors.New("unknown meeting kind")

type Branch struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

type Indicator struct {
	Name        string `yaml:"name" json:"name"`
	Target      string `yaml:"target" json:"target"`
	Explanation string `yaml:"explanation" json:"explanation"`
}

type Category struct {
	Name       string      `yaml:"name" json:"name"`
	Objective  string      `yaml:"objective" json:"objective"`
	Indicators []Indicator `yaml:"indicators" json:"indicators"`
}

// Catalogue is the template for one meeting kind.
type Catalogue struct {
	Kind          string       `yaml:"kind" json:"kind"`
	Title         string       `yaml:"title" json:"title"`
	Mission       string       `yaml:"mission" json:"mission"`
	DefaultStatus board.Status `yaml:"default_status" json:"defaultStatus"`
	ReadingList   []string     `yaml:"reading_list" json:"readingList"`
	Branches      []Branch     `yaml:"branches" json:"branches"`
	Categories    []Category   `yaml:"categories" json:"categories"`
}

func (c *Catalogue) validate() error {
	if strings.TrimSpace(c.Kind) == "" {
		return errors.New("kind is required")
	}
	if _, err := board.ParseStatus(string(c.DefaultStatus)); err != nil {
		return fmt.Errorf("default_status: %w", err)
	}
	seen := map[board.RecordKey]bool{}
	for _, category := range c.Categories {
		if strings.TrimSpace(category.Name) == "" {
			return errors.New("category name is required")
		}
		for _, indicator := range category.Indicators {
			key := board.RecordKey{Category: category.Name, KPIName: indicator.Name}
			if strings.TrimSpace(indicator.Name) == "" {
				return fmt.Errorf("category %q: indicator name is required", category.Name)
			}
			if seen[key] {
				return fmt.Errorf("duplicate indicator %q in category %q", indicator.Name, category.Name)
			}
			seen[key] = true
		}
	}
	return nil
}

// DefaultRecords returns the seed records of the catalogue in catalogue
// order.
func (c *Catalogue) DefaultRecords() []board.Record {
	var records []board.Record
	for _, category := range c.Categories {
		for _, indicator := range category.Indicators {
			records = append(records, c.defaultRecord(category.Name, indicator))
		}
	}
	return records
}

func (c *Catalogue) defaultRecord(category string, indicator Indicator) board.Record {
	return board.Record{
		Category:    category,
		KPIName:     indicator.Name,
		Target:      indicator.Target,
		Status:      c.DefaultStatus,
		Explanation: indicator.Explanation,
	}
}

// DefaultMetadata is the metadata a meeting starts with.
func (c *Catalogue) DefaultMetadata() board.Metadata {
	return board.Metadata{ReadingList: c.ReadingList}.Clone()
}

func (c *Catalogue) HasBranch(id string) bool {
	return slices.ContainsFunc(c.Branches, func(b Branch) bool { return b.ID == id })
}

// Join merges stored rows with the catalogue. Stored actual, status and
// actions always win; the catalogue supplies the explanation and a target
// when the stored one is empty. Catalogue entries with no stored row are
// returned in missing with their defaults and are also part of records.
// Stored rows the catalogue no longer lists are kept as history.
func (c *Catalogue) Join(stored []board.Record) (records, missing []board.Record) {
	byKey := make(map[board.RecordKey]board.Record, len(stored))
	for _, record := range stored {
		byKey[record.Key()] = record
	}

	for _, category := range c.Categories {
		for _, indicator := range category.Indicators {
			key := board.RecordKey{Category: category.Name, KPIName: indicator.Name}
			row, ok := byKey[key]
			if !ok {
				seed := c.defaultRecord(category.Name, indicator)
				records = append(records, seed)
				missing = append(missing, seed)
				continue
			}
			delete(byKey, key)
			if row.Target == "" {
				row.Target = indicator.Target
			}
			row.Explanation = indicator.Explanation
			records = append(records, row)
		}
	}

	for _, record := range stored {
		if _, extra := byKey[record.Key()]; extra {
			record.Explanation = ""
			records = append(records, record)
		}
	}
	return records, missing
}

// Registry holds the catalogues by kind.
type Registry struct {
	byKind map[string]*Catalogue
}

// Builtin returns the catalogues compiled into the binary.
func Builtin() (*Registry, error) {
	sub, err := fs.Sub(builtinFiles, "catalogues")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// Load parses every *.yaml file at the root of fsys.
func Load(fsys fs.FS) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read catalogue dir: %w", err)
	}
	registry := &Registry{byKind: map[string]*Catalogue{}}
	for _, entry := range entries {
		if entry.IsDir() || (path.Ext(entry.Name()) != ".yaml" && path.Ext(entry.Name()) != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read catalogue %s: %w", entry.Name(), err)
		}
		var catalogue Catalogue
		if err := yaml.Unmarshal(data, &catalogue); err != nil {
			return nil, fmt.Errorf("parse catalogue %s: %w", entry.Name(), err)
		}
		if err := catalogue.validate(); err != nil {
			return nil, fmt.Errorf("catalogue %s: %w", entry.Name(), err)
		}
		if _, dup := registry.byKind[catalogue.Kind]; dup {
			return nil, fmt.Errorf("catalogue %s: kind %q defined twice", entry.Name(), catalogue.Kind)
		}
		registry.byKind[catalogue.Kind] = &catalogue
	}
	if len(registry.byKind) == 0 {
		return nil, errors.New("no catalogues found")
	}
	return registry, nil
}

func (r *Registry) Lookup(kind string) (*Catalogue, error) {
	catalogue, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return catalogue, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.byKind))
	for kind := range r.byKind {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}

func (r *Registry) All() []*Catalogue {
	out := make([]*Catalogue, 0, len(r.byKind))
	for _, kind := range r.Kinds() {
		out = append(out, r.byKind[kind])
	}
	return out
}
