package catalog

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("catalog: product not found")
	ErrInvalidQuantity   = errors.New("catalog: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("catalog: insufficient stock")
	ErrUnknownOption     = errors.New("catalog: selection does not match variant schema")
	ErrScalarSelection   = errors.New("catalog: product has no variants, selection must be empty")
)

// Attribute is one axis of the variant schema, e.g. Size -> [S, M, L].
type Attribute struct {
	Name    string   `json:"name"`
	Options []string `json:"options"`
}

// Selection picks one option on one attribute, e.g. {Size, M}.
type Selection struct {
	Attribute string `json:"attribute"`
	Option    string `json:"option"`
}

type OptionStock struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type AttributeStock struct {
	Name    string        `json:"name"`
	Options []OptionStock `json:"options"`
}

type Product struct {
	ID          string
	Name        string
	Slug        string
	Description string
	Image       string
	PriceCents  int64
	Currency    string

	// Attributes is the variant schema. Empty means the product is stocked
	// by the scalar Quantity; otherwise VariantStock mirrors the schema.
	Attributes   []Attribute
	Quantity     int
	VariantStock []AttributeStock

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Product) HasVariants() bool { return len(p.Attributes) > 0 }

// ValidateSelections checks that every selection names an existing attribute
// and option of the current schema, and that scalar products carry none.
func (p *Product) ValidateSelections(sels []Selection) error {
	if !p.HasVariants() {
		if len(sels) > 0 {
			return ErrScalarSelection
		}
		return nil
	}
	for _, sel := range sels {
		attr, ok := p.attribute(sel.Attribute)
		if !ok {
			return ErrUnknownOption
		}
		found := false
		for _, opt := range attr.Options {
			if opt == sel.Option {
				found = true
				break
			}
		}
		if !found {
			return ErrUnknownOption
		}
	}
	return nil
}

func (p *Product) attribute(name string) (Attribute, bool) {
	for _, a := range p.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// baselineCount is the ready-to-sell default for options that appear in the
// schema without a carried-over count.
const baselineCount = 1

// RebuildVariantStock resyncs VariantStock with the current schema: counts for
// option names that survived a schema change are carried over, new options get
// the baseline, removed ones are dropped. Scalar products end up with no
// variant stock at all.
func (p *Product) RebuildVariantStock() {
	if !p.HasVariants() {
		p.VariantStock = nil
		return
	}
	old := make(map[string]map[string]int, len(p.VariantStock))
	for _, as := range p.VariantStock {
		m := make(map[string]int, len(as.Options))
		for _, os := range as.Options {
			m[os.Name] = os.Count
		}
		old[as.Name] = m
	}

	rebuilt := make([]AttributeStock, 0, len(p.Attributes))
	for _, attr := range p.Attributes {
		as := AttributeStock{Name: attr.Name, Options: make([]OptionStock, 0, len(attr.Options))}
		for _, opt := range attr.Options {
			count := baselineCount
			if prev, ok := old[attr.Name][opt]; ok {
				count = prev
			}
			as.Options = append(as.Options, OptionStock{Name: opt, Count: count})
		}
		rebuilt = append(rebuilt, as)
	}
	p.VariantStock = rebuilt
}
