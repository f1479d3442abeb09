package variants

import (
	domain "github.com/hanko-field/variants/internal/domain"
)

// Index is the set of combinations already materialised as variants.
type Index struct {
	keys       map[Key]string
	incomplete []string
}

// NewIndex keys every variant by its chosen values, taken in the order of options. A variant that
// lacks a selection for any option cannot be keyed as a full combination; it is left out of the
// index and reported by IncompleteVariantIDs.
func NewIndex(options []domain.ProductOption, variants []domain.ProductVariant) *Index {
	idx := &Index{keys: make(map[Key]string, len(variants))}
	for _, variant := range variants {
		values, ok := ValuesOf(options, variant)
		if !ok {
			idx.incomplete = append(idx.incomplete, variant.ID)
			continue
		}
		key := KeyOf(values)
		if _, exists := idx.keys[key]; !exists {
			idx.keys[key] = variant.ID
		}
	}
	return idx
}

// Contains reports whether a variant with exactly these ordered values exists.
func (i *Index) Contains(values []string) bool {
	_, ok := i.Lookup(values)
	return ok
}

// Lookup returns the id of the variant holding the ordered values.
func (i *Index) Lookup(values []string) (string, bool) {
	if i == nil {
		return "", false
	}
	id, ok := i.keys[KeyOf(values)]
	return id, ok
}

// Len returns the number of distinct indexed combinations.
func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.keys)
}

// IncompleteVariantIDs lists variants missing a selection for at least one option.
func (i *Index) IncompleteVariantIDs() []string {
	if i == nil || len(i.incomplete) == 0 {
		return nil
	}
	out := make([]string, len(i.incomplete))
	copy(out, i.incomplete)
	return out
}

// ValuesOf returns the values a variant selected, in option order. It reports false when any
// option has no resolvable selection.
func ValuesOf(options []domain.ProductOption, variant domain.ProductVariant) ([]string, bool) {
	values := make([]string, 0, len(options))
	for _, option := range options {
		value, ok := selectedValue(option, variant.Options)
		if !ok {
			return nil, false
		}
		values = append(values, value)
	}
	return values, true
}

func selectedValue(option domain.ProductOption, selections []domain.VariantOptionSelection) (string, bool) {
	for _, selection := range selections {
		if selection.OptionID != option.ID {
			continue
		}
		if selection.Value != "" {
			return selection.Value, true
		}
		if selection.OptionValueID == "" {
			return "", false
		}
		for _, candidate := range option.Values {
			if candidate.ID == selection.OptionValueID && candidate.Value != "" {
				return candidate.Value, true
			}
		}
		return "", false
	}
	return "", false
}
