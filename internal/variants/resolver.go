// Package variants computes the option-value combinations of a product that have no variant yet.
package variants

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	domain "github.com/hanko-field/variants/internal/domain"
)

const (
	// TitleSeparator joins option values into a draft title, e.g. "Red / S".
	TitleSeparator = " / "
	idSeparator    = "-"
)

// Resolution is the outcome of resolving a product snapshot.
type Resolution struct {
	// Drafts lists the missing combinations in enumeration order.
	Drafts []domain.DraftVariant
	// Combinations is the number of theoretical combinations before exclusion.
	Combinations int
	// IncompleteVariantIDs lists existing variants that could not be matched against any
	// combination because they lack a value for at least one option.
	IncompleteVariantIDs []string
}

// Resolve returns a draft for every combination of the product's option values that no existing
// variant covers. It never fails: a product without options, or with an option that has no values,
// yields an empty resolution. Results depend only on the input, so resolving an unchanged product
// again yields the same drafts in the same order with the same identifiers.
func Resolve(product domain.Product) Resolution {
	options := usableOptions(product.Options)
	if len(options) == 0 {
		return Resolution{}
	}
	lists := make([][]domain.ProductOptionValue, len(options))
	for i, option := range options {
		if len(option.Values) == 0 {
			return Resolution{}
		}
		lists[i] = option.Values
	}

	combinations := Enumerate(lists)
	// existing variants may select a value by an id that usableOptions dropped as a repeat
	index := NewIndex(product.Options, product.Variants)

	result := Resolution{
		Combinations:         len(combinations),
		IncompleteVariantIDs: index.IncompleteVariantIDs(),
	}
	ids := newIDAllocator()
	lower := cases.Lower(language.Und)
	for _, combination := range combinations {
		values := make([]string, len(combination))
		for i, value := range combination {
			values[i] = value.Value
		}
		if index.Contains(values) {
			continue
		}
		result.Drafts = append(result.Drafts, buildDraft(options, combination, values, ids.allocate(draftID(lower, values))))
	}
	return result
}

// OptionTitles returns the option titles in product order.
func OptionTitles(options []domain.ProductOption) []string {
	titles := make([]string, 0, len(options))
	for _, option := range options {
		titles = append(titles, option.Title)
	}
	return titles
}

func buildDraft(options []domain.ProductOption, combination []domain.ProductOptionValue, values []string, id string) domain.DraftVariant {
	entries := make([]domain.DraftOptionEntry, len(combination))
	byTitle := make(map[string]string, len(combination))
	for i, value := range combination {
		entries[i] = domain.DraftOptionEntry{
			OptionID:      options[i].ID,
			OptionValueID: value.ID,
			Name:          options[i].Title,
			Value:         value.Value,
		}
		byTitle[options[i].Title] = value.Value
	}
	return domain.DraftVariant{
		ID:             id,
		Title:          strings.Join(values, TitleSeparator),
		Options:        entries,
		OptionByTitle:  byTitle,
		CombinationKey: string(KeyOf(values)),
	}
}

// usableOptions drops blank values and repeated values within an option. The first occurrence of a
// value wins.
func usableOptions(options []domain.ProductOption) []domain.ProductOption {
	if len(options) == 0 {
		return nil
	}
	out := make([]domain.ProductOption, len(options))
	for i, option := range options {
		seen := make(map[string]struct{}, len(option.Values))
		values := make([]domain.ProductOptionValue, 0, len(option.Values))
		for _, value := range option.Values {
			if value.Value == "" {
				continue
			}
			if _, dup := seen[value.Value]; dup {
				continue
			}
			seen[value.Value] = struct{}{}
			values = append(values, value)
		}
		out[i] = domain.ProductOption{ID: option.ID, Title: option.Title, Values: values}
	}
	return out
}

// draftID lowercases the joined values and collapses every whitespace run into a single separator.
func draftID(lower cases.Caser, values []string) string {
	joined := lower.String(strings.Join(values, idSeparator))
	var b strings.Builder
	b.Grow(len(joined))
	inSpace := false
	for _, r := range joined {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteString(idSeparator)
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

type idAllocator struct {
	used map[string]int
}

func newIDAllocator() *idAllocator {
	return &idAllocator{used: make(map[string]int)}
}

// allocate returns base, or base suffixed with -2, -3, ... when base was already handed out.
func (a *idAllocator) allocate(base string) string {
	n, taken := a.used[base]
	if !taken {
		a.used[base] = 1
		return base
	}
	for {
		n++
		candidate := base + idSeparator + strconv.Itoa(n)
		if _, clash := a.used[candidate]; !clash {
			a.used[base] = n
			a.used[candidate] = 1
			return candidate
		}
	}
}
