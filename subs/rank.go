package subs

import (
	"strings"

	"github.com/messmate/subs-engine/access"
)

// =============================================================================
// RANK CLASSIFIER
// =============================================================================

// Category is the rank tier that selects the base fee and the mess.
type Category string

const (
	CategoryNCO     Category = "NCO"
	CategoryPrivate Category = "Private"
	CategoryUnknown Category = "Unknown"
)

var (
	ncoRanks     = []string{"Sgt Maj", "BQMS/RQMS", "CS/BS", "CQMS/BQMS", "Sgt", "Cpl"}
	privateRanks = []string{"PTE", "Gnr", "Sgm", "Trp"}
)

// Classify maps a rank string to its category. Ranks outside both lists are
// CategoryUnknown; callers that need a fee use CategoryOf instead.
func Classify(rank string) Category {
	rank = strings.TrimSpace(rank)
	for _, r := range ncoRanks {
		if r == rank {
			return CategoryNCO
		}
	}
	for _, r := range privateRanks {
		if r == rank {
			return CategoryPrivate
		}
	}
	return CategoryUnknown
}

// CategoryOf is Classify with unknown ranks surfaced as a ValidationError.
func CategoryOf(rank string) (Category, error) {
	c := Classify(rank)
	if c == CategoryUnknown {
		return c, &ValidationError{Field: "rank", Reason: "unknown rank " + strings.TrimSpace(rank)}
	}
	return c, nil
}

// Mess returns the mess a category eats in.
func (c Category) Mess() access.Mess {
	switch c {
	case CategoryNCO:
		return access.MessNCO
	case CategoryPrivate:
		return access.MessPrivates
	}
	return ""
}

// Ranks lists every known rank, NCO tier first.
func Ranks() []string {
	out := make([]string, 0, len(ncoRanks)+len(privateRanks))
	out = append(out, ncoRanks...)
	return append(out, privateRanks...)
}
