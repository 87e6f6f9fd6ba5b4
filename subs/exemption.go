package subs

import "time"

// ExemptFromMonth is the first month in which joining exempts the joining year.
const ExemptFromMonth = time.October

// IsExempt reports whether a member who joined on joined owes nothing for year:
// they joined that same year in October or later. Month granularity only.
func IsExempt(joined *Date, year int) bool {
	if joined == nil || joined.IsZero() {
		return false
	}
	return joined.Year() == year && joined.Month() >= ExemptFromMonth
}
