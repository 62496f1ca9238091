package match

import (
	"sort"
	"time"

	"cloud.google.com/go/civil"
)

// LenientDates widens a date of birth to the dates it is commonly mistyped
// as: the same day in every other month, the day either side within the
// same month, and the day and month swapped. Only valid dates are kept; the
// result is sorted and free of duplicates.
func LenientDates(d civil.Date) []civil.Date {
	seen := make(map[civil.Date]bool)
	add := func(c civil.Date) {
		if c.IsValid() {
			seen[c] = true
		}
	}

	for m := time.January; m <= time.December; m++ {
		if m != d.Month {
			add(civil.Date{Year: d.Year, Month: m, Day: d.Day})
		}
	}
	for _, delta := range []int{-1, 0, 1} {
		if c := d.AddDays(delta); c.Month == d.Month && c.Year == d.Year {
			add(c)
		}
	}
	if d.Day <= 12 {
		add(civil.Date{Year: d.Year, Month: time.Month(d.Day), Day: int(d.Month)})
	}

	out := make([]civil.Date, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
