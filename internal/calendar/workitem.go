// Package calendar enumerates the (year, month) work items of an export run
// and derives the file name each item is stored under.
package calendar

import (
	"fmt"
	"iter"
	"strings"
	"time"
)

const (
	// FirstYear is the earliest year the ASRS query wizard accepts.
	FirstYear = 1988
	// LastYear is the latest year exported by default.
	LastYear = 2024
)

// Months lists the twelve months in calendar order. The English name is the
// option label shown by the query wizard's date-range dialog.
var Months = []time.Month{
	time.January, time.February, time.March, time.April,
	time.May, time.June, time.July, time.August,
	time.September, time.October, time.November, time.December,
}

// WorkItem is one (year, month) unit of export work.
type WorkItem struct {
	Year  int
	Month time.Month
}

// String renders the item as "March 2001".
func (w WorkItem) String() string {
	return fmt.Sprintf("%s %d", w.Month, w.Year)
}

// MonthLabel is the dropdown label for the item's month.
func (w WorkItem) MonthLabel() string {
	return w.Month.String()
}

// YearLabel is the dropdown label for the item's year.
func (w WorkItem) YearLabel() string {
	return fmt.Sprintf("%d", w.Year)
}

// FileName returns the local and remote name of the item's CSV export.
func (w WorkItem) FileName() string {
	return FileName(w.Year, w.Month)
}

// FileName derives asrs-<mon>-<year>.csv where <mon> is the lowercase
// three-letter month abbreviation.
func FileName(year int, month time.Month) string {
	return fmt.Sprintf("asrs-%s-%04d.csv", strings.ToLower(month.String()[:3]), year)
}

// Range is an inclusive, ascending span of years.
type Range struct {
	StartYear int
	EndYear   int
}

// DefaultRange covers every year the export job targets.
func DefaultRange() Range {
	return Range{StartYear: FirstYear, EndYear: LastYear}
}

// Validate checks the range is ascending and inside the supported years.
func (r Range) Validate() error {
	if r.StartYear < FirstYear || r.EndYear > LastYear {
		return fmt.Errorf("year range %d-%d outside %d-%d", r.StartYear, r.EndYear, FirstYear, LastYear)
	}
	if r.StartYear > r.EndYear {
		return fmt.Errorf("start year %d after end year %d", r.StartYear, r.EndYear)
	}
	return nil
}

// Len is the number of work items in the range.
func (r Range) Len() int {
	if r.EndYear < r.StartYear {
		return 0
	}
	return (r.EndYear - r.StartYear + 1) * len(Months)
}

// Items yields the work items year-major, then month in calendar order.
func (r Range) Items() iter.Seq[WorkItem] {
	return func(yield func(WorkItem) bool) {
		for year := r.StartYear; year <= r.EndYear; year++ {
			for _, month := range Months {
				if !yield(WorkItem{Year: year, Month: month}) {
					return
				}
			}
		}
	}
}
