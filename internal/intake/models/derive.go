package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GradeBand buckets a free-form grade ("K", "3", "10th", "Pre-K") into the
// dashboard band. Unrecognized input lands in K-5.
func GradeBand(grade string) string {
	g := strings.ToUpper(strings.TrimSpace(grade))
	for _, suffix := range []string{"TH", "ST", "ND", "RD"} {
		if trimmed, ok := strings.CutSuffix(g, suffix); ok {
			g = trimmed
			break
		}
	}
	n, err := strconv.Atoi(g)
	if err != nil {
		return GradeBandElementary
	}
	switch {
	case n <= 5:
		return GradeBandElementary
	case n <= 8:
		return GradeBandMiddle
	default:
		return GradeBandHigh
	}
}

// Grade bands. Kept in step with the organization package.
const (
	GradeBandElementary = "K-5"
	GradeBandMiddle     = "6-8"
	GradeBandHigh       = "9-12"
)

// FiscalPeriod formats the fiscal quarter of d. The fiscal year starts
// July 1 and is named for the calendar year in which it ends.
func FiscalPeriod(d time.Time) string {
	year, month := d.Year(), int(d.Month())
	var quarter int
	if month >= 7 {
		year++
		quarter = (month-7)/3 + 1
	} else {
		quarter = (month+5)/3 + 1
	}
	return fmt.Sprintf("FY%d-Q%d", year, quarter)
}

// DateOnly truncates t to midnight UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
