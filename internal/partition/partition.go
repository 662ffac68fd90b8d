// Package partition parses the YYYYMM partition ids a backfill run is scoped to.
package partition

import (
	"time"

	"github.com/zeebo/errs"
)

// Error is the error class for malformed partition ids.
var Error = errs.Class("partition")

// Validate reports whether p is a six digit YYYYMM id with a valid month.
func Validate(p string) error {
	_, _, err := Bounds(p)
	return err
}

// Bounds returns the half-open UTC month [lo, hi) covered by partition p.
func Bounds(p string) (lo, hi time.Time, err error) {
	if len(p) != 6 {
		return lo, hi, Error.New("%q must be six digits (YYYYMM)", p)
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return lo, hi, Error.New("%q must be six digits (YYYYMM)", p)
		}
	}
	lo, perr := time.ParseInLocation("200601", p, time.UTC)
	if perr != nil {
		return lo, hi, Error.New("%q has an invalid month", p)
	}
	return lo, lo.AddDate(0, 1, 0), nil
}
