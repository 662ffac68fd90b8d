// Package cursor holds the keyset resume position of a backfill and the
// file-backed store that persists it per partition.
package cursor

import (
	"strings"
	"time"

	"backfill/internal/records"
)

// DateLayout is the on-disk and on-wire format of Cursor.Date.
const DateLayout = "2006-01-02"

// Cursor is the last committed position in the observation sort order
// (project_id, type, date(start_time), id).
type Cursor struct {
	ProjectID string
	Type      string
	Date      time.Time
	ID        string
}

var epoch = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// Min returns the cursor that sorts before every row.
func Min() Cursor { return Cursor{Date: epoch} }

// IsMin reports whether c is the minimum cursor.
func (c Cursor) IsMin() bool {
	return c.ProjectID == "" && c.Type == "" && c.ID == "" && c.DateString() == epoch.Format(DateLayout)
}

// DateString formats the date component as YYYY-MM-DD.
func (c Cursor) DateString() string {
	if c.Date.IsZero() {
		return epoch.Format(DateLayout)
	}
	return c.Date.UTC().Format(DateLayout)
}

// Compare orders cursors by the composite key. It returns -1, 0 or 1.
func (c Cursor) Compare(o Cursor) int {
	if r := strings.Compare(c.ProjectID, o.ProjectID); r != 0 {
		return r
	}
	if r := strings.Compare(c.Type, o.Type); r != 0 {
		return r
	}
	if r := strings.Compare(c.DateString(), o.DateString()); r != 0 {
		return r
	}
	return strings.Compare(c.ID, o.ID)
}

// Of returns the cursor positioned at o.
func Of(o *records.Observation) Cursor {
	st := o.StartTime.UTC()
	return Cursor{
		ProjectID: o.ProjectID,
		Type:      o.Type,
		Date:      time.Date(st.Year(), st.Month(), st.Day(), 0, 0, 0, 0, time.UTC),
		ID:        o.ID,
	}
}

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}
