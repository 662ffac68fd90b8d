// Package sqlrow binds raw driver values from relational backends onto the
// record structs by column name, and encodes event values back into forms
// those drivers accept. Map and list columns are stored as JSON text (or
// jsonb, which pgx hands back decoded).
package sqlrow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/zeebo/errs"

	"backfill/internal/records"
)

// Error is the error class for value conversion failures.
var Error = errs.Class("sqlrow")

// TimeLayouts are the text timestamp formats accepted from drivers that
// return timestamps as strings.
var TimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

type fielder interface {
	Field(column string) any
}

// Observation builds an observation from vals aligned with columns.
func Observation(columns []string, vals []any) (records.Observation, error) {
	var o records.Observation
	return o, bind(&o, columns, vals)
}

// Trace builds a trace row from vals aligned with columns.
func Trace(columns []string, vals []any) (records.TraceRow, error) {
	var t records.TraceRow
	return t, bind(&t, columns, vals)
}

func bind(f fielder, columns []string, vals []any) error {
	if len(columns) != len(vals) {
		return Error.New("%d values for %d columns", len(vals), len(columns))
	}
	for i, c := range columns {
		dst := f.Field(c)
		if dst == nil {
			return Error.New("unknown column %q", c)
		}
		if err := assign(dst, vals[i]); err != nil {
			return Error.New("column %q: %v", c, err)
		}
	}
	return nil
}

func assign(dst, v any) error {
	switch d := dst.(type) {
	case *string:
		*d = String(v)
	case **string:
		if v == nil {
			*d = nil
			return nil
		}
		s := String(v)
		*d = &s
	case *time.Time:
		t, err := Time(v)
		if err != nil {
			return err
		}
		*d = t
	case **time.Time:
		if v == nil {
			*d = nil
			return nil
		}
		t, err := Time(v)
		if err != nil {
			return err
		}
		*d = &t
	case **uint16:
		if v == nil {
			*d = nil
			return nil
		}
		n, err := Int(v)
		if err != nil {
			return err
		}
		if n < 0 || n > 0xFFFF {
			return fmt.Errorf("%d out of uint16 range", n)
		}
		u := uint16(n)
		*d = &u
	case *bool:
		b, err := Bool(v)
		if err != nil {
			return err
		}
		*d = b
	case *map[string]any:
		m, err := JSONMap(v)
		if err != nil {
			return err
		}
		*d = m
	case *map[string]string:
		m, err := JSONMap(v)
		if err != nil {
			return err
		}
		*d = StringMap(m)
	case *[]string:
		l, err := StringList(v)
		if err != nil {
			return err
		}
		*d = l
	default:
		return fmt.Errorf("unsupported destination %T", dst)
	}
	return nil
}

// String renders a scalar driver value as text; NULL becomes "".
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// Time converts a driver timestamp (native or text) to UTC.
func Time(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return x.UTC(), nil
	case []byte:
		return parseTime(string(x))
	case string:
		return parseTime(x)
	case int64:
		return time.Unix(x, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range TimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// Int converts integer-like driver values.
func Int(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	case string:
		return strconv.ParseInt(x, 10, 64)
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

// Bool converts boolean-like driver values; NULL is false.
func Bool(v any) (bool, error) {
	switch x := v.(type) {
	case nil:
		return false, nil
	case bool:
		return x, nil
	case []byte:
		return strconv.ParseBool(string(x))
	case string:
		return strconv.ParseBool(x)
	}
	n, err := Int(v)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// JSONMap decodes a JSON object column. Numbers decode as json.Number.
// NULL and empty text yield nil.
func JSONMap(v any) (map[string]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return x, nil
	case string:
		return decodeMap([]byte(x))
	case []byte:
		return decodeMap(x)
	}
	return nil, fmt.Errorf("cannot convert %T to map", v)
}

func decodeMap(b []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

// StringMap keeps string values and JSON-encodes the rest.
func StringMap(m map[string]any) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		b, _ := json.Marshal(v)
		out[k] = string(b)
	}
	return out
}

// StringList decodes a JSON array or native array column of strings.
func StringList(v any) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return x, nil
	case []any:
		out := make([]string, len(x))
		for i, e := range x {
			out[i] = String(e)
		}
		return out, nil
	case string:
		return decodeList([]byte(x))
	case []byte:
		return decodeList(x)
	}
	return nil, fmt.Errorf("cannot convert %T to list", v)
}

func decodeList(b []byte) ([]string, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Encode converts an event value for a database/sql driver: maps and lists
// become JSON text, pointers are dereferenced, and timestamps are formatted
// with timeLayout when it is non-empty.
func Encode(v any, timeLayout string) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *string:
		if x == nil {
			return nil, nil
		}
		return *x, nil
	case *uint16:
		if x == nil {
			return nil, nil
		}
		return int64(*x), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return Encode(*x, timeLayout)
	case time.Time:
		if timeLayout != "" {
			return x.UTC().Format(timeLayout), nil
		}
		return x.UTC(), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case uint8:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case map[string]uint64, map[string]float64, map[string]string, map[string]any, []string:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		return string(b), nil
	}
	return v, nil
}
