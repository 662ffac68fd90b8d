package transformer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/shopspring/decimal"
)

// CostScale is the number of fractional digits kept in cost values.
const CostScale = 12

var decimalCtx = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(34)
	c.Rounding = apd.RoundHalfEven
	return c
}()

// toDecimal converts any numeric representation a driver may produce.
func toDecimal(v any) (*apd.Decimal, error) {
	d := new(apd.Decimal)
	switch n := v.(type) {
	case apd.Decimal:
		d.Set(&n)
	case *apd.Decimal:
		if n == nil {
			return nil, Error.New("nil decimal")
		}
		d.Set(n)
	case decimal.Decimal:
		return parseDecimal(n.String())
	case *decimal.Decimal:
		if n == nil {
			return nil, Error.New("nil decimal")
		}
		return parseDecimal(n.String())
	case json.Number:
		return parseDecimal(string(n))
	case string:
		return parseDecimal(n)
	case int:
		d.SetInt64(int64(n))
	case int8:
		d.SetInt64(int64(n))
	case int16:
		d.SetInt64(int64(n))
	case int32:
		d.SetInt64(int64(n))
	case int64:
		d.SetInt64(n)
	case uint:
		return parseDecimal(strconv.FormatUint(uint64(n), 10))
	case uint8:
		d.SetInt64(int64(n))
	case uint16:
		d.SetInt64(int64(n))
	case uint32:
		d.SetInt64(int64(n))
	case uint64:
		return parseDecimal(strconv.FormatUint(n, 10))
	case float32:
		return fromFloat(float64(n))
	case float64:
		return fromFloat(n)
	default:
		return nil, Error.New("non-numeric value %v (%T)", v, v)
	}
	return d, nil
}

func parseDecimal(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, Error.New("non-numeric value %q", s)
	}
	if d.Form != apd.Finite {
		return nil, Error.New("non-finite value %q", s)
	}
	return d, nil
}

func fromFloat(f float64) (*apd.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, Error.New("non-finite value %v", f)
	}
	d := new(apd.Decimal)
	if _, err := d.SetFloat64(f); err != nil {
		return nil, Error.Wrap(err)
	}
	return d, nil
}

// usageValue converts a token count. Fractions round half-even.
func usageValue(v any) (uint64, error) {
	d, err := toDecimal(v)
	if err != nil {
		return 0, err
	}
	if d.Negative && !d.IsZero() {
		return 0, Error.New("negative usage value %s", d)
	}
	var whole apd.Decimal
	if _, err := decimalCtx.Quantize(&whole, d, 0); err != nil {
		return 0, Error.New("usage value %s: %v", d, err)
	}
	if whole.IsZero() {
		return 0, nil
	}
	u, err := strconv.ParseUint(whole.Text('f'), 10, 64)
	if err != nil {
		return 0, Error.New("usage value %s out of range", d)
	}
	return u, nil
}

// costValue rounds a cost half-even to CostScale fractional digits.
func costValue(v any) (float64, error) {
	d, err := toDecimal(v)
	if err != nil {
		return 0, err
	}
	var q apd.Decimal
	if _, err := decimalCtx.Quantize(&q, d, -CostScale); err != nil {
		return 0, Error.New("cost value %s: %v", d, err)
	}
	f, err := q.Float64()
	if err != nil {
		return 0, Error.New("cost value %s: %v", d, err)
	}
	return f, nil
}

func usageMap(field string, in map[string]any) (map[string]uint64, error) {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		u, err := usageValue(v)
		if err != nil {
			return nil, Error.New("%s[%s]: %v", field, k, err)
		}
		out[k] = u
	}
	return out, nil
}

func costMap(field string, in map[string]any) (map[string]float64, error) {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		f, err := costValue(v)
		if err != nil {
			return nil, Error.New("%s[%s]: %v", field, k, err)
		}
		out[k] = f
	}
	return out, nil
}
