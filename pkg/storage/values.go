package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NormalizeValue converts v to the Go representation of column type t:
// string, int64, float64, or bool. nil stays nil (NULL).
func NormalizeValue(t ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case TypeVarchar:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case fmt.Stringer:
			return x.String(), nil
		default:
			return fmt.Sprint(x), nil
		}
	case TypeBigint:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int8:
			return int64(x), nil
		case int16:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case uint8:
			return int64(x), nil
		case uint16:
			return int64(x), nil
		case uint32:
			return int64(x), nil
		case uint64:
			if x > math.MaxInt64 {
				break
			}
			return int64(x), nil
		case float64:
			if x == math.Trunc(x) && !math.IsInf(x, 0) {
				return int64(x), nil
			}
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err == nil {
				return n, nil
			}
		}
	case TypeDouble:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case int32:
			return float64(x), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err == nil {
				return f, nil
			}
		}
	case TypeBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err == nil {
				return b, nil
			}
		}
	default:
		return nil, fmt.Errorf("%w: unknown column type %q", ErrInvalidData, t)
	}
	return nil, fmt.Errorf("%w: %v (%T) is not %s", ErrTypeMismatch, v, v, t)
}

// ParseText converts a text field (CSV import) to a value of type t. The empty
// string and NULL (any case) become nil.
func ParseText(t ColumnType, s string) (any, error) {
	if s == "" || strings.EqualFold(s, "null") {
		return nil, nil
	}
	return NormalizeValue(t, s)
}

// normalizeRow checks arity and normalizes every value of row for table t.
func normalizeRow(t *Table, row Row) (Row, error) {
	if len(row) != len(t.Columns) {
		return nil, fmt.Errorf("%w: table %s has %d columns, row has %d", ErrInvalidData, t.Name, len(t.Columns), len(row))
	}
	out := make(Row, len(row))
	for i, v := range row {
		nv, err := NormalizeValue(t.Columns[i].Type, v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", t.Columns[i].Name, err)
		}
		out[i] = nv
	}
	return out, nil
}

// FormatValue renders a normalized value for text output.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
