package field

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// timeLayouts are tried in order when a datetime arrives as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalize coerces a host value to the canonical Go type of the field kind:
// int64, bool, float64, decimal.Decimal, string, any (JSON), uuid.UUID,
// time.Time (UTC) or []byte. nil stays nil.
func (d *Descriptor) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var (
		out any
		err error
	)
	switch {
	case d.Kind.Is(KindInteger):
		out, err = AsInt64(v)
	case d.Kind == KindBool:
		out, err = asBool(v)
	case d.Kind == KindFloat:
		out, err = AsFloat64(v)
	case d.Kind == KindDecimal:
		out, err = AsDecimal(v)
	case d.Kind == KindJSON:
		out, err = normalizeJSON(v)
	case d.Kind.Is(KindText):
		out, err = asString(v)
	case d.Kind == KindUUID:
		out, err = asUUID(v)
	case d.Kind == KindTime:
		out, err = asTime(v)
	case d.Kind == KindBytes:
		out, err = asBytes(v)
	default:
		out = v
	}
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", d.Name, err)
	}
	return out, nil
}

// ToDB converts a host value to the value bound as a statement parameter.
func (d *Descriptor) ToDB(v any) (any, error) {
	v, err := d.Normalize(v)
	if err != nil || v == nil {
		return nil, err
	}
	switch x := v.(type) {
	case decimal.Decimal:
		return x.String(), nil
	case uuid.UUID:
		return x.String(), nil
	case time.Time:
		return x.UTC(), nil
	}
	if d.Kind == KindJSON {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", d.Name, err)
		}
		return string(b), nil
	}
	return v, nil
}

// FromDB converts a value scanned from a result row to the host value.
func (d *Descriptor) FromDB(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if d.Kind == KindJSON {
		var raw []byte
		switch x := v.(type) {
		case []byte:
			raw = x
		case string:
			raw = []byte(x)
		default:
			return d.Normalize(v)
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("field %q: %w", d.Name, err)
		}
		return out, nil
	}
	return d.Normalize(v)
}

// ToExport converts a host value to a portable scalar: numbers and booleans
// as themselves, everything else as a string.
func (d *Descriptor) ToExport(v any) (any, error) {
	v, err := d.Normalize(v)
	if err != nil || v == nil {
		return nil, err
	}
	switch x := v.(type) {
	case decimal.Decimal:
		return x.String(), nil
	case uuid.UUID:
		return x.String(), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case []byte:
		return base64.StdEncoding.EncodeToString(x), nil
	}
	if d.Kind == KindJSON {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}

// FromExport is the inverse of ToExport.
func (d *Descriptor) FromExport(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch d.Kind {
	case KindBytes:
		if s, ok := v.(string); ok {
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", d.Name, err)
			}
			return b, nil
		}
	case KindJSON:
		if s, ok := v.(string); ok {
			return d.FromDB(s)
		}
	}
	return d.Normalize(v)
}

// AsInt64 coerces integral values to int64.
func AsInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d overflows int64", x)
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not integral", x)
		}
		return int64(x), nil
	case float32:
		return AsInt64(float64(x))
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(x), 10, 64)
	case decimal.Decimal:
		if !x.IsInteger() {
			return 0, fmt.Errorf("%s is not integral", x)
		}
		return x.IntPart(), nil
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

// AsFloat64 coerces numeric values to float64.
func AsFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case decimal.Decimal:
		f, _ := x.Float64()
		return f, nil
	case []byte:
		return strconv.ParseFloat(string(x), 64)
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	i, err := AsInt64(v)
	if err != nil {
		return 0, fmt.Errorf("cannot convert %T to float", v)
	}
	return float64(i), nil
}

// AsDecimal coerces numeric values to decimal.Decimal.
func AsDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case []byte:
		return decimal.NewFromString(string(x))
	case string:
		return decimal.NewFromString(strings.TrimSpace(x))
	}
	i, err := AsInt64(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("cannot convert %T to decimal", v)
	}
	return decimal.NewFromInt(i), nil
}

func asBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case []byte:
		return strconv.ParseBool(string(x))
	case string:
		return strconv.ParseBool(x)
	}
	i, err := AsInt64(v)
	if err != nil {
		return false, fmt.Errorf("cannot convert %T to bool", v)
	}
	return i != 0, nil
}

func asString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return "", fmt.Errorf("cannot convert %T to text", v)
}

func asUUID(v any) (uuid.UUID, error) {
	switch x := v.(type) {
	case uuid.UUID:
		return x, nil
	case string:
		return uuid.Parse(x)
	case []byte:
		if len(x) == 16 {
			return uuid.FromBytes(x)
		}
		return uuid.ParseBytes(x)
	}
	return uuid.Nil, fmt.Errorf("cannot convert %T to uuid", v)
}

func asTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case []byte:
		return asTime(string(x))
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse %q as time", x)
	case int64:
		return time.Unix(x, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot convert %T to time", v)
}

func asBytes(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		return append([]byte(nil), x...), nil
	case string:
		return []byte(x), nil
	}
	return nil, fmt.Errorf("cannot convert %T to bytes", v)
}

// normalizeJSON round-trips v through encoding/json so that equal documents
// compare equal regardless of the Go types they were built from.
func normalizeJSON(v any) (any, error) {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.String {
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
