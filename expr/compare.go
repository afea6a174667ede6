package expr

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/syssam/strata/schema/field"
)

// Compare orders two canonical values. Numbers of different Go types compare
// by value.
func Compare(a, b any) (int, error) {
	if isNumber(a) && isNumber(b) {
		ai, aerr := exactInt(a)
		bi, berr := exactInt(b)
		if aerr == nil && berr == nil {
			switch {
			case ai < bi:
				return -1, nil
			case ai > bi:
				return 1, nil
			}
			return 0, nil
		}
		ad, err := field.AsDecimal(a)
		if err != nil {
			return 0, err
		}
		bd, err := field.AsDecimal(b)
		if err != nil {
			return 0, err
		}
		return ad.Cmp(bd), nil
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), nil
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y), nil
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), nil
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !x:
				return -1, nil
			}
			return 1, nil
		}
	case uuid.UUID:
		if y, ok := b.(uuid.UUID); ok {
			return bytes.Compare(x[:], y[:]), nil
		}
	}
	return 0, fmt.Errorf("expr: cannot compare %T with %T", a, b)
}

// Equal reports whether two canonical values are equal. Values that cannot
// be ordered are compared structurally.
func Equal(a, b any) bool {
	if n, err := Compare(a, b); err == nil {
		return n == 0
	}
	return reflect.DeepEqual(a, b)
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, decimal.Decimal:
		return true
	}
	return false
}

func exactInt(v any) (int64, error) {
	switch v.(type) {
	case float32, float64, decimal.Decimal:
		return 0, fmt.Errorf("not an integer type")
	}
	return field.AsInt64(v)
}
