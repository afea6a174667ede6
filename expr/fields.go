package expr

import "time"

// Field is a typed field path that builds constraints.
//
//	var Price = expr.Field[float64]("price")
//	q := Price.GT(2).And(Price.LTE(10))
type Field[T any] string

// Name returns the field path.
func (f Field[T]) Name() string { return string(f) }

// EQ returns a constraint that the field equals v.
func (f Field[T]) EQ(v T) *Q { return Cond(string(f), v) }

// NEQ returns a constraint that the field does not equal v.
func (f Field[T]) NEQ(v T) *Q { return Not(f.EQ(v)) }

// In returns a constraint that the field is one of vs.
func (f Field[T]) In(vs ...T) *Q { return Cond(string(f)+"__in", vs) }

// NotIn returns a constraint that the field is none of vs.
func (f Field[T]) NotIn(vs ...T) *Q { return Not(f.In(vs...)) }

// GT returns a constraint that the field is greater than v.
func (f Field[T]) GT(v T) *Q { return Cond(string(f)+"__gt", v) }

// GTE returns a constraint that the field is greater than or equal to v.
func (f Field[T]) GTE(v T) *Q { return Cond(string(f)+"__gte", v) }

// LT returns a constraint that the field is less than v.
func (f Field[T]) LT(v T) *Q { return Cond(string(f)+"__lt", v) }

// LTE returns a constraint that the field is less than or equal to v.
func (f Field[T]) LTE(v T) *Q { return Cond(string(f)+"__lte", v) }

// Range returns a constraint that the field lies in [lo, hi].
func (f Field[T]) Range(lo, hi T) *Q { return Cond(string(f)+"__range", []T{lo, hi}) }

// IsNull returns a constraint that the field is NULL.
func (f Field[T]) IsNull() *Q { return Cond(string(f)+"__isnull", true) }

// NotNull returns a constraint that the field is not NULL.
func (f Field[T]) NotNull() *Q { return Cond(string(f)+"__isnull", false) }

// StringField is a text field path. Every comparison ignores case except
// Regex.
type StringField string

// Name returns the field path.
func (f StringField) Name() string { return string(f) }

// EQ returns a constraint that the field equals v.
func (f StringField) EQ(v string) *Q { return Cond(string(f), v) }

// NEQ returns a constraint that the field does not equal v.
func (f StringField) NEQ(v string) *Q { return Not(f.EQ(v)) }

// In returns a constraint that the field is one of vs.
func (f StringField) In(vs ...string) *Q { return Cond(string(f)+"__in", vs) }

// NotIn returns a constraint that the field is none of vs.
func (f StringField) NotIn(vs ...string) *Q { return Not(f.In(vs...)) }

// GT returns a constraint that the field sorts after v.
func (f StringField) GT(v string) *Q { return Cond(string(f)+"__gt", v) }

// LT returns a constraint that the field sorts before v.
func (f StringField) LT(v string) *Q { return Cond(string(f)+"__lt", v) }

// Contains returns a constraint that the field contains v.
func (f StringField) Contains(v string) *Q { return Cond(string(f)+"__contains", v) }

// HasPrefix returns a constraint that the field starts with v.
func (f StringField) HasPrefix(v string) *Q { return Cond(string(f)+"__startswith", v) }

// HasSuffix returns a constraint that the field ends with v.
func (f StringField) HasSuffix(v string) *Q { return Cond(string(f)+"__endswith", v) }

// Like returns a constraint that the field matches the LIKE pattern v.
func (f StringField) Like(v string) *Q { return Cond(string(f)+"__like", v) }

// Regex returns a constraint that the field matches the regular expression
// v, case-sensitively.
func (f StringField) Regex(v string) *Q { return Cond(string(f)+"__regex", v) }

// Length returns the character length of the field.
func (f StringField) Length() Field[int64] { return Field[int64](string(f) + "__length") }

// IsNull returns a constraint that the field is NULL.
func (f StringField) IsNull() *Q { return Cond(string(f)+"__isnull", true) }

// NotNull returns a constraint that the field is not NULL.
func (f StringField) NotNull() *Q { return Cond(string(f)+"__isnull", false) }

// BitField is an integer flags field path.
type BitField string

// Name returns the field path.
func (f BitField) Name() string { return string(f) }

// HasBit returns a constraint that the field shares a set bit with mask.
func (f BitField) HasBit(mask int64) *Q { return Cond(string(f)+"__hasbit", mask) }

// EQ returns a constraint that the field equals v.
func (f BitField) EQ(v int64) *Q { return Cond(string(f), v) }

// TimeField is a datetime field path.
type TimeField string

// Name returns the field path.
func (f TimeField) Name() string { return string(f) }

// EQ returns a constraint that the field equals v.
func (f TimeField) EQ(v time.Time) *Q { return Cond(string(f), v) }

// GT returns a constraint that the field is after v.
func (f TimeField) GT(v time.Time) *Q { return Cond(string(f)+"__gt", v) }

// GTE returns a constraint that the field is v or after.
func (f TimeField) GTE(v time.Time) *Q { return Cond(string(f)+"__gte", v) }

// LT returns a constraint that the field is before v.
func (f TimeField) LT(v time.Time) *Q { return Cond(string(f)+"__lt", v) }

// LTE returns a constraint that the field is v or before.
func (f TimeField) LTE(v time.Time) *Q { return Cond(string(f)+"__lte", v) }

// Range returns a constraint that the field lies in [lo, hi].
func (f TimeField) Range(lo, hi time.Time) *Q {
	return Cond(string(f)+"__range", []time.Time{lo, hi})
}

// Year returns the year of the field.
func (f TimeField) Year() Field[int64] { return Field[int64](string(f) + "__year") }

// Month returns the month of the field.
func (f TimeField) Month() Field[int64] { return Field[int64](string(f) + "__month") }

// Day returns the day of the month of the field.
func (f TimeField) Day() Field[int64] { return Field[int64](string(f) + "__day") }

// IsNull returns a constraint that the field is NULL.
func (f TimeField) IsNull() *Q { return Cond(string(f)+"__isnull", true) }

// NotNull returns a constraint that the field is not NULL.
func (f TimeField) NotNull() *Q { return Cond(string(f)+"__isnull", false) }
