package param

import (
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Type defines the constraint a parameter value must satisfy.
// Implementations determine how values are validated against a type.
type Type interface {
	// Name returns the human-readable name of the type (e.g., "string", "number[0,100]").
	Name() string
	// Validate checks if a value conforms to this type.
	Validate(value any) error
}

// Coercer is implemented by types that can normalize loosely typed input,
// such as float64 numbers decoded from JSON, into their canonical Go form.
// Coercion is only applied to values arriving from a remote peer.
type Coercer interface {
	Coerce(value any) (any, error)
}

// Bounds is an inclusive numeric range. A nil end is unbounded.
type Bounds struct {
	Min *float64
	Max *float64
}

// Between returns inclusive bounds [lo, hi].
func Between(lo, hi float64) Bounds { return Bounds{Min: &lo, Max: &hi} }

// AtLeast returns bounds [lo, +inf).
func AtLeast(lo float64) Bounds { return Bounds{Min: &lo} }

func (b Bounds) check(v float64) error {
	if b.Min != nil && v < *b.Min {
		return fmt.Errorf("%v is below the lower bound %v", v, *b.Min)
	}
	if b.Max != nil && v > *b.Max {
		return fmt.Errorf("%v is above the upper bound %v", v, *b.Max)
	}
	return nil
}

func (b Bounds) String() string {
	if b.Min == nil && b.Max == nil {
		return ""
	}
	lo, hi := "-inf", "+inf"
	if b.Min != nil {
		lo = fmt.Sprint(*b.Min)
	}
	if b.Max != nil {
		hi = fmt.Sprint(*b.Max)
	}
	return "[" + lo + "," + hi + "]"
}

// --- Built-in Type Implementations ---

// StringType validates string values.
type StringType struct{}

func (t *StringType) Name() string { return "string" }

func (t *StringType) Validate(value any) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	return nil
}

// BoolType validates boolean values.
type BoolType struct{}

func (t *BoolType) Name() string { return "bool" }

func (t *BoolType) Validate(value any) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("expected bool, got %T", value)
	}
	return nil
}

// IntType validates integer values within optional bounds.
type IntType struct {
	bounds Bounds
}

func (t *IntType) Name() string { return "int" + t.bounds.String() }

func (t *IntType) Validate(value any) error {
	var f float64
	switch v := value.(type) {
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case float64:
		// Accept floats that are whole numbers (from JSON unmarshaling)
		if v != math.Trunc(v) {
			return fmt.Errorf("expected int, got float (not a whole number)")
		}
		f = v
	default:
		return fmt.Errorf("expected int, got %T", value)
	}
	return t.bounds.check(f)
}

// Coerce converts sized integers and whole float64 values into int.
func (t *IntType) Coerce(value any) (any, error) {
	switch v := value.(type) {
	case int8:
		return int(v), nil
	case int16:
		return int(v), nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return int(v), nil
		}
	}
	return value, nil
}

// FloatType validates numeric values within optional bounds.
type FloatType struct {
	bounds Bounds
}

func (t *FloatType) Name() string { return "number" + t.bounds.String() }

func (t *FloatType) Validate(value any) error {
	f, ok := toFloat(value)
	if !ok {
		return fmt.Errorf("expected number, got %T", value)
	}
	if math.IsNaN(f) {
		return fmt.Errorf("NaN is not a valid number")
	}
	return t.bounds.check(f)
}

// Coerce converts any numeric value into float64.
func (t *FloatType) Coerce(value any) (any, error) {
	if f, ok := toFloat(value); ok {
		return f, nil
	}
	return value, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// SelectorType validates membership in a fixed set of options.
type SelectorType struct {
	options []any
}

func (t *SelectorType) Name() string {
	parts := make([]string, len(t.options))
	for i, o := range t.options {
		parts[i] = fmt.Sprint(o)
	}
	return "selector{" + strings.Join(parts, "|") + "}"
}

func (t *SelectorType) Validate(value any) error {
	for _, o := range t.options {
		if reflect.DeepEqual(o, value) {
			return nil
		}
		// JSON numbers arrive as float64
		if fo, ok := toFloat(o); ok {
			if fv, ok := toFloat(value); ok && fo == fv {
				return nil
			}
		}
	}
	return fmt.Errorf("%v is not one of the allowed options", value)
}

// Coerce maps a loosely typed value onto the matching declared option.
func (t *SelectorType) Coerce(value any) (any, error) {
	fv, ok := toFloat(value)
	if !ok {
		return value, nil
	}
	for _, o := range t.options {
		if fo, ok := toFloat(o); ok && fo == fv {
			return o, nil
		}
	}
	return value, nil
}

// Options returns the allowed values in declaration order.
func (t *SelectorType) Options() []any {
	return append([]any(nil), t.options...)
}

// SliceType validates slices of a specific element type.
type SliceType struct {
	elemType Type
	minLen   int
	maxLen   int // 0 means unbounded
}

func (t *SliceType) Name() string {
	return fmt.Sprintf("[%s]", t.elemType.Name())
}

func (t *SliceType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("expected slice, got %T", value)
	}
	if rv.Len() < t.minLen {
		return fmt.Errorf("expected at least %d elements, got %d", t.minLen, rv.Len())
	}
	if t.maxLen > 0 && rv.Len() > t.maxLen {
		return fmt.Errorf("expected at most %d elements, got %d", t.maxLen, rv.Len())
	}

	// Validate each element
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i).Interface()
		if err := t.elemType.Validate(elem); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// Coerce rebuilds a []any element by element using the element type's coercion.
func (t *SliceType) Coerce(value any) (any, error) {
	in, ok := value.([]any)
	if !ok {
		return value, nil
	}
	c, ok := t.elemType.(Coercer)
	if !ok {
		return value, nil
	}
	out := make([]any, len(in))
	for i, v := range in {
		cv, err := c.Coerce(v)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = cv
	}
	return out, nil
}

// ObjectType validates nested parameterized objects.
type ObjectType struct{}

func (t *ObjectType) Name() string { return "object" }

func (t *ObjectType) Validate(value any) error {
	if _, ok := value.(Parameterized); !ok {
		return fmt.Errorf("expected parameterized object, got %T", value)
	}
	return nil
}

// ObjectListType validates ordered sequences of parameterized objects.
type ObjectListType struct{}

func (t *ObjectListType) Name() string { return "[object]" }

func (t *ObjectListType) Validate(value any) error {
	if _, ok := value.([]Parameterized); !ok {
		return fmt.Errorf("expected []Parameterized, got %T", value)
	}
	return nil
}

// AnyType accepts every value.
type AnyType struct{}

func (t *AnyType) Name() string { return "any" }

func (t *AnyType) Validate(any) error { return nil }

// CustomType applies a user-defined validation function.
type CustomType struct {
	name     string
	validate func(any) error
}

func (t *CustomType) Name() string { return t.name }

func (t *CustomType) Validate(value any) error {
	return t.validate(value)
}

// --- Factory Functions ---

// String creates a string type validator.
func String() Type { return &StringType{} }

// Boolean creates a boolean type validator.
func Boolean() Type { return &BoolType{} }

// Integer creates an integer type validator. At most one Bounds is used.
func Integer(bounds ...Bounds) Type {
	t := &IntType{}
	if len(bounds) > 0 {
		t.bounds = bounds[0]
	}
	return t
}

// Number creates a floating-point type validator. At most one Bounds is used.
func Number(bounds ...Bounds) Type {
	t := &FloatType{}
	if len(bounds) > 0 {
		t.bounds = bounds[0]
	}
	return t
}

// Selector creates an enumerated type accepting only the given options.
func Selector(options ...any) Type {
	return &SelectorType{options: options}
}

// List creates a slice type validator for elements of the given type.
func List(elemType Type) Type {
	return &SliceType{elemType: elemType}
}

// ListLen creates a slice type validator with length bounds (max 0 = unbounded).
func ListLen(elemType Type, minLen, maxLen int) Type {
	return &SliceType{elemType: elemType, minLen: minLen, maxLen: maxLen}
}

// ObjectRef creates a type accepting a nested parameterized object.
func ObjectRef() Type { return &ObjectType{} }

// ObjectList creates a type accepting a []Parameterized.
func ObjectList() Type { return &ObjectListType{} }

// Any creates a type accepting every value.
func Any() Type { return &AnyType{} }

// Custom creates a custom type validator with a user-defined function.
func Custom(name string, validate func(any) error) Type {
	return &CustomType{name: name, validate: validate}
}
