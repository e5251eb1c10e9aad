package rights

import "fmt"

// Value is the graded permission level a right can take. The order is part of
// the domain: values escalate from FALSE to READWRITE.
type Value int

const (
	ValueFalse Value = iota
	ValueTrue
	ValueReadOnly
	ValuePartlyReadWrite
	ValueReadWrite
)

// DefaultValue is the value an unconfigured right resolves to. No assignment
// row is persisted for it.
const DefaultValue = ValueFalse

var valueNames = map[Value]string{
	ValueFalse:           "FALSE",
	ValueTrue:            "TRUE",
	ValueReadOnly:        "READONLY",
	ValuePartlyReadWrite: "PARTLYREADWRITE",
	ValueReadWrite:       "READWRITE",
}

var valuesByName = map[string]Value{
	"FALSE":           ValueFalse,
	"TRUE":            ValueTrue,
	"READONLY":        ValueReadOnly,
	"PARTLYREADWRITE": ValuePartlyReadWrite,
	"READWRITE":       ValueReadWrite,
}

// Values returns all values in domain order.
func Values() []Value {
	return []Value{ValueFalse, ValueTrue, ValueReadOnly, ValuePartlyReadWrite, ValueReadWrite}
}

// String returns the stable wire/persistence name of the value.
func (v Value) String() string {
	if name, ok := valueNames[v]; ok {
		return name
	}
	return fmt.Sprintf("Value(%d)", int(v))
}

// Valid reports whether v is one of the declared values.
func (v Value) Valid() bool {
	_, ok := valueNames[v]
	return ok
}

// Includes reports whether v satisfies a requirement for other. Every value
// includes itself; beyond that only READWRITE includes READONLY.
func (v Value) Includes(other Value) bool {
	if v == other {
		return true
	}
	return v == ValueReadWrite && other == ValueReadOnly
}

// ParseValue parses the stable name of a value.
func ParseValue(s string) (Value, error) {
	if v, ok := valuesByName[s]; ok {
		return v, nil
	}
	return ValueFalse, fmt.Errorf("unknown right value %q", s)
}

// containsValue reports whether values contains v.
func containsValue(values []Value, v Value) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
