package matrix

import "strconv"

// Value is a test-option value: either a boolean or a string.
type Value struct {
	isBool bool
	b      bool
	s      string
}

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{isBool: true, b: b} }

// String returns a string Value.
func String(s string) Value { return Value{s: s} }

// IsBool reports whether v holds a boolean.
func (v Value) IsBool() bool { return v.isBool }

// Truthy reports whether the option is enabled. Booleans are themselves;
// strings that parse as booleans ("false", "0") use that value, any other
// non-empty string is enabled.
func (v Value) Truthy() bool {
	if v.isBool {
		return v.b
	}
	if parsed, err := strconv.ParseBool(v.s); err == nil {
		return parsed
	}
	return v.s != ""
}

// String returns the textual form, which actions receive as {value}.
func (v Value) String() string {
	if v.isBool {
		return strconv.FormatBool(v.b)
	}
	return v.s
}

// MarshalYAML lets Options render back as plain scalars.
func (v Value) MarshalYAML() (any, error) {
	if v.isBool {
		return v.b, nil
	}
	return v.s, nil
}

// Options maps test-option names to values for one (repository, distro) pair.
type Options map[string]Value
