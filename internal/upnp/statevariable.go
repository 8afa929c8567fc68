package upnp

import (
	"sync"
	"time"
)

// now is swapped in tests for predictable timestamps.
var now = func() time.Time { return time.Now().UTC() }

// StateVariable holds a single named, typed and validated value.
//
// The value is nil until first set. Every assignment is validated against the
// declared type, enumeration and range; a rejected assignment keeps the prior
// value and timestamp.
type StateVariable struct {
	name         string
	sendEvents   bool
	info         TypeInfo
	rules        []rule
	defaultValue any

	mu        sync.RWMutex
	value     any
	updatedAt time.Time
}

// NewStateVariable builds a state variable and its validation rules from type info.
func NewStateVariable(name string, sendEvents bool, info TypeInfo) (*StateVariable, error) {
	sv := &StateVariable{
		name:       name,
		sendEvents: sendEvents,
		info:       info,
		rules:      buildRules(info),
	}

	if info.HasDefault {
		value, err := toNative(info.DataType, info.Default)
		if err != nil {
			return nil, &ParseError{What: "defaultValue of " + name, Err: err}
		}
		sv.defaultValue = value
	}

	return sv, nil
}

// Name returns the state variable name.
func (sv *StateVariable) Name() string { return sv.name }

// SendEvents reports whether the device events changes of this variable.
func (sv *StateVariable) SendEvents() bool { return sv.sendEvents }

// DataType returns the native type family.
func (sv *StateVariable) DataType() DataType { return sv.info.DataType }

// UPnPType returns the declared SCPD dataType name.
func (sv *StateVariable) UPnPType() string { return sv.info.UPnPType }

// Min returns the declared range minimum.
func (sv *StateVariable) Min() (int, bool) {
	if sv.info.Range == nil {
		return 0, false
	}
	return sv.info.Range.Min, true
}

// Max returns the declared range maximum.
func (sv *StateVariable) Max() (int, bool) {
	if sv.info.Range == nil {
		return 0, false
	}
	return sv.info.Range.Max, true
}

// Step returns the declared range step, zero when absent.
func (sv *StateVariable) Step() int {
	if sv.info.Range == nil {
		return 0
	}
	return sv.info.Range.Step
}

// AllowedValues returns the declared enumeration, if any.
func (sv *StateVariable) AllowedValues() []string {
	out := make([]string, len(sv.info.AllowedValues))
	copy(out, sv.info.AllowedValues)
	return out
}

// Default returns the coerced default value, or nil.
func (sv *StateVariable) Default() any { return sv.defaultValue }

// Validate checks a native value against type, enumeration and range, in that order.
func (sv *StateVariable) Validate(value any) error {
	value = normalize(sv.info.DataType, value)
	for _, r := range sv.rules {
		if reason := r.check(value); reason != "" {
			return &ValidationError{StateVariable: sv.name, Value: value, Rule: r.name, Reason: reason}
		}
	}
	return nil
}

// CoerceNative converts a wire string to the native type.
func (sv *StateVariable) CoerceNative(wire string) (any, error) {
	value, err := toNative(sv.info.DataType, wire)
	if err != nil {
		return nil, &CoercionError{StateVariable: sv.name, Value: wire, DataType: sv.info.UPnPType, Err: err}
	}
	return value, nil
}

// CoerceWire converts a native value to its wire string.
func (sv *StateVariable) CoerceWire(value any) (string, error) {
	value = normalize(sv.info.DataType, value)
	if err := sv.Validate(value); err != nil {
		return "", err
	}
	return toWire(sv.info.DataType, value)
}

// Value returns the current native value, nil until first set.
func (sv *StateVariable) Value() any {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return sv.value
}

// WireValue returns the current value in wire encoding, empty when unset.
func (sv *StateVariable) WireValue() string {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	if sv.value == nil {
		return ""
	}
	wire, _ := toWire(sv.info.DataType, sv.value)
	return wire
}

// UpdatedAt returns the time of the last successful assignment.
func (sv *StateVariable) UpdatedAt() time.Time {
	sv.mu.RLock()
	defer sv.mu.RUnlock()
	return sv.updatedAt
}

// SetValue validates and stores a native value.
func (sv *StateVariable) SetValue(value any) error {
	value = normalize(sv.info.DataType, value)
	if err := sv.Validate(value); err != nil {
		return err
	}

	sv.mu.Lock()
	sv.value = value
	sv.updatedAt = now()
	sv.mu.Unlock()
	return nil
}

// SetWireValue coerces a wire string and stores it through SetValue.
func (sv *StateVariable) SetWireValue(wire string) error {
	value, err := sv.CoerceNative(wire)
	if err != nil {
		return err
	}
	return sv.SetValue(value)
}

func (sv *StateVariable) String() string {
	return "StateVariable(" + sv.name + ", " + sv.info.UPnPType + ")"
}
