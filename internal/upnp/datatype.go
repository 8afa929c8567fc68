package upnp

import (
	"fmt"
	"strconv"
	"strings"
)

// DataType is the native representation family of a UPnP data type.
type DataType int

const (
	DataTypeInteger DataType = iota + 1
	DataTypeString
	DataTypeBoolean
)

func (t DataType) String() string {
	switch t {
	case DataTypeInteger:
		return "integer"
	case DataTypeString:
		return "string"
	case DataTypeBoolean:
		return "boolean"
	default:
		return "unknown"
	}
}

// dataTypes maps SCPD dataType names to their native family.
var dataTypes = map[string]DataType{
	"ui1":     DataTypeInteger,
	"ui2":     DataTypeInteger,
	"ui4":     DataTypeInteger,
	"ui8":     DataTypeInteger,
	"i1":      DataTypeInteger,
	"i2":      DataTypeInteger,
	"i4":      DataTypeInteger,
	"i8":      DataTypeInteger,
	"int":     DataTypeInteger,
	"string":  DataTypeString,
	"uri":     DataTypeString,
	"uuid":    DataTypeString,
	"boolean": DataTypeBoolean,
}

// LookupDataType resolves an SCPD dataType name.
func LookupDataType(name string) (DataType, bool) {
	t, ok := dataTypes[strings.TrimSpace(name)]
	return t, ok
}

// ValueRange is an inclusive allowedValueRange. Step is zero when not declared.
type ValueRange struct {
	Min  int
	Max  int
	Step int
}

// TypeInfo describes the declared type and constraints of a state variable.
type TypeInfo struct {
	DataType      DataType
	UPnPType      string
	Default       string
	HasDefault    bool
	Range         *ValueRange
	AllowedValues []string
}

// rule is one validation step. check returns an empty reason when the value passes.
type rule struct {
	name  string
	check func(value any) string
}

// buildRules composes type, enumeration and range checks in that order.
func buildRules(info TypeInfo) []rule {
	rules := []rule{{name: "type", check: typeCheck(info.DataType)}}

	if len(info.AllowedValues) > 0 {
		allowed := make(map[string]struct{}, len(info.AllowedValues))
		for _, v := range info.AllowedValues {
			allowed[v] = struct{}{}
		}
		rules = append(rules, rule{name: "enum", check: func(value any) string {
			wire, err := toWire(info.DataType, value)
			if err != nil {
				return err.Error()
			}
			if _, ok := allowed[wire]; !ok {
				return fmt.Sprintf("not one of %v", info.AllowedValues)
			}
			return ""
		}})
	}

	if info.Range != nil && info.DataType == DataTypeInteger {
		lo, hi := info.Range.Min, info.Range.Max
		rules = append(rules, rule{name: "range", check: func(value any) string {
			n := value.(int)
			if n < lo || n > hi {
				return fmt.Sprintf("outside [%d, %d]", lo, hi)
			}
			return ""
		}})
	}

	return rules
}

func typeCheck(t DataType) func(any) string {
	return func(value any) string {
		var ok bool
		switch t {
		case DataTypeInteger:
			_, ok = value.(int)
		case DataTypeString:
			_, ok = value.(string)
		case DataTypeBoolean:
			_, ok = value.(bool)
		}
		if !ok {
			return fmt.Sprintf("expected %s, got %T", t, value)
		}
		return ""
	}
}

// normalize widens the integer kinds callers commonly pass to int.
func normalize(t DataType, value any) any {
	if t != DataTypeInteger {
		return value
	}
	switch v := value.(type) {
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	}
	return value
}

// toNative converts a wire string to the native representation of t.
func toNative(t DataType, wire string) (any, error) {
	switch t {
	case DataTypeInteger:
		return strconv.Atoi(strings.TrimSpace(wire))
	case DataTypeBoolean:
		switch wire {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
		return nil, fmt.Errorf("boolean must be \"1\" or \"0\"")
	case DataTypeString:
		return wire, nil
	}
	return nil, fmt.Errorf("unknown data type %d", t)
}

// toWire converts a native value to its UPnP string encoding.
func toWire(t DataType, value any) (string, error) {
	switch t {
	case DataTypeInteger:
		if n, ok := value.(int); ok {
			return strconv.Itoa(n), nil
		}
	case DataTypeBoolean:
		if b, ok := value.(bool); ok {
			if b {
				return "1", nil
			}
			return "0", nil
		}
	case DataTypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	}
	return "", fmt.Errorf("expected %s, got %T", t, value)
}
