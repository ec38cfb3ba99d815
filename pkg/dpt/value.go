package dpt

import "fmt"

// Value is one typed datapoint value. The concrete type is fixed by the
// descriptor's family; Encode rejects a value of the wrong type.
type Value interface {
	isValue()
}

// Bool is the value of family 1.x datapoints.
type Bool bool

func (Bool) isValue() {}

// Step is the value of family 3.x control datapoints: a direction and a
// step code. Code 0 is a break, 1 through 7 select the interval width.
type Step struct {
	Increase bool
	Code     uint8
}

func (Step) isValue() {}

// Scaled is the value of family 5.x datapoints in engineering units after
// scaling, e.g. percent for 5.001.
type Scaled float64

func (Scaled) isValue() {}

// Float is the value of the 9.x and 14.x float families.
type Float float64

func (Float) isValue() {}

// TimeOfDay is the value of datapoint type 10.001. Weekday 0 means no day,
// 1 is Monday.
type TimeOfDay struct {
	Weekday uint8
	Hour    uint8
	Minute  uint8
	Second  uint8
}

func (TimeOfDay) isValue() {}

// Date is the value of datapoint type 11.001. The encodable range is 1990
// through 2089.
type Date struct {
	Year  int
	Month uint8
	Day   uint8
}

func (Date) isValue() {}

// String is the value of family 16.x datapoints, at most 14 characters.
type String string

func (String) isValue() {}

// formatValue renders a value for logging and CLI output.
func formatValue(v Value, unit string) string {
	switch v := v.(type) {
	case Bool:
		return fmt.Sprintf("%t", bool(v))
	case Step:
		dir := "decrease"
		if v.Increase {
			dir = "increase"
		}
		if v.Code == 0 {
			return dir + " break"
		}
		return fmt.Sprintf("%s %d", dir, v.Code)
	case Scaled:
		return trimUnit(fmt.Sprintf("%g", float64(v)), unit)
	case Float:
		return trimUnit(fmt.Sprintf("%g", float64(v)), unit)
	case TimeOfDay:
		return fmt.Sprintf("%02d:%02d:%02d", v.Hour, v.Minute, v.Second)
	case Date:
		return fmt.Sprintf("%04d-%02d-%02d", v.Year, v.Month, v.Day)
	case String:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func trimUnit(s, unit string) string {
	if unit == "" {
		return s
	}
	return s + " " + unit
}
