// Package dpt translates between raw KNX datapoint octets and typed
// values. The set of supported datapoint types is a closed, immutable
// table built at process start; there is no runtime registration.
package dpt

// table is the closed datapoint-type registry.
var table = buildTable()

func buildTable() map[string]Descriptor {
	descriptors := []Descriptor{
		{ID: "1.001", Name: "switch", family: FamilyBool},
		{ID: "1.002", Name: "boolean", family: FamilyBool},
		{ID: "1.003", Name: "enable", family: FamilyBool},
		{ID: "1.008", Name: "up/down", family: FamilyBool},
		{ID: "1.009", Name: "open/close", family: FamilyBool},

		{ID: "3.007", Name: "dimming control", family: FamilyStep},
		{ID: "3.008", Name: "blinds control", family: FamilyStep},

		{ID: "5.001", Name: "percentage", Unit: "%", family: FamilyScaled, scale: 100.0 / 255},
		{ID: "5.003", Name: "angle", Unit: "°", family: FamilyScaled, scale: 360.0 / 255},
		{ID: "5.004", Name: "percentage (0..255)", Unit: "%", family: FamilyScaled, scale: 1},
		{ID: "5.010", Name: "counter pulses", family: FamilyScaled, scale: 1},

		{ID: "9.001", Name: "temperature", Unit: "°C", family: FamilyFloat16},
		{ID: "9.004", Name: "illuminance", Unit: "lx", family: FamilyFloat16},
		{ID: "9.005", Name: "wind speed", Unit: "m/s", family: FamilyFloat16},
		{ID: "9.007", Name: "humidity", Unit: "%", family: FamilyFloat16},

		{ID: "14.019", Name: "electric current", Unit: "A", family: FamilyFloat32},
		{ID: "14.027", Name: "electric potential", Unit: "V", family: FamilyFloat32},
		{ID: "14.033", Name: "frequency", Unit: "Hz", family: FamilyFloat32},
		{ID: "14.056", Name: "power", Unit: "W", family: FamilyFloat32},

		{ID: "10.001", Name: "time of day", family: FamilyTime},
		{ID: "11.001", Name: "date", family: FamilyDate},

		{ID: "16.000", Name: "string (ASCII)", family: FamilyString, ascii: true},
		{ID: "16.001", Name: "string (Latin-1)", family: FamilyString},
	}

	t := make(map[string]Descriptor, len(descriptors))
	for _, d := range descriptors {
		t[d.ID] = d
	}
	return t
}

// Lookup returns the descriptor of a datapoint type identifier.
func Lookup(id string) (Descriptor, bool) {
	d, ok := table[id]
	return d, ok
}

// Types lists all supported datapoint type identifiers.
func Types() []string {
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	return ids
}
