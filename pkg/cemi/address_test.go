package cemi

import "testing"

func TestParseIndividualAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    IndividualAddr
		wantErr bool
	}{
		{in: "1.1.23", want: 0x1117},
		{in: "0.0.0", want: 0x0000},
		{in: "15.15.255", want: 0xFFFF},
		{in: "16.0.0", wantErr: true},
		{in: "1.16.0", wantErr: true},
		{in: "1.1.256", wantErr: true},
		{in: "1/1/23", wantErr: true},
		{in: "1.1", wantErr: true},
		{in: "a.b.c", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseIndividualAddr(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseIndividualAddr(%q) expected error, got %v", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseIndividualAddr(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseIndividualAddr(%q) = 0x%04X, want 0x%04X", tc.in, uint16(got), uint16(tc.want))
			}
			if got.String() != tc.in {
				t.Errorf("String() = %q, want %q", got.String(), tc.in)
			}
		})
	}
}

func TestParseGroupAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    GroupAddr
		wantErr bool
	}{
		{in: "1/2/3", want: 0x0A03},
		{in: "0/0/0", want: 0x0000},
		{in: "31/7/255", want: 0xFFFF},
		{in: "32/0/0", wantErr: true},
		{in: "1/8/0", wantErr: true},
		{in: "1/1/256", wantErr: true},
		{in: "1.2.3", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseGroupAddr(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseGroupAddr(%q) expected error, got %v", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGroupAddr(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("ParseGroupAddr(%q) = 0x%04X, want 0x%04X", tc.in, uint16(got), uint16(tc.want))
			}
			if got.String() != tc.in {
				t.Errorf("String() = %q, want %q", got.String(), tc.in)
			}
		})
	}
}

func TestAddrInterpretation(t *testing.T) {
	// The same raw value renders differently depending on interpretation.
	ind := IndividualDest(0x1117)
	grp := GroupDest(0x1117)

	if ind.Raw != grp.Raw {
		t.Fatal("expected identical raw values")
	}
	if ind.String() == grp.String() {
		t.Errorf("expected distinct notations, both are %q", ind.String())
	}
	if ind.String() != "1.1.23" {
		t.Errorf("individual notation = %q, want %q", ind.String(), "1.1.23")
	}
	if grp.String() != "2/1/23" {
		t.Errorf("group notation = %q, want %q", grp.String(), "2/1/23")
	}
}
