package version

import "testing"

func TestFormatVersion(t *testing.T) {
	cases := map[string]string{
		"":      "",
		"dev":   "dev",
		"0.3.0": "v0.3.0",
		"v1.2":  "v1.2",
	}
	for in, want := range cases {
		if got := FormatVersion(in); got != want {
			t.Fatalf("FormatVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewer(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"1.0.1", "1.0.0", true},
		{"1.0.0", "1.0.1", false},
		{"1.0.0", "1.0.0", false},
		{"2.0", "1.9.9", true},
		{"1.10.0", "1.9.0", true},
		{"1.0.0.1", "1.0.0", true},
		{"v1.1.0", "1.0.0", true},
	}
	for _, tc := range cases {
		if got := Newer(tc.a, tc.b); got != tc.want {
			t.Fatalf("Newer(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
