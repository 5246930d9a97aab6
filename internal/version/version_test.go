package version

import "testing"

func TestFormatVersion(t *testing.T) {
	cases := map[string]string{
		"":       "",
		"dev":    "dev",
		"0.3.0":  "v0.3.0",
		"v1.2.3": "v1.2.3",
	}
	for in, want := range cases {
		if got := FormatVersion(in); got != want {
			t.Fatalf("FormatVersion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestUserAgentStripsGitDescribeSuffix(t *testing.T) {
	restore := ForTesting("v1.4.0-3-gabc1234")
	defer restore()

	if got := UserAgent(); got != "Warp-Client/1.4.0" {
		t.Fatalf("unexpected user agent %q", got)
	}
}

func TestUserAgentDev(t *testing.T) {
	restore := ForTesting("")
	defer restore()

	if got := UserAgent(); got != "Warp-Client/dev" {
		t.Fatalf("unexpected user agent %q", got)
	}
	if String() != "" {
		t.Fatalf("ForTesting did not override version")
	}
}
