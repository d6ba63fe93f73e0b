package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	old := Version
	Version = "1.2.3"
	defer func() { Version = old }()

	if s := String(); !strings.HasPrefix(s, "runway 1.2.3 ") {
		t.Fatalf("unexpected version string: %q", s)
	}
}

func TestPrintBanner(t *testing.T) {
	var b strings.Builder
	PrintBanner(&b)

	if !strings.Contains(b.String(), "Version: "+Version) {
		t.Fatalf("expected version in banner, got: %s", b.String())
	}
}
