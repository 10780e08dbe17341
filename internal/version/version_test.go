package version

import (
	"strings"
	"testing"
)

func TestInfoString(t *testing.T) {
	old := Version
	Version = "1.2.3"
	defer func() { Version = old }()

	s := Get().String()
	if !strings.HasPrefix(s, "ratesim 1.2.3 (commit ") {
		t.Fatalf("unexpected version line %q", s)
	}
}
