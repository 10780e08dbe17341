package cli

import (
	"testing"
	"time"
)

func TestParseDateLayouts(t *testing.T) {
	want := time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2025-02-14", "14/02/2025", "2025-02-14T00:00:00Z"} {
		got, err := parseDate("from", in)
		if err != nil {
			t.Fatalf("parseDate(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parseDate(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := parseDate("from", "Feb 14"); err == nil {
		t.Fatal("expected error for unsupported layout")
	}
}

func TestRootRegistersCommands(t *testing.T) {
	want := []string{"annualize", "current", "inflation", "update", "serve", "run", "backfill", "show", "export", "simulate-alert", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %q not registered", name)
		}
	}
}

func TestDateFlag(t *testing.T) {
	f := newDateFlag("to")
	if f.Time() != nil || f.String() != "" {
		t.Fatal("unset flag should be empty")
	}
	if err := f.Set("31/12/2024"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if f.String() != "2024-12-31" {
		t.Fatalf("unexpected value %q", f.String())
	}
	if err := f.Set("yesterday"); err == nil {
		t.Fatal("expected parse error")
	}
	if f.Type() != "date" {
		t.Fatalf("unexpected type %q", f.Type())
	}
}
