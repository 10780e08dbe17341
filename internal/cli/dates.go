package cli

import (
	"fmt"
	"time"
)

var dateLayouts = []string{time.DateOnly, "02/01/2006", time.RFC3339}

// parseDate accepts yyyy-mm-dd, the SGS dd/mm/yyyy form, or RFC3339.
func parseDate(flag, value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --%s value %q: expected yyyy-mm-dd, dd/mm/yyyy or RFC3339", flag, value)
}

// dateFlag is a pflag.Value holding an optional date.
type dateFlag struct {
	name string
	t    *time.Time
}

func newDateFlag(name string) *dateFlag {
	return &dateFlag{name: name}
}

func (d *dateFlag) String() string {
	if d.t == nil {
		return ""
	}
	return d.t.Format(time.DateOnly)
}

func (d *dateFlag) Set(v string) error {
	t, err := parseDate(d.name, v)
	if err != nil {
		return err
	}
	d.t = &t
	return nil
}

func (d *dateFlag) Type() string { return "date" }

// Time returns the parsed date, or nil when the flag was not given.
func (d *dateFlag) Time() *time.Time { return d.t }
