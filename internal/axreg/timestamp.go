package axreg

import (
	"encoding/json"
	"strings"
	"time"
)

var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp is an optional instant sent by AXReg. Null, missing, empty and
// unparsable values are all absent (Valid == false); Raw keeps the text that
// was received so it can be reported.
type Timestamp struct {
	Time  time.Time
	Valid bool
	Raw   string
}

// ParseTimestamp parses s as an AXReg timestamp. Values without an offset are
// read in loc.
func ParseTimestamp(s string, loc *time.Location) Timestamp {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Timestamp{}
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return Timestamp{Time: t, Valid: true, Raw: raw}
		}
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return Timestamp{Time: t, Valid: true, Raw: raw}
		}
	}
	return Timestamp{Raw: raw}
}

// UnmarshalJSON never fails: anything that is not a usable time string
// decodes to an absent timestamp.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		raw := string(b)
		if raw == "null" {
			raw = ""
		}
		*t = Timestamp{Raw: raw}
		return nil
	}
	*t = ParseTimestamp(s, time.UTC)
	return nil
}

// MarshalJSON writes the received text back, or null when nothing was sent.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	switch {
	case t.Raw != "":
		return json.Marshal(t.Raw)
	case t.Valid:
		return json.Marshal(t.Time.Format(time.RFC3339Nano))
	default:
		return []byte("null"), nil
	}
}

// localize re-reads the raw text in loc so offset-less values get the
// source time zone instead of UTC.
func (t *Timestamp) localize(loc *time.Location) {
	if t.Raw == "" || loc == nil {
		return
	}
	*t = ParseTimestamp(t.Raw, loc)
}
