package tile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mohammed-shakir/geo-udf/internal/codec"
	"github.com/mohammed-shakir/geo-udf/internal/udferr"
)

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// Timestamp is an instant that re-emits the exact ISO-8601 text it was read
// from. Timestamps built from a time.Time format as RFC 3339 when zoned and
// as naive ISO-8601 when in UTC.
type Timestamp struct {
	t   time.Time
	raw string
}

func NewTimestamp(t time.Time) Timestamp { return Timestamp{t: t} }

func ParseTimestamp(s string) (Timestamp, error) {
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return Timestamp{t: t, raw: s}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("timestamp %q is not ISO-8601: %w", s, udferr.ErrValidation)
}

func (t Timestamp) Time() time.Time { return t.t }

func (t Timestamp) String() string {
	if t.raw != "" {
		return t.raw
	}
	if t.t.Location() == time.UTC {
		return t.t.Format("2006-01-02T15:04:05.999999999")
	}
	return t.t.Format(time.RFC3339Nano)
}

func (t Timestamp) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Timestamp) UnmarshalText(b []byte) error {
	ts, err := ParseTimestamp(string(b))
	if err != nil {
		return err
	}
	*t = ts
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", udferr.ErrValidation)
	}
	return t.UnmarshalText([]byte(s))
}

func (t Timestamp) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(t.String())
}

func (t *Timestamp) UnmarshalCBOR(b []byte) error {
	var s string
	if err := codec.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", udferr.ErrValidation)
	}
	return t.UnmarshalText([]byte(s))
}

// Timestamps parses a list of ISO-8601 strings in order.
func Timestamps(ss ...string) ([]Timestamp, error) {
	out := make([]Timestamp, len(ss))
	for i, s := range ss {
		ts, err := ParseTimestamp(s)
		if err != nil {
			return nil, err
		}
		out[i] = ts
	}
	return out, nil
}

func equalTimes(a, b []Timestamp) bool {
	if (a == nil) != (b == nil) || len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].t.Equal(b[i].t) {
			return false
		}
	}
	return true
}
