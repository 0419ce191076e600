// Package temporal resolves the timestamp shapes found on the wire into a
// single canonical instant. The backing store emits two incompatible
// timestamp-object shapes across write paths, and callers hand-roll ISO
// strings or epoch numbers, so every comparison elsewhere goes through
// Resolve instead of re-detecting shapes.
package temporal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Instant is a point in time with millisecond resolution, stored as epoch
// milliseconds UTC. Two Instants produced from any supported shape of the
// same physical instant compare equal with ==.
type Instant int64

// Numbers below this are treated as epoch seconds rather than milliseconds.
const secondsThreshold = 2_000_000_000

func FromTime(t time.Time) Instant {
	return Instant(t.UTC().UnixMilli())
}

func Now() Instant {
	return FromTime(time.Now())
}

func (i Instant) Time() time.Time {
	return time.UnixMilli(int64(i)).UTC()
}

func (i Instant) Before(other Instant) bool { return i < other }
func (i Instant) After(other Instant) bool  { return i > other }
func (i Instant) Equal(other Instant) bool  { return i == other }

// Format renders the instant as an RFC 3339 string with millisecond
// precision, the only shape this package ever writes back out.
func (i Instant) Format() string {
	return i.Time().Format("2006-01-02T15:04:05.000Z07:00")
}

func (i Instant) String() string { return i.Format() }

func (i Instant) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Format())
}

func (i *Instant) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*i = Resolve(v)
	return nil
}

// Compare returns -1, 0 or 1 as a is before, equal to or after b.
func Compare(a, b Instant) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// IsPast reports whether i is strictly before ref.
func IsPast(i, ref Instant) bool {
	return i.Before(ref)
}

// Resolve converts any supported timestamp shape into an Instant. It is
// total: unrecognized input degrades to a best-effort parse and finally to
// the current instant, never an error.
//
// Shapes, tried in order of narrowing specificity:
//  1. Instant or time.Time, returned as-is.
//  2. Object with integer "seconds" (and optional "nanoseconds").
//  3. Object with integer "_seconds" (legacy wire naming).
//  4. String, parsed as RFC 3339 with layout fallbacks, then as a
//     YYYY-MM-DDTHH:MM prefix.
//  5. Number, epoch milliseconds unless small enough to be epoch seconds.
//  6. Anything else: best-effort parse of its string form, else now.
func Resolve(v any) Instant {
	switch t := v.(type) {
	case nil:
		return Now()
	case Instant:
		return t
	case time.Time:
		return FromTime(t)
	case *time.Time:
		if t == nil {
			return Now()
		}
		return FromTime(*t)
	case map[string]any:
		if i, ok := resolveTimestampObject(t); ok {
			return i
		}
	case string:
		if i, ok := parseString(t); ok {
			return i
		}
		return Now()
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return fromNumber(f)
		}
	case float64:
		return fromNumber(t)
	case float32:
		return fromNumber(float64(t))
	case int:
		return fromNumber(float64(t))
	case int64:
		return fromNumber(float64(t))
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(t, &decoded); err == nil {
			return Resolve(decoded)
		}
	case []byte:
		var decoded any
		if err := json.Unmarshal(t, &decoded); err == nil {
			return Resolve(decoded)
		}
		if i, ok := parseString(string(t)); ok {
			return i
		}
	}

	if i, ok := parseString(fmt.Sprint(v)); ok {
		return i
	}
	return Now()
}

// ResolveJSON resolves a raw JSON value, the shape the store hands back for
// an event's scheduled instant.
func ResolveJSON(raw string) Instant {
	if raw == "" {
		return Now()
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		// not JSON, treat the raw text as a date string
		return Resolve(raw)
	}
	return Resolve(decoded)
}

func resolveTimestampObject(m map[string]any) (Instant, bool) {
	secs, ok := numberField(m, "seconds")
	if !ok {
		// legacy serializer prefixes the field with an underscore
		secs, ok = numberField(m, "_seconds")
		if !ok {
			return 0, false
		}
		nanos, _ := numberField(m, "_nanoseconds")
		return Instant(int64(secs)*1000 + int64(nanos)/1e6), true
	}

	nanos, _ := numberField(m, "nanoseconds")
	return Instant(int64(secs)*1000 + int64(nanos)/1e6), true
}

func numberField(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func fromNumber(n float64) Instant {
	if n < secondsThreshold {
		return Instant(int64(n * 1000))
	}
	return Instant(int64(n))
}

var stringLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseString(s string) (Instant, bool) {
	if s == "" {
		return 0, false
	}

	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return fromNumber(n), true
	}

	for _, layout := range stringLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return FromTime(t), true
		}
	}

	// salvage a YYYY-MM-DDTHH:MM prefix from hand-rolled strings
	if len(s) >= 16 && s[4] == '-' && s[7] == '-' && s[10] == 'T' && s[13] == ':' {
		if t, err := time.Parse("2006-01-02T15:04", s[:16]); err == nil {
			return FromTime(t), true
		}
	}

	return 0, false
}
