// Package cycling implements the cycle point, interval, and recurrence
// sequence arithmetic that drives a cycling workflow.
//
// Two calendar families share one contract: plain integer cycling, and
// Gregorian (UTC date-time) cycling. A workflow selects one family at load
// time; the family tag is carried on every value and checked at every
// cross-family operation.
package cycling

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the calendar family of a Point, Interval or Sequence.
type Kind int

const (
	// Integer cycling: points are plain integers.
	Integer Kind = iota + 1
	// Gregorian cycling: points are UTC date-times with second precision.
	Gregorian
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case Integer:
		return "integer"
	case Gregorian:
		return "gregorian"
	default:
		return "unknown"
	}
}

// ParseKind converts a config string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "integer":
		return Integer, nil
	case "gregorian", "iso8601", "datetime":
		return Gregorian, nil
	default:
		return 0, fmt.Errorf("unknown cycling kind %q", s)
	}
}

// Point is a position on the workflow's cycling axis. It is a comparable
// value type: equal points compare equal with == and hash identically,
// regardless of the textual form they were parsed from.
//
// The zero Point is invalid and only useful as a "no point" sentinel.
type Point struct {
	kind Kind
	// v is the integer value for Integer cycling, or seconds since the
	// Unix epoch (UTC) for Gregorian cycling.
	v int64
}

// NewIntegerPoint returns an integer-cycling point.
func NewIntegerPoint(v int64) Point {
	return Point{kind: Integer, v: v}
}

// NewGregorianPoint returns a Gregorian point truncated to whole seconds, UTC.
func NewGregorianPoint(t time.Time) Point {
	return Point{kind: Gregorian, v: t.Unix()}
}

// Kind returns the calendar family of the point.
func (p Point) Kind() Kind { return p.kind }

// IsZero reports whether p is the invalid zero sentinel.
func (p Point) IsZero() bool { return p.kind == 0 }

// Int returns the integer value of an Integer point.
func (p Point) Int() int64 { return p.v }

// Time returns the UTC time of a Gregorian point.
func (p Point) Time() time.Time { return time.Unix(p.v, 0).UTC() }

// Compare returns -1, 0 or 1 ordering p against q. Points are totally
// ordered within one family; comparing across families is a programming
// error and panics.
func (p Point) Compare(q Point) int {
	p.mustMatch(q, "compare")
	switch {
	case p.v < q.v:
		return -1
	case p.v > q.v:
		return 1
	default:
		return 0
	}
}

// Less reports whether p orders strictly before q.
func (p Point) Less(q Point) bool { return p.Compare(q) < 0 }

// Add returns p advanced by iv. Mixing calendar families is a
// TypeMismatchError.
func (p Point) Add(iv Interval) (Point, error) {
	if p.kind != iv.kind {
		return Point{}, &TypeMismatchError{Op: "add", A: p.kind, B: iv.kind}
	}
	if p.kind == Gregorian && iv.months != 0 {
		t := p.Time().AddDate(0, int(iv.months), 0)
		return Point{kind: Gregorian, v: t.Unix() + iv.secs}, nil
	}
	return Point{kind: p.kind, v: p.v + iv.secs}, nil
}

// Sub returns p moved back by iv.
func (p Point) Sub(iv Interval) (Point, error) {
	return p.Add(iv.Neg())
}

// Diff returns the exact interval p - q. For Gregorian points the result is
// expressed in seconds (no nominal month component).
func (p Point) Diff(q Point) (Interval, error) {
	if p.kind != q.kind {
		return Interval{}, &TypeMismatchError{Op: "diff", A: p.kind, B: q.kind}
	}
	return Interval{kind: p.kind, secs: p.v - q.v}, nil
}

// String returns the canonical hash-stable form: the decimal value for
// Integer points, or basic ISO 8601 ("20200101T0600Z") for Gregorian points.
func (p Point) String() string {
	switch p.kind {
	case Integer:
		return strconv.FormatInt(p.v, 10)
	case Gregorian:
		t := p.Time()
		if t.Second() != 0 {
			return t.Format("20060102T150405Z")
		}
		return t.Format("20060102T1504Z")
	default:
		return "<no point>"
	}
}

func (p Point) mustMatch(q Point, op string) {
	if p.kind != q.kind {
		panic(&TypeMismatchError{Op: op, A: p.kind, B: q.kind})
	}
}

// ParsePoint standardises a textual cycle point of the given family into a
// Point. Partial Gregorian points are allowed: missing trailing components
// take their minimum value, so "2020", "202001", "2020-01-01" and
// "20200101T0000Z" all standardise to the same Point.
func ParsePoint(kind Kind, s string) (Point, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Point{}, fmt.Errorf("empty cycle point")
	}
	switch kind {
	case Integer:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Point{}, fmt.Errorf("invalid integer cycle point %q", s)
		}
		return NewIntegerPoint(v), nil
	case Gregorian:
		t, err := parseGregorian(s)
		if err != nil {
			return Point{}, err
		}
		return NewGregorianPoint(t), nil
	default:
		return Point{}, fmt.Errorf("invalid cycling kind %d", kind)
	}
}

// parseGregorian accepts basic and extended ISO 8601 date-times, truncated
// at any component boundary, with an optional trailing Z.
func parseGregorian(s string) (time.Time, error) {
	orig := s
	s = strings.TrimSuffix(s, "Z")

	datePart := s
	timePart := ""
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		datePart, timePart = s[:i], s[i+1:]
	}
	datePart = strings.ReplaceAll(datePart, "-", "")
	timePart = strings.ReplaceAll(timePart, ":", "")

	year, month, day := 0, 1, 1
	switch len(datePart) {
	case 8:
		day = atoiField(datePart[6:8])
		fallthrough
	case 6:
		month = atoiField(datePart[4:6])
		fallthrough
	case 4:
		year = atoiField(datePart[0:4])
	default:
		return time.Time{}, fmt.Errorf("invalid cycle point %q", orig)
	}
	if year == 0 && datePart != "0000" {
		return time.Time{}, fmt.Errorf("invalid cycle point %q", orig)
	}

	hour, min, sec := 0, 0, 0
	switch len(timePart) {
	case 6:
		sec = atoiField(timePart[4:6])
		fallthrough
	case 4:
		min = atoiField(timePart[2:4])
		fallthrough
	case 2:
		hour = atoiField(timePart[0:2])
	case 0:
	default:
		return time.Time{}, fmt.Errorf("invalid cycle point %q", orig)
	}
	if year < 0 || month < 1 || month > 12 || day < 1 || day > 31 ||
		hour < 0 || hour > 23 || min < 0 || min > 59 || sec < 0 || sec > 60 {
		return time.Time{}, fmt.Errorf("invalid cycle point %q", orig)
	}

	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC), nil
}

// atoiField parses a fixed-width digit field; non-digits yield -1 so the
// range check in the caller rejects them.
func atoiField(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}
