package cycling

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Interval is a duration on the cycling axis of one calendar family.
//
// Integer intervals count cycle points. Gregorian intervals carry a nominal
// month component (months and years do not have a fixed length) plus an
// exact seconds component; the two parts are applied separately when an
// interval is added to a Point.
type Interval struct {
	kind   Kind
	months int64
	// secs is the point count for Integer intervals, or exact seconds for
	// Gregorian intervals.
	secs int64
}

// NewIntegerInterval returns an interval of n cycle points.
func NewIntegerInterval(n int64) Interval {
	return Interval{kind: Integer, secs: n}
}

// NewGregorianInterval returns an interval of the given nominal months plus
// an exact duration (truncated to whole seconds).
func NewGregorianInterval(months int64, d time.Duration) Interval {
	return Interval{kind: Gregorian, months: months, secs: int64(d / time.Second)}
}

// Kind returns the calendar family of the interval.
func (iv Interval) Kind() Kind { return iv.kind }

// IsNull reports whether the interval is zero. A null interval is "false"
// wherever an interval is used as a condition.
func (iv Interval) IsNull() bool { return iv.months == 0 && iv.secs == 0 }

// IsNegative reports whether the interval moves backwards along the axis.
func (iv Interval) IsNegative() bool {
	return iv.months < 0 || (iv.months == 0 && iv.secs < 0)
}

// Neg returns the interval with both components negated.
func (iv Interval) Neg() Interval {
	return Interval{kind: iv.kind, months: -iv.months, secs: -iv.secs}
}

// Abs returns the interval with both components made non-negative.
func (iv Interval) Abs() Interval {
	if iv.IsNegative() {
		return iv.Neg()
	}
	return iv
}

// Mul returns the interval scaled by n.
func (iv Interval) Mul(n int64) Interval {
	return Interval{kind: iv.kind, months: iv.months * n, secs: iv.secs * n}
}

// Add returns iv + other. Mixing calendar families is a TypeMismatchError.
func (iv Interval) Add(other Interval) (Interval, error) {
	if iv.kind != other.kind {
		return Interval{}, &TypeMismatchError{Op: "add", A: iv.kind, B: other.kind}
	}
	return Interval{kind: iv.kind, months: iv.months + other.months, secs: iv.secs + other.secs}, nil
}

// Sub returns iv - other.
func (iv Interval) Sub(other Interval) (Interval, error) {
	return iv.Add(other.Neg())
}

// Seconds returns the exact component of the interval.
func (iv Interval) Seconds() int64 { return iv.secs }

// Months returns the nominal month component of the interval.
func (iv Interval) Months() int64 { return iv.months }

// String returns "P<n>" for Integer intervals and an ISO 8601 duration for
// Gregorian intervals.
func (iv Interval) String() string {
	sign := ""
	v := iv
	if v.IsNegative() {
		sign = "-"
		v = v.Neg()
	}
	if iv.kind == Integer {
		return fmt.Sprintf("%sP%d", sign, v.secs)
	}

	var b strings.Builder
	b.WriteString(sign)
	b.WriteByte('P')
	if y := v.months / 12; y > 0 {
		fmt.Fprintf(&b, "%dY", y)
	}
	if m := v.months % 12; m > 0 {
		fmt.Fprintf(&b, "%dM", m)
	}
	secs := v.secs
	if d := secs / 86400; d > 0 {
		fmt.Fprintf(&b, "%dD", d)
		secs %= 86400
	}
	if secs > 0 {
		b.WriteByte('T')
		if h := secs / 3600; h > 0 {
			fmt.Fprintf(&b, "%dH", h)
			secs %= 3600
		}
		if m := secs / 60; m > 0 {
			fmt.Fprintf(&b, "%dM", m)
			secs %= 60
		}
		if secs > 0 {
			fmt.Fprintf(&b, "%dS", secs)
		}
	}
	if b.Len() == len(sign)+1 {
		b.WriteString("0D") // null interval
	}
	return b.String()
}

// ParseInterval parses an interval of the given calendar family.
//
// Integer form: "P<n>" (or a bare integer), optionally signed.
// Gregorian form: an ISO 8601 duration, e.g. "PT6H", "P1DT12H", "P1M",
// "P2W", optionally signed.
func ParseInterval(kind Kind, s string) (Interval, error) {
	orig := s
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}

	var iv Interval
	switch kind {
	case Integer:
		body := strings.TrimPrefix(strings.ToUpper(s), "P")
		n, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return Interval{}, fmt.Errorf("invalid integer interval %q", orig)
		}
		iv = NewIntegerInterval(n)
	case Gregorian:
		var err error
		iv, err = parseDuration(s)
		if err != nil {
			return Interval{}, fmt.Errorf("invalid interval %q: %w", orig, err)
		}
	default:
		return Interval{}, fmt.Errorf("invalid cycling kind %d", kind)
	}

	if neg {
		iv = iv.Neg()
	}
	return iv, nil
}

// parseDuration parses an unsigned ISO 8601 duration into a Gregorian
// interval. Years and months become the nominal component; weeks, days,
// hours, minutes and seconds become exact seconds.
func parseDuration(s string) (Interval, error) {
	s = strings.ToUpper(s)
	if !strings.HasPrefix(s, "P") {
		return Interval{}, fmt.Errorf("missing P designator")
	}
	s = s[1:]
	if s == "" {
		return Interval{}, fmt.Errorf("empty duration")
	}

	var months, secs int64
	inTime := false
	seen := false
	num := int64(-1)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			if num < 0 {
				num = 0
			}
			num = num*10 + int64(c-'0')
		case c == 'T':
			if inTime {
				return Interval{}, fmt.Errorf("repeated T designator")
			}
			inTime = true
		default:
			if num < 0 {
				return Interval{}, fmt.Errorf("designator %c without a value", c)
			}
			switch {
			case c == 'Y' && !inTime:
				months += num * 12
			case c == 'M' && !inTime:
				months += num
			case c == 'W' && !inTime:
				secs += num * 7 * 86400
			case c == 'D' && !inTime:
				secs += num * 86400
			case c == 'H' && inTime:
				secs += num * 3600
			case c == 'M' && inTime:
				secs += num * 60
			case c == 'S' && inTime:
				secs += num
			default:
				return Interval{}, fmt.Errorf("unexpected designator %c", c)
			}
			num = -1
			seen = true
		}
	}
	if num >= 0 {
		return Interval{}, fmt.Errorf("trailing value without designator")
	}
	if !seen {
		return Interval{}, fmt.Errorf("duration has no components")
	}
	return Interval{kind: Gregorian, months: months, secs: secs}, nil
}
