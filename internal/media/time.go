package media

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// NanosecondScale is the timescale used for times built from a time.Duration.
const NanosecondScale int32 = 1_000_000_000

// ErrInvalidTime is returned when a timestamp cannot be used to retime a buffer.
var ErrInvalidTime = errors.New("invalid media time")

// Time is a rational presentation time: Value/Scale seconds.
// The zero Time has no scale and counts as zero in arithmetic.
type Time struct {
	Value int64
	Scale int32
}

// NewTime returns value/scale seconds.
func NewTime(value int64, scale int32) Time {
	return Time{Value: value, Scale: scale}
}

// TimeFromDuration converts d to a nanosecond-scaled Time.
func TimeFromDuration(d time.Duration) Time {
	return Time{Value: d.Nanoseconds(), Scale: NanosecondScale}
}

// IsValid reports whether t carries a positive timescale.
func (t Time) IsValid() bool { return t.Scale > 0 }

// IsZero reports whether t represents zero seconds.
func (t Time) IsZero() bool { return t.Value == 0 }

// Sign returns -1, 0 or +1.
func (t Time) Sign() int {
	switch {
	case t.Value < 0:
		return -1
	case t.Value > 0:
		return 1
	}
	return 0
}

// Add returns t+u.
func (t Time) Add(u Time) Time {
	a, b := common(t, u)
	return Time{Value: a.Value + b.Value, Scale: a.Scale}
}

// Sub returns t-u.
func (t Time) Sub(u Time) Time {
	a, b := common(t, u)
	return Time{Value: a.Value - b.Value, Scale: a.Scale}
}

// Compare returns -1 if t < u, 0 if equal and +1 if t > u.
func (t Time) Compare(u Time) int {
	return t.Sub(u).Sign()
}

// Before reports whether t is strictly earlier than u.
func (t Time) Before(u Time) bool { return t.Compare(u) < 0 }

// After reports whether t is strictly later than u.
func (t Time) After(u Time) bool { return t.Compare(u) > 0 }

// Seconds returns t as floating point seconds.
func (t Time) Seconds() float64 {
	if !t.IsValid() {
		return 0
	}
	return float64(t.Value) / float64(t.Scale)
}

// Duration converts t to a time.Duration, truncating below a nanosecond.
func (t Time) Duration() time.Duration {
	return time.Duration(t.Ticks(NanosecondScale))
}

// Ticks returns t expressed in units of 1/scale seconds, rounded to nearest.
func (t Time) Ticks(scale int32) int64 {
	if !t.IsValid() || scale <= 0 {
		return 0
	}
	if t.Scale == scale {
		return t.Value
	}
	return rescale(t.Value, int64(scale), int64(t.Scale))
}

func (t Time) String() string {
	if !t.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%d/%d", t.Value, t.Scale)
}

// common brings both operands onto one timescale. An invalid operand is
// treated as zero on the other's scale.
func common(a, b Time) (Time, Time) {
	switch {
	case !a.IsValid() && !b.IsValid():
		return Time{Scale: 1}, Time{Scale: 1}
	case !a.IsValid():
		return Time{Scale: b.Scale}, b
	case !b.IsValid():
		return a, Time{Scale: a.Scale}
	case a.Scale == b.Scale:
		return a, b
	}

	scale := lcm(int64(a.Scale), int64(b.Scale))
	if scale > math.MaxInt32 {
		scale = int64(max(a.Scale, b.Scale))
	}
	return Time{Value: rescale(a.Value, scale, int64(a.Scale)), Scale: int32(scale)},
		Time{Value: rescale(b.Value, scale, int64(b.Scale)), Scale: int32(scale)}
}

// rescale computes value*num/den rounded half away from zero.
func rescale(value, num, den int64) int64 {
	if num%den == 0 {
		return value * (num / den)
	}
	q := value / den
	r := value % den
	frac := r * num
	res := q*num + frac/den
	rem := frac % den
	if rem*2 >= den {
		res++
	} else if rem*2 <= -den {
		res--
	}
	return res
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int64) int64 {
	return a / gcd(a, b) * b
}
