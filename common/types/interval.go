package types

import (
	"fmt"
	"strings"

	"github.com/spacemeshos/go-scale"
	"go.uber.org/zap/zapcore"
)

// Interval is a half-open range [Lo, Hi) of versions.
type Interval struct {
	Lo uint64
	Hi uint64
}

// Len returns the number of versions in the interval.
func (i Interval) Len() uint64 {
	if i.Hi <= i.Lo {
		return 0
	}
	return i.Hi - i.Lo
}

// Empty returns true if the interval holds no versions.
func (i Interval) Empty() bool {
	return i.Hi <= i.Lo
}

// Contains returns true if v is inside the interval.
func (i Interval) Contains(v uint64) bool {
	return v >= i.Lo && v < i.Hi
}

func (i Interval) String() string {
	return fmt.Sprintf("[%d,%d)", i.Lo, i.Hi)
}

// EncodeScale implements scale codec interface.
func (i *Interval) EncodeScale(e *scale.Encoder) (int, error) {
	total := 0
	n, err := scale.EncodeCompact64(e, i.Lo)
	if err != nil {
		return total, err
	}
	total += n
	n, err = scale.EncodeCompact64(e, i.Hi)
	if err != nil {
		return total, err
	}
	total += n
	return total, nil
}

// DecodeScale implements scale codec interface.
func (i *Interval) DecodeScale(d *scale.Decoder) (int, error) {
	total := 0
	lo, n, err := scale.DecodeCompact64(d)
	if err != nil {
		return total, err
	}
	total += n
	hi, n, err := scale.DecodeCompact64(d)
	if err != nil {
		return total, err
	}
	total += n
	i.Lo, i.Hi = lo, hi
	return total, nil
}

// Intervals is an ordered list of intervals.
type Intervals []Interval

// Count returns the total number of versions in all intervals.
func (is Intervals) Count() uint64 {
	var n uint64
	for _, i := range is {
		n += i.Len()
	}
	return n
}

func (is Intervals) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for n, i := range is {
		if n > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(i.String())
	}
	sb.WriteByte('}')
	return sb.String()
}

// MarshalLogArray implements zapcore.ArrayMarshaler.
func (is Intervals) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for n, i := range is {
		if n == 5 {
			enc.AppendString("...")
			break
		}
		enc.AppendString(i.String())
	}
	return nil
}
