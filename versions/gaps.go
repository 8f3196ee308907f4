package versions

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/spacemeshos/go-regionsync/common/types"
)

// MaxVersion is the largest version that can be recorded. The counter never wraps;
// math.MaxUint64 is reserved so that every missing range fits a half-open interval.
const MaxVersion = math.MaxUint64 - 1

// Result describes the effect of recording a single version.
type Result struct {
	// Applied is true if the version was not seen before.
	Applied bool
	// Duplicate is true if the version had already been applied.
	Duplicate bool
	// GapOpened is true if the version skipped ahead and introduced a new exception.
	GapOpened bool
	// GapClosed is true if the version filled the last remaining exception.
	GapClosed bool
}

// Detection is the state produced by Apply.
type Detection struct {
	Highest    uint64
	Exceptions []types.Interval
	Result
}

// Apply computes the holder state after observing version v. The input slice is never
// modified. The returned exceptions share the input slice only if they are unchanged.
func Apply(highest uint64, exceptions []types.Interval, v uint64) (Detection, error) {
	if v == 0 || v > MaxVersion {
		return Detection{}, fmt.Errorf("%w: %d", types.ErrInvalidVersion, v)
	}
	switch {
	case v == highest+1:
		return Detection{
			Highest:    v,
			Exceptions: exceptions,
			Result:     Result{Applied: true},
		}, nil
	case v > highest:
		updated := make([]types.Interval, len(exceptions), len(exceptions)+1)
		copy(updated, exceptions)
		return Detection{
			Highest:    v,
			Exceptions: append(updated, types.Interval{Lo: highest + 1, Hi: v}),
			Result:     Result{Applied: true, GapOpened: true},
		}, nil
	}

	idx, found := find(exceptions, v)
	if !found {
		return Detection{
			Highest:    highest,
			Exceptions: exceptions,
			Result:     Result{Duplicate: true},
		}, nil
	}
	hole := exceptions[idx]
	updated := make([]types.Interval, 0, len(exceptions)+1)
	updated = append(updated, exceptions[:idx]...)
	if left := (types.Interval{Lo: hole.Lo, Hi: v}); !left.Empty() {
		updated = append(updated, left)
	}
	if right := (types.Interval{Lo: v + 1, Hi: hole.Hi}); !right.Empty() {
		updated = append(updated, right)
	}
	updated = append(updated, exceptions[idx+1:]...)
	if len(updated) == 0 {
		updated = nil
	}
	return Detection{
		Highest:    highest,
		Exceptions: updated,
		Result:     Result{Applied: true, GapClosed: len(updated) == 0},
	}, nil
}

// find returns the index of the interval containing v.
func find(is []types.Interval, v uint64) (int, bool) {
	// first interval with Hi > v
	idx, _ := slices.BinarySearchFunc(is, v, func(i types.Interval, v uint64) int {
		if i.Hi <= v {
			return -1
		}
		return 1
	})
	if idx < len(is) && is[idx].Contains(v) {
		return idx, true
	}
	return idx, false
}

// Normalize returns a sorted copy of the intervals with empty intervals removed and
// overlapping or adjacent intervals coalesced.
func Normalize(is []types.Interval) []types.Interval {
	out := make([]types.Interval, 0, len(is))
	for _, i := range is {
		if !i.Empty() {
			out = append(out, i)
		}
	}
	slices.SortFunc(out, func(a, b types.Interval) int {
		return cmp.Compare(a.Lo, b.Lo)
	})
	merged := out[:0]
	for _, i := range out {
		if n := len(merged); n > 0 && i.Lo <= merged[n-1].Hi {
			merged[n-1].Hi = max(merged[n-1].Hi, i.Hi)
			continue
		}
		merged = append(merged, i)
	}
	return merged
}

// Intersect returns the versions present in both normalized interval lists.
func Intersect(a, b []types.Interval) []types.Interval {
	var out []types.Interval
	for i, j := 0, 0; i < len(a) && j < len(b); {
		lo := max(a[i].Lo, b[j].Lo)
		hi := min(a[i].Hi, b[j].Hi)
		if lo < hi {
			out = append(out, types.Interval{Lo: lo, Hi: hi})
		}
		if a[i].Hi < b[j].Hi {
			i++
		} else {
			j++
		}
	}
	return out
}

// Subtract returns the versions of normalized list a that are not in normalized list b.
func Subtract(a, b []types.Interval) []types.Interval {
	var out []types.Interval
	j := 0
	for _, cur := range a {
		for j < len(b) && b[j].Hi <= cur.Lo {
			j++
		}
		for k := j; k < len(b) && b[k].Lo < cur.Hi; k++ {
			if b[k].Lo > cur.Lo {
				out = append(out, types.Interval{Lo: cur.Lo, Hi: b[k].Lo})
			}
			cur.Lo = max(cur.Lo, b[k].Hi)
			if cur.Empty() {
				break
			}
		}
		if !cur.Empty() {
			out = append(out, cur)
		}
	}
	return out
}

// Missing returns the versions in [1, upto] that are not applied by a holder with
// the given state.
func Missing(highest uint64, exceptions []types.Interval, upto uint64) []types.Interval {
	missing := Intersect(exceptions, []types.Interval{{Lo: 1, Hi: upto + 1}})
	if highest < upto {
		missing = Normalize(append(missing, types.Interval{Lo: highest + 1, Hi: upto + 1}))
	}
	return missing
}

// Applied returns the versions applied by a holder with the given state.
func Applied(highest uint64, exceptions []types.Interval) []types.Interval {
	if highest == 0 {
		return nil
	}
	return Subtract([]types.Interval{{Lo: 1, Hi: highest + 1}}, exceptions)
}
