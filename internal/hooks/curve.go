package hooks

import (
	"errors"
	"fmt"
	"sort"
)

// ErrCurve indicates a malformed level curve.
var ErrCurve = errors.New("hooks: invalid level curve")

// LevelFor returns the raw level reached with exp: the last index whose
// threshold is at most exp.
func LevelFor(curve []int64, exp int64) int64 {
	n := sort.Search(len(curve), func(i int) bool { return curve[i] > exp })
	if n == 0 {
		return 0
	}

	return int64(n - 1)
}

// LevelCurve keeps an experience field and a level field consistent.
// curve[l] is the least experience of raw level l. Writing exp moves the
// level to match; writing a level that disagrees with exp resets exp to
// the level's threshold.
func LevelCurve(r *Registry, expID, levelID string, curve []int64) error {
	if len(curve) == 0 {
		return fmt.Errorf("%w: empty", ErrCurve)
	}
	for i := 1; i < len(curve); i++ {
		if curve[i] < curve[i-1] {
			return fmt.Errorf("%w: threshold %d below %d", ErrCurve, i, i-1)
		}
	}

	exp := Bundle{AfterSetInt: func(ctx Context, ev SetEvent) error {
		want := LevelFor(curve, ev.Value)

		cur, err := ctx.GetInt(levelID)
		if err != nil {
			return err
		}
		if cur == want {
			return nil
		}

		return ctx.SetInt(levelID, want)
	}}

	level := Bundle{AfterSetInt: func(ctx Context, ev SetEvent) error {
		if ev.Value < 0 || ev.Value >= int64(len(curve)) {
			return fmt.Errorf("%w: level %d outside curve", ErrCurve, ev.Value)
		}

		cur, err := ctx.GetInt(expID)
		if err != nil {
			return err
		}
		if LevelFor(curve, cur) == ev.Value {
			return nil
		}

		return ctx.SetInt(expID, curve[ev.Value])
	}}

	if err := r.Register(expID, exp); err != nil {
		return err
	}

	return r.Register(levelID, level)
}
