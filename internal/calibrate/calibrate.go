// Package calibrate suggests per-side calibration factors from a
// sampling pass taken with the panel parked under even illumination.
// Factors are only suggested; applying them is the operator's job.
package calibrate

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Source is one raw light input.
type Source interface {
	Sample() (float64, error)
}

type Options struct {
	// Samples per side. Default 32.
	Samples int
	// Spacing between sample rounds. Default 250ms.
	Spacing time.Duration
}

type Side struct {
	Mean   float64 `json:"mean"`
	Stddev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

type Result struct {
	Samples int  `json:"samples"`
	Left    Side `json:"left"`
	Right   Side `json:"right"`

	// Target is the common level both sides are normalized to.
	Target   float64 `json:"target"`
	LeftCal  float64 `json:"suggested_left_cal"`
	RightCal float64 `json:"suggested_right_cal"`

	// UnstableLight flags a relative spread above 10% on either side.
	// The suggestion is unreliable then; repeat under steadier light.
	UnstableLight bool `json:"unstable_light"`
}

// Run samples both sources n times and derives factors that bring both
// sides to their common mid-point: target/mean per side.
func Run(ctx context.Context, left, right Source, opts Options) (Result, error) {
	if left == nil || right == nil {
		return Result{}, fmt.Errorf("calibrate: source is nil")
	}
	n := opts.Samples
	if n <= 0 {
		n = 32
	}
	if n > 1000 {
		n = 1000
	}
	spacing := opts.Spacing
	if spacing <= 0 {
		spacing = 250 * time.Millisecond
	}

	ls := make([]float64, 0, n)
	rs := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(spacing):
			}
		}
		lv, err := left.Sample()
		if err != nil {
			return Result{}, fmt.Errorf("calibrate: left sample %d failed: %w", i+1, err)
		}
		rv, err := right.Sample()
		if err != nil {
			return Result{}, fmt.Errorf("calibrate: right sample %d failed: %w", i+1, err)
		}
		ls = append(ls, lv)
		rs = append(rs, rv)
	}

	res := Result{Samples: n, Left: sideStats(ls), Right: sideStats(rs)}
	if res.Left.Mean <= 0 || res.Right.Mean <= 0 {
		return Result{}, fmt.Errorf("calibrate: mean out of range (left %.4f, right %.4f); are the sensors lit?",
			res.Left.Mean, res.Right.Mean)
	}

	res.Target = (res.Left.Mean + res.Right.Mean) / 2
	res.LeftCal = res.Target / res.Left.Mean
	res.RightCal = res.Target / res.Right.Mean
	if res.Left.Stddev/res.Left.Mean > 0.10 || res.Right.Stddev/res.Right.Mean > 0.10 {
		res.UnstableLight = true
	}
	return res, nil
}

func sideStats(xs []float64) Side {
	s := Side{Mean: stat.Mean(xs, nil), Min: xs[0], Max: xs[0]}
	if len(xs) > 1 {
		s.Stddev = stat.StdDev(xs, nil)
	}
	for _, x := range xs[1:] {
		if x < s.Min {
			s.Min = x
		}
		if x > s.Max {
			s.Max = x
		}
	}
	return s
}
