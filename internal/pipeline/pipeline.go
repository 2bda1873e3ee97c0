// Package pipeline converts raw stored integers to displayed values and back.
package pipeline

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalid indicates a malformed operation list.
var ErrInvalid = errors.New("pipeline: invalid operation")

// Op is the operation kind.
type Op string

// Supported operations.
const (
	Add     Op = "add"
	Sub     Op = "sub"
	Mul     Op = "mul"
	Div     Op = "div"
	Round   Op = "round"
	Convert Op = "convert"
)

// Unit is a time unit used by Convert.
type Unit string

// Base units a raw value can be stored in.
const (
	Seconds      Unit = "seconds"
	Milliseconds Unit = "milliseconds"
	Frames       Unit = "frames"
)

// Components a Convert can extract.
const (
	Days       Unit = "days"
	Hours      Unit = "hours"
	HoursOfDay Unit = "hoursOfDay"
	Minutes    Unit = "minutes"
)

// framesPerSecond is the frame rate assumed for frame counters.
const framesPerSecond = 60

// Operation is one stage of the pipeline.
type Operation struct {
	Op        Op      `json:"op"`
	Value     float64 `json:"value,omitempty"`
	Precision int     `json:"precision,omitempty"`
	From      Unit    `json:"from,omitempty"`
	To        Unit    `json:"to,omitempty"`
}

// Validate checks an operation list at template load time.
func Validate(ops []Operation) error {
	for i, op := range ops {
		switch op.Op {
		case Add, Sub, Round:
		case Mul, Div:
			if op.Value == 0 {
				return fmt.Errorf("%w: #%d %s by zero", ErrInvalid, i, op.Op)
			}
		case Convert:
			if _, ok := perSecond(op.From); !ok {
				return fmt.Errorf("%w: #%d unknown base unit %q", ErrInvalid, i, op.From)
			}
			if _, ok := component(op.To); !ok {
				return fmt.Errorf("%w: #%d unknown component %q", ErrInvalid, i, op.To)
			}
		default:
			return fmt.Errorf("%w: #%d unknown op %q", ErrInvalid, i, op.Op)
		}
	}

	return nil
}

// Decode applies ops in order to a raw value.
func Decode(raw int64, ops []Operation) float64 {
	v := float64(raw)
	for _, op := range ops {
		v = forward(v, op)
	}

	return v
}

// Encode inverts Decode: ops are undone in reverse order. prev is the raw
// value currently stored; Convert stages keep every component of it that
// the display value does not replace.
func Encode(display float64, ops []Operation, prev int64) (int64, error) {
	if math.IsNaN(display) || math.IsInf(display, 0) {
		return 0, fmt.Errorf("%w: non-finite value", ErrInvalid)
	}

	// stages[i] is the value entering ops[i] when decoding prev.
	stages := make([]float64, len(ops))
	v := float64(prev)
	for i, op := range ops {
		stages[i] = v
		v = forward(v, op)
	}

	v = display
	for i := len(ops) - 1; i >= 0; i-- {
		v = inverse(v, ops[i], stages[i])
	}

	r := math.Round(v)
	if r >= 0x1p63 || r < -0x1p63 {
		return 0, fmt.Errorf("%w: %v overflows", ErrInvalid, display)
	}

	return int64(r), nil
}

func forward(v float64, op Operation) float64 {
	switch op.Op {
	case Add:
		return v + op.Value
	case Sub:
		return v - op.Value
	case Mul:
		return v * op.Value
	case Div:
		return v / op.Value
	case Round:
		p := math.Pow(10, float64(op.Precision))
		return math.Round(v*p) / p
	case Convert:
		ps, _ := perSecond(op.From)
		c, _ := component(op.To)
		total := int64(math.Floor(v)) / ps
		return float64(c.get(total))
	}

	return v
}

func inverse(v float64, op Operation, prev float64) float64 {
	switch op.Op {
	case Add:
		return v - op.Value
	case Sub:
		return v + op.Value
	case Mul:
		return v / op.Value
	case Div:
		return v * op.Value
	case Convert:
		ps, _ := perSecond(op.From)
		c, _ := component(op.To)
		raw := int64(math.Floor(prev))
		total, rem := raw/ps, raw%ps
		total = c.set(total, int64(math.Round(v)))
		return float64(total*ps + rem)
	}

	// Round has no inverse; the final rounding in Encode settles it.
	return v
}

// perSecond returns how many raw units make one second.
func perSecond(u Unit) (int64, bool) {
	switch u {
	case Seconds:
		return 1, true
	case Milliseconds:
		return 1000, true
	case Frames:
		return framesPerSecond, true
	}

	return 0, false
}

// timeComponent extracts and replaces one component of a seconds total.
type timeComponent struct {
	unit    int64 // seconds per component unit
	modulus int64 // 0 for the top component
}

func component(u Unit) (timeComponent, bool) {
	switch u {
	case Days:
		return timeComponent{unit: 86400}, true
	case Hours:
		return timeComponent{unit: 3600}, true
	case HoursOfDay:
		return timeComponent{unit: 3600, modulus: 24}, true
	case Minutes:
		return timeComponent{unit: 60, modulus: 60}, true
	case Seconds:
		return timeComponent{unit: 1, modulus: 60}, true
	}

	return timeComponent{}, false
}

func (c timeComponent) get(total int64) int64 {
	v := total / c.unit
	if c.modulus > 0 {
		v %= c.modulus
	}

	return v
}

func (c timeComponent) set(total, v int64) int64 {
	return total - c.get(total)*c.unit + v*c.unit
}
