package template

import (
	"fmt"

	"github.com/woozymasta/savetpl/internal/codec"
)

// Condition compares a live value against a constant.
type Condition struct {
	Offset   int
	DataType codec.DataType
	Bit      int
	Operator string
	Value    int64
}

var operators = map[string]func(a, b int64) bool{
	"==": func(a, b int64) bool { return a == b },
	"!=": func(a, b int64) bool { return a != b },
	"<":  func(a, b int64) bool { return a < b },
	"<=": func(a, b int64) bool { return a <= b },
	">":  func(a, b int64) bool { return a > b },
	">=": func(a, b int64) bool { return a >= b },
	"&":  func(a, b int64) bool { return a&b != 0 },
}

// check validates the condition at load time.
func (c *Condition) check() error {
	if _, ok := operators[c.op()]; !ok {
		return fmt.Errorf("unknown operator %q", c.Operator)
	}

	d, err := codec.Lookup(c.dataType())
	if err != nil {
		return err
	}
	if d.Kind == codec.KindString {
		return fmt.Errorf("condition on %s data type", c.dataType())
	}

	return codec.Options{Bit: c.Bit}.Check(d)
}

func (c *Condition) op() string {
	if c.Operator == "" {
		return "=="
	}

	return c.Operator
}

func (c *Condition) dataType() codec.DataType {
	if c.DataType == "" {
		return codec.Uint8
	}

	return c.DataType
}

// Eval reads the value at base+Offset and applies the operator.
func (c *Condition) Eval(buf []byte, base int) (bool, error) {
	v, err := codec.ReadInt(buf, base+c.Offset, c.dataType(), codec.Options{Bit: c.Bit})
	if err != nil {
		return false, err
	}

	fn, ok := operators[c.op()]
	if !ok {
		return false, fmt.Errorf("unknown operator %q", c.Operator)
	}

	return fn(v, c.Value), nil
}
