// Package luahooks loads a game's override module from a Lua script.
//
// The script returns a table:
//
//	return {
//	  hooks = {
//	    exp = {
//	      afterSetInt = function(ctx, ev) ctx.setInt("level", math.floor(ev.value / 100)) end,
//	      invalidates = { "occupants" },
//	    },
//	  },
//	  resources = { occupants = function(save) return { [0] = "Empty" } end },
//	  checksums = { add8 = function(data, step, bigEndian, salt) return 0 end },
//	  curves = { { exp = "exp", level = "level", thresholds = { 0, 10, 30 } } },
//	}
//
// Hook functions receive ctx as a table of functions called with a dot:
// ctx.getInt(id), ctx.setInt(id, v), ctx.readInt(offset, dataType),
// ctx.bytes(offset, n), ctx.len(), ctx.key(), ctx.path(),
// ctx.invalidate(names...) and ctx.repair(id).
package luahooks

import (
	"fmt"
	"os"
	"sort"

	"github.com/Shopify/go-lua"

	"github.com/woozymasta/savetpl/internal/codec"
	"github.com/woozymasta/savetpl/internal/hooks"
	"github.com/woozymasta/savetpl/internal/resource"
	"github.com/woozymasta/savetpl/internal/template"
)

// moduleGlobal holds the table the script returned.
const moduleGlobal = "__savetpl_module"

// Module is a loaded script. Its Lua state is shared by every hook and is
// not safe for concurrent use, like the session that calls it. Hooks may
// re-enter the module through ctx.
type Module struct {
	state *lua.State
	name  string
}

// Load runs the script at path and returns its registrations.
func Load(path string) (*hooks.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return LoadString(string(data), path)
}

// LoadString runs src as a script named name and returns its registrations.
func LoadString(src, name string) (*hooks.Registry, error) {
	m := &Module{state: lua.NewState(), name: name}
	lua.OpenLibraries(m.state)

	l := m.state
	if err := lua.LoadBuffer(l, src, name, "t"); err != nil {
		return nil, fmt.Errorf("load lua %s: %w", name, err)
	}
	if err := l.ProtectedCall(0, 1, 0); err != nil {
		return nil, fmt.Errorf("run lua %s: %w", name, err)
	}
	if l.TypeOf(-1) != lua.TypeTable {
		l.Pop(1)
		return nil, fmt.Errorf("lua %s: script must return a table", name)
	}
	l.SetGlobal(moduleGlobal)

	return m.registry()
}

// registry turns the module table into registrations.
func (m *Module) registry() (*hooks.Registry, error) {
	r := hooks.NewRegistry()

	for _, id := range m.keys("hooks") {
		b := hooks.Bundle{Invalidates: m.strings("hooks", id, "invalidates")}

		if m.isFunction("hooks", id, "parseItem") {
			b.ParseItem = m.parseItem(id)
		}
		if m.isFunction("hooks", id, "shift") {
			b.Shift = m.shift(id)
		}
		if m.isFunction("hooks", id, "item") {
			b.Item = m.item(id)
		}
		if m.isFunction("hooks", id, "getInt") {
			b.GetInt = m.getInt(id)
		}
		if m.isFunction("hooks", id, "setInt") {
			b.SetInt = m.setInt(id)
		}
		if m.isFunction("hooks", id, "afterSetInt") {
			b.AfterSetInt = m.afterSetInt(id)
		}

		if err := r.Register(id, b); err != nil {
			return nil, err
		}
	}

	for _, name := range m.keys("resources") {
		if !m.isFunction("resources", name) {
			return nil, fmt.Errorf("lua %s: resources.%s is not a function", m.name, name)
		}
		if err := r.Provide(name, m.provider(name)); err != nil {
			return nil, err
		}
	}

	for _, name := range m.keys("checksums") {
		if !m.isFunction("checksums", name) {
			return nil, fmt.Errorf("lua %s: checksums.%s is not a function", m.name, name)
		}
		if err := r.Algorithm(name, m.algorithm(name)); err != nil {
			return nil, err
		}
	}

	if err := m.curves(r); err != nil {
		return nil, err
	}

	return r, nil
}

// push leaves module[path...] on the stack, or nil when a step is missing.
func (m *Module) push(path ...string) {
	l := m.state
	l.Global(moduleGlobal)
	for _, k := range path {
		if l.TypeOf(-1) != lua.TypeTable {
			l.Pop(1)
			l.PushNil()
			return
		}
		l.Field(-1, k)
		l.Remove(-2)
	}
}

func (m *Module) isFunction(path ...string) bool {
	m.push(path...)
	defer m.state.Pop(1)

	return m.state.IsFunction(-1)
}

// keys returns the sorted string keys of module[path...].
func (m *Module) keys(path ...string) []string {
	l := m.state
	m.push(path...)
	defer l.Pop(1)

	if l.TypeOf(-1) != lua.TypeTable {
		return nil
	}

	var out []string
	idx := l.AbsIndex(-1)
	l.PushNil()
	for l.Next(idx) {
		if l.TypeOf(-2) == lua.TypeString {
			k, _ := l.ToString(-2)
			out = append(out, k)
		}
		l.Pop(1)
	}
	sort.Strings(out)

	return out
}

func (m *Module) strings(path ...string) []string {
	m.push(path...)
	defer m.state.Pop(1)

	return stringList(m.state, -1)
}

// call runs module[path...] with the arguments pushed by args and hands the
// results to read while they are still on the stack.
func (m *Module) call(path []string, nresults int, args func(l *lua.State) int, read func(l *lua.State) error) error {
	l := m.state
	top := l.Top()
	defer l.SetTop(top)

	m.push(path...)
	if !l.IsFunction(-1) {
		return fmt.Errorf("lua %s: %v is not a function", m.name, path)
	}

	n := 0
	if args != nil {
		n = args(l)
	}
	if err := l.ProtectedCall(n, nresults, 0); err != nil {
		return err
	}
	if read == nil {
		return nil
	}

	return read(l)
}

func (m *Module) parseItem(id string) func(hooks.View, template.Item) (template.Item, error) {
	return func(v hooks.View, it template.Item) (template.Item, error) {
		out := it
		err := m.call([]string{"hooks", id, "parseItem"}, 1, func(l *lua.State) int {
			pushView(l, v)
			pushItem(l, it)
			return 2
		}, func(l *lua.State) error {
			out = applyItem(l, -1, it)
			return nil
		})

		return out, err
	}
}

func (m *Module) shift(id string) func(hooks.Context, []template.Shift) ([]template.Shift, error) {
	return func(ctx hooks.Context, shifts []template.Shift) ([]template.Shift, error) {
		out := shifts
		err := m.call([]string{"hooks", id, "shift"}, 1, func(l *lua.State) int {
			pushContext(l, ctx)
			pushShifts(l, shifts)
			return 2
		}, func(l *lua.State) error {
			if l.IsNoneOrNil(-1) {
				return nil
			}
			var err error
			out, err = readShifts(l, -1)
			return err
		})

		return out, err
	}
}

func (m *Module) item(id string) func(hooks.Context, template.Item) (template.Item, error) {
	return func(ctx hooks.Context, it template.Item) (template.Item, error) {
		out := it
		err := m.call([]string{"hooks", id, "item"}, 1, func(l *lua.State) int {
			pushContext(l, ctx)
			pushItem(l, it)
			return 2
		}, func(l *lua.State) error {
			out = applyItem(l, -1, it)
			return nil
		})

		return out, err
	}
}

func (m *Module) getInt(id string) func(hooks.Context) (int64, bool, error) {
	return func(ctx hooks.Context) (int64, bool, error) {
		var (
			v       int64
			handled bool
		)
		err := m.call([]string{"hooks", id, "getInt"}, 1, func(l *lua.State) int {
			pushContext(l, ctx)
			return 1
		}, func(l *lua.State) error {
			if l.IsNoneOrNil(-1) {
				return nil
			}
			n, ok := l.ToInteger(-1)
			if !ok {
				return fmt.Errorf("getInt returned %s, want integer", lua.TypeNameOf(l, -1))
			}
			v, handled = int64(n), true
			return nil
		})

		return v, handled, err
	}
}

func (m *Module) setInt(id string) func(hooks.Context, int64) (bool, error) {
	return func(ctx hooks.Context, v int64) (bool, error) {
		var handled bool
		err := m.call([]string{"hooks", id, "setInt"}, 1, func(l *lua.State) int {
			pushContext(l, ctx)
			l.PushInteger(int(v))
			return 2
		}, func(l *lua.State) error {
			handled = l.ToBoolean(-1)
			return nil
		})

		return handled, err
	}
}

func (m *Module) afterSetInt(id string) func(hooks.Context, hooks.SetEvent) error {
	return func(ctx hooks.Context, ev hooks.SetEvent) error {
		return m.call([]string{"hooks", id, "afterSetInt"}, 0, func(l *lua.State) int {
			pushContext(l, ctx)
			l.NewTable()
			l.PushInteger(int(ev.Value))
			l.SetField(-2, "value")
			l.PushBoolean(ev.Flag)
			l.SetField(-2, "flag")
			return 2
		}, nil)
	}
}

func (m *Module) provider(name string) resource.Provider {
	return func(buf []byte) (resource.Table, []resource.Span, error) {
		var (
			table resource.Table
			spans []resource.Span
		)
		err := m.call([]string{"resources", name}, 2, func(l *lua.State) int {
			l.PushString(string(buf))
			return 1
		}, func(l *lua.State) error {
			var err error
			if table, err = readTable(l, -2); err != nil {
				return fmt.Errorf("resource %s: %w", name, err)
			}
			if !l.IsNoneOrNil(-1) {
				spans, err = readSpans(l, -1)
			}
			return err
		})

		return table, spans, err
	}
}

func (m *Module) algorithm(name string) func([]byte, int, bool, uint64) uint64 {
	return func(data []byte, step int, bigEndian bool, salt uint64) uint64 {
		var sum uint64
		err := m.call([]string{"checksums", name}, 1, func(l *lua.State) int {
			l.PushString(string(data))
			l.PushInteger(step)
			l.PushBoolean(bigEndian)
			l.PushInteger(int(salt))
			return 4
		}, func(l *lua.State) error {
			n, ok := l.ToInteger(-1)
			if !ok {
				return fmt.Errorf("checksum %s returned %s", name, lua.TypeNameOf(l, -1))
			}
			sum = uint64(n)
			return nil
		})
		if err != nil {
			// algorithms cannot fail; the session recovers this per checksum
			panic(err)
		}

		return sum
	}
}

// curves registers the declarative exp/level pairs.
func (m *Module) curves(r *hooks.Registry) error {
	l := m.state
	m.push("curves")
	defer l.Pop(1)

	if l.IsNoneOrNil(-1) {
		return nil
	}
	if l.TypeOf(-1) != lua.TypeTable {
		return fmt.Errorf("lua %s: curves must be a list", m.name)
	}

	idx := l.AbsIndex(-1)
	for i := 1; i <= l.RawLength(idx); i++ {
		l.RawGetInt(idx, i)
		exp := stringField(l, -1, "exp")
		level := stringField(l, -1, "level")
		l.Field(-1, "thresholds")
		curve, err := intList(l, -1)
		l.Pop(2)
		if err != nil {
			return fmt.Errorf("lua %s: curves[%d]: %w", m.name, i, err)
		}

		if err := hooks.LevelCurve(r, exp, level, curve); err != nil {
			return fmt.Errorf("lua %s: curves[%d]: %w", m.name, i, err)
		}
	}

	return nil
}

// pushView pushes the read-only part of the context table.
func pushView(l *lua.State, v hooks.View) {
	l.NewTable()
	lua.SetFunctions(l, viewFunctions(v), 0)
}

// pushContext pushes the ctx table for one hook call.
func pushContext(l *lua.State, ctx hooks.Context) {
	l.NewTable()
	lua.SetFunctions(l, viewFunctions(ctx), 0)
	lua.SetFunctions(l, []lua.RegistryFunction{
		{Name: "key", Function: func(l *lua.State) int {
			l.PushString(ctx.Key())
			return 1
		}},
		{Name: "path", Function: func(l *lua.State) int {
			l.NewTable()
			for i, p := range ctx.Path() {
				l.PushInteger(p)
				l.RawSetInt(-2, i+1)
			}
			return 1
		}},
		{Name: "getInt", Function: func(l *lua.State) int {
			v, err := ctx.GetInt(lua.CheckString(l, 1))
			if err != nil {
				lua.Errorf(l, "%s", err.Error())
			}
			l.PushInteger(int(v))
			return 1
		}},
		{Name: "setInt", Function: func(l *lua.State) int {
			if err := ctx.SetInt(lua.CheckString(l, 1), int64(lua.CheckInteger(l, 2))); err != nil {
				lua.Errorf(l, "%s", err.Error())
			}
			return 0
		}},
		{Name: "invalidate", Function: func(l *lua.State) int {
			names := make([]string, 0, l.Top())
			for i := 1; i <= l.Top(); i++ {
				names = append(names, lua.CheckString(l, i))
			}
			ctx.Invalidate(names...)
			return 0
		}},
		{Name: "repair", Function: func(l *lua.State) int {
			if err := ctx.Repair(lua.OptString(l, 1, "")); err != nil {
				lua.Errorf(l, "%s", err.Error())
			}
			return 0
		}},
	}, 0)
}

func viewFunctions(v hooks.View) []lua.RegistryFunction {
	return []lua.RegistryFunction{
		{Name: "len", Function: func(l *lua.State) int {
			l.PushInteger(v.Len())
			return 1
		}},
		{Name: "readInt", Function: func(l *lua.State) int {
			off := lua.CheckInteger(l, 1)
			dt := codec.DataType(lua.OptString(l, 2, string(codec.Uint8)))
			o := codec.Options{BigEndian: l.ToBoolean(3)}
			n, err := v.ReadInt(off, dt, o)
			if err != nil {
				lua.Errorf(l, "%s", err.Error())
			}
			l.PushInteger(int(n))
			return 1
		}},
		{Name: "bytes", Function: func(l *lua.State) int {
			b, err := v.Bytes(lua.CheckInteger(l, 1), lua.CheckInteger(l, 2))
			if err != nil {
				lua.Errorf(l, "%s", err.Error())
			}
			l.PushString(string(b))
			return 1
		}},
	}
}

// pushItem pushes the adjustable fields of an item.
func pushItem(l *lua.State, it template.Item) {
	c := it.Base()

	l.NewTable()
	l.PushString(c.ID)
	l.SetField(-2, "id")
	l.PushString(template.TypeName(it))
	l.SetField(-2, "type")
	l.PushString(c.Name)
	l.SetField(-2, "name")
	l.PushInteger(c.Offset)
	l.SetField(-2, "offset")
	l.PushInteger(c.Length)
	l.SetField(-2, "length")
	l.PushBoolean(c.Hidden)
	l.SetField(-2, "hidden")
	l.PushBoolean(c.Disabled)
	l.SetField(-2, "disabled")

	switch v := it.(type) {
	case *template.Container:
		l.PushInteger(v.Instances)
		l.SetField(-2, "instances")
	case *template.Variable:
		l.PushString(string(v.DataType))
		l.SetField(-2, "dataType")
		if v.Min != nil {
			l.PushNumber(*v.Min)
			l.SetField(-2, "min")
		}
		if v.Max != nil {
			l.PushNumber(*v.Max)
			l.SetField(-2, "max")
		}
	}
}

// applyItem copies the fields of the table at idx back into it. A nil result
// keeps it unchanged.
func applyItem(l *lua.State, idx int, it template.Item) template.Item {
	if l.TypeOf(idx) != lua.TypeTable {
		return it
	}
	idx = l.AbsIndex(idx)

	c := it.Base()
	if s, ok := optString(l, idx, "name"); ok {
		c.Name = s
	}
	if n, ok := optInt(l, idx, "offset"); ok {
		c.Offset = n
	}
	if n, ok := optInt(l, idx, "length"); ok {
		c.Length = n
	}
	if b, ok := optBool(l, idx, "hidden"); ok {
		c.Hidden = b
	}
	if b, ok := optBool(l, idx, "disabled"); ok {
		c.Disabled = b
	}

	switch v := it.(type) {
	case *template.Container:
		if n, ok := optInt(l, idx, "instances"); ok {
			v.Instances = n
		}
	case *template.Variable:
		if f, ok := optNumber(l, idx, "min"); ok {
			v.Min = &f
		}
		if f, ok := optNumber(l, idx, "max"); ok {
			v.Max = &f
		}
	}

	return it
}

func pushShifts(l *lua.State, shifts []template.Shift) {
	l.NewTable()
	for i, s := range shifts {
		l.NewTable()
		l.PushString(s.Parent)
		l.SetField(-2, "parent")
		l.PushInteger(s.Shift)
		l.SetField(-2, "shift")
		l.RawSetInt(-2, i+1)
	}
}

func readShifts(l *lua.State, idx int) ([]template.Shift, error) {
	if l.TypeOf(idx) != lua.TypeTable {
		return nil, fmt.Errorf("shift returned %s, want list", lua.TypeNameOf(l, idx))
	}
	idx = l.AbsIndex(idx)

	out := make([]template.Shift, 0, l.RawLength(idx))
	for i := 1; i <= l.RawLength(idx); i++ {
		l.RawGetInt(idx, i)
		parent, _ := optString(l, l.AbsIndex(-1), "parent")
		shift, _ := optInt(l, l.AbsIndex(-1), "shift")
		l.Pop(1)
		if parent == "" {
			return nil, fmt.Errorf("shift %d: missing parent", i)
		}
		out = append(out, template.Shift{Parent: parent, Shift: shift})
	}

	return out, nil
}

// readTable reads a key -> label table.
func readTable(l *lua.State, idx int) (resource.Table, error) {
	if l.TypeOf(idx) != lua.TypeTable {
		return nil, fmt.Errorf("got %s, want table", lua.TypeNameOf(l, idx))
	}
	idx = l.AbsIndex(idx)

	out := resource.Table{}
	l.PushNil()
	for l.Next(idx) {
		k, ok := l.ToInteger(-2)
		if !ok || l.TypeOf(-2) != lua.TypeNumber {
			l.Pop(2)
			return nil, fmt.Errorf("non-integer key")
		}
		v, _ := l.ToString(-1)
		out[k] = v
		l.Pop(1)
	}

	return out, nil
}

func readSpans(l *lua.State, idx int) ([]resource.Span, error) {
	if l.TypeOf(idx) != lua.TypeTable {
		return nil, fmt.Errorf("spans: got %s, want list", lua.TypeNameOf(l, idx))
	}
	idx = l.AbsIndex(idx)

	out := make([]resource.Span, 0, l.RawLength(idx))
	for i := 1; i <= l.RawLength(idx); i++ {
		l.RawGetInt(idx, i)
		off, _ := optInt(l, l.AbsIndex(-1), "offset")
		n, _ := optInt(l, l.AbsIndex(-1), "length")
		l.Pop(1)
		out = append(out, resource.Span{Offset: off, Length: n})
	}

	return out, nil
}

func stringList(l *lua.State, idx int) []string {
	if l.TypeOf(idx) != lua.TypeTable {
		return nil
	}
	idx = l.AbsIndex(idx)

	var out []string
	for i := 1; i <= l.RawLength(idx); i++ {
		l.RawGetInt(idx, i)
		if s, ok := l.ToString(-1); ok {
			out = append(out, s)
		}
		l.Pop(1)
	}

	return out
}

func intList(l *lua.State, idx int) ([]int64, error) {
	if l.TypeOf(idx) != lua.TypeTable {
		return nil, fmt.Errorf("got %s, want list", lua.TypeNameOf(l, idx))
	}
	idx = l.AbsIndex(idx)

	out := make([]int64, 0, l.RawLength(idx))
	for i := 1; i <= l.RawLength(idx); i++ {
		l.RawGetInt(idx, i)
		n, ok := l.ToInteger(-1)
		l.Pop(1)
		if !ok {
			return nil, fmt.Errorf("element %d is not an integer", i)
		}
		out = append(out, int64(n))
	}

	return out, nil
}

func stringField(l *lua.State, idx int, key string) string {
	s, _ := optString(l, l.AbsIndex(idx), key)
	return s
}

func optString(l *lua.State, idx int, key string) (string, bool) {
	l.Field(idx, key)
	defer l.Pop(1)

	if l.TypeOf(-1) != lua.TypeString {
		return "", false
	}

	return l.ToString(-1)
}

func optInt(l *lua.State, idx int, key string) (int, bool) {
	l.Field(idx, key)
	defer l.Pop(1)

	if l.TypeOf(-1) != lua.TypeNumber {
		return 0, false
	}

	return l.ToInteger(-1)
}

func optNumber(l *lua.State, idx int, key string) (float64, bool) {
	l.Field(idx, key)
	defer l.Pop(1)

	if l.TypeOf(-1) != lua.TypeNumber {
		return 0, false
	}

	return l.ToNumber(-1)
}

func optBool(l *lua.State, idx int, key string) (bool, bool) {
	l.Field(idx, key)
	defer l.Pop(1)

	if l.TypeOf(-1) != lua.TypeBoolean {
		return false, false
	}

	return l.ToBoolean(-1), true
}
